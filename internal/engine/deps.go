package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bothive/internal/db"
)

// pinMarker maps import substrings found in user code to a dependency pin.
type pinMarker struct {
	Substrings []string
	Name       string
	Version    string
}

// pythonMarkers drive requirements.txt synthesis. Matched per lower-cased line.
var pythonMarkers = []pinMarker{
	{Substrings: []string{"discord.py", "import discord", "from discord"}, Name: "discord.py", Version: ">=2.3.0"},
	{Substrings: []string{"aiohttp"}, Name: "aiohttp", Version: ">=3.8.0"},
	{Substrings: []string{"requests"}, Name: "requests", Version: ">=2.28.0"},
	{Substrings: []string{"dotenv", "python-dotenv"}, Name: "python-dotenv", Version: ">=0.19.0"},
	{Substrings: []string{"pymysql", "mysql"}, Name: "pymysql", Version: ">=1.0.0"},
	{Substrings: []string{"psycopg", "postgres"}, Name: "psycopg2-binary", Version: ">=2.9.0"},
}

// nodeMarkers drive package.json synthesis.
var nodeMarkers = []pinMarker{
	{Substrings: []string{"discord.js"}, Name: "discord.js", Version: "^14.14.1"},
	{Substrings: []string{"@discordjs/builders"}, Name: "@discordjs/builders", Version: "^1.7.0"},
	{Substrings: []string{"@discordjs/rest"}, Name: "@discordjs/rest", Version: "^2.2.0"},
	{Substrings: []string{"@discordjs/voice"}, Name: "@discordjs/voice", Version: "^0.16.1"},
	{Substrings: []string{"dotenv"}, Name: "dotenv", Version: "^16.3.1"},
	{Substrings: []string{"axios"}, Name: "axios", Version: "^1.6.0"},
	{Substrings: []string{"fs-extra"}, Name: "fs-extra", Version: "^11.2.0"},
	{Substrings: []string{"moment"}, Name: "moment", Version: "^2.29.4"},
	{Substrings: []string{"lodash"}, Name: "lodash", Version: "^4.17.21"},
	{Substrings: []string{"sqlite"}, Name: "sqlite3", Version: "^5.1.6"},
	{Substrings: []string{"mysql"}, Name: "mysql2", Version: "^3.6.5"},
	{Substrings: []string{"mongodb", "mongoose"}, Name: "mongodb", Version: "^6.3.0"},
}

var (
	pythonBaseline = pinMarker{Name: "discord.py", Version: ">=2.3.0"}
	nodeBaseline   = pinMarker{Name: "discord.js", Version: "^14.14.1"}
)

// Inferencer synthesizes a dependency manifest when the user did not supply
// one, by scanning workspace files for recognized import markers.
type Inferencer struct {
	PythonMarkers []pinMarker
	NodeMarkers   []pinMarker
}

// NewInferencer creates an inferencer with the default marker tables.
func NewInferencer() *Inferencer {
	return &Inferencer{PythonMarkers: pythonMarkers, NodeMarkers: nodeMarkers}
}

// EnsureManifest writes the runtime's manifest into the workspace when it is
// absent. Returns true when a manifest was synthesized. A workspace with no
// runtime files produces no manifest.
func (inf *Inferencer) EnsureManifest(workspace string, rt RuntimeSpec) (bool, error) {
	manifestPath := filepath.Join(workspace, rt.Manifest)
	if _, err := os.Stat(manifestPath); err == nil {
		return false, nil
	}

	sources, err := readRuntimeFiles(workspace, rt.Extensions)
	if err != nil {
		return false, err
	}
	if len(sources) == 0 {
		return false, nil
	}

	var content string
	switch rt.Tag {
	case db.RuntimePython:
		content = inf.pythonManifest(sources)
	case db.RuntimeNode:
		content, err = inf.nodeManifest(sources)
		if err != nil {
			return false, err
		}
	default:
		return false, nil
	}

	if err := os.WriteFile(manifestPath, []byte(content), 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", rt.Manifest, err)
	}
	return true, nil
}

func (inf *Inferencer) pythonManifest(sources []string) string {
	pins := matchMarkers(sources, inf.PythonMarkers)
	if len(pins) == 0 {
		pins = []pinMarker{pythonBaseline}
	}

	var sb strings.Builder
	for _, p := range pins {
		sb.WriteString(p.Name + p.Version + "\n")
	}
	return sb.String()
}

func (inf *Inferencer) nodeManifest(sources []string) (string, error) {
	pins := matchMarkers(sources, inf.NodeMarkers)
	if len(pins) == 0 {
		pins = []pinMarker{nodeBaseline}
	}

	deps := make(map[string]string, len(pins))
	for _, p := range pins {
		deps[p.Name] = p.Version
	}

	manifest := struct {
		Name         string            `json:"name"`
		Version      string            `json:"version"`
		Main         string            `json:"main"`
		Dependencies map[string]string `json:"dependencies"`
	}{
		Name:         "discord-bot",
		Version:      "1.0.0",
		Main:         "index.js",
		Dependencies: deps,
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode package.json: %w", err)
	}
	return string(data) + "\n", nil
}

// matchMarkers scans every source line lower-cased and returns the matched
// pins in marker-table order, deduplicated.
func matchMarkers(sources []string, markers []pinMarker) []pinMarker {
	seen := make(map[string]bool)
	var pins []pinMarker

	for _, src := range sources {
		for _, line := range strings.Split(strings.ToLower(src), "\n") {
			for _, m := range markers {
				if seen[m.Name] {
					continue
				}
				for _, sub := range m.Substrings {
					if strings.Contains(line, sub) {
						seen[m.Name] = true
						pins = append(pins, m)
						break
					}
				}
			}
		}
	}

	// Stable order: marker table order, not encounter order.
	ordered := make([]pinMarker, 0, len(pins))
	for _, m := range markers {
		if seen[m.Name] {
			ordered = append(ordered, m)
		}
	}
	return ordered
}

// readRuntimeFiles collects the contents of workspace files matching the
// runtime's extensions, walking subdirectories.
func readRuntimeFiles(workspace string, extensions []string) ([]string, error) {
	var sources []string
	err := filepath.WalkDir(workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, want := range extensions {
			if ext == want {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				sources = append(sources, string(data))
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan workspace: %w", err)
	}
	return sources, nil
}
