package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bothive/internal/db"
)

// resolveMain picks the file to launch: the stored main filename when it
// exists in the workspace, else the first of the runtime's preferred names,
// else the first file with the runtime's extension.
func resolveMain(workspace string, bot *db.Bot, rt RuntimeSpec) (string, error) {
	if bot.MainFile != "" {
		if _, err := os.Stat(filepath.Join(workspace, bot.MainFile)); err == nil {
			return bot.MainFile, nil
		}
	}

	for _, name := range rt.PreferredMains {
		if _, err := os.Stat(filepath.Join(workspace, name)); err == nil {
			return name, nil
		}
	}

	var candidates []string
	err := filepath.WalkDir(workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, want := range rt.Extensions {
			if ext == want {
				rel, relErr := filepath.Rel(workspace, path)
				if relErr == nil {
					candidates = append(candidates, rel)
				}
				break
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to scan workspace: %v", ErrValidation, err)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no %s entry file found", ErrValidation, rt.Tag)
	}
	sort.Strings(candidates)
	return candidates[0], nil
}
