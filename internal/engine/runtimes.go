package engine

import "bothive/internal/db"

// RuntimeSpec describes how to launch and provision one supported runtime.
// The tables are data so tests can substitute a stub runtime.
type RuntimeSpec struct {
	Tag            string
	Binary         string
	Args           []string // argv between the binary and the main file
	Extensions     []string
	Manifest       string // dependency manifest filename
	PreferredMains []string
	ExtraEnv       []string
}

// DefaultRuntimes returns the python and nodejs launch tables.
func DefaultRuntimes() map[string]RuntimeSpec {
	return map[string]RuntimeSpec{
		db.RuntimePython: {
			Tag:            db.RuntimePython,
			Binary:         "python3",
			Args:           []string{"-u"},
			Extensions:     []string{".py"},
			Manifest:       "requirements.txt",
			PreferredMains: []string{"main.py", "bot.py", "app.py", "run.py", "__main__.py", "start.py"},
			ExtraEnv:       []string{"PYTHONUNBUFFERED=1"},
		},
		db.RuntimeNode: {
			Tag:            db.RuntimeNode,
			Binary:         "node",
			Extensions:     []string{".js", ".mjs", ".cjs"},
			Manifest:       "package.json",
			PreferredMains: []string{"index.js", "main.js", "app.js", "bot.js", "start.js", "server.js"},
		},
	}
}

// Output markers checked against each captured line. Order is not
// significant; the first hit wins.
var (
	readyMarkers = []string{"Logged in as", "Bot is ready", "Successfully logged in"}
	fatalMarkers = []string{"LoginFailure", "Improper token", "Unauthorized", "Invalid token"}
)
