package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"bothive/internal/db"
)

// defaultAllowedExtensions is the launch-time allow-list. Uploads are
// filtered by the HTTP collaborator; the materializer enforces it again so a
// stale row can never reach disk.
var defaultAllowedExtensions = []string{
	".py", ".js", ".mjs", ".cjs", ".json", ".txt", ".md",
	".yml", ".yaml", ".env", ".cfg", ".ini", ".html", ".css",
}

// Materializer projects a bot's persisted files onto a per-bot directory,
// substituting the credential placeholder on the way.
type Materializer struct {
	Root        string
	allowedExts map[string]struct{}
}

// NewMaterializer creates a materializer rooted at the given directory.
func NewMaterializer(root string) *Materializer {
	exts := make(map[string]struct{}, len(defaultAllowedExtensions))
	for _, e := range defaultAllowedExtensions {
		exts[e] = struct{}{}
	}
	return &Materializer{Root: root, allowedExts: exts}
}

// Path returns the workspace directory for a bot.
func (m *Materializer) Path(botID string) string {
	return filepath.Join(m.Root, botID)
}

// Materialize writes one file per BotFile under {root}/{bot_id}, creating
// missing ancestors. The persisted rows keep the placeholder; only the
// on-disk copies carry the substituted secret.
func (m *Materializer) Materialize(bot *db.Bot, files []db.BotFile) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("%w: bot %s has no files", ErrWorkspace, bot.ID)
	}

	dir := m.Path(bot.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWorkspace, err)
	}

	for _, f := range files {
		rel, err := m.safeRelPath(f.Filename)
		if err != nil {
			return "", err
		}

		target := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrWorkspace, err)
		}

		content := SubstituteToken(f.Content, bot.Token)
		if err := os.WriteFile(target, []byte(content), 0644); err != nil {
			return "", fmt.Errorf("%w: %v", ErrWorkspace, err)
		}
	}

	return dir, nil
}

// Remove deletes a bot's workspace recursively. Best-effort: failure is
// logged, never propagated.
func (m *Materializer) Remove(botID string) {
	if err := os.RemoveAll(m.Path(botID)); err != nil {
		slog.Warn("failed to remove workspace", "bot_id", botID, "error", err)
	}
}

// safeRelPath rejects absolute paths, traversal, and unknown extensions.
func (m *Materializer) safeRelPath(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: invalid filename %q", ErrWorkspace, name)
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: path traversal in filename %q", ErrWorkspace, name)
	}
	ext := strings.ToLower(filepath.Ext(clean))
	if _, ok := m.allowedExts[ext]; !ok {
		return "", fmt.Errorf("%w: extension %q not allowed for %q", ErrWorkspace, ext, name)
	}
	return clean, nil
}

// tokenIdioms are the placeholder and environment-access forms replaced at
// materialization time. Users routinely publish sample code with placeholder
// tokens; substituting here keeps the secret out of the child's environment
// lookups and tolerates the common template patterns.
var tokenIdioms = []string{
	`os.environ["DISCORD_TOKEN"]`,
	`os.environ['DISCORD_TOKEN']`,
	`os.getenv("DISCORD_TOKEN")`,
	`os.getenv('DISCORD_TOKEN')`,
	`process.env.DISCORD_TOKEN`,
	`process.env["DISCORD_TOKEN"]`,
	`process.env['DISCORD_TOKEN']`,
	`process.env.BOT_TOKEN`,
	`process.env["BOT_TOKEN"]`,
	`process.env['BOT_TOKEN']`,
	`process.env.TOKEN`,
	`"YOUR_BOT_TOKEN"`,
	`'YOUR_BOT_TOKEN'`,
	`YOUR_BOT_TOKEN`,
}

// SubstituteToken replaces every recognized credential idiom with a
// double-quoted literal of the credential. The bare placeholder is last so
// the quoted variants are rewritten whole.
func SubstituteToken(content, token string) string {
	quoted := `"` + token + `"`
	for _, idiom := range tokenIdioms {
		content = strings.ReplaceAll(content, idiom, quoted)
	}
	return content
}
