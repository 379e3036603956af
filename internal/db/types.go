package db

import "time"

// Bot status values.
const (
	StatusStopped  = "stopped"
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusError    = "error"
)

// Supported runtimes.
const (
	RuntimePython = "python"
	RuntimeNode   = "nodejs"
)

// Bot is a hosted bot program owned by a user.
type Bot struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Name      string     `json:"name"`
	Runtime   string     `json:"runtime"` // "python" or "nodejs"
	MainFile  string     `json:"main_file,omitempty"`
	Token     string     `json:"-"` // bot credential, never serialized
	Status    string     `json:"status"`
	PID       *int       `json:"pid,omitempty"`
	Memory    string     `json:"memory"` // e.g. "42MB"
	CPU       string     `json:"cpu"`    // e.g. "3.1%"
	Uptime    string     `json:"uptime"`
	LastStart *time.Time `json:"last_start,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// Running is derived from the supervisor, never persisted.
	Running bool `json:"running"`
}

// BotFile is one source file belonging to a bot.
type BotFile struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id"`
	Filename  string    `json:"filename"`
	Content   string    `json:"content"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BotLog is a single captured log record for a bot.
type BotLog struct {
	ID        int64     `json:"id"`
	BotID     string    `json:"bot_id"`
	Level     string    `json:"level"` // "info", "warn", "error"
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// BotPatch is a partial update to a Bot record. Nil fields are left untouched.
// ClearPID clears the pid column independently of PID, which sets it.
type BotPatch struct {
	Name      *string
	MainFile  *string
	Status    *string
	PID       *int
	ClearPID  bool
	Memory    *string
	CPU       *string
	Uptime    *string
	LastStart *time.Time
}

// Store interface defines the methods for persistent storage
type Store interface {
	Close() error

	CreateBot(bot *Bot) error
	GetBot(id string) (*Bot, error)
	ListBots(ownerID string) ([]Bot, error) // empty owner id lists all bots
	UpdateBot(id string, patch BotPatch) error
	DeleteBot(id string) error // cascades to files and logs
	CountBotsByOwner(ownerID string) (int, error)

	CreateBotFile(file *BotFile) error
	GetBotFiles(botID string) ([]BotFile, error)
	UpdateBotFile(botID, filename, content string) error

	CreateBotLog(log *BotLog) error
	GetBotLogs(botID string, limit int) ([]BotLog, error) // newest first
}

// StrPtr is a convenience helper for building patches.
func StrPtr(s string) *string { return &s }

// IntPtr is a convenience helper for building patches.
func IntPtr(n int) *int { return &n }
