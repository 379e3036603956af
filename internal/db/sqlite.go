package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = sql.ErrNoRows

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store and applies migrations
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS bots (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		runtime TEXT NOT NULL,
		main_file TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'stopped',
		pid INTEGER,
		memory TEXT NOT NULL DEFAULT '0MB',
		cpu TEXT NOT NULL DEFAULT '0%',
		uptime TEXT NOT NULL DEFAULT '',
		last_start DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS bot_files (
		id TEXT PRIMARY KEY,
		bot_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		content TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (bot_id, filename)
	);
	CREATE TABLE IF NOT EXISTS bot_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bot_id TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_bot_logs_bot_id ON bot_logs (bot_id, created_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateBot inserts a new bot record, assigning an id when absent.
func (s *SQLiteStore) CreateBot(bot *Bot) error {
	if bot.ID == "" {
		bot.ID = uuid.NewString()
	}
	if bot.Status == "" {
		bot.Status = StatusStopped
	}
	if bot.Memory == "" {
		bot.Memory = "0MB"
	}
	if bot.CPU == "" {
		bot.CPU = "0%"
	}
	now := time.Now()
	bot.CreatedAt = now
	bot.UpdatedAt = now

	query := `INSERT INTO bots (id, owner_id, name, runtime, main_file, token, status, pid, memory, cpu, uptime, last_start, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, bot.ID, bot.OwnerID, bot.Name, bot.Runtime, bot.MainFile, bot.Token,
		bot.Status, nullableInt(bot.PID), bot.Memory, bot.CPU, bot.Uptime, nullableTime(bot.LastStart), now, now)
	return err
}

// GetBot retrieves a bot by id.
func (s *SQLiteStore) GetBot(id string) (*Bot, error) {
	query := `SELECT id, owner_id, name, runtime, main_file, token, status, pid, memory, cpu, uptime, last_start, created_at, updated_at
		FROM bots WHERE id = ?`
	return scanBot(s.db.QueryRow(query, id))
}

// ListBots returns all bots owned by the given user; an empty owner id
// returns every bot.
func (s *SQLiteStore) ListBots(ownerID string) ([]Bot, error) {
	query := `SELECT id, owner_id, name, runtime, main_file, token, status, pid, memory, cpu, uptime, last_start, created_at, updated_at
		FROM bots WHERE owner_id = ? OR ? = '' ORDER BY created_at`
	rows, err := s.db.Query(query, ownerID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, *bot)
	}
	return bots, rows.Err()
}

// UpdateBot applies a partial update to a bot record.
func (s *SQLiteStore) UpdateBot(id string, patch BotPatch) error {
	sets, args := buildPatch(patch, "?")
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE bots SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// DeleteBot removes a bot and cascades to its files and logs.
func (s *SQLiteStore) DeleteBot(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM bot_files WHERE bot_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM bot_logs WHERE bot_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM bots WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// CountBotsByOwner returns the number of bots a user owns.
func (s *SQLiteStore) CountBotsByOwner(ownerID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM bots WHERE owner_id = ?`, ownerID).Scan(&count)
	return count, err
}

// CreateBotFile inserts a new source file for a bot.
func (s *SQLiteStore) CreateBotFile(file *BotFile) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	file.Size = int64(len(file.Content))
	now := time.Now()
	query := `INSERT INTO bot_files (id, bot_id, filename, content, size, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, file.ID, file.BotID, file.Filename, file.Content, file.Size, now, now)
	return err
}

// GetBotFiles returns all source files for a bot.
func (s *SQLiteStore) GetBotFiles(botID string) ([]BotFile, error) {
	query := `SELECT id, bot_id, filename, content, size, created_at, updated_at FROM bot_files WHERE bot_id = ? ORDER BY filename`
	rows, err := s.db.Query(query, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []BotFile
	for rows.Next() {
		var f BotFile
		if err := rows.Scan(&f.ID, &f.BotID, &f.Filename, &f.Content, &f.Size, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// UpdateBotFile replaces the content of an existing file.
func (s *SQLiteStore) UpdateBotFile(botID, filename, content string) error {
	query := `UPDATE bot_files SET content = ?, size = ?, updated_at = ? WHERE bot_id = ? AND filename = ?`
	res, err := s.db.Exec(query, content, int64(len(content)), time.Now(), botID, filename)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// CreateBotLog saves a new log record.
func (s *SQLiteStore) CreateBotLog(rec *BotLog) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query := `INSERT INTO bot_logs (bot_id, level, message, created_at) VALUES (?, ?, ?, ?)`
	res, err := s.db.Exec(query, rec.BotID, rec.Level, rec.Message, rec.CreatedAt)
	if err != nil {
		return err
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// GetBotLogs retrieves the most recent log records, newest first.
func (s *SQLiteStore) GetBotLogs(botID string, limit int) ([]BotLog, error) {
	query := `SELECT id, bot_id, level, message, created_at FROM bot_logs WHERE bot_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.db.Query(query, botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []BotLog
	for rows.Next() {
		var l BotLog
		if err := rows.Scan(&l.ID, &l.BotID, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (*Bot, error) {
	var bot Bot
	var pid sql.NullInt64
	var lastStart sql.NullTime
	err := row.Scan(&bot.ID, &bot.OwnerID, &bot.Name, &bot.Runtime, &bot.MainFile, &bot.Token,
		&bot.Status, &pid, &bot.Memory, &bot.CPU, &bot.Uptime, &lastStart, &bot.CreatedAt, &bot.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if pid.Valid {
		p := int(pid.Int64)
		bot.PID = &p
	}
	if lastStart.Valid {
		t := lastStart.Time
		bot.LastStart = &t
	}
	return &bot, nil
}

// buildPatch turns a BotPatch into SET clauses. placeholder is "?" for sqlite;
// postgres rewrites the clauses with ordinal markers afterwards.
func buildPatch(patch BotPatch, placeholder string) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = %s", col, placeholder))
		args = append(args, val)
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.MainFile != nil {
		add("main_file", *patch.MainFile)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.ClearPID {
		sets = append(sets, "pid = NULL")
	} else if patch.PID != nil {
		add("pid", *patch.PID)
	}
	if patch.Memory != nil {
		add("memory", *patch.Memory)
	}
	if patch.CPU != nil {
		add("cpu", *patch.CPU)
	}
	if patch.Uptime != nil {
		add("uptime", *patch.Uptime)
	}
	if patch.LastStart != nil {
		add("last_start", *patch.LastStart)
	}
	if len(sets) > 0 {
		add("updated_at", time.Now())
	}
	return sets, args
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
