package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store and applies migrations
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bots (
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
			last_start TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS bot_files (
			id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			content TEXT NOT NULL,
			size BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (bot_id, filename)
		);`,
		`CREATE TABLE IF NOT EXISTS bot_logs (
			id BIGSERIAL PRIMARY KEY,
			bot_id TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_logs_bot_id ON bot_logs (bot_id, created_at);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateBot inserts a new bot record, assigning an id when absent.
func (s *PostgresStore) CreateBot(bot *Bot) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := s.db.Exec(query, bot.ID, bot.OwnerID, bot.Name, bot.Runtime, bot.MainFile, bot.Token,
		bot.Status, nullableInt(bot.PID), bot.Memory, bot.CPU, bot.Uptime, nullableTime(bot.LastStart), now, now)
	return err
}

// GetBot retrieves a bot by id.
func (s *PostgresStore) GetBot(id string) (*Bot, error) {
	query := `SELECT id, owner_id, name, runtime, main_file, token, status, pid, memory, cpu, uptime, last_start, created_at, updated_at
		FROM bots WHERE id = $1`
	return scanBot(s.db.QueryRow(query, id))
}

// ListBots returns all bots owned by the given user; an empty owner id
// returns every bot.
func (s *PostgresStore) ListBots(ownerID string) ([]Bot, error) {
	query := `SELECT id, owner_id, name, runtime, main_file, token, status, pid, memory, cpu, uptime, last_start, created_at, updated_at
		FROM bots WHERE owner_id = $1 OR $1 = '' ORDER BY created_at`
	rows, err := s.db.Query(query, ownerID)
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
func (s *PostgresStore) UpdateBot(id string, patch BotPatch) error {
	sets, args := buildPatch(patch, "?")
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := ordinalize(fmt.Sprintf("UPDATE bots SET %s WHERE id = ?", strings.Join(sets, ", ")))
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
func (s *PostgresStore) DeleteBot(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM bot_files WHERE bot_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM bot_logs WHERE bot_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM bots WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// CountBotsByOwner returns the number of bots a user owns.
func (s *PostgresStore) CountBotsByOwner(ownerID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM bots WHERE owner_id = $1`, ownerID).Scan(&count)
	return count, err
}

// CreateBotFile inserts a new source file for a bot.
func (s *PostgresStore) CreateBotFile(file *BotFile) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	file.Size = int64(len(file.Content))
	now := time.Now()
	query := `INSERT INTO bot_files (id, bot_id, filename, content, size, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.Exec(query, file.ID, file.BotID, file.Filename, file.Content, file.Size, now, now)
	return err
}

// GetBotFiles returns all source files for a bot.
func (s *PostgresStore) GetBotFiles(botID string) ([]BotFile, error) {
	query := `SELECT id, bot_id, filename, content, size, created_at, updated_at FROM bot_files WHERE bot_id = $1 ORDER BY filename`
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
func (s *PostgresStore) UpdateBotFile(botID, filename, content string) error {
	query := `UPDATE bot_files SET content = $1, size = $2, updated_at = $3 WHERE bot_id = $4 AND filename = $5`
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
func (s *PostgresStore) CreateBotLog(rec *BotLog) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query := `INSERT INTO bot_logs (bot_id, level, message, created_at) VALUES ($1, $2, $3, $4) RETURNING id`
	return s.db.QueryRow(query, rec.BotID, rec.Level, rec.Message, rec.CreatedAt).Scan(&rec.ID)
}

// GetBotLogs retrieves the most recent log records, newest first.
func (s *PostgresStore) GetBotLogs(botID string, limit int) ([]BotLog, error) {
	query := `SELECT id, bot_id, level, message, created_at FROM bot_logs WHERE bot_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
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

// ordinalize rewrites "?" placeholders into $1..$n for postgres.
func ordinalize(query string) string {
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
