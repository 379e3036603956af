package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"bothive/internal/db"
	"bothive/internal/events"
	"bothive/internal/metrics"
	"bothive/internal/notify"
	"bothive/internal/radar"
)

// Config carries the engine's collaborators and tunables.
type Config struct {
	Store    db.Store
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Notifier *notify.Manager

	WorkspaceRoot string
	Limits        radar.Limits
	Runtimes      map[string]RuntimeSpec

	PipTimeout     time.Duration
	NpmTimeout     time.Duration
	SampleInterval time.Duration
	StopGrace      time.Duration
	RestartDelay   time.Duration
	LogHistory     int
}

// ConfigFromViper builds a Config from the loaded configuration. Store and
// Bus still need to be supplied by the caller.
func ConfigFromViper() Config {
	return Config{
		WorkspaceRoot: viper.GetString("workspace_root"),
		Limits: radar.Limits{
			MemoryMaxMB: viper.GetFloat64("memory_max"),
			CPUQuota:    viper.GetFloat64("cpu_quota"),
		},
		Runtimes:       DefaultRuntimes(),
		PipTimeout:     time.Duration(viper.GetInt("pip_timeout")) * time.Second,
		NpmTimeout:     time.Duration(viper.GetInt("npm_timeout")) * time.Second,
		SampleInterval: time.Duration(viper.GetInt("sample_interval")) * time.Second,
		StopGrace:      time.Duration(viper.GetInt("stop_grace")) * time.Second,
		RestartDelay:   time.Duration(viper.GetInt("restart_delay")) * time.Second,
		LogHistory:     viper.GetInt("log_history"),
	}
}

// Engine is the facade the HTTP collaborator calls. Lifecycle operations for
// the same bot serialize on a per-bot lock; different bots proceed in
// parallel.
type Engine struct {
	store    db.Store
	bus      *events.Bus
	metrics  *metrics.Metrics
	notifier *notify.Manager

	sup      *Supervisor
	scanner  *radar.StaticScanner
	mat      *Materializer
	inf      *Inferencer
	inst     *Installer
	runtimes map[string]RuntimeSpec

	restartDelay time.Duration
	logHistory   int

	locks sync.Map // bot id -> *sync.Mutex
}

// New creates an engine and its supervisor.
func New(cfg Config) *Engine {
	if cfg.Runtimes == nil {
		cfg.Runtimes = DefaultRuntimes()
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 100
	}

	e := &Engine{
		store:        cfg.Store,
		bus:          cfg.Bus,
		metrics:      cfg.Metrics,
		notifier:     cfg.Notifier,
		scanner:      radar.NewStaticScanner(),
		mat:          NewMaterializer(cfg.WorkspaceRoot),
		inf:          NewInferencer(),
		inst:         NewInstaller(cfg.PipTimeout, cfg.NpmTimeout),
		runtimes:     cfg.Runtimes,
		restartDelay: cfg.RestartDelay,
		logHistory:   cfg.LogHistory,
	}
	e.sup = NewSupervisor(cfg.Store, cfg.Bus, cfg.Metrics, cfg.Limits, cfg.SampleInterval, cfg.StopGrace)
	if cfg.Notifier != nil {
		e.sup.SetAlertFunc(func(event, message string) {
			cfg.Notifier.Alert(context.Background(), event, message)
		})
	}
	return e
}

// Supervisor exposes the supervisor for shutdown handling.
func (e *Engine) Supervisor() *Supervisor { return e.sup }

// IsRunning reports whether the bot has a live process handle.
func (e *Engine) IsRunning(botID string) bool { return e.sup.IsRunning(botID) }

func (e *Engine) lock(botID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(botID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// authorize fetches the bot and verifies ownership.
func (e *Engine) authorize(userID, botID string) (*db.Bot, error) {
	bot, err := e.store.GetBot(botID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if bot.OwnerID != userID {
		return nil, ErrForbidden
	}
	return bot, nil
}

// Start launches the bot: static risk scan, workspace materialization,
// manifest synthesis, best-effort dependency install, then spawn.
func (e *Engine) Start(ctx context.Context, userID, botID string) Result {
	mu := e.lock(botID)
	mu.Lock()
	defer mu.Unlock()
	return e.startLocked(ctx, userID, botID)
}

func (e *Engine) startLocked(ctx context.Context, userID, botID string) Result {
	bot, err := e.authorize(userID, botID)
	if err != nil {
		return e.startFailed("denied", Result{OK: false, Message: err.Error()})
	}

	if e.sup.IsRunning(botID) {
		return e.startFailed("already_running", Result{OK: false, Message: "Bot is already running"})
	}

	e.setStatus(bot, db.StatusStarting, db.BotPatch{Status: db.StrPtr(db.StatusStarting)})

	if bot.Token == "" {
		return e.failStart(bot, "validation", "Bot has no credential configured")
	}
	rt, ok := e.runtimes[bot.Runtime]
	if !ok {
		return e.failStart(bot, "validation", fmt.Sprintf("Unsupported runtime %q", bot.Runtime))
	}

	files, err := e.store.GetBotFiles(botID)
	if err != nil {
		return e.failStart(bot, "error", fmt.Sprintf("Failed to load bot files: %v", err))
	}

	// Static RADAR runs before anything touches disk.
	contents := make(map[string]string, len(files))
	for _, f := range files {
		contents[f.Filename] = f.Content
	}
	report := e.scanner.Scan(contents)
	if report.Suspicious {
		if e.metrics != nil {
			e.metrics.StaticVetoes.Inc()
		}
		msg := fmt.Sprintf("RADAR: start vetoed (score %d): %s", report.Score, report.FirstReason())
		if e.notifier != nil {
			e.notifier.Alert(ctx, notify.EventVeto, fmt.Sprintf("bot %s: %s", botID, msg))
		}
		return e.failStart(bot, "veto", msg)
	}

	workspace, err := e.mat.Materialize(bot, files)
	if err != nil {
		return e.failStart(bot, "workspace_error", err.Error())
	}

	if _, err := e.inf.EnsureManifest(workspace, rt); err != nil {
		// Manifest synthesis is best-effort, like the install itself.
		slog.Warn("manifest synthesis failed", "bot_id", botID, "error", err)
	}

	logf := func(level, line string) {
		e.recordLog(bot, level, line)
	}
	if err := e.inst.Install(ctx, workspace, rt, logf); err != nil {
		// Not fatal: the program may rely on pre-installed libraries.
		if e.metrics != nil {
			e.metrics.InstallFailures.Inc()
		}
		slog.Warn("dependency installation failed", "bot_id", botID, "error", err)
		e.recordLog(bot, "warn", fmt.Sprintf("Dependency installation failed: %v", err))
	}

	mainFile, err := resolveMain(workspace, bot, rt)
	if err != nil {
		return e.failStart(bot, "validation", err.Error())
	}

	h, err := e.sup.Spawn(bot, rt, workspace, mainFile)
	if err != nil {
		return e.failStart(bot, "spawn_error", err.Error())
	}

	now := time.Now()
	if err := e.store.UpdateBot(botID, db.BotPatch{PID: db.IntPtr(h.PID), LastStart: &now}); err != nil {
		slog.Warn("failed to persist pid", "bot_id", botID, "error", err)
	}

	if e.metrics != nil {
		e.metrics.StartsTotal.WithLabelValues("ok").Inc()
	}
	return Result{OK: true, Message: "Bot started"}
}

// Stop terminates the bot if running and always lands it on stopped.
func (e *Engine) Stop(ctx context.Context, userID, botID string) Result {
	mu := e.lock(botID)
	mu.Lock()
	defer mu.Unlock()
	return e.stopLocked(userID, botID)
}

func (e *Engine) stopLocked(userID, botID string) Result {
	bot, err := e.authorize(userID, botID)
	if err != nil {
		return Result{OK: false, Message: err.Error()}
	}

	if !e.sup.Stop(botID) {
		// No process: just make sure the persisted state agrees.
		if bot.Status != db.StatusStopped {
			e.setStatus(bot, db.StatusStopped, db.BotPatch{
				Status:   db.StrPtr(db.StatusStopped),
				ClearPID: true,
				Memory:   db.StrPtr("0MB"),
				CPU:      db.StrPtr("0%"),
				Uptime:   db.StrPtr(""),
			})
		}
	}

	e.mat.Remove(botID)
	return Result{OK: true, Message: "Bot stopped"}
}

// Restart stops the bot, waits briefly, and starts it again, surfacing the
// start result.
func (e *Engine) Restart(ctx context.Context, userID, botID string) Result {
	mu := e.lock(botID)
	mu.Lock()
	defer mu.Unlock()

	if res := e.stopLocked(userID, botID); !res.OK {
		return res
	}
	time.Sleep(e.restartDelay)
	return e.startLocked(ctx, userID, botID)
}

// Delete stops the bot if running, then removes its files, logs, and record.
func (e *Engine) Delete(ctx context.Context, userID, botID string) Result {
	mu := e.lock(botID)
	mu.Lock()
	defer mu.Unlock()

	bot, err := e.authorize(userID, botID)
	if err != nil {
		return Result{OK: false, Message: err.Error()}
	}

	e.sup.Stop(botID)
	e.mat.Remove(botID)

	if err := e.store.DeleteBot(botID); err != nil {
		return Result{OK: false, Message: fmt.Sprintf("failed to delete bot: %v", err)}
	}
	e.bus.BroadcastStatus(bot.OwnerID, events.StatusMessage{Type: "bot_deleted", BotID: botID})
	return Result{OK: true, Message: "Bot deleted"}
}

// ReadLogs returns the most recent log records, newest first.
func (e *Engine) ReadLogs(userID, botID string, limit int) ([]db.BotLog, error) {
	if _, err := e.authorize(userID, botID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.logHistory
	}
	return e.store.GetBotLogs(botID, limit)
}

// UpdateFile replaces the content of an existing bot file.
func (e *Engine) UpdateFile(userID, botID, filename, content string) Result {
	if _, err := e.authorize(userID, botID); err != nil {
		return Result{OK: false, Message: err.Error()}
	}

	if err := e.store.UpdateBotFile(botID, filename, content); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return Result{OK: false, Message: fmt.Sprintf("unknown filename %q", filename)}
		}
		return Result{OK: false, Message: err.Error()}
	}
	return Result{OK: true, Message: "File updated"}
}

// failStart records the failure, lands the bot on error, and returns the
// user-facing result.
func (e *Engine) failStart(bot *db.Bot, metric, message string) Result {
	e.recordLog(bot, "error", message)
	e.setStatus(bot, db.StatusError, db.BotPatch{
		Status:   db.StrPtr(db.StatusError),
		ClearPID: true,
		Memory:   db.StrPtr("0MB"),
		CPU:      db.StrPtr("0%"),
	})
	return e.startFailed(metric, Result{OK: false, Message: message})
}

func (e *Engine) startFailed(metric string, res Result) Result {
	if e.metrics != nil {
		e.metrics.StartsTotal.WithLabelValues(metric).Inc()
	}
	return res
}

// setStatus persists the patch, then broadcasts. Write before push, always.
func (e *Engine) setStatus(bot *db.Bot, status string, patch db.BotPatch) {
	if err := e.store.UpdateBot(bot.ID, patch); err != nil {
		slog.Warn("failed to persist status", "bot_id", bot.ID, "status", status, "error", err)
	}
	e.bus.BroadcastStatus(bot.OwnerID, events.StatusMessage{
		Type:   "bot_status_update",
		BotID:  bot.ID,
		Status: status,
	})
}

// recordLog persists a record, then pushes it to live consoles. The
// credential is stripped first: package tools echo manifest lines verbatim,
// and a materialized manifest can carry the substituted secret.
func (e *Engine) recordLog(bot *db.Bot, level, message string) {
	if bot.Token != "" {
		message = strings.ReplaceAll(message, bot.Token, "[redacted]")
	}
	rec := &db.BotLog{BotID: bot.ID, Level: level, Message: message}
	if err := e.store.CreateBotLog(rec); err != nil {
		slog.Debug("failed to persist log record", "bot_id", bot.ID, "error", err)
	}
	source := "engine"
	e.bus.PublishLog(bot.ID, events.LogMessage{Level: level, Message: message, Source: source})
}
