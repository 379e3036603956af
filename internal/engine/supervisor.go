package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"bothive/internal/db"
	"bothive/internal/events"
	"bothive/internal/metrics"
	"bothive/internal/radar"
)

// Handle is the in-memory record of a spawned child: its pid, stream
// readers, and the sampler cancellation token. Owned exclusively by the
// Supervisor; at most one exists per bot id.
type Handle struct {
	BotID   string
	OwnerID string
	PID     int

	cmd           *exec.Cmd
	token         string
	startedAt     time.Time
	cancelSampler context.CancelFunc
	done          chan struct{} // closed after the exit observer completes
	stopRequested atomic.Bool
}

// Supervisor spawns bot processes, observes their streams, and enforces
// termination semantics. All handle-map mutation goes through register and
// unregister under the lock.
type Supervisor struct {
	store   db.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	limits  radar.Limits

	sampleInterval time.Duration
	stopGrace      time.Duration

	// alert, if set, receives abuse-kill notifications (event, message).
	alert func(event, message string)

	// usage reports CPU percent and resident memory for a pid. Replaced in
	// tests to drive the runtime quota check.
	usage func(pid int) (radar.Usage, error)

	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewSupervisor creates a supervisor with the given collaborators.
func NewSupervisor(store db.Store, bus *events.Bus, m *metrics.Metrics, limits radar.Limits, sampleInterval, stopGrace time.Duration) *Supervisor {
	return &Supervisor{
		store:          store,
		bus:            bus,
		metrics:        m,
		limits:         limits,
		sampleInterval: sampleInterval,
		stopGrace:      stopGrace,
		usage:          sampleProcess,
		handles:        make(map[string]*Handle),
	}
}

// SetAlertFunc wires an operator alert sink.
func (s *Supervisor) SetAlertFunc(fn func(event, message string)) {
	s.alert = fn
}

// IsRunning reports whether a process handle is registered for the bot.
func (s *Supervisor) IsRunning(botID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handles[botID]
	return ok
}

// RunningBots returns the ids of all supervised bots.
func (s *Supervisor) RunningBots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	return ids
}

// Spawn launches the bot's main file inside the workspace and attaches the
// stream observers, exit observer, and resource sampler.
func (s *Supervisor) Spawn(bot *db.Bot, rt RuntimeSpec, workspace, mainFile string) (*Handle, error) {
	argv := append(append([]string{}, rt.Args...), mainFile)
	cmd := exec.Command(rt.Binary, argv...)
	cmd.Dir = workspace
	cmd.Env = append(os.Environ(),
		"DISCORD_TOKEN="+bot.Token,
		"BOT_ID="+bot.ID,
	)
	cmd.Env = append(cmd.Env, rt.ExtraEnv...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	s.mu.Lock()
	if _, exists := s.handles[bot.ID]; exists {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	samplerCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		BotID:         bot.ID,
		OwnerID:       bot.OwnerID,
		PID:           cmd.Process.Pid,
		cmd:           cmd,
		token:         bot.Token,
		startedAt:     time.Now(),
		cancelSampler: cancel,
		done:          make(chan struct{}),
	}
	s.handles[bot.ID] = h
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.BotsRunning.Inc()
	}
	slog.Info("bot process spawned", "bot_id", bot.ID, "pid", h.PID, "runtime", rt.Tag, "main", mainFile)

	go s.observeStream(h, stdout, "info")
	go s.observeStream(h, stderr, "error")
	go s.observeExit(h)
	go s.runSampler(samplerCtx, h)

	return h, nil
}

// Stop terminates the bot's process: graceful signal, bounded wait, then a
// forceful kill. Returns false when no handle exists.
func (s *Supervisor) Stop(botID string) bool {
	s.mu.RLock()
	h, ok := s.handles[botID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	h.stopRequested.Store(true)
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		slog.Debug("graceful signal failed", "bot_id", botID, "error", err)
	}

	select {
	case <-h.done:
	case <-time.After(s.stopGrace):
		slog.Warn("graceful stop timed out, killing", "bot_id", botID, "pid", h.PID)
		_ = h.cmd.Process.Kill()
		<-h.done
	}

	if s.metrics != nil {
		s.metrics.StopsTotal.Inc()
	}
	return true
}

// StopAll stops every supervised bot; used on shutdown.
func (s *Supervisor) StopAll() {
	for _, id := range s.RunningBots() {
		s.Stop(id)
	}
}

// observeStream classifies each captured line, persists it, republishes it to
// live consoles, and applies the readiness and token-failure markers.
func (s *Supervisor) observeStream(h *Handle, r io.Reader, level string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = s.redact(h, line)
		s.recordLog(h, level, line)

		if level == "info" && containsAny(line, readyMarkers) {
			s.promoteIfStarting(h)
		}
		if level == "error" && containsAny(line, fatalMarkers) {
			s.setStatus(h, db.StatusError, db.BotPatch{Status: db.StrPtr(db.StatusError)})
		}
	}
}

// observeExit waits for process exit, removes the handle before any status
// write, and persists the final state.
func (s *Supervisor) observeExit(h *Handle) {
	err := h.cmd.Wait()

	s.mu.Lock()
	delete(s.handles, h.BotID)
	s.mu.Unlock()
	h.cancelSampler()
	if s.metrics != nil {
		s.metrics.BotsRunning.Dec()
	}

	exitCode := 0
	if err != nil {
		exitCode = -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
	}

	status := db.StatusError
	if exitCode == 0 || h.stopRequested.Load() {
		status = db.StatusStopped
	}
	slog.Info("bot process exited", "bot_id", h.BotID, "exit_code", exitCode, "status", status)

	s.setStatus(h, status, db.BotPatch{
		Status:   db.StrPtr(status),
		ClearPID: true,
		Memory:   db.StrPtr("0MB"),
		CPU:      db.StrPtr("0%"),
		Uptime:   db.StrPtr(""),
	})
	close(h.done)
}

// promoteIfStarting transitions starting → running on the readiness marker.
// Later markers on an already-running bot are no-ops.
func (s *Supervisor) promoteIfStarting(h *Handle) {
	bot, err := s.store.GetBot(h.BotID)
	if err != nil || bot.Status != db.StatusStarting {
		return
	}
	s.setStatus(h, db.StatusRunning, db.BotPatch{Status: db.StrPtr(db.StatusRunning)})
}

// setStatus persists the patch, then broadcasts the transition. The write
// always precedes the push.
func (s *Supervisor) setStatus(h *Handle, status string, patch db.BotPatch) {
	if err := s.store.UpdateBot(h.BotID, patch); err != nil {
		slog.Warn("failed to persist status", "bot_id", h.BotID, "status", status, "error", err)
	}
	s.bus.BroadcastStatus(h.OwnerID, events.StatusMessage{
		Type:   "bot_status_update",
		BotID:  h.BotID,
		Status: status,
	})
}

// recordLog persists a log record, then pushes it to live consoles. Both are
// best-effort and never interrupt the observer.
func (s *Supervisor) recordLog(h *Handle, level, message string) {
	rec := &db.BotLog{BotID: h.BotID, Level: level, Message: message}
	if err := s.store.CreateBotLog(rec); err != nil {
		slog.Debug("failed to persist log record", "bot_id", h.BotID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.LogRecordsTotal.WithLabelValues(level).Inc()
	}
	source := "stdout"
	if level == "error" {
		source = "stderr"
	}
	s.bus.PublishLog(h.BotID, events.LogMessage{Level: level, Message: message, Source: source})
}

// redact strips the bot credential from a captured line. User code that
// echoes its environment must never leak the secret into logs.
func (s *Supervisor) redact(h *Handle, line string) string {
	if h.token == "" {
		return line
	}
	return strings.ReplaceAll(line, h.token, "[redacted]")
}

func containsAny(line string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}
