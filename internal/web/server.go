package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bothive/internal/db"
	"bothive/internal/engine"
	"bothive/internal/events"
	"bothive/internal/metrics"
)

// BotEngine is the lifecycle surface the HTTP layer drives.
type BotEngine interface {
	Start(ctx context.Context, userID, botID string) engine.Result
	Stop(ctx context.Context, userID, botID string) engine.Result
	Restart(ctx context.Context, userID, botID string) engine.Result
	Delete(ctx context.Context, userID, botID string) engine.Result
	ReadLogs(userID, botID string, limit int) ([]db.BotLog, error)
	UpdateFile(userID, botID, filename, content string) engine.Result
	IsRunning(botID string) bool
}

// Server exposes the REST API, the live websocket feeds, and /metrics.
type Server struct {
	store      db.Store
	eng        BotEngine
	bus        *events.Bus
	metrics    *metrics.Metrics
	logHistory int
	maxBots    int

	upgrader websocket.Upgrader
}

// NewServer creates a server over the given collaborators.
func NewServer(store db.Store, eng BotEngine, bus *events.Bus, m *metrics.Metrics, logHistory, maxBots int) *Server {
	if logHistory <= 0 {
		logHistory = 100
	}
	if maxBots <= 0 {
		maxBots = 5
	}
	return &Server{
		store:      store,
		eng:        eng,
		bus:        bus,
		metrics:    m,
		logHistory: logHistory,
		maxBots:    maxBots,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/bots", s.handleListBots)
	mux.HandleFunc("POST /api/bots", s.handleCreateBot)
	mux.HandleFunc("GET /api/bots/{id}", s.handleGetBot)
	mux.HandleFunc("GET /api/bots/{id}/status", s.handleBotStatus)
	mux.HandleFunc("DELETE /api/bots/{id}", s.handleDeleteBot)
	mux.HandleFunc("POST /api/bots/{id}/start", s.handleStart)
	mux.HandleFunc("POST /api/bots/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /api/bots/{id}/restart", s.handleRestart)
	mux.HandleFunc("GET /api/bots/{id}/logs", s.handleLogs)
	mux.HandleFunc("PUT /api/bots/{id}/files/{name}", s.handleUpdateFile)

	mux.HandleFunc("GET /ws/status", s.handleStatusSocket)
	mux.HandleFunc("GET /ws/logs/{id}", s.handleLogSocket)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Serve runs the HTTP server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// userID extracts the caller identity. The gateway in front of this service
// authenticates the session and forwards the user id in a header; websocket
// clients pass it as a query parameter.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, engine.Result{OK: false, Message: message})
}

// resultStatus maps an engine refusal to an HTTP status by message shape.
func resultStatus(res engine.Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Message {
	case engine.ErrNotFound.Error():
		return http.StatusNotFound
	case engine.ErrForbidden.Error():
		return http.StatusForbidden
	case "Bot is already running":
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	bots, err := s.store.ListBots(uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list bots")
		return
	}
	for i := range bots {
		bots[i].Running = s.eng.IsRunning(bots[i].ID)
	}
	writeJSON(w, http.StatusOK, bots)
}

type createBotRequest struct {
	Name    string `json:"name"`
	Runtime string `json:"runtime"`
	Token   string `json:"token"`
	Files   []struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	} `json:"files"`
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Runtime == "" {
		writeError(w, http.StatusUnprocessableEntity, "name and runtime are required")
		return
	}
	if req.Runtime != db.RuntimePython && req.Runtime != db.RuntimeNode {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unsupported runtime %q", req.Runtime))
		return
	}

	count, err := s.store.CountBotsByOwner(uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check bot quota")
		return
	}
	if count >= s.maxBots {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("bot limit reached (%d)", s.maxBots))
		return
	}

	bot := &db.Bot{
		ID:      uuid.NewString(),
		OwnerID: uid,
		Name:    req.Name,
		Runtime: req.Runtime,
		Token:   req.Token,
		Status:  db.StatusStopped,
		Memory:  "0MB",
		CPU:     "0%",
	}
	if err := s.store.CreateBot(bot); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create bot")
		return
	}
	for _, f := range req.Files {
		file := &db.BotFile{BotID: bot.ID, Filename: f.Filename, Content: f.Content}
		if err := s.store.CreateBotFile(file); err != nil {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("failed to store file %q", f.Filename))
			return
		}
	}
	writeJSON(w, http.StatusCreated, bot)
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	bot, ok := s.authorizedBot(w, uid, r.PathValue("id"))
	if !ok {
		return
	}
	bot.Running = s.eng.IsRunning(bot.ID)
	writeJSON(w, http.StatusOK, bot)
}

type botStatusResponse struct {
	Status  string `json:"status"`
	PID     *int   `json:"pid,omitempty"`
	Memory  string `json:"memory"`
	CPU     string `json:"cpu"`
	Uptime  string `json:"uptime"`
	Running bool   `json:"running"`
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.authorizedBot(w, userID(r), r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, botStatusResponse{
		Status:  bot.Status,
		PID:     bot.PID,
		Memory:  bot.Memory,
		CPU:     bot.CPU,
		Uptime:  bot.Uptime,
		Running: s.eng.IsRunning(bot.ID),
	})
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	res := s.eng.Delete(r.Context(), userID(r), r.PathValue("id"))
	writeJSON(w, resultStatus(res), res)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	res := s.eng.Start(r.Context(), userID(r), r.PathValue("id"))
	writeJSON(w, resultStatus(res), res)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	res := s.eng.Stop(r.Context(), userID(r), r.PathValue("id"))
	writeJSON(w, resultStatus(res), res)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	res := s.eng.Restart(r.Context(), userID(r), r.PathValue("id"))
	writeJSON(w, resultStatus(res), res)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	logs, err := s.eng.ReadLogs(userID(r), r.PathValue("id"), limit)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotFound):
			writeError(w, http.StatusNotFound, "bot not found")
		case errors.Is(err, engine.ErrForbidden):
			writeError(w, http.StatusForbidden, "not your bot")
		default:
			writeError(w, http.StatusInternalServerError, "failed to read logs")
		}
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

type updateFileRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleUpdateFile(w http.ResponseWriter, r *http.Request) {
	var req updateFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res := s.eng.UpdateFile(userID(r), r.PathValue("id"), r.PathValue("name"), req.Content)
	writeJSON(w, resultStatus(res), res)
}

// authorizedBot loads a bot and enforces ownership, writing the error
// response itself on failure.
func (s *Server) authorizedBot(w http.ResponseWriter, uid, botID string) (*db.Bot, bool) {
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return nil, false
	}
	bot, err := s.store.GetBot(botID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bot not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load bot")
		}
		return nil, false
	}
	if bot.OwnerID != uid {
		writeError(w, http.StatusForbidden, "not your bot")
		return nil, false
	}
	return bot, true
}
