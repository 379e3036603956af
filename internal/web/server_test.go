package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bothive/internal/db"
	"bothive/internal/engine"
	"bothive/internal/events"
	"bothive/internal/metrics"
)

// fakeEngine records lifecycle calls and returns canned results.
type fakeEngine struct {
	store   db.Store
	results map[string]engine.Result
	calls   []string
	running map[string]bool
}

func newFakeEngine(store db.Store) *fakeEngine {
	return &fakeEngine{
		store:   store,
		results: make(map[string]engine.Result),
		running: make(map[string]bool),
	}
}

func (f *fakeEngine) result(op string) engine.Result {
	if res, ok := f.results[op]; ok {
		return res
	}
	return engine.Result{OK: true, Message: "ok"}
}

func (f *fakeEngine) Start(_ context.Context, userID, botID string) engine.Result {
	f.calls = append(f.calls, "start:"+botID)
	return f.result("start")
}

func (f *fakeEngine) Stop(_ context.Context, userID, botID string) engine.Result {
	f.calls = append(f.calls, "stop:"+botID)
	return f.result("stop")
}

func (f *fakeEngine) Restart(_ context.Context, userID, botID string) engine.Result {
	f.calls = append(f.calls, "restart:"+botID)
	return f.result("restart")
}

func (f *fakeEngine) Delete(_ context.Context, userID, botID string) engine.Result {
	f.calls = append(f.calls, "delete:"+botID)
	return f.result("delete")
}

func (f *fakeEngine) ReadLogs(userID, botID string, limit int) ([]db.BotLog, error) {
	return f.store.GetBotLogs(botID, limit)
}

func (f *fakeEngine) UpdateFile(userID, botID, filename, content string) engine.Result {
	if err := f.store.UpdateBotFile(botID, filename, content); err != nil {
		return engine.Result{OK: false, Message: fmt.Sprintf("unknown filename %q", filename)}
	}
	return engine.Result{OK: true, Message: "File updated"}
}

func (f *fakeEngine) IsRunning(botID string) bool { return f.running[botID] }

func newTestServer(t *testing.T) (*Server, db.Store, *fakeEngine, *events.Bus) {
	t.Helper()
	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewBus()
	eng := newFakeEngine(store)
	srv := NewServer(store, eng, bus, metrics.NewMetrics(), 100, 5)
	return srv, store, eng, bus
}

func doJSON(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListBots(t *testing.T) {
	srv, _, eng, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/bots", "user-1", map[string]any{
		"name":    "greeter",
		"runtime": "python",
		"token":   "secret",
		"files":   []map[string]string{{"filename": "main.py", "content": "print('hi')"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created db.Bot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "stopped", created.Status)
	// The credential never appears in API responses.
	assert.NotContains(t, rec.Body.String(), "secret")

	eng.running[created.ID] = true
	rec = doJSON(t, h, "GET", "/api/bots", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var bots []db.Bot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bots))
	require.Len(t, bots, 1)
	assert.True(t, bots[0].Running)
}

func TestCreateBotValidation(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/bots", "", map[string]any{"name": "x", "runtime": "python"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, "POST", "/api/bots", "user-1", map[string]any{"name": "x", "runtime": "ruby"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, h, "POST", "/api/bots", "user-1", map[string]any{"runtime": "python"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateBotQuota(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	for i := 0; i < 5; i++ {
		rec := doJSON(t, h, "POST", "/api/bots", "user-1", map[string]any{
			"name":    fmt.Sprintf("bot-%d", i),
			"runtime": "python",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, h, "POST", "/api/bots", "user-1", map[string]any{"name": "one-too-many", "runtime": "python"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "bot limit reached")

	// Another user is unaffected.
	rec = doJSON(t, h, "POST", "/api/bots", "user-2", map[string]any{"name": "fine", "runtime": "nodejs"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func seedBot(t *testing.T, store db.Store, id, owner string) *db.Bot {
	t.Helper()
	bot := &db.Bot{ID: id, OwnerID: owner, Name: "b", Runtime: "python", Token: "tok", Status: db.StatusStopped}
	require.NoError(t, store.CreateBot(bot))
	return bot
}

func TestGetBotOwnership(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	h := srv.Handler()
	seedBot(t, store, "b1", "user-1")

	rec := doJSON(t, h, "GET", "/api/bots/b1", "user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "GET", "/api/bots/b1", "user-2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, "GET", "/api/bots/ghost", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBotStatusRoute(t *testing.T) {
	srv, store, eng, _ := newTestServer(t)
	h := srv.Handler()
	seedBot(t, store, "b1", "user-1")
	require.NoError(t, store.UpdateBot("b1", db.BotPatch{
		Status: db.StrPtr(db.StatusRunning),
		PID:    db.IntPtr(4242),
		Memory: db.StrPtr("42MB"),
		CPU:    db.StrPtr("12.3%"),
	}))
	eng.running["b1"] = true

	rec := doJSON(t, h, "GET", "/api/bots/b1/status", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Status  string `json:"status"`
		PID     *int   `json:"pid"`
		Memory  string `json:"memory"`
		CPU     string `json:"cpu"`
		Running bool   `json:"running"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, db.StatusRunning, status.Status)
	require.NotNil(t, status.PID)
	assert.Equal(t, 4242, *status.PID)
	assert.Equal(t, "42MB", status.Memory)
	assert.Equal(t, "12.3%", status.CPU)
	assert.True(t, status.Running)
}

func TestLifecycleRoutes(t *testing.T) {
	srv, store, eng, _ := newTestServer(t)
	h := srv.Handler()
	seedBot(t, store, "b1", "user-1")

	for _, op := range []string{"start", "stop", "restart"} {
		rec := doJSON(t, h, "POST", "/api/bots/b1/"+op, "user-1", nil)
		require.Equal(t, http.StatusOK, rec.Code, op)
	}
	rec := doJSON(t, h, "DELETE", "/api/bots/b1", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"start:b1", "stop:b1", "restart:b1", "delete:b1"}, eng.calls)
}

func TestStartConflictStatus(t *testing.T) {
	srv, store, eng, _ := newTestServer(t)
	h := srv.Handler()
	seedBot(t, store, "b1", "user-1")

	eng.results["start"] = engine.Result{OK: false, Message: "Bot is already running"}
	rec := doJSON(t, h, "POST", "/api/bots/b1/start", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	eng.results["start"] = engine.Result{OK: false, Message: engine.ErrForbidden.Error()}
	rec = doJSON(t, h, "POST", "/api/bots/b1/start", "user-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	eng.results["start"] = engine.Result{OK: false, Message: "RADAR: start vetoed (score 40): mining"}
	rec = doJSON(t, h, "POST", "/api/bots/b1/start", "user-1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLogsRoute(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	h := srv.Handler()
	seedBot(t, store, "b1", "user-1")
	for _, msg := range []string{"first", "second"} {
		require.NoError(t, store.CreateBotLog(&db.BotLog{BotID: "b1", Level: "info", Message: msg}))
	}

	rec := doJSON(t, h, "GET", "/api/bots/b1/logs?limit=1", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var logs []db.BotLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "second", logs[0].Message)
}

func TestUpdateFileRoute(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	h := srv.Handler()
	seedBot(t, store, "b1", "user-1")
	require.NoError(t, store.CreateBotFile(&db.BotFile{BotID: "b1", Filename: "main.py", Content: "old"}))

	rec := doJSON(t, h, "PUT", "/api/bots/b1/files/main.py", "user-1", map[string]string{"content": "new"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	files, err := store.GetBotFiles("b1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "new", files[0].Content)

	rec = doJSON(t, h, "PUT", "/api/bots/b1/files/ghost.py", "user-1", map[string]string{"content": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bothive_")
}

func TestHealthRoute(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
