package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bothive/internal/db"
	"bothive/internal/events"
	"bothive/internal/metrics"
	"bothive/internal/radar"
)

func newTestEngine(t *testing.T) (*Engine, db.Store, *events.Bus, string) {
	t.Helper()
	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewBus()
	root := t.TempDir()

	e := New(Config{
		Store:          store,
		Bus:            bus,
		Metrics:        metrics.NewMetrics(),
		WorkspaceRoot:  root,
		Limits:         radar.DefaultLimits(),
		Runtimes:       map[string]RuntimeSpec{"python": shellRuntime()},
		PipTimeout:     time.Second,
		NpmTimeout:     time.Second,
		SampleInterval: 20 * time.Millisecond,
		StopGrace:      500 * time.Millisecond,
		RestartDelay:   10 * time.Millisecond,
		LogHistory:     100,
	})
	return e, store, bus, root
}

func seedBotWithFile(t *testing.T, store db.Store, content string) *db.Bot {
	t.Helper()
	bot := &db.Bot{
		ID:      "bot-1",
		OwnerID: "user-1",
		Name:    "test bot",
		Runtime: "python",
		Token:   "super-secret-token",
		Status:  db.StatusStopped,
	}
	require.NoError(t, store.CreateBot(bot))
	require.NoError(t, store.CreateBotFile(&db.BotFile{
		BotID:    bot.ID,
		Filename: "main.py",
		Content:  content,
	}))
	return bot
}

func TestStartAndStop(t *testing.T) {
	e, store, _, root := newTestEngine(t)
	bot := seedBotWithFile(t, store, "echo 'Logged in as TestBot'\nsleep 5\n")

	res := e.Start(context.Background(), bot.OwnerID, bot.ID)
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Bot started", res.Message)
	assert.True(t, e.IsRunning(bot.ID))

	got := waitStatus(t, store, bot.ID, db.StatusRunning)
	require.NotNil(t, got.PID)

	res = e.Stop(context.Background(), bot.OwnerID, bot.ID)
	require.True(t, res.OK, res.Message)
	assert.False(t, e.IsRunning(bot.ID))

	got = waitStatus(t, store, bot.ID, db.StatusStopped)
	assert.Nil(t, got.PID)
	assert.Equal(t, "0MB", got.Memory)
	assert.Equal(t, "0%", got.CPU)

	// The workspace is cleaned up with the process.
	_, err := os.Stat(filepath.Join(root, bot.ID))
	assert.True(t, os.IsNotExist(err))
}

func TestStartUnknownBot(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	res := e.Start(context.Background(), "user-1", "ghost")
	assert.False(t, res.OK)
}

func TestStartWrongOwner(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	bot := seedBotWithFile(t, store, "sleep 1\n")

	res := e.Start(context.Background(), "intruder", bot.ID)
	assert.False(t, res.OK)
	assert.False(t, e.IsRunning(bot.ID))
}

func TestStartAlreadyRunning(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	bot := seedBotWithFile(t, store, "sleep 5\n")

	require.True(t, e.Start(context.Background(), bot.OwnerID, bot.ID).OK)
	defer e.Stop(context.Background(), bot.OwnerID, bot.ID)

	res := e.Start(context.Background(), bot.OwnerID, bot.ID)
	assert.False(t, res.OK)
	assert.Equal(t, "Bot is already running", res.Message)
}

func TestStartWithoutCredentialFails(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	bot := &db.Bot{
		ID:      "bot-1",
		OwnerID: "user-1",
		Name:    "test bot",
		Runtime: "python",
		Status:  db.StatusStopped,
	}
	require.NoError(t, store.CreateBot(bot))
	require.NoError(t, store.CreateBotFile(&db.BotFile{BotID: bot.ID, Filename: "main.py", Content: "sleep 1\n"}))

	res := e.Start(context.Background(), bot.OwnerID, bot.ID)
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "credential")

	got, err := store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusError, got.Status)
}

func TestStartStaticVeto(t *testing.T) {
	e, store, _, root := newTestEngine(t)
	bot := seedBotWithFile(t, store, "# bitcoin mining bot\nminer = connect('stratum+tcp://pool')\n")

	res := e.Start(context.Background(), bot.OwnerID, bot.ID)
	require.False(t, res.OK)
	assert.Contains(t, res.Message, "RADAR")
	assert.False(t, e.IsRunning(bot.ID))

	got, err := store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusError, got.Status)

	// The veto fires before anything is written to disk.
	_, err = os.Stat(filepath.Join(root, bot.ID))
	assert.True(t, os.IsNotExist(err))

	// The refusal reason lands in the bot's logs.
	logs, err := store.GetBotLogs(bot.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Message, "RADAR")
}

func TestStopReconcilesStaleState(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	bot := seedBotWithFile(t, store, "sleep 1\n")

	// Simulate a record left behind by a crashed host: running, with a pid,
	// but no live process.
	require.NoError(t, store.UpdateBot(bot.ID, db.BotPatch{
		Status: db.StrPtr(db.StatusRunning),
		PID:    db.IntPtr(999999),
		Memory: db.StrPtr("37MB"),
	}))

	res := e.Stop(context.Background(), bot.OwnerID, bot.ID)
	require.True(t, res.OK)

	got, err := store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusStopped, got.Status)
	assert.Nil(t, got.PID)
	assert.Equal(t, "0MB", got.Memory)
	assert.Equal(t, "0%", got.CPU)
}

func TestRestart(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	bot := seedBotWithFile(t, store, "sleep 5\n")

	require.True(t, e.Start(context.Background(), bot.OwnerID, bot.ID).OK)

	res := e.Restart(context.Background(), bot.OwnerID, bot.ID)
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Bot started", res.Message)
	assert.True(t, e.IsRunning(bot.ID))

	e.Stop(context.Background(), bot.OwnerID, bot.ID)
}

func TestDeleteRemovesEverything(t *testing.T) {
	e, store, bus, _ := newTestEngine(t)
	bot := seedBotWithFile(t, store, "sleep 5\n")
	require.NoError(t, store.CreateBotLog(&db.BotLog{BotID: bot.ID, Level: "info", Message: "old"}))

	statusCh, cancel := bus.SubscribeStatus(bot.OwnerID)
	defer cancel()

	require.True(t, e.Start(context.Background(), bot.OwnerID, bot.ID).OK)

	res := e.Delete(context.Background(), bot.OwnerID, bot.ID)
	require.True(t, res.OK, res.Message)
	assert.False(t, e.IsRunning(bot.ID))

	_, err := store.GetBot(bot.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-statusCh:
			if msg.Type == "bot_deleted" {
				assert.Equal(t, bot.ID, msg.BotID)
				return
			}
		case <-deadline:
			t.Fatal("no bot_deleted broadcast received")
		}
	}
}

func TestRecordLogRedactsCredential(t *testing.T) {
	e, store, bus, _ := newTestEngine(t)
	bot := seedBotWithFile(t, store, "sleep 1\n")

	logCh, cancel := bus.SubscribeLogs(bot.ID)
	defer cancel()

	// The shape pip produces when a materialized manifest carries the
	// substituted secret and the install attempt echoes the line back.
	e.recordLog(bot, "warn", `ERROR: Invalid requirement: '"`+bot.Token+`"' (from line 1 of requirements.txt)`)

	logs, err := store.GetBotLogs(bot.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Message, "[redacted]")
	assert.NotContains(t, logs[0].Message, bot.Token)

	select {
	case msg := <-logCh:
		assert.Contains(t, msg.Message, "[redacted]")
		assert.NotContains(t, msg.Message, bot.Token)
	case <-time.After(time.Second):
		t.Fatal("no log message pushed")
	}
}

func TestReadLogsNewestFirst(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	bot := seedBotWithFile(t, store, "sleep 1\n")

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, store.CreateBotLog(&db.BotLog{BotID: bot.ID, Level: "info", Message: msg}))
	}

	logs, err := e.ReadLogs(bot.OwnerID, bot.ID, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "third", logs[0].Message)
	assert.Equal(t, "second", logs[1].Message)

	_, err = e.ReadLogs("intruder", bot.ID, 2)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateFile(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	bot := seedBotWithFile(t, store, "sleep 1\n")

	res := e.UpdateFile(bot.OwnerID, bot.ID, "main.py", "echo updated\n")
	require.True(t, res.OK, res.Message)

	files, err := store.GetBotFiles(bot.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "echo updated\n", files[0].Content)

	res = e.UpdateFile(bot.OwnerID, bot.ID, "nope.py", "x")
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "unknown filename")

	res = e.UpdateFile("intruder", bot.ID, "main.py", "x")
	assert.False(t, res.OK)
}
