package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreBotCRUD(t *testing.T) {
	store := newTestStore(t)

	bot := &Bot{
		OwnerID: "user-1",
		Name:    "greeter",
		Runtime: RuntimePython,
		Token:   "secret-token",
	}
	require.NoError(t, store.CreateBot(bot))
	require.NotEmpty(t, bot.ID, "CreateBot should assign an id")

	got, err := store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "greeter", got.Name)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Equal(t, "0MB", got.Memory)
	assert.Equal(t, "0%", got.CPU)
	assert.Nil(t, got.PID)

	// Partial update: status + pid
	now := time.Now()
	err = store.UpdateBot(bot.ID, BotPatch{
		Status:    StrPtr(StatusRunning),
		PID:       IntPtr(4242),
		LastStart: &now,
	})
	require.NoError(t, err)

	got, err = store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	require.NotNil(t, got.PID)
	assert.Equal(t, 4242, *got.PID)
	require.NotNil(t, got.LastStart)

	// ClearPID resets the pid column
	err = store.UpdateBot(bot.ID, BotPatch{
		Status:   StrPtr(StatusStopped),
		ClearPID: true,
		Memory:   StrPtr("0MB"),
		CPU:      StrPtr("0%"),
	})
	require.NoError(t, err)

	got, err = store.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Nil(t, got.PID)
}

func TestSQLiteStoreUpdateMissingBot(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateBot("nope", BotPatch{Status: StrPtr(StatusError)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreFiles(t *testing.T) {
	store := newTestStore(t)

	bot := &Bot{OwnerID: "user-1", Name: "b", Runtime: RuntimeNode}
	require.NoError(t, store.CreateBot(bot))

	require.NoError(t, store.CreateBotFile(&BotFile{
		BotID:    bot.ID,
		Filename: "index.js",
		Content:  "console.log('hi')",
	}))

	files, err := store.GetBotFiles(bot.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(len("console.log('hi')")), files[0].Size)

	require.NoError(t, store.UpdateBotFile(bot.ID, "index.js", "console.log('bye')"))
	files, err = store.GetBotFiles(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "console.log('bye')", files[0].Content)

	err = store.UpdateBotFile(bot.ID, "missing.js", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreLogsNewestFirst(t *testing.T) {
	store := newTestStore(t)

	bot := &Bot{OwnerID: "user-1", Name: "b", Runtime: RuntimePython}
	require.NoError(t, store.CreateBot(bot))

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, store.CreateBotLog(&BotLog{BotID: bot.ID, Level: "info", Message: msg}))
	}

	logs, err := store.GetBotLogs(bot.ID, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "third", logs[0].Message)
	assert.Equal(t, "second", logs[1].Message)
}

func TestSQLiteStoreDeleteCascades(t *testing.T) {
	store := newTestStore(t)

	bot := &Bot{OwnerID: "user-1", Name: "b", Runtime: RuntimePython}
	require.NoError(t, store.CreateBot(bot))
	require.NoError(t, store.CreateBotFile(&BotFile{BotID: bot.ID, Filename: "main.py", Content: "print(1)"}))
	require.NoError(t, store.CreateBotLog(&BotLog{BotID: bot.ID, Level: "info", Message: "hello"}))

	require.NoError(t, store.DeleteBot(bot.ID))

	_, err := store.GetBot(bot.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	files, err := store.GetBotFiles(bot.ID)
	require.NoError(t, err)
	assert.Empty(t, files)

	logs, err := store.GetBotLogs(bot.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestSQLiteStoreCountBotsByOwner(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateBot(&Bot{OwnerID: "user-1", Name: "b", Runtime: RuntimePython}))
	}
	require.NoError(t, store.CreateBot(&Bot{OwnerID: "user-2", Name: "b", Runtime: RuntimeNode}))

	count, err := store.CountBotsByOwner("user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
