package telemetry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitLoggerWritesToFile(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "bothive.log")

	InitLogger(true, logFile)
	slog.Info("sampler tick", "bot_id", "b1", "memory", "42MB")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	line := strings.TrimSpace(string(data))
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.Split(line, "\n")[0]), &record); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if record["msg"] != "sampler tick" {
		t.Errorf("expected msg 'sampler tick', got %v", record["msg"])
	}
	if record["bot_id"] != "b1" {
		t.Errorf("expected bot_id b1, got %v", record["bot_id"])
	}
}

func TestInitLoggerDebugLevel(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "debug.log")

	InitLogger(true, logFile)
	slog.Debug("handle registered", "bot_id", "b2")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "handle registered") {
		t.Error("debug message not written when debug enabled")
	}
}
