package notify

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/viper"
)

// Alert event kinds emitted by the engine.
const (
	EventVeto      = "on_veto"
	EventAbuseKill = "on_abuse_kill"
)

// Manager routes engine alerts to the configured providers. Delivery is
// best-effort: failures are logged, never surfaced to the supervisor.
type Manager struct {
	slack Notifier
}

// NewManager creates a manager from viper configuration and environment.
func NewManager() *Manager {
	m := &Manager{}
	m.initSlack()
	return m
}

func (m *Manager) initSlack() {
	if !viper.GetBool("notifications.slack.enabled") {
		return
	}

	token := os.Getenv("SLACK_BOT_USER_TOKEN")
	if token == "" {
		slog.Warn("SLACK_BOT_USER_TOKEN not set, slack notifications disabled")
		return
	}

	m.slack = NewSlackNotifier(token, viper.GetString("notifications.slack.channel"))
}

// Enabled reports whether any provider is configured.
func (m *Manager) Enabled() bool {
	return m.slack != nil
}

// Alert delivers a message for the given event kind if that event is enabled.
func (m *Manager) Alert(ctx context.Context, event, message string) {
	if m.slack == nil {
		return
	}
	if !viper.GetBool("notifications.slack.events." + event) {
		return
	}
	if err := m.slack.Notify(ctx, message); err != nil {
		slog.Warn("failed to deliver alert", "event", event, "error", err)
	}
}
