package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"bothive/internal/db"
	"bothive/internal/notify"
	"bothive/internal/radar"
)

// runSampler polls the child's CPU and resident memory on a fixed cadence,
// updates the bot record, and applies the runtime quota check. It cancels
// itself when the process vanishes.
func (s *Supervisor) runSampler(ctx context.Context, h *Handle) {
	ticker := time.NewTicker(s.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		usage, err := s.usage(h.PID)
		if err != nil {
			// Process vanished; the exit observer owns the final state.
			return
		}
		if s.metrics != nil {
			s.metrics.SamplerTicks.Inc()
		}

		memory := fmt.Sprintf("%dMB", int(math.Round(usage.MemoryMB)))
		cpu := fmt.Sprintf("%.1f%%", usage.CPUPercent)
		uptime := FormatUptime(time.Since(h.startedAt))

		if err := s.store.UpdateBot(h.BotID, db.BotPatch{
			Memory: &memory,
			CPU:    &cpu,
			Uptime: &uptime,
		}); err != nil {
			slog.Debug("failed to persist sample", "bot_id", h.BotID, "error", err)
		}

		if breach, reason := s.limits.Check(usage); breach {
			s.killAbusive(h, reason)
			return
		}
	}
}

// killAbusive forcefully terminates a process that breached its quota. The
// exit observer sees a non-zero exit with no stop request and lands the bot
// on error.
func (s *Supervisor) killAbusive(h *Handle, reason string) {
	msg := "RADAR: " + reason
	slog.Warn("terminating abusive bot", "bot_id", h.BotID, "pid", h.PID, "reason", reason)
	s.recordLog(h, "error", msg)

	if s.metrics != nil {
		s.metrics.AbuseKills.Inc()
	}
	if s.alert != nil {
		s.alert(notify.EventAbuseKill, fmt.Sprintf("bot %s killed: %s", h.BotID, reason))
	}

	_ = h.cmd.Process.Kill()
}

// sampleProcess queries the OS for a pid's usage via gopsutil.
func sampleProcess(pid int) (radar.Usage, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return radar.Usage{}, err
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		return radar.Usage{}, err
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return radar.Usage{}, err
	}
	return radar.Usage{
		MemoryMB:   float64(mem.RSS) / (1024 * 1024),
		CPUPercent: cpu,
	}, nil
}

// FormatUptime renders a duration as "Nd Nh Nm", "Nh Nm Ns", "Nm Ns" or
// "Ns", truncating zero leading components only for the smaller scales.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
