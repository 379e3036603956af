package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"bothive/internal/db"
)

// LogLineFunc receives one captured line of package-tool output.
type LogLineFunc func(level, line string)

// Installer invokes the runtime's package tool inside a workspace. Failures
// are reported to the caller but are not fatal to a start attempt: transient
// registry errors must not block bots that depend on pre-installed libraries.
type Installer struct {
	PipTimeout time.Duration
	NpmTimeout time.Duration
}

// NewInstaller creates an installer with the given hard wall-clock timeouts.
func NewInstaller(pipTimeout, npmTimeout time.Duration) *Installer {
	return &Installer{PipTimeout: pipTimeout, NpmTimeout: npmTimeout}
}

type installAttempt struct {
	name string
	argv []string
}

// Install runs the package tool for the runtime. A missing manifest is a
// no-op. The python path tries user-scoped, then system-scoped, then the
// alternate tool name, all within one shared timeout budget; npm gets a
// single non-interactive attempt.
func (i *Installer) Install(ctx context.Context, workspace string, rt RuntimeSpec, logf LogLineFunc) error {
	if _, err := os.Stat(filepath.Join(workspace, rt.Manifest)); err != nil {
		return nil
	}

	var attempts []installAttempt
	var timeout time.Duration

	switch rt.Tag {
	case db.RuntimePython:
		timeout = i.PipTimeout
		attempts = []installAttempt{
			{"pip user install", []string{"python3", "-m", "pip", "install", "--user", "-r", rt.Manifest}},
			{"pip install", []string{"python3", "-m", "pip", "install", "-r", rt.Manifest}},
			{"pip3 install", []string{"pip3", "install", "-r", rt.Manifest}},
		}
	case db.RuntimeNode:
		timeout = i.NpmTimeout
		attempts = []installAttempt{
			{"npm install", []string{"npm", "install", "--no-audit", "--no-fund", "--loglevel=error"}},
		}
	default:
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for _, attempt := range attempts {
		logf("info", fmt.Sprintf("Installing dependencies (%s)...", attempt.name))
		err := runStreaming(ctx, workspace, attempt.argv, logf)
		if err == nil {
			logf("info", "Dependencies installed")
			return nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("dependency installation timed out after %s", timeout)
		}
		lastErr = err
	}

	return fmt.Errorf("dependency installation failed: %w", lastErr)
}

// runStreaming executes argv in dir, forwarding stdout and stderr per line.
func runStreaming(ctx context.Context, dir string, argv []string, logf LogLineFunc) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(&wg, stdout, "info", logf)
	go streamLines(&wg, stderr, "warn", logf)
	wg.Wait()

	return cmd.Wait()
}

func streamLines(wg *sync.WaitGroup, r io.Reader, level string, logf LogLineFunc) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			logf(level, line)
		}
	}
}
