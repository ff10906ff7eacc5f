package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const xvfbReadyTimeout = 5 * time.Second

// xvfbArgs sizes the virtual screen so a full-size viewport never gets
// clipped by the window manager.
func xvfbArgs(display string, w, h int) []string {
	return []string{display, "-screen", "0", fmt.Sprintf("%dx%dx24", w, h), "-ac", "-nolisten", "tcp"}
}

// displaySocket is the X11 socket Xvfb creates for display (":99" →
// /tmp/.X11-unix/X99).
func displaySocket(display string) (string, error) {
	num, _, _ := strings.Cut(strings.TrimPrefix(display, ":"), ".")
	if _, err := strconv.Atoi(num); err != nil || !strings.HasPrefix(display, ":") {
		return "", fmt.Errorf("invalid X display %q", display)
	}
	return "/tmp/.X11-unix/X" + num, nil
}

// waitSocket polls for path until it exists or ctx is done.
func waitSocket(ctx context.Context, path string) error {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not ready: %w", path, ctx.Err())
		case <-tick.C:
		}
	}
}

// startXvfb launches the virtual display for headful captures and waits
// until it accepts connections.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	display := m.cfg.XvfbDisplay
	sock, err := displaySocket(display)
	if err != nil {
		return err
	}

	cmd := exec.Command("Xvfb", xvfbArgs(display, m.cfg.ScreenWidth, m.cfg.ScreenHeight)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), xvfbReadyTimeout)
	defer cancel()
	if err := waitSocket(ctx, sock); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return err
	}
	m.xvfb = cmd

	m.cfg.Logger.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid,
		"screen", strconv.Itoa(m.cfg.ScreenWidth)+"x"+strconv.Itoa(m.cfg.ScreenHeight))
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil || m.xvfb.Process == nil {
		m.xvfb = nil
		return
	}
	m.xvfb.Process.Kill()
	m.xvfb.Wait()
	m.cfg.Logger.Info("browser: xvfb stopped", "display", m.cfg.XvfbDisplay)
	m.xvfb = nil
}
