package popup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chimeapp/chime-server/internal/domain"
)

const (
	renderInterval = time.Second
	verifyInterval = 30 * time.Second
)

// Agent mirrors daemon state for an open popup: it pulls settings on
// open, re-verifies the schedule periodically, and renders a live
// countdown to the next reminder.
type Agent struct {
	client *Client
	out    io.Writer
	logger *slog.Logger

	mu       sync.Mutex
	settings *domain.Settings
}

func NewAgent(client *Client, out io.Writer, logger *slog.Logger) *Agent {
	return &Agent{
		client: client,
		out:    out,
		logger: logger.With("component", "popup-agent"),
	}
}

// Open performs the popup-open handshake: fetch settings, then have
// the daemon verify its timer so the countdown never shows a schedule
// the daemon's timer will not honor.
func (a *Agent) Open(ctx context.Context) error {
	settings, err := a.client.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("fetching settings: %w", err)
	}
	a.setSettings(settings)

	result, err := a.client.VerifyAlarm(ctx)
	if err != nil {
		return fmt.Errorf("verifying schedule: %w", err)
	}
	if result.NeedsUpdate {
		a.logger.Info("daemon corrected its schedule on open")
		return a.refresh(ctx)
	}
	return nil
}

// Run drives the popup loops until ctx is cancelled: a render tick
// every second and a schedule verification every thirty.
func (a *Agent) Run(ctx context.Context) error {
	render := time.NewTicker(renderInterval)
	defer render.Stop()
	verify := time.NewTicker(verifyInterval)
	defer verify.Stop()

	a.render()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-render.C:
			a.render()
		case <-verify.C:
			if result, err := a.client.VerifyAlarm(ctx); err != nil {
				a.logger.Warn("periodic verification failed", "error", err)
			} else if result.NeedsUpdate {
				if err := a.refresh(ctx); err != nil {
					a.logger.Warn("refresh after correction failed", "error", err)
				}
			}
		}
	}
}

// OnFocus re-reads the authoritative schedule when the popup regains
// focus, where a stale countdown would be most visible.
func (a *Agent) OnFocus(ctx context.Context) error {
	status, err := a.client.AlarmStatus(ctx)
	if err != nil {
		return fmt.Errorf("fetching alarm status: %w", err)
	}

	a.mu.Lock()
	if a.settings != nil {
		a.settings.IsActive = status.IsActive
		a.settings.NextNotificationTime = status.NextNotificationTime
	}
	a.mu.Unlock()

	a.render()
	return nil
}

// Snapshot returns a copy of the mirrored settings, nil before Open.
func (a *Agent) Snapshot() *domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settings == nil {
		return nil
	}
	return a.settings.Clone()
}

func (a *Agent) refresh(ctx context.Context) error {
	settings, err := a.client.GetSettings(ctx)
	if err != nil {
		return err
	}
	a.setSettings(settings)
	return nil
}

func (a *Agent) setSettings(settings *domain.Settings) {
	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()
}

// render writes one countdown line. \r keeps the line in place on a
// terminal.
func (a *Agent) render() {
	a.mu.Lock()
	settings := a.settings
	a.mu.Unlock()

	switch {
	case settings == nil:
		fmt.Fprint(a.out, "\rConnecting to chimed...")
	case !settings.IsActive:
		fmt.Fprint(a.out, "\rReminders paused          ")
	case settings.NextNotificationTime == nil:
		fmt.Fprint(a.out, "\rNo reminder scheduled     ")
	default:
		remaining := time.Until(time.UnixMilli(*settings.NextNotificationTime))
		if remaining < 0 {
			remaining = 0
		}
		fmt.Fprintf(a.out, "\rNext reminder in %02d:%02d   ",
			int(remaining.Minutes()), int(remaining.Seconds())%60)
	}
}
