// Package popup implements the client side of the command surface: the
// small agent a popup process runs to mirror daemon state while open.
package popup

import (
	"bytes"
	"context"
	"encoding/json/v2"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chimeapp/chime-server/internal/api"
	"github.com/chimeapp/chime-server/internal/domain"
)

const (
	clientTimeout = 5 * time.Second

	// The popup retries failed commands a few times with linear
	// backoff; it is a UI, so it gives up quickly rather than queue.
	commandAttempts = 3
	backoffStep     = 200 * time.Millisecond
)

// Client speaks the daemon's command surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: clientTimeout},
		logger:     logger.With("component", "popup-client"),
	}
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    T      `json:"data"`
}

// command posts one command and decodes its data payload. Transport
// failures and daemon-side 5xx responses are retried; a rejected
// command (4xx) is returned immediately.
func command[T any](ctx context.Context, c *Client, cmd *api.Command) (T, error) {
	var zero T

	payload, err := json.Marshal(cmd)
	if err != nil {
		return zero, fmt.Errorf("popup: encoding command: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= commandAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * backoffStep):
			}
		}

		result, retryable, err := post[T](ctx, c, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return zero, err
		}
		c.logger.Debug("command attempt failed", "attempt", attempt, "action", cmd.Action, "error", err)
	}
	return zero, fmt.Errorf("popup: command %s failed after %d attempts: %w", cmd.Action, commandAttempts, lastErr)
}

func post[T any](ctx context.Context, c *Client, payload []byte) (T, bool, error) {
	var zero T

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/command", bytes.NewReader(payload))
	if err != nil {
		return zero, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, true, err
	}
	defer resp.Body.Close()

	var env envelope[T]
	if err := json.UnmarshalRead(resp.Body, &env); err != nil {
		return zero, resp.StatusCode >= 500, fmt.Errorf("popup: decoding response: %w", err)
	}
	if !env.Success {
		return zero, resp.StatusCode >= 500, fmt.Errorf("popup: daemon rejected command: %s", env.Error)
	}
	return env.Data, false, nil
}

// GetSettings fetches the full settings record.
func (c *Client) GetSettings(ctx context.Context) (*domain.Settings, error) {
	return command[*domain.Settings](ctx, c, &api.Command{Action: api.ActionGetSettings})
}

// VerifyAlarm asks the daemon to reconcile its timer.
func (c *Client) VerifyAlarm(ctx context.Context) (*domain.VerifyResult, error) {
	return command[*domain.VerifyResult](ctx, c, &api.Command{Action: api.ActionVerifyAlarm})
}

// AlarmStatus fetches the authoritative next reminder time.
func (c *Client) AlarmStatus(ctx context.Context) (*domain.AlarmStatus, error) {
	return command[*domain.AlarmStatus](ctx, c, &api.Command{Action: api.ActionGetAlarmStatus})
}

// Snooze pushes the next reminder out by minutes.
func (c *Client) Snooze(ctx context.Context, minutes int) (int64, error) {
	data, err := command[map[string]int64](ctx, c, &api.Command{Action: api.ActionSnooze, Minutes: &minutes})
	if err != nil {
		return 0, err
	}
	return data["nextNotificationTime"], nil
}

// Toggle sets the reminder active state.
func (c *Client) Toggle(ctx context.Context, active bool) (*domain.Settings, error) {
	return command[*domain.Settings](ctx, c, &api.Command{Action: api.ActionToggle, IsActive: &active})
}
