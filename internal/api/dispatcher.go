package api

import (
	"context"
	"log/slog"

	"github.com/chimeapp/chime-server/internal/domain"
	"github.com/chimeapp/chime-server/internal/errors"
	"github.com/chimeapp/chime-server/internal/validation"
)

// Command actions understood by the dispatcher.
const (
	ActionSnooze           = "snooze"
	ActionNotification     = "notification"
	ActionSaveAPIKey       = "saveApiKey"
	ActionToggle           = "toggle"
	ActionUpdateSound      = "updateSound"
	ActionGetSettings      = "getSettings"
	ActionSaveCustomPrompt = "saveCustomPrompt"
	ActionSetNextAlert     = "setNextAlert"
	ActionVerifyAlarm      = "verifyAlarm"
	ActionGetAlarmStatus   = "getAlarmStatus"
)

// Command is the single request shape of the command surface. Action
// selects the operation; the remaining fields are its payload.
type Command struct {
	Action string `json:"action" validate:"required"`

	Minutes        *int    `json:"minutes,omitempty"`
	APIKey         *string `json:"apiKey,omitempty"`
	IsActive       *bool   `json:"isActive,omitempty"`
	SoundEnabled   *bool   `json:"soundEnabled,omitempty"`
	Prompt         *string `json:"prompt,omitempty"`
	Time           *int64  `json:"time,omitempty"`
	NotificationID string  `json:"notificationId,omitempty"`
	ButtonIndex    *int    `json:"buttonIndex,omitempty"`
}

// SettingsStore is the slice of the settings store the dispatcher needs.
type SettingsStore interface {
	Initialize(ctx context.Context) error
	Settings(ctx context.Context) (*domain.Settings, error)
	UpdateSettings(ctx context.Context, update *domain.SettingsUpdate) (*domain.Settings, error)
}

// Scheduler is the alarm surface exposed through commands.
type Scheduler interface {
	Setup(ctx context.Context, intervalMinutes int, immediate bool, explicitNext *int64) (int64, error)
	Cleanup(ctx context.Context) error
	Verify(ctx context.Context) (*domain.VerifyResult, error)
	Status(ctx context.Context) (*domain.AlarmStatus, error)
}

// Presenter is the notification surface exposed through commands.
type Presenter interface {
	Present(ctx context.Context) error
	Snooze(ctx context.Context, minutes int) (int64, error)
	HandleButton(ctx context.Context, notificationID string, buttonIndex int) (int64, error)
}

// CredentialValidator checks a generative-text API key before it is saved.
type CredentialValidator interface {
	ValidateCredential(ctx context.Context, apiKey string) bool
}

// Dispatcher routes commands to the component that owns each action.
// Every command hydrates the settings store first, so the surface works
// immediately after a cold start.
type Dispatcher struct {
	store       SettingsStore
	scheduler   Scheduler
	presenter   Presenter
	credentials CredentialValidator
	validator   *validation.Validator
	logger      *slog.Logger
}

func NewDispatcher(store SettingsStore, scheduler Scheduler, presenter Presenter, credentials CredentialValidator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		scheduler:   scheduler,
		presenter:   presenter,
		credentials: credentials,
		validator:   validation.New(),
		logger:      logger.With("component", "dispatcher"),
	}
}

// Dispatch executes one command and returns its response payload. All
// failures come back as domain errors so the HTTP layer can map them to
// envelope responses uniformly.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *Command) (any, error) {
	if err := d.validator.Validate(cmd); err != nil {
		return nil, err
	}
	if err := d.store.Initialize(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "settings store unavailable")
	}

	d.logger.Debug("dispatching command", "action", cmd.Action)

	switch cmd.Action {
	case ActionSnooze:
		return d.snooze(ctx, cmd)
	case ActionNotification:
		return d.notification(ctx, cmd)
	case ActionSaveAPIKey:
		return d.saveAPIKey(ctx, cmd)
	case ActionToggle:
		return d.toggle(ctx, cmd)
	case ActionUpdateSound:
		return d.updateSound(ctx, cmd)
	case ActionGetSettings:
		return d.getSettings(ctx)
	case ActionSaveCustomPrompt:
		return d.saveCustomPrompt(ctx, cmd)
	case ActionSetNextAlert:
		return d.setNextAlert(ctx, cmd)
	case ActionVerifyAlarm:
		return d.scheduler.Verify(ctx)
	case ActionGetAlarmStatus:
		return d.scheduler.Status(ctx)
	default:
		return nil, errors.Validationf("unknown action %q", cmd.Action)
	}
}

func (d *Dispatcher) snooze(ctx context.Context, cmd *Command) (any, error) {
	if cmd.Minutes == nil {
		return nil, errors.Validation("snooze requires minutes")
	}
	fireAtMs, err := d.presenter.Snooze(ctx, *cmd.Minutes)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"nextNotificationTime": fireAtMs}, nil
}

// notification reports a clicked reminder button, changes the reminder
// interval when the payload carries minutes, or, with neither, shows a
// reminder right now.
func (d *Dispatcher) notification(ctx context.Context, cmd *Command) (any, error) {
	if cmd.ButtonIndex != nil {
		fireAtMs, err := d.presenter.HandleButton(ctx, cmd.NotificationID, *cmd.ButtonIndex)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"nextNotificationTime": fireAtMs}, nil
	}
	if cmd.Minutes != nil {
		settings, err := d.store.UpdateSettings(ctx, &domain.SettingsUpdate{NotificationInterval: cmd.Minutes})
		if err != nil {
			return nil, err
		}
		// The new cadence takes effect right away, not at the next fire.
		if settings.IsActive {
			if _, err := d.scheduler.Setup(ctx, settings.NotificationInterval, false, nil); err != nil {
				return nil, err
			}
		}
		return d.store.Settings(ctx)
	}
	if err := d.presenter.Present(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "could not present reminder")
	}
	return nil, nil
}

func (d *Dispatcher) saveAPIKey(ctx context.Context, cmd *Command) (any, error) {
	if cmd.APIKey == nil || *cmd.APIKey == "" {
		return nil, errors.Validation("saveApiKey requires apiKey")
	}
	if !d.credentials.ValidateCredential(ctx, *cmd.APIKey) {
		return nil, errors.Validation("API key could not be verified")
	}

	initialized := true
	settings, err := d.store.UpdateSettings(ctx, &domain.SettingsUpdate{
		APIKey:            cmd.APIKey,
		GeminiInitialized: &initialized,
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// toggle sets the active flag, or flips it when the payload names no
// target state. Activation arms a fresh timer, deactivation clears it.
func (d *Dispatcher) toggle(ctx context.Context, cmd *Command) (any, error) {
	current, err := d.store.Settings(ctx)
	if err != nil {
		return nil, err
	}

	target := !current.IsActive
	if cmd.IsActive != nil {
		target = *cmd.IsActive
	}

	settings, err := d.store.UpdateSettings(ctx, &domain.SettingsUpdate{IsActive: &target})
	if err != nil {
		return nil, err
	}

	if target {
		if _, err := d.scheduler.Setup(ctx, settings.NotificationInterval, false, nil); err != nil {
			return nil, err
		}
	} else {
		if err := d.scheduler.Cleanup(ctx); err != nil {
			return nil, err
		}
	}

	// Re-read: the scheduler rewrote nextNotificationTime.
	return d.store.Settings(ctx)
}

func (d *Dispatcher) updateSound(ctx context.Context, cmd *Command) (any, error) {
	if cmd.SoundEnabled == nil {
		return nil, errors.Validation("updateSound requires soundEnabled")
	}
	return d.store.UpdateSettings(ctx, &domain.SettingsUpdate{SoundEnabled: cmd.SoundEnabled})
}

func (d *Dispatcher) getSettings(ctx context.Context) (any, error) {
	return d.store.Settings(ctx)
}

func (d *Dispatcher) saveCustomPrompt(ctx context.Context, cmd *Command) (any, error) {
	if cmd.Prompt == nil {
		return nil, errors.Validation("saveCustomPrompt requires prompt")
	}
	if len(*cmd.Prompt) > 2000 {
		return nil, errors.Validation("prompt must not exceed 2000 characters")
	}
	// An empty prompt reverts to the built-in template.
	return d.store.UpdateSettings(ctx, &domain.SettingsUpdate{CustomPrompt: cmd.Prompt})
}

func (d *Dispatcher) setNextAlert(ctx context.Context, cmd *Command) (any, error) {
	if cmd.Time == nil {
		return nil, errors.Validation("setNextAlert requires time")
	}
	if *cmd.Time <= 0 {
		return nil, errors.Validationf("time must be a positive unix ms timestamp, got %d", *cmd.Time)
	}
	fireAtMs, err := d.scheduler.Setup(ctx, 0, false, cmd.Time)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"nextNotificationTime": fireAtMs}, nil
}
