// Package notify presents reminders to the user and handles the
// snooze interactions they trigger.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chimeapp/chime-server/internal/domain"
	"github.com/chimeapp/chime-server/internal/errors"
	"github.com/chimeapp/chime-server/internal/id"
	"github.com/chimeapp/chime-server/internal/sse"
)

// timeFormat is the clock rendering used in reminder text.
const timeFormat = "3:04 PM"

// SettingsStore is the slice of the settings store the presenter needs.
type SettingsStore interface {
	Settings(ctx context.Context) (*domain.Settings, error)
	UpdateSettings(ctx context.Context, update *domain.SettingsUpdate) (*domain.Settings, error)
}

// MessageGenerator produces reminder text. An empty result means the
// caller composes its own.
type MessageGenerator interface {
	Generate(ctx context.Context, pageURL, pageTitle, timeString string) string
}

// Scheduler re-arms the reminder timer after a snooze.
type Scheduler interface {
	Setup(ctx context.Context, intervalMinutes int, immediate bool, explicitNext *int64) (int64, error)
}

// PageInspector reports the user's foreground page, when one is known.
// The zero value of PageInfo is a valid "nothing in focus" answer.
type PageInspector interface {
	CurrentPage(ctx context.Context) (*domain.PageInfo, error)
}

// EventEmitter broadcasts shown and cleared reminders to popups.
type EventEmitter interface {
	Emit(event any)
}

// Presenter composes reminders and pushes them over the event stream.
type Presenter struct {
	store     SettingsStore
	generator MessageGenerator
	scheduler Scheduler
	pages     PageInspector
	emitter   EventEmitter
	logger    *slog.Logger

	mu          sync.Mutex
	activeID    string
	activeClear *time.Timer

	// now is replaceable in tests.
	now func() time.Time
}

func NewPresenter(store SettingsStore, generator MessageGenerator, scheduler Scheduler, pages PageInspector, emitter EventEmitter, log *slog.Logger) *Presenter {
	return &Presenter{
		store:     store,
		generator: generator,
		scheduler: scheduler,
		pages:     pages,
		emitter:   emitter,
		logger:    log.With("component", "presenter"),
		now:       time.Now,
	}
}

// Present shows a reminder for the current moment. When reminders are
// inactive it is a no-op. Generated text is preferred; if generation
// yields nothing a locally composed message is used, so a reminder is
// always shown.
func (p *Presenter) Present(ctx context.Context) error {
	rec, err := p.store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	if !rec.IsActive {
		p.logger.Debug("reminder suppressed, inactive")
		return nil
	}

	now := p.now()
	timeString := now.Format(timeFormat)

	page := &domain.PageInfo{}
	if p.pages != nil {
		if pi, err := p.pages.CurrentPage(ctx); err == nil && pi != nil {
			page = pi
		}
	}

	message := ""
	if p.generator != nil {
		message = p.generator.Generate(ctx, page.URL, page.Title, timeString)
	}
	generated := message != ""
	if !generated {
		message = fallbackMessage(timeString, minutesUntilNext(rec, now))
	}

	notification := &domain.Notification{
		ID:        id.Notification(now),
		Title:     "Chime",
		Message:   message,
		Buttons:   snoozeButtons(rec.DefaultSnoozeOptions),
		Silent:    !rec.SoundEnabled,
		TimeoutMs: rec.NotificationDuration,
	}

	p.emitter.Emit(sse.NewNotificationShownEvent(notification))
	p.scheduleClear(notification.ID, time.Duration(rec.NotificationDuration)*time.Millisecond)

	p.logger.Info("reminder shown", "id", notification.ID, "generated", generated)
	return nil
}

// Snooze pushes the next reminder out by `minutes` and rotates the
// quick-snooze options around the chosen value.
func (p *Presenter) Snooze(ctx context.Context, minutes int) (int64, error) {
	rec, err := p.store.Settings(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading settings: %w", err)
	}
	if minutes <= 0 {
		return 0, errors.Validationf("snooze minutes must be positive, got %d", minutes)
	}
	if minutes > rec.MaxSnoozeMinutes {
		return 0, errors.Validationf("snooze minutes must not exceed %d, got %d", rec.MaxSnoozeMinutes, minutes)
	}

	rotated := domain.RotateSnoozeOptions(rec.DefaultSnoozeOptions, minutes)
	if _, err := p.store.UpdateSettings(ctx, &domain.SettingsUpdate{DefaultSnoozeOptions: &rotated}); err != nil {
		return 0, fmt.Errorf("persisting snooze options: %w", err)
	}

	p.dismissActive()

	fireAtMs := p.now().Add(time.Duration(minutes) * time.Minute).UnixMilli()
	if _, err := p.scheduler.Setup(ctx, 0, false, &fireAtMs); err != nil {
		return 0, fmt.Errorf("re-arming after snooze: %w", err)
	}

	p.logger.Info("reminder snoozed", "minutes", minutes, "fire_at_ms", fireAtMs)
	return fireAtMs, nil
}

// HandleButton maps a clicked notification button to its snooze value.
func (p *Presenter) HandleButton(ctx context.Context, notificationID string, buttonIndex int) (int64, error) {
	rec, err := p.store.Settings(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading settings: %w", err)
	}
	if buttonIndex < 0 || buttonIndex >= len(rec.DefaultSnoozeOptions) {
		return 0, errors.Validationf("button index out of range: %d", buttonIndex)
	}
	p.logger.Debug("notification button clicked", "id", notificationID, "index", buttonIndex)
	return p.Snooze(ctx, rec.DefaultSnoozeOptions[buttonIndex])
}

// scheduleClear arranges the auto-dismiss broadcast and replaces any
// pending one so only the newest reminder is ever cleared.
func (p *Presenter) scheduleClear(notificationID string, after time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.activeClear != nil {
		p.activeClear.Stop()
	}
	p.activeID = notificationID
	p.activeClear = time.AfterFunc(after, func() {
		p.mu.Lock()
		if p.activeID == notificationID {
			p.activeID = ""
			p.activeClear = nil
		}
		p.mu.Unlock()
		p.emitter.Emit(sse.NewNotificationClearedEvent(notificationID))
	})
}

// dismissActive clears a currently shown reminder ahead of its timeout.
func (p *Presenter) dismissActive() {
	p.mu.Lock()
	activeID := p.activeID
	if p.activeClear != nil {
		p.activeClear.Stop()
		p.activeClear = nil
	}
	p.activeID = ""
	p.mu.Unlock()

	if activeID != "" {
		p.emitter.Emit(sse.NewNotificationClearedEvent(activeID))
	}
}

func fallbackMessage(timeString string, minutesLeft int) string {
	return fmt.Sprintf("It's %s. Next reminder in %d minutes.", timeString, minutesLeft)
}

// minutesUntilNext is the countdown shown in fallback text: the time
// remaining on the pending schedule when one is still ahead, otherwise
// the configured interval (a reminder shown at its fire time is about
// to be re-armed one interval out).
func minutesUntilNext(rec *domain.Settings, now time.Time) int {
	if rec.NextNotificationTime != nil {
		if remaining := time.UnixMilli(*rec.NextNotificationTime).Sub(now); remaining > 0 {
			minutes := int(remaining.Round(time.Minute) / time.Minute)
			return max(minutes, 1)
		}
	}
	return rec.NotificationInterval
}

func snoozeButtons(options [2]int) []string {
	buttons := make([]string, 0, len(options))
	for _, m := range options {
		buttons = append(buttons, fmt.Sprintf("Snooze %d min", m))
	}
	return buttons
}
