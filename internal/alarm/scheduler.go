package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chimeapp/chime-server/internal/domain"
	"github.com/chimeapp/chime-server/internal/errors"
	"github.com/chimeapp/chime-server/internal/sse"
)

// reconcileTolerance is how far the live timer may drift from the
// persisted schedule before Verify corrects it.
const reconcileTolerance = time.Second

// SettingsStore is the slice of the settings store the scheduler needs.
type SettingsStore interface {
	Initialize(ctx context.Context) error
	Settings(ctx context.Context) (*domain.Settings, error)
	SetNextNotificationTime(ctx context.Context, at *int64) error
	ResetToDefaults(ctx context.Context) (*domain.Settings, error)
}

// Presenter shows a reminder when the timer fires. It is attached after
// construction because the presenter's snooze path re-arms through the
// scheduler.
type Presenter interface {
	Present(ctx context.Context) error
}

// EventEmitter broadcasts schedule changes to connected popups.
type EventEmitter interface {
	Emit(event any)
}

// Scheduler keeps exactly one pending reminder timer in agreement with
// the persisted nextNotificationTime. The persisted record is the
// source of truth; the live timer is rebuilt from it after a restart.
type Scheduler struct {
	store   SettingsStore
	timers  *Registry
	emitter EventEmitter
	logger  *slog.Logger

	mu        sync.RWMutex
	presenter Presenter

	// opMu serializes schedule mutations so a timer that fires during
	// Setup cannot interleave its re-arm with the in-flight persist.
	opMu sync.Mutex

	// now is replaceable in tests.
	now func() time.Time
}

func NewScheduler(store SettingsStore, timers *Registry, emitter EventEmitter, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		timers:  timers,
		emitter: emitter,
		logger:  log.With("component", "scheduler"),
		now:     time.Now,
	}
}

// SetPresenter attaches the notification presenter. Must be called
// before the first timer can fire.
func (s *Scheduler) SetPresenter(p Presenter) {
	s.mu.Lock()
	s.presenter = p
	s.mu.Unlock()
}

func (s *Scheduler) currentPresenter() Presenter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presenter
}

// Setup arms the reminder timer and persists its fire time. The fire
// time is, in priority order: explicitNext (unix ms), "immediately"
// when immediate is set, otherwise now plus intervalMinutes.
//
// It rejects with a validation error when reminders are inactive, when
// explicitNext is not strictly in the future, or when intervalMinutes
// falls outside 1..maxSnoozeMinutes.
//
// The timer is created before the schedule is persisted; if the persist
// fails the timer is torn down again so disk and memory never disagree.
func (s *Scheduler) Setup(ctx context.Context, intervalMinutes int, immediate bool, explicitNext *int64) (int64, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.setupLocked(ctx, intervalMinutes, immediate, explicitNext)
}

func (s *Scheduler) setupLocked(ctx context.Context, intervalMinutes int, immediate bool, explicitNext *int64) (int64, error) {
	rec, err := s.store.Settings(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading settings: %w", err)
	}
	if !rec.IsActive {
		// Arming while inactive is a caller error. Make sure nothing
		// stale stays behind either way.
		s.timers.Clear(domain.AlarmName)
		if rec.NextNotificationTime != nil {
			if err := s.store.SetNextNotificationTime(ctx, nil); err != nil {
				return 0, fmt.Errorf("clearing schedule: %w", err)
			}
		}
		return 0, errors.Validation("reminders are inactive, nothing to schedule")
	}

	var fireAt time.Time
	switch {
	case explicitNext != nil:
		fireAt = time.UnixMilli(*explicitNext)
		if !fireAt.After(s.now()) {
			return 0, errors.Validationf("explicit fire time must be in the future, got %d", *explicitNext)
		}
	case immediate:
		fireAt = s.now()
	default:
		if intervalMinutes <= 0 || intervalMinutes > rec.MaxSnoozeMinutes {
			return 0, errors.Validationf("interval must be between 1 and %d minutes, got %d", rec.MaxSnoozeMinutes, intervalMinutes)
		}
		fireAt = s.now().Add(time.Duration(intervalMinutes) * time.Minute)
	}
	fireAtMs := fireAt.UnixMilli()

	s.timers.Create(domain.AlarmName, fireAt, s.handleFire)
	if _, ok := s.timers.Get(domain.AlarmName); !ok && fireAt.After(s.now()) {
		return 0, errors.Internal("timer registration could not be confirmed")
	}

	if err := s.store.SetNextNotificationTime(ctx, &fireAtMs); err != nil {
		s.timers.Clear(domain.AlarmName)
		return 0, fmt.Errorf("persisting schedule: %w", err)
	}

	// Read back what actually landed on disk.
	persisted, err := s.store.Settings(ctx)
	if err != nil {
		return 0, fmt.Errorf("verifying persisted schedule: %w", err)
	}
	if persisted.NextNotificationTime == nil || *persisted.NextNotificationTime != fireAtMs {
		s.timers.Clear(domain.AlarmName)
		return 0, errors.Internal("persisted schedule does not match armed timer")
	}

	s.emitter.Emit(sse.NewAlarmRearmedEvent(fireAtMs))
	s.logger.Info("reminder armed", "fire_at", fireAt, "interval_min", intervalMinutes)
	return fireAtMs, nil
}

// Cleanup clears the pending timer and records "not scheduled".
func (s *Scheduler) Cleanup(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.timers.Clear(domain.AlarmName)
	if err := s.store.SetNextNotificationTime(ctx, nil); err != nil {
		return fmt.Errorf("clearing schedule: %w", err)
	}
	s.emitter.Emit(sse.NewAlarmClearedEvent())
	s.logger.Info("reminder cleared")
	return nil
}

// Status reports the persisted schedule. The persisted record, not the
// live timer, answers "when is the next reminder".
func (s *Scheduler) Status(ctx context.Context) (*domain.AlarmStatus, error) {
	rec, err := s.store.Settings(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.AlarmStatus{
		NextNotificationTime: rec.NextNotificationTime,
		IsActive:             rec.IsActive,
	}, nil
}

// Verify reconciles the live timer against the persisted schedule:
//
//   - inactive: no timer and no persisted time may remain
//   - active with a future persisted time: the timer must exist within
//     tolerance of it, else it is re-armed at the persisted time
//   - active with a missed or missing time: a fresh timer is armed one
//     interval out
func (s *Scheduler) Verify(ctx context.Context) (*domain.VerifyResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	rec, err := s.store.Settings(ctx)
	if err != nil {
		return nil, err
	}

	if !rec.IsActive {
		changed := s.timers.Clear(domain.AlarmName)
		if rec.NextNotificationTime != nil {
			if err := s.store.SetNextNotificationTime(ctx, nil); err != nil {
				return nil, err
			}
			changed = true
		}
		if changed {
			s.logger.Info("reconciled: cleared schedule for inactive reminder")
		}
		return &domain.VerifyResult{NeedsUpdate: changed}, nil
	}

	now := s.now()
	if rec.NextNotificationTime != nil {
		want := time.UnixMilli(*rec.NextNotificationTime)
		if want.After(now) {
			if live, ok := s.timers.Get(domain.AlarmName); ok {
				if drift := live.Sub(want); drift > -reconcileTolerance && drift < reconcileTolerance {
					return &domain.VerifyResult{NeedsUpdate: false}, nil
				}
			}
			// Timer missing or drifted; re-arm at the persisted time.
			ms, err := s.setupLocked(ctx, rec.NotificationInterval, false, rec.NextNotificationTime)
			if err != nil {
				return nil, err
			}
			s.logger.Warn("reconciled: timer re-armed at persisted time", "fire_at_ms", ms)
			return &domain.VerifyResult{NeedsUpdate: true, CorrectTime: &ms}, nil
		}
	}

	// No schedule, or the fire time was missed while the daemon was down.
	ms, err := s.setupLocked(ctx, rec.NotificationInterval, false, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("reconciled: fresh timer armed", "fire_at_ms", ms)
	return &domain.VerifyResult{NeedsUpdate: true, CorrectTime: &ms}, nil
}

// handleFire runs the reminder chain when the timer fires. Any failure,
// including a panic, falls through to last-resort recovery so the
// reminder loop never silently dies.
func (s *Scheduler) handleFire(name string) {
	if name != domain.AlarmName {
		return
	}
	ctx := context.Background()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("reminder chain panicked: %v", r)
			}
		}()
		return s.fireChain(ctx)
	}()
	if err != nil {
		// A concurrent deactivation makes the re-arm a validation
		// rejection; that ends the loop on purpose, not catastrophically.
		if errors.IsValidation(err) {
			s.logger.Warn("reminder chain stopped", "error", err)
			return
		}
		s.logger.Error("reminder chain failed, resetting to defaults", "error", err)
		s.recoverDefaults(ctx)
	}
}

func (s *Scheduler) fireChain(ctx context.Context) error {
	if err := s.store.Initialize(ctx); err != nil {
		return fmt.Errorf("hydrating settings: %w", err)
	}
	rec, err := s.store.Settings(ctx)
	if err != nil {
		return err
	}
	if !rec.IsActive {
		// Stale fire from before a deactivation; drop the schedule.
		return s.Cleanup(ctx)
	}

	if p := s.currentPresenter(); p != nil {
		if err := p.Present(ctx); err != nil {
			return fmt.Errorf("presenting reminder: %w", err)
		}
	}

	// The consumed schedule is dropped before the next one is armed; a
	// crash in between leaves a gap reconciliation will fill.
	if err := s.Cleanup(ctx); err != nil {
		return fmt.Errorf("clearing fired schedule: %w", err)
	}
	if _, err := s.Setup(ctx, rec.NotificationInterval, false, nil); err != nil {
		return fmt.Errorf("re-arming reminder: %w", err)
	}
	return nil
}

// recoverDefaults sacrifices user customization to keep the loop alive:
// the record is reset to compiled-in defaults and a fresh timer armed.
func (s *Scheduler) recoverDefaults(ctx context.Context) {
	rec, err := s.store.ResetToDefaults(ctx)
	if err != nil {
		s.logger.Error("recovery failed: could not reset settings", "error", err)
		return
	}
	if _, err := s.Setup(ctx, rec.NotificationInterval, false, nil); err != nil {
		s.logger.Error("recovery failed: could not re-arm timer", "error", err)
	}
}
