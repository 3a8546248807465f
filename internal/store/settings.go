package store

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/chimeapp/chime-server/internal/domain"
	"github.com/chimeapp/chime-server/internal/retry"
	"github.com/chimeapp/chime-server/internal/sse"
)

// The settings record lives as one flat key per field so a partially written
// namespace from an older daemon still merges cleanly over the defaults.
const settingsPrefix = "settings:"

// Field key suffixes. These are the wire names of the record, reused as
// storage keys so the namespace reads as the record itself.
const (
	keyIsActive             = "isActive"
	keySoundEnabled         = "soundEnabled"
	keyNotificationInterval = "notificationInterval"
	keyNextNotificationTime = "nextNotificationTime"
	keyNotificationDuration = "notificationDuration"
	keyMaxSnoozeMinutes     = "maxSnoozeMinutes"
	keyDefaultSnoozeOptions = "defaultSnoozeOptions"
	keyAPIKey               = "apiKey"
	keyDefaultPrompt        = "defaultPrompt"
	keyCustomPrompt         = "customPrompt"
	keyGeminiInitialized    = "geminiInitialized"
)

// Initialize hydrates the in-memory mirror from disk, merging persisted keys
// over compiled-in defaults. It is idempotent: once hydrated, it returns
// immediately. If the stored record cannot be loaded or fails validation, the
// store falls back to defaults and rewrites them; only a failure of that
// rewrite is surfaced, and the mirror is left unhydrated so the next call
// retries the whole sequence.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hydrated {
		return nil
	}

	usedDefaults := false
	rec, err := s.loadMerged(ctx)
	if err == nil {
		err = rec.Validate()
	}
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("stored settings unusable, falling back to defaults", "error", err)
		}
		rec = domain.NewSettings()
		usedDefaults = true
	}

	needPersist := usedDefaults
	if rec.IsActive && rec.NextNotificationTime == nil {
		next := time.Now().Add(time.Duration(rec.NotificationInterval) * time.Minute).UnixMilli()
		rec.NextNotificationTime = &next
		needPersist = true
	}

	if needPersist {
		if perr := s.persist(ctx, rec); perr != nil {
			if usedDefaults {
				return fmt.Errorf("settings initialization failed: could not write defaults: %w", perr)
			}
			return fmt.Errorf("settings initialization failed: %w", perr)
		}
	}

	s.settings = rec
	s.hydrated = true

	if s.logger != nil {
		s.logger.Info("settings hydrated",
			"is_active", rec.IsActive,
			"interval_min", rec.NotificationInterval,
			"used_defaults", usedDefaults)
	}
	return nil
}

// Settings returns a copy of the current record, hydrating the mirror first
// if needed. Callers may mutate the returned value freely.
func (s *Store) Settings(ctx context.Context) (*domain.Settings, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone(), nil
}

// UpdateSettings validates the merged result of applying the update and, only
// if valid, persists it and swaps the mirror. On validation failure nothing is
// mutated. The write is a single transaction, so a failed persist can never
// leave a half-applied record on disk.
func (s *Store) UpdateSettings(ctx context.Context, update *domain.SettingsUpdate) (*domain.Settings, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := update.Apply(s.settings)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	if err := s.persist(ctx, merged); err != nil {
		return nil, err
	}

	s.settings = merged
	s.emitter.Emit(sse.NewSettingsChangedEvent(merged.Clone()))
	return merged.Clone(), nil
}

// SetNextNotificationTime persists the next fire time; nil records "not scheduled".
func (s *Store) SetNextNotificationTime(ctx context.Context, at *int64) error {
	_, err := s.UpdateSettings(ctx, &domain.SettingsUpdate{
		NextNotificationTime:    at,
		SetNextNotificationTime: true,
	})
	return err
}

// ResetToDefaults discards the stored record and mirror in favor of compiled-in
// defaults. This is the last-resort recovery used when the fire-handling chain
// fails: user customization is sacrificed to keep the reminder loop alive.
func (s *Store) ResetToDefaults(ctx context.Context) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := domain.NewSettings()
	if err := s.persist(ctx, rec); err != nil {
		return nil, fmt.Errorf("settings reset failed: %w", err)
	}

	s.settings = rec
	s.hydrated = true
	s.emitter.Emit(sse.NewSettingsChangedEvent(rec.Clone()))

	if s.logger != nil {
		s.logger.Warn("settings reset to defaults")
	}
	return rec.Clone(), nil
}

// loadMerged reads every persisted settings key and merges it over a defaults
// record. Unknown keys are ignored so an older daemon can read a newer store.
func (s *Store) loadMerged(ctx context.Context) (*domain.Settings, error) {
	rec := domain.NewSettings()

	err := retry.Void(ctx, retry.DefaultAttempts, retry.DefaultBaseDelay, func(_ context.Context) error {
		fresh := domain.NewSettings()
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(settingsPrefix)
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				name := string(item.Key()[len(settingsPrefix):])
				if err := item.Value(func(val []byte) error {
					return unmarshalField(fresh, name, val)
				}); err != nil {
					return fmt.Errorf("read %s%s: %w", settingsPrefix, name, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		rec = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// persist writes the full record, one key per field, in a single transaction.
// Transient I/O failures are retried with backoff.
func (s *Store) persist(ctx context.Context, rec *domain.Settings) error {
	fields, err := marshalFields(rec)
	if err != nil {
		return err
	}

	return retry.Void(ctx, retry.DefaultAttempts, retry.DefaultBaseDelay, func(_ context.Context) error {
		return s.db.Update(func(txn *badger.Txn) error {
			for name, val := range fields {
				if err := txn.Set([]byte(settingsPrefix+name), val); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// unmarshalField decodes one stored field into the record. Unknown names are
// skipped: they may belong to a newer daemon version.
func unmarshalField(rec *domain.Settings, name string, val []byte) error {
	switch name {
	case keyIsActive:
		return json.Unmarshal(val, &rec.IsActive)
	case keySoundEnabled:
		return json.Unmarshal(val, &rec.SoundEnabled)
	case keyNotificationInterval:
		return json.Unmarshal(val, &rec.NotificationInterval)
	case keyNextNotificationTime:
		return json.Unmarshal(val, &rec.NextNotificationTime)
	case keyNotificationDuration:
		return json.Unmarshal(val, &rec.NotificationDuration)
	case keyMaxSnoozeMinutes:
		return json.Unmarshal(val, &rec.MaxSnoozeMinutes)
	case keyDefaultSnoozeOptions:
		return json.Unmarshal(val, &rec.DefaultSnoozeOptions)
	case keyAPIKey:
		return json.Unmarshal(val, &rec.APIKey)
	case keyDefaultPrompt:
		return json.Unmarshal(val, &rec.DefaultPrompt)
	case keyCustomPrompt:
		return json.Unmarshal(val, &rec.CustomPrompt)
	case keyGeminiInitialized:
		return json.Unmarshal(val, &rec.GeminiInitialized)
	default:
		return nil
	}
}

// marshalFields encodes every field of the record under its key suffix.
func marshalFields(rec *domain.Settings) (map[string][]byte, error) {
	out := make(map[string][]byte, 11)
	encode := func(name string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		out[name] = data
		return nil
	}

	steps := []struct {
		name  string
		value any
	}{
		{keyIsActive, rec.IsActive},
		{keySoundEnabled, rec.SoundEnabled},
		{keyNotificationInterval, rec.NotificationInterval},
		{keyNextNotificationTime, rec.NextNotificationTime},
		{keyNotificationDuration, rec.NotificationDuration},
		{keyMaxSnoozeMinutes, rec.MaxSnoozeMinutes},
		{keyDefaultSnoozeOptions, rec.DefaultSnoozeOptions},
		{keyAPIKey, rec.APIKey},
		{keyDefaultPrompt, rec.DefaultPrompt},
		{keyCustomPrompt, rec.CustomPrompt},
		{keyGeminiInitialized, rec.GeminiInitialized},
	}
	for _, step := range steps {
		if err := encode(step.name, step.value); err != nil {
			return nil, err
		}
	}
	return out, nil
}
