package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimeapp/chime-server/internal/domain"
	"github.com/chimeapp/chime-server/internal/errors"
	"github.com/chimeapp/chime-server/internal/sse"
)

// captureEmitter records emitted events for assertions.
type captureEmitter struct {
	mu     sync.Mutex
	events []sse.Event
}

func (c *captureEmitter) Emit(event any) {
	evt, ok := event.(sse.Event)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) count(kind sse.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == kind {
			n++
		}
	}
	return n
}

func setupTestStore(t *testing.T) (*Store, *captureEmitter) {
	t.Helper()

	emitter := &captureEmitter{}
	s, err := New(t.TempDir(), nil, emitter)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, emitter
}

func TestInitialize_FreshInstall(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	before := time.Now()
	require.NoError(t, s.Initialize(ctx))

	settings, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.IsActive)
	assert.Equal(t, domain.DefaultIntervalMinutes, settings.NotificationInterval)

	// Active with no stored next time: Initialize computes now + interval.
	require.NotNil(t, settings.NextNotificationTime)
	expected := before.Add(domain.DefaultIntervalMinutes * time.Minute).UnixMilli()
	assert.InDelta(t, expected, *settings.NextNotificationTime, 1000)
}

func TestInitialize_Idempotent(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Initialize(ctx))
	first, err := s.Settings(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Initialize(ctx))
	second, err := s.Settings(ctx)
	require.NoError(t, err)

	assert.Equal(t, *first.NextNotificationTime, *second.NextNotificationTime)
}

func TestUpdateSettings_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(dir, nil, NewNoopEmitter())
	require.NoError(t, err)

	interval := 10
	custom := "the time is {time}"
	_, err = s.UpdateSettings(ctx, &domain.SettingsUpdate{
		NotificationInterval: &interval,
		CustomPrompt:         &custom,
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// A new store at the same path simulates a daemon restart: the mirror is
	// gone, the persisted keys must win over defaults.
	s2, err := New(dir, nil, NewNoopEmitter())
	require.NoError(t, err)
	defer s2.Close()

	settings, err := s2.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, settings.NotificationInterval)
	assert.Equal(t, custom, settings.CustomPrompt)
}

func TestUpdateSettings_RejectsInvalidWithoutMutation(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	before, err := s.Settings(ctx)
	require.NoError(t, err)

	zero := 0
	_, err = s.UpdateSettings(ctx, &domain.SettingsUpdate{NotificationInterval: &zero})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	after, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.NotificationInterval, after.NotificationInterval)
}

func TestUpdateSettings_RejectsIntervalAboveMaxSnooze(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	tooBig := domain.DefaultMaxSnoozeMinutes + 1
	_, err := s.UpdateSettings(ctx, &domain.SettingsUpdate{NotificationInterval: &tooBig})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestUpdateSettings_EmitsChangeEvent(t *testing.T) {
	s, emitter := setupTestStore(t)
	ctx := context.Background()

	enabled := false
	_, err := s.UpdateSettings(ctx, &domain.SettingsUpdate{SoundEnabled: &enabled})
	require.NoError(t, err)

	assert.Equal(t, 1, emitter.count(sse.EventSettingsChanged))
}

func TestSetNextNotificationTime(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	at := time.Now().Add(5 * time.Minute).UnixMilli()
	require.NoError(t, s.SetNextNotificationTime(ctx, &at))

	settings, err := s.Settings(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings.NextNotificationTime)
	assert.Equal(t, at, *settings.NextNotificationTime)

	require.NoError(t, s.SetNextNotificationTime(ctx, nil))
	settings, err = s.Settings(ctx)
	require.NoError(t, err)
	assert.Nil(t, settings.NextNotificationTime)
}

func TestResetToDefaults(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	interval := 30
	key := "secret-key"
	_, err := s.UpdateSettings(ctx, &domain.SettingsUpdate{
		NotificationInterval: &interval,
		APIKey:               &key,
	})
	require.NoError(t, err)

	reset, err := s.ResetToDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultIntervalMinutes, reset.NotificationInterval)
	assert.Nil(t, reset.APIKey)

	settings, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultIntervalMinutes, settings.NotificationInterval)
}

func TestSettings_ReturnsClone(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	first, err := s.Settings(ctx)
	require.NoError(t, err)
	first.NotificationInterval = 999

	second, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultIntervalMinutes, second.NotificationInterval)
}
