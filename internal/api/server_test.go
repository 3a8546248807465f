package api

import (
	"bytes"
	"context"
	"encoding/json/v2"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimeapp/chime-server/internal/alarm"
	"github.com/chimeapp/chime-server/internal/domain"
	"github.com/chimeapp/chime-server/internal/http/response"
	"github.com/chimeapp/chime-server/internal/notify"
	"github.com/chimeapp/chime-server/internal/sse"
	"github.com/chimeapp/chime-server/internal/store"
)

type stubCredentials struct{ valid bool }

func (s *stubCredentials) ValidateCredential(context.Context, string) bool { return s.valid }

type stubGenerator struct{ text string }

func (s *stubGenerator) Generate(context.Context, string, string, string) string { return s.text }

type testEnv struct {
	server      *httptest.Server
	store       *store.Store
	timers      *alarm.Registry
	credentials *stubCredentials
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	discard := slog.New(slog.DiscardHandler)

	manager := sse.NewManager(discard)
	st, err := store.New(t.TempDir(), discard, manager)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	timers := alarm.NewRegistry(discard)
	t.Cleanup(timers.ClearAll)
	scheduler := alarm.NewScheduler(st, timers, manager, discard)

	presenter := notify.NewPresenter(st, &stubGenerator{}, scheduler, nil, manager, discard)
	scheduler.SetPresenter(presenter)

	credentials := &stubCredentials{valid: true}
	dispatcher := NewDispatcher(st, scheduler, presenter, credentials, discard)
	server := NewServer(dispatcher, sse.NewHandler(manager, discard), "http://localhost", discard)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: st, timers: timers, credentials: credentials}
}

func (e *testEnv) command(t *testing.T, body string) (int, response.Envelope) {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/api/v1/command", "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	defer resp.Body.Close()

	var env response.Envelope
	require.NoError(t, json.UnmarshalRead(resp.Body, &env))
	return resp.StatusCode, env
}

func dataMap(t *testing.T, env response.Envelope) map[string]any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	require.True(t, ok, "expected object data, got %T", env.Data)
	return m
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body response.Envelope
	require.NoError(t, json.UnmarshalRead(resp.Body, &body))
	assert.True(t, body.Success)
}

func TestGetSettingsReturnsDefaults(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.command(t, `{"action":"getSettings"}`)
	require.Equal(t, http.StatusOK, status)
	require.True(t, body.Success)

	data := dataMap(t, body)
	assert.Equal(t, true, data["isActive"])
	assert.Equal(t, float64(domain.DefaultIntervalMinutes), data["notificationInterval"])
	assert.Equal(t, float64(domain.DefaultDurationMs), data["notificationDuration"])
	assert.NotNil(t, data["nextNotificationTime"], "fresh install schedules the first reminder")
}

func TestUnknownActionFails(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.command(t, `{"action":"launchMissiles"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "unknown action")
}

func TestMalformedPayloadFails(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.command(t, `{"action":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, body.Success)
}

func TestMissingActionFails(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.command(t, `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, body.Success)
}

func TestSnoozeCommand(t *testing.T) {
	env := newTestEnv(t)

	before := time.Now().Add(20 * time.Minute).UnixMilli()
	status, body := env.command(t, `{"action":"snooze","minutes":20}`)
	require.Equal(t, http.StatusOK, status)
	require.True(t, body.Success)

	fireAt := int64(dataMap(t, body)["nextNotificationTime"].(float64))
	assert.GreaterOrEqual(t, fireAt, before)

	rec, err := env.store.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [2]int{15, 20}, rec.DefaultSnoozeOptions)
	require.NotNil(t, rec.NextNotificationTime)
	assert.Equal(t, fireAt, *rec.NextNotificationTime)
}

func TestSnoozeCommandRejectsOutOfRange(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.command(t, `{"action":"snooze","minutes":500}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, body.Success)

	status, body = env.command(t, `{"action":"snooze"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, body.Success)
}

func TestToggleCommand(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.command(t, `{"action":"toggle","isActive":false}`)
	require.Equal(t, http.StatusOK, status)
	data := dataMap(t, body)
	assert.Equal(t, false, data["isActive"])
	assert.Nil(t, data["nextNotificationTime"])
	_, ok := env.timers.Get(domain.AlarmName)
	assert.False(t, ok)

	status, body = env.command(t, `{"action":"toggle"}`)
	require.Equal(t, http.StatusOK, status)
	data = dataMap(t, body)
	assert.Equal(t, true, data["isActive"])
	assert.NotNil(t, data["nextNotificationTime"])
	_, ok = env.timers.Get(domain.AlarmName)
	assert.True(t, ok)
}

func TestUpdateSoundCommand(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.command(t, `{"action":"updateSound","soundEnabled":false}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, dataMap(t, body)["soundEnabled"])

	status, body = env.command(t, `{"action":"updateSound"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, body.Success)
}

func TestSaveAPIKeyCommand(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.command(t, `{"action":"saveApiKey","apiKey":"AIza-test-key"}`)
	require.Equal(t, http.StatusOK, status)
	data := dataMap(t, body)
	assert.Equal(t, "AIza-test-key", data["apiKey"])
	assert.Equal(t, true, data["geminiInitialized"])
}

func TestSaveAPIKeyCommandRejectsUnverifiable(t *testing.T) {
	env := newTestEnv(t)
	env.credentials.valid = false

	status, body := env.command(t, `{"action":"saveApiKey","apiKey":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body.Error, "verified")

	rec, err := env.store.Settings(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec.APIKey)
}

func TestSaveCustomPromptCommand(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.command(t, `{"action":"saveCustomPrompt","prompt":"ping me at {time}"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ping me at {time}", dataMap(t, body)["customPrompt"])

	// Empty prompt reverts to the default template.
	status, body = env.command(t, `{"action":"saveCustomPrompt","prompt":""}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "", dataMap(t, body)["customPrompt"])

	status, _ = env.command(t, `{"action":"saveCustomPrompt"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSetNextAlertCommand(t *testing.T) {
	env := newTestEnv(t)

	target := time.Now().Add(90 * time.Minute).UnixMilli()
	status, body := env.command(t, `{"action":"setNextAlert","time":`+formatInt(target)+`}`)
	require.Equal(t, http.StatusOK, status)
	fireAt := int64(dataMap(t, body)["nextNotificationTime"].(float64))
	assert.Equal(t, target, fireAt)

	status, _ = env.command(t, `{"action":"setNextAlert","time":-5}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSetNextAlertRejectsPastTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	before, err := env.store.Settings(ctx)
	require.NoError(t, err)

	status, body := env.command(t, `{"action":"setNextAlert","time":1}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, body.Success)

	// The rejected command changed nothing.
	after, err := env.store.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.NextNotificationTime, after.NextNotificationTime)
	_, ok := env.timers.Get(domain.AlarmName)
	assert.False(t, ok)
}

func TestSetNextAlertRejectsWhileInactive(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.command(t, `{"action":"toggle","isActive":false}`)
	require.Equal(t, http.StatusOK, status)

	future := time.Now().Add(30 * time.Minute).UnixMilli()
	status, body := env.command(t, `{"action":"setNextAlert","time":`+formatInt(future)+`}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, body.Success)

	_, ok := env.timers.Get(domain.AlarmName)
	assert.False(t, ok, "inactive reminders must not arm a timer")
	rec, err := env.store.Settings(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec.NextNotificationTime)
}

func TestNotificationCommandUpdatesInterval(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.command(t, `{"action":"notification","minutes":10}`)
	require.Equal(t, http.StatusOK, status)
	require.True(t, body.Success)
	assert.Equal(t, float64(10), dataMap(t, body)["notificationInterval"])

	rec, err := env.store.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, rec.NotificationInterval)

	fireAt, ok := env.timers.Get(domain.AlarmName)
	require.True(t, ok, "interval change re-arms the timer")
	wantMs := time.Now().Add(10 * time.Minute).UnixMilli()
	assert.InDelta(t, wantMs, fireAt.UnixMilli(), 2000)
}

func TestNotificationCommandRejectsInvalidInterval(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.command(t, `{"action":"notification","minutes":0}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, body.Success)

	status, body = env.command(t, `{"action":"notification","minutes":500}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, body.Success)

	rec, err := env.store.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultIntervalMinutes, rec.NotificationInterval)
}

func TestVerifyAlarmCommand(t *testing.T) {
	env := newTestEnv(t)

	// A fresh store has a persisted schedule but no live timer.
	status, body := env.command(t, `{"action":"verifyAlarm"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, dataMap(t, body)["needsUpdate"])

	status, body = env.command(t, `{"action":"verifyAlarm"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, dataMap(t, body)["needsUpdate"])
}

func TestGetAlarmStatusCommand(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.command(t, `{"action":"getAlarmStatus"}`)
	require.Equal(t, http.StatusOK, status)
	data := dataMap(t, body)
	assert.Equal(t, true, data["isActive"])
	assert.NotNil(t, data["nextNotificationTime"])
}

func formatInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
