// Package generator produces reminder message text through the Gemini
// API. Callers treat a nil/empty result as advisory: the presenter
// falls back to a locally composed message whenever generation fails.
package generator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chimeapp/chime-server/internal/domain"
	"github.com/chimeapp/chime-server/internal/id"
	"github.com/chimeapp/chime-server/internal/sse"
)

// TextClient is the slice of the Gemini client the generator needs.
type TextClient interface {
	Generate(ctx context.Context, apiKey, prompt string) (string, error)
}

// SettingsStore is the slice of the settings store the generator needs.
type SettingsStore interface {
	Settings(ctx context.Context) (*domain.Settings, error)
	UpdateSettings(ctx context.Context, update *domain.SettingsUpdate) (*domain.Settings, error)
}

// EventEmitter broadcasts the error notification a failed generation
// raises toward the popup.
type EventEmitter interface {
	Emit(event any)
}

const validateTimeout = 10 * time.Second

// generationFailedMessage is the body of the error notification shown
// when a configured backend cannot produce reminder text.
const generationFailedMessage = "Could not generate a reminder message. The reminder still fired."

// Generator lazily initializes the generative backend and renders
// reminder messages from the active prompt template.
type Generator struct {
	client  TextClient
	store   SettingsStore
	emitter EventEmitter
	logger  *slog.Logger

	// Concurrent initialize calls collapse into one validation
	// round trip.
	sf singleflight.Group

	// now is replaceable in tests.
	now func() time.Time
}

func New(client TextClient, store SettingsStore, emitter EventEmitter, logger *slog.Logger) *Generator {
	return &Generator{
		client:  client,
		store:   store,
		emitter: emitter,
		logger:  logger.With("component", "generator"),
		now:     time.Now,
	}
}

// ValidateCredential checks an API key with a minimal generation
// request. Any failure reports the key as unusable.
func (g *Generator) ValidateCredential(ctx context.Context, apiKey string) bool {
	if apiKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	_, err := g.client.Generate(ctx, apiKey, "Reply with the single word: ok")
	if err != nil {
		g.logger.Warn("credential validation failed", "error", err)
		return false
	}
	return true
}

// ensureInitialized validates the stored key on first use and records
// the outcome. Concurrent callers share a single validation request.
func (g *Generator) ensureInitialized(ctx context.Context, settings *domain.Settings) bool {
	if settings.GeminiInitialized {
		return true
	}
	if settings.APIKey == nil || *settings.APIKey == "" {
		return false
	}

	v, _, _ := g.sf.Do("initialize", func() (any, error) {
		ok := g.ValidateCredential(ctx, *settings.APIKey)
		// Both outcomes are recorded, so the persisted flag always
		// mirrors the latest validation attempt.
		update := &domain.SettingsUpdate{GeminiInitialized: &ok}
		if _, err := g.store.UpdateSettings(ctx, update); err != nil {
			g.logger.Warn("recording initialization state", "error", err)
		}
		return ok, nil
	})
	ok, _ := v.(bool)
	return ok
}

// Generate renders a reminder message for the given page context.
// Returns an empty string when no message could be produced; the
// caller is expected to fall back to static text.
func (g *Generator) Generate(ctx context.Context, pageURL, pageTitle, timeString string) string {
	settings, err := g.store.Settings(ctx)
	if err != nil {
		g.logger.Warn("loading settings for generation", "error", err)
		return ""
	}
	if settings.APIKey == nil || *settings.APIKey == "" {
		// No backend configured; the caller's fallback text is the
		// normal path, not a failure.
		return ""
	}
	if !g.ensureInitialized(ctx, settings) {
		g.notifyFailure(settings)
		return ""
	}

	prompt := strings.NewReplacer(
		"{title}", pageTitle,
		"{url}", pageURL,
		"{time}", timeString,
	).Replace(settings.PromptTemplate())

	text, err := g.client.Generate(ctx, *settings.APIKey, prompt)
	if err != nil {
		g.logger.Warn("message generation failed", "error", err)
		g.notifyFailure(settings)
		return ""
	}
	message := strings.TrimSpace(text)
	if message == "" {
		g.notifyFailure(settings)
	}
	return message
}

// notifyFailure raises a user-visible error notification when a
// configured backend fails, auto-dismissed after the same delay a
// reminder would be.
func (g *Generator) notifyFailure(settings *domain.Settings) {
	if g.emitter == nil {
		return
	}
	notification := &domain.Notification{
		ID:        id.MustGenerate("chime-error"),
		Title:     "Chime",
		Message:   generationFailedMessage,
		Silent:    !settings.SoundEnabled,
		TimeoutMs: settings.NotificationDuration,
	}
	g.emitter.Emit(sse.NewNotificationShownEvent(notification))
	time.AfterFunc(time.Duration(settings.NotificationDuration)*time.Millisecond, func() {
		g.emitter.Emit(sse.NewNotificationClearedEvent(notification.ID))
	})
}
