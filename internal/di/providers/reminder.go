package providers

import (
	"github.com/samber/do/v2"

	"github.com/chimeapp/chime-server/internal/alarm"
	"github.com/chimeapp/chime-server/internal/config"
	"github.com/chimeapp/chime-server/internal/genai"
	"github.com/chimeapp/chime-server/internal/generator"
	"github.com/chimeapp/chime-server/internal/logger"
	"github.com/chimeapp/chime-server/internal/notify"
)

// ProvideGenAIClient provides the Gemini API client.
func ProvideGenAIClient(i do.Injector) (*genai.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return genai.New(cfg.Gemini.BaseURL, cfg.Gemini.Model, log.Logger), nil
}

// ProvideGenerator provides the reminder message generator.
func ProvideGenerator(i do.Injector) (*generator.Generator, error) {
	client := do.MustInvoke[*genai.Client](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return generator.New(client, storeHandle.Store, sseHandle.Manager, log.Logger), nil
}

// TimerRegistryHandle wraps the timer registry with shutdown capability.
type TimerRegistryHandle struct {
	*alarm.Registry
}

// Shutdown implements do.Shutdownable.
func (h *TimerRegistryHandle) Shutdown() error {
	h.ClearAll()
	return nil
}

// ProvideTimerRegistry provides the named one-shot timer registry.
func ProvideTimerRegistry(i do.Injector) (*TimerRegistryHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return &TimerRegistryHandle{Registry: alarm.NewRegistry(log.Logger)}, nil
}

// ProvideScheduler provides the alarm scheduler. Its presenter is
// attached and the persisted schedule reconciled in the server
// provider, once the rest of the reminder chain exists.
func ProvideScheduler(i do.Injector) (*alarm.Scheduler, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	timersHandle := do.MustInvoke[*TimerRegistryHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return alarm.NewScheduler(storeHandle.Store, timersHandle.Registry, sseHandle.Manager, log.Logger), nil
}

// ProvidePresenter provides the notification presenter.
func ProvidePresenter(i do.Injector) (*notify.Presenter, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	gen := do.MustInvoke[*generator.Generator](i)
	scheduler := do.MustInvoke[*alarm.Scheduler](i)
	log := do.MustInvoke[*logger.Logger](i)

	return notify.NewPresenter(storeHandle.Store, gen, scheduler, nil, sseHandle.Manager, log.Logger), nil
}
