// Package di provides dependency injection configuration for the Chime daemon.
package di

import (
	"github.com/samber/do/v2"

	"github.com/chimeapp/chime-server/internal/alarm"
	"github.com/chimeapp/chime-server/internal/config"
	"github.com/chimeapp/chime-server/internal/di/providers"
	"github.com/chimeapp/chime-server/internal/genai"
	"github.com/chimeapp/chime-server/internal/generator"
	"github.com/chimeapp/chime-server/internal/logger"
	"github.com/chimeapp/chime-server/internal/notify"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSlogLogger)

	// Storage and event stream
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideStore)

	// Reminder chain
	do.Provide(injector, providers.ProvideGenAIClient)
	do.Provide(injector, providers.ProvideGenerator)
	do.Provide(injector, providers.ProvideTimerRegistry)
	do.Provide(injector, providers.ProvideScheduler)
	do.Provide(injector, providers.ProvidePresenter)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap invokes every service so the daemon is fully wired before
// the caller starts waiting on signals.
func Bootstrap(injector *do.RootScope) error {
	// Invoke core services to trigger initialization
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)

	// Reminder chain
	_ = do.MustInvoke[*genai.Client](injector)
	_ = do.MustInvoke[*generator.Generator](injector)
	_ = do.MustInvoke[*providers.TimerRegistryHandle](injector)
	_ = do.MustInvoke[*alarm.Scheduler](injector)
	_ = do.MustInvoke[*notify.Presenter](injector)

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}
