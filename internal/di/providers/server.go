package providers

import (
	"context"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/chimeapp/chime-server/internal/alarm"
	"github.com/chimeapp/chime-server/internal/api"
	"github.com/chimeapp/chime-server/internal/config"
	"github.com/chimeapp/chime-server/internal/generator"
	"github.com/chimeapp/chime-server/internal/logger"
	"github.com/chimeapp/chime-server/internal/notify"
	"github.com/chimeapp/chime-server/internal/sse"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP command surface. It is also where
// the reminder chain is closed: the presenter is attached to the
// scheduler and the persisted schedule reconciled before the first
// request can arrive.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	scheduler := do.MustInvoke[*alarm.Scheduler](i)
	presenter := do.MustInvoke[*notify.Presenter](i)
	gen := do.MustInvoke[*generator.Generator](i)

	// Close the fire loop, then rebuild the live timer from the
	// persisted schedule.
	scheduler.SetPresenter(presenter)
	result, err := scheduler.Verify(context.Background())
	if err != nil {
		return nil, err
	}
	log.Info("Schedule reconciled on startup", "needs_update", result.NeedsUpdate)

	dispatcher := api.NewDispatcher(storeHandle.Store, scheduler, presenter, gen, log.Logger)
	sseHandler := sse.NewHandler(sseHandle.Manager, log.Logger)
	handler := api.NewServer(dispatcher, sseHandler, cfg.Server.CORSOrigin, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Command surface running", "addr", srv.Addr)

	return &HTTPServerHandle{Server: srv}, nil
}
