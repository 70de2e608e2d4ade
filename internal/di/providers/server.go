package providers

import (
	"context"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/chorusfm/moderation-server/internal/api"
	"github.com/chorusfm/moderation-server/internal/config"
	"github.com/chorusfm/moderation-server/internal/labels"
	"github.com/chorusfm/moderation-server/internal/logger"
	"github.com/chorusfm/moderation-server/internal/service"
	"github.com/chorusfm/moderation-server/internal/stream"
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

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	orchestratorHandle := do.MustInvoke[*OrchestratorHandle](i)
	reviewService := do.MustInvoke[*service.Review](i)
	authority := do.MustInvoke[*labels.Authority](i)
	streamHandler := do.MustInvoke[*stream.Handler](i)

	if cfg.Review.AuthToken == "" {
		log.Warn("No review auth token configured - admin endpoints will reject all requests")
	}

	handler := api.NewServer(
		storeHandle.Store,
		orchestratorHandle.Orchestrator,
		reviewService,
		authority,
		streamHandler,
		cfg.Review.AuthToken,
		log.Logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
