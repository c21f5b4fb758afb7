package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

// NewHTTPServer builds the HTTP server on the configured listen address.
func NewHTTPServer(handler http.Handler, cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:              cfg.Ingot.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// registerServerLifecycle starts the HTTP server with the Fx application and
// shuts it down gracefully on stop.
func registerServerLifecycle(lc fx.Lifecycle, srv *http.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Infof("HTTP server listening on %s", srv.Addr)
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Errorf("HTTP server stopped unexpectedly: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Shutting down HTTP server.")
			return srv.Shutdown(ctx)
		},
	})
}
