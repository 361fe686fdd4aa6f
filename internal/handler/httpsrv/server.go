// Package httpsrv hosts the outward HTTP surface: the websocket upgrade
// endpoint, the long-polling fallback, and liveness/readiness probes.
package httpsrv

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"

	"github.com/decisio/eventcore/config"
	"github.com/decisio/eventcore/internal/handler/lp"
	"github.com/decisio/eventcore/internal/handler/ws"
)

func NewRouter(wsHandler *ws.WSHandler, lpHandler *lp.LPHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Handle("/ws", wsHandler)
	r.Get("/poll", lpHandler.Poll)

	return r
}

func NewServer(lc fx.Lifecycle, log *slog.Logger, cfg *config.Config, router chi.Router) *http.Server {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", "addr", srv.Addr)
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					log.Error("http server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return srv
}

var Module = fx.Module("httpsrv",
	fx.Provide(
		ws.NewWSHandler,
		lp.NewLPHandler,
		NewRouter,
		NewServer,
	),
	fx.Invoke(func(*http.Server) {}),
)
