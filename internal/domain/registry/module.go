package registry

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/decisio/eventcore/config"
)

var Module = fx.Module("registry",
	fx.Provide(
		func(cfg *config.Config, log *slog.Logger) *Hub {
			return NewHub(log, WithBufferSize(cfg.Hub.BufferSize))
		},
		func(h *Hub) Hubber { return h },
	),
	fx.Invoke(func(lc fx.Lifecycle, h *Hub) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown()
				return nil
			},
		})
	}),
)
