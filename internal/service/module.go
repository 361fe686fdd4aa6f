package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/decisio/eventcore/config"
	"github.com/decisio/eventcore/internal/adapter/dedup"
	"github.com/decisio/eventcore/internal/adapter/outbox"
	"github.com/decisio/eventcore/internal/adapter/pubsub"
	"github.com/decisio/eventcore/internal/domain/registry"
	"github.com/decisio/eventcore/internal/domain/schema"
)

// AdmissionLimiters bundles the two token-bucket families: connection
// attempts keyed per identity, inbound frames keyed per connection.
type AdmissionLimiters struct {
	Connections *Limiter
	Messages    *Limiter
}

const bridgeHandlerName = "live-bridge"

var Module = fx.Module("service",
	fx.Provide(
		func(cfg *config.Config) *AdmissionLimiters {
			return &AdmissionLimiters{
				Connections: NewLimiter(LimiterConfig{Rate: cfg.Admission.ConnRate, Burst: cfg.Admission.ConnBurst}),
				Messages:    NewLimiter(LimiterConfig{Rate: cfg.Admission.MsgRate, Burst: cfg.Admission.MsgBurst}),
			}
		},
		func(cfg *config.Config, store outbox.Store, bus pubsub.Bus, log *slog.Logger) *Publisher {
			return NewPublisher(store, bus, log, PublisherConfig{
				Interval:   cfg.Publisher.Interval,
				BatchSize:  cfg.Publisher.BatchSize,
				Retention:  cfg.Publisher.Retention,
				SweepEvery: cfg.Publisher.SweepEvery,
			})
		},
		fx.Annotate(
			func(hub *registry.Hub, authorize Authorizer, limiters *AdmissionLimiters, log *slog.Logger) *LiveService {
				return NewLiveService(hub, authorize, limiters.Connections, log)
			},
			fx.As(new(Deliverer)),
		),
		NewBridge,
		NewProducer,
	),

	fx.Invoke(
		func(lc fx.Lifecycle, p *Publisher) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					p.Start()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					p.Stop()
					return nil
				},
			})
		},
		// The bridge is one ordinary subscriber, deduplicated like any other.
		func(bus pubsub.Bus, bridge *Bridge, reg *schema.Registry, store dedup.Store, log *slog.Logger) error {
			wrapped, err := NewIdempotent(bridgeHandlerName, reg, store, log, bridge.Handle)
			if err != nil {
				return err
			}
			return bus.Subscribe("*", bridgeHandlerName, wrapped.Handler())
		},
	),
)
