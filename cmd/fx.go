package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/decisio/eventcore/config"
	"github.com/decisio/eventcore/internal/adapter/dedup"
	"github.com/decisio/eventcore/internal/adapter/outbox"
	"github.com/decisio/eventcore/internal/adapter/persistence"
	"github.com/decisio/eventcore/internal/adapter/pubsub"
	"github.com/decisio/eventcore/internal/domain/envelope"
	"github.com/decisio/eventcore/internal/domain/registry"
	"github.com/decisio/eventcore/internal/domain/schema"
	"github.com/decisio/eventcore/internal/handler/httpsrv"
	"github.com/decisio/eventcore/internal/handler/lp"
	"github.com/decisio/eventcore/internal/handler/ws"
	"github.com/decisio/eventcore/internal/service"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			schema.NewRegistry,
			ProvideIdentify,
			ProvideAuthorizer,
			ProvideScopeResolver,
			func(cfg *config.Config) ws.Config {
				return ws.Config{
					MaxMessageSize: cfg.WS.MaxMessageSize,
					PongWait:       cfg.WS.PongWait,
					PingPeriod:     cfg.WS.PingPeriod,
					WriteWait:      cfg.WS.WriteWait,
				}
			},
		),
		storageModule(cfg),
		transportModule(cfg),
		registry.Module,
		service.Module,
		httpsrv.Module,
	)
}

func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}

// identify resolves the caller's identity from the request. The surrounding
// application is expected to front this service with real authentication;
// here identity arrives as a trusted header set by that layer.
func identify(r *http.Request) (string, error) {
	if id := r.Header.Get("X-Identity"); id != "" {
		return id, nil
	}
	if id := r.URL.Query().Get("identity"); id != "" {
		return id, nil
	}
	return "", errors.New("identity not provided")
}

func ProvideIdentify() (ws.Identifier, lp.Identifier) {
	return identify, identify
}

// ProvideAuthorizer is the default scope authorization: an identity may
// always join its own identity scope; everything else is admitted as well
// until the embedding application supplies a stricter policy.
func ProvideAuthorizer(log *slog.Logger) service.Authorizer {
	return func(ctx context.Context, identity, scope string) (bool, error) {
		if scope == service.IdentityScope(identity) {
			return true, nil
		}
		log.Debug("default authorizer admitting scope", "identity", identity, "scope", scope)
		return true, nil
	}
}

// ProvideScopeResolver maps an envelope to its delivery scopes: the
// aggregate scope, plus the acting identity's own scope when present.
func ProvideScopeResolver() service.ScopeResolver {
	return func(ctx context.Context, env *envelope.Envelope) ([]string, error) {
		scopes := []string{"aggregate:" + env.AggregateType + ":" + env.AggregateID}
		if env.Metadata.Actor != "" {
			scopes = append(scopes, service.IdentityScope(env.Metadata.Actor))
		}
		return scopes, nil
	}
}

func storageModule(cfg *config.Config) fx.Option {
	if cfg.Storage.Driver == config.DriverPostgres {
		return fx.Options(
			fx.Provide(
				func(lc fx.Lifecycle) (*pgxpool.Pool, error) {
					pool, err := pgxpool.New(context.Background(), cfg.Storage.DSN)
					if err != nil {
						return nil, err
					}
					lc.Append(fx.Hook{
						OnStop: func(ctx context.Context) error {
							pool.Close()
							return nil
						},
					})
					return pool, nil
				},
				persistence.NewPgxTxManager,
				func(m *persistence.PgxTxManager) persistence.TxManager { return m },
				outbox.NewPostgresStore,
				func(s *outbox.PostgresStore) outbox.Store { return s },
				dedup.NewPostgresStore,
				func(s *dedup.PostgresStore) dedup.Store { return s },
			),
			fx.Invoke(func(lc fx.Lifecycle, ob *outbox.PostgresStore, dd *dedup.PostgresStore) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						if err := ob.EnsureSchema(ctx); err != nil {
							return err
						}
						return dd.EnsureSchema(ctx)
					},
				})
			}),
		)
	}

	return fx.Provide(
		persistence.NewMemTxManager,
		func(m *persistence.MemTxManager) persistence.TxManager { return m },
		outbox.NewMemoryStore,
		func(s *outbox.MemoryStore) outbox.Store { return s },
		dedup.NewMemoryStore,
		func(s *dedup.MemoryStore) dedup.Store { return s },
	)
}

func transportModule(cfg *config.Config) fx.Option {
	if cfg.Transport.Driver == config.DriverAMQP {
		return fx.Provide(
			func(lc fx.Lifecycle, log *slog.Logger) (*pubsub.AMQPBus, error) {
				bus, err := pubsub.NewAMQPBus(pubsub.AMQPConfig{
					URI:      cfg.Transport.URI,
					Exchange: cfg.Transport.Exchange,
					Retries:  cfg.Transport.Retries,
					Backoff:  cfg.Transport.Backoff,
				}, log)
				if err != nil {
					return nil, err
				}
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						go func() {
							if err := bus.Run(context.Background()); err != nil {
								log.Error("amqp router stopped", "error", err)
							}
						}()
						return nil
					},
					OnStop: func(ctx context.Context) error {
						return bus.Close()
					},
				})
				return bus, nil
			},
			func(b *pubsub.AMQPBus) pubsub.Bus { return b },
		)
	}

	return fx.Provide(
		pubsub.NewMemoryBus,
		func(b *pubsub.MemoryBus) pubsub.Bus { return b },
	)
}
