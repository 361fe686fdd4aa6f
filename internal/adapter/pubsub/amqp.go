package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/decisio/eventcore/internal/domain/envelope"
)

const (
	metaEventType     = "event_type"
	metaAggregateID   = "aggregate_id"
	metaSchemaVersion = "schema_version"

	poisonTopic = "eventcore.poison"
)

// AMQPConfig configures the durable production transport.
type AMQPConfig struct {
	URI      string        `mapstructure:"uri"`
	Exchange string        `mapstructure:"exchange"`
	Retries  int           `mapstructure:"retries"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

// AMQPBus is the durable transport: one topic exchange, one durable queue per
// subscription. The queue doubles as a consumer group, so independent
// subscribers never stall each other, and the broker redelivers anything a
// handler fails — at-least-once is the only guarantee made here.
type AMQPBus struct {
	cfg       AMQPConfig
	log       *slog.Logger
	wmLogger  watermill.LoggerAdapter
	router    *message.Router
	publisher message.Publisher
}

var _ Bus = (*AMQPBus)(nil)

func NewAMQPBus(cfg AMQPConfig, log *slog.Logger) (*AMQPBus, error) {
	wmLogger := watermill.NewSlogLogger(log)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create router: %w", err)
	}

	b := &AMQPBus{cfg: cfg, log: log, wmLogger: wmLogger, router: router}

	pub, err := amqp.NewPublisher(b.amqpConfig("eventcore"), wmLogger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create publisher: %w", err)
	}
	b.publisher = pub

	poison, err := middleware.PoisonQueue(pub, poisonTopic)
	if err != nil {
		return nil, fmt.Errorf("pubsub: poison queue setup: %w", err)
	}
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      cfg.Retries,
			InitialInterval: cfg.Backoff,
			MaxInterval:     cfg.Backoff * 8,
			Multiplier:      2.0,
			Logger:          wmLogger,
		}.Middleware,
		poison,
	)

	return b, nil
}

// amqpConfig builds a durable pub/sub topology: named topic exchange, one
// durable queue per subscription, routing key taken from the watermill topic.
func (b *AMQPBus) amqpConfig(queue string) amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(b.cfg.URI, amqp.GenerateQueueNameConstant(queue))
	cfg.Exchange.GenerateName = func(string) string { return b.cfg.Exchange }
	cfg.Exchange.Type = "topic"
	cfg.Exchange.Durable = true
	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }
	return cfg
}

func (b *AMQPBus) Publish(ctx context.Context, env *envelope.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	msg := message.NewMessage(env.EventID, data)
	msg.Metadata.Set(metaEventType, env.EventType)
	msg.Metadata.Set(metaAggregateID, env.AggregateID)
	msg.Metadata.Set(metaSchemaVersion, fmt.Sprintf("%d", env.SchemaVersion))
	msg.SetContext(ctx)

	if err := b.publisher.Publish(env.EventType, msg); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", env.EventType, err)
	}
	return nil
}

func (b *AMQPBus) PublishAll(ctx context.Context, envs []*envelope.Envelope) error {
	for _, env := range envs {
		if err := b.Publish(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (b *AMQPBus) Subscribe(pattern, name string, h Handler) error {
	sub, err := amqp.NewSubscriber(b.amqpConfig("eventcore."+name), b.wmLogger)
	if err != nil {
		return fmt.Errorf("pubsub: create subscriber %q: %w", name, err)
	}

	b.router.AddNoPublisherHandler(name, bindingKey(pattern), sub, func(msg *message.Message) error {
		env, err := envelope.Decode(msg.Payload)
		if err != nil {
			// Undecodable payloads are terminal; retrying cannot fix them.
			b.log.Error("dropping undecodable message", "subscription", name, "msg_id", msg.UUID, "error", err)
			return nil
		}
		return h(msg.Context(), env)
	})
	return nil
}

// Run drives consumption until the context is cancelled.
func (b *AMQPBus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

func (b *AMQPBus) Close() error {
	return b.router.Close()
}

// bindingKey translates a subscription pattern into AMQP topic syntax.
func bindingKey(pattern string) string {
	if pattern == "*" {
		return "#"
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return prefix + ".#"
	}
	return pattern
}
