package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/decisio/eventcore/internal/adapter/outbox"
	"github.com/decisio/eventcore/internal/adapter/pubsub"
)

// PublisherConfig tunes the outbox drain loop.
type PublisherConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int           `mapstructure:"batch-size"`
	Retention  time.Duration `mapstructure:"retention"`
	SweepEvery int           `mapstructure:"sweep-every"`
}

func (c *PublisherConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Retention <= 0 {
		c.Retention = 5 * 24 * time.Hour
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 300
	}
}

// Publisher drains the outbox into the transport on a fixed poll interval.
// It holds no queue state of its own: after a crash the first poll resumes
// exactly where `published_at IS NULL` left off, so a restart can delay
// delivery but never lose it. The poll loop is also the retry mechanism.
type Publisher struct {
	store   outbox.Store
	bus     pubsub.Bus
	log     *slog.Logger
	cfg     PublisherConfig
	breaker *gobreaker.CircuitBreaker

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

func NewPublisher(store outbox.Store, bus pubsub.Bus, log *slog.Logger, cfg PublisherConfig) *Publisher {
	cfg.defaults()
	return &Publisher{
		store: store,
		bus:   bus,
		log:   log.With("component", "outbox-publisher"),
		cfg:   cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "outbox-publish",
			Timeout: cfg.Interval * 5,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Start launches the loop; Stop cancels it and waits. The in-flight batch is
// allowed to finish before exit to avoid partial-publish ambiguity.
func (p *Publisher) Start() {
	p.log.Info("starting publisher")
	p.ctx, p.cancelFunc = context.WithCancel(context.Background())
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(p.ctx)
	}()
}

func (p *Publisher) Stop() {
	p.log.Info("stopping publisher")
	if p.cancelFunc != nil {
		p.cancelFunc()
	}
	p.wg.Wait()
}

func (p *Publisher) run(ctx context.Context) {
	defer p.log.Info("publisher stopped")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Cancellation is only observed between batches.
			p.DrainOnce(context.WithoutCancel(ctx))

			polls++
			if polls%p.cfg.SweepEvery == 0 {
				p.sweep(context.WithoutCancel(ctx))
			}
		}
	}
}

// DrainOnce fetches one bounded batch and attempts delivery record by
// record. Each record's fate is independent: a poisoned record is logged and
// left unpublished for the next poll, never blocking its batch-mates.
func (p *Publisher) DrainOnce(ctx context.Context) int {
	records, err := p.store.FetchUnpublished(ctx, p.cfg.BatchSize)
	if err != nil {
		p.log.Error("fetch unpublished failed", "error", err)
		return 0
	}

	published := 0
	for _, rec := range records {
		env := rec.Envelope
		_, err := p.breaker.Execute(func() (any, error) {
			return nil, p.bus.Publish(ctx, env)
		})
		if err != nil {
			p.log.Warn("delivery failed, will retry next poll",
				"event_id", env.EventID, "event_type", env.EventType, "error", err)
			continue
		}
		// Mark only after the individual hand-off succeeded, never before.
		if err := p.store.MarkPublished(ctx, env.EventID); err != nil {
			// The next poll republishes; downstream dedup absorbs it.
			p.log.Error("mark published failed", "event_id", env.EventID, "error", err)
			continue
		}
		published++
	}
	return published
}

func (p *Publisher) sweep(ctx context.Context) {
	deleted, err := p.store.DeleteOlderThan(ctx, p.cfg.Retention)
	if err != nil {
		p.log.Error("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		p.log.Info("retention sweep", "deleted", deleted)
	}
}
