package outbox

import (
	"context"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/rafata1/order-saga-outbox/bus"
	"github.com/rafata1/order-saga-outbox/config"
	"github.com/rafata1/order-saga-outbox/saga_event"
	"time"
)

// Relay moves outbox rows to the bus. A row is marked processed only after its
// publish succeeded; anything else is retried on a later cycle.
type Relay struct {
	repo      IRepo
	publisher bus.IPublisher
	topic     string
	owner     string
	batchSize int
	lease     time.Duration
	interval  time.Duration
	logger    logr.Logger
	now       func() time.Time
}

type Option func(r *Relay)

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

func NewRelay(repo IRepo, publisher bus.IPublisher, topic string, cfg config.OutboxConfig, logger logr.Logger, opts ...Option) *Relay {
	owner := uuid.NewString()
	r := &Relay{
		repo:      repo,
		publisher: publisher,
		topic:     topic,
		owner:     owner,
		batchSize: cfg.BatchSize,
		lease:     cfg.ClaimLease,
		interval:  cfg.PollInterval,
		logger:    logger.WithValues("relay", owner),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays every poll interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RelayMessage(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error(err, "outbox relay cycle failed")
		}
		select {
		case <-ctx.Done():
			r.logger.V(1).Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RelayMessage runs one cycle and returns how many messages were published.
// Once a message of an aggregate fails, its later messages in the batch are
// held back so the bus keeps seeing them in order.
func (r *Relay) RelayMessage(ctx context.Context) (int, error) {
	msgs, err := r.repo.Claim(ctx, r.owner, r.batchSize, r.now(), r.lease)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	var processed, failed []string
	blocked := map[string]bool{}
	for _, msg := range msgs {
		if blocked[msg.AggregateID] || ctx.Err() != nil {
			failed = append(failed, msg.ID)
			continue
		}
		err = r.publisher.Publish(ctx, bus.Message{
			ID:      msg.ID,
			Topic:   r.topic,
			Key:     msg.AggregateID,
			Type:    saga_event.Kind(msg.Type),
			Payload: msg.Payload,
		})
		if err != nil {
			r.logger.Error(err, "failed to publish outbox message",
				"messageID", msg.ID, "type", msg.Type, "orderID", msg.AggregateID)
			blocked[msg.AggregateID] = true
			failed = append(failed, msg.ID)
			continue
		}
		processed = append(processed, msg.ID)
	}

	// the batch is saved even if ctx was cancelled mid-way, so published rows are not re-sent
	err = r.repo.MarkProcessed(context.WithoutCancel(ctx), processed, failed, r.now())
	if err != nil {
		return 0, err
	}
	r.logger.V(1).Info("relayed outbox messages", "published", len(processed), "failed", len(failed))
	return len(processed), nil
}
