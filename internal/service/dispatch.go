package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/game-alerts/internal/domain"
	"github.com/game-alerts/internal/metrics"
	"github.com/game-alerts/internal/notify"
	"github.com/game-alerts/internal/redis"
	"golang.org/x/sync/errgroup"
)

// PushTransport delivers a payload to one push endpoint
type PushTransport interface {
	Send(ctx context.Context, endpoint domain.PushEndpoint, payload domain.Payload) (domain.DeliveryOutcome, error)
}

// EventSink receives every detected event, e.g. a Kafka topic or live WebSocket clients
type EventSink interface {
	PublishEvent(ctx context.Context, ev domain.NotificationEvent) error
}

// DeliveryLog keeps an audit trail of events and delivery attempts
type DeliveryLog interface {
	RecordEvent(ctx context.Context, ev domain.NotificationEvent) error
	RecordDeliveries(ctx context.Context, records []domain.DeliveryRecord) error
}

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	ClickURLBase string
	Concurrency  int
}

// Dispatcher fans an event out to the game's subscribers whose preferences allow it
type Dispatcher struct {
	store     *redis.Store
	transport PushTransport
	sinks     []EventSink
	audit     DeliveryLog
	metrics   *metrics.Recorder
	cfg       DispatcherConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. audit may be nil
func NewDispatcher(
	store *redis.Store,
	transport PushTransport,
	audit DeliveryLog,
	recorder *metrics.Recorder,
	cfg DispatcherConfig,
	logger *slog.Logger,
	sinks ...EventSink,
) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	return &Dispatcher{
		store:     store,
		transport: transport,
		sinks:     sinks,
		audit:     audit,
		metrics:   recorder,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch delivers ev to every eligible subscriber and returns the number of
// successful deliveries. Failures are isolated per subscriber
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.NotificationEvent) int {
	d.publish(ctx, ev)

	subscriberIDs, err := d.store.GameSubscribers(ctx, ev.GameID)
	if err != nil {
		d.logger.Error("failed to load game subscribers", "game_id", ev.GameID, "event_type", ev.Type, "error", err)
		return 0
	}
	if len(subscriberIDs) == 0 {
		return 0
	}

	payload := notify.Build(ev, d.cfg.ClickURLBase)

	var (
		sent    atomic.Int64
		mu      sync.Mutex
		records []domain.DeliveryRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, id := range subscriberIDs {
		id := id
		g.Go(func() error {
			rec, attempted := d.deliver(gctx, id, ev, payload)
			if !attempted {
				return nil
			}
			if rec.Outcome == domain.OutcomeSuccess {
				sent.Add(1)
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if d.audit != nil && len(records) > 0 {
		if err := d.audit.RecordDeliveries(ctx, records); err != nil {
			d.logger.Warn("failed to record deliveries", "game_id", ev.GameID, "error", err)
		}
	}
	return int(sent.Load())
}

func (d *Dispatcher) publish(ctx context.Context, ev domain.NotificationEvent) {
	if d.audit != nil {
		if err := d.audit.RecordEvent(ctx, ev); err != nil {
			d.logger.Warn("failed to record event", "game_id", ev.GameID, "event_type", ev.Type, "error", err)
		}
	}
	for _, sink := range d.sinks {
		if err := sink.PublishEvent(ctx, ev); err != nil {
			d.logger.Warn("failed to publish event", "game_id", ev.GameID, "event_type", ev.Type, "error", err)
		}
	}
}

// deliver sends to one subscriber. attempted is false when the subscriber
// was skipped before reaching the transport
func (d *Dispatcher) deliver(ctx context.Context, subscriptionID string, ev domain.NotificationEvent, payload domain.Payload) (domain.DeliveryRecord, bool) {
	logger := d.logger.With("subscription_id", subscriptionID, "game_id", ev.GameID, "event_type", ev.Type)

	sub, err := d.store.GetSubscription(ctx, subscriptionID)
	switch {
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		// record expired under its TTL; drop the dangling fan-out entry
		if _, rmErr := d.store.RemoveGameSubscription(ctx, subscriptionID, ev.GameID); rmErr != nil {
			logger.Warn("failed to remove dangling subscriber", "error", rmErr)
		}
		return domain.DeliveryRecord{}, false
	case errors.Is(err, domain.ErrMalformedSubscription):
		logger.Warn("skipping malformed subscription", "error", err)
		return domain.DeliveryRecord{}, false
	case err != nil:
		logger.Error("failed to load subscription", "error", err)
		return domain.DeliveryRecord{}, false
	}

	gs, ok := sub.Game(ev.GameID)
	if !ok {
		logger.Debug("subscriber has no entry for game")
		return domain.DeliveryRecord{}, false
	}
	if !gs.Preferences.Allows(ev.Type) {
		return domain.DeliveryRecord{}, false
	}

	outcome, sendErr := d.transport.Send(ctx, sub.Push, payload)
	d.metrics.RecordDelivery(outcome)

	rec := domain.DeliveryRecord{
		SubscriptionID: subscriptionID,
		GameID:         ev.GameID,
		EventType:      ev.Type,
		Outcome:        outcome,
		Timestamp:      d.now().UTC(),
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}

	switch outcome {
	case domain.OutcomeSuccess:
		logger.Debug("notification delivered")
	case domain.OutcomeExpired:
		d.handleExpired(ctx, logger, subscriptionID, ev.GameID)
	default:
		logger.Warn("notification dropped", "error", sendErr)
	}
	return rec, true
}

func (d *Dispatcher) handleExpired(ctx context.Context, logger *slog.Logger, subscriptionID, gameID string) {
	res, err := d.store.RemoveGameSubscription(ctx, subscriptionID, gameID)
	if err != nil {
		logger.Error("failed to remove expired subscriber", "error", err)
		return
	}
	logger.Info("removed expired push endpoint",
		"remaining_games", res.Remaining,
		"subscription_deleted", res.SubscriptionDeleted,
	)
}
