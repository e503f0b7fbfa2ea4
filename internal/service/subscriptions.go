package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/game-alerts/internal/domain"
	"github.com/game-alerts/internal/metrics"
	"github.com/game-alerts/internal/redis"
	"github.com/google/uuid"
)

// subscriptionNamespace seeds deterministic subscription IDs derived from the push endpoint
var subscriptionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("game-alerts/subscriptions"))

// SubscriptionID derives the stable subscription ID of a push endpoint URL
func SubscriptionID(endpoint string) string {
	return uuid.NewSHA1(subscriptionNamespace, []byte(endpoint)).String()
}

// SubscriptionService manages subscriptions and the active-games working set
type SubscriptionService struct {
	store   *redis.Store
	metrics *metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(store *redis.Store, recorder *metrics.Recorder, logger *slog.Logger) *SubscriptionService {
	return &SubscriptionService{
		store:   store,
		metrics: recorder,
		logger:  logger,
		now:     time.Now,
	}
}

// Subscribe registers interest in one game. Repeating the call for the same
// endpoint and game replaces the earlier game subscription
func (s *SubscriptionService) Subscribe(ctx context.Context, req domain.SubscribeRequest) (*domain.Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	prefs := domain.DefaultPreferences()
	if req.Preferences != nil {
		prefs = *req.Preferences
	}

	id := SubscriptionID(req.Push.Endpoint)
	gs := domain.GameSubscription{
		GameID:       req.GameID,
		League:       req.League,
		HomeTeam:     req.HomeTeam,
		AwayTeam:     req.AwayTeam,
		Preferences:  prefs,
		SubscribedAt: s.now().UTC(),
		StartTime:    req.StartTime,
	}

	sub, err := s.store.Subscribe(ctx, id, req.Push, gs)
	if err != nil {
		return nil, fmt.Errorf("subscribing to game: %w", err)
	}
	s.metrics.RecordSubscriptionOp("subscribe")

	s.logger.Info("game subscribed",
		"subscription_id", id,
		"game_id", gs.GameID,
		"league", gs.League,
	)
	return sub, nil
}

// Unsubscribe removes one game from a subscription
func (s *SubscriptionService) Unsubscribe(ctx context.Context, subscriptionID, gameID string) error {
	if subscriptionID == "" || gameID == "" {
		return domain.ErrInvalidRequest
	}

	res, err := s.store.RemoveGameSubscription(ctx, subscriptionID, gameID)
	if err != nil {
		return fmt.Errorf("removing game subscription: %w", err)
	}
	if !res.Removed {
		return domain.ErrGameSubscriptionNotFound
	}
	s.metrics.RecordSubscriptionOp("unsubscribe")

	s.logger.Info("game unsubscribed",
		"subscription_id", subscriptionID,
		"game_id", gameID,
		"game_emptied", res.GameEmptied,
		"subscription_deleted", res.SubscriptionDeleted,
	)
	return nil
}

// UnsubscribeAll deletes a subscription and every game interest it holds
func (s *SubscriptionService) UnsubscribeAll(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return domain.ErrInvalidRequest
	}
	games, err := s.store.DeleteSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return err
		}
		return fmt.Errorf("deleting subscription: %w", err)
	}
	s.metrics.RecordSubscriptionOp("unsubscribe_all")

	s.logger.Info("subscription deleted", "subscription_id", subscriptionID, "games", len(games))
	return nil
}

// UpdatePreferences replaces the event preferences of one game subscription
func (s *SubscriptionService) UpdatePreferences(ctx context.Context, subscriptionID, gameID string, prefs domain.EventPreferences) (*domain.Subscription, error) {
	sub, err := s.store.UpdatePreferences(ctx, subscriptionID, gameID, prefs)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("updating preferences: %w", err)
	}
	s.metrics.RecordSubscriptionOp("update_preferences")
	return sub, nil
}

// GetSubscription returns a subscription record
func (s *SubscriptionService) GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	return s.store.GetSubscription(ctx, subscriptionID)
}

// ActiveGames returns the active working set
func (s *SubscriptionService) ActiveGames(ctx context.Context) ([]string, error) {
	return s.store.ActiveGames(ctx)
}

// HandleCommand applies a subscription change received asynchronously
func (s *SubscriptionService) HandleCommand(ctx context.Context, cmd domain.SubscriptionCommand) error {
	switch cmd.Action {
	case domain.ActionSubscribe:
		if cmd.Subscribe == nil {
			return fmt.Errorf("%w: subscribe command without body", domain.ErrInvalidRequest)
		}
		_, err := s.Subscribe(ctx, *cmd.Subscribe)
		return err
	case domain.ActionUnsubscribe:
		return s.Unsubscribe(ctx, cmd.SubscriptionID, cmd.GameID)
	case domain.ActionUnsubscribeAll:
		return s.UnsubscribeAll(ctx, cmd.SubscriptionID)
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrInvalidRequest, cmd.Action)
	}
}

// HandleCommandBatch applies commands in order, logging and skipping failures
func (s *SubscriptionService) HandleCommandBatch(ctx context.Context, cmds []domain.SubscriptionCommand) error {
	for _, cmd := range cmds {
		if err := s.HandleCommand(ctx, cmd); err != nil {
			s.logger.Error("failed to apply subscription command",
				"action", cmd.Action,
				"subscription_id", cmd.SubscriptionID,
				"game_id", cmd.GameID,
				"error", err,
			)
			// Continue processing other commands
		}
	}
	return nil
}
