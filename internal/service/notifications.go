package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/game-alerts/internal/config"
	"github.com/game-alerts/internal/detector"
	"github.com/game-alerts/internal/domain"
	"github.com/game-alerts/internal/metrics"
	"github.com/game-alerts/internal/redis"
	"github.com/game-alerts/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

// ScoresProvider returns game snapshots and scoring timelines
type ScoresProvider interface {
	Scoreboard(ctx context.Context, league domain.League) ([]domain.Game, error)
	ScoringPlays(ctx context.Context, league domain.League, gameID string) ([]domain.ScoringPlay, error)
}

// NotificationService runs notification cycles: schedule, fetch, detect, dispatch, clean up
type NotificationService struct {
	store      *redis.Store
	scheduler  *scheduler.Scheduler
	provider   ScoresProvider
	dispatcher *Dispatcher
	metrics    *metrics.Recorder
	schedCfg   config.SchedulerConfig
	dedupCfg   config.DedupConfig
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewNotificationService creates a new notification service
func NewNotificationService(
	store *redis.Store,
	sched *scheduler.Scheduler,
	provider ScoresProvider,
	dispatcher *Dispatcher,
	recorder *metrics.Recorder,
	cfg *config.Config,
	logger *slog.Logger,
) *NotificationService {
	timeout := cfg.Provider.Timeout * time.Duration(cfg.Provider.RetryAttempts+1)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	concurrency := cfg.Scheduler.GameConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	schedCfg := cfg.Scheduler
	schedCfg.GameConcurrency = concurrency
	return &NotificationService{
		store:      store,
		scheduler:  sched,
		provider:   provider,
		dispatcher: dispatcher,
		metrics:    recorder,
		schedCfg:   schedCfg,
		dedupCfg:   cfg.Dedup,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

type gameResult struct {
	processed     bool
	events        int
	notifications int
}

// ProcessNotifications runs one cycle. Per-league, per-game and per-subscriber
// failures are logged and skipped; only losing the store or the active-games
// set is returned as an error
func (s *NotificationService) ProcessNotifications(ctx context.Context) (domain.CycleSummary, error) {
	start := time.Now()
	summary := domain.CycleSummary{LeaguesPolled: []domain.League{}}

	if s.schedCfg.CycleLock {
		token, ok, err := s.store.AcquireCycleLock(ctx, s.schedCfg.LockTTL)
		if err != nil {
			s.metrics.RecordCycle(metrics.CycleError, time.Since(start))
			return summary, fmt.Errorf("acquiring cycle lock: %w", err)
		}
		if !ok {
			s.logger.Info("notification cycle already running, skipping")
			s.metrics.RecordCycle(metrics.CycleSkipped, time.Since(start))
			summary.Skipped = true
			return summary, nil
		}
		defer func() {
			if err := s.store.ReleaseCycleLock(context.WithoutCancel(ctx), token); err != nil {
				s.logger.Warn("failed to release cycle lock", "error", err)
			}
		}()
	}

	s.pruneExpired(ctx)

	plan, err := s.scheduler.Plan(ctx)
	if err != nil {
		s.metrics.RecordCycle(metrics.CycleError, time.Since(start))
		return summary, fmt.Errorf("planning cycle: %w", err)
	}
	s.metrics.SetActiveGames(len(plan.ActiveGames))

	if plan.Empty() {
		s.metrics.RecordCycle(metrics.CycleIdle, time.Since(start))
		s.logger.Debug("no leagues in polling window", "active_games", len(plan.ActiveGames))
		return summary, nil
	}
	summary.LeaguesPolled = plan.Leagues

	snapshots := s.fetchScoreboards(ctx, plan.Leagues)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.schedCfg.GameConcurrency)
	for _, gameID := range plan.ActiveGames {
		game, ok := snapshots[gameID]
		if !ok {
			// not observable this cycle
			continue
		}
		g.Go(func() error {
			res := s.processGame(gctx, game)
			mu.Lock()
			if res.processed {
				summary.Processed++
			}
			summary.Events += res.events
			summary.Notifications += res.notifications
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.RecordCycle(metrics.CycleOK, time.Since(start))
	s.logger.Info("notification cycle complete",
		"processed", summary.Processed,
		"events", summary.Events,
		"notifications", summary.Notifications,
		"leagues", summary.LeaguesPolled,
		"duration", time.Since(start),
	)
	return summary, nil
}

// pruneExpired drops subscribers whose record expired by TTL from every
// active game. A failure to read the active set is left for Plan to report
func (s *NotificationService) pruneExpired(ctx context.Context) {
	ids, err := s.store.ActiveGames(ctx)
	if err != nil {
		return
	}
	for _, gameID := range ids {
		res, err := s.store.PruneExpiredSubscribers(ctx, gameID)
		if err != nil {
			s.logger.Warn("failed to prune expired subscribers", "game_id", gameID, "error", err)
			continue
		}
		for range res.Removed {
			s.metrics.RecordSubscriptionOp("expired")
		}
		if len(res.Removed) > 0 || res.GameEmptied {
			s.logger.Info("pruned expired subscribers",
				"game_id", gameID,
				"removed", len(res.Removed),
				"game_emptied", res.GameEmptied,
			)
		}
	}
}

// fetchScoreboards queries every league concurrently and merges the results by
// game ID. A failed league contributes nothing
func (s *NotificationService) fetchScoreboards(ctx context.Context, leagues []domain.League) map[string]domain.Game {
	merged := make(map[string]domain.Game)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, league := range leagues {
		league := league
		wg.Add(1)
		go func() {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			games, err := s.provider.Scoreboard(fctx, league)
			if err != nil {
				s.metrics.RecordUpstreamFailure(league, err)
				s.logger.Warn("scoreboard fetch failed", "league", league, "error", err)
				return
			}
			mu.Lock()
			for _, g := range games {
				if g.League == "" {
					g.League = league
				}
				merged[g.ID] = g
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return merged
}

func (s *NotificationService) processGame(ctx context.Context, game domain.Game) gameResult {
	logger := s.logger.With("game_id", game.ID, "league", game.League)

	prev, err := s.store.GetGameState(ctx, game.ID)
	if err != nil {
		logger.Error("failed to load cached game state", "error", err)
		return gameResult{}
	}

	obs := detector.Observation{Game: game}
	if detector.NeedsTimeline(game) {
		fctx, cancel := context.WithTimeout(ctx, s.timeout)
		plays, err := s.provider.ScoringPlays(fctx, game.League, game.ID)
		cancel()
		if err != nil {
			s.metrics.RecordUpstreamFailure(game.League, err)
			logger.Warn("scoring timeline unavailable, using score delta", "error", err)
		} else {
			obs.Plays = plays
			obs.PlaysAvailable = true
		}
	}

	events := detector.Detect(prev, obs)
	if s.dedupCfg.Enabled {
		events = s.unclaimed(ctx, logger, events)
	}

	res := gameResult{processed: true, events: len(events)}
	for _, ev := range events {
		s.metrics.RecordEvent(ev)
		res.notifications += s.dispatcher.Dispatch(ctx, ev)
	}

	next := detector.NextState(prev, obs, s.now())
	if err := s.store.SaveGameState(ctx, prev, next); err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			logger.Warn("cached game state changed during cycle, not overwriting")
		} else {
			logger.Error("failed to save game state", "error", err)
		}
		return res
	}

	if game.Status == domain.StatusFinal {
		cleanup, err := s.store.CleanupGame(ctx, game.ID)
		if err != nil {
			logger.Error("failed to clean up finished game", "error", err)
		} else {
			logger.Info("finished game cleaned up",
				"subscribers", cleanup.Subscribers,
				"subscriptions_deleted", cleanup.SubscriptionsDeleted,
			)
		}
	}

	if len(events) > 0 {
		logger.Info("game events dispatched", "events", len(events), "notifications", res.notifications)
	}
	return res
}

// unclaimed drops events whose idempotency key was already claimed. A claim
// failure lets the event through
func (s *NotificationService) unclaimed(ctx context.Context, logger *slog.Logger, events []domain.NotificationEvent) []domain.NotificationEvent {
	out := events[:0:0]
	for _, ev := range events {
		ok, err := s.store.ClaimEvent(ctx, EventKey(ev), s.dedupCfg.TTL)
		if err != nil {
			logger.Warn("event dedup check failed", "event_type", ev.Type, "error", err)
			ok = true
		}
		if !ok {
			logger.Debug("suppressing duplicate event", "event_type", ev.Type, "play_index", ev.PlayIndex)
			continue
		}
		out = append(out, ev)
	}
	return out
}

// EventKey is the idempotency key of an event
func EventKey(ev domain.NotificationEvent) string {
	composite := fmt.Sprintf("%s|%s|%d|%d|%d|%d", ev.GameID, ev.Type, ev.Period, ev.HomeScore, ev.AwayScore, ev.PlayIndex)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}
