// Package scheduler decides which leagues must be polled in a notification cycle
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/game-alerts/internal/config"
	"github.com/game-alerts/internal/domain"
)

// GameSource is the slice of the state store the scheduler reads
type GameSource interface {
	ActiveGames(ctx context.Context) ([]string, error)
	GetGameMeta(ctx context.Context, gameID string) (*domain.GameMeta, error)
	GetGameState(ctx context.Context, gameID string) (*domain.CachedGameState, error)
}

// Plan is the outcome of one scheduling decision
type Plan struct {
	// ActiveGames is every game in the working set, sorted
	ActiveGames []string
	// Leagues are the leagues to query this cycle, sorted
	Leagues []domain.League
}

// Empty reports whether nothing needs polling
func (p Plan) Empty() bool {
	return len(p.Leagues) == 0
}

// Scheduler computes polling windows from stored game metadata
type Scheduler struct {
	source  GameSource
	lead    time.Duration
	trail   time.Duration
	enabled map[domain.League]bool
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a scheduler. An empty cfg.Leagues enables every league
func New(source GameSource, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	var enabled map[domain.League]bool
	if len(cfg.Leagues) > 0 {
		enabled = make(map[domain.League]bool, len(cfg.Leagues))
		for _, raw := range cfg.Leagues {
			if l, ok := domain.ParseLeague(raw); ok {
				enabled[l] = true
			} else {
				logger.Warn("ignoring unknown league in scheduler config", "league", raw)
			}
		}
	}
	return &Scheduler{
		source:  source,
		lead:    cfg.LeadTime,
		trail:   cfg.TrailTime,
		enabled: enabled,
		logger:  logger,
		now:     time.Now,
	}
}

// Plan reads the active-games set and returns the leagues with at least one
// game inside its polling window. Only a failure to read the active set is an error
func (s *Scheduler) Plan(ctx context.Context) (Plan, error) {
	ids, err := s.source.ActiveGames(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("reading active games: %w", err)
	}

	now := s.now()
	leagues := make(map[domain.League]struct{})
	for _, id := range ids {
		league, ok := s.shouldPoll(ctx, id, now)
		if !ok {
			continue
		}
		if s.enabled != nil && !s.enabled[league] {
			continue
		}
		leagues[league] = struct{}{}
	}

	plan := Plan{ActiveGames: ids}
	for l := range leagues {
		plan.Leagues = append(plan.Leagues, l)
	}
	slices.Sort(plan.Leagues)
	return plan, nil
}

func (s *Scheduler) shouldPoll(ctx context.Context, gameID string, now time.Time) (domain.League, bool) {
	meta, err := s.source.GetGameMeta(ctx, gameID)
	if err != nil {
		s.logger.Warn("game meta unavailable", "game_id", gameID, "error", err)
	}
	state, err := s.source.GetGameState(ctx, gameID)
	if err != nil {
		s.logger.Warn("cached state unavailable", "game_id", gameID, "error", err)
	}

	var league domain.League
	switch {
	case meta != nil && meta.League != "":
		league = meta.League
	case state != nil && state.League != "":
		league = state.League
	default:
		s.logger.Warn("cannot schedule game without league", "game_id", gameID)
		return "", false
	}

	if state != nil {
		switch state.Status {
		case domain.StatusFinal:
			return league, false
		case domain.StatusLive:
			return league, true
		}
	}

	if meta == nil || meta.StartTime.IsZero() {
		return league, true
	}
	return league, InWindow(league, meta.StartTime, now, s.lead, s.trail)
}

// InWindow reports whether now falls between start-lead and the expected end
// of the game plus trail
func InWindow(league domain.League, start, now time.Time, lead, trail time.Duration) bool {
	duration := 3 * time.Hour
	if info, ok := league.Info(); ok && info.Duration > 0 {
		duration = info.Duration
	}
	opens := start.Add(-lead)
	closes := start.Add(duration + trail)
	return !now.Before(opens) && !now.After(closes)
}
