package domain

import (
	"strings"
	"time"
)

// GameStatus represents where a game is in its lifecycle
type GameStatus string

const (
	StatusScheduled GameStatus = "scheduled"
	StatusLive      GameStatus = "live"
	StatusFinal     GameStatus = "final"
	StatusPostponed GameStatus = "postponed"
	StatusDelayed   GameStatus = "delayed"
)

// Game is the provider's current view of one contest
type Game struct {
	ID        string     `json:"id"`
	League    League     `json:"league"`
	Status    GameStatus `json:"status"`
	HomeTeam  string     `json:"home_team"`
	AwayTeam  string     `json:"away_team"`
	HomeScore int        `json:"home_score"`
	AwayScore int        `json:"away_score"`
	Period    int        `json:"period"`
	Clock     string     `json:"clock,omitempty"`
	StartTime time.Time  `json:"start_time,omitempty"`
}

// Side identifies home or away
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// Strength tags special hockey scoring situations
type Strength string

const (
	StrengthEven        Strength = ""
	StrengthPowerPlay   Strength = "power-play"
	StrengthShorthanded Strength = "shorthanded"
	StrengthEmptyNet    Strength = "empty-net"
	StrengthPenaltyShot Strength = "penalty-shot"
	StrengthOwnGoal     Strength = "own-goal"
)

// ScoringPlay is one point-scoring occurrence from the play timeline
type ScoringPlay struct {
	Period         int      `json:"period"`
	Clock          string   `json:"clock"`
	ScoringTeam    Side     `json:"scoring_team"`
	TeamLabel      string   `json:"team_label,omitempty"`
	Scorer         string   `json:"scorer,omitempty"`
	Assists        []string `json:"assists,omitempty"`
	Strength       Strength `json:"strength,omitempty"`
	TypeText       string   `json:"type_text,omitempty"`
	HomeScoreAfter int      `json:"home_score_after"`
	AwayScoreAfter int      `json:"away_score_after"`
	Text           string   `json:"text"`
}

// CachedGameState is what the pipeline last recorded about a game
type CachedGameState struct {
	GameID            string     `json:"game_id"`
	League            League     `json:"league"`
	Status            GameStatus `json:"status"`
	HomeScore         int        `json:"home_score"`
	AwayScore         int        `json:"away_score"`
	Period            int        `json:"period"`
	ScoringPlaysCount int        `json:"scoring_plays_count"`
	LastUpdated       time.Time  `json:"last_updated"`
}

// GameMeta is the per-game data captured at subscribe time for scheduling
type GameMeta struct {
	GameID    string    `json:"game_id"`
	League    League    `json:"league"`
	HomeTeam  string    `json:"home_team"`
	AwayTeam  string    `json:"away_team"`
	StartTime time.Time `json:"start_time,omitempty"`
}

// StrengthFromText recognizes a hockey strength tag in free text such as
// "Power Play Goal" or "Short-handed". It returns StrengthEven when nothing matches
func StrengthFromText(text string) Strength {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "power play"), strings.Contains(t, "power-play"):
		return StrengthPowerPlay
	case strings.Contains(t, "shorthanded"), strings.Contains(t, "short-handed"), strings.Contains(t, "short handed"):
		return StrengthShorthanded
	case strings.Contains(t, "empty net"), strings.Contains(t, "empty-net"):
		return StrengthEmptyNet
	case strings.Contains(t, "penalty shot"):
		return StrengthPenaltyShot
	case strings.Contains(t, "own goal"):
		return StrengthOwnGoal
	default:
		return StrengthEven
	}
}
