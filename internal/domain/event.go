package domain

import "time"

// EventType discriminates notification events
type EventType string

const (
	EventGameStart EventType = "gameStart"
	EventGameEnd   EventType = "gameEnd"
	EventScoring   EventType = "scoring"
	EventPeriodEnd EventType = "periodEnd"
)

// NotificationEvent is a discrete occurrence found by diffing two observations of a game
type NotificationEvent struct {
	Type      EventType `json:"type"`
	GameID    string    `json:"game_id"`
	League    League    `json:"league"`
	HomeTeam  string    `json:"home_team"`
	AwayTeam  string    `json:"away_team"`
	HomeScore int       `json:"home_score"`
	AwayScore int       `json:"away_score"`

	Period      int      `json:"period,omitempty"`
	ScoringSide Side     `json:"scoring_side,omitempty"`
	Scorer      string   `json:"scorer,omitempty"`
	Assists     []string `json:"assists,omitempty"`
	ScoreType   string   `json:"score_type,omitempty"`
	Strength    Strength `json:"strength,omitempty"`
	Description string   `json:"description,omitempty"`

	// PlayIndex is the timeline position of a scoring play, -1 when derived from the aggregate score
	PlayIndex int `json:"play_index"`
}

// ScoringTeam returns the team label of the scoring side
func (e NotificationEvent) ScoringTeam() string {
	switch e.ScoringSide {
	case SideHome:
		return e.HomeTeam
	case SideAway:
		return e.AwayTeam
	default:
		return ""
	}
}

// Payload is the push message body delivered to an endpoint
type Payload struct {
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	GameID string    `json:"gameId"`
	League League    `json:"league"`
	Type   EventType `json:"type"`
	URL    string    `json:"url"`
}

// DeliveryOutcome classifies a push transport result
type DeliveryOutcome string

const (
	OutcomeSuccess   DeliveryOutcome = "success"
	OutcomeExpired   DeliveryOutcome = "expired"
	OutcomeTransient DeliveryOutcome = "transient"
	OutcomeSkipped   DeliveryOutcome = "skipped"
)

// DeliveryRecord is one (event, subscriber) delivery attempt
type DeliveryRecord struct {
	SubscriptionID string          `json:"subscription_id"`
	GameID         string          `json:"game_id"`
	EventType      EventType       `json:"event_type"`
	Outcome        DeliveryOutcome `json:"outcome"`
	Error          string          `json:"error,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// CycleSummary is returned by one notification processing invocation
type CycleSummary struct {
	Processed     int      `json:"processed"`
	Events        int      `json:"events"`
	Notifications int      `json:"notifications"`
	LeaguesPolled []League `json:"leagues_polled"`
	Skipped       bool     `json:"skipped,omitempty"`
}
