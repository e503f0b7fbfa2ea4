package domain

import (
	"strings"
	"time"
)

// PushKeys are the client encryption keys of a Web Push endpoint
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushEndpoint is an opaque delivery target plus its credentials
type PushEndpoint struct {
	Endpoint string   `json:"endpoint"`
	Keys     PushKeys `json:"keys"`
}

// Valid reports whether the endpoint carries everything a transport needs
func (p PushEndpoint) Valid() bool {
	return strings.TrimSpace(p.Endpoint) != "" && p.Keys.P256dh != "" && p.Keys.Auth != ""
}

// EventPreferences selects which event types a subscriber receives
type EventPreferences struct {
	GameStart bool `json:"game_start"`
	GameEnd   bool `json:"game_end"`
	Scoring   bool `json:"scoring"`
	PeriodEnd bool `json:"period_end"`
}

// DefaultPreferences enables every event type
func DefaultPreferences() EventPreferences {
	return EventPreferences{GameStart: true, GameEnd: true, Scoring: true, PeriodEnd: true}
}

// Allows reports whether events of type t should be delivered
func (p EventPreferences) Allows(t EventType) bool {
	switch t {
	case EventGameStart:
		return p.GameStart
	case EventGameEnd:
		return p.GameEnd
	case EventScoring:
		return p.Scoring
	case EventPeriodEnd:
		return p.PeriodEnd
	default:
		return false
	}
}

// GameSubscription is one endpoint's interest in one game
type GameSubscription struct {
	GameID       string           `json:"game_id"`
	League       League           `json:"league"`
	HomeTeam     string           `json:"home_team"`
	AwayTeam     string           `json:"away_team"`
	Preferences  EventPreferences `json:"preferences"`
	SubscribedAt time.Time        `json:"subscribed_at"`
	StartTime    *time.Time       `json:"start_time,omitempty"`
}

// Subscription is a registered push endpoint and the games it follows
type Subscription struct {
	ID        string             `json:"id"`
	Push      PushEndpoint       `json:"push"`
	Games     []GameSubscription `json:"games"`
	CreatedAt time.Time          `json:"created_at"`
	LastSeen  time.Time          `json:"last_seen"`
}

// Game returns the entry for gameID, if any
func (s *Subscription) Game(gameID string) (GameSubscription, bool) {
	for _, g := range s.Games {
		if g.GameID == gameID {
			return g, true
		}
	}
	return GameSubscription{}, false
}

// UpsertGame replaces the entry with the same game ID or appends a new one
// Order of existing entries is preserved
func (s *Subscription) UpsertGame(gs GameSubscription) {
	for i, g := range s.Games {
		if g.GameID == gs.GameID {
			s.Games[i] = gs
			return
		}
	}
	s.Games = append(s.Games, gs)
}

// RemoveGame drops the entry for gameID and reports whether one existed
func (s *Subscription) RemoveGame(gameID string) bool {
	for i, g := range s.Games {
		if g.GameID == gameID {
			s.Games = append(s.Games[:i], s.Games[i+1:]...)
			return true
		}
	}
	return false
}

// SubscribeRequest represents a request to follow a game
type SubscribeRequest struct {
	Push        PushEndpoint      `json:"subscription"`
	GameID      string            `json:"game_id"`
	League      League            `json:"league"`
	HomeTeam    string            `json:"home_team"`
	AwayTeam    string            `json:"away_team"`
	Preferences *EventPreferences `json:"preferences,omitempty"`
	StartTime   *time.Time        `json:"start_time,omitempty"`
}

// Validate checks required fields and normalizes the league tag
func (r *SubscribeRequest) Validate() error {
	if !r.Push.Valid() || strings.TrimSpace(r.GameID) == "" {
		return ErrInvalidRequest
	}
	league, ok := ParseLeague(string(r.League))
	if !ok {
		return ErrUnknownLeague
	}
	r.League = league
	return nil
}

// CommandAction is the kind of subscription change carried on the command topic
type CommandAction string

const (
	ActionSubscribe      CommandAction = "subscribe"
	ActionUnsubscribe    CommandAction = "unsubscribe"
	ActionUnsubscribeAll CommandAction = "unsubscribe_all"
)

// SubscriptionCommand is a subscription change submitted asynchronously
type SubscriptionCommand struct {
	Action         CommandAction     `json:"action"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	GameID         string            `json:"game_id,omitempty"`
	Subscribe      *SubscribeRequest `json:"subscribe,omitempty"`
}
