package domain

import (
	"errors"
	"testing"
)

func TestUpsertGameReplacesByGameID(t *testing.T) {
	sub := &Subscription{ID: "s1"}
	sub.UpsertGame(GameSubscription{GameID: "G1", HomeTeam: "BOS"})
	sub.UpsertGame(GameSubscription{GameID: "G2"})
	sub.UpsertGame(GameSubscription{GameID: "G1", HomeTeam: "NYR"})

	if len(sub.Games) != 2 {
		t.Fatalf("expected 2 game subscriptions, got %d", len(sub.Games))
	}
	if sub.Games[0].GameID != "G1" || sub.Games[0].HomeTeam != "NYR" {
		t.Fatalf("expected G1 replaced in place, got %+v", sub.Games[0])
	}
}

func TestRemoveGame(t *testing.T) {
	sub := &Subscription{Games: []GameSubscription{{GameID: "G1"}, {GameID: "G2"}}}
	if !sub.RemoveGame("G1") {
		t.Fatal("expected G1 to be removed")
	}
	if sub.RemoveGame("G1") {
		t.Fatal("expected second removal to report false")
	}
	if _, ok := sub.Game("G2"); !ok || len(sub.Games) != 1 {
		t.Fatalf("expected only G2 left, got %+v", sub.Games)
	}
}

func TestPreferencesAllows(t *testing.T) {
	prefs := EventPreferences{GameStart: true, Scoring: true}
	cases := map[EventType]bool{
		EventGameStart: true,
		EventScoring:   true,
		EventGameEnd:   false,
		EventPeriodEnd: false,
		"bogus":        false,
	}
	for typ, want := range cases {
		if got := prefs.Allows(typ); got != want {
			t.Fatalf("Allows(%s) = %v, want %v", typ, got, want)
		}
	}
}

func TestSubscribeRequestValidate(t *testing.T) {
	req := SubscribeRequest{
		Push:   PushEndpoint{Endpoint: "https://push.example/abc", Keys: PushKeys{P256dh: "p", Auth: "a"}},
		GameID: "401",
		League: " NHL ",
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	if req.League != LeagueNHL {
		t.Fatalf("expected normalized league, got %q", req.League)
	}

	req.League = "cricket"
	if err := req.Validate(); !errors.Is(err, ErrUnknownLeague) {
		t.Fatalf("expected ErrUnknownLeague, got %v", err)
	}

	req.Push.Keys.Auth = ""
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestUpstreamFetchErrorUnwraps(t *testing.T) {
	err := error(&UpstreamFetchError{League: LeagueNFL, StatusCode: 429, Err: ErrUpstreamRateLimited})
	if !errors.Is(err, ErrUpstreamRateLimited) {
		t.Fatal("expected wrapped rate limit sentinel")
	}
	fetchErr, ok := AsUpstreamFetchError(err)
	if !ok || fetchErr.League != LeagueNFL {
		t.Fatalf("expected UpstreamFetchError, got %v", err)
	}
}
