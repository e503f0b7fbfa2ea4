package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/game-alerts/internal/config"
	"github.com/game-alerts/internal/domain"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cfg := config.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStoreWithClient(client, &cfg.Store, logger), mr
}

func testEndpoint(id string) domain.PushEndpoint {
	return domain.PushEndpoint{
		Endpoint: "https://push.example/" + id,
		Keys:     domain.PushKeys{P256dh: "p256", Auth: "auth"},
	}
}

func gameSub(gameID string) domain.GameSubscription {
	return domain.GameSubscription{
		GameID:      gameID,
		League:      domain.LeagueNHL,
		HomeTeam:    "BOS",
		AwayTeam:    "NYR",
		Preferences: domain.DefaultPreferences(),
	}
}

func assertActiveInvariant(t *testing.T, s *Store, gameID string) {
	t.Helper()
	ctx := context.Background()
	active, err := s.IsActive(ctx, gameID)
	if err != nil {
		t.Fatalf("is active: %v", err)
	}
	n, err := s.CountGameSubscribers(ctx, gameID)
	if err != nil {
		t.Fatalf("count subscribers: %v", err)
	}
	if active != (n > 0) {
		t.Fatalf("active set out of sync for %s: active=%v subscribers=%d", gameID, active, n)
	}
}

func TestSubscribeIsIdempotentUpsert(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Subscribe(ctx, "s1", testEndpoint("s1"), gameSub("G1")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	updated := gameSub("G1")
	updated.Preferences = domain.EventPreferences{GameEnd: true}
	sub, err := s.Subscribe(ctx, "s1", testEndpoint("s1"), updated)
	if err != nil {
		t.Fatalf("second subscribe: %v", err)
	}

	if len(sub.Games) != 1 {
		t.Fatalf("expected one game subscription, got %d", len(sub.Games))
	}
	if sub.Games[0].Preferences.Scoring || !sub.Games[0].Preferences.GameEnd {
		t.Fatalf("expected preferences replaced, got %+v", sub.Games[0].Preferences)
	}

	subs, err := s.GameSubscribers(ctx, "G1")
	if err != nil || len(subs) != 1 || subs[0] != "s1" {
		t.Fatalf("expected [s1], got %v (%v)", subs, err)
	}
	assertActiveInvariant(t, s, "G1")

	ttl := mr.TTL(subscriptionKey("s1"))
	if ttl != 30*24*time.Hour {
		t.Fatalf("expected 30 day ttl on subscription, got %s", ttl)
	}
	if meta, err := s.GetGameMeta(ctx, "G1"); err != nil || meta == nil || meta.League != domain.LeagueNHL {
		t.Fatalf("expected stored game meta, got %+v (%v)", meta, err)
	}
}

func TestSubscribeReplacesMalformedRecord(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	if err := mr.Set(subscriptionKey("s1"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := s.GetSubscription(ctx, "s1"); !errors.Is(err, domain.ErrMalformedSubscription) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	sub, err := s.Subscribe(ctx, "s1", testEndpoint("s1"), gameSub("G1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if len(sub.Games) != 1 {
		t.Fatalf("expected fresh record, got %+v", sub)
	}
}

func TestLastUnsubscribeEmptiesGame(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Subscribe(ctx, "s1", testEndpoint("s1"), gameSub("G1")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	state := domain.CachedGameState{GameID: "G1", Status: domain.StatusLive, LastUpdated: time.Now()}
	if err := s.SaveGameState(ctx, nil, state); err != nil {
		t.Fatalf("save state: %v", err)
	}

	res, err := s.RemoveGameSubscription(ctx, "s1", "G1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !res.Removed || !res.GameEmptied || !res.SubscriptionDeleted {
		t.Fatalf("unexpected result %+v", res)
	}

	subs, _ := s.GameSubscribers(ctx, "G1")
	if len(subs) != 0 {
		t.Fatalf("expected no subscribers, got %v", subs)
	}
	active, _ := s.ActiveGames(ctx)
	if len(active) != 0 {
		t.Fatalf("expected empty active set, got %v", active)
	}
	if prev, err := s.GetGameState(ctx, "G1"); err != nil || prev != nil {
		t.Fatalf("expected cached state deleted, got %+v (%v)", prev, err)
	}
	if _, err := s.GetSubscription(ctx, "s1"); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("expected empty record deleted, got %v", err)
	}
}

func TestUnsubscribeKeepsGameWithOtherSubscribers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		if _, err := s.Subscribe(ctx, id, testEndpoint(id), gameSub("G1")); err != nil {
			t.Fatalf("subscribe %s: %v", id, err)
		}
	}
	if _, err := s.Subscribe(ctx, "s1", testEndpoint("s1"), gameSub("G2")); err != nil {
		t.Fatalf("subscribe G2: %v", err)
	}

	res, err := s.RemoveGameSubscription(ctx, "s1", "G1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.GameEmptied || res.SubscriptionDeleted || res.Remaining != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	assertActiveInvariant(t, s, "G1")
	assertActiveInvariant(t, s, "G2")

	sub, err := s.GetSubscription(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := sub.Game("G1"); ok {
		t.Fatal("expected G1 removed from s1")
	}
}

func TestRemoveUnknownSubscriptionIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	res, err := s.RemoveGameSubscription(context.Background(), "ghost", "G9")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Removed {
		t.Fatalf("expected nothing removed, got %+v", res)
	}
	assertActiveInvariant(t, s, "G9")
}

func TestCleanupGameRemovesEverySubscriber(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		if _, err := s.Subscribe(ctx, id, testEndpoint(id), gameSub("G1")); err != nil {
			t.Fatalf("subscribe %s: %v", id, err)
		}
	}
	if _, err := s.Subscribe(ctx, "s2", testEndpoint("s2"), gameSub("G2")); err != nil {
		t.Fatalf("subscribe G2: %v", err)
	}
	if err := s.SaveGameState(ctx, nil, domain.CachedGameState{GameID: "G1", LastUpdated: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}

	res, err := s.CleanupGame(ctx, "G1")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if res.Subscribers != 2 || res.SubscriptionsDeleted != 1 {
		t.Fatalf("unexpected cleanup result %+v", res)
	}

	assertActiveInvariant(t, s, "G1")
	assertActiveInvariant(t, s, "G2")
	if active, _ := s.IsActive(ctx, "G1"); active {
		t.Fatal("expected G1 removed from active set")
	}
	if state, _ := s.GetGameState(ctx, "G1"); state != nil {
		t.Fatal("expected G1 state deleted")
	}
	if _, err := s.GetSubscription(ctx, "s1"); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("expected s1 deleted, got %v", err)
	}
	sub, err := s.GetSubscription(ctx, "s2")
	if err != nil || len(sub.Games) != 1 || sub.Games[0].GameID != "G2" {
		t.Fatalf("expected s2 to keep G2 only, got %+v (%v)", sub, err)
	}
}

func TestDeleteSubscriptionRemovesAllGames(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for _, g := range []string{"G1", "G2"} {
		if _, err := s.Subscribe(ctx, "s1", testEndpoint("s1"), gameSub(g)); err != nil {
			t.Fatalf("subscribe %s: %v", g, err)
		}
	}

	games, err := s.DeleteSubscription(ctx, "s1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("expected 2 games removed, got %v", games)
	}
	active, _ := s.ActiveGames(ctx)
	if len(active) != 0 {
		t.Fatalf("expected empty active set, got %v", active)
	}

	if _, err := s.DeleteSubscription(ctx, "s1"); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestUpdatePreferences(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Subscribe(ctx, "s1", testEndpoint("s1"), gameSub("G1")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sub, err := s.UpdatePreferences(ctx, "s1", "G1", domain.EventPreferences{Scoring: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if gs, _ := sub.Game("G1"); gs.Preferences.GameStart || !gs.Preferences.Scoring {
		t.Fatalf("unexpected preferences %+v", gs.Preferences)
	}

	if _, err := s.UpdatePreferences(ctx, "s1", "G9", domain.DefaultPreferences()); !errors.Is(err, domain.ErrGameSubscriptionNotFound) {
		t.Fatalf("expected game subscription not found, got %v", err)
	}
	if _, err := s.UpdatePreferences(ctx, "nobody", "G1", domain.DefaultPreferences()); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("expected subscription not found, got %v", err)
	}
}

func TestSaveGameStateCompareAndSet(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 10, 19, 0, 0, 0, time.UTC)

	first := domain.CachedGameState{GameID: "G1", Status: domain.StatusScheduled, LastUpdated: t0}
	if err := s.SaveGameState(ctx, nil, first); err != nil {
		t.Fatalf("initial save: %v", err)
	}
	if ttl := mr.TTL(gameStateKey("G1")); ttl != 6*time.Hour {
		t.Fatalf("expected 6h ttl, got %s", ttl)
	}

	second := first
	second.Status = domain.StatusLive
	second.LastUpdated = t0.Add(time.Minute)

	// a writer that still believes no state exists loses
	if err := s.SaveGameState(ctx, nil, second); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	loaded, err := s.GetGameState(ctx, "G1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := s.SaveGameState(ctx, loaded, second); err != nil {
		t.Fatalf("cas save: %v", err)
	}
	// stale prev
	if err := s.SaveGameState(ctx, &first, second); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected conflict on stale prev, got %v", err)
	}

	loaded, _ = s.GetGameState(ctx, "G1")
	if loaded.Status != domain.StatusLive {
		t.Fatalf("expected live state persisted, got %s", loaded.Status)
	}
}

func TestClaimEvent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.ClaimEvent(ctx, "abc", time.Hour)
	if err != nil || !ok {
		t.Fatalf("expected first claim to win, got %v (%v)", ok, err)
	}
	ok, err = s.ClaimEvent(ctx, "abc", time.Hour)
	if err != nil || ok {
		t.Fatalf("expected second claim to lose, got %v (%v)", ok, err)
	}
}

func TestCycleLock(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	token, ok, err := s.AcquireCycleLock(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock, got %v (%v)", ok, err)
	}
	if _, ok, _ := s.AcquireCycleLock(ctx, time.Minute); ok {
		t.Fatal("expected second acquire to fail")
	}

	// a foreign token must not release the lock
	if err := s.ReleaseCycleLock(ctx, "other"); err != nil {
		t.Fatalf("release other: %v", err)
	}
	if _, ok, _ := s.AcquireCycleLock(ctx, time.Minute); ok {
		t.Fatal("expected lock still held")
	}

	if err := s.ReleaseCycleLock(ctx, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := s.AcquireCycleLock(ctx, time.Minute); !ok {
		t.Fatal("expected lock free after release")
	}
}

func TestStoreUnreachable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.ActiveGames(context.Background())
	if !domain.IsStoreError(err) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}

func TestSubscribeKeepsEarlierStartTime(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 10, 15, 23, 0, 0, 0, time.UTC)
	first := gameSub("G1")
	first.StartTime = &start
	if _, err := s.Subscribe(ctx, "s1", testEndpoint("s1"), first); err != nil {
		t.Fatalf("subscribe s1: %v", err)
	}
	if _, err := s.Subscribe(ctx, "s2", testEndpoint("s2"), gameSub("G1")); err != nil {
		t.Fatalf("subscribe s2: %v", err)
	}

	meta, err := s.GetGameMeta(ctx, "G1")
	if err != nil || meta == nil {
		t.Fatalf("expected meta, got %+v (%v)", meta, err)
	}
	if !meta.StartTime.Equal(start) {
		t.Fatalf("expected start time %s to survive, got %s", start, meta.StartTime)
	}

	later := start.Add(2 * time.Hour)
	moved := gameSub("G1")
	moved.StartTime = &later
	if _, err := s.Subscribe(ctx, "s3", testEndpoint("s3"), moved); err != nil {
		t.Fatalf("subscribe s3: %v", err)
	}
	if meta, _ := s.GetGameMeta(ctx, "G1"); meta == nil || !meta.StartTime.Equal(later) {
		t.Fatalf("expected start time updated to %s, got %+v", later, meta)
	}
}

func TestPruneExpiredSubscribers(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Subscribe(ctx, "s1", testEndpoint("s1"), gameSub("G1")); err != nil {
		t.Fatalf("subscribe s1: %v", err)
	}
	mr.FastForward(31 * 24 * time.Hour)
	if _, err := s.Subscribe(ctx, "s2", testEndpoint("s2"), gameSub("G1")); err != nil {
		t.Fatalf("subscribe s2: %v", err)
	}

	res, err := s.PruneExpiredSubscribers(ctx, "G1")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0] != "s1" || res.GameEmptied {
		t.Fatalf("expected only s1 pruned, got %+v", res)
	}
	if subs, _ := s.GameSubscribers(ctx, "G1"); len(subs) != 1 || subs[0] != "s2" {
		t.Fatalf("expected [s2], got %v", subs)
	}
	assertActiveInvariant(t, s, "G1")

	res, err = s.PruneExpiredSubscribers(ctx, "G1")
	if err != nil || len(res.Removed) != 0 || res.GameEmptied {
		t.Fatalf("expected live subscriber kept, got %+v (%v)", res, err)
	}

	mr.Del(subscriptionKey("s2"))
	res, err = s.PruneExpiredSubscribers(ctx, "G1")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !res.GameEmptied {
		t.Fatalf("expected game emptied, got %+v", res)
	}
	if active, _ := s.IsActive(ctx, "G1"); active {
		t.Fatal("expected G1 to leave the active set")
	}
	if meta, _ := s.GetGameMeta(ctx, "G1"); meta != nil {
		t.Fatalf("expected meta deleted, got %+v", meta)
	}
	assertActiveInvariant(t, s, "G1")
}

func TestPruneRetiresActiveGameWithoutSubscribers(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	if _, err := mr.SAdd(activeGamesKey, "G2"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := s.PruneExpiredSubscribers(ctx, "G2")
	if err != nil || !res.GameEmptied {
		t.Fatalf("expected empty game retired, got %+v (%v)", res, err)
	}
	if active, _ := s.IsActive(ctx, "G2"); active {
		t.Fatal("expected G2 to leave the active set")
	}
}
