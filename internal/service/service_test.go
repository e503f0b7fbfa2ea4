package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/game-alerts/internal/config"
	"github.com/game-alerts/internal/domain"
	"github.com/game-alerts/internal/redis"
	"github.com/game-alerts/internal/scheduler"
	goredis "github.com/redis/go-redis/v9"
)

type fakeProvider struct {
	mu             sync.Mutex
	games          map[domain.League][]domain.Game
	plays          map[string][]domain.ScoringPlay
	scoreboardErrs map[domain.League]error
	playsErr       error
	calls          atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		games:          make(map[domain.League][]domain.Game),
		plays:          make(map[string][]domain.ScoringPlay),
		scoreboardErrs: make(map[domain.League]error),
	}
}

func (f *fakeProvider) set(g domain.Game, plays ...domain.ScoringPlay) {
	f.mu.Lock()
	defer f.mu.Unlock()
	games := f.games[g.League][:0:0]
	for _, existing := range f.games[g.League] {
		if existing.ID != g.ID {
			games = append(games, existing)
		}
	}
	f.games[g.League] = append(games, g)
	f.plays[g.ID] = plays
}

func (f *fakeProvider) Scoreboard(ctx context.Context, league domain.League) ([]domain.Game, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scoreboardErrs[league]; err != nil {
		return nil, err
	}
	return append([]domain.Game(nil), f.games[league]...), nil
}

func (f *fakeProvider) ScoringPlays(ctx context.Context, league domain.League, gameID string) ([]domain.ScoringPlay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playsErr != nil {
		return nil, f.playsErr
	}
	return append([]domain.ScoringPlay(nil), f.plays[gameID]...), nil
}

type sentPush struct {
	endpoint string
	payload  domain.Payload
}

type fakeTransport struct {
	mu       sync.Mutex
	outcomes map[string]domain.DeliveryOutcome
	sent     []sentPush
}

func (f *fakeTransport) Send(ctx context.Context, endpoint domain.PushEndpoint, payload domain.Payload) (domain.DeliveryOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPush{endpoint: endpoint.Endpoint, payload: payload})
	switch f.outcomes[endpoint.Endpoint] {
	case domain.OutcomeExpired:
		return domain.OutcomeExpired, domain.ErrDeliveryExpired
	case domain.OutcomeTransient:
		return domain.OutcomeTransient, domain.ErrDeliveryTransient
	default:
		return domain.OutcomeSuccess, nil
	}
}

func (f *fakeTransport) sentTo(endpoint string) []domain.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Payload
	for _, s := range f.sent {
		if s.endpoint == endpoint {
			out = append(out, s.payload)
		}
	}
	return out
}

type fakeAudit struct {
	mu         sync.Mutex
	events     []domain.NotificationEvent
	deliveries []domain.DeliveryRecord
}

func (f *fakeAudit) RecordEvent(ctx context.Context, ev domain.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeAudit) RecordDeliveries(ctx context.Context, records []domain.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, records...)
	return nil
}

type failingSink struct{ calls atomic.Int32 }

func (f *failingSink) PublishEvent(ctx context.Context, ev domain.NotificationEvent) error {
	f.calls.Add(1)
	return errors.New("broker down")
}

type harness struct {
	mr        *miniredis.Miniredis
	store     *redis.Store
	subs      *SubscriptionService
	pipeline  *NotificationService
	provider  *fakeProvider
	transport *fakeTransport
	audit     *fakeAudit
	sink      *failingSink
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.DefaultConfig()
	cfg.Push.ClickURLBase = "https://scores.example"
	for _, m := range mutate {
		m(cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := redis.NewStoreWithClient(client, &cfg.Store, logger)
	provider := newFakeProvider()
	transport := &fakeTransport{outcomes: make(map[string]domain.DeliveryOutcome)}
	audit := &fakeAudit{}
	sink := &failingSink{}

	dispatcher := NewDispatcher(store, transport, audit, nil, DispatcherConfig{ClickURLBase: cfg.Push.ClickURLBase, Concurrency: 4}, logger, sink)
	sched := scheduler.New(store, cfg.Scheduler, logger)

	return &harness{
		mr:        mr,
		store:     store,
		subs:      NewSubscriptionService(store, nil, logger),
		pipeline:  NewNotificationService(store, sched, provider, dispatcher, nil, cfg, logger),
		provider:  provider,
		transport: transport,
		audit:     audit,
		sink:      sink,
	}
}

func endpoint(name string) domain.PushEndpoint {
	return domain.PushEndpoint{
		Endpoint: "https://push.example/" + name,
		Keys:     domain.PushKeys{P256dh: "p256-" + name, Auth: "auth-" + name},
	}
}

func (h *harness) subscribe(t *testing.T, name, gameID string, league domain.League, prefs *domain.EventPreferences) string {
	t.Helper()
	sub, err := h.subs.Subscribe(context.Background(), domain.SubscribeRequest{
		Push:        endpoint(name),
		GameID:      gameID,
		League:      league,
		HomeTeam:    "BOS",
		AwayTeam:    "NYR",
		Preferences: prefs,
	})
	if err != nil {
		t.Fatalf("subscribe %s: %v", name, err)
	}
	return sub.ID
}

func (h *harness) cycle(t *testing.T) domain.CycleSummary {
	t.Helper()
	summary, err := h.pipeline.ProcessNotifications(context.Background())
	if err != nil {
		t.Fatalf("process notifications: %v", err)
	}
	return summary
}

func game(id string, league domain.League, status domain.GameStatus, period, home, away int) domain.Game {
	return domain.Game{
		ID:        id,
		League:    league,
		Status:    status,
		HomeTeam:  "BOS",
		AwayTeam:  "NYR",
		HomeScore: home,
		AwayScore: away,
		Period:    period,
	}
}

func TestIdleCycleSkipsProvider(t *testing.T) {
	h := newHarness(t)
	summary := h.cycle(t)
	if summary.Processed != 0 || len(summary.LeaguesPolled) != 0 {
		t.Fatalf("expected idle summary, got %+v", summary)
	}
	if h.provider.calls.Load() != 0 {
		t.Fatal("expected no provider calls")
	}
}

func TestGameLifecycleNotifications(t *testing.T) {
	h := newHarness(t)
	noScoring := domain.DefaultPreferences()
	noScoring.Scoring = false

	s1 := h.subscribe(t, "fan", "G1", domain.LeagueNHL, nil)
	s2 := h.subscribe(t, "casual", "G1", domain.LeagueNHL, &noScoring)

	// baseline
	h.provider.set(game("G1", domain.LeagueNHL, domain.StatusScheduled, 0, 0, 0))
	summary := h.cycle(t)
	if summary.Processed != 1 || summary.Events != 0 || len(summary.LeaguesPolled) != 1 {
		t.Fatalf("unexpected baseline summary %+v", summary)
	}

	h.provider.set(game("G1", domain.LeagueNHL, domain.StatusLive, 1, 0, 0))
	summary = h.cycle(t)
	if summary.Events != 1 || summary.Notifications != 2 {
		t.Fatalf("expected gameStart to both subscribers, got %+v", summary)
	}

	// unchanged snapshot must not repeat gameStart
	summary = h.cycle(t)
	if summary.Events != 0 {
		t.Fatalf("expected no events on unchanged snapshot, got %+v", summary)
	}

	goal := domain.ScoringPlay{Period: 1, ScoringTeam: domain.SideHome, Scorer: "David Pastrnak", HomeScoreAfter: 1}
	h.provider.set(game("G1", domain.LeagueNHL, domain.StatusLive, 1, 1, 0), goal)
	summary = h.cycle(t)
	if summary.Events != 1 || summary.Notifications != 1 {
		t.Fatalf("expected scoring to one subscriber, got %+v", summary)
	}

	h.provider.set(game("G1", domain.LeagueNHL, domain.StatusFinal, 3, 1, 0), goal)
	summary = h.cycle(t)
	if summary.Events != 2 || summary.Notifications != 4 {
		t.Fatalf("expected periodEnd and gameEnd to both, got %+v", summary)
	}

	fan := h.transport.sentTo(endpoint("fan").Endpoint)
	wantTitles := []string{"Puck Drop!", "GOAL! BOS", "End of 2nd Period", "FINAL"}
	if len(fan) != len(wantTitles) {
		t.Fatalf("expected %d pushes to fan, got %d", len(wantTitles), len(fan))
	}
	for i, p := range fan {
		if p.Title != wantTitles[i] {
			t.Fatalf("push %d: expected %q, got %q", i, wantTitles[i], p.Title)
		}
	}
	if fan[0].URL != "https://scores.example/games/nhl/G1" {
		t.Fatalf("unexpected url %q", fan[0].URL)
	}
	if got := len(h.transport.sentTo(endpoint("casual").Endpoint)); got != 3 {
		t.Fatalf("expected 3 pushes to casual subscriber, got %d", got)
	}

	// finished game is cleaned up
	ctx := context.Background()
	if active, _ := h.store.ActiveGames(ctx); len(active) != 0 {
		t.Fatalf("expected empty active set, got %v", active)
	}
	for _, id := range []string{s1, s2} {
		if _, err := h.store.GetSubscription(ctx, id); !errors.Is(err, domain.ErrSubscriptionNotFound) {
			t.Fatalf("expected %s deleted, got %v", id, err)
		}
	}
	if state, _ := h.store.GetGameState(ctx, "G1"); state != nil {
		t.Fatalf("expected state deleted, got %+v", state)
	}

	if len(h.audit.events) != 4 || len(h.audit.deliveries) != 7 {
		t.Fatalf("expected 4 audited events and 7 deliveries, got %d and %d", len(h.audit.events), len(h.audit.deliveries))
	}
	if h.sink.calls.Load() != 4 {
		t.Fatalf("expected sink called per event, got %d", h.sink.calls.Load())
	}
}

func TestExpiredEndpointIsRemoved(t *testing.T) {
	h := newHarness(t)
	dead := h.subscribe(t, "dead", "G1", domain.LeagueNHL, nil)
	h.subscribe(t, "alive", "G1", domain.LeagueNHL, nil)
	h.transport.outcomes[endpoint("dead").Endpoint] = domain.OutcomeExpired

	h.provider.set(game("G1", domain.LeagueNHL, domain.StatusScheduled, 0, 0, 0))
	h.cycle(t)
	h.provider.set(game("G1", domain.LeagueNHL, domain.StatusLive, 1, 0, 0))
	summary := h.cycle(t)
	if summary.Notifications != 1 {
		t.Fatalf("expected one successful delivery, got %+v", summary)
	}

	ctx := context.Background()
	if _, err := h.store.GetSubscription(ctx, dead); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("expected dead subscription removed, got %v", err)
	}
	subs, _ := h.store.GameSubscribers(ctx, "G1")
	if len(subs) != 1 || subs[0] == dead {
		t.Fatalf("expected only the live subscriber, got %v", subs)
	}
	if active, _ := h.store.IsActive(ctx, "G1"); !active {
		t.Fatal("expected G1 still active")
	}
}

func TestTransientFailureKeepsSubscriber(t *testing.T) {
	h := newHarness(t)
	id := h.subscribe(t, "flaky", "G1", domain.LeagueNHL, nil)
	h.transport.outcomes[endpoint("flaky").Endpoint] = domain.OutcomeTransient

	h.provider.set(game("G1", domain.LeagueNHL, domain.StatusScheduled, 0, 0, 0))
	h.cycle(t)
	h.provider.set(game("G1", domain.LeagueNHL, domain.StatusLive, 1, 0, 0))
	if summary := h.cycle(t); summary.Notifications != 0 || summary.Events != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, err := h.store.GetSubscription(context.Background(), id); err != nil {
		t.Fatalf("expected subscription kept, got %v", err)
	}
}

func TestLeagueFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.subscribe(t, "a", "HOCKEY", domain.LeagueNHL, nil)
	h.subscribe(t, "b", "HOOPS", domain.LeagueNBA, nil)
	h.provider.scoreboardErrs[domain.LeagueNHL] = &domain.UpstreamFetchError{League: domain.LeagueNHL, StatusCode: 503, Err: errors.New("unavailable")}

	h.provider.set(game("HOOPS", domain.LeagueNBA, domain.StatusScheduled, 0, 0, 0))
	summary := h.cycle(t)
	if summary.Processed != 1 || len(summary.LeaguesPolled) != 2 {
		t.Fatalf("expected only the NBA game processed, got %+v", summary)
	}
	if state, _ := h.store.GetGameState(context.Background(), "HOCKEY"); state != nil {
		t.Fatal("expected no state for unobservable game")
	}
}

func TestTimelineFailureFallsBackToScoreDelta(t *testing.T) {
	h := newHarness(t)
	h.subscribe(t, "fan", "G1", domain.LeagueNHL, nil)

	h.provider.set(game("G1", domain.LeagueNHL, domain.StatusLive, 1, 0, 0))
	h.cycle(t)

	h.provider.playsErr = errors.New("summary timeout")
	h.provider.set(game("G1", domain.LeagueNHL, domain.StatusLive, 1, 0, 1))
	summary := h.cycle(t)
	if summary.Events != 1 || summary.Notifications != 1 {
		t.Fatalf("expected one generic scoring event, got %+v", summary)
	}
	pushes := h.transport.sentTo(endpoint("fan").Endpoint)
	if len(pushes) != 1 || pushes[0].Title != "GOAL! NYR" {
		t.Fatalf("unexpected pushes %+v", pushes)
	}
}

func TestOverlappingCycleIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.subscribe(t, "fan", "G1", domain.LeagueNHL, nil)
	if _, ok, err := h.store.AcquireCycleLock(context.Background(), 0); err != nil || !ok {
		t.Fatalf("expected to hold the lock, got %v (%v)", ok, err)
	}

	summary := h.cycle(t)
	if !summary.Skipped || h.provider.calls.Load() != 0 {
		t.Fatalf("expected skipped cycle, got %+v", summary)
	}
}

func TestDedupSuppressesRedetectedEvents(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Dedup.Enabled = true })
	h.subscribe(t, "fan", "G1", domain.LeagueNHL, nil)
	ctx := context.Background()

	h.provider.set(game("G1", domain.LeagueNHL, domain.StatusScheduled, 0, 0, 0))
	h.cycle(t)
	h.provider.set(game("G1", domain.LeagueNHL, domain.StatusLive, 1, 0, 0))
	if summary := h.cycle(t); summary.Events != 1 {
		t.Fatalf("expected gameStart, got %+v", summary)
	}

	// simulate a crash before the checkpoint was written
	prev, err := h.store.GetGameState(ctx, "G1")
	if err != nil || prev == nil {
		t.Fatalf("load state: %+v (%v)", prev, err)
	}
	rewound := *prev
	rewound.Status = domain.StatusScheduled
	rewound.Period = 0
	rewound.LastUpdated = prev.LastUpdated.Add(1)
	if err := h.store.SaveGameState(ctx, prev, rewound); err != nil {
		t.Fatalf("rewind state: %v", err)
	}

	if summary := h.cycle(t); summary.Events != 0 || summary.Notifications != 0 {
		t.Fatalf("expected duplicate suppressed, got %+v", summary)
	}
	if got := len(h.transport.sentTo(endpoint("fan").Endpoint)); got != 1 {
		t.Fatalf("expected a single push, got %d", got)
	}
}

func TestActiveSetFailureIsHardError(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Scheduler.CycleLock = false })
	h.mr.Close()

	if _, err := h.pipeline.ProcessNotifications(context.Background()); err == nil {
		t.Fatal("expected error when store is unreachable")
	}
}

func TestEventKeyIsStable(t *testing.T) {
	ev := domain.NotificationEvent{GameID: "G1", Type: domain.EventScoring, Period: 2, HomeScore: 1, AwayScore: 0, PlayIndex: 3}
	if EventKey(ev) != EventKey(ev) {
		t.Fatal("expected stable key")
	}
	other := ev
	other.PlayIndex = 4
	if EventKey(ev) == EventKey(other) {
		t.Fatal("expected different plays to have different keys")
	}
}

func TestExpiredSubscriptionLeavesWorkingSet(t *testing.T) {
	h := newHarness(t)
	id := h.subscribe(t, "fan", "G9", domain.LeagueNHL, nil)

	h.provider.set(game("G9", domain.LeagueNHL, domain.StatusPostponed, 0, 0, 0))
	if summary := h.cycle(t); summary.Processed != 1 {
		t.Fatalf("expected postponed game observed, got %+v", summary)
	}

	h.mr.FastForward(31 * 24 * time.Hour)
	summary := h.cycle(t)
	if summary.Processed != 0 || len(summary.LeaguesPolled) != 0 {
		t.Fatalf("expected nothing left to poll, got %+v", summary)
	}

	ctx := context.Background()
	if active, _ := h.store.ActiveGames(ctx); len(active) != 0 {
		t.Fatalf("expected empty active set, got %v", active)
	}
	if subs, _ := h.store.GameSubscribers(ctx, "G9"); len(subs) != 0 {
		t.Fatalf("expected %s pruned from G9, got %v", id, subs)
	}
}
