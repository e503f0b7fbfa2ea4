// Package espn fetches scoreboards and scoring-play timelines from the public
// ESPN site API and maps them to domain games
package espn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/game-alerts/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL     = "https://site.api.espn.com/apis/site/v2/sports"
	defaultHTTPTimeout = 10 * time.Second
	errorBodyLimit     = 512
)

// Provider is the scores feed contract consumed by the notification pipeline
type Provider interface {
	Scoreboard(ctx context.Context, league domain.League) ([]domain.Game, error)
	ScoringPlays(ctx context.Context, league domain.League, gameID string) ([]domain.ScoringPlay, error)
}

// Config controls how the client reaches the upstream API
type Config struct {
	BaseURL           string
	HTTPClient        *http.Client
	Timeout           time.Duration
	RequestsPerMinute int
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a rate-limited ESPN site API client
type Client struct {
	baseURL    string
	httpClient httpDoer
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient constructs a client. A zero RequestsPerMinute disables limiting
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	var doer httpDoer = cfg.HTTPClient
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		doer = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: doer,
		limiter:    limiter,
		logger:     logger,
	}
}

// Scoreboard returns today's games for a league
func (c *Client) Scoreboard(ctx context.Context, league domain.League) ([]domain.Game, error) {
	info, ok := league.Info()
	if !ok {
		return nil, &domain.UpstreamFetchError{League: league, Err: domain.ErrUnknownLeague}
	}

	var payload scoreboardResponse
	if err := c.get(ctx, info.Path+"/scoreboard", nil, &payload); err != nil {
		return nil, asFetchError(league, "", err)
	}

	games := make([]domain.Game, 0, len(payload.Events))
	for _, ev := range payload.Events {
		if g, ok := mapEvent(league, ev); ok {
			games = append(games, g)
		}
	}
	c.logger.Debug("scoreboard fetched", "league", league, "games", len(games))
	return games, nil
}

// ScoringPlays returns the ordered scoring timeline of one game
func (c *Client) ScoringPlays(ctx context.Context, league domain.League, gameID string) ([]domain.ScoringPlay, error) {
	info, ok := league.Info()
	if !ok {
		return nil, &domain.UpstreamFetchError{League: league, GameID: gameID, Err: domain.ErrUnknownLeague}
	}

	params := url.Values{}
	params.Set("event", gameID)

	var payload summaryResponse
	if err := c.get(ctx, info.Path+"/summary", params, &payload); err != nil {
		return nil, asFetchError(league, gameID, err)
	}
	return mapScoringPlays(payload), nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.baseURL + "/" + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func asFetchError(league domain.League, gameID string, err error) error {
	fetchErr := &domain.UpstreamFetchError{League: league, GameID: gameID, Err: err}
	var se *statusError
	if errors.As(err, &se) {
		fetchErr.StatusCode = se.code
		if se.code == http.StatusTooManyRequests {
			fetchErr.Err = fmt.Errorf("%w: %s", domain.ErrUpstreamRateLimited, se.body)
		}
	}
	return fetchErr
}
