package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/game-alerts/internal/config"
	"github.com/game-alerts/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	activeGamesKey = "games:active"
	cycleLockKey   = "lock:notification-cycle"

	// maxTxRetries bounds optimistic transaction retries on contended keys
	maxTxRetries = 5
)

// Store is the Redis-backed state store for subscriptions, game state and
// the active-games working set
type Store struct {
	client *redis.Client
	cfg    *config.StoreConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewStore connects to Redis and returns a state store
func NewStore(cfg *config.RedisConfig, storeCfg *config.StoreConfig, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewStoreWithClient(client, storeCfg, logger), nil
}

// NewStoreWithClient wraps an existing client
func NewStoreWithClient(client *redis.Client, storeCfg *config.StoreConfig, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		cfg:    storeCfg,
		logger: logger,
		now:    time.Now,
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks that Redis is reachable
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &domain.StoreError{Op: "ping", Err: err}
	}
	return nil
}

func subscriptionKey(subscriptionID string) string {
	return fmt.Sprintf("subscription:%s", subscriptionID)
}

func gameStateKey(gameID string) string {
	return fmt.Sprintf("game:%s:state", gameID)
}

func gameMetaKey(gameID string) string {
	return fmt.Sprintf("game:%s:meta", gameID)
}

func gameSubscribersKey(gameID string) string {
	return fmt.Sprintf("game:%s:subscribers", gameID)
}

func dedupKey(key string) string {
	return fmt.Sprintf("dedup:%s", key)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg == nil || s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// wrapErr leaves domain errors untouched and tags everything else as a StoreError
func wrapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsStoreError(err) ||
		errors.Is(err, domain.ErrSubscriptionNotFound) ||
		errors.Is(err, domain.ErrMalformedSubscription) ||
		errors.Is(err, domain.ErrStateConflict) {
		return err
	}
	return &domain.StoreError{Op: op, Key: key, Err: err}
}

// watch runs fn in an optimistic transaction, retrying when a watched key changes
func (s *Store) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug("redis transaction retry", "keys", keys, "attempt", attempt+1)
	}
	return fmt.Errorf("transaction retries exhausted: %w", redis.TxFailedErr)
}

func decodeSubscription(data []byte) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSubscription, err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("%w: missing id", domain.ErrMalformedSubscription)
	}
	return &sub, nil
}

func readSubscription(ctx context.Context, cmd redis.Cmdable, key string) (*domain.Subscription, error) {
	data, err := cmd.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, &domain.StoreError{Op: "get", Key: key, Err: err}
	}
	return decodeSubscription(data)
}

// GetSubscription loads a subscription record
func (s *Store) GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return readSubscription(ctx, s.client, subscriptionKey(subscriptionID))
}

// Subscribe upserts a game subscription inside the subscription record and
// registers the subscriber in the game's fan-out set and the active-games set,
// all in one transaction
func (s *Store) Subscribe(ctx context.Context, subscriptionID string, push domain.PushEndpoint, gs domain.GameSubscription) (*domain.Subscription, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := subscriptionKey(subscriptionID)
	metaKey := gameMetaKey(gs.GameID)

	var result *domain.Subscription
	err := s.watch(ctx, func(tx *redis.Tx) error {
		now := s.now()

		meta := domain.GameMeta{
			GameID:   gs.GameID,
			League:   gs.League,
			HomeTeam: gs.HomeTeam,
			AwayTeam: gs.AwayTeam,
		}
		if gs.StartTime != nil {
			meta.StartTime = *gs.StartTime
		} else if existing, err := readGameMeta(ctx, tx, metaKey); err != nil {
			return err
		} else if existing != nil {
			// keep a start time supplied by an earlier subscriber
			meta.StartTime = existing.StartTime
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshaling game meta: %w", err)
		}

		sub, err := readSubscription(ctx, tx, key)
		switch {
		case errors.Is(err, domain.ErrSubscriptionNotFound):
			sub = &domain.Subscription{ID: subscriptionID, CreatedAt: now}
		case errors.Is(err, domain.ErrMalformedSubscription):
			s.logger.Warn("replacing malformed subscription record", "subscription_id", subscriptionID, "error", err)
			sub = &domain.Subscription{ID: subscriptionID, CreatedAt: now}
		case err != nil:
			return err
		}

		sub.Push = push
		sub.LastSeen = now
		sub.UpsertGame(gs)

		data, err := json.Marshal(sub)
		if err != nil {
			return fmt.Errorf("marshaling subscription: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.cfg.SubscriptionTTL)
			pipe.SAdd(ctx, gameSubscribersKey(gs.GameID), subscriptionID)
			pipe.SAdd(ctx, activeGamesKey, gs.GameID)
			pipe.Set(ctx, metaKey, metaJSON, s.cfg.SubscriptionTTL)
			return nil
		})
		if err != nil {
			return err
		}
		result = sub
		return nil
	}, key, metaKey)
	if err != nil {
		return nil, wrapErr("subscribe", key, err)
	}
	return result, nil
}

// UpdatePreferences replaces the event preferences of one game subscription
func (s *Store) UpdatePreferences(ctx context.Context, subscriptionID, gameID string, prefs domain.EventPreferences) (*domain.Subscription, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := subscriptionKey(subscriptionID)
	var result *domain.Subscription
	err := s.watch(ctx, func(tx *redis.Tx) error {
		sub, err := readSubscription(ctx, tx, key)
		if err != nil {
			return err
		}
		gs, ok := sub.Game(gameID)
		if !ok {
			return domain.ErrGameSubscriptionNotFound
		}
		gs.Preferences = prefs
		sub.UpsertGame(gs)
		sub.LastSeen = s.now()

		data, err := json.Marshal(sub)
		if err != nil {
			return fmt.Errorf("marshaling subscription: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.cfg.SubscriptionTTL)
			return nil
		})
		if err != nil {
			return err
		}
		result = sub
		return nil
	}, key)
	if errors.Is(err, domain.ErrGameSubscriptionNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, wrapErr("update preferences", key, err)
	}
	return result, nil
}

// RemoveResult describes the effect of removing one game subscription
type RemoveResult struct {
	// Removed is true when the record entry or the fan-out membership existed
	Removed bool
	// Remaining is the number of game subscriptions left on the record
	Remaining int
	// SubscriptionDeleted is true when the record was deleted because it became empty
	SubscriptionDeleted bool
	// GameEmptied is true when the game lost its last subscriber and left the active set
	GameEmptied bool
}

// RemoveGameSubscription removes one game from a subscription, drops the
// subscriber from the game's fan-out set and, when that set becomes empty,
// removes the game from the active set and deletes its cached state
func (s *Store) RemoveGameSubscription(ctx context.Context, subscriptionID, gameID string) (RemoveResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := subscriptionKey(subscriptionID)
	subsKey := gameSubscribersKey(gameID)

	var result RemoveResult
	err := s.watch(ctx, func(tx *redis.Tx) error {
		result = RemoveResult{}

		sub, err := readSubscription(ctx, tx, key)
		switch {
		case errors.Is(err, domain.ErrSubscriptionNotFound):
			sub = nil
		case errors.Is(err, domain.ErrMalformedSubscription):
			s.logger.Warn("dropping malformed subscription record", "subscription_id", subscriptionID, "error", err)
			sub = nil
		case err != nil:
			return err
		}

		entryRemoved := sub != nil && sub.RemoveGame(gameID)

		isMember, err := tx.SIsMember(ctx, subsKey, subscriptionID).Result()
		if err != nil {
			return &domain.StoreError{Op: "sismember", Key: subsKey, Err: err}
		}
		card, err := tx.SCard(ctx, subsKey).Result()
		if err != nil {
			return &domain.StoreError{Op: "scard", Key: subsKey, Err: err}
		}

		var data []byte
		if sub != nil && len(sub.Games) > 0 {
			data, err = json.Marshal(sub)
			if err != nil {
				return fmt.Errorf("marshaling subscription: %w", err)
			}
		}

		emptied := card == 0 || (isMember && card == 1)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if data != nil {
				pipe.Set(ctx, key, data, s.cfg.SubscriptionTTL)
			} else {
				pipe.Del(ctx, key)
			}
			pipe.SRem(ctx, subsKey, subscriptionID)
			if emptied {
				pipe.SRem(ctx, activeGamesKey, gameID)
				pipe.Del(ctx, subsKey, gameStateKey(gameID), gameMetaKey(gameID))
			}
			return nil
		})
		if err != nil {
			return err
		}

		result.Removed = entryRemoved || isMember
		result.GameEmptied = emptied && result.Removed
		if sub != nil {
			result.Remaining = len(sub.Games)
			result.SubscriptionDeleted = len(sub.Games) == 0
		}
		return nil
	}, key, subsKey)
	if err != nil {
		return RemoveResult{}, wrapErr("remove game subscription", key, err)
	}
	return result, nil
}

// DeleteSubscription removes every game subscription of a record and the record itself
func (s *Store) DeleteSubscription(ctx context.Context, subscriptionID string) ([]string, error) {
	sub, err := s.GetSubscription(ctx, subscriptionID)
	if err != nil && !errors.Is(err, domain.ErrMalformedSubscription) {
		return nil, err
	}

	var gameIDs []string
	if sub != nil {
		for _, gs := range sub.Games {
			gameIDs = append(gameIDs, gs.GameID)
		}
	}

	for _, gameID := range gameIDs {
		if _, err := s.RemoveGameSubscription(ctx, subscriptionID, gameID); err != nil {
			return nil, fmt.Errorf("removing game %s: %w", gameID, err)
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	key := subscriptionKey(subscriptionID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return nil, &domain.StoreError{Op: "del", Key: key, Err: err}
	}
	return gameIDs, nil
}

// dropGameFromRecord removes a game entry from a record without touching
// the fan-out index; the record is deleted when it becomes empty
func (s *Store) dropGameFromRecord(ctx context.Context, subscriptionID, gameID string) (deleted bool, err error) {
	key := subscriptionKey(subscriptionID)
	err = s.watch(ctx, func(tx *redis.Tx) error {
		deleted = false
		sub, err := readSubscription(ctx, tx, key)
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil
		}
		if errors.Is(err, domain.ErrMalformedSubscription) {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			deleted = err == nil
			return err
		}
		if err != nil {
			return err
		}
		if !sub.RemoveGame(gameID) {
			return nil
		}

		if len(sub.Games) == 0 {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			deleted = err == nil
			return err
		}

		data, err := json.Marshal(sub)
		if err != nil {
			return fmt.Errorf("marshaling subscription: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.cfg.SubscriptionTTL)
			return nil
		})
		return err
	}, key)
	return deleted, err
}

// CleanupResult describes a game-completion cleanup
type CleanupResult struct {
	Subscribers          int
	SubscriptionsDeleted int
}

// CleanupGame force-removes a finished game from every subscriber, deletes
// its fan-out set, cached state and meta, and removes it from the active set
func (s *Store) CleanupGame(ctx context.Context, gameID string) (CleanupResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	subsKey := gameSubscribersKey(gameID)
	var result CleanupResult
	err := s.watch(ctx, func(tx *redis.Tx) error {
		result = CleanupResult{}
		members, err := tx.SMembers(ctx, subsKey).Result()
		if err != nil {
			return &domain.StoreError{Op: "smembers", Key: subsKey, Err: err}
		}
		for _, subscriptionID := range members {
			deleted, err := s.dropGameFromRecord(ctx, subscriptionID, gameID)
			if err != nil {
				return err
			}
			if deleted {
				result.SubscriptionsDeleted++
			}
		}
		result.Subscribers = len(members)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, activeGamesKey, gameID)
			pipe.Del(ctx, subsKey, gameStateKey(gameID), gameMetaKey(gameID))
			return nil
		})
		return err
	}, subsKey)
	if err != nil {
		return CleanupResult{}, wrapErr("cleanup game", subsKey, err)
	}
	return result, nil
}

// PruneResult describes the subscribers dropped from one game by PruneExpiredSubscribers
type PruneResult struct {
	Removed     []string
	GameEmptied bool
}

// PruneExpiredSubscribers drops subscription IDs whose record no longer
// exists from a game's fan-out set. When no subscribers remain the game leaves
// the active set and its state and meta are deleted
func (s *Store) PruneExpiredSubscribers(ctx context.Context, gameID string) (PruneResult, error) {
	members, err := s.GameSubscribers(ctx, gameID)
	if err != nil {
		return PruneResult{}, err
	}

	var result PruneResult
	if len(members) == 0 {
		emptied, err := s.dropExpiredSubscriber(ctx, "", gameID)
		if err != nil {
			return PruneResult{}, err
		}
		result.GameEmptied = emptied
		return result, nil
	}

	existsCtx, cancel := s.withTimeout(ctx)
	cmds := make([]*redis.IntCmd, len(members))
	_, err = s.client.Pipelined(existsCtx, func(pipe redis.Pipeliner) error {
		for i, id := range members {
			cmds[i] = pipe.Exists(existsCtx, subscriptionKey(id))
		}
		return nil
	})
	cancel()
	if err != nil {
		return PruneResult{}, wrapErr("prune subscribers", gameSubscribersKey(gameID), err)
	}

	for i, id := range members {
		if cmds[i].Val() > 0 {
			continue
		}
		emptied, err := s.dropExpiredSubscriber(ctx, id, gameID)
		if err != nil {
			return result, err
		}
		result.Removed = append(result.Removed, id)
		if emptied {
			result.GameEmptied = true
		}
	}
	return result, nil
}

// dropExpiredSubscriber removes subscriptionID from the game's fan-out set
// unless its record has reappeared, retiring the game once the set is empty;
// an empty subscriptionID only retires a game whose set is already empty
func (s *Store) dropExpiredSubscriber(ctx context.Context, subscriptionID, gameID string) (emptied bool, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	subsKey := gameSubscribersKey(gameID)
	keys := []string{subsKey}
	if subscriptionID != "" {
		keys = append(keys, subscriptionKey(subscriptionID))
	}

	err = s.watch(ctx, func(tx *redis.Tx) error {
		emptied = false
		if subscriptionID != "" {
			n, err := tx.Exists(ctx, subscriptionKey(subscriptionID)).Result()
			if err != nil {
				return &domain.StoreError{Op: "exists", Key: subscriptionKey(subscriptionID), Err: err}
			}
			if n > 0 {
				return nil
			}
		}
		card, err := tx.SCard(ctx, subsKey).Result()
		if err != nil {
			return &domain.StoreError{Op: "scard", Key: subsKey, Err: err}
		}
		isMember := false
		if subscriptionID != "" {
			isMember, err = tx.SIsMember(ctx, subsKey, subscriptionID).Result()
			if err != nil {
				return &domain.StoreError{Op: "sismember", Key: subsKey, Err: err}
			}
		}
		last := card == 0 || (isMember && card == 1)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if subscriptionID != "" {
				pipe.SRem(ctx, subsKey, subscriptionID)
			}
			if last {
				pipe.SRem(ctx, activeGamesKey, gameID)
				pipe.Del(ctx, subsKey, gameStateKey(gameID), gameMetaKey(gameID))
			}
			return nil
		})
		if err != nil {
			return err
		}
		emptied = last
		return nil
	}, keys...)
	if err != nil {
		return false, wrapErr("drop expired subscriber", subsKey, err)
	}
	return emptied, nil
}

// ActiveGames returns the IDs of games with at least one subscriber
func (s *Store) ActiveGames(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ids, err := s.client.SMembers(ctx, activeGamesKey).Result()
	if err != nil {
		return nil, &domain.StoreError{Op: "smembers", Key: activeGamesKey, Err: err}
	}
	slices.Sort(ids)
	return ids, nil
}

// IsActive reports whether a game is in the active set
func (s *Store) IsActive(ctx context.Context, gameID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ok, err := s.client.SIsMember(ctx, activeGamesKey, gameID).Result()
	if err != nil {
		return false, &domain.StoreError{Op: "sismember", Key: activeGamesKey, Err: err}
	}
	return ok, nil
}

// GameSubscribers returns the subscription IDs following a game
func (s *Store) GameSubscribers(ctx context.Context, gameID string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	key := gameSubscribersKey(gameID)
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, &domain.StoreError{Op: "smembers", Key: key, Err: err}
	}
	slices.Sort(ids)
	return ids, nil
}

// CountGameSubscribers returns the cardinality of a game's fan-out set
func (s *Store) CountGameSubscribers(ctx context.Context, gameID string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	key := gameSubscribersKey(gameID)
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, &domain.StoreError{Op: "scard", Key: key, Err: err}
	}
	return n, nil
}

// readGameMeta returns nil for a missing or malformed meta record
func readGameMeta(ctx context.Context, cmd redis.Cmdable, key string) (*domain.GameMeta, error) {
	data, err := cmd.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, &domain.StoreError{Op: "get", Key: key, Err: err}
	}
	var meta domain.GameMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, nil
	}
	return &meta, nil
}

// GetGameMeta returns the scheduling data stored at subscribe time, or nil
func (s *Store) GetGameMeta(ctx context.Context, gameID string) (*domain.GameMeta, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return readGameMeta(ctx, s.client, gameMetaKey(gameID))
}

func readGameState(ctx context.Context, cmd redis.Cmdable, key string) (*domain.CachedGameState, error) {
	data, err := cmd.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, &domain.StoreError{Op: "get", Key: key, Err: err}
	}
	var state domain.CachedGameState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &domain.StoreError{Op: "decode", Key: key, Err: err}
	}
	return &state, nil
}

// GetGameState returns the cached state of a game, or nil when none exists
func (s *Store) GetGameState(ctx context.Context, gameID string) (*domain.CachedGameState, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return readGameState(ctx, s.client, gameStateKey(gameID))
}

// SaveGameState writes next only if the stored state still matches prev
// (compare-and-set on LastUpdated). A nil prev requires that no state exists
func (s *Store) SaveGameState(ctx context.Context, prev *domain.CachedGameState, next domain.CachedGameState) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := gameStateKey(next.GameID)
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshaling game state: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGameState(ctx, tx, key)
		if err != nil && !isDecodeErr(err) {
			return err
		}
		if !sameVersion(prev, current) {
			return domain.ErrStateConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.cfg.GameStateTTL)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrStateConflict
	}
	return wrapErr("save game state", key, err)
}

func isDecodeErr(err error) bool {
	var storeErr *domain.StoreError
	return errors.As(err, &storeErr) && storeErr.Op == "decode"
}

func sameVersion(prev, current *domain.CachedGameState) bool {
	if prev == nil || current == nil {
		return prev == nil && current == nil
	}
	return prev.LastUpdated.Equal(current.LastUpdated)
}

// DeleteGameState removes the cached state of a game
func (s *Store) DeleteGameState(ctx context.Context, gameID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	key := gameStateKey(gameID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return &domain.StoreError{Op: "del", Key: key, Err: err}
	}
	return nil
}

// ClaimEvent records an idempotency key and reports whether this call was first
func (s *Store) ClaimEvent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ok, err := s.client.SetNX(ctx, dedupKey(key), 1, ttl).Result()
	if err != nil {
		return false, &domain.StoreError{Op: "setnx", Key: dedupKey(key), Err: err}
	}
	return ok, nil
}

// AcquireCycleLock takes the notification cycle lock. The returned token
// must be passed to ReleaseCycleLock
func (s *Store) AcquireCycleLock(ctx context.Context, ttl time.Duration) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, cycleLockKey, token, ttl).Result()
	if err != nil {
		return "", false, &domain.StoreError{Op: "setnx", Key: cycleLockKey, Err: err}
	}
	return token, ok, nil
}

// ReleaseCycleLock releases the lock if it is still held by token
func (s *Store) ReleaseCycleLock(ctx context.Context, token string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, cycleLockKey).Result()
		if err == redis.Nil || current != token {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, cycleLockKey)
			return nil
		})
		return err
	}, cycleLockKey)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return &domain.StoreError{Op: "release lock", Key: cycleLockKey, Err: err}
	}
	return nil
}
