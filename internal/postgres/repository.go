package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/game-alerts/internal/config"
	"github.com/game-alerts/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the PostgreSQL audit log of detected events and delivery attempts
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	return connect(ctx, cfg.ConnectionString(), cfg, logger)
}

func connect(ctx context.Context, dsn string, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS notification_events (
			id BIGSERIAL PRIMARY KEY,
			game_id VARCHAR(64) NOT NULL,
			league VARCHAR(16) NOT NULL,
			event_type VARCHAR(16) NOT NULL,
			period INT NOT NULL DEFAULT 0,
			home_score INT NOT NULL,
			away_score INT NOT NULL,
			play_index INT NOT NULL DEFAULT -1,
			detail JSONB NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(game_id, event_type, period, home_score, away_score, play_index)
		)`,
		`CREATE TABLE IF NOT EXISTS notification_deliveries (
			id BIGSERIAL PRIMARY KEY,
			subscription_id VARCHAR(64) NOT NULL,
			game_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(16) NOT NULL,
			outcome VARCHAR(16) NOT NULL,
			error TEXT,
			attempted_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_events_game ON notification_events(game_id, detected_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_deliveries_game ON notification_deliveries(game_id, attempted_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_deliveries_subscription ON notification_deliveries(subscription_id, attempted_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// RecordEvent stores a detected event. Re-recording the same occurrence is a no-op
func (r *Repository) RecordEvent(ctx context.Context, ev domain.NotificationEvent) error {
	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	query := `
		INSERT INTO notification_events (game_id, league, event_type, period, home_score, away_score, play_index, detail, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (game_id, event_type, period, home_score, away_score, play_index) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query,
		ev.GameID,
		string(ev.League),
		string(ev.Type),
		ev.Period,
		ev.HomeScore,
		ev.AwayScore,
		ev.PlayIndex,
		detail,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// RecordDeliveries stores delivery attempts in one batch
func (r *Repository) RecordDeliveries(ctx context.Context, records []domain.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO notification_deliveries (subscription_id, game_id, event_type, outcome, error, attempted_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`
	for _, rec := range records {
		batch.Queue(query,
			rec.SubscriptionID,
			rec.GameID,
			string(rec.EventType),
			string(rec.Outcome),
			rec.Error,
			rec.Timestamp,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("recording deliveries: %w", err)
		}
	}
	return nil
}

// GameEvents returns the most recent events recorded for a game, newest first
func (r *Repository) GameEvents(ctx context.Context, gameID string, limit int) ([]domain.NotificationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT detail
		FROM notification_events
		WHERE game_id = $1
		ORDER BY detected_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing game events: %w", err)
	}
	defer rows.Close()

	events := []domain.NotificationEvent{}
	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		var ev domain.NotificationEvent
		if err := json.Unmarshal(detail, &ev); err != nil {
			r.logger.Warn("skipping unreadable audit event", "game_id", gameID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing game events: %w", err)
	}
	return events, nil
}

// DeliveryStats counts delivery outcomes for a game
func (r *Repository) DeliveryStats(ctx context.Context, gameID string) (map[domain.DeliveryOutcome]int64, error) {
	query := `
		SELECT outcome, COUNT(*)
		FROM notification_deliveries
		WHERE game_id = $1
		GROUP BY outcome
	`
	rows, err := r.pool.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("getting delivery stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[domain.DeliveryOutcome]int64)
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scanning delivery stats: %w", err)
		}
		stats[domain.DeliveryOutcome(outcome)] = count
	}
	return stats, rows.Err()
}

// PruneBefore deletes audit rows older than cutoff and returns how many were removed
func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	events, err := r.pool.Exec(ctx, `DELETE FROM notification_events WHERE detected_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	deliveries, err := r.pool.Exec(ctx, `DELETE FROM notification_deliveries WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning deliveries: %w", err)
	}
	return events.RowsAffected() + deliveries.RowsAffected(), nil
}
