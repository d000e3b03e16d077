package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"discord-router/internal/config"
	"discord-router/internal/registry"
)

// Store persists dynamic campaign registrations so they survive restarts and
// can be shared between router replicas.
type Store struct {
	pool    *pgxpool.Pool
	channel string
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool, channel: cfg.Listener.Channel}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS campaign_registrations (
	app_id         TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	endpoint       TEXT NOT NULL,
	channels       JSONB NOT NULL,
	registered_at  TIMESTAMPTZ NOT NULL,
	last_heartbeat TIMESTAMPTZ NOT NULL
)`

// EnsureSchema creates the registrations table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// LoadApps loads every stored registration.
func (s *Store) LoadApps(ctx context.Context) ([]registry.RegisteredApp, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT app_id, name, description, endpoint, channels, registered_at, last_heartbeat
		FROM campaign_registrations
		ORDER BY registered_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()

	var out []registry.RegisteredApp
	for rows.Next() {
		var (
			app      registry.RegisteredApp
			channels []byte
		)
		if err := rows.Scan(&app.AppID, &app.Name, &app.Description, &app.Endpoint, &channels, &app.RegisteredAt, &app.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if app.Channels, err = decodeChannels(channels); err != nil {
			return nil, fmt.Errorf("registration %s: %w", app.AppID, err)
		}
		app.RegisteredAt = app.RegisteredAt.UTC()
		app.LastHeartbeat = app.LastHeartbeat.UTC()
		out = append(out, app)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// SaveApp upserts app and notifies listeners in the same transaction.
func (s *Store) SaveApp(ctx context.Context, app registry.RegisteredApp) error {
	channels, err := encodeChannels(app.Channels)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO campaign_registrations
				(app_id, name, description, endpoint, channels, registered_at, last_heartbeat)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
			ON CONFLICT (app_id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				endpoint = EXCLUDED.endpoint,
				channels = EXCLUDED.channels,
				registered_at = EXCLUDED.registered_at,
				last_heartbeat = EXCLUDED.last_heartbeat
		`, app.AppID, app.Name, app.Description, app.Endpoint, channels, app.RegisteredAt, app.LastHeartbeat); err != nil {
			return fmt.Errorf("upsert registration: %w", err)
		}
		return s.notify(ctx, tx, app.AppID)
	})
}

// DeleteApp removes appID and notifies listeners.
func (s *Store) DeleteApp(ctx context.Context, appID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM campaign_registrations WHERE app_id = $1`, appID); err != nil {
			return fmt.Errorf("delete registration: %w", err)
		}
		return s.notify(ctx, tx, appID)
	})
}

// TouchHeartbeat records a heartbeat. It does not notify: heartbeats don't change routing.
func (s *Store) TouchHeartbeat(ctx context.Context, appID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `UPDATE campaign_registrations SET last_heartbeat = $2 WHERE app_id = $1`, appID, at)
	if err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("touch heartbeat %s: %w", appID, registry.ErrNotFound)
	}
	return nil
}

// DeleteIfStale deletes appID when its stored heartbeat is before cutoff and
// notifies listeners. Otherwise it returns the stored heartbeat, or zero when
// no row exists.
func (s *Store) DeleteIfStale(ctx context.Context, appID string, cutoff time.Time) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var fresh time.Time
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM campaign_registrations
			WHERE app_id = $1 AND last_heartbeat < $2
		`, appID, cutoff)
		if err != nil {
			return fmt.Errorf("delete stale registration: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return s.notify(ctx, tx, appID)
		}

		err = tx.QueryRow(ctx, `SELECT last_heartbeat FROM campaign_registrations WHERE app_id = $1`, appID).Scan(&fresh)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read heartbeat %s: %w", appID, err)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return fresh.UTC(), nil
}

func (s *Store) notify(ctx context.Context, tx pgx.Tx, appID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.ListenChannel(), appID); err != nil {
		return fmt.Errorf("notify %s: %w", s.ListenChannel(), err)
	}
	return nil
}

func (s *Store) ListenChannel() string {
	if s.channel == "" {
		return "campaign_registrations_changed"
	}
	return s.channel
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}

func encodeChannels(ch map[string]registry.ChannelInfo) (string, error) {
	if ch == nil {
		ch = map[string]registry.ChannelInfo{}
	}
	b, err := json.Marshal(ch)
	if err != nil {
		return "", fmt.Errorf("encode channels: %w", err)
	}
	return string(b), nil
}

func decodeChannels(b []byte) (map[string]registry.ChannelInfo, error) {
	ch := map[string]registry.ChannelInfo{}
	if len(b) == 0 {
		return ch, nil
	}
	if err := json.Unmarshal(b, &ch); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	return ch, nil
}
