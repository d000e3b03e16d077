package listener

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"discord-router/internal/registry"
	"discord-router/internal/storage"
)

const debounceWindow = 200 * time.Millisecond

type waitFunc func(ctx context.Context) (*pgconn.Notification, error)

// AppLoader reads the full set of stored registrations.
type AppLoader interface {
	LoadApps(ctx context.Context) ([]registry.RegisteredApp, error)
}

// Reloader accepts a replacement set of registrations.
type Reloader interface {
	Reload(apps []registry.RegisteredApp)
}

// Conn is a dedicated connection that can LISTEN.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

// Source hands out listening connections and reads registrations.
type Source interface {
	AppLoader
	Acquire(ctx context.Context) (Conn, error)
	ListenChannel() string
}

type storeSource struct{ *storage.Store }

// FromStore adapts a storage.Store to Source.
func FromStore(st *storage.Store) Source { return storeSource{st} }

func (s storeSource) Acquire(ctx context.Context) (Conn, error) {
	c, err := s.PgxPool().Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return poolConn{c}, nil
}

type poolConn struct{ c *pgxpool.Conn }

func (p poolConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.c.Exec(ctx, sql, args...)
}

func (p poolConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return p.c.Conn().WaitForNotification(ctx)
}

func (p poolConn) Release() { p.c.Release() }

// ListenAndReload keeps reg in sync with registrations written by other
// replicas. Connection failures are retried with jittered backoff until ctx ends.
func ListenAndReload(ctx context.Context, src Source, reg Reloader, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = src.ListenChannel()
	}
	for {
		err := listen(ctx, src, reg, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Msg("registration listener error")
		select {
		case <-ctx.Done():
			log.Info().Msg("listener stopped")
			return
		case <-time.After(backoff):
		}
	}
}

func listen(ctx context.Context, src Source, reg Reloader, channel string) error {
	conn, err := src.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for registration changes")

	// catch up on anything written while we were not listening
	if err := Reload(ctx, src, reg); err != nil {
		log.Error().Err(err).Msg("reload registrations")
	}

	for {
		ntf, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		n, err := drain(ctx, conn.WaitForNotification, debounceWindow)
		if err != nil {
			return err
		}
		log.Debug().Str("channel", ntf.Channel).Str("app_id", ntf.Payload).Int("coalesced", n).Msg("registration change; reloading")
		if err := Reload(ctx, src, reg); err != nil {
			log.Error().Err(err).Msg("reload registrations")
		}
	}
}

// drain swallows notifications that arrive within window of each other so a
// burst of writes causes one reload. It returns how many it swallowed.
func drain(ctx context.Context, wait waitFunc, window time.Duration) (int, error) {
	for n := 0; ; n++ {
		wctx, cancel := context.WithTimeout(ctx, window)
		_, err := wait(wctx)
		cancel()
		switch {
		case err == nil:
			continue
		case ctx.Err() != nil:
			return n, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err):
			return n, nil
		default:
			return n, err
		}
	}
}

// Reload replaces reg's dynamic set with what the loader returns.
func Reload(ctx context.Context, loader AppLoader, reg Reloader) error {
	apps, err := loader.LoadApps(ctx)
	if err != nil {
		return err
	}
	reg.Reload(apps)
	return nil
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
