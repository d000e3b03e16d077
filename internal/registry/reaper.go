package registry

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
)

// EvictStale unregisters every app whose last heartbeat is older than maxAge
// and returns the evicted IDs. A non-positive maxAge disables eviction.
//
// With a persister the store decides: heartbeats may have reached another
// replica, so an app is only evicted when its stored heartbeat is stale too.
func (r *Registry) EvictStale(ctx context.Context, maxAge time.Duration) []string {
	if maxAge <= 0 {
		return nil
	}
	cutoff := r.now().UTC().Add(-maxAge)

	var evicted []string
	for _, id := range r.staleIDs(cutoff) {
		if r.persist != nil {
			fresh, err := r.persist.DeleteIfStale(ctx, id, cutoff)
			if err != nil {
				log.Warn().Err(err).Str("app_id", id).Msg("check stale registration")
				continue
			}
			if !fresh.IsZero() {
				r.refreshHeartbeat(id, fresh)
				log.Debug().Str("app_id", id).Time("last_heartbeat", fresh).Msg("registration alive elsewhere")
				continue
			}
		}
		if r.evictIfStale(id, cutoff) {
			log.Warn().Str("app_id", id).Dur("max_age", maxAge).Msg("evicted stale registration")
			evicted = append(evicted, id)
		}
	}
	slices.Sort(evicted)
	return evicted
}

func (r *Registry) staleIDs(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, e := range r.apps {
		if e.app.LastHeartbeat.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) evictIfStale(id string, cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.apps[id]
	if !ok || !e.app.LastHeartbeat.Before(cutoff) {
		return false
	}
	delete(r.apps, id)
	delete(r.pending, id)
	return true
}

func (r *Registry) refreshHeartbeat(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.apps[id]; ok && at.After(e.app.LastHeartbeat) {
		e.app.LastHeartbeat = at
		r.apps[id] = e
	}
}

// StartReaper runs EvictStale every interval until ctx is done.
func (r *Registry) StartReaper(ctx context.Context, interval, maxAge time.Duration) {
	if maxAge <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.EvictStale(ctx, maxAge)
			}
		}
	}()
}
