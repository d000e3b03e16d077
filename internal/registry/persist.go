package registry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

type pendingOp int

const (
	opSave pendingOp = iota + 1
	opDelete
)

func (r *Registry) persistSave(ctx context.Context, app RegisteredApp) {
	if r.persist == nil {
		return
	}
	err := r.persist.SaveApp(ctx, app)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("app_id", app.AppID).Msg("persist registration")
		if _, ok := r.apps[app.AppID]; ok {
			r.pending[app.AppID] = opSave
		}
		return
	}
	if r.pending[app.AppID] == opSave {
		delete(r.pending, app.AppID)
	}
}

func (r *Registry) persistDelete(ctx context.Context, appID string) {
	if r.persist == nil {
		return
	}
	err := r.persist.DeleteApp(ctx, appID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("app_id", appID).Msg("persist unregistration")
		if _, ok := r.apps[appID]; !ok {
			r.pending[appID] = opDelete
		}
		return
	}
	if r.pending[appID] == opDelete {
		delete(r.pending, appID)
	}
}

// persistHeartbeat records a heartbeat, or the whole registration when the
// store does not hold it.
func (r *Registry) persistHeartbeat(ctx context.Context, appID string, at time.Time) {
	if r.persist == nil {
		return
	}
	r.mu.RLock()
	e, ok := r.apps[appID]
	op := r.pending[appID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if op == opSave {
		r.persistSave(ctx, e.app.clone())
		return
	}

	err := r.persist.TouchHeartbeat(ctx, appID, at)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		log.Warn().Str("app_id", appID).Msg("registration missing from store; saving again")
		r.persistSave(ctx, e.app.clone())
	default:
		log.Warn().Err(err).Str("app_id", appID).Msg("persist heartbeat")
	}
}

// SyncPending retries the writes the persister rejected earlier and returns
// how many are still outstanding.
func (r *Registry) SyncPending(ctx context.Context) int {
	if r.persist == nil {
		return 0
	}
	r.mu.Lock()
	saves := make([]RegisteredApp, 0, len(r.pending))
	var deletes []string
	for id, op := range r.pending {
		switch e, ok := r.apps[id]; {
		case op == opSave && ok:
			saves = append(saves, e.app.clone())
		case op == opDelete && !ok:
			deletes = append(deletes, id)
		default:
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, app := range saves {
		r.persistSave(ctx, app)
	}
	for _, id := range deletes {
		r.persistDelete(ctx, id)
	}
	return r.Pending()
}

// Pending returns the number of writes not yet accepted by the persister.
func (r *Registry) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// StartSync runs SyncPending every interval until ctx is done.
func (r *Registry) StartSync(ctx context.Context, interval time.Duration) {
	if r.persist == nil || interval <= 0 {
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
				if n := r.SyncPending(ctx); n > 0 {
					log.Warn().Int("pending", n).Msg("registrations not yet persisted")
				}
			}
		}
	}()
}
