package registry

import (
	"cmp"
	"context"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"discord-router/internal/cache"
)

// Persister mirrors registry mutations into durable storage.
type Persister interface {
	SaveApp(ctx context.Context, app RegisteredApp) error
	DeleteApp(ctx context.Context, appID string) error
	TouchHeartbeat(ctx context.Context, appID string, at time.Time) error
	// DeleteIfStale removes appID only when its stored heartbeat is before
	// cutoff. When the row is kept it returns the stored heartbeat; a zero time
	// means the row was deleted or never existed.
	DeleteIfStale(ctx context.Context, appID string, cutoff time.Time) (time.Time, error)
}

type staticSet struct {
	all       []CampaignConfig
	byChannel map[string]CampaignConfig
}

type entry struct {
	app RegisteredApp
	seq uint64 // later registrations win channel collisions
}

// Registry maps channel IDs to campaign backends. Static entries are fixed at
// construction; dynamic ones come and go through Register and Unregister.
type Registry struct {
	static cache.Snapshot[staticSet]

	mu      sync.RWMutex
	apps    map[string]entry
	seq     uint64
	pending map[string]pendingOp // writes the persister has not accepted yet

	persist Persister
	now     func() time.Time
}

type Option func(*Registry)

// WithPersister mirrors every mutation into p. Persistence is best effort:
// a rejected write is logged and kept pending for SyncPending, and never fails
// the in-memory operation.
func WithPersister(p Persister) Option { return func(r *Registry) { r.persist = p } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func New(static []CampaignConfig, opts ...Option) *Registry {
	r := &Registry{apps: map[string]entry{}, pending: map[string]pendingOp{}, now: time.Now}
	for _, o := range opts {
		o(r)
	}

	st := staticSet{
		all:       make([]CampaignConfig, 0, len(static)),
		byChannel: make(map[string]CampaignConfig, len(static)),
	}
	for _, c := range static {
		c.ChannelID = strings.TrimSpace(c.ChannelID)
		c.AppID = ""
		st.all = append(st.all, c)
		if Configured(c.ChannelID) {
			st.byChannel[c.ChannelID] = c
		}
	}
	r.static.Store(st)
	return r
}

// Configured reports whether a channel ID is usable for routing.
func Configured(channelID string) bool {
	channelID = strings.TrimSpace(channelID)
	return channelID != "" && channelID != "undefined"
}

// Register creates or wholesale replaces the registration for reg.AppID.
func (r *Registry) Register(ctx context.Context, reg Registration) (RegisteredApp, error) {
	app, err := validate(reg)
	if err != nil {
		return RegisteredApp{}, err
	}
	now := r.now().UTC()
	app.RegisteredAt = now
	app.LastHeartbeat = now

	r.mu.Lock()
	r.seq++
	r.apps[app.AppID] = entry{app: app, seq: r.seq}
	r.mu.Unlock()

	log.Info().Str("app_id", app.AppID).Str("name", app.Name).Str("endpoint", app.Endpoint).
		Strs("channels", sortedChannels(app)).Msg("campaign registered")

	r.persistSave(ctx, app.clone())
	return app.clone(), nil
}

// Unregister removes appID. It returns ErrNotFound when nothing was registered.
func (r *Registry) Unregister(ctx context.Context, appID string) (bool, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return false, missing("appId")
	}

	r.mu.Lock()
	_, ok := r.apps[appID]
	delete(r.apps, appID)
	r.mu.Unlock()

	if !ok {
		return false, ErrNotFound
	}
	log.Info().Str("app_id", appID).Msg("campaign unregistered")

	r.persistDelete(ctx, appID)
	return true, nil
}

// Heartbeat refreshes the liveness timestamp of appID.
func (r *Registry) Heartbeat(ctx context.Context, appID string) (time.Time, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return time.Time{}, missing("appId")
	}

	now := r.now().UTC()
	r.mu.Lock()
	e, ok := r.apps[appID]
	if ok {
		e.app.LastHeartbeat = now
		r.apps[appID] = e
	}
	r.mu.Unlock()

	if !ok {
		return time.Time{}, ErrNotFound
	}
	log.Debug().Str("app_id", appID).Msg("heartbeat")

	r.persistHeartbeat(ctx, appID, now)
	return now, nil
}

// Resolve returns the campaign bound to channelID. Dynamic registrations take
// precedence over static config, and among registrations the latest wins.
func (r *Registry) Resolve(channelID string) (CampaignConfig, bool) {
	channelID = strings.TrimSpace(channelID)
	if !Configured(channelID) {
		return CampaignConfig{}, false
	}

	r.mu.RLock()
	var (
		best  entry
		found bool
	)
	for _, e := range r.apps {
		if _, ok := e.app.Channels[channelID]; ok && (!found || e.seq > best.seq) {
			best, found = e, true
		}
	}
	r.mu.RUnlock()

	if found {
		return dynamicConfig(best.app, channelID), true
	}
	st, _ := r.static.Load()
	c, ok := st.byChannel[channelID]
	return c, ok
}

// View builds the merged channel -> campaign mapping.
func (r *Registry) View() map[string]CampaignConfig {
	st, _ := r.static.Load()
	out := make(map[string]CampaignConfig, len(st.byChannel))
	for id, c := range st.byChannel {
		out[id] = c
	}

	r.mu.RLock()
	entries := make([]entry, 0, len(r.apps))
	for _, e := range r.apps {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.seq, b.seq) })
	for _, e := range entries {
		for id := range e.app.Channels {
			if Configured(id) {
				out[id] = dynamicConfig(e.app, id)
			}
		}
	}
	return out
}

// ListActive returns the merged view ordered by channel ID.
func (r *Registry) ListActive() []CampaignConfig {
	view := r.View()
	out := make([]CampaignConfig, 0, len(view))
	for _, c := range view {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b CampaignConfig) int { return strings.Compare(a.ChannelID, b.ChannelID) })
	return out
}

// Static returns every statically configured campaign, including ones without a channel.
func (r *Registry) Static() []CampaignConfig {
	st, _ := r.static.Load()
	return slices.Clone(st.all)
}

// Apps returns copies of the registered apps ordered by app ID.
func (r *Registry) Apps() []RegisteredApp {
	r.mu.RLock()
	out := make([]RegisteredApp, 0, len(r.apps))
	for _, e := range r.apps {
		out = append(out, e.app.clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b RegisteredApp) int { return strings.Compare(a.AppID, b.AppID) })
	return out
}

// Lookup returns a copy of one registration.
func (r *Registry) Lookup(appID string) (RegisteredApp, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.apps[appID]
	if !ok {
		return RegisteredApp{}, false
	}
	return e.app.clone(), true
}

// Count returns the number of registered apps.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.apps)
}

// Reload replaces the dynamic set with apps, typically read back from storage.
// Local writes the persister has not accepted yet win over what apps says.
// Apps registered earlier lose channel collisions to later ones.
func (r *Registry) Reload(apps []RegisteredApp) {
	r.mu.Lock()
	merged := make([]RegisteredApp, 0, len(apps)+len(r.pending))
	seen := make(map[string]bool, len(apps))
	for _, a := range apps {
		seen[a.AppID] = true
		switch r.pending[a.AppID] {
		case opDelete:
			continue
		case opSave:
			if local, ok := r.apps[a.AppID]; ok {
				a = local.app
			}
		}
		merged = append(merged, a)
	}
	for id, op := range r.pending {
		if local, ok := r.apps[id]; ok && op == opSave && !seen[id] {
			merged = append(merged, local.app)
		}
	}
	slices.SortStableFunc(merged, func(a, b RegisteredApp) int { return a.RegisteredAt.Compare(b.RegisteredAt) })

	next := make(map[string]entry, len(merged))
	for _, a := range merged {
		r.seq++
		next[a.AppID] = entry{app: a.clone(), seq: r.seq}
	}
	r.apps = next
	r.mu.Unlock()

	log.Info().Int("apps", len(next)).Msg("registry reloaded")
}

func dynamicConfig(app RegisteredApp, channelID string) CampaignConfig {
	return CampaignConfig{Name: app.Name, Endpoint: app.Endpoint, ChannelID: channelID, AppID: app.AppID}
}

func sortedChannels(app RegisteredApp) []string {
	ids := app.ChannelIDs()
	slices.Sort(ids)
	return ids
}

func validate(reg Registration) (RegisteredApp, error) {
	app := RegisteredApp{
		AppID:       strings.TrimSpace(reg.AppID),
		Name:        strings.TrimSpace(reg.Name),
		Description: strings.TrimSpace(reg.Description),
		Endpoint:    strings.TrimSpace(reg.Endpoint),
		Channels:    make(map[string]ChannelInfo, len(reg.Channels)),
	}

	ve := &ValidationError{}
	if app.AppID == "" {
		ve.Missing = append(ve.Missing, "appId")
	}
	if app.Name == "" {
		ve.Missing = append(ve.Missing, "name")
	}
	if app.Endpoint == "" {
		ve.Missing = append(ve.Missing, "endpoint")
	} else if !validEndpoint(app.Endpoint) {
		ve.Invalid = append(ve.Invalid, "endpoint")
	}
	if len(reg.Channels) == 0 {
		ve.Missing = append(ve.Missing, "channels")
	} else {
		for id, info := range reg.Channels {
			id = strings.TrimSpace(id)
			if !Configured(id) {
				ve.Invalid = append(ve.Invalid, "channels")
				break
			}
			app.Channels[id] = info
		}
	}
	if !ve.empty() {
		return RegisteredApp{}, ve
	}
	return app, nil
}

func validEndpoint(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
