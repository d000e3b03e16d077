package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-router/internal/api"
	"discord-router/internal/interaction"
	"discord-router/internal/registry"
	"discord-router/internal/verify"
)

func newRouter(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	v, _ := verify.NewVerifier("")
	h := api.Router(
		api.NewInteractionHandler(v, interaction.NewRouter(reg, interaction.NewHTTPForwarder(nil, time.Second))),
		api.NewAdminHandler(reg, api.ServiceInfo{}),
	)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, reg
}

func alpha() registry.Registration {
	return registry.Registration{
		Name:        "Pathfinder Loot Tracker",
		Description: "Session attendance tracking and loot management",
		Endpoint:    "http://10.0.0.5:5000/api",
		Channels:    map[string]registry.ChannelInfo{"111": {Type: "session-attendance"}},
	}
}

func TestDefaultAppID_Stable(t *testing.T) {
	a := DefaultAppID("http://10.0.0.5:5000/api")
	assert.Equal(t, a, DefaultAppID("http://10.0.0.5:5000/api"))
	assert.NotEqual(t, a, DefaultAppID("http://10.0.0.6:5000/api"))

	c := New("http://router", alpha())
	assert.Equal(t, a, c.AppID())

	app := alpha()
	app.AppID = "pathfinder-loot-tracker"
	assert.Equal(t, "pathfinder-loot-tracker", New("http://router", app).AppID())
}

func TestClient_RegisterHeartbeatUnregister(t *testing.T) {
	ts, reg := newRouter(t)
	c := New(ts.URL+"/", alpha())
	ctx := context.Background()

	require.NoError(t, c.Register(ctx))
	got, ok := reg.Resolve("111")
	require.True(t, ok)
	assert.Equal(t, "Pathfinder Loot Tracker", got.Name)

	require.NoError(t, c.Heartbeat(ctx))
	require.NoError(t, c.Unregister(ctx))
	assert.Equal(t, 0, reg.Count())

	err := c.Heartbeat(ctx)
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.StatusCode)
	assert.Equal(t, "HTTP 404: App not registered", re.Error())
}

func TestClient_RegisterValidationError(t *testing.T) {
	ts, _ := newRouter(t)
	app := alpha()
	app.Channels = nil

	err := New(ts.URL, app).Register(context.Background())
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
	assert.Contains(t, re.Message, "channels")
}

func TestClient_NoResponse(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	err := New(url, alpha()).Register(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no response from router")
}

func TestClient_UnsuccessfulEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "nope"})
	}))
	defer ts.Close()

	err := New(ts.URL, alpha()).Register(context.Background())
	require.Error(t, err)
	assert.Equal(t, "register failed: nope", err.Error())
}

func TestRun_RetriesThenGivesUp(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := New(ts.URL, alpha(), WithRetry(3, time.Millisecond))
	err := c.Run(context.Background())

	assert.ErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRun_RetrySucceeds(t *testing.T) {
	router, reg := newRouter(t)
	var calls atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/register" && calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		router.Config.Handler.ServeHTTP(w, r)
	}))
	defer flaky.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := New(flaky.URL, alpha(), WithRetry(5, time.Millisecond), WithHeartbeatInterval(time.Hour))
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return reg.Count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, reg.Count())
}

func TestRun_HeartbeatsAndReregisters(t *testing.T) {
	ts, reg := newRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(ts.URL, alpha(), WithHeartbeatInterval(20*time.Millisecond), WithRetry(5, time.Millisecond))
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return reg.Count() == 1 }, time.Second, 5*time.Millisecond)
	first, _ := reg.Lookup(c.AppID())

	require.Eventually(t, func() bool {
		app, ok := reg.Lookup(c.AppID())
		return ok && app.LastHeartbeat.After(first.LastHeartbeat)
	}, time.Second, 5*time.Millisecond)

	// simulate the router losing its state; the next heartbeat 404s and re-registers
	_, err := reg.Unregister(context.Background(), c.AppID())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return reg.Count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, reg.Count())
}

func TestRequestError_DefaultMessage(t *testing.T) {
	assert.Equal(t, "HTTP 500: Unknown error", (&RequestError{StatusCode: 500}).Error())
}
