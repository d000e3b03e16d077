package server

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-router/internal/config"
	"discord-router/internal/registry"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNew_InMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Campaigns.ROTR.ChannelID = "111"

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	c, ok := s.Registry().Resolve("111")
	require.True(t, ok)
	assert.Equal(t, "ROTR", c.Name)
	assert.Equal(t, "http://localhost:5000/api", c.Endpoint)
	assert.Len(t, s.Registry().Static(), 3)
}

func TestServer_HealthAndStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Campaigns.SNS.ChannelID = "222"

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		ConfiguredCampaigns int `json:"configuredCampaigns"`
		RegisteredApps      int `json:"registeredApps"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, 1, health.ConfiguredCampaigns)
	assert.Equal(t, 0, health.RegisteredApps)

	resp2, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp2.Body.Close()

	var status struct {
		Environment struct {
			DiscordKeyConfigured bool   `json:"discordKeyConfigured"`
			RequestTimeout       string `json:"requestTimeout"`
			Port                 int    `json:"port"`
		} `json:"environment"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&status))
	assert.False(t, status.Environment.DiscordKeyConfigured)
	assert.Equal(t, "2500ms", status.Environment.RequestTimeout)
	assert.Equal(t, 3000, status.Environment.Port)
}

func TestServer_SignedPingWithConfiguredKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Discord.PublicKey = hex.EncodeToString(pub)
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)

	body := `{"type":1}`
	ts := "1700000000"
	req := httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(body))
	req.Header.Set("X-Signature-Timestamp", ts)
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(ed25519.Sign(priv, []byte(ts+body))))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"type":1}`, w.Body.String())
}

func TestServer_MissingKeyRejects(t *testing.T) {
	s, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(`{"type":1}`))
	req.Header.Set("X-Signature-Timestamp", "1")
	req.Header.Set("X-Signature-Ed25519", "00")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStartBackground_ReapsStale(t *testing.T) {
	cfg := testConfig(t)
	cfg.Registry.StaleAfterSeconds = 1
	cfg.Registry.ReapIntervalSeconds = 1

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartBackground(ctx)

	_, err = s.Registry().Register(ctx, registry.Registration{
		AppID: "a1", Name: "Alpha", Endpoint: "http://alpha/api", Channels: map[string]registry.ChannelInfo{"111": {}},
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return s.Registry().Count() == 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "None configured", Summary(nil))
	assert.Equal(t, "ROTR (111), Alpha (222)", Summary([]registry.CampaignConfig{
		{Name: "ROTR", ChannelID: "111"},
		{Name: "Alpha", ChannelID: "222"},
	}))
}
