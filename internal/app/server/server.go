package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"discord-router/internal/api"
	"discord-router/internal/config"
	"discord-router/internal/interaction"
	"discord-router/internal/listener"
	"discord-router/internal/observability"
	"discord-router/internal/registry"
	"discord-router/internal/storage"
	"discord-router/internal/verify"
)

// Server owns the registry and everything wired around it.
type Server struct {
	cfg     config.Config
	reg     *registry.Registry
	store   *storage.Store
	handler http.Handler
}

// New builds the router. With Postgres configured it also seeds the registry
// from stored registrations.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	verifier, err := verify.NewVerifier(cfg.Discord.PublicKey)
	switch {
	case errors.Is(err, verify.ErrNoPublicKey):
		log.Warn().Msg("DISCORD_PUBLIC_KEY not configured - signature verification will fail")
	case err != nil:
		log.Warn().Err(err).Msg("DISCORD_PUBLIC_KEY unusable - signature verification will fail")
	}

	s := &Server{cfg: cfg}

	var opts []registry.Option
	if cfg.PostgresEnabled() {
		st, err := storage.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, err
		}
		s.store = st
		opts = append(opts, registry.WithPersister(st))
	}

	s.reg = registry.New(staticConfigs(cfg.StaticCampaigns()), opts...)
	if s.store != nil {
		if err := listener.Reload(ctx, s.store, s.reg); err != nil {
			s.store.Close()
			return nil, fmt.Errorf("initial registration load: %w", err)
		}
	}
	observability.RegisterAppsGauge(s.reg.Count)

	fwd := interaction.NewHTTPForwarder(&http.Client{}, cfg.RequestTimeout())
	ih := api.NewInteractionHandler(verifier, interaction.NewRouter(s.reg, fwd))
	ah := api.NewAdminHandler(s.reg, api.ServiceInfo{
		Env:                  cfg.Server.Env,
		Port:                 cfg.Server.Port,
		DiscordKeyConfigured: verifier.Configured(),
		RequestTimeout:       fwd.Timeout(),
	})
	s.handler = api.Router(ih, ah)

	log.Info().Str("campaigns", Summary(s.reg.ListActive())).Msg("configured campaigns")
	return s, nil
}

func (s *Server) Handler() http.Handler         { return s.handler }
func (s *Server) Registry() *registry.Registry { return s.reg }

// StartBackground launches the stale-registration reaper and, with Postgres,
// the registration change listener and the retry of rejected writes. All stop
// with ctx.
func (s *Server) StartBackground(ctx context.Context) {
	s.reg.StartReaper(ctx, s.cfg.ReapInterval(), s.cfg.StaleAfter())
	if s.store != nil {
		s.reg.StartSync(ctx, s.cfg.ReapInterval())
		go listener.ListenAndReload(ctx, listener.FromStore(s.store), s.reg, s.cfg.Listener.Channel, s.cfg.Backoff())
	}
}

func (s *Server) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully.
func Run(cfg config.Config) error {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	s.StartBackground(rootCtx)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.RequestTimeout() + 3*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("discord interaction handler starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server crashed: %w", err)
		}
		return nil
	case sig := <-waitForSignal():
		log.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	return srv.Shutdown(shCtx)
}

func waitForSignal() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}

func staticConfigs(cs []config.Campaign) []registry.CampaignConfig {
	out := make([]registry.CampaignConfig, 0, len(cs))
	for _, c := range cs {
		out = append(out, registry.CampaignConfig{Name: c.Name, Endpoint: c.Endpoint, ChannelID: c.ChannelID})
	}
	return out
}

// Summary renders campaigns as "ROTR (111), SNS (222)".
func Summary(active []registry.CampaignConfig) string {
	if len(active) == 0 {
		return "None configured"
	}
	parts := make([]string, 0, len(active))
	for _, c := range active {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Name, c.ChannelID))
	}
	return strings.Join(parts, ", ")
}
