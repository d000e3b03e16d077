package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"discord-router/internal/broker"
	"discord-router/internal/config"
	"discord-router/internal/registry"
)

type announceOpts struct {
	brokerURL   string
	appID       string
	name        string
	description string
	endpoint    string
	channels    []string
	heartbeat   time.Duration
	retries     int
	retryDelay  time.Duration
}

func newAnnounceCmd() *cobra.Command {
	o := announceOpts{}
	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Register a campaign backend with a router and keep it alive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config.SetupLogging(logLevel, "development")

			app, err := o.registration()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := broker.New(o.brokerURL, app,
				broker.WithHeartbeatInterval(o.heartbeat),
				broker.WithRetry(o.retries, o.retryDelay),
			)
			return c.Run(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.brokerURL, "broker-url", "http://localhost:3000", "base URL of the interaction router")
	f.StringVar(&o.appID, "app-id", "", "registration ID (default derived from --endpoint)")
	f.StringVar(&o.name, "name", "", "campaign display name")
	f.StringVar(&o.description, "description", "", "campaign description")
	f.StringVar(&o.endpoint, "endpoint", "", "campaign API base URL, e.g. http://host:5000/api")
	f.StringArrayVar(&o.channels, "channel", nil, "channel to claim as ID or ID:name (repeatable)")
	f.DurationVar(&o.heartbeat, "heartbeat-interval", broker.DefaultHeartbeatInterval, "heartbeat period")
	f.IntVar(&o.retries, "register-retries", broker.DefaultMaxRetries, "registration attempts before giving up")
	f.DurationVar(&o.retryDelay, "register-retry-delay", broker.DefaultRetryDelay, "delay between registration attempts")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func (o announceOpts) registration() (registry.Registration, error) {
	channels, err := parseChannels(o.channels)
	if err != nil {
		return registry.Registration{}, err
	}
	return registry.Registration{
		AppID:       o.appID,
		Name:        o.name,
		Description: o.description,
		Endpoint:    o.endpoint,
		Channels:    channels,
	}, nil
}

func parseChannels(values []string) (map[string]registry.ChannelInfo, error) {
	out := make(map[string]registry.ChannelInfo, len(values))
	for _, s := range values {
		id, name, _ := strings.Cut(s, ":")
		id = strings.TrimSpace(id)
		if !registry.Configured(id) {
			return nil, fmt.Errorf("invalid channel %q", s)
		}
		out[id] = registry.ChannelInfo{Type: "session", Name: strings.TrimSpace(name)}
	}
	return out, nil
}
