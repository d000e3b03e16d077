package interaction

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"discord-router/internal/observability"
	"discord-router/internal/registry"
)

// Resolver finds the campaign that owns a channel.
type Resolver interface {
	Resolve(channelID string) (registry.CampaignConfig, bool)
}

// Router turns a verified interaction into a reply. It always produces one.
type Router struct {
	resolver  Resolver
	forwarder Forwarder
}

func NewRouter(resolver Resolver, forwarder Forwarder) *Router {
	return &Router{resolver: resolver, forwarder: forwarder}
}

// Handle dispatches on the interaction kind. This is the one place where an
// upstream failure becomes a fallback reply.
func (r *Router) Handle(ctx context.Context, in Interaction, raw []byte) Reply {
	l := log.With().Str("interaction_id", in.ID).Str("channel_id", in.ChannelID).Int("type", int(in.Type)).Logger()

	switch in.Kind() {
	case KindPing:
		l.Debug().Msg("responding to discord ping")
		return pongReply

	case KindComponent:
		campaign, ok := r.resolver.Resolve(in.ChannelID)
		if !ok {
			l.Warn().Msg("no campaign configured for channel")
			observability.RoutedTotal.WithLabelValues("unconfigured").Inc()
			return notConfiguredReply
		}
		observability.RoutedTotal.WithLabelValues("forwarded").Inc()

		reply, err := r.forward(ctx, campaign, raw)
		if err != nil {
			l.Error().Err(err).Str("campaign", campaign.Name).Str("endpoint", campaign.Endpoint).Msg("failed to route interaction")
			return Unavailable(campaign.Name)
		}
		return reply

	case KindOther:
		l.Info().Msg("unhandled interaction type")
		observability.RoutedTotal.WithLabelValues("unknown_type").Inc()
		return unknownTypeReply
	}
	return unknownTypeReply
}

func (r *Router) forward(ctx context.Context, campaign registry.CampaignConfig, raw []byte) (Reply, error) {
	log.Info().Str("campaign", campaign.Name).Str("endpoint", campaign.Endpoint).Msg("routing interaction")

	start := time.Now()
	reply, err := r.forwarder.Forward(ctx, campaign, raw)
	observability.ForwardLatency.Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "error"
		var ue *UpstreamError
		if errors.As(err, &ue) {
			outcome = ue.Outcome()
		}
	}
	observability.ForwardTotal.WithLabelValues(campaign.Name, outcome).Inc()
	return reply, err
}
