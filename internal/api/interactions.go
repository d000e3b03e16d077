package api

import (
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"discord-router/internal/interaction"
	"discord-router/internal/observability"
	"discord-router/internal/verify"
)

const maxInteractionBytes = 1 << 20

type InteractionHandler struct {
	verifier *verify.Verifier
	router   *interaction.Router
}

func NewInteractionHandler(v *verify.Verifier, router *interaction.Router) *InteractionHandler {
	return &InteractionHandler{verifier: v, router: router}
}

// Interactions verifies the signature over the raw body before anything parses it.
func (h *InteractionHandler) Interactions(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxInteractionBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	signature := r.Header.Get(verify.HeaderSignature)
	timestamp := r.Header.Get(verify.HeaderTimestamp)
	if signature == "" || timestamp == "" || !h.verifier.Configured() {
		log.Error().Msg("missing discord verification headers or public key")
		observability.SignatureFailures.WithLabelValues("missing").Inc()
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.verifier.Verify(raw, signature, timestamp) {
		log.Error().Msg("invalid discord signature")
		observability.SignatureFailures.WithLabelValues("invalid").Inc()
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	in, err := interaction.Parse(raw)
	if err != nil {
		log.Warn().Err(err).Msg("malformed interaction payload")
		writeError(w, http.StatusBadRequest, "invalid interaction payload")
		return
	}
	log.Info().Int("type", int(in.Type)).Str("id", in.ID).Str("channel_id", in.ChannelID).Msg("received discord interaction")

	reply := h.router.Handle(r.Context(), in, raw)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply)
}
