package interaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/bwmarrin/discordgo"
)

// Kind is the closed set of interaction shapes the router distinguishes.
type Kind int

const (
	KindOther Kind = iota
	KindPing
	KindComponent
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindComponent:
		return "component"
	case KindOther:
		return "other"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Interaction holds the fields the router needs; everything else in the payload
// is forwarded untouched as raw bytes.
type Interaction struct {
	Type      discordgo.InteractionType
	ID        string
	ChannelID string
}

type wireInteraction struct {
	Type      json.RawMessage `json:"type"`
	ID        json.RawMessage `json:"id"`
	ChannelID json.RawMessage `json:"channel_id"`
}

// Parse decodes the routing fields out of a raw interaction payload. Only bytes
// that are not JSON at all are an error. A type that is not an integer in the
// interaction type range leaves Type zero, which classifies as KindOther.
func Parse(raw []byte) (Interaction, error) {
	if !json.Valid(raw) {
		return Interaction{}, errors.New("decode interaction: body is not valid JSON")
	}
	var w wireInteraction
	if err := json.Unmarshal(raw, &w); err != nil {
		// valid JSON that is not an object: nothing to route on
		return Interaction{}, nil
	}
	return Interaction{
		Type:      interactionType(w.Type),
		ID:        scalarText(w.ID),
		ChannelID: scalarText(w.ChannelID),
	}, nil
}

func interactionType(raw json.RawMessage) discordgo.InteractionType {
	var n json.Number
	if len(raw) == 0 || raw[0] == '"' || json.Unmarshal(raw, &n) != nil {
		return 0
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < 0 || f > math.MaxUint8 {
		return 0
	}
	return discordgo.InteractionType(f)
}

// scalarText returns a string field as is and a numeric one as its literal.
func scalarText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return ""
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

func (i Interaction) Kind() Kind {
	switch i.Type {
	case discordgo.InteractionPing:
		return KindPing
	case discordgo.InteractionMessageComponent:
		return KindComponent
	default:
		return KindOther
	}
}

// Reply is a JSON encoded interaction response.
type Reply []byte

const (
	msgNotConfigured = "⚠️ This channel is not configured for session attendance tracking."
	msgUnknownType   = "❓ Unknown interaction type."
	msgUnavailable   = "⚠️ Sorry, the %s campaign system is temporarily unavailable. Please try again later."
)

var (
	pongReply          = mustReply(discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
	notConfiguredReply = Ephemeral(msgNotConfigured)
	unknownTypeReply   = Ephemeral(msgUnknownType)
)

// Ephemeral builds a message reply only the invoking user can see.
func Ephemeral(content string) Reply {
	return mustReply(discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// Unavailable is the fallback sent when a campaign backend cannot answer in time.
func Unavailable(campaign string) Reply {
	return Ephemeral(fmt.Sprintf(msgUnavailable, campaign))
}

func mustReply(r discordgo.InteractionResponse) Reply {
	b, err := json.Marshal(r)
	if err != nil {
		panic(fmt.Errorf("marshal interaction response: %w", err))
	}
	return b
}
