package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-router/internal/registry"
)

type MockResolver map[string]registry.CampaignConfig

func (m MockResolver) Resolve(channelID string) (registry.CampaignConfig, bool) {
	c, ok := m[channelID]
	return c, ok
}

type MockForwarder struct {
	calls atomic.Int32
	reply Reply
	err   error
}

func (m *MockForwarder) Forward(_ context.Context, _ registry.CampaignConfig, _ []byte) (Reply, error) {
	m.calls.Add(1)
	return m.reply, m.err
}

type replyBody struct {
	Type int `json:"type"`
	Data *struct {
		Content string `json:"content"`
		Flags   int    `json:"flags"`
	} `json:"data"`
}

func decodeReply(t *testing.T, r Reply) replyBody {
	t.Helper()
	var out replyBody
	require.NoError(t, json.Unmarshal(r, &out))
	return out
}

func TestParseAndKind(t *testing.T) {
	tests := []struct {
		raw  string
		want Kind
	}{
		{`{"type":1}`, KindPing},
		{`{"type":3,"channel_id":"111"}`, KindComponent},
		{`{"type":2}`, KindOther},
		{`{"type":5}`, KindOther},
		{`{}`, KindOther},
		{`{"type":3.0,"channel_id":"111"}`, KindComponent},
		{`{"type":256}`, KindOther},
		{`{"type":-1}`, KindOther},
		{`{"type":1.5}`, KindOther},
		{`{"type":"3"}`, KindOther},
		{`{"type":null}`, KindOther},
		{`[1,2]`, KindOther},
		{`3`, KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			in, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.Kind())
		})
	}

	for _, raw := range []string{`{"type":`, `not json`, ``} {
		_, err := Parse([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestParse_ChannelID(t *testing.T) {
	tests := map[string]string{
		`{"type":3,"channel_id":"111"}`: "111",
		`{"type":3,"channel_id":111}`:   "111",
		`{"type":3,"channel_id":null}`:  "",
		`{"type":3,"channel_id":{}}`:    "",
		`{"type":3}`:                    "",
	}
	for raw, want := range tests {
		in, err := Parse([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, in.ChannelID, raw)
	}

	in, err := Parse([]byte(`{"type":1,"id":42}`))
	require.NoError(t, err)
	assert.Equal(t, "42", in.ID)
}

func TestRouter_Ping(t *testing.T) {
	fwd := &MockForwarder{}
	r := NewRouter(MockResolver{"111": {Name: "ROTR"}}, fwd)

	reply := r.Handle(context.Background(), Interaction{Type: 1, ChannelID: "111"}, []byte(`{"type":1}`))
	assert.JSONEq(t, `{"type":1}`, string(reply))
	assert.Equal(t, int32(0), fwd.calls.Load())
}

func TestRouter_UnconfiguredChannel(t *testing.T) {
	fwd := &MockForwarder{}
	r := NewRouter(MockResolver{}, fwd)

	reply := decodeReply(t, r.Handle(context.Background(), Interaction{Type: 3, ChannelID: "999"}, nil))
	assert.Equal(t, 4, reply.Type)
	require.NotNil(t, reply.Data)
	assert.Equal(t, msgNotConfigured, reply.Data.Content)
	assert.Equal(t, 64, reply.Data.Flags)
	assert.Equal(t, int32(0), fwd.calls.Load())
}

func TestRouter_UnknownType(t *testing.T) {
	fwd := &MockForwarder{}
	r := NewRouter(MockResolver{"111": {Name: "ROTR"}}, fwd)

	reply := decodeReply(t, r.Handle(context.Background(), Interaction{Type: 2, ChannelID: "111"}, nil))
	assert.Equal(t, msgUnknownType, reply.Data.Content)
	assert.Equal(t, 64, reply.Data.Flags)
	assert.Equal(t, int32(0), fwd.calls.Load())
}

func TestRouter_ForwardSuccessIsVerbatim(t *testing.T) {
	backend := Reply(`{"type":4,"data":{"content":"You are marked attending"}}`)
	fwd := &MockForwarder{reply: backend}
	r := NewRouter(MockResolver{"111": {Name: "ROTR", Endpoint: "http://rotr/api"}}, fwd)

	reply := r.Handle(context.Background(), Interaction{Type: 3, ChannelID: "111"}, []byte(`{"type":3}`))
	assert.Equal(t, backend, reply)
	assert.Equal(t, int32(1), fwd.calls.Load())
}

func TestRouter_ForwardFailureFallsBack(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"upstream error", &UpstreamError{Campaign: "ROTR", Timeout: true, Err: context.DeadlineExceeded}},
		{"plain error", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fwd := &MockForwarder{err: tt.err}
			r := NewRouter(MockResolver{"111": {Name: "ROTR", Endpoint: "http://rotr/api"}}, fwd)

			reply := decodeReply(t, r.Handle(context.Background(), Interaction{Type: 3, ChannelID: "111"}, nil))
			assert.Equal(t, 4, reply.Type)
			assert.Contains(t, reply.Data.Content, "the ROTR campaign system is temporarily unavailable")
			assert.Equal(t, 64, reply.Data.Flags)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ping", KindPing.String())
	assert.Equal(t, "component", KindComponent.String())
	assert.Equal(t, "other", KindOther.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
