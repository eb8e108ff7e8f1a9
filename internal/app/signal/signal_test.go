package signal_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nook/internal/app/signal"
)

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  signal.Payload
	}{
		{"offer", `{"type":"offer","sdp":"v=0"}`, signal.Offer{SDP: "v=0"}},
		{"answer", `{"type":"answer","sdp":"v=1"}`, signal.Answer{SDP: "v=1"}},
		{"ice", `{"type":"ice","candidate":{"candidate":"a=1","sdpMid":"0"}}`,
			signal.ICE{Candidate: json.RawMessage(`{"candidate":"a=1","sdpMid":"0"}`)}},
		{"join", `{"type":"join"}`, signal.Join{}},
		{"leave", `{"type":"leave"}`, signal.Leave{}},
		{"nulls from browser clients", `{"type":"offer","sdp":"x","candidate":null,"to":null}`, signal.Offer{SDP: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := signal.Decode([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig.Payload)
		})
	}
}

func TestDecodeKeepsAddressing(t *testing.T) {
	sig, err := signal.Decode([]byte(`{"conversationId":"c1","from":"ann","to":"bob","type":"answer","sdp":"s"}`))
	require.NoError(t, err)

	assert.Equal(t, "c1", sig.ConversationID)
	assert.Equal(t, "ann", sig.From)
	assert.Equal(t, "bob", sig.To)
	assert.Equal(t, signal.TypeAnswer, sig.Type())
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `hello`, signal.ErrMalformed},
		{"array", `[1,2]`, signal.ErrMalformed},
		{"wrong field type", `{"type":"offer","sdp":5}`, signal.ErrMalformed},
		{"offer without sdp", `{"type":"offer"}`, signal.ErrMalformed},
		{"answer with empty sdp", `{"type":"answer","sdp":""}`, signal.ErrMalformed},
		{"ice without candidate", `{"type":"ice"}`, signal.ErrMalformed},
		{"ice with null candidate", `{"type":"ice","candidate":null}`, signal.ErrMalformed},
		{"missing type", `{"sdp":"x"}`, signal.ErrUnknownType},
		{"unknown type", `{"type":"hangup"}`, signal.ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signal.Decode([]byte(tt.frame))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMarshalWritesOnlyTheVariantFields(t *testing.T) {
	tests := []struct {
		name string
		sig  signal.Signal
		want string
	}{
		{
			"offer",
			signal.Signal{ConversationID: "c1", From: "ann", To: "bob", Payload: signal.Offer{SDP: "v=0"}},
			`{"conversationId":"c1","from":"ann","to":"bob","type":"offer","sdp":"v=0"}`,
		},
		{
			"ice",
			signal.Signal{ConversationID: "c1", From: "ann", Payload: signal.ICE{Candidate: json.RawMessage(`{"candidate":"x"}`)}},
			`{"conversationId":"c1","from":"ann","type":"ice","candidate":{"candidate":"x"}}`,
		},
		{
			"leave",
			signal.Signal{ConversationID: "c1", From: "ann", Payload: signal.Leave{}},
			`{"conversationId":"c1","from":"ann","type":"leave"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.sig)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestMarshalWithoutPayloadFails(t *testing.T) {
	_, err := json.Marshal(signal.Signal{ConversationID: "c1"})
	assert.ErrorIs(t, err, signal.ErrUnknownType)
}
