package signal

import (
	"encoding/json"
	"testing"

	"peercall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func TestEncodeDecodeSignals(t *testing.T) {
	mid := "0"
	signals := []domain.Signal{
		domain.Offer{RoomID: "abc1234", Description: domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: testSDP}},
		domain.Answer{RoomID: "abc1234", Description: domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: testSDP}},
		domain.ICECandidate{RoomID: "abc1234", Side: domain.SideAnswer, Candidate: domain.Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid}},
		domain.PeerJoined{RoomID: "abc1234", Participant: "p-2"},
		domain.PeerLeft{RoomID: "abc1234", Participant: "p-2"},
	}

	for _, sig := range signals {
		t.Run(string(sig.Type()), func(t *testing.T) {
			env, err := EncodeSignal(sig)
			require.NoError(t, err)

			raw, err := json.Marshal(env)
			require.NoError(t, err)
			var back Envelope
			require.NoError(t, json.Unmarshal(raw, &back))

			got, err := DecodeSignal(back)
			require.NoError(t, err)
			assert.Equal(t, sig, got)
		})
	}
}

func TestDecodeSignal_ErrorFrame(t *testing.T) {
	sig, err := DecodeSignal(ErrorEnvelope("7", "abc1234", domain.ErrRoomNotFound))
	require.NoError(t, err)

	se, ok := sig.(domain.SignalError)
	require.True(t, ok)
	assert.ErrorIs(t, se.Err, domain.ErrRoomNotFound)
}

func TestDecodeSignal_Rejects(t *testing.T) {
	cases := map[string]Envelope{
		"control frame":   {Type: MsgJoin, RoomID: "abc1234"},
		"garbage payload": {Type: MsgOffer, Payload: json.RawMessage(`"nope"`)},
		"answer as offer": {Type: MsgOffer, Payload: json.RawMessage(`{"type":"answer","sdp":"v=0\no=\ns=\nt="}`)},
		"bad sdp":         {Type: MsgAnswer, Payload: json.RawMessage(`{"type":"answer","sdp":"hello"}`)},
		"bad side":        {Type: MsgICECandidate, Payload: json.RawMessage(`{"side":"left","candidate":{"candidate":"candidate:1"}}`)},
		"bad candidate":   {Type: MsgICECandidate, Payload: json.RawMessage(`{"side":"offer","candidate":{"candidate":"xyz"}}`)},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSignal(env)
			assert.ErrorIs(t, err, domain.ErrInvalidMessage)
		})
	}
}

func TestEnvelopeWireShape(t *testing.T) {
	env, err := NewEnvelope(MsgICECandidate, "", "abc1234", CandidatePayload{
		Side:      domain.SideOffer,
		Candidate: domain.Candidate{Candidate: "candidate:1"},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ice_candidate","room_id":"abc1234","payload":{"side":"offer","candidate":{"candidate":"candidate:1"}}}`, string(raw))

	assert.Nil(t, AckEnvelope("1", "abc1234").Err())
}
