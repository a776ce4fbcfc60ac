package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodeRoundTrip(t *testing.T) {
	wrapped := fmt.Errorf("join: %w", ErrRoomNotFound)
	assert.Equal(t, CodeRoomNotFound, ErrorCode(wrapped))
	assert.Equal(t, CodeInternal, ErrorCode(errors.New("boom")))

	assert.ErrorIs(t, ErrorFromCode(CodeRoomAlreadyExists, ""), ErrRoomAlreadyExists)
	assert.EqualError(t, ErrorFromCode("Weird", "something odd"), "something odd")
	assert.EqualError(t, ErrorFromCode("Weird", ""), "Weird")
}

func TestSide(t *testing.T) {
	assert.Equal(t, SideAnswer, SideOffer.Opposite())
	assert.Equal(t, SideOffer, SideAnswer.Opposite())
	assert.False(t, Side("both").Valid())
	assert.Equal(t, SideOffer, RoleCreator.Side())
	assert.Equal(t, SideAnswer, RoleJoiner.Side())
}

func TestRoomMembership(t *testing.T) {
	r := NewRoom("abc1234", time.Now())
	r.Participants = append(r.Participants, "a", "b")

	assert.True(t, r.IsFull())
	peer, ok := r.Peer("a")
	require.True(t, ok)
	assert.Equal(t, ParticipantID("b"), peer)

	assert.True(t, r.RemoveParticipant("b"))
	assert.False(t, r.RemoveParticipant("b"))
	_, ok = r.Peer("a")
	assert.False(t, ok)
}

func TestRoomCloneIsDeep(t *testing.T) {
	r := NewRoom("abc1234", time.Now())
	r.Offer = &SessionDescription{Type: SDPTypeOffer, SDP: "v=0"}
	r.Candidates[SideOffer] = []Candidate{{Candidate: "candidate:1"}}

	c := r.Clone()
	c.Offer.SDP = "changed"
	c.Candidates[SideOffer][0].Candidate = "changed"

	assert.Equal(t, "v=0", r.Offer.SDP)
	assert.Equal(t, "candidate:1", r.Candidates[SideOffer][0].Candidate)
}

func TestRoomExpired(t *testing.T) {
	now := time.Now()
	r := NewRoom("abc1234", now)
	assert.False(t, r.Expired(now.Add(30*time.Minute), time.Hour))
	assert.True(t, r.Expired(now.Add(61*time.Minute), time.Hour))
}

func TestRoomURL(t *testing.T) {
	link, err := RoomURL("https://example.com/video-chat", "abc1234")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/video-chat?room=abc1234", link)

	id, ok := RoomIDFromURL(link)
	require.True(t, ok)
	assert.Equal(t, RoomID("abc1234"), id)

	_, ok = RoomIDFromURL("https://example.com/video-chat")
	assert.False(t, ok)
}

func TestTranscript(t *testing.T) {
	var tr Transcript
	now := time.Date(2026, 1, 1, 14, 7, 0, 0, time.Local)

	tr.Append(ChatMessage{Text: "hi", Direction: DirectionSelf, Timestamp: now})
	tr.AppendChunk(DirectionRemote, "Hel", now)
	tr.AppendChunk(DirectionRemote, "lo", now)

	msgs := tr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[1].Text)
	assert.Equal(t, "14:07", msgs[1].Clock())

	msgs[0].Text = "mutated"
	assert.Equal(t, "hi", tr.Messages()[0].Text)

	tr.Clear()
	assert.Equal(t, 0, tr.Len())
}

func TestSignalVariants(t *testing.T) {
	signals := []Signal{
		Offer{RoomID: "r"}, Answer{RoomID: "r"}, ICECandidate{RoomID: "r"},
		PeerJoined{RoomID: "r"}, PeerLeft{RoomID: "r"}, SignalError{RoomID: "r"},
	}
	seen := map[SignalType]bool{}
	for _, s := range signals {
		assert.Equal(t, RoomID("r"), s.Room())
		seen[s.Type()] = true
	}
	assert.Len(t, seen, len(signals))
}
