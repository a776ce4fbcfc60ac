package main

import (
	"bytes"
	"strings"
	"testing"

	"peercall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3001":      "ws://localhost:3001/ws",
		"https://call.example.com/":  "wss://call.example.com/ws",
		"https://example.com/signal": "wss://example.com/signal/ws",
		"ws://10.0.0.2:3001":         "ws://10.0.0.2:3001/ws",
	}
	for in, want := range cases {
		got, err := relayURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := relayURL("ftp://example.com")
	assert.Error(t, err)
}

func TestRoomFromArgs(t *testing.T) {
	id, err := roomFromArgs([]string{" abc1234 "}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("abc1234"), id)

	id, err = roomFromArgs(nil, "https://example.com/video-chat?room=xyz9876")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("xyz9876"), id)

	_, err = roomFromArgs(nil, "https://example.com/video-chat")
	assert.Error(t, err)

	_, err = roomFromArgs([]string{"abc1234"}, "https://example.com/video-chat?room=xyz9876")
	assert.Error(t, err)

	_, err = roomFromArgs(nil, "")
	assert.Error(t, err)
}

func TestDescribeTracks(t *testing.T) {
	assert.Equal(t, "nothing", describeTracks(nil))
	assert.Equal(t, "audio+video", describeTracks([]domain.TrackInfo{
		{Kind: domain.MediaAudio}, {Kind: domain.MediaVideo},
	}))
}

func TestPrintEvent_HidesOwnChat(t *testing.T) {
	var out bytes.Buffer
	printEvent(&out, domain.CallEvent{Type: domain.EventChatMessage, Message: &domain.ChatMessage{Text: "mine", Direction: domain.DirectionSelf}})
	assert.Empty(t, out.String())

	printEvent(&out, domain.CallEvent{Type: domain.EventChatMessage, Message: &domain.ChatMessage{Text: "hello", Direction: domain.DirectionRemote}})
	assert.True(t, strings.HasSuffix(out.String(), "remote: hello\n"))

	out.Reset()
	printEvent(&out, domain.CallEvent{Type: domain.EventStateChanged, State: domain.CallConnected})
	assert.Equal(t, "[connected]\n", out.String())
}

func TestPrintToggle(t *testing.T) {
	var out bytes.Buffer
	printToggle(&out, "video", func() (bool, bool) { return false, false })
	printToggle(&out, "video", func() (bool, bool) { return false, true })
	printToggle(&out, "audio", func() (bool, bool) { return true, true })
	assert.Equal(t, "No video track\nvideo muted\naudio on\n", out.String())
}
