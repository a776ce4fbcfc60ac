package webrtc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/config"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, kinds ...domain.MediaKind) *peerManager {
	t.Helper()
	logger := zap.NewNop().Sugar()
	m := NewPeerManager(PeerConfig{}, NewSyntheticDevices(logger, kinds...), logger).(*peerManager)
	t.Cleanup(m.Release)
	return m
}

func connect(t *testing.T, m *peerManager, h ports.PeerHandlers) {
	t.Helper()
	m.AcquireLocalMedia(context.Background())
	require.NoError(t, m.CreateConnection(h))
	require.NoError(t, m.AttachLocalMedia())
}

// mediaSections returns the m= lines of sdp with their direction attribute.
func mediaSections(sdp string) map[string]string {
	out := map[string]string{}
	var current string
	for _, line := range strings.Split(sdp, "\r\n") {
		switch {
		case strings.HasPrefix(line, "m="):
			current = strings.Fields(strings.TrimPrefix(line, "m="))[0]
		case current != "" && (line == "a=sendrecv" || line == "a=recvonly" || line == "a=sendonly" || line == "a=inactive"):
			out[current] = strings.TrimPrefix(line, "a=")
		}
	}
	return out
}

func TestPeerManager_NoMediaStillReceives(t *testing.T) {
	m := newTestManager(t)
	connect(t, m, ports.PeerHandlers{})

	assert.Empty(t, m.LocalTracks())

	offer, err := m.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SDPTypeOffer, offer.Type)

	sections := mediaSections(offer.SDP)
	assert.Equal(t, "recvonly", sections["video"])
	assert.Equal(t, "recvonly", sections["audio"])
}

func TestPeerManager_MediaFallback(t *testing.T) {
	full := newTestManager(t, domain.MediaAudio, domain.MediaVideo)
	assert.Len(t, full.AcquireLocalMedia(context.Background()), 2)

	audioOnly := newTestManager(t, domain.MediaAudio)
	tracks := audioOnly.AcquireLocalMedia(context.Background())
	require.Len(t, tracks, 1)
	assert.Equal(t, domain.MediaAudio, tracks[0].Kind)

	require.NoError(t, audioOnly.CreateConnection(ports.PeerHandlers{}))
	require.NoError(t, audioOnly.AttachLocalMedia())
	offer, err := audioOnly.CreateOffer(context.Background())
	require.NoError(t, err)

	sections := mediaSections(offer.SDP)
	assert.Equal(t, "sendrecv", sections["audio"])
	assert.Equal(t, "recvonly", sections["video"])
}

func TestPeerManager_AcquireIsIdempotent(t *testing.T) {
	m := newTestManager(t, domain.MediaAudio, domain.MediaVideo)
	first := m.AcquireLocalMedia(context.Background())
	second := m.AcquireLocalMedia(context.Background())
	assert.Equal(t, first, second)
}

func TestPeerManager_NegotiatesOnceAndIgnoresDuplicates(t *testing.T) {
	creator := newTestManager(t, domain.MediaAudio, domain.MediaVideo)
	joiner := newTestManager(t)

	var (
		mu     sync.Mutex
		states []webrtc.SignalingState
	)
	connect(t, creator, ports.PeerHandlers{})
	connect(t, joiner, ports.PeerHandlers{
		OnSignalingState: func(s webrtc.SignalingState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	offer, err := creator.CreateOffer(context.Background())
	require.NoError(t, err)

	applied, err := joiner.ApplyRemoteDescription(offer)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = joiner.ApplyRemoteDescription(offer)
	require.NoError(t, err)
	assert.False(t, applied, "a retransmitted offer must not be applied twice")

	answer, err := joiner.CreateAnswer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SDPTypeAnswer, answer.Type)
	assert.Equal(t, answer, *joiner.LocalDescription())

	applied, err = creator.ApplyRemoteDescription(answer)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, creator.HasRemoteDescription())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	stable := 0
	for _, s := range states {
		if s == webrtc.SignalingStateStable {
			stable++
		}
	}
	assert.Equal(t, 1, stable)
}

func TestPeerManager_QueuesEarlyCandidates(t *testing.T) {
	creator := newTestManager(t)
	joiner := newTestManager(t)
	connect(t, creator, ports.PeerHandlers{})
	connect(t, joiner, ports.PeerHandlers{})

	offer, err := creator.CreateOffer(context.Background())
	require.NoError(t, err)

	for _, c := range []string{
		"candidate:1 1 udp 2130706431 192.0.2.10 50000 typ host",
		"candidate:2 1 udp 2130706431 192.0.2.11 50001 typ host",
	} {
		require.NoError(t, joiner.AddRemoteCandidate(domain.Candidate{Candidate: c}))
	}

	joiner.mu.Lock()
	assert.Len(t, joiner.pending, 2)
	joiner.mu.Unlock()

	_, err = joiner.ApplyRemoteDescription(offer)
	require.NoError(t, err)

	joiner.mu.Lock()
	assert.Empty(t, joiner.pending)
	joiner.mu.Unlock()

	// once the description is set candidates go straight to pion
	assert.NoError(t, joiner.AddRemoteCandidate(domain.Candidate{Candidate: "candidate:3 1 udp 2130706431 192.0.2.12 50002 typ host"}))
}

func TestPeerManager_RequiresConnection(t *testing.T) {
	m := newTestManager(t)

	assert.ErrorIs(t, m.AddRemoteCandidate(domain.Candidate{Candidate: "candidate:1"}), domain.ErrInvalidState)
	_, err := m.ApplyRemoteDescription(domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = m.CreateOffer(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Nil(t, m.LocalDescription())
}

type fakeRemoteTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (f fakeRemoteTrack) ID() string                { return f.id }
func (f fakeRemoteTrack) Kind() webrtc.RTPCodecType { return f.kind }

func TestPeerManager_RemoteStreamReplacesSameKind(t *testing.T) {
	m := newTestManager(t)
	connect(t, m, ports.PeerHandlers{})

	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	_, ok := m.addRemoteTrack(gen, fakeRemoteTrack{"a1", webrtc.RTPCodecTypeAudio})
	require.True(t, ok)
	_, ok = m.addRemoteTrack(gen, fakeRemoteTrack{"v1", webrtc.RTPCodecTypeVideo})
	require.True(t, ok)
	tracks, ok := m.addRemoteTrack(gen, fakeRemoteTrack{"v2", webrtc.RTPCodecTypeVideo})
	require.True(t, ok)

	require.Len(t, tracks, 2)
	assert.Equal(t, domain.TrackInfo{ID: "a1", Kind: domain.MediaAudio, Enabled: true}, tracks[0])
	assert.Equal(t, "v2", tracks[1].ID)
	assert.Equal(t, tracks, m.RemoteTracks())

	// tracks from a replaced connection are ignored
	_, ok = m.addRemoteTrack(gen-1, fakeRemoteTrack{"old", webrtc.RTPCodecTypeVideo})
	assert.False(t, ok)

	m.ResetNegotiation()
	assert.Empty(t, m.RemoteTracks())
}

func TestPeerManager_ToggleTracks(t *testing.T) {
	m := newTestManager(t, domain.MediaAudio)
	m.AcquireLocalMedia(context.Background())

	assert.True(t, m.SetTrackEnabled(domain.MediaAudio, false))
	assert.False(t, m.LocalTracks()[0].Enabled)
	assert.True(t, m.SetTrackEnabled(domain.MediaAudio, true))
	assert.True(t, m.LocalTracks()[0].Enabled)

	assert.False(t, m.SetTrackEnabled(domain.MediaVideo, false), "no video track to toggle")
}

func TestPeerManager_ResetKeepsMediaReleaseStopsIt(t *testing.T) {
	m := newTestManager(t, domain.MediaAudio, domain.MediaVideo)
	connect(t, m, ports.PeerHandlers{})

	m.mu.Lock()
	local := append([]*LocalTrack(nil), m.local...)
	m.mu.Unlock()

	m.ResetNegotiation()
	assert.Len(t, m.LocalTracks(), 2)
	assert.False(t, m.HasRemoteDescription())

	require.NoError(t, m.CreateConnection(ports.PeerHandlers{}))
	m.Release()
	m.Release()

	assert.Empty(t, m.LocalTracks())
	for _, tr := range local {
		select {
		case <-tr.Stopped():
		default:
			t.Fatalf("track %s not stopped", tr.Track.ID())
		}
	}
	_, err := m.current()
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestPeerManager_GathersLocalCandidates(t *testing.T) {
	got := make(chan domain.Candidate, 16)
	m := newTestManager(t, domain.MediaAudio)
	connect(t, m, ports.PeerHandlers{
		OnLocalCandidate: func(c domain.Candidate) {
			select {
			case got <- c:
			default:
			}
		},
	})

	_, err := m.CreateDataChannel(domain.ChatChannelLabel)
	require.NoError(t, err)
	_, err = m.CreateOffer(context.Background())
	require.NoError(t, err)

	select {
	case c := <-got:
		assert.True(t, strings.HasPrefix(c.Candidate, "candidate:"))
	case <-time.After(5 * time.Second):
		t.Skip("no local interface produced a host candidate")
	}
}

func TestICEServersFromConfig(t *testing.T) {
	servers := ICEServersFromConfig([]config.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"},
	})

	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, servers[0].URLs)
	assert.Nil(t, servers[0].Credential)
	assert.Equal(t, "p", servers[1].Credential)
	assert.Equal(t, webrtc.ICECredentialTypePassword, servers[1].CredentialType)
}
