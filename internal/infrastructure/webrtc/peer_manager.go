package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/config"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// PeerConfig configures the peer connection manager.
type PeerConfig struct {
	ICEServers []webrtc.ICEServer
	// PacketSink, when set, receives every RTP packet of the remote tracks.
	PacketSink PacketSink
}

// PacketSink consumes remote media. Implementations must not block.
type PacketSink interface {
	WritePacket(kind domain.MediaKind, pkt *rtp.Packet)
}

// RemoteTrack is the part of *webrtc.TrackRemote the remote stream tracks.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
}

// ICEServersFromConfig converts configured ICE servers to pion's form.
func ICEServersFromConfig(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, srv)
	}
	return out
}

type peerManager struct {
	cfg     PeerConfig
	devices MediaDevices
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	gen      uint64
	handlers ports.PeerHandlers

	local  []*LocalTrack
	remote map[domain.MediaKind]domain.TrackInfo

	remoteApplied bool
	pending       []domain.Candidate
}

// NewPeerManager owns local media and at most one pion PeerConnection.
// Callbacks from a connection that has since been replaced are dropped.
func NewPeerManager(cfg PeerConfig, devices MediaDevices, logger *zap.SugaredLogger) ports.PeerManager {
	return &peerManager{
		cfg:     cfg,
		devices: devices,
		logger:  logger,
		remote:  make(map[domain.MediaKind]domain.TrackInfo),
	}
}

func (m *peerManager) AcquireLocalMedia(ctx context.Context) []domain.TrackInfo {
	m.mu.Lock()
	if m.local != nil {
		infos := trackInfos(m.local)
		m.mu.Unlock()
		return infos
	}
	m.mu.Unlock()

	tracks, _ := AcquireMedia(ctx, m.devices, m.logger)
	if tracks == nil {
		tracks = []*LocalTrack{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = tracks
	return trackInfos(tracks)
}

func (m *peerManager) CreateConnection(h ports.PeerHandlers) error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	m.mu.Lock()
	old := m.pc
	m.gen++
	gen := m.gen
	m.pc = pc
	m.handlers = h
	m.remoteApplied = false
	m.pending = nil
	m.remote = make(map[domain.MediaKind]domain.TrackInfo)
	m.mu.Unlock()

	if old != nil {
		closePeerConnection(old, m.logger)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			m.logger.Debugw("ICE gathering complete")
			return
		}
		if !m.isCurrent(gen) || h.OnLocalCandidate == nil {
			return
		}
		h.OnLocalCandidate(fromICECandidateInit(c.ToJSON()))
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		tracks, ok := m.addRemoteTrack(gen, track)
		if !ok {
			return
		}
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			m.requestKeyframe(pc, track)
		}
		go m.drain(track)
		if h.OnRemoteStream != nil {
			h.OnRemoteStream(tracks)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		m.logger.Infow("ICE connection state changed", "state", state.String())
		if m.isCurrent(gen) && h.OnICEState != nil {
			h.OnICEState(state)
		}
	})

	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		if m.isCurrent(gen) && h.OnSignalingState != nil {
			h.OnSignalingState(state)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if m.isCurrent(gen) && h.OnDataChannel != nil {
			h.OnDataChannel(dc)
		}
	})

	return nil
}

func (m *peerManager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen && m.pc != nil
}

func (m *peerManager) current() (*webrtc.PeerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pc == nil {
		return nil, fmt.Errorf("%w: no peer connection", domain.ErrInvalidState)
	}
	return m.pc, nil
}

// AttachLocalMedia adds every local track and a receive-only transceiver for
// each kind without one, so the remote side's audio and video still arrive.
func (m *peerManager) AttachLocalMedia() error {
	pc, err := m.current()
	if err != nil {
		return err
	}

	m.mu.Lock()
	local := append([]*LocalTrack(nil), m.local...)
	m.mu.Unlock()

	have := make(map[domain.MediaKind]bool, 2)
	for _, t := range local {
		sender, err := pc.AddTrack(t.Track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind, err)
		}
		have[t.Kind] = true
		go readRTCP(sender)
	}

	for _, kind := range []domain.MediaKind{domain.MediaVideo, domain.MediaAudio} {
		if have[kind] {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recvonly %s transceiver: %w", kind, err)
		}
		m.logger.Debugw("No local track, receiving only", "kind", kind)
	}
	return nil
}

// readRTCP drains sender reports so interceptors keep running.
func readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (m *peerManager) CreateDataChannel(label string) (ports.DataChannel, error) {
	pc, err := m.current()
	if err != nil {
		return nil, err
	}
	ordered := true
	dc, err := pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel %q: %w", label, err)
	}
	return dc, nil
}

func (m *peerManager) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	pc, err := m.current()
	if err != nil {
		return domain.SessionDescription{}, err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return fromSessionDescription(offer), nil
}

func (m *peerManager) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	pc, err := m.current()
	if err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return fromSessionDescription(answer), nil
}

func (m *peerManager) LocalDescription() *domain.SessionDescription {
	pc, err := m.current()
	if err != nil {
		return nil
	}
	ld := pc.LocalDescription()
	if ld == nil {
		return nil
	}
	sd := fromSessionDescription(*ld)
	return &sd
}

func (m *peerManager) ApplyRemoteDescription(sd domain.SessionDescription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil {
		return false, fmt.Errorf("%w: no peer connection", domain.ErrInvalidState)
	}
	if m.remoteApplied {
		m.logger.Debugw("Remote description already set, ignoring", "type", sd.Type)
		return false, nil
	}

	if err := m.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(string(sd.Type)),
		SDP:  sd.SDP,
	}); err != nil {
		return false, fmt.Errorf("set remote %s: %w", sd.Type, err)
	}
	m.remoteApplied = true

	pending := m.pending
	m.pending = nil
	for _, c := range pending {
		if err := m.pc.AddICECandidate(toICECandidateInit(c)); err != nil {
			m.logger.Warnw("Dropping queued remote candidate", "error", err)
		}
	}
	if len(pending) > 0 {
		m.logger.Debugw("Applied queued remote candidates", "count", len(pending))
	}
	return true, nil
}

func (m *peerManager) HasRemoteDescription() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteApplied
}

func (m *peerManager) AddRemoteCandidate(c domain.Candidate) error {
	if c.Candidate == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil {
		return fmt.Errorf("%w: no peer connection", domain.ErrInvalidState)
	}
	if !m.remoteApplied {
		m.pending = append(m.pending, c)
		return nil
	}
	if err := m.pc.AddICECandidate(toICECandidateInit(c)); err != nil {
		return fmt.Errorf("add remote candidate: %w", err)
	}
	return nil
}

func (m *peerManager) SetTrackEnabled(kind domain.MediaKind, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for _, t := range m.local {
		if t.Kind == kind {
			t.SetEnabled(enabled)
			found = true
		}
	}
	return found
}

func (m *peerManager) LocalTracks() []domain.TrackInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return trackInfos(m.local)
}

func (m *peerManager) RemoteTracks() []domain.TrackInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteSnapshot()
}

// addRemoteTrack records t as the remote track of its kind, replacing an
// earlier one. It returns the resulting remote stream.
func (m *peerManager) addRemoteTrack(gen uint64, t RemoteTrack) ([]domain.TrackInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.pc == nil {
		return nil, false
	}
	kind := domain.MediaKind(t.Kind().String())
	m.remote[kind] = domain.TrackInfo{ID: t.ID(), Kind: kind, Enabled: true}
	return m.remoteSnapshot(), true
}

func (m *peerManager) remoteSnapshot() []domain.TrackInfo {
	out := make([]domain.TrackInfo, 0, len(m.remote))
	for _, info := range m.remote {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func (m *peerManager) requestKeyframe(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
	if err != nil {
		m.logger.Debugw("PLI write failed", "track_id", track.ID(), "error", err)
	}
}

func (m *peerManager) drain(track *webrtc.TrackRemote) {
	kind := domain.MediaKind(track.Kind().String())
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if m.cfg.PacketSink != nil {
			m.cfg.PacketSink.WritePacket(kind, pkt)
		}
	}
}

func (m *peerManager) ResetNegotiation() {
	m.mu.Lock()
	pc := m.pc
	m.pc = nil
	m.gen++
	m.remoteApplied = false
	m.pending = nil
	m.remote = make(map[domain.MediaKind]domain.TrackInfo)
	m.mu.Unlock()

	if pc != nil {
		closePeerConnection(pc, m.logger)
	}
}

func (m *peerManager) Release() {
	m.ResetNegotiation()

	m.mu.Lock()
	local := m.local
	m.local = nil
	m.mu.Unlock()

	stopAll(local)
}

func closePeerConnection(pc *webrtc.PeerConnection, logger *zap.SugaredLogger) {
	if err := pc.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		logger.Debugw("Peer connection close failed", "error", err)
	}
}

func trackInfos(tracks []*LocalTrack) []domain.TrackInfo {
	out := make([]domain.TrackInfo, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.Info())
	}
	return out
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.MediaVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func fromSessionDescription(sd webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPType(sd.Type.String()), SDP: sd.SDP}
}

func fromICECandidateInit(c webrtc.ICECandidateInit) domain.Candidate {
	return domain.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func toICECandidateInit(c domain.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
