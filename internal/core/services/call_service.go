package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/tracing"
	"peercall/pkg/utils"
	"peercall/pkg/validation"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const subscriberBuffer = 64

type CallServiceConfig struct {
	// RoomIDAttempts bounds id regeneration when a generated id is taken.
	RoomIDAttempts int
	// LeaveTimeout bounds the leave request sent while tearing down.
	LeaveTimeout time.Duration
	// NewRoomID defaults to utils.GenerateRoomID.
	NewRoomID func() domain.RoomID
}

func DefaultCallServiceConfig() CallServiceConfig {
	return CallServiceConfig{
		RoomIDAttempts: 5,
		LeaveTimeout:   2 * time.Second,
	}
}

// ChatFactory builds the chat manager for a call service. The service
// passes the callback that turns appended messages into events.
type ChatFactory func(onMessage func(domain.ChatMessage)) ports.DataChannelManager

type callService struct {
	transport ports.SignalingTransport
	peers     ports.PeerManager
	chat      ports.DataChannelManager
	cfg       CallServiceConfig
	logger    *zap.SugaredLogger

	// opMu serializes every state machine step: the room calls, hang-up and
	// each queued signal or connection callback.
	opMu        sync.Mutex
	gen         uint64
	remoteOffer string
	sent        []domain.Candidate

	mu    sync.RWMutex
	state domain.CallState
	room  domain.RoomID
	role  domain.Role

	cancelMu sync.Mutex
	session  context.Context
	cancel   context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]chan domain.CallEvent
	nextSub int

	queue *eventQueue
	root  context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
}

func NewCallService(
	transport ports.SignalingTransport,
	peers ports.PeerManager,
	newChat ChatFactory,
	cfg CallServiceConfig,
	logger *zap.SugaredLogger,
) ports.CallService {
	if cfg.RoomIDAttempts <= 0 {
		cfg.RoomIDAttempts = 1
	}
	if cfg.LeaveTimeout <= 0 {
		cfg.LeaveTimeout = 2 * time.Second
	}
	if cfg.NewRoomID == nil {
		cfg.NewRoomID = func() domain.RoomID { return domain.RoomID(utils.GenerateRoomID()) }
	}

	root, stop := context.WithCancel(context.Background())
	s := &callService{
		transport: transport,
		peers:     peers,
		cfg:       cfg,
		logger:    logger,
		state:     domain.CallIdle,
		subs:      make(map[int]chan domain.CallEvent),
		queue:     newEventQueue(),
		root:      root,
		stop:      stop,
	}
	s.chat = newChat(func(msg domain.ChatMessage) {
		s.publish(domain.CallEvent{Type: domain.EventChatMessage, Message: &msg})
	})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.queue.run(root)
	}()
	go func() {
		defer s.wg.Done()
		s.pump()
	}()
	return s
}

func (s *callService) CreateRoom(ctx context.Context) (id domain.RoomID, err error) {
	ctx, span := tracing.TraceNegotiation(ctx, "create_room", string(domain.RoleCreator))
	defer func() { tracing.End(span, err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	sess, gen := s.begin(domain.RoleCreator)
	ctx, done := joinContexts(ctx, sess)
	defer done()

	s.acquireMedia(ctx)
	if err := s.transport.Connect(ctx); err != nil {
		return "", s.abort(sess, err)
	}
	if err := s.connect(gen, domain.RoleCreator); err != nil {
		return "", s.abort(sess, err)
	}

	id, err = s.registerRoom(ctx)
	if err != nil {
		return "", s.abort(sess, err)
	}
	s.setRoom(id)
	tracing.AddSpanAttributes(ctx, tracing.RoomIDKey.String(string(id)))

	if err := s.sendOffer(ctx, id); err != nil {
		return "", s.abort(sess, err)
	}

	s.logger.Infow("Room created, waiting for peer", "room_id", id)
	s.publishState()
	return id, nil
}

func (s *callService) JoinRoom(ctx context.Context, id domain.RoomID) (err error) {
	ctx, span := tracing.TraceNegotiation(ctx, "join_room", string(domain.RoleJoiner))
	span.SetAttributes(tracing.RoomIDKey.String(string(id)))
	defer func() { tracing.End(span, err) }()

	if err := validation.ValidateRoomID(string(id)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	sess, gen := s.begin(domain.RoleJoiner)
	ctx, done := joinContexts(ctx, sess)
	defer done()

	s.acquireMedia(ctx)
	if err := s.transport.Connect(ctx); err != nil {
		return s.abort(sess, err)
	}
	if err := s.connect(gen, domain.RoleJoiner); err != nil {
		return s.abort(sess, err)
	}
	if err := s.transport.JoinRoom(ctx, id); err != nil {
		return s.abort(sess, err)
	}
	s.setRoom(id)

	s.logger.Infow("Joined room, waiting for offer", "room_id", id)
	s.publishState()
	return nil
}

func (s *callService) HangUp() {
	s.cancelSession()

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.teardown(nil)
}

func (s *callService) ToggleAudio() (bool, bool) { return s.toggle(domain.MediaAudio) }
func (s *callService) ToggleVideo() (bool, bool) { return s.toggle(domain.MediaVideo) }

func (s *callService) toggle(kind domain.MediaKind) (bool, bool) {
	for _, t := range s.peers.LocalTracks() {
		if t.Kind != kind {
			continue
		}
		enabled := !t.Enabled
		s.peers.SetTrackEnabled(kind, enabled)
		s.publish(domain.CallEvent{Type: domain.EventMediaState, Tracks: s.peers.LocalTracks()})
		return enabled, true
	}
	return false, false
}

func (s *callService) SendChat(text string) bool { return s.chat.Send(text) }

func (s *callService) State() domain.CallState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *callService) Room() (domain.RoomID, domain.Role) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room, s.role
}

func (s *callService) Messages() []domain.ChatMessage   { return s.chat.Messages() }
func (s *callService) LocalTracks() []domain.TrackInfo  { return s.peers.LocalTracks() }
func (s *callService) RemoteTracks() []domain.TrackInfo { return s.peers.RemoteTracks() }

func (s *callService) Subscribe() (<-chan domain.CallEvent, func()) {
	ch := make(chan domain.CallEvent, subscriberBuffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subMu.Unlock()
		})
	}
}

func (s *callService) Close() error {
	s.HangUp()
	s.stop()
	s.wg.Wait()
	return s.transport.Close()
}

// begin releases any previous session and starts a new one in the calling
// state. Called with opMu held.
func (s *callService) begin(role domain.Role) (context.Context, uint64) {
	if s.State() != domain.CallIdle {
		s.teardown(nil)
	}

	s.gen++
	s.remoteOffer = ""
	s.sent = nil

	sess, cancel := context.WithCancel(s.root)
	s.cancelMu.Lock()
	s.session, s.cancel = sess, cancel
	s.cancelMu.Unlock()

	s.mu.Lock()
	s.state, s.room, s.role = domain.CallCalling, "", role
	s.mu.Unlock()
	return sess, s.gen
}

func (s *callService) abort(sess context.Context, err error) error {
	if sess.Err() != nil {
		// hung up while the request was in flight
		s.teardown(nil)
		return err
	}
	s.teardown(err)
	return err
}

// teardown releases the session and returns to idle. Safe in any state.
// Called with opMu held.
func (s *callService) teardown(cause error) {
	s.cancelSession()

	s.mu.Lock()
	prev, room := s.state, s.room
	s.state, s.room, s.role = domain.CallIdle, "", domain.RoleNone
	s.mu.Unlock()

	s.gen++
	s.remoteOffer = ""
	s.sent = nil

	if room != "" {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LeaveTimeout)
		if err := s.transport.Leave(ctx, room); err != nil {
			s.logger.Debugw("Leave failed", "room_id", room, "error", err)
		}
		cancel()
	}
	s.peers.Release()
	s.chat.Cleanup()

	if cause != nil {
		s.logger.Warnw("Call failed", "room_id", room, "error", cause)
		s.publish(domain.CallEvent{Type: domain.EventError, RoomID: room, Err: cause})
	}
	if prev != domain.CallIdle {
		s.logger.Infow("Call ended", "room_id", room)
		s.publish(domain.CallEvent{Type: domain.EventStateChanged, State: domain.CallIdle, RoomID: room})
	}
}

func (s *callService) cancelSession() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *callService) sessionContext() context.Context {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.session == nil {
		return s.root
	}
	return s.session
}

func (s *callService) setRoom(id domain.RoomID) {
	s.mu.Lock()
	s.room = id
	s.mu.Unlock()
}

func (s *callService) setState(state domain.CallState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed {
		s.publishState()
	}
}

func (s *callService) publishState() {
	s.mu.RLock()
	ev := domain.CallEvent{Type: domain.EventStateChanged, State: s.state, RoomID: s.room, Role: s.role}
	s.mu.RUnlock()
	s.publish(ev)
}

func (s *callService) publish(ev domain.CallEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debugw("Dropping call event for slow subscriber", "type", ev.Type)
		}
	}
}

func (s *callService) acquireMedia(ctx context.Context) {
	tracks := s.peers.AcquireLocalMedia(ctx)
	if len(tracks) < 2 {
		s.publish(domain.CallEvent{Type: domain.EventMediaDegraded, Tracks: tracks})
	}
}

// connect builds the peer connection for generation gen. The creator owns
// the chat channel; the joiner receives it through OnDataChannel.
func (s *callService) connect(gen uint64, role domain.Role) error {
	if err := s.peers.CreateConnection(s.handlers(gen)); err != nil {
		return err
	}
	if err := s.peers.AttachLocalMedia(); err != nil {
		return err
	}
	if role != domain.RoleCreator {
		return nil
	}

	ch, err := s.peers.CreateDataChannel(domain.ChatChannelLabel)
	if err != nil {
		return err
	}
	s.chat.Setup(ch)
	return nil
}

func (s *callService) handlers(gen uint64) ports.PeerHandlers {
	return ports.PeerHandlers{
		OnLocalCandidate: func(c domain.Candidate) {
			s.enqueue(gen, func(ctx context.Context) { s.sendCandidate(ctx, c) })
		},
		OnRemoteStream: func(tracks []domain.TrackInfo) {
			s.publish(domain.CallEvent{Type: domain.EventRemoteStream, Tracks: tracks})
		},
		OnICEState: func(state webrtc.ICEConnectionState) {
			s.enqueue(gen, func(context.Context) { s.iceStateChanged(state) })
		},
		OnSignalingState: func(state webrtc.SignalingState) {
			s.logger.Debugw("Signaling state changed", "state", state.String())
		},
		OnDataChannel: func(ch ports.DataChannel) {
			s.enqueue(gen, func(context.Context) { s.chat.Setup(ch) })
		},
	}
}

// enqueue runs fn on the event loop unless the session generation moved on.
func (s *callService) enqueue(gen uint64, fn func(ctx context.Context)) {
	s.queue.push(func() {
		s.opMu.Lock()
		defer s.opMu.Unlock()
		if gen != s.gen || s.State() == domain.CallIdle {
			return
		}
		fn(s.sessionContext())
	})
}

func (s *callService) pump() {
	events := s.transport.Events()
	for {
		select {
		case <-s.root.Done():
			return
		case sig := <-events:
			s.queue.push(func() {
				s.opMu.Lock()
				defer s.opMu.Unlock()
				s.handleSignal(s.sessionContext(), sig)
			})
		}
	}
}

func (s *callService) registerRoom(ctx context.Context) (domain.RoomID, error) {
	for attempt := 1; ; attempt++ {
		id := s.cfg.NewRoomID()
		err := s.transport.CreateRoom(ctx, id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, domain.ErrRoomAlreadyExists) || attempt >= s.cfg.RoomIDAttempts {
			return "", err
		}
		s.logger.Debugw("Room id taken, regenerating", "room_id", id, "attempt", attempt)
	}
}

// sendOffer starts a negotiation round.
func (s *callService) sendOffer(ctx context.Context, room domain.RoomID) error {
	sd, err := s.peers.CreateOffer(ctx)
	if err != nil {
		return err
	}
	s.sent = nil
	return s.transport.SendOffer(ctx, room, sd)
}

func (s *callService) sendCandidate(ctx context.Context, c domain.Candidate) {
	room, role := s.Room()
	s.sent = append(s.sent, c)
	if err := s.transport.SendCandidate(ctx, room, role.Side(), c); err != nil {
		s.logger.Warnw("Failed to send local candidate", "room_id", room, "error", err)
	}
}

// renegotiate replaces the peer connection for a fresh round and keeps the
// local media.
func (s *callService) renegotiate(role domain.Role) error {
	s.chat.Detach()
	s.peers.ResetNegotiation()
	s.gen++
	s.remoteOffer = ""
	s.sent = nil
	return s.connect(s.gen, role)
}

func (s *callService) handleSignal(ctx context.Context, sig domain.Signal) {
	state := s.State()
	room, role := s.Room()
	if state == domain.CallIdle || sig.Room() != room {
		s.logger.Debugw("Dropping signal outside the session", "type", sig.Type(), "room_id", sig.Room())
		return
	}

	switch v := sig.(type) {
	case domain.Offer:
		s.handleOffer(ctx, room, role, v.Description)
	case domain.Answer:
		s.handleAnswer(role, v.Description)
	case domain.ICECandidate:
		s.handleCandidate(role, v)
	case domain.PeerJoined:
		s.handlePeerJoined(ctx, room, role)
	case domain.PeerLeft:
		s.logger.Infow("Peer left", "room_id", room, "participant_id", v.Participant)
		s.publish(domain.CallEvent{Type: domain.EventPeerLeft, RoomID: room, Role: role})
	case domain.SignalError:
		s.teardown(v.Err)
	}
}

func (s *callService) handleOffer(ctx context.Context, room domain.RoomID, role domain.Role, sd domain.SessionDescription) {
	if role != domain.RoleJoiner {
		s.logger.Warnw("Ignoring offer, the room creator never answers", "room_id", room)
		return
	}
	if sd.SDP == s.remoteOffer {
		s.logger.Debugw("Ignoring repeated offer", "room_id", room)
		return
	}
	if s.remoteOffer != "" {
		s.logger.Infow("Creator restarted negotiation", "room_id", room)
		if err := s.renegotiate(role); err != nil {
			s.teardown(err)
			return
		}
	}

	applied, err := s.peers.ApplyRemoteDescription(sd)
	if err != nil {
		s.teardown(fmt.Errorf("%w: %v", domain.ErrNegotiationConflict, err))
		return
	}
	if !applied {
		return
	}
	s.remoteOffer = sd.SDP

	answer, err := s.peers.CreateAnswer(ctx)
	if err != nil {
		s.teardown(err)
		return
	}
	s.sent = nil
	if err := s.transport.SendAnswer(ctx, room, answer); err != nil {
		s.teardown(err)
		return
	}

	s.logger.Infow("Answer sent", "room_id", room)
	s.setState(domain.CallConnected)
}

func (s *callService) handleAnswer(role domain.Role, sd domain.SessionDescription) {
	if role != domain.RoleCreator {
		s.logger.Warnw("Ignoring answer, the joiner never offers")
		return
	}

	applied, err := s.peers.ApplyRemoteDescription(sd)
	if err != nil {
		s.teardown(fmt.Errorf("%w: %v", domain.ErrNegotiationConflict, err))
		return
	}
	if !applied {
		return
	}
	s.setState(domain.CallConnected)
}

func (s *callService) handleCandidate(role domain.Role, c domain.ICECandidate) {
	if c.Side != role.Side().Opposite() {
		return
	}
	if err := s.peers.AddRemoteCandidate(c.Candidate); err != nil {
		s.logger.Warnw("Dropping remote candidate", "room_id", c.RoomID, "error", err)
	}
}

// handlePeerJoined re-offers to a peer that arrived after the offer went
// out. A peer that joins after a completed round gets a fresh round.
func (s *callService) handlePeerJoined(ctx context.Context, room domain.RoomID, role domain.Role) {
	if role != domain.RoleCreator {
		return
	}

	if !s.peers.HasRemoteDescription() {
		local := s.peers.LocalDescription()
		if local == nil {
			return
		}
		if err := s.transport.SendOffer(ctx, room, *local); err != nil {
			s.teardown(err)
			return
		}
		// publishing the offer again drops stored candidates
		for _, c := range s.sent {
			if err := s.transport.SendCandidate(ctx, room, role.Side(), c); err != nil {
				s.logger.Warnw("Failed to resend local candidate", "room_id", room, "error", err)
			}
		}
		s.logger.Infow("Peer joined, offer resent", "room_id", room, "candidates", len(s.sent))
		return
	}

	s.logger.Infow("Peer rejoined, restarting negotiation", "room_id", room)
	if err := s.renegotiate(role); err != nil {
		s.teardown(err)
		return
	}
	if err := s.sendOffer(ctx, room); err != nil {
		s.teardown(err)
		return
	}
	s.setState(domain.CallCalling)
}

func (s *callService) iceStateChanged(state webrtc.ICEConnectionState) {
	s.logger.Debugw("ICE state changed", "state", state.String())

	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		s.setState(domain.CallConnected)
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		s.teardown(fmt.Errorf("%w: ice %s", domain.ErrConnectionFailed, state))
	}
}

// joinContexts returns a context cancelled when either parent is.
func joinContexts(ctx, other context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	unlink := context.AfterFunc(other, cancel)
	return ctx, func() {
		unlink()
		cancel()
	}
}

// eventQueue is an unbounded FIFO of closures drained by one goroutine, so
// producers on pion or transport goroutines never block.
type eventQueue struct {
	mu     sync.Mutex
	items  []func()
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		}

		q.mu.Lock()
		items := q.items
		q.items = nil
		q.mu.Unlock()

		for _, fn := range items {
			fn()
		}
	}
}
