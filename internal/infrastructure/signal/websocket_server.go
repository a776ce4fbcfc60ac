package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/monitoring"
	"peercall/pkg/logger"
	"peercall/pkg/tracing"
	"peercall/pkg/validation"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the relay holds no credentials; any origin may signal
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const sendBufferSize = 64

// msgMalformed marks a frame that failed to decode.
const msgMalformed MessageType = "_malformed"

type ServerConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64

	// Per-connection message limit; zero disables limiting.
	MessagesPerSecond float64
	Burst             int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// WebSocketServer is the push relay: each socket is one participant, and
// signaling frames are forwarded to the other member of the sender's room.
type WebSocketServer struct {
	rooms   ports.RoomService
	bus     ports.RelayBus
	metrics ports.SignalingMetrics
	cfg     ServerConfig

	clients map[domain.ParticipantID]*client
	mu      sync.RWMutex

	logger *zap.SugaredLogger
}

type client struct {
	id      domain.ParticipantID
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu   sync.Mutex
	room domain.RoomID
}

func (c *client) currentRoom() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *client) setRoom(id domain.RoomID) {
	c.mu.Lock()
	c.room = id
	c.mu.Unlock()
}

// enqueue never blocks; a consumer that falls this far behind loses frames.
func (c *client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func NewWebSocketServer(rooms ports.RoomService, cfg ServerConfig, metrics ports.SignalingMetrics, logger *zap.SugaredLogger) *WebSocketServer {
	if metrics == nil {
		metrics = monitoring.Nop()
	}
	return &WebSocketServer{
		rooms:   rooms,
		metrics: metrics,
		cfg:     cfg,
		clients: make(map[domain.ParticipantID]*client),
		logger:  logger,
	}
}

// SetRelayBus enables delivery to participants held by other instances.
func (s *WebSocketServer) SetRelayBus(bus ports.RelayBus) {
	s.bus = bus
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{
		id:   domain.ParticipantID(uuid.NewString()),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	if s.cfg.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.metrics.ParticipantConnected()

	s.logger.Infow("participant connected", "participant_id", c.id, "remote_addr", r.RemoteAddr)

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Envelope, 10)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				var syntaxErr *json.SyntaxError
				var typeErr *json.UnmarshalTypeError
				if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
					// malformed frame; the socket itself is still usable
					select {
					case messageChan <- Envelope{Type: msgMalformed}:
					case <-done:
						return
					}
					continue
				}
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			select {
			case messageChan <- env:
			case <-done:
				return
			}
		}
	}()

	// This loop is the only writer on conn.
	for {
		select {
		case env := <-messageChan:
			reply := s.handleMessage(r.Context(), c, env)
			if err := s.write(conn, reply); err != nil {
				s.logger.Infow("error writing reply", "participant_id", c.id, "error", err)
				goto cleanup
			}

		case frame := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Infow("error forwarding frame", "participant_id", c.id, "error", err)
				goto cleanup
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "participant_id", c.id, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from participant", "participant_id", c.id, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.metrics.ParticipantDisconnected()

	if room := c.currentRoom(); room != "" {
		s.leave(context.Background(), c, room)
	}

	s.logger.Infow("participant disconnected", "participant_id", c.id)
}

func (s *WebSocketServer) write(conn *websocket.Conn, env Envelope) error {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteJSON(env)
}

// handleMessage processes one request and returns the reply for the sender.
func (s *WebSocketServer) handleMessage(ctx context.Context, c *client, env Envelope) Envelope {
	ctx, span := tracing.TraceWebSocketMessage(ctx, string(env.Type), string(c.id), string(env.RoomID))
	defer span.End()
	ctx = logger.WithRoom(logger.WithParticipant(ctx, c.id), env.RoomID)

	if err := s.dispatch(ctx, c, env); err != nil {
		tracing.RecordError(ctx, err)
		code := domain.ErrorCode(err)
		s.metrics.SignalingError(code)
		logger.For(ctx, s.logger).Infow("signaling request failed",
			"type", env.Type,
			"code", code,
			"error", err,
		)
		return ErrorEnvelope(env.ID, env.RoomID, err)
	}
	return AckEnvelope(env.ID, env.RoomID)
}

func (s *WebSocketServer) dispatch(ctx context.Context, c *client, env Envelope) error {
	if env.Type == msgMalformed {
		return fmt.Errorf("%w: malformed frame", domain.ErrInvalidMessage)
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return domain.ErrRateLimited
	}
	if err := validation.ValidateRoomID(string(env.RoomID)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	switch env.Type {
	case MsgCreate:
		return s.handleCreate(ctx, c, env.RoomID)
	case MsgJoin:
		return s.handleJoin(ctx, c, env.RoomID)
	case MsgLeave:
		if c.currentRoom() != env.RoomID {
			return fmt.Errorf("%w: not a member of room %s", domain.ErrInvalidState, env.RoomID)
		}
		s.leave(ctx, c, env.RoomID)
		return nil
	case MsgOffer, MsgAnswer, MsgICECandidate:
		return s.handleSignal(ctx, c, env)
	default:
		return fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidMessage, env.Type)
	}
}

func (s *WebSocketServer) handleCreate(ctx context.Context, c *client, id domain.RoomID) error {
	if prev := c.currentRoom(); prev != "" && prev != id {
		s.leave(ctx, c, prev)
	}
	if _, err := s.rooms.CreateRoom(ctx, id, c.id); err != nil {
		return err
	}
	c.setRoom(id)
	return nil
}

func (s *WebSocketServer) handleJoin(ctx context.Context, c *client, id domain.RoomID) error {
	if prev := c.currentRoom(); prev != "" && prev != id {
		s.leave(ctx, c, prev)
	}
	room, err := s.rooms.JoinRoom(ctx, id, c.id)
	if err != nil {
		return err
	}
	c.setRoom(id)

	if peer, ok := room.Peer(c.id); ok {
		s.notify(ctx, peer, domain.PeerJoined{RoomID: id, Participant: c.id})
	}
	return nil
}

func (s *WebSocketServer) handleSignal(ctx context.Context, c *client, env Envelope) error {
	if c.currentRoom() != env.RoomID {
		return fmt.Errorf("%w: not a member of room %s", domain.ErrInvalidState, env.RoomID)
	}

	sig, err := DecodeSignal(env)
	if err != nil {
		return err
	}

	// Stored as well as forwarded so a store-and-poll peer can pick it up.
	switch v := sig.(type) {
	case domain.Offer:
		err = s.rooms.PublishOffer(ctx, env.RoomID, v.Description)
	case domain.Answer:
		err = s.rooms.PublishAnswer(ctx, env.RoomID, v.Description)
	case domain.ICECandidate:
		err = s.rooms.AddCandidate(ctx, env.RoomID, v.Side, v.Candidate)
	}
	if err != nil {
		return err
	}

	room, err := s.rooms.GetRoom(ctx, env.RoomID)
	if err != nil {
		return err
	}
	peer, ok := room.Peer(c.id)
	if !ok {
		s.logger.Debugw("no peer in room yet, signal stored only", "room_id", env.RoomID, "type", env.Type)
		return nil
	}

	s.notify(ctx, peer, sig)
	s.metrics.SignalRelayed(sig.Type())
	return nil
}

func (s *WebSocketServer) leave(ctx context.Context, c *client, id domain.RoomID) {
	c.setRoom("")
	room, err := s.rooms.LeaveRoom(ctx, id, c.id)
	if err != nil {
		if !errors.Is(err, domain.ErrRoomNotFound) {
			s.logger.Warnw("failed to leave room", "room_id", id, "participant_id", c.id, "error", err)
		}
		return
	}
	for _, p := range room.Participants {
		s.notify(ctx, p, domain.PeerLeft{RoomID: id, Participant: c.id})
	}
}

// notify delivers sig to target locally, or through the relay bus when
// target is held by another instance.
func (s *WebSocketServer) notify(ctx context.Context, target domain.ParticipantID, sig domain.Signal) {
	env, err := EncodeSignal(sig)
	if err != nil {
		s.logger.Errorw("failed to encode signal", "type", sig.Type(), "error", err)
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		s.logger.Errorw("failed to marshal envelope", "type", sig.Type(), "error", err)
		return
	}

	if s.deliverLocal(target, frame) {
		return
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, target, frame); err != nil {
			s.logger.Warnw("failed to publish relay frame", "target", target, "error", err)
		}
		return
	}
	s.logger.Debugw("signal target not connected", "target", target, "type", sig.Type())
}

func (s *WebSocketServer) deliverLocal(target domain.ParticipantID, frame []byte) bool {
	s.mu.RLock()
	c, ok := s.clients[target]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if !c.enqueue(frame) {
		s.logger.Warnw("send buffer full, dropping frame", "participant_id", target)
	}
	return true
}

// RunRelay consumes frames published by other instances. It blocks until
// ctx is done and is a no-op without a relay bus.
func (s *WebSocketServer) RunRelay(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Subscribe(ctx, func(target domain.ParticipantID, frame []byte) {
		s.deliverLocal(target, frame)
	})
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
