package signal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type PushConfig struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	// ReconnectMaxDelay caps the doubling wait between reconnect attempts.
	ReconnectMaxDelay time.Duration
	RequestTimeout    time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
}

func DefaultPushConfig(url string) PushConfig {
	return PushConfig{
		URL:               url,
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		ReconnectMaxDelay: 5 * time.Second,
		RequestTimeout:    10 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// PushTransport talks to the websocket relay. Requests are acknowledged by
// the relay; relayed signals arrive on Events.
type PushTransport struct {
	cfg    PushConfig
	dialer *websocket.Dialer
	logger *zap.SugaredLogger

	events chan domain.Signal
	done   chan struct{}
	seq    atomic.Uint64

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan Envelope
	room    domain.RoomID
	creator bool
	closed  bool
	// after supplies reconnect timers; nil means time.After.
	after   func(time.Duration) <-chan time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewPushTransport(cfg PushConfig, logger *zap.SugaredLogger) *PushTransport {
	return &PushTransport{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.RequestTimeout},
		logger:  logger,
		events:  make(chan domain.Signal, 64),
		done:    make(chan struct{}),
		pending: make(map[string]chan Envelope),
	}
}

var _ ports.SignalingTransport = (*PushTransport)(nil)

func (t *PushTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.ErrTransportClosed
	}
	t.mu.Unlock()

	return t.dial(ctx)
}

func (t *PushTransport) dial(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", t.cfg.URL, err)
	}

	conn.SetReadDeadline(time.Now().Add(t.cfg.PongTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(t.cfg.PongTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(t.cfg.WriteTimeout))
	})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return domain.ErrTransportClosed
	}
	old := t.conn
	t.conn = conn
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go t.readLoop(conn)

	t.logger.Infow("Connected to relay", "url", t.cfg.URL)
	return nil
}

func (t *PushTransport) readLoop(conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.connectionLost(conn, err)
			return
		}

		if env.Type == MsgAck || (env.Type == MsgError && env.ID != "") {
			t.resolve(env)
			continue
		}

		sig, err := DecodeSignal(env)
		if err != nil {
			t.logger.Warnw("Dropping relay frame", "type", env.Type, "error", err)
			continue
		}
		t.emit(sig)
	}
}

func (t *PushTransport) resolve(env Envelope) {
	t.mu.Lock()
	ch, ok := t.pending[env.ID]
	delete(t.pending, env.ID)
	t.mu.Unlock()

	if ok {
		ch <- env
	}
}

func (t *PushTransport) emit(sig domain.Signal) {
	select {
	case t.events <- sig:
	case <-t.done:
	}
}

func (t *PushTransport) connectionLost(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	pending := t.pending
	t.pending = make(map[string]chan Envelope)
	closed := t.closed
	t.mu.Unlock()

	conn.Close()
	for id, ch := range pending {
		ch <- ErrorEnvelope(id, "", domain.ErrTransportClosed)
	}
	if closed {
		return
	}

	t.logger.Warnw("Relay connection lost", "error", cause)
	go t.reconnect()
}

func (t *PushTransport) reconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	t.mu.Lock()
	room, after := t.room, t.after
	t.mu.Unlock()
	if after == nil {
		after = time.After
	}

	if t.cfg.ReconnectAttempts <= 0 {
		t.emit(domain.SignalError{RoomID: room, Err: domain.ErrTransportClosed})
		return
	}

	select {
	case <-after(t.cfg.ReconnectDelay):
	case <-ctx.Done():
		return
	}

	policy := retry.Exponential(t.cfg.ReconnectAttempts-1, t.cfg.ReconnectDelay, t.cfg.ReconnectMaxDelay)
	policy.After = after
	policy.OnRetry = func(attempt int, err error) {
		t.logger.Infow("Reconnecting to relay", "attempt", attempt, "error", err)
	}

	err := retry.Do(ctx, policy, func() error {
		if err := t.dial(ctx); err != nil {
			return err
		}
		return t.rejoin(ctx)
	})
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	t.logger.Errorw("Giving up on relay", "room_id", room, "error", err)
	t.emit(domain.SignalError{RoomID: room, Err: fmt.Errorf("%w: %v", domain.ErrTransportClosed, err)})
}

// rejoin restores room membership on a fresh connection. A creator whose
// room vanished while it was away registers it again. RoomFull is retried:
// the relay may not have released the dropped socket's seat yet.
func (t *PushTransport) rejoin(ctx context.Context) error {
	t.mu.Lock()
	room, creator := t.room, t.creator
	t.mu.Unlock()

	if room == "" {
		return nil
	}

	err := t.request(ctx, MsgJoin, room, nil)
	if errors.Is(err, domain.ErrRoomNotFound) && creator {
		err = t.request(ctx, MsgCreate, room, nil)
	}
	return err
}

func (t *PushTransport) request(ctx context.Context, typ MessageType, room domain.RoomID, payload interface{}) error {
	id := strconv.FormatUint(t.seq.Add(1), 10)
	env, err := NewEnvelope(typ, id, room, payload)
	if err != nil {
		return err
	}

	reply := make(chan Envelope, 1)

	t.mu.Lock()
	conn := t.conn
	if t.closed || conn == nil {
		t.mu.Unlock()
		return domain.ErrTransportClosed
	}
	t.pending[id] = reply
	t.mu.Unlock()

	t.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	err = conn.WriteJSON(env)
	t.writeMu.Unlock()
	if err != nil {
		t.forget(id)
		return fmt.Errorf("%w: write %s: %v", domain.ErrTransportClosed, typ, err)
	}

	timer := time.NewTimer(t.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		return r.Err()
	case <-timer.C:
		t.forget(id)
		return fmt.Errorf("%w: no reply to %s", domain.ErrSignalingTimeout, typ)
	case <-ctx.Done():
		t.forget(id)
		return ctx.Err()
	case <-t.done:
		return domain.ErrTransportClosed
	}
}

func (t *PushTransport) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *PushTransport) CreateRoom(ctx context.Context, id domain.RoomID) error {
	if err := t.request(ctx, MsgCreate, id, nil); err != nil {
		return err
	}
	t.setRoom(id, true)
	return nil
}

func (t *PushTransport) JoinRoom(ctx context.Context, id domain.RoomID) error {
	if err := t.request(ctx, MsgJoin, id, nil); err != nil {
		return err
	}
	t.setRoom(id, false)
	return nil
}

func (t *PushTransport) setRoom(id domain.RoomID, creator bool) {
	t.mu.Lock()
	t.room, t.creator = id, creator
	t.mu.Unlock()
}

func (t *PushTransport) SendOffer(ctx context.Context, id domain.RoomID, sd domain.SessionDescription) error {
	return t.request(ctx, MsgOffer, id, sd)
}

func (t *PushTransport) SendAnswer(ctx context.Context, id domain.RoomID, sd domain.SessionDescription) error {
	return t.request(ctx, MsgAnswer, id, sd)
}

func (t *PushTransport) SendCandidate(ctx context.Context, id domain.RoomID, side domain.Side, c domain.Candidate) error {
	return t.request(ctx, MsgICECandidate, id, CandidatePayload{Side: side, Candidate: c})
}

func (t *PushTransport) Leave(ctx context.Context, id domain.RoomID) error {
	t.mu.Lock()
	if t.room == id {
		t.room, t.creator = "", false
	}
	t.mu.Unlock()

	err := t.request(ctx, MsgLeave, id, nil)
	if errors.Is(err, domain.ErrTransportClosed) {
		return nil
	}
	return err
}

func (t *PushTransport) Events() <-chan domain.Signal { return t.events }

func (t *PushTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn := t.conn
		t.mu.Unlock()

		close(t.done)
		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(t.cfg.WriteTimeout))
			conn.Close()
		}
	})
	return nil
}
