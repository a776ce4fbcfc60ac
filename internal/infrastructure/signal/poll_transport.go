package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/utils"
	"peercall/pkg/validation"

	"go.uber.org/zap"
)

type PollConfig struct {
	BaseURL        string
	Interval       time.Duration
	Attempts       int
	RequestTimeout time.Duration
}

func DefaultPollConfig(baseURL string) PollConfig {
	return PollConfig{
		BaseURL:        baseURL,
		Interval:       time.Second,
		Attempts:       60,
		RequestTimeout: 10 * time.Second,
	}
}

// PollTransport writes signals to the store-and-poll endpoint and polls for
// the peer's. An awaited offer or answer that does not show up within
// Attempts polls is reported as a SignalError wrapping ErrSignalingTimeout.
type PollTransport struct {
	cfg      PollConfig
	endpoint string
	client   *http.Client
	clock    utils.Clock
	logger   *zap.SugaredLogger

	events chan domain.Signal

	mu       sync.Mutex
	root     context.Context
	stop     context.CancelFunc
	watchers context.CancelFunc
	wg       sync.WaitGroup
}

func NewPollTransport(cfg PollConfig, clock utils.Clock, logger *zap.SugaredLogger) *PollTransport {
	if clock == nil {
		clock = utils.RealClock()
	}
	root, stop := context.WithCancel(context.Background())
	return &PollTransport{
		cfg:      cfg,
		endpoint: endpointURL(cfg.BaseURL),
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		clock:    clock,
		logger:   logger,
		events:   make(chan domain.Signal, 64),
		root:     root,
		stop:     stop,
	}
}

var _ ports.SignalingTransport = (*PollTransport)(nil)

func endpointURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Path == "" || u.Path == "/" {
		return base + "/api/signaling"
	}
	return base
}

func (t *PollTransport) Connect(ctx context.Context) error {
	if err := validation.ValidateURL(t.endpoint); err != nil {
		return err
	}
	if t.root.Err() != nil {
		return domain.ErrTransportClosed
	}
	return nil
}

func (t *PollTransport) CreateRoom(ctx context.Context, id domain.RoomID) error {
	_, err := t.post(ctx, ActionCreate, id, nil)
	return err
}

func (t *PollTransport) JoinRoom(ctx context.Context, id domain.RoomID) error {
	if _, err := t.post(ctx, ActionJoin, id, nil); err != nil {
		return err
	}

	watch := t.restartWatchers()
	t.spawn(func() { t.awaitDescription(watch, id, domain.SideOffer) })
	t.spawn(func() { t.pollCandidates(watch, id, domain.SideOffer) })
	return nil
}

func (t *PollTransport) SendOffer(ctx context.Context, id domain.RoomID, sd domain.SessionDescription) error {
	if _, err := t.post(ctx, ActionOffer, id, sd); err != nil {
		return err
	}

	watch := t.restartWatchers()
	t.spawn(func() { t.awaitDescription(watch, id, domain.SideAnswer) })
	t.spawn(func() { t.pollCandidates(watch, id, domain.SideAnswer) })
	return nil
}

func (t *PollTransport) SendAnswer(ctx context.Context, id domain.RoomID, sd domain.SessionDescription) error {
	_, err := t.post(ctx, ActionAnswer, id, sd)
	return err
}

func (t *PollTransport) SendCandidate(ctx context.Context, id domain.RoomID, side domain.Side, c domain.Candidate) error {
	_, err := t.post(ctx, ActionICECandidate, id, PollCandidate{Type: side, Candidate: c})
	return err
}

// Leave stops polling. The endpoint has no membership to release; the room
// ages out on the server.
func (t *PollTransport) Leave(ctx context.Context, id domain.RoomID) error {
	t.mu.Lock()
	if t.watchers != nil {
		t.watchers()
		t.watchers = nil
	}
	t.mu.Unlock()
	return nil
}

func (t *PollTransport) Events() <-chan domain.Signal { return t.events }

func (t *PollTransport) Close() error {
	t.stop()
	t.wg.Wait()
	return nil
}

func (t *PollTransport) restartWatchers() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.watchers != nil {
		t.watchers()
	}
	ctx, cancel := context.WithCancel(t.root)
	t.watchers = cancel
	return ctx
}

func (t *PollTransport) spawn(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

func (t *PollTransport) emit(ctx context.Context, sig domain.Signal) {
	select {
	case t.events <- sig:
	case <-ctx.Done():
	}
}

// wait blocks for one poll interval. It returns false once ctx is done.
func (t *PollTransport) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-t.clock.After(t.cfg.Interval):
		return true
	}
}

// awaitDescription polls for the description produced by side until it
// appears, the room disappears or the attempt budget runs out.
func (t *PollTransport) awaitDescription(ctx context.Context, id domain.RoomID, side domain.Side) {
	action := ActionGetOffer
	if side == domain.SideAnswer {
		action = ActionGetAnswer
	}

	for attempt := 0; attempt < t.cfg.Attempts; attempt++ {
		if attempt > 0 && !t.wait(ctx) {
			return
		}

		var sd *domain.SessionDescription
		err := t.get(ctx, action, id, "", &sd)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, domain.ErrRoomNotFound):
			t.emit(ctx, domain.SignalError{RoomID: id, Err: err})
			return
		case err != nil:
			t.logger.Debugw("Poll failed", "action", action, "room_id", id, "attempt", attempt+1, "error", err)
			continue
		case sd == nil || sd.SDP == "":
			continue
		}

		if side == domain.SideOffer {
			t.emit(ctx, domain.Offer{RoomID: id, Description: *sd})
		} else {
			t.emit(ctx, domain.Answer{RoomID: id, Description: *sd})
		}
		return
	}

	t.logger.Warnw("Gave up polling", "action", action, "room_id", id, "attempts", t.cfg.Attempts)
	t.emit(ctx, domain.SignalError{
		RoomID: id,
		Err:    fmt.Errorf("%w: no %s after %d polls", domain.ErrSignalingTimeout, side, t.cfg.Attempts),
	})
}

// pollCandidates forwards the peer's candidates as they accumulate. It keeps
// polling for the whole budget since trickle ICE continues after the
// description is exchanged.
func (t *PollTransport) pollCandidates(ctx context.Context, id domain.RoomID, side domain.Side) {
	seen := 0
	for attempt := 0; attempt < t.cfg.Attempts; attempt++ {
		if attempt > 0 && !t.wait(ctx) {
			return
		}

		var candidates []domain.Candidate
		err := t.get(ctx, ActionGetICECandidates, id, side, &candidates)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, domain.ErrRoomNotFound):
			return
		case err != nil:
			continue
		}

		if len(candidates) < seen {
			// the peer started a new round
			seen = 0
		}
		for _, c := range candidates[seen:] {
			t.emit(ctx, domain.ICECandidate{RoomID: id, Side: side, Candidate: c})
		}
		seen = len(candidates)
	}
}

func (t *PollTransport) post(ctx context.Context, action string, id domain.RoomID, data interface{}) (*PollResponse, error) {
	body := PollRequest{Action: action, RoomID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", action, err)
		}
		body.Data = raw
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return t.do(req)
}

func (t *PollTransport) get(ctx context.Context, action string, id domain.RoomID, side domain.Side, out interface{}) error {
	q := url.Values{}
	q.Set("action", action)
	q.Set("roomId", string(id))
	if side != "" {
		q.Set("type", string(side))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := t.do(req)
	if err != nil {
		return err
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%w: %s data: %v", domain.ErrInvalidMessage, action, err)
	}
	return nil
}

func (t *PollTransport) do(req *http.Request) (*PollResponse, error) {
	res, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var resp PollResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode signaling response (status %d): %w", res.StatusCode, err)
	}
	if resp.Success {
		return &resp, nil
	}

	if resp.Code == "" {
		switch res.StatusCode {
		case http.StatusNotFound:
			resp.Code = domain.CodeRoomNotFound
		case http.StatusConflict:
			resp.Code = domain.CodeRoomAlreadyExists
		case http.StatusTooManyRequests:
			resp.Code = domain.CodeRateLimited
		}
	}
	return nil, resp.Err()
}
