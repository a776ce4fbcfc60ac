package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peercall/pkg/utils"
)

// ErrOpen is returned without calling through while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold successes while half-open close it again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// MaxProbes bounds concurrent calls while half-open.
	MaxProbes int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		MaxProbes:        1,
	}
}

// Breaker fails fast after repeated failures of a downstream call.
type Breaker struct {
	cfg   Config
	clock utils.Clock

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time

	onStateChange func(from, to State)
}

func New(cfg Config, clock utils.Clock) *Breaker {
	if clock == nil {
		clock = utils.RealClock()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = 1
	}
	return &Breaker{cfg: cfg, clock: clock}
}

// OnStateChange registers fn, called synchronously after each transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Execute runs fn unless the breaker is open. Context cancellation is not
// counted as a failure of the downstream.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	switch {
	case err == nil:
		b.record(true)
	case ctx.Err() != nil:
		b.release()
	default:
		b.record(false)
	}
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	var from State
	changed := false

	if b.state == StateOpen {
		if b.clock.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return fmt.Errorf("%w: retry after %s", ErrOpen, b.cfg.Cooldown)
		}
		from, changed = b.transition(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.cfg.MaxProbes {
			b.mu.Unlock()
			return fmt.Errorf("%w: probe in flight", ErrOpen)
		}
		b.probes++
	}
	fn := b.onStateChange
	b.mu.Unlock()

	if changed && fn != nil {
		fn(from, StateHalfOpen)
	}
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}
	b.mu.Unlock()
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	var from, to State
	changed := false

	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}

	if ok {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				to = StateClosed
				from, changed = b.transition(to)
			}
		}
	} else {
		b.successes = 0
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			to = StateOpen
			from, changed = b.transition(to)
		}
	}
	fn := b.onStateChange
	b.mu.Unlock()

	if changed && fn != nil {
		fn(from, to)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) (State, bool) {
	from := b.state
	if from == to {
		return from, false
	}
	b.state = to
	b.failures, b.successes, b.probes = 0, 0, 0
	if to == StateOpen {
		b.openedAt = b.clock.Now()
	}
	return from, true
}
