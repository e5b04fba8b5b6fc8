// Package resilience wraps the mailbox driver with the fault-tolerance
// pattern spec §6 expects from any external-service call: a circuit breaker
// guarding against a wedged mailbox backend, plus bounded retry for
// transient transport failures. The LLM client guards itself the same way
// with sony/gobreaker (internal/llm); this package uses a hand-rolled
// breaker instead, since the mailbox driver is a plain domain.MailboxDriver
// and never touches an OpenAI-shaped client.
package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// State is the circuit breaker's state machine position.
type State int32

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

// Errors returned by the breaker itself, distinct from the wrapped call's
// own errors.
var (
	ErrOpen           = errors.New("mailbox circuit breaker is open")
	ErrTooManyRequest = errors.New("too many requests in half-open state")
)

// Config holds the breaker's thresholds.
type Config struct {
	Name               string
	FailureThreshold   int
	SuccessThreshold   int
	Timeout            time.Duration
	MaxHalfOpenRequest int
}

// DefaultConfig returns sane defaults for a breaker named for the call it
// guards.
func DefaultConfig(name string) Config {
	return Config{
		Name:               name,
		FailureThreshold:   5,
		SuccessThreshold:   2,
		Timeout:            30 * time.Second,
		MaxHalfOpenRequest: 1,
	}
}

// Breaker implements the circuit breaker pattern around a single external
// dependency. Safe for concurrent use.
type Breaker struct {
	name string

	state            int32
	failureCount     int32
	successCount     int32
	halfOpenRequests int32

	failureThreshold   int
	successThreshold   int
	timeout            time.Duration
	maxHalfOpenRequest int

	lastFailureTime time.Time
	mu              sync.RWMutex

	onStateChange func(name string, from, to State)
}

// New constructs a Breaker from cfg, filling zero fields from DefaultConfig.
func New(cfg Config) *Breaker {
	d := DefaultConfig(cfg.Name)
	if cfg.FailureThreshold > 0 {
		d.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.SuccessThreshold > 0 {
		d.SuccessThreshold = cfg.SuccessThreshold
	}
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	if cfg.MaxHalfOpenRequest > 0 {
		d.MaxHalfOpenRequest = cfg.MaxHalfOpenRequest
	}
	return &Breaker{
		name:               d.Name,
		state:              int32(StateClosed),
		failureThreshold:   d.FailureThreshold,
		successThreshold:   d.SuccessThreshold,
		timeout:            d.Timeout,
		maxHalfOpenRequest: d.MaxHalfOpenRequest,
	}
}

// OnStateChange registers a callback fired whenever the state transitions,
// for the healthsrv /metrics surface to observe.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// State returns the current state.
func (b *Breaker) State() State {
	return State(atomic.LoadInt32(&b.state))
}

// Execute runs fn with circuit breaker protection, returning ErrOpen or
// ErrTooManyRequest without calling fn if the breaker is tripped.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	b.afterRequest(err)
	return err
}

func (b *Breaker) beforeRequest() error {
	switch b.State() {
	case StateClosed:
		return nil

	case StateOpen:
		b.mu.RLock()
		lastFailure := b.lastFailureTime
		b.mu.RUnlock()
		if time.Since(lastFailure) > b.timeout {
			b.setState(StateHalfOpen)
			atomic.StoreInt32(&b.halfOpenRequests, 0)
			atomic.StoreInt32(&b.successCount, 0)
			return nil
		}
		return ErrOpen

	case StateHalfOpen:
		current := atomic.AddInt32(&b.halfOpenRequests, 1)
		if int(current) > b.maxHalfOpenRequest {
			atomic.AddInt32(&b.halfOpenRequests, -1)
			return ErrTooManyRequest
		}
		return nil
	}
	return nil
}

func (b *Breaker) afterRequest(err error) {
	state := b.State()
	if err != nil {
		b.recordFailure()
		switch state {
		case StateClosed:
			if int(atomic.LoadInt32(&b.failureCount)) >= b.failureThreshold {
				b.setState(StateOpen)
			}
		case StateHalfOpen:
			b.setState(StateOpen)
			atomic.AddInt32(&b.halfOpenRequests, -1)
		}
		return
	}

	b.recordSuccess()
	if state == StateHalfOpen {
		atomic.AddInt32(&b.halfOpenRequests, -1)
		if int(atomic.LoadInt32(&b.successCount)) >= b.successThreshold {
			b.setState(StateClosed)
		}
	}
}

func (b *Breaker) recordFailure() {
	atomic.AddInt32(&b.failureCount, 1)
	atomic.StoreInt32(&b.successCount, 0)
	b.mu.Lock()
	b.lastFailureTime = time.Now()
	b.mu.Unlock()
}

func (b *Breaker) recordSuccess() {
	atomic.AddInt32(&b.successCount, 1)
	if b.State() == StateClosed {
		atomic.StoreInt32(&b.failureCount, 0)
	}
}

func (b *Breaker) setState(newState State) {
	oldState := State(atomic.SwapInt32(&b.state, int32(newState)))
	if oldState == newState {
		return
	}
	atomic.StoreInt32(&b.failureCount, 0)
	atomic.StoreInt32(&b.successCount, 0)

	b.mu.RLock()
	cb := b.onStateChange
	b.mu.RUnlock()
	if cb != nil {
		cb(b.name, oldState, newState)
	}
}

// ctxErr reports whether ctx itself has already ended, to distinguish a
// caller-cancelled fetch from a real breaker/transport failure.
func ctxErr(ctx context.Context) error {
	return ctx.Err()
}
