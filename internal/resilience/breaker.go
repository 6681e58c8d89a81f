// Package resilience guards remote providers with circuit breakers and
// ordered failover.
//
// A [Breaker] is a three-state circuit breaker (closed, open, half-open).
// A [Group] keeps one breaker per provider and walks the providers in
// registration order until one succeeds. The LLM, STT and TTS wrappers in
// this package implement the provider interfaces on top of a Group so the
// rest of the agent never knows how many backends are configured.
//
// A Group never retries the same provider inside one call.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown ends.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through. One
	// failure re-opens the breaker; enough successes close it.
	StateHalfOpen
)

// String returns the lower-case name of the state.
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

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration

	// TrialCalls is the number of successful half-open calls that close the
	// breaker. Default: 1.
	TrialCalls int

	// OnStateChange, if set, is called after every transition with the
	// breaker's mutex released.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.TrialCalls <= 0 {
		c.TrialCalls = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	successes int
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults()}
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Execute runs fn unless the breaker is open. The error of fn is returned
// unchanged and counted as a failure.
func (b *Breaker) Execute(fn func() error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(trial, err)
	return err
}

// admit decides whether a call may proceed.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.inFlight = 0
		b.successes = 0
	case StateHalfOpen:
		if b.inFlight >= b.cfg.TrialCalls {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
	}
	trial = b.state == StateHalfOpen
	if trial {
		b.inFlight++
	}
	to := b.state
	b.mu.Unlock()

	b.changed(from, to)
	return trial, nil
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	from := b.state
	switch {
	case err != nil && trial:
		b.trip()
	case err != nil:
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.trip()
		}
	case trial:
		b.inFlight--
		b.successes++
		if b.successes >= b.cfg.TrialCalls {
			b.state = StateClosed
			b.failures = 0
		}
	default:
		b.failures = 0
	}
	to := b.state
	b.mu.Unlock()

	b.changed(from, to)
}

// trip opens the breaker. b.mu must be held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.cfg.Now()
	b.failures = 0
	b.inFlight = 0
	b.successes = 0
}

func (b *Breaker) changed(from, to State) {
	if from == to {
		return
	}
	slog.Info("resilience: breaker state changed", "provider", b.cfg.Name, "from", from.String(), "to", to.String())
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the
// next Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.inFlight = 0
	b.successes = 0
	b.mu.Unlock()
	b.changed(from, StateClosed)
}
