package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no member of a [Group] produced a result.
var ErrAllFailed = errors.New("resilience: all providers failed")

// GroupConfig configures a [Group].
type GroupConfig struct {
	// Breaker is the template for every member's breaker. Name is replaced
	// with the member name.
	Breaker BreakerConfig

	// Failover decides whether an error moves the call on to the next
	// member. Nil fails over on every error. An error for which Failover
	// returns false is returned to the caller immediately, still counted
	// against the member's breaker.
	Failover func(error) bool
}

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds a primary provider and ordered fallbacks of the same kind.
// Members must be added before the group is shared between goroutines.
type Group[T any] struct {
	members []member[T]
	cfg     GroupConfig
}

// NewGroup creates a [Group] with primary as the first member.
func NewGroup[T any](name string, primary T, cfg GroupConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a fallback member.
func (g *Group[T]) Add(name string, value T) {
	bc := g.cfg.Breaker
	bc.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewBreaker(bc)})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Primary returns the first member.
func (g *Group[T]) Primary() T { return g.members[0].value }

// Names returns the member names in order.
func (g *Group[T]) Names() []string {
	out := make([]string, len(g.members))
	for i, m := range g.members {
		out[i] = m.name
	}
	return out
}

// States returns each member's breaker state keyed by member name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Execute calls fn against each member in order until one succeeds.
func (g *Group[T]) Execute(fn func(T) error) error {
	_, err := Do(g, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// Do calls fn against each member of g in order and returns the first
// successful result. Members with an open breaker are skipped. When every
// member fails the error wraps [ErrAllFailed] and every member's error.
func Do[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Execute(func() error {
			var ferr error
			out, ferr = fn(m.value)
			return ferr
		})
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider", "provider", m.name)
			continue
		}
		if g.cfg.Failover != nil && !g.cfg.Failover(err) {
			return zero, err
		}
		if i < len(g.members)-1 {
			slog.Warn("resilience: provider failed, trying next", "provider", m.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
