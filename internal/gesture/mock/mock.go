// Package mock provides test doubles for the gesture package.
package mock

import (
	"context"
	"sync"

	"github.com/chytonpide/chipi/internal/gesture"
)

// Actuator records every commanded value.
type Actuator struct {
	mu sync.Mutex

	// SetErr, if non-nil, is returned by SetValue.
	SetErr error

	// ReleaseErr, if non-nil, is returned by Release.
	ReleaseErr error

	// Values records every value passed to SetValue, including failed ones.
	Values []float64

	// Releases counts Release calls.
	Releases int
}

var _ gesture.Actuator = (*Actuator)(nil)

// SetValue implements gesture.Actuator.
func (a *Actuator) SetValue(v float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Values = append(a.Values, v)
	return a.SetErr
}

// Release implements gesture.Actuator.
func (a *Actuator) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Releases++
	return a.ReleaseErr
}

// Angles converts the recorded values back to degrees.
func (a *Actuator) Angles() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, len(a.Values))
	for i, v := range a.Values {
		out[i] = int((v+1)*90 + 0.5)
	}
	return out
}

// Reset clears recorded values.
func (a *Actuator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Values = nil
	a.Releases = 0
}

// Performer records motions. If Gate is set, each motion blocks until Gate is closed.
type Performer struct {
	mu sync.Mutex

	// Err is returned by Perform.
	Err error

	// Gate, if non-nil, is waited on by Perform before it returns.
	Gate chan struct{}

	// Motions records every performed motion.
	Motions []gesture.Motion
}

var _ gesture.Performer = (*Performer)(nil)

// Perform implements gesture.Performer.
func (p *Performer) Perform(ctx context.Context, m gesture.Motion) error {
	p.mu.Lock()
	p.Motions = append(p.Motions, m)
	gate, err := p.Gate, p.Err
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Performed returns a copy of the recorded motions.
func (p *Performer) Performed() []gesture.Motion {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gesture.Motion(nil), p.Motions...)
}
