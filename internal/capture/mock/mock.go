// Package mock provides a scripted capture.Listener for tests.
package mock

import (
	"context"
	"sync"

	"github.com/chytonpide/chipi/internal/capture"
)

// Listener returns scripted results in order. When the script is exhausted
// it blocks until ctx is done and then returns a canceled result, so a test
// driving a loop can end it by cancelling the context.
type Listener struct {
	mu sync.Mutex

	// Results are returned by successive Listen calls.
	Results []capture.Result

	// Timeouts records the timeouts passed to every Listen call.
	Timeouts []capture.Timeouts
}

var _ capture.Listener = (*Listener)(nil)

// Listen implements capture.Listener.
func (l *Listener) Listen(ctx context.Context, t capture.Timeouts) capture.Result {
	l.mu.Lock()
	l.Timeouts = append(l.Timeouts, t)
	if len(l.Results) > 0 {
		r := l.Results[0]
		l.Results = l.Results[1:]
		l.mu.Unlock()
		return r
	}
	l.mu.Unlock()

	<-ctx.Done()
	return capture.Canceled(ctx.Err())
}

// Calls returns the number of Listen calls.
func (l *Listener) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Timeouts)
}
