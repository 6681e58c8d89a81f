// Package mock provides a test double for brain.Backend.
package mock

import (
	"context"
	"sync"

	"github.com/chytonpide/chipi/internal/brain"
)

// Backend returns a fixed reply and records transcripts.
type Backend struct {
	mu sync.Mutex

	// Reply is returned by Submit when Err is nil.
	Reply string

	// Err, if non-nil, is returned by Submit.
	Err error

	// Transcripts records every transcript passed to Submit.
	Transcripts []string
}

var _ brain.Backend = (*Backend)(nil)

// Submit implements brain.Backend.
func (b *Backend) Submit(_ context.Context, transcript string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Transcripts = append(b.Transcripts, transcript)
	if b.Err != nil {
		return "", b.Err
	}
	return b.Reply, nil
}

// Calls returns the number of Submit calls.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Transcripts)
}
