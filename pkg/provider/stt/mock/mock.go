// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to script recognition outcomes and to inspect which
// utterances were submitted.
//
// Example:
//
//	p := &mock.Provider{Results: []stt.Recognition{
//	    {Status: stt.StatusRecognized, Text: "안녕"},
//	}}
//	rec, _ := p.Recognize(ctx, utterance)
package mock

import (
	"context"
	"sync"

	"github.com/chytonpide/chipi/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order by successive Recognize calls. Once
	// exhausted, the last element is repeated. If empty, StatusNoMatch is
	// returned.
	Results []stt.Recognition

	// RecognizeErr, if non-nil, is returned by Recognize.
	RecognizeErr error

	// Utterances records every utterance passed to Recognize.
	Utterances []stt.Utterance
}

var _ stt.Provider = (*Provider)(nil)

// Recognize records the call and returns the next scripted result.
func (p *Provider) Recognize(_ context.Context, u stt.Utterance) (stt.Recognition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Utterances = append(p.Utterances, u)
	if p.RecognizeErr != nil {
		return stt.Recognition{}, p.RecognizeErr
	}
	if len(p.Results) == 0 {
		return stt.Recognition{Status: stt.StatusNoMatch}, nil
	}
	r := p.Results[0]
	if len(p.Results) > 1 {
		p.Results = p.Results[1:]
	}
	return r, nil
}

// Calls returns the number of Recognize calls.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Utterances)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Utterances = nil
}
