// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return a controlled clip or failure and to verify the
// SynthesisRequest each caller built.
//
// Example:
//
//	p := &mock.Provider{Result: &tts.SynthesisResult{Audio: []byte("a"), Container: audio.ContainerMP3}}
//	res, _ := p.Synthesize(ctx, req)
//	got := p.Requests()[0]
package mock

import (
	"context"
	"sync"

	"github.com/chytonpide/chipi/pkg/audio"
	"github.com/chytonpide/chipi/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the SynthesisRequest passed to Synthesize.
	Req tts.SynthesisRequest
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Synthesize when SynthesizeErr is nil. If nil, a
	// one-byte MP3 clip is returned.
	Result *tts.SynthesisResult

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls counts calls to ListVoices.
	ListVoicesCalls int
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns Result or SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &tts.SynthesisResult{Audio: []byte{0}, Container: audio.ContainerMP3}, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Requests returns a snapshot of every request passed to Synthesize.
func (p *Provider) Requests() []tts.SynthesisRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tts.SynthesisRequest, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Req
	}
	return out
}

// SetError replaces SynthesizeErr under the lock.
func (p *Provider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeErr = err
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}
