package resilience

import (
	"context"
	"errors"

	"github.com/chytonpide/chipi/pkg/provider/llm"
	"github.com/chytonpide/chipi/pkg/provider/stt"
	"github.com/chytonpide/chipi/pkg/provider/tts"
)

// ─── LLM ─────────────────────────────────────────────────────────────────────

// LLMFallback implements [llm.Provider] over a [Group] of LLM backends.
type LLMFallback struct {
	group *Group[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. Every error fails over.
func NewLLMFallback(name string, primary llm.Provider, cfg BreakerConfig) *LLMFallback {
	return &LLMFallback{group: NewGroup(name, primary, GroupConfig{Breaker: cfg})}
}

// AddFallback registers another backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.Add(name, p) }

// Group exposes the underlying group for health reporting.
func (f *LLMFallback) Group() *Group[llm.Provider] { return f.group }

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Model returns the primary backend's model.
func (f *LLMFallback) Model() string { return f.group.Primary().Model() }

// ─── STT ─────────────────────────────────────────────────────────────────────

// STTFallback implements [stt.Provider] over a [Group] of recognizers.
type STTFallback struct {
	group *Group[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback]. Every error fails over; a
// no-match answer is a success and does not.
func NewSTTFallback(name string, primary stt.Provider, cfg BreakerConfig) *STTFallback {
	return &STTFallback{group: NewGroup(name, primary, GroupConfig{Breaker: cfg})}
}

// AddFallback registers another recognizer.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.Add(name, p) }

// Group exposes the underlying group for health reporting.
func (f *STTFallback) Group() *Group[stt.Provider] { return f.group }

// Recognize transcribes u with the first healthy recognizer.
func (f *STTFallback) Recognize(ctx context.Context, u stt.Utterance) (stt.Recognition, error) {
	return Do(f.group, func(p stt.Provider) (stt.Recognition, error) {
		return p.Recognize(ctx, u)
	})
}

// ─── TTS ─────────────────────────────────────────────────────────────────────

// TTSFallback implements [tts.Provider] over a [Group] of synthesizers.
//
// Only provider errors fail over. A timeout is returned as is: the user is
// already waiting and a second slow request would double the silence.
type TTSFallback struct {
	group *Group[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// synthesizer.
func NewTTSFallback(name string, primary tts.Provider, cfg BreakerConfig) *TTSFallback {
	return &TTSFallback{group: NewGroup(name, primary, GroupConfig{
		Breaker:  cfg,
		Failover: synthesisFailover,
	})}
}

func synthesisFailover(err error) bool {
	var se *tts.SynthesisError
	if errors.As(err, &se) {
		return se.Reason == tts.ReasonProviderError
	}
	return false
}

// AddFallback registers another synthesizer.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.Add(name, p) }

// Group exposes the underlying group for health reporting.
func (f *TTSFallback) Group() *Group[tts.Provider] { return f.group }

// Synthesize renders req with the first healthy synthesizer. The error is
// always a *tts.SynthesisError, even when every breaker was open.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	res, err := Do(f.group, func(p tts.Provider) (*tts.SynthesisResult, error) {
		return p.Synthesize(ctx, req)
	})
	if err == nil {
		return res, nil
	}
	var se *tts.SynthesisError
	if errors.As(err, &se) {
		return nil, err
	}
	return nil, tts.ProviderError("fallback", "no synthesizer available", err)
}

// ListVoices returns the voices of the first healthy synthesizer.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return Do(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
