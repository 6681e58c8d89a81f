// Package tts defines the Provider interface for text-to-speech backends and
// the provider-neutral request and failure types they share.
//
// A provider turns one [SynthesisRequest] into one complete audio clip. It
// calls the remote service exactly once per Synthesize call and never
// retries; a failed call is reported as a [*SynthesisError] whose Reason
// tells the caller whether the service timed out or rejected the request.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/chytonpide/chipi/pkg/audio"
)

// SynthesisResult is a successfully synthesized clip.
type SynthesisResult struct {
	// Audio is the complete encoded clip.
	Audio []byte

	// Container is the encoding of Audio.
	Container audio.Container

	// SampleRate is the declared sample rate in Hz, when known.
	SampleRate int
}

// VoiceProfile describes a voice offered by a provider.
type VoiceProfile struct {
	// ID is the provider-specific identifier passed as SynthesisRequest.VoiceID.
	ID string

	// Name is a human-readable label.
	Name string

	// Provider names the backend that owns the voice.
	Provider string

	// Locale is the BCP-47 locale, e.g. "ko-KR".
	Locale string

	// Styles lists the expressive styles the voice supports, if reported.
	Styles []string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req into a clip. On failure the result is nil and
	// the error is a *SynthesisError.
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error)

	// ListVoices returns the voices available to the configured account.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
