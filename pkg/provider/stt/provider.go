// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider recognizes one complete, already end-pointed utterance per call.
// Silence detection and device handling live in the capture layer; a
// provider only turns WAV audio into text. "Nothing intelligible was said"
// is an expected outcome and is reported as [StatusNoMatch], never as an
// error. Errors mean the service itself could not be used.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/chytonpide/chipi/pkg/audio"
)

// Utterance is one end-pointed stretch of speech.
type Utterance struct {
	// WAV is the utterance as a RIFF/WAV file with 16-bit PCM.
	WAV []byte

	// Format is the PCM format inside WAV.
	Format audio.Format

	// Language is a BCP-47 tag such as "ko-KR". Empty means provider default.
	Language string
}

// Status is the outcome class of a recognition.
type Status int

const (
	// StatusNoMatch means no speech could be recognized.
	StatusNoMatch Status = iota

	// StatusRecognized means Text holds the transcript.
	StatusRecognized
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusRecognized:
		return "recognized"
	case StatusNoMatch:
		return "no_match"
	default:
		return "unknown"
	}
}

// Recognition is the result of a successful Recognize call.
type Recognition struct {
	Status Status

	// Text is the transcript. Empty unless Status is StatusRecognized.
	Text string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Recognize transcribes u. A non-nil error means the service was
	// unreachable or rejected the request.
	Recognize(ctx context.Context, u Utterance) (Recognition, error)
}
