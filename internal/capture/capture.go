// Package capture turns microphone audio into a transcript.
//
// A [Listener] performs one listen phase: it acquires the input device,
// waits for speech, end-points the utterance, has it recognized and releases
// the device again. The outcome is a tagged [Result]. Silence is not an
// error: it is reported as [KindAbsent] so the caller simply listens again.
// A device or network failure is reported as [KindCanceled] and never
// retried here.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRecognitionCanceled marks a listen phase that ended because the audio
// channel or the recognizer was unusable.
var ErrRecognitionCanceled = errors.New("capture: recognition canceled")

// Kind tags the outcome of a listen phase.
type Kind int

const (
	// KindAbsent means no speech was detected or nothing was recognized.
	KindAbsent Kind = iota

	// KindTranscript means Result.Text holds a non-empty transcript.
	KindTranscript

	// KindCanceled means the phase failed; Result.Reason says why.
	KindCanceled
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindTranscript:
		return "transcript"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Result is the outcome of one listen phase.
type Result struct {
	Kind Kind

	// Text is the transcript. Only set for KindTranscript.
	Text string

	// Reason wraps ErrRecognitionCanceled. Only set for KindCanceled.
	Reason error
}

// Transcript returns a KindTranscript result.
func Transcript(text string) Result { return Result{Kind: KindTranscript, Text: text} }

// Absent returns a KindAbsent result.
func Absent() Result { return Result{Kind: KindAbsent} }

// Canceled returns a KindCanceled result whose Reason wraps both
// ErrRecognitionCanceled and cause.
func Canceled(cause error) Result {
	if cause == nil {
		return Result{Kind: KindCanceled, Reason: ErrRecognitionCanceled}
	}
	return Result{Kind: KindCanceled, Reason: fmt.Errorf("%w: %w", ErrRecognitionCanceled, cause)}
}

// Timeouts bounds one listen phase. The two silence timeouts are tuned
// independently.
type Timeouts struct {
	// InitialSilence is how long to wait for speech to begin.
	InitialSilence time.Duration

	// EndSilence is how much trailing silence ends an utterance.
	EndSilence time.Duration

	// MaxUtterance caps the length of a single utterance. Zero means the
	// default.
	MaxUtterance time.Duration
}

// Default timeouts.
const (
	DefaultInitialSilence = 3000 * time.Millisecond
	DefaultEndSilence     = 1000 * time.Millisecond
	DefaultMaxUtterance   = 15 * time.Second
)

// DefaultTimeouts returns the stock listen timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		InitialSilence: DefaultInitialSilence,
		EndSilence:     DefaultEndSilence,
		MaxUtterance:   DefaultMaxUtterance,
	}
}

// withDefaults fills zero fields from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.InitialSilence <= 0 {
		t.InitialSilence = d.InitialSilence
	}
	if t.EndSilence <= 0 {
		t.EndSilence = d.EndSilence
	}
	if t.MaxUtterance <= 0 {
		t.MaxUtterance = d.MaxUtterance
	}
	return t
}

// Listener performs listen phases.
//
// Listen must release the input device before returning, on every path
// including cancellation of ctx.
type Listener interface {
	Listen(ctx context.Context, t Timeouts) Result
}
