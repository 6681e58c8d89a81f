package tts

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrSynthesisFailed matches every *SynthesisError via errors.Is.
var ErrSynthesisFailed = errors.New("tts: synthesis failed")

// FailureReason classifies a failed synthesis.
type FailureReason int

const (
	// ReasonProviderError means the service answered with an error or
	// cancelled the request.
	ReasonProviderError FailureReason = iota

	// ReasonTimeout means no answer arrived within the request timeout.
	ReasonTimeout
)

// String returns the lower-case name of the reason.
func (r FailureReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonProviderError:
		return "provider_error"
	default:
		return "unknown"
	}
}

// SynthesisError is the terminal outcome of a failed Synthesize call.
type SynthesisError struct {
	// Provider names the backend that failed.
	Provider string

	// Reason is the failure class.
	Reason FailureReason

	// Detail is the provider's diagnostic text, if any.
	Detail string

	// Err is the underlying error, if any.
	Err error
}

func (e *SynthesisError) Error() string {
	msg := fmt.Sprintf("%s: synthesis failed (%s)", e.Provider, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrSynthesisFailed and the underlying cause.
func (e *SynthesisError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSynthesisFailed}
	}
	return []error{ErrSynthesisFailed, e.Err}
}

// ProviderError builds a ReasonProviderError failure.
func ProviderError(provider, detail string, err error) *SynthesisError {
	return &SynthesisError{Provider: provider, Reason: ReasonProviderError, Detail: detail, Err: err}
}

// TransportError classifies a transport-level failure. Deadline and network
// timeouts become ReasonTimeout; everything else is a provider error.
func TransportError(provider string, err error) *SynthesisError {
	if isTimeout(err) {
		return &SynthesisError{Provider: provider, Reason: ReasonTimeout, Err: err}
	}
	return ProviderError(provider, "", err)
}

// IsTimeout reports whether err is a synthesis timeout.
func IsTimeout(err error) bool {
	var se *SynthesisError
	return errors.As(err, &se) && se.Reason == ReasonTimeout
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
