package tts

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestSynthesisRequest_Normalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		in         SynthesisRequest
		wantDegree float64
		wantPitch  int
		wantRate   int
	}{
		{name: "in range", in: SynthesisRequest{StyleDegree: 1.5, PitchPercent: 15, RatePercent: 30}, wantDegree: 1.5, wantPitch: 15, wantRate: 30},
		{name: "zero degree defaults", in: SynthesisRequest{}, wantDegree: DefaultStyleDegree},
		{name: "degree too high", in: SynthesisRequest{StyleDegree: 3}, wantDegree: MaxStyleDegree},
		{name: "degree too low", in: SynthesisRequest{StyleDegree: 0.001}, wantDegree: MinStyleDegree},
		{name: "negative degree", in: SynthesisRequest{StyleDegree: -1}, wantDegree: MinStyleDegree},
		{name: "pitch below", in: SynthesisRequest{PitchPercent: -80}, wantDegree: 1, wantPitch: MinOffsetPercent},
		{name: "rate above", in: SynthesisRequest{RatePercent: 500}, wantDegree: 1, wantRate: MaxOffsetPercent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.in.Normalize()
			if got.StyleDegree != tt.wantDegree {
				t.Errorf("StyleDegree = %v, want %v", got.StyleDegree, tt.wantDegree)
			}
			if got.PitchPercent != tt.wantPitch {
				t.Errorf("PitchPercent = %d, want %d", got.PitchPercent, tt.wantPitch)
			}
			if got.RatePercent != tt.wantRate {
				t.Errorf("RatePercent = %d, want %d", got.RatePercent, tt.wantRate)
			}
		})
	}
}

func TestSynthesisRequest_Validate(t *testing.T) {
	t.Parallel()

	if err := (SynthesisRequest{Text: "  "}).Validate(); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
	if err := (SynthesisRequest{Text: "안녕"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTransportError_Classifies(t *testing.T) {
	t.Parallel()

	timeout := TransportError("azure", fmt.Errorf("post: %w", context.DeadlineExceeded))
	if timeout.Reason != ReasonTimeout {
		t.Fatalf("Reason = %v, want timeout", timeout.Reason)
	}
	if !IsTimeout(timeout) {
		t.Fatal("IsTimeout = false, want true")
	}

	other := TransportError("azure", errors.New("connection refused"))
	if other.Reason != ReasonProviderError {
		t.Fatalf("Reason = %v, want provider_error", other.Reason)
	}
	if IsTimeout(other) {
		t.Fatal("IsTimeout = true, want false")
	}
}

func TestSynthesisError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("401 unauthorized")
	var err error = ProviderError("supertone", "bad key", cause)

	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatal("errors.Is(err, ErrSynthesisFailed) = false")
	}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is(err, cause) = false")
	}
	var se *SynthesisError
	if !errors.As(err, &se) || se.Detail != "bad key" {
		t.Fatalf("errors.As failed or wrong detail: %+v", se)
	}
	want := "supertone: synthesis failed (provider_error): bad key: 401 unauthorized"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
