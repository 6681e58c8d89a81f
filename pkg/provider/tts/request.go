package tts

import (
	"errors"
	"strings"

	"github.com/chytonpide/chipi/pkg/audio"
)

// Bounds enforced by [SynthesisRequest.Normalize].
const (
	MinStyleDegree = 0.01
	MaxStyleDegree = 2.0

	MinOffsetPercent = -50
	MaxOffsetPercent = 200

	// DefaultStyleDegree is used when StyleDegree is left at zero.
	DefaultStyleDegree = 1.0
)

// ErrEmptyText is returned for a request with no speakable text.
var ErrEmptyText = errors.New("tts: empty text")

// SynthesisRequest carries everything a provider needs to voice one line.
// Providers ignore fields their service has no equivalent for.
type SynthesisRequest struct {
	// Text is the line to speak.
	Text string

	// VoiceID selects the voice, e.g. "ko-KR-SeoHyeonNeural".
	VoiceID string

	// Language is a short language code, e.g. "ko".
	Language string

	// Style is the expressive style tag, e.g. "cheerful" or "sad".
	Style string

	// StyleDegree is the style intensity in [0.01, 2.0]. Zero means
	// DefaultStyleDegree.
	StyleDegree float64

	// PitchPercent is a signed pitch offset in percent, in [-50, 200].
	PitchPercent int

	// RatePercent is a signed speaking-rate offset in percent, in [-50, 200].
	RatePercent int

	// Speed is a playback-speed multiplier for providers that use one
	// instead of a rate percentage. Zero means provider default.
	Speed float64

	// PitchVariance controls intonation range for providers that support
	// it. Zero means provider default.
	PitchVariance float64

	// Container is the requested output encoding. Empty means provider
	// default.
	Container audio.Container
}

// Validate reports whether the request can be sent at all.
func (r SynthesisRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// Normalize returns a copy of r with every bounded field clamped into range.
// Out-of-range values are capped at the nearest bound, never wrapped.
func (r SynthesisRequest) Normalize() SynthesisRequest {
	if r.StyleDegree == 0 {
		r.StyleDegree = DefaultStyleDegree
	}
	r.StyleDegree = clampFloat(r.StyleDegree, MinStyleDegree, MaxStyleDegree)
	r.PitchPercent = clampInt(r.PitchPercent, MinOffsetPercent, MaxOffsetPercent)
	r.RatePercent = clampInt(r.RatePercent, MinOffsetPercent, MaxOffsetPercent)
	return r
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func clampFloat(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
