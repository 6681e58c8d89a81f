// Package speaker voices text: it turns a line plus a tone decision into a
// synthesis request, sends it to a [tts.Provider] and plays the result,
// blocking until playback has finished.
//
// There is a single [Voice] type for every synthesizer. Azure and SuperTone
// differ only in the injected provider and the [Profile].
package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chytonpide/chipi/internal/observe"
	"github.com/chytonpide/chipi/internal/tone"
	"github.com/chytonpide/chipi/pkg/audio"
	"github.com/chytonpide/chipi/pkg/provider/tts"
)

// Speaker speaks one line and returns when playback is done.
type Speaker interface {
	// Speak synthesizes text with the prosody selected by d and plays it.
	// A synthesis failure is returned as a [*tts.SynthesisError].
	Speak(ctx context.Context, text string, d tone.Decision) error
}

// Profile is the base voice: every request starts from it and the tone
// decision is layered on top.
type Profile struct {
	VoiceID       string
	Language      string
	Style         string
	StyleDegree   float64
	Pitch         int
	Rate          int
	Speed         float64
	PitchVariance float64
}

// DefaultProfile is the cheerful Korean voice the device ships with.
func DefaultProfile() Profile {
	return Profile{
		VoiceID:     "ko-KR-SeoHyeonNeural",
		Language:    "ko",
		Style:       "cheerful",
		StyleDegree: 2.0,
		Pitch:       15,
		Rate:        30,
	}
}

// Compile-time interface assertion.
var _ Speaker = (*Voice)(nil)

// Voice implements Speaker on top of a synthesizer and a player.
// It is safe for concurrent use; SetProfile may be called while speaking.
type Voice struct {
	synth    tts.Provider
	player   audio.Player
	provider string
	metrics  *observe.Metrics

	mu      sync.RWMutex
	profile Profile
}

// Option is a functional option for Voice.
type Option func(*Voice)

// WithProviderName sets the provider label used in logs and metrics.
func WithProviderName(name string) Option {
	return func(v *Voice) {
		v.provider = name
	}
}

// WithMetrics records synthesis and playback latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(v *Voice) {
		v.metrics = m
	}
}

// New creates a Voice.
func New(synth tts.Provider, player audio.Player, p Profile, opts ...Option) *Voice {
	v := &Voice{
		synth:    synth,
		player:   player,
		provider: "tts",
		profile:  p,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Profile returns the current base profile.
func (v *Voice) Profile() Profile {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.profile
}

// SetProfile replaces the base profile. Lines already being synthesized keep
// the old one.
func (v *Voice) SetProfile(p Profile) {
	v.mu.Lock()
	v.profile = p
	v.mu.Unlock()
}

// Request builds the synthesis request for text under decision d.
// The pitch offset of d is added to the profile pitch. A distressed
// decision replaces the profile style with its own.
func (v *Voice) Request(text string, d tone.Decision) tts.SynthesisRequest {
	p := v.Profile()
	style := p.Style
	if !d.IsNeutral() && d.Style != "" {
		style = d.Style
	}
	return tts.SynthesisRequest{
		Text:          text,
		VoiceID:       p.VoiceID,
		Language:      p.Language,
		Style:         style,
		StyleDegree:   p.StyleDegree,
		PitchPercent:  p.Pitch + d.PitchOffset,
		RatePercent:   p.Rate,
		Speed:         p.Speed,
		PitchVariance: p.PitchVariance,
	}.Normalize()
}

// Speak implements Speaker.
func (v *Voice) Speak(ctx context.Context, text string, d tone.Decision) error {
	req := v.Request(text, d)

	res, err := v.synthesize(ctx, req)
	if err != nil {
		return err
	}
	if err := v.play(ctx, res); err != nil {
		return fmt.Errorf("speaker: play: %w", err)
	}
	return nil
}

func (v *Voice) synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	ctx, span := observe.StartSpan(ctx, "speaker.synthesize")
	defer span.End()

	start := time.Now()
	res, err := v.synth.Synthesize(ctx, req)
	if v.metrics != nil {
		v.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
			v.metrics.RecordProviderError(ctx, v.provider, "tts")
		}
		v.metrics.RecordProviderRequest(ctx, v.provider, "tts", status)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if res == nil || len(res.Audio) == 0 {
		return nil, tts.ProviderError(v.provider, "empty audio", nil)
	}
	return res, nil
}

func (v *Voice) play(ctx context.Context, res *tts.SynthesisResult) error {
	start := time.Now()
	err := v.player.Play(ctx, res.Audio, res.Container)
	if v.metrics != nil {
		v.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	}
	return err
}

// PlayIntro plays the WAV at path if it exists, falling back to speaking
// greeting with a neutral tone when the file is missing or playback fails.
func (v *Voice) PlayIntro(ctx context.Context, path, greeting string) error {
	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			perr := v.player.PlayFile(ctx, path)
			if perr == nil {
				return nil
			}
			slog.Warn("speaker: intro playback failed, using greeting", "path", path, "err", perr)
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("speaker: no intro audio", "path", path)
		default:
			slog.Warn("speaker: intro audio unreadable", "path", path, "err", err)
		}
	}
	return v.Speak(ctx, greeting, tone.Decision{})
}
