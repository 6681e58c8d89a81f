// Package ttsgen renders fixed lines to WAV files ahead of time, so the
// device can play canned answers and the intro clip without a synthesis
// round trip.
//
// Lines that contain a sad keyword are rendered with the sad profile;
// everything else uses the neutral one.
package ttsgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/chytonpide/chipi/internal/tone"
	"github.com/chytonpide/chipi/pkg/audio"
	"github.com/chytonpide/chipi/pkg/provider/tts"
)

const (
	defaultOutputDir   = "audio"
	defaultConcurrency = 4
	maxFilenameRunes   = 20
)

// Params is the voice shaping applied to one line.
type Params struct {
	Language      string
	Style         string
	PitchShift    int
	Speed         float64
	PitchVariance float64
}

// DefaultParams is used for ordinary lines.
var DefaultParams = Params{Language: "ko", Style: "neutral", PitchShift: 0, Speed: 1, PitchVariance: 1}

// SadParams is used for lines matching [tone.ReplySadKeywords].
var SadParams = Params{Language: "ko", Style: tone.DistressedStyle, PitchShift: tone.DistressedPitch, Speed: 1, PitchVariance: 1}

// Generator writes synthesized lines into a directory.
type Generator struct {
	synth       tts.Provider
	voiceID     string
	outDir      string
	concurrency int
	policy      *tone.Policy
}

// Option configures a [Generator].
type Option func(*Generator)

// WithOutputDir sets the directory files are written to. Defaults to "audio".
func WithOutputDir(dir string) Option {
	return func(g *Generator) {
		if dir != "" {
			g.outDir = dir
		}
	}
}

// WithVoiceID sets the voice used for every line.
func WithVoiceID(id string) Option {
	return func(g *Generator) {
		g.voiceID = id
	}
}

// WithConcurrency bounds the number of in-flight synthesis calls during
// [Generator.GenerateAll]. Defaults to 4.
func WithConcurrency(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// New creates a Generator on top of synth.
func New(synth tts.Provider, opts ...Option) *Generator {
	g := &Generator{
		synth:       synth,
		outDir:      defaultOutputDir,
		concurrency: defaultConcurrency,
		policy:      tone.ForReply(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// OutputDir returns the directory files are written to.
func (g *Generator) OutputDir() string { return g.outDir }

// ParamsFor picks the profile for text.
func (g *Generator) ParamsFor(text string) Params {
	if g.policy.Classify(text).IsNeutral() {
		return DefaultParams
	}
	return SadParams
}

// Generate synthesizes text into filename inside the output directory and
// returns the written path. An empty filename is derived from the text with
// [SafeFilename]; ".wav" is appended when missing.
func (g *Generator) Generate(ctx context.Context, text, filename string) (string, error) {
	if filename == "" {
		filename = SafeFilename(text)
	} else if !strings.HasSuffix(filename, ".wav") {
		filename += ".wav"
	}
	if err := os.MkdirAll(g.outDir, 0o755); err != nil {
		return "", fmt.Errorf("ttsgen: create output dir: %w", err)
	}

	p := g.ParamsFor(text)
	res, err := g.synth.Synthesize(ctx, tts.SynthesisRequest{
		Text:          text,
		VoiceID:       g.voiceID,
		Language:      p.Language,
		Style:         p.Style,
		PitchPercent:  p.PitchShift,
		Speed:         p.Speed,
		PitchVariance: p.PitchVariance,
		Container:     audio.ContainerWAV,
	}.Normalize())
	if err != nil {
		return "", fmt.Errorf("ttsgen: synthesize %q: %w", filename, err)
	}
	if res == nil || len(res.Audio) == 0 {
		return "", fmt.Errorf("ttsgen: synthesize %q: empty audio", filename)
	}

	path := filepath.Join(g.outDir, filename)
	if err := os.WriteFile(path, res.Audio, 0o644); err != nil {
		return "", fmt.Errorf("ttsgen: write %s: %w", path, err)
	}
	slog.Info("ttsgen: wrote file", "path", path, "bytes", len(res.Audio), "style", p.Style)
	return path, nil
}

// GenerateAll renders answers as a_01.wav, a_02.wav, ... with bounded
// concurrency. A failed line does not stop the others: the paths of the
// lines that succeeded are returned in input order together with the joined
// failures. Only context cancellation aborts the batch.
func (g *Generator) GenerateAll(ctx context.Context, answers []string) ([]string, error) {
	paths := make([]string, len(answers))
	var (
		mu   sync.Mutex
		errs []error
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, answer := range answers {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			path, err := g.Generate(egCtx, answer, fmt.Sprintf("a_%02d.wav", i+1))
			if err != nil {
				if ctxErr := egCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			paths[i] = path
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return compact(paths), err
	}
	return compact(paths), errors.Join(errs...)
}

func compact(paths []string) []string {
	out := paths[:0]
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SafeFilename derives a file name from the first 20 characters of text.
// Letters, digits, '-' and '_' are kept, runs of whitespace become a single
// '_', and everything else becomes '_'. An empty result is "output".
func SafeFilename(text string) string {
	runes := []rune(text)
	if len(runes) > maxFilenameRunes {
		runes = runes[:maxFilenameRunes]
	}
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', unicode.IsSpace(r):
			return r
		default:
			return '_'
		}
	}, string(runes))
	name := strings.Join(strings.Fields(mapped), "_")
	if name == "" {
		name = "output"
	}
	return name + ".wav"
}
