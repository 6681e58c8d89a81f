package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/chytonpide/chipi/pkg/audio"
	"github.com/chytonpide/chipi/pkg/provider/stt"
)

const (
	defaultThreshold = 300.0
	defaultFrame     = 20 * time.Millisecond
	defaultPreRoll   = 200 * time.Millisecond
)

// Compile-time interface assertion.
var _ Listener = (*Mic)(nil)

// Mic is a Listener that reads PCM from an [audio.Source], end-points it
// with a short-term energy detector and sends the utterance to an
// [stt.Provider].
//
// Timing is measured in captured audio, not wall-clock time, so a stalled
// device never shortens a timeout.
type Mic struct {
	source     audio.Source
	recognizer stt.Provider
	format     audio.Format
	threshold  float64
	frame      time.Duration
	preRoll    time.Duration
	language   string
}

// MicOption is a functional option for Mic.
type MicOption func(*Mic)

// WithThreshold sets the RMS level (0–32767) above which a frame counts as
// speech. Defaults to 300.
func WithThreshold(rms float64) MicOption {
	return func(m *Mic) {
		if rms > 0 {
			m.threshold = rms
		}
	}
}

// WithFrame sets the analysis frame length. Defaults to 20ms.
func WithFrame(d time.Duration) MicOption {
	return func(m *Mic) {
		if d > 0 {
			m.frame = d
		}
	}
}

// WithLanguage sets the BCP-47 language forwarded to the recognizer.
func WithLanguage(lang string) MicOption {
	return func(m *Mic) {
		m.language = lang
	}
}

// WithFormat overrides the capture format. Defaults to [audio.SpeechFormat].
func WithFormat(f audio.Format) MicOption {
	return func(m *Mic) {
		m.format = f
	}
}

// NewMic creates a Mic.
func NewMic(source audio.Source, recognizer stt.Provider, opts ...MicOption) *Mic {
	m := &Mic{
		source:     source,
		recognizer: recognizer,
		format:     audio.SpeechFormat,
		threshold:  defaultThreshold,
		frame:      defaultFrame,
		preRoll:    defaultPreRoll,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Listen implements Listener.
func (m *Mic) Listen(ctx context.Context, t Timeouts) Result {
	t = t.withDefaults()

	pcm, err := m.record(ctx, t)
	if err != nil {
		return Canceled(err)
	}
	if len(pcm) == 0 {
		return Absent()
	}

	rec, err := m.recognizer.Recognize(ctx, stt.Utterance{
		WAV:      audio.EncodeWAV(pcm, m.format),
		Format:   m.format,
		Language: m.language,
	})
	if err != nil {
		return Canceled(fmt.Errorf("recognize: %w", err))
	}
	if rec.Status != stt.StatusRecognized || strings.TrimSpace(rec.Text) == "" {
		return Absent()
	}
	return Transcript(rec.Text)
}

// record captures one utterance. It returns nil PCM when no speech started
// before the initial-silence deadline. The stream is closed before record
// returns.
func (m *Mic) record(ctx context.Context, t Timeouts) (pcm []byte, err error) {
	stream, err := m.source.Open(ctx, m.format)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			slog.Debug("capture: close input", "err", cerr)
		}
	}()
	// Unblock a pending Read when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	ep := newEndpointer(m.format, m.frame, m.preRoll, m.threshold, t)
	buf := make([]byte, ep.frameBytes)
	for {
		n, rerr := io.ReadFull(stream, buf)
		if n > 0 && ep.push(buf[:n]) {
			break
		}
		if rerr == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			if ep.started {
				break
			}
			return nil, errors.New("input stream ended")
		}
		return nil, fmt.Errorf("read input: %w", rerr)
	}

	if !ep.started {
		slog.Debug("capture: no speech", "waited", ep.elapsed)
		return nil, nil
	}
	slog.Debug("capture: utterance", "duration", audio.Duration(ep.utterance, m.format))
	return ep.utterance, nil
}

// endpointer is a frame-by-frame speech detector.
type endpointer struct {
	frameBytes int
	frame      time.Duration
	threshold  float64
	timeouts   Timeouts

	preRoll    [][]byte
	preRollMax int

	started   bool
	elapsed   time.Duration
	silentRun time.Duration
	speechDur time.Duration
	utterance []byte
}

func newEndpointer(f audio.Format, frame, preRoll time.Duration, threshold float64, t Timeouts) *endpointer {
	frameBytes := f.BytesPerMs() * int(frame/time.Millisecond)
	if frameBytes <= 0 {
		frameBytes = f.BytesPerMs()
	}
	return &endpointer{
		frameBytes: frameBytes,
		frame:      frame,
		threshold:  threshold,
		timeouts:   t,
		preRollMax: int(preRoll / frame),
	}
}

// push consumes one frame and reports whether the phase is over.
func (e *endpointer) push(frame []byte) bool {
	loud := audio.RMS(frame) >= e.threshold
	chunk := append([]byte(nil), frame...)

	if !e.started {
		e.elapsed += e.frame
		if !loud {
			if e.preRollMax > 0 {
				e.preRoll = append(e.preRoll, chunk)
				if len(e.preRoll) > e.preRollMax {
					e.preRoll = e.preRoll[1:]
				}
			}
			return e.elapsed >= e.timeouts.InitialSilence
		}
		e.started = true
		for _, p := range e.preRoll {
			e.utterance = append(e.utterance, p...)
		}
		e.preRoll = nil
	}

	e.utterance = append(e.utterance, chunk...)
	e.speechDur += e.frame
	if loud {
		e.silentRun = 0
	} else {
		e.silentRun += e.frame
	}
	return e.silentRun >= e.timeouts.EndSilence || e.speechDur >= e.timeouts.MaxUtterance
}
