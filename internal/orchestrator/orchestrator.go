// Package orchestrator runs the agent's conversation loop.
//
// One goroutine drives the turns: listen, route, infer, speak, strictly in
// sequence. Silence is not a failure and simply starts the next listen
// phase. An exit keyword ends the conversation after a farewell without
// calling the backend. A failed or empty inference is answered with a
// fallback line spoken in the user's tone. Recognition, inference and
// synthesis failures are reported through the logs, metrics and the turn
// observer; none of them stops the loop unless configured to.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chytonpide/chipi/internal/brain"
	"github.com/chytonpide/chipi/internal/capture"
	"github.com/chytonpide/chipi/internal/gesture"
	"github.com/chytonpide/chipi/internal/observe"
	"github.com/chytonpide/chipi/internal/speaker"
	"github.com/chytonpide/chipi/internal/tone"
	"github.com/chytonpide/chipi/pkg/provider/tts"
)

// Stock lines.
const (
	DefaultGreeting = "준비됐어! 말 걸어줘!"
	DefaultFarewell = "안녕!"
	DefaultFallback = "미안, 다시 말해줄래?"
)

// DefaultExitKeywords end the conversation when found anywhere in a
// transcript.
var DefaultExitKeywords = []string{"종료", "그만", "꺼져"}

// IntroPlayer plays a prerecorded intro, falling back to speaking the
// greeting. *speaker.Voice satisfies it.
type IntroPlayer interface {
	PlayIntro(ctx context.Context, path, greeting string) error
}

// GestureDispatcher starts a motion without waiting for it.
// *gesture.Dispatcher satisfies it.
type GestureDispatcher interface {
	Dispatch(m gesture.Motion) bool
}

var (
	_ IntroPlayer       = (*speaker.Voice)(nil)
	_ GestureDispatcher = (*gesture.Dispatcher)(nil)
)

// Services holds the long-lived handles the loop talks to. They are built
// once at startup and torn down by their owner after Run returns.
type Services struct {
	Listener capture.Listener
	Backend  brain.Backend
	Speaker  speaker.Speaker

	// Intro is optional. When nil the greeting is spoken through Speaker.
	Intro IntroPlayer

	// Gestures is optional.
	Gestures GestureDispatcher
}

// Validate reports missing mandatory services.
func (s Services) Validate() error {
	var errs []error
	if s.Listener == nil {
		errs = append(errs, errors.New("listener is required"))
	}
	if s.Backend == nil {
		errs = append(errs, errors.New("backend is required"))
	}
	if s.Speaker == nil {
		errs = append(errs, errors.New("speaker is required"))
	}
	return errors.Join(errs...)
}

// Config tunes the loop.
type Config struct {
	Greeting     string
	Farewell     string
	Fallback     string
	ExitKeywords []string

	// IntroAudio is a WAV file played instead of the greeting when present.
	IntroAudio string

	// Timeouts bound each listen phase.
	Timeouts capture.Timeouts

	// StopOnRecognitionCanceled ends Run with the recognition error instead
	// of listening again.
	StopOnRecognitionCanceled bool

	// SpeakingMotion is dispatched every time the loop enters Speaking.
	SpeakingMotion gesture.Motion
}

// DefaultConfig returns the stock loop configuration.
func DefaultConfig() Config {
	return Config{
		Greeting:       DefaultGreeting,
		Farewell:       DefaultFarewell,
		Fallback:       DefaultFallback,
		ExitKeywords:   DefaultExitKeywords,
		Timeouts:       capture.DefaultTimeouts(),
		SpeakingMotion: gesture.MotionNone,
	}
}

// Orchestrator drives the conversation. Run must not be called concurrently.
type Orchestrator struct {
	svc     Services
	cfg     Config
	tone    *tone.Policy
	metrics *observe.Metrics

	onTransition func(from, to State)
	onTurn       func(Turn)

	mu    sync.Mutex
	state State
	turns int
}

// Option is a functional option for Orchestrator.
type Option func(*Orchestrator)

// WithTonePolicy replaces the default user-transcript policy.
func WithTonePolicy(p *tone.Policy) Option {
	return func(o *Orchestrator) {
		o.tone = p
	}
}

// WithMetrics records turn metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTransitionHook calls fn on the loop goroutine for every state change.
// fn must not block.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(o *Orchestrator) {
		o.onTransition = fn
	}
}

// WithTurnObserver calls fn on the loop goroutine after every turn.
func WithTurnObserver(fn func(Turn)) Option {
	return func(o *Orchestrator) {
		o.onTurn = fn
	}
}

// New creates an Orchestrator. Zero-valued lines and keywords in cfg take
// their defaults.
func New(svc Services, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := svc.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	d := DefaultConfig()
	if cfg.Greeting == "" {
		cfg.Greeting = d.Greeting
	}
	if cfg.Farewell == "" {
		cfg.Farewell = d.Farewell
	}
	if cfg.Fallback == "" {
		cfg.Fallback = d.Fallback
	}
	if len(cfg.ExitKeywords) == 0 {
		cfg.ExitKeywords = d.ExitKeywords
	}
	if cfg.SpeakingMotion == "" {
		cfg.SpeakingMotion = gesture.MotionNone
	}

	o := &Orchestrator{
		svc:   svc,
		cfg:   cfg,
		tone:  tone.ForUser(),
		state: Idle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	if o.onTransition != nil {
		o.onTransition(from, to)
	}
	if to == Speaking && o.svc.Gestures != nil {
		o.svc.Gestures.Dispatch(o.cfg.SpeakingMotion)
	}
}

// Run greets the user and loops until an exit keyword is heard, ctx is
// cancelled, or recognition is canceled with StopOnRecognitionCanceled set.
// It returns nil after a farewell and ctx.Err() on cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.transition(Terminated)

	o.greet(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := o.runTurn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (o *Orchestrator) greet(ctx context.Context) {
	o.transition(Speaking)
	var err error
	if o.svc.Intro != nil {
		err = o.svc.Intro.PlayIntro(ctx, o.cfg.IntroAudio, o.cfg.Greeting)
	} else {
		err = o.svc.Speaker.Speak(ctx, o.cfg.Greeting, o.tone.Neutral())
	}
	if err != nil {
		slog.Warn("orchestrator: greeting failed", "err", err)
	}
	o.transition(Idle)
}

// runTurn performs one turn. done is true when the conversation is over.
func (o *Orchestrator) runTurn(ctx context.Context) (done bool, err error) {
	o.mu.Lock()
	o.turns++
	turn := Turn{Index: o.turns}
	o.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "orchestrator.turn")
	defer span.End()
	log := observe.Logger(ctx).With("turn", turn.Index)

	start := time.Now()
	defer func() {
		if ctx.Err() != nil && turn.Outcome == OutcomeCanceled {
			return
		}
		turn.Duration = time.Since(start)
		if o.metrics != nil {
			o.metrics.RecordTurn(ctx, string(turn.Outcome), turn.Duration)
		}
		if o.onTurn != nil {
			o.onTurn(turn)
		}
	}()

	// Listening.
	o.transition(Listening)
	res := o.listen(ctx)
	switch res.Kind {
	case capture.KindAbsent:
		turn.Outcome = OutcomeAbsent
		log.Debug("no speech")
		o.transition(Idle)
		return false, nil
	case capture.KindCanceled:
		turn.Outcome = OutcomeCanceled
		turn.Err = res.Reason
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Warn("recognition canceled", "err", res.Reason)
		o.transition(Idle)
		if o.cfg.StopOnRecognitionCanceled {
			return false, fmt.Errorf("orchestrator: %w", res.Reason)
		}
		return false, nil
	}
	if strings.TrimSpace(res.Text) == "" {
		turn.Outcome = OutcomeAbsent
		log.Debug("blank transcript")
		o.transition(Idle)
		return false, nil
	}
	turn.Transcript = res.Text
	log.Info("heard", "transcript", res.Text)

	// Routing.
	o.transition(Routing)
	if tone.ContainsAny(res.Text, o.cfg.ExitKeywords) {
		o.transition(Farewell)
		turn.Outcome = OutcomeFarewell
		o.transition(Speaking)
		if err := o.svc.Speaker.Speak(ctx, o.cfg.Farewell, o.tone.Neutral()); err != nil {
			turn.Err = err
			log.Warn("farewell failed", "err", err)
		}
		return true, nil
	}
	turn.Tone = o.tone.Classify(res.Text)
	if !turn.Tone.IsNeutral() {
		log.Info("distressed tone selected")
	}

	// Inferring.
	o.transition(Inferring)
	reply, ierr := o.svc.Backend.Submit(ctx, res.Text)
	if ierr != nil {
		turn.Err = ierr
		log.Warn("inference failed", "err", ierr)
	}
	if ctx.Err() != nil {
		turn.Outcome = OutcomeCanceled
		return false, ctx.Err()
	}

	// Speaking.
	text := reply
	if reply == "" {
		o.transition(FallbackSpeaking)
		turn.Outcome = OutcomeFallback
		text = o.cfg.Fallback
	} else {
		turn.Reply = reply
		turn.Outcome = OutcomeSpoken
		log.Info("reply", "text", reply)
		o.transition(Speaking)
	}
	if err := o.svc.Speaker.Speak(ctx, text, turn.Tone); err != nil {
		turn.Err = err
		turn.Outcome = OutcomePlaybackFailed
		var se *tts.SynthesisError
		if errors.As(err, &se) {
			turn.Outcome = OutcomeSynthesisFailed
			log.Warn("synthesis failed", "reason", se.Reason.String(), "err", err)
		} else {
			log.Warn("playback failed", "err", err)
		}
	}
	o.transition(Idle)
	return false, nil
}

func (o *Orchestrator) listen(ctx context.Context) capture.Result {
	start := time.Now()
	res := o.svc.Listener.Listen(ctx, o.cfg.Timeouts)
	if o.metrics != nil {
		o.metrics.CaptureDuration.Record(ctx, time.Since(start).Seconds())
	}
	return res
}
