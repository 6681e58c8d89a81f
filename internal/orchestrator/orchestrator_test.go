package orchestrator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	brainmock "github.com/chytonpide/chipi/internal/brain/mock"
	"github.com/chytonpide/chipi/internal/capture"
	capturemock "github.com/chytonpide/chipi/internal/capture/mock"
	"github.com/chytonpide/chipi/internal/gesture"
	speakermock "github.com/chytonpide/chipi/internal/speaker/mock"
	"github.com/chytonpide/chipi/internal/tone"
	"github.com/chytonpide/chipi/pkg/provider/tts"
)

// harness wires an Orchestrator to mocks and records what it did.
type harness struct {
	listener *capturemock.Listener
	backend  *brainmock.Backend
	speaker  *speakermock.Speaker
	gestures *fakeGestures

	mu          sync.Mutex
	turns       []Turn
	transitions []State
}

func newHarness(results ...capture.Result) *harness {
	return &harness{
		listener: &capturemock.Listener{Results: results},
		backend:  &brainmock.Backend{Reply: "반가워!"},
		speaker:  &speakermock.Speaker{},
		gestures: &fakeGestures{},
	}
}

func (h *harness) build(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	o, err := New(Services{
		Listener: h.listener,
		Backend:  h.backend,
		Speaker:  h.speaker,
		Gestures: h.gestures,
	}, cfg,
		WithTurnObserver(func(turn Turn) {
			h.mu.Lock()
			h.turns = append(h.turns, turn)
			h.mu.Unlock()
		}),
		WithTransitionHook(func(_, to State) {
			h.mu.Lock()
			h.transitions = append(h.transitions, to)
			h.mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

// run executes Run with a safety timeout.
func (h *harness) run(t *testing.T, o *Orchestrator) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := o.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("Run did not finish")
	}
	return err
}

type fakeGestures struct {
	mu      sync.Mutex
	motions []gesture.Motion
}

func (f *fakeGestures) Dispatch(m gesture.Motion) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.motions = append(f.motions, m)
	return true
}

func farewell() capture.Result { return capture.Transcript("이제 그만 할래") }

func TestRun_Termination(t *testing.T) {
	t.Parallel()

	h := newHarness(capture.Transcript("종료"))
	o := h.build(t, DefaultConfig())

	if err := h.run(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.speaker.Texts(); !slices.Equal(got, []string{DefaultGreeting, DefaultFarewell}) {
		t.Fatalf("spoken = %q", got)
	}
	if h.backend.Calls() != 0 {
		t.Fatalf("backend calls = %d, want 0", h.backend.Calls())
	}
	if o.State() != Terminated {
		t.Fatalf("state = %v, want terminated", o.State())
	}
	if h.listener.Calls() != 1 {
		t.Fatalf("listen calls = %d, want 1", h.listener.Calls())
	}
	want := []State{Speaking, Idle, Listening, Routing, Farewell, Speaking, Terminated}
	if !slices.Equal(h.transitions, want) {
		t.Fatalf("transitions = %v\nwant %v", h.transitions, want)
	}
	if h.turns[0].Outcome != OutcomeFarewell {
		t.Fatalf("outcome = %v", h.turns[0].Outcome)
	}
}

func TestRun_ExitKeywordIsSubstring(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"종료", "그만해", "저리 꺼져버려"} {
		h := newHarness(capture.Transcript(text))
		if err := h.run(t, h.build(t, DefaultConfig())); err != nil {
			t.Fatal(err)
		}
		if h.backend.Calls() != 0 {
			t.Errorf("%q: backend called", text)
		}
	}
}

func TestRun_ScenarioA_AbsentKeepsListening(t *testing.T) {
	t.Parallel()

	h := newHarness(capture.Absent(), capture.Absent())
	o := h.build(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	// The third Listen blocks in the mock until ctx is cancelled.
	deadline := time.After(5 * time.Second)
	for h.listener.Calls() < 3 {
		select {
		case <-deadline:
			t.Fatal("loop did not return to listening")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	if h.backend.Calls() != 0 {
		t.Fatalf("backend calls = %d, want 0", h.backend.Calls())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) != 2 || h.turns[0].Outcome != OutcomeAbsent || h.turns[1].Outcome != OutcomeAbsent {
		t.Fatalf("turns = %+v", h.turns)
	}
	if got := h.speaker.Texts(); !slices.Equal(got, []string{DefaultGreeting}) {
		t.Fatalf("spoken = %q, want greeting only", got)
	}
}

func TestRun_BlankTranscriptSkipsBackend(t *testing.T) {
	t.Parallel()

	h := newHarness(capture.Transcript(""), capture.Transcript("   "), capture.Transcript("\t\n"), farewell())
	o := h.build(t, DefaultConfig())
	if err := h.run(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if h.backend.Calls() != 0 {
		t.Fatalf("backend called for blank transcripts: %q", h.backend.Transcripts)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) != 4 {
		t.Fatalf("turns = %d, want 4", len(h.turns))
	}
	for i, turn := range h.turns[:3] {
		if turn.Outcome != OutcomeAbsent {
			t.Errorf("turn %d outcome = %q, want %q", i, turn.Outcome, OutcomeAbsent)
		}
	}
	if got := h.speaker.Texts(); !slices.Equal(got, []string{DefaultGreeting, DefaultFarewell}) {
		t.Fatalf("spoken = %q, want greeting and farewell", got)
	}
}

func TestRun_ScenarioB_NeutralReply(t *testing.T) {
	t.Parallel()

	h := newHarness(capture.Transcript("안녕"), farewell())
	o := h.build(t, DefaultConfig())
	if err := h.run(t, o); err != nil {
		t.Fatal(err)
	}

	if h.backend.Calls() != 1 || h.backend.Transcripts[0] != "안녕" {
		t.Fatalf("backend transcripts = %q", h.backend.Transcripts)
	}
	lines := h.speaker.Spoken()
	if len(lines) != 3 {
		t.Fatalf("spoken = %+v", lines)
	}
	reply := lines[1]
	if reply.Text != "반가워!" {
		t.Fatalf("reply text = %q", reply.Text)
	}
	if !reply.Decision.IsNeutral() || reply.Decision.PitchOffset != 0 {
		t.Fatalf("reply decision = %+v, want neutral with zero offset", reply.Decision)
	}
	if h.turns[0].Outcome != OutcomeSpoken || h.turns[0].Reply != "반가워!" {
		t.Fatalf("turn = %+v", h.turns[0])
	}
}

func TestRun_ScenarioC_DistressedFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(capture.Transcript("나 죽고 싶어"), farewell())
	h.backend.Reply = ""
	o := h.build(t, DefaultConfig())
	if err := h.run(t, o); err != nil {
		t.Fatal(err)
	}

	if h.backend.Calls() != 1 {
		t.Fatalf("backend calls = %d, want 1", h.backend.Calls())
	}
	fallback := h.speaker.Spoken()[1]
	if fallback.Text != DefaultFallback {
		t.Fatalf("spoken %q, want fallback", fallback.Text)
	}
	if fallback.Decision.Category != tone.Distressed || fallback.Decision.PitchOffset != tone.DistressedPitch || fallback.Decision.Style != tone.DistressedStyle {
		t.Fatalf("fallback decision = %+v, want distressed", fallback.Decision)
	}
	turn := h.turns[0]
	if turn.Outcome != OutcomeFallback || turn.Tone.Category != tone.Distressed {
		t.Fatalf("turn = %+v", turn)
	}
	// The tone is decided during routing, before the backend is consulted.
	iRouting := slices.Index(h.transitions, Routing)
	iInfer := slices.Index(h.transitions, Inferring)
	if iRouting < 0 || iInfer < iRouting {
		t.Fatalf("transitions = %v", h.transitions)
	}
	if !slices.Contains(h.transitions, FallbackSpeaking) {
		t.Fatalf("FallbackSpeaking not entered: %v", h.transitions)
	}
}

func TestRun_InferenceFailureUsesFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(capture.Transcript("날씨 어때?"), farewell())
	h.backend.Err = errors.New("brain: inference unavailable: 503")
	if err := h.run(t, h.build(t, DefaultConfig())); err != nil {
		t.Fatal(err)
	}
	if got := h.speaker.Texts()[1]; got != DefaultFallback {
		t.Fatalf("spoken %q, want fallback", got)
	}
	if h.turns[0].Err == nil {
		t.Fatal("inference failure not reported on the turn")
	}
}

func TestRun_ScenarioD_SynthesisTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(capture.Transcript("안녕"), farewell())
	h.speaker.SpeakErr = &tts.SynthesisError{Provider: "azure", Reason: tts.ReasonTimeout, Err: context.DeadlineExceeded}
	o := h.build(t, DefaultConfig())

	if err := h.run(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}
	turn := h.turns[0]
	if turn.Outcome != OutcomeSynthesisFailed || !tts.IsTimeout(turn.Err) {
		t.Fatalf("turn = %+v, want synthesis timeout", turn)
	}
	if h.listener.Calls() != 2 {
		t.Fatalf("listen calls = %d, want the next phase to start", h.listener.Calls())
	}
}

func TestRun_PlaybackFailureReported(t *testing.T) {
	t.Parallel()

	h := newHarness(capture.Transcript("안녕"), farewell())
	h.speaker.SpeakErr = errors.New("speaker: play: aplay exited 1")
	if err := h.run(t, h.build(t, DefaultConfig())); err != nil {
		t.Fatal(err)
	}
	if h.turns[0].Outcome != OutcomePlaybackFailed {
		t.Fatalf("outcome = %v", h.turns[0].Outcome)
	}
}

func TestRun_RecognitionCanceled(t *testing.T) {
	t.Parallel()

	cause := errors.New("arecord: no such device")

	t.Run("continues by default", func(t *testing.T) {
		t.Parallel()
		h := newHarness(capture.Canceled(cause), farewell())
		if err := h.run(t, h.build(t, DefaultConfig())); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if h.turns[0].Outcome != OutcomeCanceled || !errors.Is(h.turns[0].Err, cause) {
			t.Fatalf("turn = %+v", h.turns[0])
		}
		if h.listener.Calls() != 2 {
			t.Fatalf("listen calls = %d, want 2", h.listener.Calls())
		}
	})

	t.Run("stops when configured", func(t *testing.T) {
		t.Parallel()
		h := newHarness(capture.Canceled(cause), farewell())
		cfg := DefaultConfig()
		cfg.StopOnRecognitionCanceled = true
		err := h.run(t, h.build(t, cfg))
		if !errors.Is(err, capture.ErrRecognitionCanceled) || !errors.Is(err, cause) {
			t.Fatalf("Run = %v, want recognition canceled", err)
		}
		if h.listener.Calls() != 1 {
			t.Fatalf("listen calls = %d, want 1", h.listener.Calls())
		}
	})
}

func TestRun_GestureOnSpeaking(t *testing.T) {
	t.Parallel()

	h := newHarness(capture.Transcript("안녕"), capture.Absent(), farewell())
	cfg := DefaultConfig()
	cfg.SpeakingMotion = gesture.MotionPatterned
	if err := h.run(t, h.build(t, cfg)); err != nil {
		t.Fatal(err)
	}
	// Greeting, reply and farewell each enter Speaking once.
	h.gestures.mu.Lock()
	defer h.gestures.mu.Unlock()
	if len(h.gestures.motions) != 3 {
		t.Fatalf("motions = %v, want 3", h.gestures.motions)
	}
	for _, m := range h.gestures.motions {
		if m != gesture.MotionPatterned {
			t.Fatalf("motion = %q", m)
		}
	}
}

func TestRun_CustomLinesAndTimeouts(t *testing.T) {
	t.Parallel()

	h := newHarness(capture.Transcript("bye now"))
	cfg := Config{
		Greeting:     "hello",
		Farewell:     "see you",
		ExitKeywords: []string{"bye"},
		Timeouts:     capture.Timeouts{InitialSilence: 5 * time.Second, EndSilence: 700 * time.Millisecond},
	}
	if err := h.run(t, h.build(t, cfg)); err != nil {
		t.Fatal(err)
	}
	if got := h.speaker.Texts(); !slices.Equal(got, []string{"hello", "see you"}) {
		t.Fatalf("spoken = %q", got)
	}
	if got := h.listener.Timeouts[0]; got != cfg.Timeouts {
		t.Fatalf("timeouts = %+v", got)
	}
}

type fakeIntro struct {
	path, greeting string
}

func (f *fakeIntro) PlayIntro(_ context.Context, path, greeting string) error {
	f.path, f.greeting = path, greeting
	return nil
}

func TestRun_IntroReplacesGreeting(t *testing.T) {
	t.Parallel()

	h := newHarness(capture.Transcript("종료"))
	intro := &fakeIntro{}
	cfg := DefaultConfig()
	cfg.IntroAudio = "/opt/chipi/intro.wav"
	o, err := New(Services{Listener: h.listener, Backend: h.backend, Speaker: h.speaker, Intro: intro}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.run(t, o); err != nil {
		t.Fatal(err)
	}
	if intro.path != cfg.IntroAudio || intro.greeting != DefaultGreeting {
		t.Fatalf("intro = %+v", intro)
	}
	if got := h.speaker.Texts(); !slices.Equal(got, []string{DefaultFarewell}) {
		t.Fatalf("spoken = %q", got)
	}
}

func TestNew_RequiresServices(t *testing.T) {
	t.Parallel()
	if _, err := New(Services{}, DefaultConfig()); err == nil {
		t.Fatal("expected error for missing services")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	if Listening.String() != "listening" || FallbackSpeaking.String() != "fallback_speaking" || State(42).String() != "State(42)" {
		t.Fatal("unexpected State names")
	}
}
