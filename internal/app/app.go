// Package app wires all chipi subsystems into a running agent.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the conversation and the ops server, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithListener,
// WithPlayer, WithActuator, etc.). When an option is not provided, New
// creates the real device-backed implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/chytonpide/chipi/internal/brain"
	"github.com/chytonpide/chipi/internal/capture"
	"github.com/chytonpide/chipi/internal/config"
	"github.com/chytonpide/chipi/internal/gesture"
	"github.com/chytonpide/chipi/internal/health"
	"github.com/chytonpide/chipi/internal/observe"
	"github.com/chytonpide/chipi/internal/speaker"
	"github.com/chytonpide/chipi/pkg/audio"
)

const opsShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes and runs the chipi voice loop.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	// Subsystems, initialised in New, torn down in Shutdown.
	player   audio.Player
	source   audio.Source
	listener capture.Listener
	actuator gesture.Actuator
	voice    *speaker.Voice
	gestures *speakingGesture
	health   *health.Handler
	sessions *SessionManager
	backend  brain.Backend
	ops      *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPlayer injects the audio output instead of the aplay/mpg123 player.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithSource injects the audio input instead of arecord.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithListener injects a complete listen phase, bypassing the microphone
// and recognizer.
func WithListener(l capture.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithActuator injects the servo instead of opening the sysfs PWM channel.
// Only used when gestures are enabled.
func WithActuator(act gesture.Actuator) Option {
	return func(a *App) { a.actuator = act }
}

// WithBackend replaces the LLM-backed reasoning session.
func WithBackend(b brain.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]. Use Option functions to inject test doubles for any
// device.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.TTS == nil || providers.STT == nil || providers.LLM == nil {
		return nil, errors.New("app: tts, stt and llm providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Voice ─────────────────────────────────────────────────────────
	if a.player == nil {
		a.player = audio.NewCommandPlayer()
	}
	a.voice = speaker.New(providers.TTS, a.player, voiceProfile(cfg.Voice),
		speaker.WithProviderName(cfg.Providers.TTS.Name),
		speaker.WithMetrics(a.metrics),
	)

	// ── 2. Microphone ────────────────────────────────────────────────────
	a.initListener()

	// ── 3. Gestures ──────────────────────────────────────────────────────
	if err := a.initGestures(ctx); err != nil {
		return nil, fmt.Errorf("app: init gestures: %w", err)
	}

	// ── 4. Health ────────────────────────────────────────────────────────
	a.health = health.New(providers.Checkers()...)

	// ── 5. Sessions ──────────────────────────────────────────────────────
	smc := SessionManagerConfig{
		Config:   cfg,
		LLM:      providers.LLM,
		LLMName:  cfg.Providers.LLM.Name,
		Backend:  a.backend,
		Listener: a.listener,
		Speaker:  a.voice,
		Intro:    a.voice,
		Metrics:  a.metrics,
	}
	if a.gestures != nil {
		smc.Gestures = a.gestures
	}
	a.sessions = NewSessionManager(smc)

	// ── 6. Ops server ────────────────────────────────────────────────────
	if addr := cfg.Server.OpsListenAddr; addr != "" {
		a.ops = &http.Server{
			Addr:              addr,
			Handler:           a.OpsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initListener() {
	if a.listener != nil {
		return
	}
	if a.source == nil {
		a.source = audio.NewCommandSource(a.cfg.Capture.Device)
	}
	var opts []capture.MicOption
	if t := a.cfg.Capture.Threshold; t > 0 {
		opts = append(opts, capture.WithThreshold(t))
	}
	a.listener = capture.NewMic(a.source, a.providers.STT, opts...)
}

// initGestures opens the servo and starts the motion dispatcher when
// gestures are enabled. Only a bad on_speaking value is an error: the servo
// is cosmetic, so a missing PWM chip or a faulting actuator leaves gestures
// off and the agent starts anyway.
func (a *App) initGestures(ctx context.Context) error {
	gc := a.cfg.Gesture
	if !gc.Enabled {
		return nil
	}
	motion, err := gesture.ParseMotion(gc.OnSpeaking)
	if err != nil {
		return err
	}
	if a.actuator == nil {
		var opts []gesture.PWMOption
		if gc.SysfsRoot != "" {
			opts = append(opts, gesture.WithSysfsRoot(gc.SysfsRoot))
		}
		opts = append(opts, gesture.WithPulseRange(
			time.Duration(gc.MinPulseUS)*time.Microsecond,
			time.Duration(gc.MaxPulseUS)*time.Microsecond,
		))
		pwm, err := gesture.OpenPWM(gc.PWMChip, gc.PWMChannel, opts...)
		if err != nil {
			a.gestureFault(ctx, "open", err)
			return nil
		}
		a.actuator = pwm
	}
	ctrl, err := gesture.NewController(ctx, a.actuator, gesture.WithNeutral(int(gc.Neutral)))
	if err != nil {
		if rerr := a.actuator.Release(); rerr != nil {
			slog.Debug("gesture: release after failed init", "err", rerr)
		}
		a.gestureFault(ctx, "init", err)
		return nil
	}
	d := gesture.NewDispatcher(ctrl, gesture.WithDispatchMetrics(a.metrics))
	a.gestures = newSpeakingGesture(d, motion)

	// The dispatcher must stop before the controller parks the servo.
	a.closers = append(a.closers,
		func() error { d.Close(); return nil },
		func() error { ctrl.Cleanup(); return nil },
	)
	slog.Info("gestures enabled", "chip", gc.PWMChip, "channel", gc.PWMChannel, "on_speaking", motion)
	return nil
}

func (a *App) gestureFault(ctx context.Context, stage string, err error) {
	slog.Warn("gesture: actuator unavailable", "stage", stage, "err", err)
	a.metrics.RecordGestureFault(ctx, stage)
}

// OpsHandler serves /metrics, /healthz and /readyz.
func (a *App) OpsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Sessions returns the conversation manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Voice returns the speaker.
func (a *App) Voice() *speaker.Voice { return a.voice }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the ops server and one conversation and blocks until the
// conversation ends or ctx is cancelled. A farewell returns nil; a
// cancellation returns the context error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if a.ops != nil {
		g.Go(func() error {
			slog.Info("ops server listening", "addr", a.ops.Addr)
			if err := a.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), opsShutdownTimeout)
			defer scancel()
			return a.ops.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		// The conversation ending stops everything else.
		defer cancel()
		if err := a.sessions.Start(gctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
		return a.sessions.Wait(context.WithoutCancel(gctx))
	})

	slog.Info("app running", "device", a.cfg.Device.Name)
	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the parts of a changed configuration that can take
// effect without a restart. It is meant as a [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged {
		a.voice.SetProfile(voiceProfile(d.NewVoice))
		slog.Info("config reload: voice changed", "voice_id", d.NewVoice.VoiceID, "style", d.NewVoice.Style)
	}
	if d.GestureChanged && a.gestures != nil {
		if m, err := gesture.ParseMotion(d.NewOnSpeaking); err == nil {
			a.gestures.Set(m)
			slog.Info("config reload: speaking motion changed", "motion", m)
		}
	}
	if d.LinesChanged {
		slog.Info("config reload: conversation lines take effect on the next conversation")
	}
	a.sessions.SetConfig(new)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: restart required to apply changes", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the conversation and tears down all subsystems in
// init order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("session stop error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// voiceProfile converts a config.VoiceConfig to speaker.Profile.
func voiceProfile(vc config.VoiceConfig) speaker.Profile {
	return speaker.Profile{
		VoiceID:       vc.VoiceID,
		Language:      vc.Language,
		Style:         vc.Style,
		StyleDegree:   vc.StyleDegree,
		Pitch:         vc.Pitch,
		Rate:          vc.Rate,
		Speed:         vc.Speed,
		PitchVariance: vc.PitchVariance,
	}
}

// SlogLevel maps a configured level to slog.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// speakingGesture dispatches the currently configured speaking motion in
// place of the one the loop asks for, so a reload takes effect mid
// conversation.
type speakingGesture struct {
	d      *gesture.Dispatcher
	motion atomic.Value
}

func newSpeakingGesture(d *gesture.Dispatcher, m gesture.Motion) *speakingGesture {
	g := &speakingGesture{d: d}
	g.motion.Store(m)
	return g
}

func (g *speakingGesture) Set(m gesture.Motion) { g.motion.Store(m) }

func (g *speakingGesture) Current() gesture.Motion { return g.motion.Load().(gesture.Motion) }

func (g *speakingGesture) Dispatch(gesture.Motion) bool { return g.d.Dispatch(g.Current()) }
