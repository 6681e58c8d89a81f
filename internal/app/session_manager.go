package app

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
	"github.com/chytonpide/chipi/internal/config"
	"github.com/chytonpide/chipi/internal/gesture"
	"github.com/chytonpide/chipi/internal/observe"
	"github.com/chytonpide/chipi/internal/orchestrator"
	"github.com/chytonpide/chipi/internal/speaker"
	"github.com/chytonpide/chipi/pkg/provider/llm"
)

// ErrNoSession is returned by [SessionManager.Stop] and
// [SessionManager.Wait] when no conversation has been started.
var ErrNoSession = errors.New("session: no active session")

// SessionInfo holds metadata about the current conversation.
type SessionInfo struct {
	// SessionID is the unique identifier for this conversation.
	SessionID string

	// DeviceSerial identifies the unit the conversation runs on.
	DeviceSerial string

	// StartedAt is when the conversation was started.
	StartedAt time.Time
}

// SessionManager runs one conversation at a time. A conversation is a fresh
// reasoning session plus an orchestrator loop; it ends on farewell, on a
// fatal loop error or when stopped.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	cfg    *config.Config
	deps   SessionManagerConfig
	active bool
	info   SessionInfo
	orch   *orchestrator.Orchestrator
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config *config.Config

	// LLM backs the reasoning session. Ignored when Backend is set.
	LLM     llm.Provider
	LLMName string

	// Backend replaces the LLM-backed session. Used by tests.
	Backend brain.Backend

	Listener capture.Listener
	Speaker  speaker.Speaker
	Intro    orchestrator.IntroPlayer
	Gestures orchestrator.GestureDispatcher
	Metrics  *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{cfg: cfg.Config, deps: cfg}
}

// SetConfig replaces the configuration used by the next Start. A running
// conversation keeps its lines.
func (sm *SessionManager) SetConfig(cfg *config.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg = cfg
}

// Start begins a new conversation in the background. It creates a fresh
// reasoning session, so no history carries over from the previous one.
//
// Returns an error if a conversation is already active.
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return fmt.Errorf("session: a session is already active (id=%s)", sm.info.SessionID)
	}

	cfg := sm.cfg
	now := time.Now().UTC()
	sessionID := fmt.Sprintf("session-%s-%s", sanitizeName(cfg.Device.Name), now.Format("20060102T150405Z"))

	backend := sm.deps.Backend
	if backend == nil {
		backend = sm.newBrain(cfg)
	}

	motion, err := gesture.ParseMotion(cfg.Gesture.OnSpeaking)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	conv := cfg.Conversation
	orch, err := orchestrator.New(orchestrator.Services{
		Listener: sm.deps.Listener,
		Backend:  backend,
		Speaker:  sm.deps.Speaker,
		Intro:    sm.deps.Intro,
		Gestures: sm.deps.Gestures,
	}, orchestrator.Config{
		Greeting:     conv.Greeting,
		Farewell:     conv.Farewell,
		Fallback:     conv.Fallback,
		ExitKeywords: conv.ExitKeywords,
		IntroAudio:   conv.IntroAudio,
		Timeouts: capture.Timeouts{
			InitialSilence: cfg.Capture.InitialSilence(),
			EndSilence:     cfg.Capture.EndSilence(),
			MaxUtterance:   cfg.Capture.MaxUtterance(),
		},
		StopOnRecognitionCanceled: conv.StopOnRecognitionCanceled,
		SpeakingMotion:            motion,
	},
		orchestrator.WithMetrics(sm.deps.Metrics),
		orchestrator.WithTransitionHook(func(from, to orchestrator.State) {
			slog.Debug("session: state", "session_id", sessionID, "from", from, "to", to)
		}),
	)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	sm.active = true
	sm.orch = orch
	sm.cancel = cancel
	sm.done = done
	sm.err = nil
	sm.info = SessionInfo{
		SessionID:    sessionID,
		DeviceSerial: cfg.Device.Serial,
		StartedAt:    now,
	}

	go func() {
		err := orch.Run(runCtx)
		cancel()

		sm.mu.Lock()
		sm.active = false
		sm.err = err
		sm.mu.Unlock()
		close(done)

		switch {
		case err == nil:
			slog.Info("session ended", "session_id", sessionID)
		case errors.Is(err, context.Canceled):
			slog.Info("session stopped", "session_id", sessionID)
		default:
			slog.Error("session failed", "session_id", sessionID, "err", err)
		}
	}()

	slog.Info("session started",
		"session_id", sessionID,
		"device_serial", cfg.Device.Serial,
		"speaking_motion", motion,
	)
	return nil
}

func (sm *SessionManager) newBrain(cfg *config.Config) *brain.Session {
	opts := []brain.Option{
		brain.WithDeviceSerial(cfg.Device.Serial),
		brain.WithAIName(cfg.Device.Name),
		brain.WithHistoryTurns(cfg.Conversation.HistoryTurns),
		brain.WithTimeout(cfg.Conversation.InferenceTimeout),
		brain.WithProviderName(sm.deps.LLMName),
		brain.WithMetrics(sm.deps.Metrics),
	}
	if cfg.Conversation.SystemPrompt != "" {
		opts = append(opts, brain.WithSystemPrompt(cfg.Conversation.SystemPrompt))
	}
	return brain.NewSession(sm.deps.LLM, opts...)
}

// Wait blocks until the current conversation ends and returns its result:
// nil after a farewell, the context error when it was stopped, or the loop
// error. If ctx ends first, Wait returns ctx.Err() and the conversation
// keeps running.
func (sm *SessionManager) Wait(ctx context.Context) error {
	sm.mu.Lock()
	done := sm.done
	sm.mu.Unlock()
	if done == nil {
		return ErrNoSession
	}
	select {
	case <-done:
		sm.mu.Lock()
		defer sm.mu.Unlock()
		return sm.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the active conversation and waits for the loop to release
// its devices.
//
// Returns an error if no conversation is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return ErrNoSession
	}
	cancel, done := sm.cancel, sm.done
	sm.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsActive reports whether a conversation is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the latest conversation.
// Returns zero value if none was started.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Orchestrator returns the latest conversation's orchestrator.
// Returns nil if none was started.
func (sm *SessionManager) Orchestrator() *orchestrator.Orchestrator {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.orch
}

// sanitizeName replaces spaces with hyphens and lowercases a name
// for use in session IDs.
func sanitizeName(name string) string {
	if name == "" {
		return "default"
	}
	return strings.ToLower(strings.ReplaceAll(name, " ", "-"))
}
