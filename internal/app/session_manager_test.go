package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chytonpide/chipi/internal/app"
	brainmock "github.com/chytonpide/chipi/internal/brain/mock"
	"github.com/chytonpide/chipi/internal/capture"
	capturemock "github.com/chytonpide/chipi/internal/capture/mock"
	speakermock "github.com/chytonpide/chipi/internal/speaker/mock"
)

func newTestSessionManager(results ...capture.Result) (*app.SessionManager, *capturemock.Listener, *brainmock.Backend) {
	listener := &capturemock.Listener{Results: results}
	backend := &brainmock.Backend{Reply: "좋아!"}
	sm := app.NewSessionManager(app.SessionManagerConfig{
		Config:   testConfig(),
		Backend:  backend,
		Listener: listener,
		Speaker:  &speakermock.Speaker{},
	})
	return sm, listener, backend
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()

	sm, listener, _ := newTestSessionManager()
	ctx := context.Background()

	if err := sm.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !sm.IsActive() {
		t.Fatal("expected session to be active after Start")
	}

	info := sm.Info()
	if !strings.HasPrefix(info.SessionID, "session-chipi-") {
		t.Errorf("SessionID = %q, want session-chipi- prefix", info.SessionID)
	}
	if info.DeviceSerial != "CHIPI-TEST-001" {
		t.Errorf("DeviceSerial = %q", info.DeviceSerial)
	}
	if sm.Orchestrator() == nil {
		t.Error("Orchestrator should not be nil")
	}

	if err := sm.Start(ctx); err == nil {
		t.Fatal("expected error starting a second session")
	}

	for listener.Calls() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sm.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if sm.IsActive() {
		t.Fatal("expected session to be inactive after Stop")
	}
	if err := sm.Wait(stopCtx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() = %v, want context.Canceled", err)
	}
	if err := sm.Stop(stopCtx); !errors.Is(err, app.ErrNoSession) {
		t.Fatalf("second Stop() = %v, want ErrNoSession", err)
	}
}

func TestSessionManager_EndsOnFarewell(t *testing.T) {
	t.Parallel()

	sm, _, backend := newTestSessionManager(capture.Transcript("안녕"), capture.Transcript("종료"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sm.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := sm.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if backend.Calls() != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.Calls())
	}

	// A finished session can be followed by a new one.
	if err := sm.Start(ctx); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	if err := sm.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestSessionManager_WaitWithoutStart(t *testing.T) {
	t.Parallel()

	sm, _, _ := newTestSessionManager()
	if err := sm.Wait(context.Background()); !errors.Is(err, app.ErrNoSession) {
		t.Fatalf("Wait() = %v, want ErrNoSession", err)
	}
	if err := sm.Stop(context.Background()); !errors.Is(err, app.ErrNoSession) {
		t.Fatalf("Stop() = %v, want ErrNoSession", err)
	}
}

func TestSessionManager_SetConfigAppliesToNextSession(t *testing.T) {
	t.Parallel()

	sm, _, _ := newTestSessionManager(capture.Transcript("종료"))
	cfg := testConfig()
	cfg.Gesture.OnSpeaking = "wiggle"
	sm.SetConfig(cfg)

	if err := sm.Start(context.Background()); err == nil {
		t.Fatal("expected the unknown motion from the new config to be rejected")
	}
}
