// Command chipi runs the voice companion: it greets, listens, answers and
// gestures until the user says goodbye.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/chytonpide/chipi/internal/app"
	"github.com/chytonpide/chipi/internal/config"
	"github.com/chytonpide/chipi/internal/observe"
	"github.com/chytonpide/chipi/internal/resilience"
)

func main() {
	code := safeRun(os.Stdin, os.Stderr, run)
	os.Exit(code)
}

// safeRun is the last line of defence: a panic or a failed start is
// reported with diagnostics, and the process waits for Enter so the message
// stays visible on the device console.
func safeRun(in io.Reader, out io.Writer, run func() int) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(out, "chipi: fatal error: %v\n\n%s\n", r, debug.Stack())
			code = 2
		}
		if code != 0 {
			waitForEnter(in, out)
		}
	}()
	return run()
}

func waitForEnter(in io.Reader, out io.Writer) {
	fmt.Fprintln(out, "press Enter to exit")
	_, _ = bufio.NewReader(in).ReadString('\n')
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "chipi: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "chipi: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("chipi starting",
		"config", *configPath,
		"device", cfg.Device.Name,
		"serial", cfg.Device.Serial,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:  "chipi",
		DeviceSerial: cfg.Device.Serial,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)

	providers, err := app.BuildProviders(cfg, reg, resilience.BreakerConfig{
		OnStateChange: func(name string, from, to resilience.State) {
			if to == resilience.StateOpen {
				slog.Warn("provider unavailable, using fallbacks", "provider", name)
			}
		},
	})
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Live reload ───────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          chipi: startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Voice.VoiceID, len(cfg.Providers.TTSFallbacks))
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model, len(cfg.Providers.STTFallbacks))
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model, len(cfg.Providers.LLMFallbacks))
	gestures := "(disabled)"
	if cfg.Gesture.Enabled {
		gestures = cfg.Gesture.OnSpeaking
	}
	fmt.Printf("║  Gestures        : %-19s ║\n", gestures)
	if cfg.Server.OpsListenAddr != "" {
		fmt.Printf("║  Ops addr        : %-19s ║\n", cfg.Server.OpsListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string, fallbacks int) {
	value := name
	if detail != "" {
		value = name + " / " + detail
	}
	if fallbacks > 0 {
		value = fmt.Sprintf("%s +%d", value, fallbacks)
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
