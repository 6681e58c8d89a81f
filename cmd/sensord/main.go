// Command sensord receives temperature and humidity readings from the
// device's sensor board and serves them over HTTP and websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chytonpide/chipi/internal/app"
	"github.com/chytonpide/chipi/internal/config"
	"github.com/chytonpide/chipi/internal/health"
	"github.com/chytonpide/chipi/internal/observe"
	"github.com/chytonpide/chipi/internal/telemetry"
	"github.com/chytonpide/chipi/internal/telemetry/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	listen := flag.String("listen", "", "listen address, overrides telemetry.listen_addr")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensord: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Telemetry.ListenAddr = *listen
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: app.SlogLevel(cfg.Server.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:  "chipi-sensord",
		DeviceSerial: cfg.Device.Serial,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	// ── Store ─────────────────────────────────────────────────────────────────
	hc := health.New()
	var store telemetry.Store
	if dsn := cfg.Telemetry.PostgresDSN; dsn != "" {
		pg, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open postgres store", "err", err)
			return 1
		}
		defer pg.Close()
		hc.Add(health.Ping("postgres", pg))
		store = pg
		slog.Info("using postgres store")
	} else {
		store = telemetry.NewMemoryStore(cfg.Telemetry.Retain)
		slog.Info("using in-memory store", "retain", cfg.Telemetry.Retain)
	}

	srv := telemetry.NewServer(store,
		telemetry.WithMetrics(observe.DefaultMetrics()),
		telemetry.WithHealth(hc),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", srv.Handler())

	httpSrv := &http.Server{
		Addr:              cfg.Telemetry.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("sensor server listening", "addr", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return 0
}

// loadConfig reads path when given, otherwise starts from the defaults.
// Provider credentials are not required here.
func loadConfig(path string) (*config.Config, error) {
	opts := []config.LoadOption{config.WithEnv(os.LookupEnv), config.WithProviders()}
	if path == "" {
		return config.LoadFromReader(strings.NewReader(""), opts...)
	}
	return config.Load(path, config.WithProviders())
}
