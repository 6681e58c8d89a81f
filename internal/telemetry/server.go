package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/chytonpide/chipi/internal/health"
	"github.com/chytonpide/chipi/internal/observe"
)

const (
	maxBodyBytes = 64 << 10
	writeTimeout = 5 * time.Second
)

// Server serves the telemetry HTTP API.
type Server struct {
	store   Store
	hub     *Hub
	health  *health.Handler
	metrics *observe.Metrics
	now     func() time.Time
	name    string
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records reading and subscriber metrics and wraps the handler
// in the observe middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClock overrides the clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithHealth mounts h's /healthz and /readyz next to the API.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithName sets the service name reported by GET /.
func WithName(name string) Option {
	return func(s *Server) {
		s.name = name
	}
}

// NewServer creates a [Server] backed by store.
func NewServer(store Store, opts ...Option) *Server {
	s := &Server{
		store: store,
		hub:   NewHub(),
		now:   time.Now,
		name:  "Chipi Sensor Server",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Hub returns the broadcast hub of accepted readings.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /sensor/data", s.handleData)
	mux.HandleFunc("GET /sensor/readings", s.handleReadings)
	mux.HandleFunc("GET /sensor/stream", s.handleStream)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics != nil {
		return observe.Middleware(s.metrics)(mux)
	}
	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": s.name,
		"status":  "running",
		"endpoints": map[string]string{
			"POST /sensor/data":    "Send sensor data (temperature, humidity)",
			"GET /sensor/readings": "Recent readings (device_id, limit)",
			"GET /sensor/stream":   "Live readings over websocket",
			"GET /health":          "Health check",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.now().Format(time.RFC3339),
	})
}

// sensorPayload is the POST body. Pointers tell a missing measurement from
// a zero one.
type sensorPayload struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	DeviceID    string   `json:"device_id"`
	Timestamp   string   `json:"timestamp"`
}

// accept validates p, fills defaults and returns the reading to store.
func (s *Server) accept(p sensorPayload) (Reading, error) {
	switch {
	case p.Temperature == nil:
		return Reading{}, fmt.Errorf("%w: temperature is required", ErrInvalidReading)
	case p.Humidity == nil:
		return Reading{}, fmt.Errorf("%w: humidity is required", ErrInvalidReading)
	}
	now := s.now()
	r := Reading{
		ID:          uuid.NewString(),
		DeviceID:    p.DeviceID,
		Temperature: *p.Temperature,
		Humidity:    *p.Humidity,
		Timestamp:   p.Timestamp,
		ReceivedAt:  now,
	}
	if r.DeviceID == "" {
		r.DeviceID = UnknownDevice
	}
	if r.Timestamp == "" {
		r.Timestamp = now.Format(time.RFC3339)
	}
	return r, nil
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var p sensorPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&p); err != nil {
		s.recordReading(ctx, "rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed JSON body"})
		return
	}
	reading, err := s.accept(p)
	if err != nil {
		s.recordReading(ctx, "rejected")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	if err := s.store.Save(ctx, reading); err != nil {
		s.recordReading(ctx, "failed")
		log.Error("telemetry: save reading", "err", err, "device_id", reading.DeviceID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "could not store reading"})
		return
	}
	s.recordReading(ctx, "accepted")
	s.hub.Publish(reading)

	log.Info("sensor data received",
		"device_id", reading.DeviceID,
		"temperature", reading.Temperature,
		"humidity", reading.Humidity,
		"timestamp", reading.Timestamp,
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Sensor data received",
		"received_data": map[string]any{
			"device_id":   reading.DeviceID,
			"temperature": reading.Temperature,
			"humidity":    reading.Humidity,
			"timestamp":   reading.Timestamp,
		},
	})
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	q := Query{DeviceID: r.URL.Query().Get("device_id")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "limit must be a non-negative integer"})
			return
		}
		q.Limit = n
	}
	readings, err := s.store.Recent(r.Context(), q)
	if err != nil {
		observe.Logger(r.Context()).Error("telemetry: list readings", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "could not list readings"})
		return
	}
	if readings == nil {
		readings = []Reading{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(readings), "readings": readings})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("telemetry: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	readings, cancel := s.hub.Subscribe()
	defer cancel()
	s.trackSubscriber(r.Context(), 1)
	defer s.trackSubscriber(context.WithoutCancel(r.Context()), -1)

	// The feed is one-way; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case reading := <-readings:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, reading)
			wcancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("telemetry: stream write failed", "err", err)
				}
				return
			}
		}
	}
}

func (s *Server) recordReading(ctx context.Context, status string) {
	if s.metrics != nil {
		s.metrics.RecordSensorReading(ctx, status)
	}
}

func (s *Server) trackSubscriber(ctx context.Context, delta int64) {
	if s.metrics != nil {
		s.metrics.StreamSubscribers.Add(ctx, delta)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
