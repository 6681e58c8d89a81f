// Package telemetry receives environment readings from the device's sensor
// board, keeps the recent ones and fans them out to live subscribers.
//
// The HTTP surface is:
//
//   - GET  /                 service descriptor
//   - GET  /health           {"status":"healthy","timestamp":...}
//   - POST /sensor/data      accept one reading
//   - GET  /sensor/readings  recent readings, newest first
//   - GET  /sensor/stream    websocket feed of accepted readings
package telemetry

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidReading is returned for a reading that lacks a required field.
var ErrInvalidReading = errors.New("telemetry: invalid reading")

// UnknownDevice is the device id recorded when the sender omits one.
const UnknownDevice = "unknown"

// Reading is one temperature and humidity sample.
type Reading struct {
	// ID is assigned by the server on acceptance.
	ID string `json:"id,omitempty"`

	DeviceID    string  `json:"device_id"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`

	// Timestamp is the sender's timestamp, or the server's in RFC 3339 when
	// the sender omitted it. It is kept verbatim.
	Timestamp string `json:"timestamp"`

	// ReceivedAt is the server clock at acceptance.
	ReceivedAt time.Time `json:"received_at"`
}

// Query selects readings for [Store.Recent].
type Query struct {
	// DeviceID filters by device when non-empty.
	DeviceID string

	// Limit caps the result. Zero means DefaultLimit.
	Limit int
}

// Limits for [Query.Limit].
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultLimit
	case q.Limit > MaxLimit:
		return MaxLimit
	default:
		return q.Limit
	}
}

// Store persists accepted readings.
type Store interface {
	// Save stores r. r.ID is already set.
	Save(ctx context.Context, r Reading) error

	// Recent returns matching readings, newest first.
	Recent(ctx context.Context, q Query) ([]Reading, error)
}
