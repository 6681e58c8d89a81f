package gesture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chytonpide/chipi/internal/observe"
)

// Performer runs canned motions. *Controller satisfies it.
type Performer interface {
	Perform(ctx context.Context, m Motion) error
}

var _ Performer = (*Controller)(nil)

// Dispatcher runs motions fire-and-forget on their own goroutine so the
// conversation loop never waits for the servo. At most one motion is in
// flight; a request arriving while one runs is dropped, never queued.
type Dispatcher struct {
	performer Performer
	metrics   *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	busy   atomic.Bool
	wg     sync.WaitGroup
}

// DispatcherOption is a functional option for Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchMetrics counts swallowed faults on m.
func WithDispatchMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a Dispatcher for p.
func NewDispatcher(p Performer, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{performer: p, ctx: ctx, cancel: cancel}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch starts m in the background and reports whether it was accepted.
// MotionNone is never dispatched. Errors and panics from the motion are
// logged and dropped.
func (d *Dispatcher) Dispatch(m Motion) bool {
	if m == MotionNone || m == "" || d.ctx.Err() != nil {
		return false
	}
	if !d.busy.CompareAndSwap(false, true) {
		slog.Debug("gesture: motion dropped, previous still running", "motion", m)
		return false
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.busy.Store(false)
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("gesture: motion panicked", "motion", m, "panic", r)
				d.fault(m)
			}
		}()
		if err := d.performer.Perform(d.ctx, m); err != nil && d.ctx.Err() == nil {
			slog.Warn("gesture: motion failed", "motion", m, "err", err)
			d.fault(m)
		}
	}()
	return true
}

func (d *Dispatcher) fault(m Motion) {
	if d.metrics != nil {
		d.metrics.RecordGestureFault(d.ctx, string(m))
	}
}

// Busy reports whether a motion is running.
func (d *Dispatcher) Busy() bool { return d.busy.Load() }

// Wait blocks until the running motion, if any, has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Close cancels a running motion, waits for it and rejects further requests.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
