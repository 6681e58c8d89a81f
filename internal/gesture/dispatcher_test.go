package gesture_test

import (
	"context"
	"slices"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/chytonpide/chipi/internal/gesture"
	"github.com/chytonpide/chipi/internal/gesture/mock"
	"github.com/chytonpide/chipi/internal/observe"
)

// panickyActuator panics on every SetValue once armed.
type panickyActuator struct {
	armed atomic.Bool
	sets  atomic.Int32
}

func (a *panickyActuator) SetValue(float64) error {
	a.sets.Add(1)
	if a.armed.Load() {
		panic("pwm: duty_cycle handle closed")
	}
	return nil
}

func (a *panickyActuator) Release() error { return nil }

func TestDispatcher_DropsWhileBusy(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	p := &mock.Performer{Gate: gate}
	d := gesture.NewDispatcher(p)
	defer d.Close()

	if !d.Dispatch(gesture.MotionPatterned) {
		t.Fatal("first dispatch rejected")
	}
	if d.Dispatch(gesture.MotionNod) {
		t.Fatal("second dispatch accepted while the first is running")
	}
	close(gate)
	d.Wait()

	if d.Busy() {
		t.Fatal("dispatcher still busy after Wait")
	}
	if !d.Dispatch(gesture.MotionNod) {
		t.Fatal("dispatch after completion rejected")
	}
	d.Wait()

	if got := p.Performed(); !slices.Equal(got, []gesture.Motion{gesture.MotionPatterned, gesture.MotionNod}) {
		t.Fatalf("performed = %v", got)
	}
}

func TestDispatcher_IgnoresNone(t *testing.T) {
	t.Parallel()

	p := &mock.Performer{}
	d := gesture.NewDispatcher(p)
	defer d.Close()

	if d.Dispatch(gesture.MotionNone) {
		t.Fatal("MotionNone should not be dispatched")
	}
	d.Wait()
	if len(p.Performed()) != 0 {
		t.Fatal("performer called for MotionNone")
	}
}

func TestDispatcher_SwallowsErrors(t *testing.T) {
	t.Parallel()

	p := &mock.Performer{Err: gesture.ErrActuatorFault}
	d := gesture.NewDispatcher(p)
	defer d.Close()

	if !d.Dispatch(gesture.MotionNod) {
		t.Fatal("dispatch rejected")
	}
	d.Wait()
	if d.Busy() {
		t.Fatal("a failed motion must free the dispatcher")
	}
}

func TestDispatcher_CloseCancelsAndRejects(t *testing.T) {
	t.Parallel()

	p := &mock.Performer{Gate: make(chan struct{})}
	d := gesture.NewDispatcher(p)
	d.Dispatch(gesture.MotionPatterned)

	// Close must not hang on the gated motion.
	d.Close()
	if d.Dispatch(gesture.MotionNod) {
		t.Fatal("dispatch accepted after Close")
	}
}

func TestDispatcher_WithController(t *testing.T) {
	t.Parallel()

	c, act := newController(t)
	d := gesture.NewDispatcher(c)
	defer d.Close()

	d.Dispatch(gesture.MotionNod)
	d.Wait()
	if len(act.Values) == 0 || c.Position() != c.Neutral() {
		t.Fatalf("nod: %d commands, position %d", len(act.Values), c.Position())
	}
}

func TestDispatcher_RecoversFromPanickingActuator(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	act := &panickyActuator{}
	c, err := gesture.NewController(context.Background(), act, gesture.WithSleep(noSleep))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	act.armed.Store(true)

	d := gesture.NewDispatcher(c, gesture.WithDispatchMetrics(metrics))
	defer d.Close()

	if !d.Dispatch(gesture.MotionNod) {
		t.Fatal("dispatch rejected")
	}
	d.Wait()
	if d.Busy() {
		t.Fatal("a panicking motion must free the dispatcher")
	}

	// The controller lock must not be left held.
	act.armed.Store(false)
	before := act.sets.Load()
	if !d.Dispatch(gesture.MotionNod) {
		t.Fatal("dispatch after recovered panic rejected")
	}
	d.Wait()
	if act.sets.Load() == before {
		t.Fatal("second motion never reached the actuator")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var faults int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || m.Name != "chipi.gesture.faults" {
				continue
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("motion")); ok && v.AsString() == string(gesture.MotionNod) {
					faults += dp.Value
				}
			}
		}
	}
	if faults != 1 {
		t.Fatalf("gesture faults = %d, want 1", faults)
	}
}
