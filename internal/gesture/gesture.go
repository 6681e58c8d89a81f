// Package gesture drives the device's servo.
//
// Every motion is built from one primitive, [Controller.SetAngle], which
// clamps the angle to [0,180] and maps it linearly onto the actuator's
// [-1,1] value range. Motions are serialized by a mutex and the last
// commanded angle is cached. Actuator errors surface as [ErrActuatorFault];
// callers driving gestures from the conversation loop swallow them.
package gesture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrActuatorFault wraps every error reported by the actuator.
var ErrActuatorFault = errors.New("gesture: actuator fault")

// Angle limits in degrees.
const (
	MinAngle     = 0
	MaxAngle     = 180
	NeutralAngle = 90
)

// DefaultSettle is how long the servo is given to reach the neutral pose.
const DefaultSettle = 500 * time.Millisecond

// Actuator is the low-level output: a position value in [-1,1].
type Actuator interface {
	// SetValue moves the actuator. -1 is 0°, 0 is 90°, 1 is 180°.
	SetValue(v float64) error

	// Release stops driving the actuator and frees the handle.
	Release() error
}

// Motion names a canned gesture.
type Motion string

// Canned gestures.
const (
	MotionNone      Motion = "none"
	MotionPatterned Motion = "patterned"
	MotionNod       Motion = "nod"
)

// ParseMotion parses a configured motion name. Empty means MotionNone.
func ParseMotion(s string) (Motion, error) {
	switch m := Motion(s); m {
	case "", MotionNone:
		return MotionNone, nil
	case MotionPatterned, MotionNod:
		return m, nil
	default:
		return "", fmt.Errorf("gesture: unknown motion %q", s)
	}
}

// ClampAngle limits deg to [MinAngle, MaxAngle].
func ClampAngle(deg int) int {
	return max(MinAngle, min(MaxAngle, deg))
}

// AngleToValue converts an angle to an actuator value after clamping.
func AngleToValue(deg int) float64 {
	return float64(ClampAngle(deg))/90 - 1
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Controller sequences motions on one actuator.
type Controller struct {
	mu      sync.Mutex
	act     Actuator
	pos     int
	neutral int
	settle  time.Duration
	sleep   SleepFunc
}

// Option is a functional option for Controller.
type Option func(*Controller)

// WithNeutral sets the rest angle. Defaults to 90.
func WithNeutral(deg int) Option {
	return func(c *Controller) {
		c.neutral = ClampAngle(deg)
	}
}

// WithSettle sets the pause after moving to neutral. Defaults to 500ms.
func WithSettle(d time.Duration) Option {
	return func(c *Controller) {
		c.settle = d
	}
}

// WithSleep replaces the delay function. Tests pass one that returns
// immediately.
func WithSleep(fn SleepFunc) Option {
	return func(c *Controller) {
		c.sleep = fn
	}
}

// NewController wraps act and moves it to the neutral pose.
func NewController(ctx context.Context, act Actuator, opts ...Option) (*Controller, error) {
	c := &Controller{
		act:     act,
		neutral: NeutralAngle,
		settle:  DefaultSettle,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	c.pos = c.neutral
	if err := c.MoveTo(ctx, c.neutral, c.settle); err != nil {
		return nil, err
	}
	return c, nil
}

// Position returns the last commanded angle.
func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Neutral returns the configured rest angle.
func (c *Controller) Neutral() int { return c.neutral }

// SetAngle commands deg, clamped to [0,180], and caches it.
func (c *Controller) SetAngle(deg int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setAngle(deg)
}

func (c *Controller) setAngle(deg int) error {
	deg = ClampAngle(deg)
	if err := c.act.SetValue(AngleToValue(deg)); err != nil {
		return fmt.Errorf("%w: set %d°: %w", ErrActuatorFault, deg, err)
	}
	c.pos = deg
	return nil
}

// MoveTo commands angle and then waits settle.
func (c *Controller) MoveTo(ctx context.Context, angle int, settle time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveTo(ctx, angle, settle)
}

func (c *Controller) moveTo(ctx context.Context, angle int, settle time.Duration) error {
	if err := c.setAngle(angle); err != nil {
		return err
	}
	return c.sleep(ctx, settle)
}

// Sweep steps from start to end inclusive, one SetAngle and one delay per
// step. The direction follows from start and end; the last step lands on
// end exactly even when step does not divide the distance.
func (c *Controller) Sweep(ctx context.Context, start, end, step int, delay time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweep(ctx, start, end, step, delay)
}

func (c *Controller) sweep(ctx context.Context, start, end, step int, delay time.Duration) error {
	for _, a := range sweepAngles(ClampAngle(start), ClampAngle(end), step) {
		if err := c.setAngle(a); err != nil {
			return err
		}
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// sweepAngles lists the angles visited from start to end inclusive.
func sweepAngles(start, end, step int) []int {
	if step < 0 {
		step = -step
	}
	if step == 0 {
		step = 1
	}
	var out []int
	if start <= end {
		for a := start; a < end; a += step {
			out = append(out, a)
		}
	} else {
		for a := start; a > end; a -= step {
			out = append(out, a)
		}
	}
	return append(out, end)
}

// ShakeParams configures Shake.
type ShakeParams struct {
	Min, Max        int
	Repeats         int
	Step            int
	Delay           time.Duration
	ReturnToNeutral bool
}

// Shake sweeps Min→Max then Max→Min, Repeats times, optionally ending with
// a move to neutral.
func (c *Controller) Shake(ctx context.Context, p ShakeParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shake(ctx, p)
}

func (c *Controller) shake(ctx context.Context, p ShakeParams) error {
	for range p.Repeats {
		if err := c.sweep(ctx, p.Min, p.Max, p.Step, p.Delay); err != nil {
			return err
		}
		if err := c.sweep(ctx, p.Max, p.Min, p.Step, p.Delay); err != nil {
			return err
		}
	}
	if p.ReturnToNeutral {
		return c.moveTo(ctx, c.neutral, c.settle)
	}
	return nil
}

// DefaultPattern is the stock patterned gesture: five smooth swings between
// 45° and 135°.
func DefaultPattern() ShakeParams {
	return ShakeParams{Min: 45, Max: 135, Repeats: 5, Step: 2, Delay: 20 * time.Millisecond, ReturnToNeutral: true}
}

// PatternedGesture moves to neutral, then shakes with p and returns to
// neutral. Zero fields of p take their DefaultPattern value.
func (c *Controller) PatternedGesture(ctx context.Context, p ShakeParams) error {
	d := DefaultPattern()
	if p.Repeats <= 0 {
		p.Repeats = d.Repeats
	}
	if p.Min == 0 && p.Max == 0 {
		p.Min, p.Max = d.Min, d.Max
	}
	if p.Step <= 0 {
		p.Step = d.Step
	}
	if p.Delay <= 0 {
		p.Delay = d.Delay
	}
	p.ReturnToNeutral = true

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.moveTo(ctx, c.neutral, c.settle); err != nil {
		return err
	}
	return c.shake(ctx, p)
}

// Nod is a short, quick swing around neutral.
func (c *Controller) Nod(ctx context.Context) error {
	return c.Shake(ctx, ShakeParams{
		Min:             c.neutral - 20,
		Max:             c.neutral + 20,
		Repeats:         2,
		Step:            5,
		Delay:           15 * time.Millisecond,
		ReturnToNeutral: true,
	})
}

// Perform runs a canned motion.
func (c *Controller) Perform(ctx context.Context, m Motion) error {
	switch m {
	case MotionPatterned:
		return c.PatternedGesture(ctx, DefaultPattern())
	case MotionNod:
		return c.Nod(ctx)
	default:
		return nil
	}
}

// Cleanup moves to neutral and releases the actuator. Failures are logged
// and swallowed so that shutdown always completes.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.moveTo(context.Background(), c.neutral, c.settle); err != nil {
		slog.Warn("gesture: cleanup move to neutral", "err", err)
	}
	if err := c.act.Release(); err != nil {
		slog.Warn("gesture: release actuator", "err", err)
	}
}
