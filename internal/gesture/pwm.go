package gesture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	defaultSysfsRoot = "/sys/class/pwm"
	servoPeriod      = 20 * time.Millisecond
	exportWait       = time.Second
)

// Default SG90 pulse widths.
const (
	DefaultMinPulse = 500 * time.Microsecond
	DefaultMaxPulse = 1900 * time.Microsecond
)

// Compile-time interface assertion.
var _ Actuator = (*PWM)(nil)

// PWM is an Actuator on a Linux sysfs PWM channel. The pulse width is
// mapped linearly from value -1..1 onto [minPulse, maxPulse] with a 20ms
// period.
type PWM struct {
	root     string
	chip     int
	channel  int
	dir      string
	minPulse time.Duration
	maxPulse time.Duration
	exported bool
}

// PWMOption is a functional option for PWM.
type PWMOption func(*PWM)

// WithSysfsRoot overrides /sys/class/pwm. Used by tests.
func WithSysfsRoot(root string) PWMOption {
	return func(p *PWM) {
		p.root = root
	}
}

// WithPulseRange sets the pulse widths for -1 and 1.
func WithPulseRange(minPulse, maxPulse time.Duration) PWMOption {
	return func(p *PWM) {
		if minPulse > 0 && maxPulse > minPulse {
			p.minPulse, p.maxPulse = minPulse, maxPulse
		}
	}
}

// OpenPWM exports chip/channel if needed, sets the servo period and enables
// the output.
func OpenPWM(chip, channel int, opts ...PWMOption) (*PWM, error) {
	p := &PWM{
		root:     defaultSysfsRoot,
		chip:     chip,
		channel:  channel,
		minPulse: DefaultMinPulse,
		maxPulse: DefaultMaxPulse,
	}
	for _, o := range opts {
		o(p)
	}
	chipDir := filepath.Join(p.root, "pwmchip"+strconv.Itoa(chip))
	p.dir = filepath.Join(chipDir, "pwm"+strconv.Itoa(channel))

	if _, err := os.Stat(p.dir); errors.Is(err, os.ErrNotExist) {
		if err := writeInt(filepath.Join(chipDir, "export"), int64(channel)); err != nil {
			return nil, fmt.Errorf("gesture: export pwm: %w", err)
		}
		p.exported = true
		if err := waitForDir(p.dir, exportWait); err != nil {
			return nil, p.openFailed(fmt.Errorf("gesture: export pwm: %w", err))
		}
	}
	if err := writeInt(filepath.Join(p.dir, "period"), servoPeriod.Nanoseconds()); err != nil {
		return nil, p.openFailed(fmt.Errorf("gesture: set period: %w", err))
	}
	if err := writeInt(filepath.Join(p.dir, "enable"), 1); err != nil {
		return nil, p.openFailed(fmt.Errorf("gesture: enable pwm: %w", err))
	}
	return p, nil
}

// openFailed hands back a channel OpenPWM exported itself before err is
// returned.
func (p *PWM) openFailed(err error) error {
	if !p.exported {
		return err
	}
	if uerr := p.unexport(); uerr != nil {
		return errors.Join(err, fmt.Errorf("gesture: unexport pwm: %w", uerr))
	}
	return err
}

func (p *PWM) unexport() error {
	return writeInt(filepath.Join(p.root, "pwmchip"+strconv.Itoa(p.chip), "unexport"), int64(p.channel))
}

// PulseFor returns the pulse width for value v, clamped to [-1,1].
func (p *PWM) PulseFor(v float64) time.Duration {
	v = max(-1, min(1, v))
	span := float64(p.maxPulse - p.minPulse)
	return p.minPulse + time.Duration((v+1)/2*span)
}

// SetValue implements Actuator.
func (p *PWM) SetValue(v float64) error {
	return writeInt(filepath.Join(p.dir, "duty_cycle"), p.PulseFor(v).Nanoseconds())
}

// Release implements Actuator. It disables the output and unexports the
// channel if OpenPWM exported it.
func (p *PWM) Release() error {
	err := writeInt(filepath.Join(p.dir, "enable"), 0)
	if p.exported {
		err = errors.Join(err, p.unexport())
	}
	return err
}

func writeInt(path string, v int64) error {
	return os.WriteFile(path, []byte(strconv.FormatInt(v, 10)), 0o644)
}

// waitForDir polls for the sysfs node that appears asynchronously after an
// export.
func waitForDir(dir string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(dir); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s did not appear", dir)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
