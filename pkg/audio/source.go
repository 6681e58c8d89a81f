package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// Compile-time interface assertion.
var _ Source = (*CommandSource)(nil)

// CommandSource captures PCM by running arecord and reading its stdout.
type CommandSource struct {
	device  string
	command string
}

// NewCommandSource returns a source for the ALSA device (e.g. "default",
// "plughw:1,0"). An empty device uses "default".
func NewCommandSource(device string) *CommandSource {
	if device == "" {
		device = "default"
	}
	return &CommandSource{device: device, command: "arecord"}
}

// Open starts arecord writing raw S16_LE PCM in format f.
func (s *CommandSource) Open(ctx context.Context, f Format) (io.ReadCloser, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid capture format %+v", f)
	}
	cmd := exec.CommandContext(ctx, s.command,
		"-q",
		"-D", s.device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(f.SampleRate),
		"-c", strconv.Itoa(f.Channels),
		"-t", "raw",
	)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start %s: %w", s.command, err)
	}
	return &commandStream{cmd: cmd, out: out}, nil
}

// commandStream owns a running capture process. Close kills it and reaps it
// so the device is free for the next Open.
type commandStream struct {
	cmd  *exec.Cmd
	out  io.ReadCloser
	once sync.Once
	err  error
}

func (c *commandStream) Read(p []byte) (int, error) { return c.out.Read(p) }

func (c *commandStream) Close() error {
	c.once.Do(func() {
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		err := c.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			c.err = fmt.Errorf("audio: stop capture: %w", err)
		}
	})
	return c.err
}
