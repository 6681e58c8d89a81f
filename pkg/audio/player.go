package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrUnsupportedContainer is returned when no player command is configured
// for a clip's container.
var ErrUnsupportedContainer = errors.New("audio: unsupported container")

// Runner executes an external command and waits for it to exit.
type Runner func(ctx context.Context, name string, args ...string) error

// Compile-time interface assertion.
var _ Player = (*CommandPlayer)(nil)

// CommandPlayer plays clips by writing them to a temporary file and running
// a command-line player on it. Each Play call owns its own file, so calls do
// not share state; the turn loop still serialises them.
type CommandPlayer struct {
	tempDir  string
	commands map[Container][]string
	run      Runner
}

// PlayerOption is a functional option for CommandPlayer.
type PlayerOption func(*CommandPlayer)

// WithTempDir sets the directory for temporary clip files. Defaults to
// os.TempDir().
func WithTempDir(dir string) PlayerOption {
	return func(p *CommandPlayer) {
		p.tempDir = dir
	}
}

// WithCommand sets the player command for a container. The clip path is
// appended as the last argument.
func WithCommand(c Container, argv ...string) PlayerOption {
	return func(p *CommandPlayer) {
		if len(argv) == 0 {
			delete(p.commands, c)
			return
		}
		p.commands[c] = argv
	}
}

// WithRunner replaces the command runner. Intended for tests.
func WithRunner(r Runner) PlayerOption {
	return func(p *CommandPlayer) {
		p.run = r
	}
}

// NewCommandPlayer returns a CommandPlayer using aplay for WAV and mpg123
// for MP3.
func NewCommandPlayer(opts ...PlayerOption) *CommandPlayer {
	p := &CommandPlayer{
		commands: map[Container][]string{
			ContainerWAV: {"aplay", "-q"},
			ContainerMP3: {"mpg123", "-q"},
		},
		run: runCommand,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play writes data to a temporary file, plays it and blocks until the player
// exits. The file is removed on every path, including playback failure and
// context cancellation.
func (p *CommandPlayer) Play(ctx context.Context, data []byte, c Container) error {
	if len(data) == 0 {
		return errors.New("audio: empty clip")
	}
	argv, ok := p.commands[c]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedContainer, c)
	}

	f, err := os.CreateTemp(p.tempDir, "chipi-*"+c.Ext())
	if err != nil {
		return fmt.Errorf("audio: create temp file: %w", err)
	}
	path := f.Name()
	defer removeTemp(path)

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("audio: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audio: close temp file: %w", err)
	}

	return p.exec(ctx, argv, path)
}

// PlayFile plays an existing file. The container is inferred from the
// extension; anything other than .mp3 is treated as WAV.
func (p *CommandPlayer) PlayFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audio: stat %s: %w", path, err)
	}
	c := ContainerWAV
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		c = ContainerMP3
	}
	argv, ok := p.commands[c]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedContainer, c)
	}
	return p.exec(ctx, argv, path)
}

func (p *CommandPlayer) exec(ctx context.Context, argv []string, path string) error {
	args := append(append([]string(nil), argv[1:]...), path)
	if err := p.run(ctx, argv[0], args...); err != nil {
		return fmt.Errorf("audio: play %s: %w", filepath.Base(path), err)
	}
	return nil
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("audio: failed to remove temp clip", "path", path, "err", err)
	}
}

// runCommand runs name with args and folds stderr into the returned error.
func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
