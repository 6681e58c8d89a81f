// Package audio defines the local audio I/O used by the agent: a [Source]
// that captures raw PCM from a microphone and a [Player] that plays a
// synthesized clip and blocks until it finishes.
//
// Both are narrow interfaces so that the capture and speaker packages can be
// tested without a sound card. The command-backed implementations shell out
// to ALSA utilities (arecord, aplay) and mpg123, which are present on the
// Raspberry Pi images the device ships with.
package audio

import (
	"context"
	"io"
)

// Container identifies the encoding of a complete audio clip.
type Container string

const (
	// ContainerWAV is a RIFF/WAV file with PCM samples.
	ContainerWAV Container = "wav"

	// ContainerMP3 is an MPEG-1 Layer III stream.
	ContainerMP3 Container = "mp3"
)

// Ext returns the file extension, including the leading dot.
func (c Container) Ext() string {
	if c == "" {
		return ".bin"
	}
	return "." + string(c)
}

// Format describes raw 16-bit signed little-endian PCM.
type Format struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono.
	Channels int
}

// SpeechFormat is the capture format expected by the recognizers: 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerMs returns the number of PCM bytes in one millisecond of audio.
func (f Format) BytesPerMs() int {
	n := f.SampleRate * f.Channels * bytesPerSample / 1000
	if n <= 0 {
		return 32
	}
	return n
}

// Player plays complete clips.
//
// Play must not return until playback has finished or failed, and must
// release every resource it acquired (temporary files, device handles) on
// every exit path.
type Player interface {
	// Play plays data encoded as c.
	Play(ctx context.Context, data []byte, c Container) error

	// PlayFile plays an audio file already on disk. The file is not removed.
	PlayFile(ctx context.Context, path string) error
}

// Source opens capture streams from an input device.
type Source interface {
	// Open starts capturing PCM in format f. The caller must Close the
	// returned stream; closing releases the device.
	Open(ctx context.Context, f Format) (io.ReadCloser, error)
}
