// Package mock provides in-memory mock implementations of [audio.Player] and
// [audio.Source] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments, and expose exported fields that
// control return values.
//
// Typical usage:
//
//	src := &mock.Source{Chunks: [][]byte{speech, silence}}
//	stream, _ := src.Open(ctx, audio.SpeechFormat)
//	defer stream.Close()
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/chytonpide/chipi/pkg/audio"
)

// ─── Player ──────────────────────────────────────────────────────────────────

// PlayCall records a single invocation of Player.Play.
type PlayCall struct {
	Data      []byte
	Container audio.Container
}

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by Play.
	PlayErr error

	// PlayFileErr is returned by PlayFile.
	PlayFileErr error

	// PlayCalls records every call to Play.
	PlayCalls []PlayCall

	// PlayFileCalls records the path of every call to PlayFile.
	PlayFileCalls []string
}

var _ audio.Player = (*Player)(nil)

// Play records the call and returns PlayErr.
func (p *Player) Play(_ context.Context, data []byte, c audio.Container) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	p.PlayCalls = append(p.PlayCalls, PlayCall{Data: cp, Container: c})
	return p.PlayErr
}

// PlayFile records the call and returns PlayFileErr.
func (p *Player) PlayFile(_ context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlayFileCalls = append(p.PlayFileCalls, path)
	return p.PlayFileErr
}

// Calls returns a snapshot of recorded Play calls.
func (p *Player) Calls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlayCall(nil), p.PlayCalls...)
}

// Reset clears all recorded calls.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlayCalls = nil
	p.PlayFileCalls = nil
}

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Each Open returns a
// stream that yields Chunks in order and then ReadErr (io.EOF if nil).
type Source struct {
	mu sync.Mutex

	// Chunks is the PCM data yielded by each opened stream, one Read per chunk.
	Chunks [][]byte

	// ReadErr is returned after all chunks are consumed. Defaults to io.EOF.
	ReadErr error

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// BlockAfterChunks makes the stream block after the last chunk until its
	// context is cancelled or the stream is closed, mimicking a live device.
	BlockAfterChunks bool

	// OpenCalls counts calls to Open.
	OpenCalls int

	// CloseCalls counts calls to Close on opened streams.
	CloseCalls int

	// OpenFormats records the format of every Open call.
	OpenFormats []audio.Format
}

var _ audio.Source = (*Source)(nil)

// Open records the call and returns a stream over Chunks.
func (s *Source) Open(ctx context.Context, f audio.Format) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls++
	s.OpenFormats = append(s.OpenFormats, f)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return &stream{
		ctx:    ctx,
		src:    s,
		chunks: append([][]byte(nil), s.Chunks...),
		block:  s.BlockAfterChunks,
		done:   make(chan struct{}),
	}, nil
}

// Closes returns the number of closed streams.
func (s *Source) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}

// Opens returns the number of Open calls.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OpenCalls
}

type stream struct {
	ctx    context.Context
	src    *Source
	chunks [][]byte
	block  bool

	once sync.Once
	done chan struct{}
}

func (st *stream) Read(p []byte) (int, error) {
	if len(st.chunks) > 0 {
		n := copy(p, st.chunks[0])
		if n < len(st.chunks[0]) {
			st.chunks[0] = st.chunks[0][n:]
		} else {
			st.chunks = st.chunks[1:]
		}
		return n, nil
	}
	if st.block {
		select {
		case <-st.ctx.Done():
			return 0, st.ctx.Err()
		case <-st.done:
			return 0, io.ErrClosedPipe
		}
	}
	st.src.mu.Lock()
	err := st.src.ReadErr
	st.src.mu.Unlock()
	if err == nil {
		err = io.EOF
	}
	return 0, err
}

func (st *stream) Close() error {
	st.once.Do(func() {
		close(st.done)
		st.src.mu.Lock()
		st.src.CloseCalls++
		st.src.mu.Unlock()
	})
	return nil
}
