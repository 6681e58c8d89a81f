// Package mock provides a test double for speaker.Speaker.
package mock

import (
	"context"
	"sync"

	"github.com/chytonpide/chipi/internal/speaker"
	"github.com/chytonpide/chipi/internal/tone"
)

// Line records one Speak call.
type Line struct {
	Text     string
	Decision tone.Decision
}

// Speaker is a mock implementation of speaker.Speaker.
type Speaker struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned by every Speak call.
	SpeakErr error

	// OnSpeak, if set, is called synchronously from Speak before it returns.
	OnSpeak func(text string, d tone.Decision)

	// Lines records every Speak call in order.
	Lines []Line
}

var _ speaker.Speaker = (*Speaker)(nil)

// Speak implements speaker.Speaker.
func (s *Speaker) Speak(_ context.Context, text string, d tone.Decision) error {
	s.mu.Lock()
	s.Lines = append(s.Lines, Line{Text: text, Decision: d})
	err, hook := s.SpeakErr, s.OnSpeak
	s.mu.Unlock()

	if hook != nil {
		hook(text, d)
	}
	return err
}

// Spoken returns a copy of the recorded lines.
func (s *Speaker) Spoken() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Line(nil), s.Lines...)
}

// Texts returns the text of every recorded line.
func (s *Speaker) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Lines))
	for i, l := range s.Lines {
		out[i] = l.Text
	}
	return out
}

// Reset clears recorded lines.
func (s *Speaker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lines = nil
}
