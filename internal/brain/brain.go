// Package brain adapts an LLM into the agent's reasoning backend.
//
// A [Session] keeps a bounded window of past exchanges so that replies stay
// in context, tags every request with the device serial and a per-session
// id, and bounds each call with an inference timeout. A failed call is
// reported as [ErrInferenceUnavailable]; an empty reply is returned as the
// empty string and left to the caller to handle.
package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chytonpide/chipi/internal/observe"
	"github.com/chytonpide/chipi/pkg/provider/llm"
)

// ErrInferenceUnavailable is returned when the backend could not produce a
// reply at all.
var ErrInferenceUnavailable = errors.New("brain: inference unavailable")

// DefaultSystemPrompt gives the model its persona.
const DefaultSystemPrompt = "너는 '치피'라는 이름의 반려 식물 AI 친구야. " +
	"아이와 대화하듯 다정하고 짧게, 한두 문장으로 한국어로 대답해. " +
	"상대가 힘들어 보이면 공감하고 위로해 줘."

const (
	defaultHistoryTurns = 10
	defaultTimeout      = 30 * time.Second
)

// Backend turns a user transcript into a reply.
type Backend interface {
	// Submit sends transcript and waits for the reply. An empty reply is
	// not an error.
	Submit(ctx context.Context, transcript string) (string, error)
}

// Compile-time interface assertion.
var _ Backend = (*Session)(nil)

// Session is an LLM-backed Backend with conversation memory.
// It is safe for concurrent use, though the agent submits one turn at a time.
type Session struct {
	provider     llm.Provider
	providerName string
	systemPrompt string
	deviceSerial string
	aiName       string
	historyTurns int
	timeout      time.Duration
	temperature  float64
	maxTokens    int
	metrics      *observe.Metrics

	mu      sync.Mutex
	id      uuid.UUID
	history []llm.Message
}

// Option is a functional option for Session.
type Option func(*Session)

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(s *Session) {
		if p != "" {
			s.systemPrompt = p
		}
	}
}

// WithDeviceSerial tags requests with the device serial.
func WithDeviceSerial(serial string) Option {
	return func(s *Session) {
		s.deviceSerial = serial
	}
}

// WithAIName sets the assistant name used in the request user tag.
// Defaults to "chipi".
func WithAIName(name string) Option {
	return func(s *Session) {
		if name != "" {
			s.aiName = name
		}
	}
}

// WithHistoryTurns bounds how many past exchanges are sent. Zero disables
// memory. Defaults to 10.
func WithHistoryTurns(n int) Option {
	return func(s *Session) {
		s.historyTurns = max(0, n)
	}
}

// WithTimeout bounds a single Submit. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSampling sets temperature and max tokens. Zero keeps the provider
// default.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(s *Session) {
		s.temperature = temperature
		s.maxTokens = maxTokens
	}
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(s *Session) {
		s.providerName = name
	}
}

// WithMetrics records inference latency and provider requests on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// NewSession creates a Session backed by p.
func NewSession(p llm.Provider, opts ...Option) *Session {
	s := &Session{
		provider:     p,
		providerName: "llm",
		systemPrompt: DefaultSystemPrompt,
		aiName:       "chipi",
		historyTurns: defaultHistoryTurns,
		timeout:      defaultTimeout,
		id:           uuid.New(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the current session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id.String()
}

// History returns a copy of the remembered messages.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

// Reset forgets the conversation and starts a new session id.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.id = uuid.New()
}

// Submit implements Backend.
func (s *Session) Submit(ctx context.Context, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "brain.submit")
	defer span.End()

	user := llm.Message{Role: llm.RoleUser, Content: transcript}

	s.mu.Lock()
	msgs := make([]llm.Message, 0, len(s.history)+1)
	msgs = append(msgs, s.history...)
	msgs = append(msgs, user)
	id := s.id
	s.mu.Unlock()

	start := time.Now()
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: s.systemPrompt,
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
		User:         s.userTag(id),
	})
	s.record(ctx, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: %w", ErrInferenceUnavailable, err)
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		observe.Logger(ctx).Debug("brain: empty reply", "finish_reason", resp.FinishReason)
		return "", nil
	}
	s.remember(user, llm.Message{Role: llm.RoleAssistant, Content: reply})
	return reply, nil
}

// userTag identifies the device and session to the provider.
func (s *Session) userTag(id uuid.UUID) string {
	if s.deviceSerial == "" {
		return s.aiName + ":" + id.String()
	}
	return s.aiName + ":" + s.deviceSerial + ":" + id.String()
}

func (s *Session) remember(user, assistant llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyTurns == 0 {
		return
	}
	s.history = append(s.history, user, assistant)
	if over := len(s.history) - 2*s.historyTurns; over > 0 {
		s.history = append([]llm.Message(nil), s.history[over:]...)
	}
}

func (s *Session) record(ctx context.Context, d time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.InferenceDuration.Record(ctx, d.Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		s.metrics.RecordProviderError(ctx, s.providerName, "llm")
		slog.Debug("brain: provider error", "provider", s.providerName, "err", err)
	}
	s.metrics.RecordProviderRequest(ctx, s.providerName, "llm", status)
}
