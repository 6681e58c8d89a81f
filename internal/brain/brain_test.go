package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chytonpide/chipi/pkg/provider/llm"
	llmmock "github.com/chytonpide/chipi/pkg/provider/llm/mock"
)

func TestSubmit_ReturnsTrimmedReply(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  안녕! 반가워.\n"}}
	s := NewSession(p, WithDeviceSerial("SN-42"), WithSampling(0.7, 120))

	got, err := s.Submit(context.Background(), "안녕")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got != "안녕! 반가워." {
		t.Fatalf("reply = %q", got)
	}

	reqs := p.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	req := reqs[0]
	if req.SystemPrompt != DefaultSystemPrompt {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0] != (llm.Message{Role: llm.RoleUser, Content: "안녕"}) {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Temperature != 0.7 || req.MaxTokens != 120 {
		t.Errorf("sampling = %v/%d", req.Temperature, req.MaxTokens)
	}
	if want := "chipi:SN-42:" + s.ID(); req.User != want {
		t.Errorf("user tag = %q, want %q", req.User, want)
	}
}

func TestSubmit_CarriesHistory(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "응"}}
	s := NewSession(p)
	ctx := context.Background()

	for _, q := range []string{"하나", "둘"} {
		if _, err := s.Submit(ctx, q); err != nil {
			t.Fatal(err)
		}
	}
	reqs := p.Requests()
	second := reqs[1].Messages
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "하나"},
		{Role: llm.RoleAssistant, Content: "응"},
		{Role: llm.RoleUser, Content: "둘"},
	}
	if fmt.Sprint(second) != fmt.Sprint(want) {
		t.Fatalf("second request = %+v\nwant %+v", second, want)
	}
}

func TestSubmit_HistoryWindow(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	s := NewSession(p, WithHistoryTurns(2))
	for i := range 5 {
		if _, err := s.Submit(context.Background(), fmt.Sprintf("q%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	h := s.History()
	if len(h) != 4 {
		t.Fatalf("history = %d messages, want 4", len(h))
	}
	if h[0].Content != "q3" || h[2].Content != "q4" {
		t.Fatalf("history kept the wrong turns: %+v", h)
	}
}

func TestSubmit_NoMemory(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	s := NewSession(p, WithHistoryTurns(0))
	_, _ = s.Submit(context.Background(), "a")
	_, _ = s.Submit(context.Background(), "b")
	if n := len(p.Requests()[1].Messages); n != 1 {
		t.Fatalf("second request carries %d messages, want 1", n)
	}
}

func TestSubmit_EmptyReplyIsNotRemembered(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "   "}}
	s := NewSession(p)

	got, err := s.Submit(context.Background(), "안녕")
	if err != nil || got != "" {
		t.Fatalf("got %q, %v; want empty reply without error", got, err)
	}
	if len(s.History()) != 0 {
		t.Fatal("an empty exchange must not enter the history")
	}
}

func TestSubmit_ProviderFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("503 overloaded")
	s := NewSession(&llmmock.Provider{CompleteErr: cause})

	_, err := s.Submit(context.Background(), "안녕")
	if !errors.Is(err, ErrInferenceUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("err = %v, want ErrInferenceUnavailable wrapping cause", err)
	}
}

func TestSubmit_Timeout(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Delay: time.Second}
	s := NewSession(p, WithTimeout(20*time.Millisecond))

	_, err := s.Submit(context.Background(), "안녕")
	if !errors.Is(err, ErrInferenceUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	s := NewSession(p, WithAIName("치피"))
	_, _ = s.Submit(context.Background(), "a")
	before := s.ID()

	s.Reset()
	if s.ID() == before {
		t.Fatal("Reset kept the session id")
	}
	if _, err := uuid.Parse(s.ID()); err != nil {
		t.Fatalf("session id %q is not a uuid: %v", s.ID(), err)
	}
	if len(s.History()) != 0 {
		t.Fatal("Reset kept the history")
	}
	_, _ = s.Submit(context.Background(), "b")
	if tag := p.Requests()[1].User; !strings.HasPrefix(tag, "치피:") || !strings.HasSuffix(tag, s.ID()) {
		t.Fatalf("user tag = %q", tag)
	}
}
