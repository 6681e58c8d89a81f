package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/chytonpide/chipi/pkg/provider/llm"
	llmmock "github.com/chytonpide/chipi/pkg/provider/llm/mock"
	"github.com/chytonpide/chipi/pkg/provider/stt"
	sttmock "github.com/chytonpide/chipi/pkg/provider/stt/mock"
	"github.com/chytonpide/chipi/pkg/provider/tts"
	ttsmock "github.com/chytonpide/chipi/pkg/provider/tts/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errors.New("503"), ModelName: "gpt-4o-mini"}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "안녕!"}, ModelName: "claude"}

	f := NewLLMFallback("openai", primary, BreakerConfig{})
	f.AddFallback("anthropic", secondary)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "안녕!" {
		t.Fatalf("content = %q", resp.Content)
	}
	if len(primary.Requests()) != 1 || len(secondary.Requests()) != 1 {
		t.Fatalf("primary %d calls, secondary %d calls", len(primary.Requests()), len(secondary.Requests()))
	}
	if f.Model() != "gpt-4o-mini" {
		t.Fatalf("Model = %q, want primary model", f.Model())
	}
}

func TestSTTFallback_NoMatchIsSuccess(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{}
	secondary := &sttmock.Provider{Results: []stt.Recognition{{Status: stt.StatusRecognized, Text: "x"}}}
	f := NewSTTFallback("azure", primary, BreakerConfig{})
	f.AddFallback("whisper", secondary)

	rec, err := f.Recognize(context.Background(), stt.Utterance{WAV: []byte{1}})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != stt.StatusNoMatch {
		t.Fatalf("status = %v, want no match from primary", rec.Status)
	}
	if secondary.Calls() != 0 {
		t.Fatal("secondary consulted after a no-match")
	}
}

func TestSTTFallback_ErrorFailsOver(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{RecognizeErr: errors.New("HTTP 401")}
	secondary := &sttmock.Provider{Results: []stt.Recognition{{Status: stt.StatusRecognized, Text: "안녕"}}}
	f := NewSTTFallback("azure", primary, BreakerConfig{})
	f.AddFallback("whisper", secondary)

	rec, err := f.Recognize(context.Background(), stt.Utterance{WAV: []byte{1}})
	if err != nil || rec.Text != "안녕" {
		t.Fatalf("got %+v, %v", rec, err)
	}
}

func TestTTSFallback_Synthesize(t *testing.T) {
	t.Parallel()

	req := tts.SynthesisRequest{Text: "안녕", VoiceID: "v"}

	tests := []struct {
		name           string
		primaryErr     error
		wantSecondary  int
		wantErr        bool
		wantTimeoutErr bool
	}{
		{name: "primary succeeds"},
		{name: "provider error fails over", primaryErr: tts.ProviderError("azure", "HTTP 500", nil), wantSecondary: 1},
		{name: "timeout does not fail over", primaryErr: tts.TransportError("azure", context.DeadlineExceeded), wantErr: true, wantTimeoutErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary := &ttsmock.Provider{SynthesizeErr: tt.primaryErr}
			secondary := &ttsmock.Provider{}
			f := NewTTSFallback("azure", primary, BreakerConfig{})
			f.AddFallback("supertone", secondary)

			_, err := f.Synthesize(context.Background(), req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantTimeoutErr && !tts.IsTimeout(err) {
				t.Fatalf("err = %v, want timeout", err)
			}
			if got := len(secondary.Requests()); got != tt.wantSecondary {
				t.Fatalf("secondary calls = %d, want %d", got, tt.wantSecondary)
			}
		})
	}
}

func TestTTSFallback_OpenBreakersReportSynthesisError(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SynthesizeErr: tts.ProviderError("azure", "HTTP 500", nil)}
	f := NewTTSFallback("azure", primary, BreakerConfig{MaxFailures: 1})

	_, _ = f.Synthesize(context.Background(), tts.SynthesisRequest{Text: "a"})
	_, err := f.Synthesize(context.Background(), tts.SynthesisRequest{Text: "b"})

	var se *tts.SynthesisError
	if !errors.As(err, &se) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want SynthesisError wrapping ErrCircuitOpen", err)
	}
	if len(primary.Requests()) != 1 {
		t.Fatalf("primary calls = %d, want 1", len(primary.Requests()))
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{ListVoicesErr: errors.New("403")}
	secondary := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "v1"}}}
	f := NewTTSFallback("supertone", primary, BreakerConfig{})
	f.AddFallback("azure", secondary)

	voices, err := f.ListVoices(context.Background())
	if err != nil || len(voices) != 1 {
		t.Fatalf("voices = %v, err = %v", voices, err)
	}
}
