package azure

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chytonpide/chipi/pkg/audio"
	"github.com/chytonpide/chipi/pkg/provider/tts"
)

func TestNew_RequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := New("", "koreacentral"); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := New("key", ""); err == nil {
		t.Fatal("expected error for empty region")
	}
}

func TestBuildSSML(t *testing.T) {
	t.Parallel()

	got := BuildSSML("ko-KR", tts.SynthesisRequest{
		Text:         "준비됐어!",
		VoiceID:      "ko-KR-SeoHyeonNeural",
		Style:        "cheerful",
		StyleDegree:  2.0,
		PitchPercent: 15,
		RatePercent:  30,
	})
	want := `<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" xml:lang="ko-KR">` +
		`<voice name="ko-KR-SeoHyeonNeural">` +
		`<mstts:express-as style="cheerful" styledegree="2.0">` +
		`<prosody pitch="+15%" rate="+30%">준비됐어!</prosody>` +
		`</mstts:express-as></voice></speak>`
	if got != want {
		t.Fatalf("BuildSSML:\n got  %s\n want %s", got, want)
	}
}

func TestBuildSSML_SignsAndEscaping(t *testing.T) {
	t.Parallel()

	got := BuildSSML("ko-KR", tts.SynthesisRequest{
		Text:         `a<b & "c"`,
		VoiceID:      "v",
		Style:        "sad",
		StyleDegree:  0.5,
		PitchPercent: -10,
	})
	for _, frag := range []string{
		`pitch="-10%"`,
		`rate="+0%"`,
		`styledegree="0.5"`,
		`a&lt;b &amp; &#34;c&#34;`,
	} {
		if !strings.Contains(got, frag) {
			t.Errorf("SSML missing %q: %s", frag, got)
		}
	}
}

func TestBuildSSML_WellFormed(t *testing.T) {
	t.Parallel()

	req := tts.SynthesisRequest{
		Text:    "it's <b> & \"quoted\"\n다음 줄",
		VoiceID: `v" onload="x`,
		Style:   "a'b",
	}
	got := BuildSSML("ko-KR", req)

	var doc struct {
		Voice struct {
			Name    string `xml:"name,attr"`
			Express struct {
				Style   string `xml:"style,attr"`
				Prosody string `xml:"prosody"`
			} `xml:"express-as"`
		} `xml:"voice"`
	}
	if err := xml.Unmarshal([]byte(got), &doc); err != nil {
		t.Fatalf("SSML is not well-formed: %v\n%s", err, got)
	}
	if doc.Voice.Name != req.VoiceID {
		t.Errorf("voice name = %q, want %q", doc.Voice.Name, req.VoiceID)
	}
	if doc.Voice.Express.Style != req.Style {
		t.Errorf("style = %q, want %q", doc.Voice.Express.Style, req.Style)
	}
	if doc.Voice.Express.Prosody != req.Text {
		t.Errorf("text = %q, want %q", doc.Voice.Express.Prosody, req.Text)
	}
}

func TestBuildSSML_NoStyle(t *testing.T) {
	t.Parallel()

	got := BuildSSML("ko-KR", tts.SynthesisRequest{Text: "x", VoiceID: "v"})
	if strings.Contains(got, "express-as") {
		t.Fatalf("unexpected express-as without style: %s", got)
	}
}

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cognitiveservices/v1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "key" {
			t.Errorf("missing subscription key header")
		}
		if r.Header.Get("X-Microsoft-OutputFormat") != defaultOutputFormat {
			t.Errorf("output format = %q", r.Header.Get("X-Microsoft-OutputFormat"))
		}
		if r.Header.Get("Content-Type") != "application/ssml+xml" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte("mp3-audio"))
	}))
	defer srv.Close()

	p, err := New("key", "koreacentral", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Synthesize(context.Background(), tts.SynthesisRequest{
		Text: "안녕!", VoiceID: "ko-KR-SeoHyeonNeural", Style: "cheerful", StyleDegree: 5, PitchPercent: 300,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Audio) != "mp3-audio" {
		t.Fatalf("audio = %q", res.Audio)
	}
	if res.Container != audio.ContainerMP3 || res.SampleRate != 48000 {
		t.Fatalf("container/rate = %s/%d, want mp3/48000", res.Container, res.SampleRate)
	}
	// Out-of-range values are clamped before rendering.
	if !strings.Contains(gotBody, `styledegree="2.0"`) || !strings.Contains(gotBody, `pitch="+200%"`) {
		t.Fatalf("request not clamped: %s", gotBody)
	}
}

func TestSynthesize_ProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid SSML", http.StatusBadRequest)
	}))
	defer srv.Close()

	p, _ := New("key", "r", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), tts.SynthesisRequest{Text: "x"})

	var se *tts.SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *tts.SynthesisError", err)
	}
	if se.Reason != tts.ReasonProviderError {
		t.Fatalf("Reason = %v, want provider_error", se.Reason)
	}
	if !strings.Contains(se.Detail, "400") || !strings.Contains(se.Detail, "invalid SSML") {
		t.Fatalf("Detail = %q, want status and body", se.Detail)
	}
}

func TestSynthesize_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p, _ := New("key", "r", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	_, err := p.Synthesize(context.Background(), tts.SynthesisRequest{Text: "x"})
	if !tts.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	p, _ := New("key", "r", WithBaseURL("http://127.0.0.1:1"))
	_, err := p.Synthesize(context.Background(), tts.SynthesisRequest{Text: ""})
	if !errors.Is(err, tts.ErrEmptyText) || !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Fatalf("err = %v, want ErrEmptyText wrapped in synthesis failure", err)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cognitiveservices/voices/list" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"ShortName":"ko-KR-SeoHyeonNeural","DisplayName":"SeoHyeon","Locale":"ko-KR","StyleList":["cheerful","sad"]}]`))
	}))
	defer srv.Close()

	p, _ := New("key", "r", WithBaseURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "ko-KR-SeoHyeonNeural" || len(voices[0].Styles) != 2 {
		t.Fatalf("voices = %+v", voices)
	}
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	c, rate := parseOutputFormat("riff-24khz-16bit-mono-pcm")
	if c != audio.ContainerWAV || rate != 24000 {
		t.Fatalf("got %s/%d, want wav/24000", c, rate)
	}
}
