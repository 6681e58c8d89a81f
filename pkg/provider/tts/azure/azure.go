// Package azure provides a TTS provider backed by the Azure AI Speech REST
// API.
//
// Each request is a single SSML document carrying the voice, an
// mstts:express-as style with its degree, and signed percentage prosody
// offsets:
//
//	p, err := azure.New(key, "koreacentral")
//	res, err := p.Synthesize(ctx, tts.SynthesisRequest{
//	    Text: "안녕!", VoiceID: "ko-KR-SeoHyeonNeural", Style: "cheerful",
//	    StyleDegree: 2.0, PitchPercent: 15, RatePercent: 30,
//	})
package azure

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chytonpide/chipi/pkg/audio"
	"github.com/chytonpide/chipi/pkg/provider/tts"
)

const (
	providerName = "azure"

	defaultOutputFormat = "audio-48khz-192kbitrate-mono-mp3"
	defaultLocale       = "ko-KR"
	defaultTimeout      = 30 * time.Second
	listVoicesTimeout   = 10 * time.Second

	// maxErrorBody caps how much of an error response is kept as detail.
	maxErrorBody = 1024
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the Azure Speech REST API.
type Provider struct {
	apiKey       string
	baseURL      string
	locale       string
	outputFormat string
	timeout      time.Duration
	httpClient   *http.Client
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the regional endpoint. Used by tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithLocale sets the xml:lang of generated SSML. Defaults to "ko-KR".
func WithLocale(locale string) Option {
	return func(p *Provider) {
		p.locale = locale
	}
}

// WithOutputFormat sets the X-Microsoft-OutputFormat header. Defaults to
// "audio-48khz-192kbitrate-mono-mp3".
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithTimeout sets the per-request timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// New creates a Provider for the given subscription key and region.
func New(apiKey, region string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("azure tts: apiKey must not be empty")
	}
	if region == "" {
		return nil, fmt.Errorf("azure tts: region must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      "https://" + region + ".tts.speech.microsoft.com",
		locale:       defaultLocale,
		outputFormat: defaultOutputFormat,
		timeout:      defaultTimeout,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider. It sends one SSML request and never
// retries.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	if err := req.Validate(); err != nil {
		return nil, tts.ProviderError(providerName, "", err)
	}
	req = req.Normalize()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body := BuildSSML(p.locale, req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/cognitiveservices/v1", strings.NewReader(body))
	if err != nil {
		return nil, tts.ProviderError(providerName, "build request", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", p.outputFormat)
	httpReq.Header.Set("User-Agent", "chipi")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, tts.TransportError(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, tts.ProviderError(providerName, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.TransportError(providerName, err)
	}
	if len(data) == 0 {
		return nil, tts.ProviderError(providerName, "empty audio in response", nil)
	}

	container, rate := parseOutputFormat(p.outputFormat)
	return &tts.SynthesisResult{Audio: data, Container: container, SampleRate: rate}, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, listVoicesTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/cognitiveservices/voices/list", nil)
	if err != nil {
		return nil, fmt.Errorf("azure tts: build request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure tts: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("azure tts: list voices: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure tts: read voices: %w", err)
	}
	return parseVoicesResponse(data)
}

// BuildSSML renders req as an SSML document for locale. Text and attribute
// values are XML-escaped; pitch and rate always carry an explicit sign.
func BuildSSML(locale string, req tts.SynthesisRequest) string {
	var b strings.Builder
	b.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" xml:lang="`)
	writeEscaped(&b, locale)
	b.WriteString(`">`)
	b.WriteString(`<voice name="`)
	writeEscaped(&b, req.VoiceID)
	b.WriteString(`">`)
	if req.Style != "" {
		b.WriteString(`<mstts:express-as style="`)
		writeEscaped(&b, req.Style)
		b.WriteString(`" styledegree="`)
		b.WriteString(formatDegree(req.StyleDegree))
		b.WriteString(`">`)
	}
	fmt.Fprintf(&b, `<prosody pitch="%s" rate="%s">`, signedPercent(req.PitchPercent), signedPercent(req.RatePercent))
	writeEscaped(&b, req.Text)
	b.WriteString(`</prosody>`)
	if req.Style != "" {
		b.WriteString(`</mstts:express-as>`)
	}
	b.WriteString(`</voice></speak>`)
	return b.String()
}

// signedPercent formats v as "+15%", "-10%" or "+0%".
func signedPercent(v int) string {
	return fmt.Sprintf("%+d%%", v)
}

// formatDegree always keeps a fractional part ("2.0", "0.5").
func formatDegree(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// writeEscaped writes s to b as XML character data, safe inside both text
// and quoted attribute values.
func writeEscaped(b *strings.Builder, s string) {
	// strings.Builder never returns a write error.
	_ = xml.EscapeText(b, []byte(s))
}

// parseOutputFormat derives the container and sample rate from an Azure
// output format name such as "audio-48khz-192kbitrate-mono-mp3" or
// "riff-24khz-16bit-mono-pcm".
func parseOutputFormat(format string) (audio.Container, int) {
	container := audio.ContainerMP3
	if strings.HasPrefix(format, "riff-") {
		container = audio.ContainerWAV
	}
	rate := 0
	for _, part := range strings.Split(format, "-") {
		if khz, ok := strings.CutSuffix(part, "khz"); ok {
			if n, err := strconv.Atoi(khz); err == nil {
				rate = n * 1000
			}
		}
	}
	return container, rate
}

type voiceEntry struct {
	ShortName   string   `json:"ShortName"`
	DisplayName string   `json:"DisplayName"`
	Locale      string   `json:"Locale"`
	StyleList   []string `json:"StyleList"`
}

func parseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var entries []voiceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("azure tts: decode voices: %w", err)
	}
	out := make([]tts.VoiceProfile, 0, len(entries))
	for _, e := range entries {
		out = append(out, tts.VoiceProfile{
			ID:       e.ShortName,
			Name:     e.DisplayName,
			Provider: providerName,
			Locale:   e.Locale,
			Styles:   e.StyleList,
		})
	}
	return out, nil
}
