// Package azure provides an STT provider backed by the Azure AI Speech REST
// API for short audio.
//
// The short-audio endpoint accepts up to 60 seconds of WAV per request and
// answers with a RecognitionStatus. "Success" yields text; the silence and
// no-match statuses map to [stt.StatusNoMatch]; anything else is an error.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chytonpide/chipi/pkg/provider/stt"
)

const (
	defaultLanguage = "ko-KR"
	defaultTimeout  = 15 * time.Second
	maxErrorBody    = 1024
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the Azure short-audio REST API.
type Provider struct {
	apiKey     string
	baseURL    string
	language   string
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the regional endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithLanguage sets the default recognition language. Defaults to "ko-KR".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request timeout. Defaults to 15s.
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
		return nil, fmt.Errorf("azure stt: apiKey must not be empty")
	}
	if region == "" {
		return nil, fmt.Errorf("azure stt: region must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    "https://" + region + ".stt.speech.microsoft.com",
		language:   defaultLanguage,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type recognitionResponse struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
}

// Recognize implements stt.Provider.
func (p *Provider) Recognize(ctx context.Context, u stt.Utterance) (stt.Recognition, error) {
	if len(u.WAV) == 0 {
		return stt.Recognition{Status: stt.StatusNoMatch}, nil
	}
	lang := u.Language
	if lang == "" {
		lang = p.language
	}
	rate := u.Format.SampleRate
	if rate <= 0 {
		rate = 16000
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("language", lang)
	q.Set("format", "simple")
	endpoint := p.baseURL + "/speech/recognition/conversation/cognitiveservices/v1?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(u.WAV))
	if err != nil {
		return stt.Recognition{}, fmt.Errorf("azure stt: build request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	req.Header.Set("Content-Type", "audio/wav; codecs=audio/pcm; samplerate="+strconv.Itoa(rate))
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Recognition{}, fmt.Errorf("azure stt: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return stt.Recognition{}, fmt.Errorf("azure stt: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var r recognitionResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return stt.Recognition{}, fmt.Errorf("azure stt: decode response: %w", err)
	}
	return interpret(r)
}

// interpret maps a RecognitionStatus onto a Recognition.
func interpret(r recognitionResponse) (stt.Recognition, error) {
	switch r.RecognitionStatus {
	case "Success":
		text := strings.TrimSpace(r.DisplayText)
		if text == "" {
			return stt.Recognition{Status: stt.StatusNoMatch}, nil
		}
		return stt.Recognition{Status: stt.StatusRecognized, Text: text}, nil
	case "NoMatch", "InitialSilenceTimeout", "BabbleTimeout":
		return stt.Recognition{Status: stt.StatusNoMatch}, nil
	default:
		return stt.Recognition{}, fmt.Errorf("azure stt: recognition status %q", r.RecognitionStatus)
	}
}
