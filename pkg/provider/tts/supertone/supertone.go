// Package supertone provides a TTS provider backed by the Supertone REST API.
//
// Supertone takes a voice ID in the URL and expressive controls in a JSON
// body. Pitch is a shift in [-20, 20] rather than a percentage, so the
// request's PitchPercent is passed through and clamped to that range; speed
// and pitch variance use their own multipliers.
package supertone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chytonpide/chipi/pkg/audio"
	"github.com/chytonpide/chipi/pkg/provider/tts"
)

const (
	providerName = "supertone"

	defaultBaseURL    = "https://supertoneapi.com"
	defaultModel      = "sona_speech_1"
	defaultLanguage   = "ko"
	defaultTimeout    = 30 * time.Second
	listVoicesTimeout = 10 * time.Second

	maxErrorBody = 1024
)

// Voice setting bounds accepted by the API.
const (
	MinPitchShift    = -20
	MaxPitchShift    = 20
	MinSpeed         = 0.5
	MaxSpeed         = 2.0
	MinPitchVariance = 0.0
	MaxPitchVariance = 2.0
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the Supertone API.
type Provider struct {
	apiKey     string
	voiceID    string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithVoiceID sets the voice used when a request carries no VoiceID.
func WithVoiceID(id string) Option {
	return func(p *Provider) {
		p.voiceID = id
	}
}

// WithModel overrides the synthesis model. Defaults to "sona_speech_1".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithTimeout sets the synthesis request timeout. Defaults to 30s.
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

// New creates a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("supertone: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type voiceSettings struct {
	PitchShift    int     `json:"pitch_shift"`
	PitchVariance float64 `json:"pitch_variance"`
	Speed         float64 `json:"speed"`
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	Language      string        `json:"language"`
	Style         string        `json:"style"`
	Model         string        `json:"model"`
	OutputFormat  string        `json:"output_format"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// buildRequest maps a provider-neutral request onto the Supertone payload.
func (p *Provider) buildRequest(req tts.SynthesisRequest) synthesizeRequest {
	lang := req.Language
	if lang == "" {
		lang = defaultLanguage
	}
	style := req.Style
	if style == "" {
		style = "neutral"
	}
	format := string(req.Container)
	if format == "" {
		format = string(audio.ContainerWAV)
	}
	speed := req.Speed
	if speed == 0 {
		speed = 1
	}
	variance := req.PitchVariance
	if variance == 0 {
		variance = 1
	}
	return synthesizeRequest{
		Text:         req.Text,
		Language:     lang,
		Style:        style,
		Model:        p.model,
		OutputFormat: format,
		VoiceSettings: voiceSettings{
			PitchShift:    max(MinPitchShift, min(MaxPitchShift, req.PitchPercent)),
			PitchVariance: max(MinPitchVariance, min(MaxPitchVariance, variance)),
			Speed:         max(MinSpeed, min(MaxSpeed, speed)),
		},
	}
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	if err := req.Validate(); err != nil {
		return nil, tts.ProviderError(providerName, "", err)
	}
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = p.voiceID
	}
	if voiceID == "" {
		return nil, tts.ProviderError(providerName, "no voice id configured", nil)
	}

	payload := p.buildRequest(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, tts.ProviderError(providerName, "encode request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	endpoint := p.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, tts.ProviderError(providerName, "build request", err)
	}
	httpReq.Header.Set("x-sup-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

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
	return &tts.SynthesisResult{Audio: data, Container: audio.Container(payload.OutputFormat)}, nil
}

type voiceItem struct {
	VoiceID  string   `json:"voice_id"`
	Name     string   `json:"name"`
	Language []string `json:"language"`
	Styles   []string `json:"styles"`
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, listVoicesTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("supertone: build request: %w", err)
	}
	req.Header.Set("x-sup-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supertone: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supertone: list voices: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("supertone: read voices: %w", err)
	}
	return parseVoicesResponse(data)
}

// parseVoicesResponse accepts either a bare array or an {"items": [...]}
// envelope.
func parseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var items []voiceItem
	if err := json.Unmarshal(data, &items); err != nil {
		var env struct {
			Items []voiceItem `json:"items"`
		}
		if err2 := json.Unmarshal(data, &env); err2 != nil {
			return nil, fmt.Errorf("supertone: decode voices: %w", err)
		}
		items = env.Items
	}
	out := make([]tts.VoiceProfile, 0, len(items))
	for _, it := range items {
		v := tts.VoiceProfile{ID: it.VoiceID, Name: it.Name, Provider: providerName, Styles: it.Styles}
		if len(it.Language) > 0 {
			v.Locale = it.Language[0]
		}
		out = append(out, v)
	}
	return out, nil
}
