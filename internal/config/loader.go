package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigurationMissing is wrapped by [Validate] when a selected provider
// lacks the credentials or settings it needs.
var ErrConfigurationMissing = errors.New("config: configuration missing")

// ValidProviderNames lists the built-in provider names per kind.
var ValidProviderNames = map[string][]string{
	"tts": {"azure", "supertone"},
	"stt": {"azure", "whisper"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Environment variables read by [ApplyEnv].
const (
	EnvDeviceSerial      = "DEVICE_SERIAL"
	EnvAzureSpeechKey    = "AZURE_SPEECH_KEY"
	EnvAzureSpeechRegion = "AZURE_SPEECH_REGION"
	EnvSupertoneAPIKey   = "SUPERTON_API_KEY"
	EnvSupertoneVoiceID  = "SUPERTON_VOICE_ID"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvLogLevel          = "CHIPI_LOG_LEVEL"
)

// LookupFunc reads one environment variable, like [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// LoadOption configures [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	env   LookupFunc
	kinds []string
}

// WithEnv overlays environment variables read through lookup.
func WithEnv(lookup LookupFunc) LoadOption {
	return func(o *loadOptions) {
		o.env = lookup
	}
}

// WithProviders restricts provider validation to the given kinds ("tts",
// "stt", "llm"). Tools that use only some providers pass the kinds they
// need; with no kinds, no provider is checked.
func WithProviders(kinds ...string) LoadOption {
	return func(o *loadOptions) {
		o.kinds = kinds
	}
}

// Load reads the YAML file at path, overlays the process environment and
// validates the result.
func Load(path string, opts ...LoadOption) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, append([]LoadOption{WithEnv(os.LookupEnv)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, fills defaults, applies the optional
// environment overlay and validates. An empty document yields the defaults.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	o := loadOptions{kinds: providerKinds}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if o.env != nil {
		ApplyEnv(cfg, o.env)
	}
	ApplyDefaults(cfg)
	if err := errors.Join(validateSettings(cfg), ValidateProviders(cfg, o.kinds...)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays credentials and identity from the environment. Keys are
// applied to every provider entry of the matching name, fallbacks included.
// Empty variables are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvDeviceSerial); ok {
		cfg.Device.Serial = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}

	for _, e := range cfg.entries() {
		switch e.Name {
		case "azure":
			if v, ok := get(EnvAzureSpeechKey); ok {
				e.APIKey = v
			}
			if v, ok := get(EnvAzureSpeechRegion); ok {
				e.setOption("region", v)
			}
		case "supertone":
			if v, ok := get(EnvSupertoneAPIKey); ok {
				e.APIKey = v
			}
			if v, ok := get(EnvSupertoneVoiceID); ok {
				e.setOption("voice_id", v)
			}
		case "openai":
			if v, ok := get(EnvOpenAIAPIKey); ok {
				e.APIKey = v
			}
		}
	}
}

// entries returns pointers to every provider entry in cfg.
func (cfg *Config) entries() []*ProviderEntry {
	p := &cfg.Providers
	out := []*ProviderEntry{&p.TTS, &p.STT, &p.LLM}
	for i := range p.TTSFallbacks {
		out = append(out, &p.TTSFallbacks[i])
	}
	for i := range p.STTFallbacks {
		out = append(out, &p.STTFallbacks[i])
	}
	for i := range p.LLMFallbacks {
		out = append(out, &p.LLMFallbacks[i])
	}
	return out
}

// ApplyDefaults fills every zero field with the value the device ships with.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Device.Name == "" {
		cfg.Device.Name = "chipi"
	}

	p := &cfg.Providers
	if p.TTS.Name == "" {
		p.TTS.Name = "azure"
	}
	if p.STT.Name == "" {
		p.STT.Name = "azure"
	}
	if p.LLM.Name == "" {
		p.LLM.Name = "openai"
	}
	if p.LLM.Name == "openai" && p.LLM.Model == "" {
		p.LLM.Model = "gpt-4o-mini"
	}

	v := &cfg.Voice
	if v.VoiceID == "" {
		switch p.TTS.Name {
		case "supertone":
			v.VoiceID = p.TTS.Option("voice_id")
		default:
			v.VoiceID = "ko-KR-SeoHyeonNeural"
		}
	}
	if v.Language == "" {
		v.Language = "ko"
	}
	if v.Style == "" {
		v.Style = "cheerful"
		if v.StyleDegree == 0 {
			v.StyleDegree = 2.0
		}
		if v.Pitch == 0 {
			v.Pitch = 15
		}
		if v.Rate == 0 {
			v.Rate = 30
		}
	}

	c := &cfg.Capture
	if c.InitialSilenceMS <= 0 {
		c.InitialSilenceMS = 3000
	}
	if c.EndSilenceMS <= 0 {
		c.EndSilenceMS = 1000
	}
	if c.MaxUtteranceMS <= 0 {
		c.MaxUtteranceMS = 15000
	}
	if c.Device == "" {
		c.Device = "default"
	}

	conv := &cfg.Conversation
	if conv.Greeting == "" {
		conv.Greeting = "준비됐어! 말 걸어줘!"
	}
	if conv.Farewell == "" {
		conv.Farewell = "안녕!"
	}
	if conv.Fallback == "" {
		conv.Fallback = "미안, 다시 말해줄래?"
	}
	if len(conv.ExitKeywords) == 0 {
		conv.ExitKeywords = []string{"종료", "그만", "꺼져"}
	}
	if conv.HistoryTurns <= 0 {
		conv.HistoryTurns = 10
	}
	if conv.InferenceTimeout <= 0 {
		conv.InferenceTimeout = 30 * time.Second
	}

	g := &cfg.Gesture
	if g.MinPulseUS == 0 {
		g.MinPulseUS = 500
	}
	if g.MaxPulseUS == 0 {
		g.MaxPulseUS = 1900
	}
	if g.Neutral == 0 {
		g.Neutral = 90
	}
	if g.OnSpeaking == "" {
		g.OnSpeaking = "patterned"
	}

	if cfg.Telemetry.ListenAddr == "" {
		cfg.Telemetry.ListenAddr = ":8000"
	}
	if cfg.Telemetry.Retain <= 0 {
		cfg.Telemetry.Retain = 1000
	}
}

var providerKinds = []string{"tts", "stt", "llm"}

// Validate checks cfg for coherence, including every provider. Every
// problem is reported; missing credentials wrap [ErrConfigurationMissing].
func Validate(cfg *Config) error {
	return errors.Join(validateSettings(cfg), ValidateProviders(cfg, providerKinds...))
}

// ValidateProviders checks the primary and fallback entries of the given
// provider kinds.
func ValidateProviders(cfg *Config, kinds ...string) error {
	var errs []error
	missing := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrConfigurationMissing, fmt.Sprintf(format, args...)))
	}

	check := func(kind, path string, e ProviderEntry) {
		if e.Name == "" {
			missing("%s.name is required", path)
			return
		}
		warnUnknownProvider(kind, e.Name)
		switch e.Name {
		case "azure":
			if e.APIKey == "" {
				missing("%s.api_key is required for azure (%s)", path, EnvAzureSpeechKey)
			}
			if e.Option("region") == "" && e.BaseURL == "" {
				missing("%s.options.region is required for azure (%s)", path, EnvAzureSpeechRegion)
			}
		case "supertone":
			if e.APIKey == "" {
				missing("%s.api_key is required for supertone (%s)", path, EnvSupertoneAPIKey)
			}
			if e.Option("voice_id") == "" {
				missing("%s.options.voice_id is required for supertone (%s)", path, EnvSupertoneVoiceID)
			}
		case "whisper":
			if e.BaseURL == "" {
				missing("%s.base_url is required for whisper", path)
			}
		}
		if kind == "llm" {
			if e.Model == "" {
				missing("%s.model is required", path)
			}
			if e.Name == "openai" && e.APIKey == "" && e.BaseURL == "" {
				missing("%s.api_key is required for openai (%s)", path, EnvOpenAIAPIKey)
			}
		}
	}

	p := cfg.Providers
	for _, kind := range kinds {
		primary, fallbacks := p.TTS, p.TTSFallbacks
		switch kind {
		case "stt":
			primary, fallbacks = p.STT, p.STTFallbacks
		case "llm":
			primary, fallbacks = p.LLM, p.LLMFallbacks
		}
		check(kind, "providers."+kind, primary)
		for i, e := range fallbacks {
			check(kind, fmt.Sprintf("providers.%s_fallbacks[%d]", kind, i), e)
		}
	}
	return errors.Join(errs...)
}

func validateSettings(cfg *Config) error {
	var errs []error
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	v := cfg.Voice
	if v.StyleDegree < 0 || v.StyleDegree > 2 {
		errs = append(errs, fmt.Errorf("voice.style_degree %.2f is out of range [0, 2]", v.StyleDegree))
	}
	if v.Speed != 0 && (v.Speed < 0.5 || v.Speed > 2) {
		errs = append(errs, fmt.Errorf("voice.speed %.2f is out of range [0.5, 2]", v.Speed))
	}
	if v.PitchVariance < 0 || v.PitchVariance > 2 {
		errs = append(errs, fmt.Errorf("voice.pitch_variance %.2f is out of range [0, 2]", v.PitchVariance))
	}

	c := cfg.Capture
	if c.EndSilenceMS < 0 || c.InitialSilenceMS < 0 || c.MaxUtteranceMS < 0 {
		errs = append(errs, errors.New("capture timeouts must not be negative"))
	}
	if c.MaxUtteranceMS > 0 && c.EndSilenceMS >= c.MaxUtteranceMS {
		errs = append(errs, fmt.Errorf("capture.end_silence_ms %d must be shorter than max_utterance_ms %d", c.EndSilenceMS, c.MaxUtteranceMS))
	}

	if slices.ContainsFunc(cfg.Conversation.ExitKeywords, func(k string) bool { return strings.TrimSpace(k) == "" }) {
		errs = append(errs, errors.New("conversation.exit_keywords must not contain empty keywords"))
	}
	if cfg.Conversation.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("conversation.history_turns %d must not be negative", cfg.Conversation.HistoryTurns))
	}

	g := cfg.Gesture
	if g.Enabled {
		if g.MinPulseUS <= 0 || g.MaxPulseUS <= g.MinPulseUS {
			errs = append(errs, fmt.Errorf("gesture pulse range [%d, %d] is invalid", g.MinPulseUS, g.MaxPulseUS))
		}
		if g.Neutral < 0 || g.Neutral > 180 {
			errs = append(errs, fmt.Errorf("gesture.neutral %.1f is out of range [0, 180]", g.Neutral))
		}
	}
	switch g.OnSpeaking {
	case "", "none", "patterned", "nod":
	default:
		errs = append(errs, fmt.Errorf("gesture.on_speaking %q is invalid; valid values: none, patterned, nod", g.OnSpeaking))
	}

	return errors.Join(errs...)
}

// warnUnknownProvider logs names missing from [ValidProviderNames]. They
// may belong to a factory registered by the caller.
func warnUnknownProvider(kind, name string) {
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
