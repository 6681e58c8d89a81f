// Package config provides the configuration schema, loader, environment
// overlay and provider registry for the chipi agent and its tools.
package config

import (
	"fmt"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Device       DeviceConfig       `yaml:"device"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Voice        VoiceConfig        `yaml:"voice"`
	Capture      CaptureConfig      `yaml:"capture"`
	Conversation ConversationConfig `yaml:"conversation"`
	Gesture      GestureConfig      `yaml:"gesture"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Overridden by CHIPI_LOG_LEVEL.
	LogLevel LogLevel `yaml:"log_level"`

	// OpsListenAddr serves /metrics, /healthz and /readyz. Empty disables
	// the ops server.
	OpsListenAddr string `yaml:"ops_listen_addr"`
}

// DeviceConfig identifies the physical unit.
type DeviceConfig struct {
	// Serial is reported to the reasoning backend. Overridden by
	// DEVICE_SERIAL.
	Serial string `yaml:"serial"`

	// Name is the assistant's name.
	Name string `yaml:"name"`
}

// ProvidersConfig selects the backend for each remote service. The
// fallback lists are tried in order when the primary fails.
type ProvidersConfig struct {
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the common block for every provider. Name selects the
// factory in the [Registry].
type ProviderEntry struct {
	Name    string         `yaml:"name"`
	APIKey  string         `yaml:"api_key"`
	BaseURL string         `yaml:"base_url"`
	Model   string         `yaml:"model"`
	Options map[string]any `yaml:"options"`
}

// Option returns Options[key] formatted as a string, or "" when absent.
func (e ProviderEntry) Option(key string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// DurationOption parses Options[key] as a duration. Integers are taken as
// seconds. Absent or malformed values return def.
func (e ProviderEntry) DurationOption(key string, def time.Duration) time.Duration {
	switch v := e.Options[key].(type) {
	case int:
		return time.Duration(v) * time.Second
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func (e *ProviderEntry) setOption(key, value string) {
	if e.Options == nil {
		e.Options = make(map[string]any)
	}
	e.Options[key] = value
}

// VoiceConfig is the base voice profile. Tone decisions are layered on top
// of it per utterance.
type VoiceConfig struct {
	VoiceID       string  `yaml:"voice_id"`
	Language      string  `yaml:"language"`
	Style         string  `yaml:"style"`
	StyleDegree   float64 `yaml:"style_degree"`
	Pitch         int     `yaml:"pitch"`
	Rate          int     `yaml:"rate"`
	Speed         float64 `yaml:"speed"`
	PitchVariance float64 `yaml:"pitch_variance"`
}

// CaptureConfig tunes microphone capture.
type CaptureConfig struct {
	InitialSilenceMS int `yaml:"initial_silence_ms"`
	EndSilenceMS     int `yaml:"end_silence_ms"`
	MaxUtteranceMS   int `yaml:"max_utterance_ms"`

	// Device is the ALSA capture device.
	Device string `yaml:"device"`

	// Threshold is the RMS level above which a frame counts as speech.
	Threshold float64 `yaml:"threshold"`
}

// InitialSilence returns InitialSilenceMS as a duration.
func (c CaptureConfig) InitialSilence() time.Duration {
	return time.Duration(c.InitialSilenceMS) * time.Millisecond
}

// EndSilence returns EndSilenceMS as a duration.
func (c CaptureConfig) EndSilence() time.Duration {
	return time.Duration(c.EndSilenceMS) * time.Millisecond
}

// MaxUtterance returns MaxUtteranceMS as a duration.
func (c CaptureConfig) MaxUtterance() time.Duration {
	return time.Duration(c.MaxUtteranceMS) * time.Millisecond
}

// ConversationConfig holds the fixed lines and turn-taking policy.
type ConversationConfig struct {
	Greeting     string   `yaml:"greeting"`
	Farewell     string   `yaml:"farewell"`
	Fallback     string   `yaml:"fallback"`
	ExitKeywords []string `yaml:"exit_keywords"`

	// IntroAudio is an optional WAV played instead of the greeting.
	IntroAudio string `yaml:"intro_audio"`

	// SystemPrompt replaces the built-in persona when non-empty.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryTurns is the number of exchanges kept as context.
	HistoryTurns int `yaml:"history_turns"`

	InferenceTimeout time.Duration `yaml:"inference_timeout"`

	// StopOnRecognitionCanceled ends the conversation when recognition is
	// canceled instead of listening again.
	StopOnRecognitionCanceled bool `yaml:"stop_on_recognition_canceled"`
}

// GestureConfig drives the servo that animates the device.
type GestureConfig struct {
	Enabled    bool    `yaml:"enabled"`
	PWMChip    int     `yaml:"pwm_chip"`
	PWMChannel int     `yaml:"pwm_channel"`
	MinPulseUS int     `yaml:"min_pulse_us"`
	MaxPulseUS int     `yaml:"max_pulse_us"`
	Neutral    float64 `yaml:"neutral"`

	// OnSpeaking is the motion started whenever the agent speaks:
	// none, patterned or nod.
	OnSpeaking string `yaml:"on_speaking"`

	// SysfsRoot overrides /sys/class/pwm. Used by tests.
	SysfsRoot string `yaml:"sysfs_root"`
}

// TelemetryConfig configures the sensor telemetry server.
type TelemetryConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// PostgresDSN selects the PostgreSQL store. Empty keeps readings in
	// memory.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Retain caps the in-memory store.
	Retain int `yaml:"retain"`
}
