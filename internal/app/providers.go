package app

import (
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/chytonpide/chipi/internal/config"
	"github.com/chytonpide/chipi/internal/health"
	"github.com/chytonpide/chipi/internal/resilience"
	"github.com/chytonpide/chipi/pkg/provider/llm"
	"github.com/chytonpide/chipi/pkg/provider/llm/anyllm"
	oaillm "github.com/chytonpide/chipi/pkg/provider/llm/openai"
	"github.com/chytonpide/chipi/pkg/provider/stt"
	azurestt "github.com/chytonpide/chipi/pkg/provider/stt/azure"
	"github.com/chytonpide/chipi/pkg/provider/stt/whisper"
	"github.com/chytonpide/chipi/pkg/provider/tts"
	azuretts "github.com/chytonpide/chipi/pkg/provider/tts/azure"
	"github.com/chytonpide/chipi/pkg/provider/tts/supertone"
)

// Providers holds one fallback chain per remote service. The configured
// primary is tried first, then each fallback in order.
type Providers struct {
	TTS *resilience.TTSFallback
	STT *resilience.STTFallback
	LLM *resilience.LLMFallback
}

// Checkers returns one readiness check per chain. A chain is unready only
// when every member's breaker is open.
func (p *Providers) Checkers() []health.Checker {
	return []health.Checker{
		health.Breakers("tts", func() map[string]string { return stateNames(p.TTS.Group().States()) }),
		health.Breakers("stt", func() map[string]string { return stateNames(p.STT.Group().States()) }),
		health.Breakers("llm", func() map[string]string { return stateNames(p.LLM.Group().States()) }),
	}
}

func stateNames(states map[string]resilience.State) map[string]string {
	out := make(map[string]string, len(states))
	for name, s := range states {
		out[name] = s.String()
	}
	return out
}

// RegisterBuiltins wires every provider shipped with chipi into reg.
func RegisterBuiltins(reg *config.Registry) {
	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("azure", func(e config.ProviderEntry) (tts.Provider, error) {
		opts := []azuretts.Option{azuretts.WithTimeout(e.DurationOption("timeout", 15*time.Second))}
		if e.BaseURL != "" {
			opts = append(opts, azuretts.WithBaseURL(e.BaseURL))
		}
		if v := e.Option("locale"); v != "" {
			opts = append(opts, azuretts.WithLocale(v))
		}
		if v := e.Option("output_format"); v != "" {
			opts = append(opts, azuretts.WithOutputFormat(v))
		}
		return azuretts.New(e.APIKey, azureRegion(e), opts...)
	})

	reg.RegisterTTS("supertone", func(e config.ProviderEntry) (tts.Provider, error) {
		opts := []supertone.Option{
			supertone.WithVoiceID(e.Option("voice_id")),
			supertone.WithTimeout(e.DurationOption("timeout", 30*time.Second)),
		}
		if e.BaseURL != "" {
			opts = append(opts, supertone.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, supertone.WithModel(e.Model))
		}
		return supertone.New(e.APIKey, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("azure", func(e config.ProviderEntry) (stt.Provider, error) {
		opts := []azurestt.Option{azurestt.WithTimeout(e.DurationOption("timeout", 15*time.Second))}
		if e.BaseURL != "" {
			opts = append(opts, azurestt.WithBaseURL(e.BaseURL))
		}
		if v := e.Option("language"); v != "" {
			opts = append(opts, azurestt.WithLanguage(v))
		}
		return azurestt.New(e.APIKey, azureRegion(e), opts...)
	})

	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithTimeout(e.DurationOption("timeout", 30*time.Second))}
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if v := e.Option("language"); v != "" {
			opts = append(opts, whisper.WithLanguage(v))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		opts := []oaillm.Option{oaillm.WithTimeout(e.DurationOption("timeout", 30*time.Second))}
		if e.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(e.BaseURL))
		}
		if v := e.Option("organization"); v != "" {
			opts = append(opts, oaillm.WithOrganization(v))
		}
		return oaillm.New(e.APIKey, e.Model, opts...)
	})

	// "openai" keeps its own client; every other any-llm-go backend is
	// registered under its own name.
	for _, name := range anyllm.Names() {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// azureRegion returns the configured region. A custom base_url makes the
// region irrelevant, but the clients still require one.
func azureRegion(e config.ProviderEntry) string {
	if r := e.Option("region"); r != "" {
		return r
	}
	if e.BaseURL != "" {
		return "custom"
	}
	return ""
}

// BuildProviders creates every configured provider through reg and chains
// the fallbacks behind their primary. Each member gets its own breaker
// built from breaker.
func BuildProviders(cfg *config.Config, reg *config.Registry, breaker resilience.BreakerConfig) (*Providers, error) {
	pc := cfg.Providers

	primaryTTS, err := reg.CreateTTS(pc.TTS)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	ps := &Providers{TTS: resilience.NewTTSFallback(pc.TTS.Name, primaryTTS, breaker)}
	for _, e := range pc.TTSFallbacks {
		p, err := reg.CreateTTS(e)
		if err != nil {
			return nil, fmt.Errorf("app: tts fallback: %w", err)
		}
		ps.TTS.AddFallback(e.Name, p)
	}

	primarySTT, err := reg.CreateSTT(pc.STT)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	ps.STT = resilience.NewSTTFallback(pc.STT.Name, primarySTT, breaker)
	for _, e := range pc.STTFallbacks {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("app: stt fallback: %w", err)
		}
		ps.STT.AddFallback(e.Name, p)
	}

	primaryLLM, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	ps.LLM = resilience.NewLLMFallback(pc.LLM.Name, primaryLLM, breaker)
	for _, e := range pc.LLMFallbacks {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("app: llm fallback: %w", err)
		}
		ps.LLM.AddFallback(e.Name, p)
	}

	slog.Info("providers created",
		"tts", ps.TTS.Group().Names(),
		"stt", ps.STT.Group().Names(),
		"llm", ps.LLM.Group().Names(),
	)
	return ps, nil
}
