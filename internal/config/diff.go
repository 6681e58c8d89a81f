package config

import "slices"

// ConfigDiff describes what changed between two configs. Only settings that
// can be applied to a running agent are tracked; everything else needs a
// restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is set when any field of the base voice profile changed.
	VoiceChanged bool
	NewVoice     VoiceConfig

	// LinesChanged is set when the greeting, farewell, fallback or exit
	// keywords changed. They take effect on the next start.
	LinesChanged bool

	// GestureChanged is set when the speaking motion changed.
	GestureChanged bool
	NewOnSpeaking  string

	// RestartRequired lists sections that changed but cannot be applied
	// without restarting.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.LinesChanged && !d.GestureChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Voice != new.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Voice
	}

	oc, nc := old.Conversation, new.Conversation
	if oc.Greeting != nc.Greeting || oc.Farewell != nc.Farewell || oc.Fallback != nc.Fallback ||
		!slices.Equal(oc.ExitKeywords, nc.ExitKeywords) {
		d.LinesChanged = true
	}

	if old.Gesture.OnSpeaking != new.Gesture.OnSpeaking {
		d.GestureChanged = true
		d.NewOnSpeaking = new.Gesture.OnSpeaking
	}

	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	og, ng := old.Gesture, new.Gesture
	og.OnSpeaking, ng.OnSpeaking = "", ""
	if og != ng {
		d.RestartRequired = append(d.RestartRequired, "gesture")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.TTS, b.TTS) && entryEqual(a.STT, b.STT) && entryEqual(a.LLM, b.LLM) &&
		slices.EqualFunc(a.TTSFallbacks, b.TTSFallbacks, entryEqual) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, entryEqual) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, entryEqual)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k := range a.Options {
		if a.Option(k) != b.Option(k) {
			return false
		}
	}
	return true
}
