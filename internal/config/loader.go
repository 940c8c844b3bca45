package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "openai"},
	"tts": {"openai", "command"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"vad": {"silero", "energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Absent keys keep the [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Agent
	if cfg.Agent.LogLevel != "" && !cfg.Agent.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("agent.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Agent.LogLevel))
	}
	if cfg.Agent.Route != "" && !cfg.Agent.Route.IsValid() {
		errs = append(errs, fmt.Errorf("agent.route %q is invalid; valid values: inbox, direct", cfg.Agent.Route))
	}
	if cfg.Agent.SilenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("agent.silence_timeout must be positive, got %s", cfg.Agent.SilenceTimeout))
	}
	if cfg.Agent.MinUtterance < 0 {
		errs = append(errs, fmt.Errorf("agent.min_utterance must not be negative, got %s", cfg.Agent.MinUtterance))
	}
	if cfg.Agent.SafetyValve <= 0 {
		errs = append(errs, fmt.Errorf("agent.safety_valve must be positive, got %s", cfg.Agent.SafetyValve))
	}
	if cfg.Agent.PushToTalk && cfg.Trigger.Dir == "" {
		errs = append(errs, fmt.Errorf("agent.push_to_talk requires trigger.dir to be set"))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size must be positive, got %d", cfg.Audio.BlockSize))
	}

	// Wake
	if cfg.Wake.Threshold < 0 || cfg.Wake.Threshold > 1 {
		errs = append(errs, fmt.Errorf("wake.threshold %.2f is out of range [0, 1]", cfg.Wake.Threshold))
	}
	if !cfg.Agent.PushToTalk && cfg.Wake.Phrase == "" {
		errs = append(errs, fmt.Errorf("wake.phrase is required unless agent.push_to_talk is set"))
	}

	// VAD
	validateProviderName("vad", cfg.VAD.Engine)
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.Engine == "silero" && cfg.VAD.ModelPath == "" {
		errs = append(errs, fmt.Errorf("vad.model_path is required when vad.engine is silero"))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, fmt.Errorf("providers.stt.name is required"))
	}
	if cfg.Agent.Route == RouteDirect && cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("agent.route %q requires an LLM provider but providers.llm is not configured", RouteDirect))
	}
	if cfg.Agent.Route == RouteInbox && cfg.Inbox.Path == "" {
		errs = append(errs, fmt.Errorf("agent.route %q requires inbox.path to be set", RouteInbox))
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; responses will not be spoken")
	}

	// Inbox
	if cfg.Inbox.Path != "" {
		if cfg.Inbox.PollInterval <= 0 {
			errs = append(errs, fmt.Errorf("inbox.poll_interval must be positive, got %s", cfg.Inbox.PollInterval))
		}
		if cfg.Inbox.MaxMessages <= 0 {
			errs = append(errs, fmt.Errorf("inbox.max_messages must be positive, got %d", cfg.Inbox.MaxMessages))
		}
		if cfg.Inbox.MaxAge <= 0 {
			errs = append(errs, fmt.Errorf("inbox.max_age must be positive, got %s", cfg.Inbox.MaxAge))
		}
	}

	// Notify
	if cfg.Notify.Speak && cfg.Notify.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("notify.poll_interval must be positive, got %s", cfg.Notify.PollInterval))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
