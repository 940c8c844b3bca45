package main

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/kestrelvoice/kestrel/internal/app"
	"github.com/kestrelvoice/kestrel/internal/config"
	"github.com/kestrelvoice/kestrel/internal/resilience"
	"github.com/kestrelvoice/kestrel/pkg/audio/portaudio"
	"github.com/kestrelvoice/kestrel/pkg/provider/llm"
	"github.com/kestrelvoice/kestrel/pkg/provider/llm/anyllm"
	llmopenai "github.com/kestrelvoice/kestrel/pkg/provider/llm/openai"
	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
	sttopenai "github.com/kestrelvoice/kestrel/pkg/provider/stt/openai"
	"github.com/kestrelvoice/kestrel/pkg/provider/stt/whisper"
	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
	ttscommand "github.com/kestrelvoice/kestrel/pkg/provider/tts/command"
	ttsopenai "github.com/kestrelvoice/kestrel/pkg/provider/tts/openai"
	"github.com/kestrelvoice/kestrel/pkg/provider/vad"
	"github.com/kestrelvoice/kestrel/pkg/provider/vad/silero"
)

// registerBuiltinProviders wires the provider factories that ship with
// kestrel into reg. Each factory receives its config section and constructs
// the provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	// whisper runs inference locally; entry.Model is the GGML model path.
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		return sttopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, ttsopenai.WithVoice(voice))
		}
		return ttsopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// command shells out to a local engine like piper; entry.Options
	// carries the command line.
	reg.RegisterTTS("command", func(entry config.ProviderEntry) (tts.Provider, error) {
		cmdline := optString(entry.Options, "command")
		return ttscommand.New(cmdline)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai uses the official SDK directly; everything else goes through
	// the any-llm multiplexer.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; BaseURL carries the address, no API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(cfg config.VADConfig) (vad.Detector, error) {
		model, err := silero.New(silero.Config{
			ModelPath:  cfg.ModelPath,
			SampleRate: 16000,
			Threshold:  float32(cfg.Threshold),
		})
		if err != nil {
			return nil, err
		}
		var opts []vad.WindowedOption
		if cfg.Threshold > 0 {
			opts = append(opts, vad.WithThreshold(cfg.Threshold))
		}
		return vad.NewWindowed(model, opts...), nil
	})

	reg.RegisterVAD("energy", func(cfg config.VADConfig) (vad.Detector, error) {
		threshold := cfg.EnergyThreshold
		if threshold == 0 {
			threshold = 0.01
		}
		return vad.Energy{Threshold: threshold}, nil
	})
}

// buildProviders instantiates the providers named in cfg, plus the audio
// device, and returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if entry := cfg.Providers.STT; entry.Name != "" {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		if len(entry.Fallbacks) > 0 {
			group := resilience.NewSTTFallback(p, entry.Name, resilience.FallbackConfig{})
			for _, fb := range entry.Fallbacks {
				backup, err := reg.CreateSTT(fb)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(fb.Name, backup)
			}
			ps.STT = group
		} else {
			ps.STT = p
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		if len(entry.Fallbacks) > 0 {
			group := resilience.NewTTSFallback(p, entry.Name, resilience.FallbackConfig{})
			for _, fb := range entry.Fallbacks {
				backup, err := reg.CreateTTS(fb)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(fb.Name, backup)
			}
			ps.TTS = group
		} else {
			ps.TTS = p
		}
		slog.Info("provider created", "kind", "tts", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown llm provider, skipping", "name", entry.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		} else {
			if len(entry.Fallbacks) > 0 {
				group := resilience.NewLLMFallback(p, entry.Name, resilience.FallbackConfig{})
				for _, fb := range entry.Fallbacks {
					backup, err := reg.CreateLLM(fb)
					if err != nil {
						return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
					}
					group.AddFallback(fb.Name, backup)
				}
				ps.LLM = group
			} else {
				ps.LLM = p
			}
			slog.Info("provider created", "kind", "llm", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
		}
	}

	if engine := cfg.VAD.Engine; engine != "" {
		d, err := reg.CreateVAD(cfg.VAD)
		if err != nil {
			return nil, fmt.Errorf("create vad engine %q: %w", engine, err)
		}
		ps.VAD = d
		slog.Info("vad engine ready", "engine", engine)
	}

	// No wake scoring backend is bundled; without one the agent still
	// serves push-to-talk, dictation and trigger files.
	if cfg.Wake.ModelPath != "" {
		slog.Warn("wake model scoring backend not available, voice activation disabled",
			"model", cfg.Wake.ModelPath)
	}

	capture, err := portaudio.NewCapture(portaudio.CaptureConfig{
		SampleRate: cfg.Audio.SampleRate,
		BlockSize:  cfg.Audio.BlockSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio input: %w", err)
	}
	ps.Source = capture
	ps.Sink = portaudio.NewPlayer()

	return ps, nil
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
