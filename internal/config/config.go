// Package config provides the configuration schema, loader, and provider
// registry for the Kestrel voice agent.
package config

import "time"

// LogLevel controls log verbosity for the agent.
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

// Route selects where filtered transcripts are delivered.
type Route string

const (
	// RouteInbox writes transcripts to the shared inbox file and waits for
	// an assistant response to appear there.
	RouteInbox Route = "inbox"

	// RouteDirect sends transcripts straight to an LLM backend and speaks
	// the completion.
	RouteDirect Route = "direct"
)

// IsValid reports whether r is a recognised route.
func (r Route) IsValid() bool {
	return r == RouteInbox || r == RouteDirect
}

// Config is the root configuration structure for Kestrel.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Audio     AudioConfig     `yaml:"audio"`
	Wake      WakeConfig      `yaml:"wake"`
	VAD       VADConfig       `yaml:"vad"`
	Providers ProvidersConfig `yaml:"providers"`
	Inbox     InboxConfig     `yaml:"inbox"`
	Notify    NotifyConfig    `yaml:"notify"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Dictation DictationConfig `yaml:"dictation"`
	History   HistoryConfig   `yaml:"history"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// AgentConfig holds turn-taking behaviour and logging settings.
type AgentConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// Sender is the name attached to outgoing inbox messages and history
	// entries (e.g., "brian").
	Sender string `yaml:"sender"`

	// Provider is the assistant identity whose inbox messages are treated
	// as replies (e.g., "claude", "opencode"). Hot-reloadable.
	Provider string `yaml:"provider"`

	// Route selects transcript delivery: "inbox" or "direct".
	Route Route `yaml:"route"`

	// ModeFile is an optional JSON selector file ({"mode": "auto" |
	// "local" | "inbox"}) that host tooling rewrites to switch routes at
	// runtime. When set, it overrides Route per turn.
	ModeFile string `yaml:"mode_file"`

	// PushToTalk disables wake word activation; recording starts and
	// stops only via trigger files.
	PushToTalk bool `yaml:"push_to_talk"`

	// SilenceTimeout ends a recording after this much continuous silence.
	// Not applied to push-to-talk or dictation recordings.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// MinUtterance discards recordings shorter than this.
	MinUtterance time.Duration `yaml:"min_utterance"`

	// ConversationWindow keeps listening for follow-up speech this long
	// after a response is spoken, without requiring the wake word again.
	ConversationWindow time.Duration `yaml:"conversation_window"`

	// SafetyValve force-stops any recording that exceeds this duration,
	// whatever its source. Guards against a stop trigger never arriving.
	SafetyValve time.Duration `yaml:"safety_valve"`
}

// AudioConfig holds capture device settings.
type AudioConfig struct {
	// SampleRate in Hz. The whole pipeline runs at this rate.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of samples per capture callback.
	BlockSize int `yaml:"block_size"`
}

// WakeConfig holds wake word detection settings.
type WakeConfig struct {
	// Phrase is the spoken activation phrase (e.g., "hey kestrel").
	Phrase string `yaml:"phrase"`

	// Threshold is the acoustic activation score (0.0–1.0) above which
	// the wake word counts as detected.
	Threshold float64 `yaml:"threshold"`

	// ModelPath is the filesystem path to the wake word model, when an
	// acoustic scorer backend is configured.
	ModelPath string `yaml:"model_path"`
}

// VADConfig holds voice activity detection settings.
type VADConfig struct {
	// Engine selects the detector: "silero" or "energy".
	Engine string `yaml:"engine"`

	// ModelPath is the filesystem path to the silero_vad.onnx model.
	// Required when Engine is "silero".
	ModelPath string `yaml:"model_path"`

	// Threshold is the neural speech probability threshold (0.0–1.0).
	Threshold float64 `yaml:"threshold"`

	// EnergyThreshold is the mean-amplitude threshold used while a
	// recording is active and by the energy engine.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// FollowUpEnergyThreshold is the stricter mean-amplitude threshold
	// used when listening for follow-up speech in an open conversation
	// window, where background noise must not re-trigger recording.
	FollowUpEnergyThreshold float64 `yaml:"follow_up_energy_threshold"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each Name selects a provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "whisper", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "whisper-1", "qwen2.5:7b").
	Model string `yaml:"model"`

	// ModelPath is the filesystem path to a local model file, for
	// providers that run inference in-process.
	ModelPath string `yaml:"model_path"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks lists alternative providers tried in order when this one
	// fails. Each fallback runs behind its own circuit breaker. Nested
	// fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// InboxConfig holds settings for the shared inbox document.
type InboxConfig struct {
	// Path is the JSON inbox file shared with the assistant process.
	Path string `yaml:"path"`

	// ThreadID tags outgoing messages so the assistant can match the
	// conversation thread.
	ThreadID string `yaml:"thread_id"`

	// PollInterval is how often the inbox is checked for a response.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ResponseWait is how long to wait for an assistant response to the
	// first message of a conversation.
	ResponseWait time.Duration `yaml:"response_wait"`

	// FollowUpWait is how long to wait for a response to a follow-up
	// message inside an open conversation window.
	FollowUpWait time.Duration `yaml:"follow_up_wait"`

	// MaxMessages caps the stored message count; older messages are
	// dropped first.
	MaxMessages int `yaml:"max_messages"`

	// MaxAge drops messages older than this during cleanup.
	MaxAge time.Duration `yaml:"max_age"`

	// CleanupInterval is how often the age/size trim runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// CompactionWait pauses sends for this long after an unread
	// pre-compaction event, giving the assistant time to finish.
	CompactionWait time.Duration `yaml:"compaction_wait"`
}

// NotifyConfig holds settings for the notification watcher, which speaks
// unsolicited assistant messages arriving in the inbox while the agent is
// idle.
type NotifyConfig struct {
	// PollInterval is how often the inbox is checked.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Speak reads unsolicited messages aloud when true.
	Speak bool `yaml:"speak"`
}

// TriggerConfig holds settings for external trigger files.
type TriggerConfig struct {
	// Dir is the directory watched for trigger files (voice_ptt,
	// voice_dictate, voice_stop). Empty disables external triggers.
	Dir string `yaml:"dir"`

	// Debounce coalesces rapid filesystem events for the same trigger.
	Debounce time.Duration `yaml:"debounce"`
}

// DictationConfig holds settings for dictation mode.
type DictationConfig struct {
	// Enabled allows the voice_dictate trigger to start a dictation
	// recording whose transcript is typed at the cursor.
	Enabled bool `yaml:"enabled"`
}

// HistoryConfig holds settings for the local turn log.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path string `yaml:"path"`
}

// BridgeConfig holds settings for the websocket event bridge.
type BridgeConfig struct {
	// ListenAddr is the TCP address the bridge listens on
	// (e.g., "127.0.0.1:8953"). Empty disables the bridge.
	ListenAddr string `yaml:"listen_addr"`
}

// ObserveConfig holds metrics endpoint settings.
type ObserveConfig struct {
	// MetricsAddr is the TCP address for the Prometheus scrape endpoint
	// (e.g., "127.0.0.1:9090"). Empty disables metrics serving.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a Config populated with the documented defaults. Load
// decodes the YAML file over these values, so absent keys keep them.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			LogLevel:           LogInfo,
			Sender:             "user",
			Provider:           "claude",
			Route:              RouteInbox,
			SilenceTimeout:     10 * time.Second,
			MinUtterance:       400 * time.Millisecond,
			ConversationWindow: 8 * time.Second,
			SafetyValve:        120 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			BlockSize:  1280,
		},
		Wake: WakeConfig{
			Phrase:    "hey kestrel",
			Threshold: 0.98,
		},
		VAD: VADConfig{
			Engine:                  "energy",
			Threshold:               0.5,
			EnergyThreshold:         0.01,
			FollowUpEnergyThreshold: 0.03,
		},
		Inbox: InboxConfig{
			ThreadID:        "voice-mirror",
			PollInterval:    500 * time.Millisecond,
			ResponseWait:    90 * time.Second,
			FollowUpWait:    60 * time.Second,
			MaxMessages:     100,
			MaxAge:          2 * time.Hour,
			CleanupInterval: 30 * time.Minute,
			CompactionWait:  60 * time.Second,
		},
		Notify: NotifyConfig{
			PollInterval: 2 * time.Second,
			Speak:        true,
		},
		Trigger: TriggerConfig{
			Debounce: 50 * time.Millisecond,
		},
	}
}
