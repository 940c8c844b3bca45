package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (device settings, provider selection, file paths) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TurnTakingChanged is true if any of the silence timeout, minimum
	// utterance, conversation window, or safety valve durations changed.
	TurnTakingChanged bool

	// ThresholdsChanged is true if any wake or VAD threshold changed.
	ThresholdsChanged bool

	// NotifyChanged is true if the notification speak toggle changed.
	NotifyChanged bool

	// ProviderChanged is true if the assistant identity changed.
	ProviderChanged bool
	NewProvider     string
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.TurnTakingChanged || d.ThresholdsChanged ||
		d.NotifyChanged || d.ProviderChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Agent.LogLevel != new.Agent.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Agent.LogLevel
	}

	if old.Agent.SilenceTimeout != new.Agent.SilenceTimeout ||
		old.Agent.MinUtterance != new.Agent.MinUtterance ||
		old.Agent.ConversationWindow != new.Agent.ConversationWindow ||
		old.Agent.SafetyValve != new.Agent.SafetyValve {
		d.TurnTakingChanged = true
	}

	if old.Wake.Threshold != new.Wake.Threshold ||
		old.VAD.Threshold != new.VAD.Threshold ||
		old.VAD.EnergyThreshold != new.VAD.EnergyThreshold ||
		old.VAD.FollowUpEnergyThreshold != new.VAD.FollowUpEnergyThreshold {
		d.ThresholdsChanged = true
	}

	if old.Notify.Speak != new.Notify.Speak {
		d.NotifyChanged = true
	}

	if old.Agent.Provider != new.Agent.Provider {
		d.ProviderChanged = true
		d.NewProvider = new.Agent.Provider
	}

	return d
}
