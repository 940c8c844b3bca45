package config_test

import (
	"testing"
	"time"

	"github.com/kestrelvoice/kestrel/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	if d := config.Diff(old, new); d.Any() {
		t.Errorf("identical configs should produce an empty diff, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Agent.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("log level change not detected")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("new log level: got %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_TurnTaking(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Agent.SilenceTimeout = 5 * time.Second

	d := config.Diff(old, new)
	if !d.TurnTakingChanged {
		t.Error("silence timeout change not detected")
	}
	if d.ThresholdsChanged {
		t.Error("thresholds flagged without a threshold change")
	}
}

func TestDiff_Thresholds(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.VAD.EnergyThreshold = 0.02

	d := config.Diff(old, new)
	if !d.ThresholdsChanged {
		t.Error("energy threshold change not detected")
	}
}

func TestDiff_Provider(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Agent.Provider = "opencode"

	d := config.Diff(old, new)
	if !d.ProviderChanged {
		t.Fatal("provider change not detected")
	}
	if d.NewProvider != "opencode" {
		t.Errorf("new provider: got %q, want opencode", d.NewProvider)
	}
}

func TestDiff_Notify(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Notify.Speak = !old.Notify.Speak

	if d := config.Diff(old, new); !d.NotifyChanged {
		t.Error("notify speak change not detected")
	}
}
