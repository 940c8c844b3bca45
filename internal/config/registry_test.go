package config_test

import (
	"errors"
	"testing"

	"github.com/kestrelvoice/kestrel/internal/config"
	"github.com/kestrelvoice/kestrel/pkg/provider/llm"
	llmmock "github.com/kestrelvoice/kestrel/pkg/provider/llm/mock"
	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
	sttmock "github.com/kestrelvoice/kestrel/pkg/provider/stt/mock"
	"github.com/kestrelvoice/kestrel/pkg/provider/vad"
	vadmock "github.com/kestrelvoice/kestrel/pkg/provider/vad/mock"
)

func TestRegistry_CreateSTT(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	var gotEntry config.ProviderEntry
	r.RegisterSTT("mock", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return &sttmock.Provider{}, nil
	})

	entry := config.ProviderEntry{Name: "mock", Model: "tiny"}
	p, err := r.CreateSTT(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected a provider")
	}
	if gotEntry.Model != "tiny" {
		t.Errorf("factory received model %q, want tiny", gotEntry.Model)
	}
}

func TestRegistry_UnregisteredName(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateSTT(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("got error %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_CreateLLM(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterLLM("mock", func(e config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	p, err := r.CreateLLM(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected a provider")
	}
}

func TestRegistry_CreateVAD(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterVAD("energy", func(cfg config.VADConfig) (vad.Detector, error) {
		return &vadmock.Detector{}, nil
	})

	det, err := r.CreateVAD(config.VADConfig{Engine: "energy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if det == nil {
		t.Fatal("expected a detector")
	}
}
