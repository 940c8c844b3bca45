package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
	ttsmock "github.com/kestrelvoice/kestrel/pkg/provider/tts/mock"
)

func TestTTSFallback_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{Result: tts.Audio{Samples: []float32{0.5}, SampleRate: 16000}}
	fallback := &ttsmock.Provider{}

	f := NewTTSFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", fallback)

	out, err := f.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if out.SampleRate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", out.SampleRate)
	}
	if len(fallback.Texts) != 0 {
		t.Fatal("fallback should not be consulted when the primary succeeds")
	}
}

func TestTTSFallback_FailsOver(t *testing.T) {
	primary := &ttsmock.Provider{Err: errors.New("api quota exceeded")}
	fallback := &ttsmock.Provider{Result: tts.Audio{Samples: []float32{0.1}, SampleRate: 22050}}

	f := NewTTSFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", fallback)

	out, err := f.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if out.SampleRate != 22050 {
		t.Fatalf("sample rate = %d, want the fallback's 22050", out.SampleRate)
	}
	if len(primary.Texts) != 1 || len(fallback.Texts) != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", len(primary.Texts), len(fallback.Texts))
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{Err: errors.New("down")}

	f := NewTTSFallback(primary, "primary", FallbackConfig{})

	if _, err := f.Synthesize(context.Background(), "hello"); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
