package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
	sttmock "github.com/kestrelvoice/kestrel/pkg/provider/stt/mock"
)

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{Results: []stt.Transcript{{Text: "hello"}}}
	fallback := &sttmock.Provider{}

	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", fallback)

	tr, err := f.Transcribe(context.Background(), []float32{0.1, 0.2}, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello" {
		t.Fatalf("text = %q, want %q", tr.Text, "hello")
	}
	if len(fallback.Calls) != 0 {
		t.Fatal("fallback should not be consulted when the primary succeeds")
	}
}

func TestSTTFallback_FailsOver(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("model crashed")}
	fallback := &sttmock.Provider{Results: []stt.Transcript{{Text: "from backup"}}}

	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", fallback)

	tr, err := f.Transcribe(context.Background(), []float32{0.1}, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "from backup" {
		t.Fatalf("text = %q, want %q", tr.Text, "from backup")
	}
	if len(primary.Calls) != 1 {
		t.Fatalf("primary calls = %d, want 1", len(primary.Calls))
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("down")}
	fallback := &sttmock.Provider{Err: errors.New("also down")}

	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", fallback)

	_, err := f.Transcribe(context.Background(), []float32{0.1}, 16000)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_SkipsOpenBreaker(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("down")}
	fallback := &sttmock.Provider{Results: []stt.Transcript{{Text: "a"}, {Text: "b"}}}

	f := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	f.AddFallback("backup", fallback)

	// First call trips the primary's breaker; the second must skip it.
	if _, err := f.Transcribe(context.Background(), []float32{0.1}, 16000); err != nil {
		t.Fatalf("first Transcribe: %v", err)
	}
	if _, err := f.Transcribe(context.Background(), []float32{0.1}, 16000); err != nil {
		t.Fatalf("second Transcribe: %v", err)
	}
	if len(primary.Calls) != 1 {
		t.Fatalf("primary calls = %d, want 1 (breaker should be open)", len(primary.Calls))
	}
	if len(fallback.Calls) != 2 {
		t.Fatalf("fallback calls = %d, want 2", len(fallback.Calls))
	}
}
