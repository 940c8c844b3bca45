package speech_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelvoice/kestrel/internal/speech"
	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
	ttsmock "github.com/kestrelvoice/kestrel/pkg/provider/tts/mock"
)

func TestSanitize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, in, want string
	}{
		{"plain", "All tests pass now.", "All tests pass now."},
		{"bold", "This is **important** stuff", "This is important stuff"},
		{"italic", "rather _subtle_ phrasing", "rather subtle phrasing"},
		{"inline code", "run `go vet` first", "run go vet first"},
		{"code fence dropped", "Fixed it:\n```go\nfunc main() {}\n```\nDone.", "Fixed it: Done."},
		{"link keeps label", "see [the docs](https://example.com) for more", "see the docs for more"},
		{"heading", "# Summary\nAll good.", "Summary All good."},
		{"bullets", "- first\n- second", "first second"},
		{"collapse whitespace", "too   many\n\nspaces", "too many spaces"},
		{"empty after strip", "```\nonly code\n```", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := speech.Sanitize(tc.in); got != tc.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

type fakeSink struct {
	played [][]float32
	rates  []int
	err    error
}

func (f *fakeSink) Play(_ context.Context, samples []float32, rate int) error {
	f.played = append(f.played, samples)
	f.rates = append(f.rates, rate)
	return f.err
}

func (f *fakeSink) Close() error { return nil }

func TestSinkSpeaker_SynthesizesAndPlays(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{Result: tts.Audio{Samples: []float32{0.1, 0.2}, SampleRate: 24000}}
	sink := &fakeSink{}
	s := speech.NewSinkSpeaker(p, sink)

	if err := s.Speak(context.Background(), "**hello** there"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(p.Texts) != 1 || p.Texts[0] != "hello there" {
		t.Fatalf("synthesized texts = %v", p.Texts)
	}
	if len(sink.played) != 1 || sink.rates[0] != 24000 {
		t.Fatalf("playback = %d clips, rates %v", len(sink.played), sink.rates)
	}
}

func TestSinkSpeaker_SkipsEmptyText(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{}
	s := speech.NewSinkSpeaker(p, &fakeSink{})

	if err := s.Speak(context.Background(), "```\ncode only\n```"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(p.Texts) != 0 {
		t.Fatal("nothing should be synthesized for empty text")
	}
}

func TestSinkSpeaker_SynthesisError(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{Err: errors.New("no voice")}
	s := speech.NewSinkSpeaker(p, &fakeSink{})

	if err := s.Speak(context.Background(), "hello"); err == nil {
		t.Fatal("expected synthesis error")
	}
}

func TestNewCommandSpeaker_Validation(t *testing.T) {
	t.Parallel()
	if _, err := speech.NewCommandSpeaker(""); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestCommandSpeaker_RunsCommand(t *testing.T) {
	t.Parallel()
	s, err := speech.NewCommandSpeaker("true")
	if err != nil {
		t.Fatalf("NewCommandSpeaker: %v", err)
	}
	if err := s.Speak(context.Background(), "hello"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
}

func TestCommandSpeaker_CommandFailure(t *testing.T) {
	t.Parallel()
	s, err := speech.NewCommandSpeaker("false")
	if err != nil {
		t.Fatalf("NewCommandSpeaker: %v", err)
	}
	if err := s.Speak(context.Background(), "hello"); err == nil {
		t.Fatal("expected error from failing command")
	}
}
