// Package speech voices assistant replies. Replies arrive as chat text and
// often carry markdown the assistant wrote for a terminal; everything here
// is stripped down to plain sentences before synthesis.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
)

// Speaker voices one text. Implementations serialize playback internally so
// overlapping replies and notifications do not talk over each other.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

var (
	codeFenceRe  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`([^`]*)`")
	linkRe       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	emphasisRe   = regexp.MustCompile(`(\*\*|__|\*|_)([^*_]+?)(\*\*|__|\*|_)`)
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	bulletRe     = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Sanitize strips markdown and collapses whitespace so the result reads
// naturally when spoken. Code blocks are dropped entirely; reading code
// aloud is useless.
func Sanitize(text string) string {
	text = codeFenceRe.ReplaceAllString(text, "")
	text = inlineCodeRe.ReplaceAllString(text, "$1")
	text = linkRe.ReplaceAllString(text, "$1")
	text = emphasisRe.ReplaceAllString(text, "$2")
	text = headingRe.ReplaceAllString(text, "")
	text = bulletRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// SinkSpeaker synthesizes replies with a tts provider and plays them on an
// audio sink.
type SinkSpeaker struct {
	tts     tts.Provider
	sink    audio.Sink
	log     *slog.Logger
	metrics *observe.Metrics

	mu sync.Mutex
}

// NewSinkSpeaker wires a tts provider to a playback sink.
func NewSinkSpeaker(p tts.Provider, sink audio.Sink) *SinkSpeaker {
	return &SinkSpeaker{tts: p, sink: sink, log: slog.Default(), metrics: observe.DefaultMetrics()}
}

// Speak sanitizes, synthesizes, and plays the text. Empty results after
// sanitizing are skipped silently.
func (s *SinkSpeaker) Speak(ctx context.Context, text string) error {
	text = Sanitize(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	a, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return fmt.Errorf("synthesize: %w", err)
	}
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	s.log.Debug("speaking", "chars", len(text), "audio", a.Duration())
	if err := s.sink.Play(ctx, a.Samples, a.SampleRate); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

// CommandSpeaker shells out to a system TTS command such as macOS `say` or
// `espeak-ng`, passing the sanitized text as the final argument.
type CommandSpeaker struct {
	command string
	args    []string

	mu sync.Mutex
}

// NewCommandSpeaker builds a speaker around an external command.
func NewCommandSpeaker(command string, args ...string) (*CommandSpeaker, error) {
	if command == "" {
		return nil, fmt.Errorf("speech: command must not be empty")
	}
	return &CommandSpeaker{command: command, args: args}, nil
}

// Speak runs the command with the sanitized text appended to its arguments.
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	text = Sanitize(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	args := append(append([]string{}, s.args...), text)
	cmd := exec.CommandContext(ctx, s.command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("speech: %s: %w (%s)", s.command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

var (
	_ Speaker = (*SinkSpeaker)(nil)
	_ Speaker = (*CommandSpeaker)(nil)
)
