// Package command provides a TTS provider that shells out to an external
// synthesis program such as piper or espeak-ng. The text is written to the
// program's stdin and a WAV stream is read from its stdout, which keeps the
// agent independent of any particular local TTS engine.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
)

// DefaultTimeout bounds a single synthesis run.
const DefaultTimeout = 30 * time.Second

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider by running an external command per
// utterance. A fresh process is started for every call, so the provider is
// safe for concurrent use as long as the command itself is.
type Provider struct {
	name    string
	args    []string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithTimeout overrides the synthesis timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// New creates a command-backed TTS provider. cmdline is the program and its
// arguments, e.g. "piper --model en_US-amy-medium --output-raw-wav". The
// program must read text on stdin and write 16-bit PCM WAV on stdout.
func New(cmdline string, opts ...Option) (*Provider, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, fmt.Errorf("command: command line is required")
	}
	p := &Provider{
		name:    fields[0],
		args:    fields[1:],
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Synthesize runs the command and decodes its WAV output.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, fmt.Errorf("command: text is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.name, p.args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if line := firstLine(stderr.String()); line != "" {
			return tts.Audio{}, fmt.Errorf("command: %s: %w (%s)", p.name, err, line)
		}
		return tts.Audio{}, fmt.Errorf("command: %s: %w", p.name, err)
	}

	samples, rate, err := audio.ParseWAV(stdout.Bytes())
	if err != nil {
		return tts.Audio{}, fmt.Errorf("command: decode %s output: %w", p.name, err)
	}
	return tts.Audio{Samples: samples, SampleRate: rate}, nil
}

// firstLine returns the first non-empty line of s, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
