// Package turn drives the conversation loop: it watches the recording state
// for finished utterances, transcribes them, filters out noise, routes the
// text to a backend or the dictation injector, and speaks replies.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/kestrelvoice/kestrel/internal/capture"
	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
	"github.com/kestrelvoice/kestrel/pkg/provider/wake"
)

// DefaultTick is how often the orchestrator inspects the recording state.
const DefaultTick = 100 * time.Millisecond

// MinTranscriptRunes filters hallucinated fragments: whisper-style models
// emit one or two characters of punctuation for pure noise.
const MinTranscriptRunes = 3

// Router delivers a filtered transcript and returns the reply to speak.
// An empty reply with a nil error means there is nothing to say.
type Router interface {
	Handle(ctx context.Context, text string, source capture.Source) (string, error)
}

// Speaker voices a reply.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Injector types dictated text at the cursor.
type Injector interface {
	Inject(text string) error
}

// Recorder persists completed turns. Implementations must tolerate being
// called concurrently with History lookups.
type Recorder interface {
	RecordTurn(ctx context.Context, source, heard, reply string) error
}

// Config tunes the orchestrator.
type Config struct {
	// SilenceTimeout ends a timed recording this long after the last
	// detected speech.
	SilenceTimeout time.Duration

	// MinUtterance discards drained recordings shorter than this.
	MinUtterance time.Duration

	// ConversationWindow is how long follow-up speech may start a new turn
	// without the wake word after a spoken reply.
	ConversationWindow time.Duration

	// SampleRate of the drained audio.
	SampleRate int

	// Tick overrides the state inspection interval. Default: DefaultTick.
	Tick time.Duration
}

// Orchestrator owns the post-recording half of a voice turn.
type Orchestrator struct {
	state    *capture.State
	trans    stt.Provider
	phrase   *wake.Phrase
	router   Router
	speaker  Speaker
	injector Injector
	recorder Recorder
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics

	// timing knobs, atomics so the config watcher can retune a running
	// orchestrator
	silenceTimeout     atomic.Int64
	minUtterance       atomic.Int64
	conversationWindow atomic.Int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPhrase enables wake phrase stripping on wake word transcripts.
func WithPhrase(p *wake.Phrase) Option {
	return func(o *Orchestrator) { o.phrase = p }
}

// WithInjector enables dictation delivery.
func WithInjector(in Injector) Option {
	return func(o *Orchestrator) { o.injector = in }
}

// WithRecorder enables turn persistence.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// New builds an orchestrator around the shared recording state.
func New(state *capture.State, trans stt.Provider, router Router, speaker Speaker, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	o := &Orchestrator{
		state:   state,
		trans:   trans,
		router:  router,
		speaker: speaker,
		cfg:     cfg,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.SetTiming(cfg.SilenceTimeout, cfg.MinUtterance, cfg.ConversationWindow)
	return o
}

// SetTiming replaces the turn-taking durations. Safe to call while Run is
// ticking; the config watcher uses it for live reload.
func (o *Orchestrator) SetTiming(silenceTimeout, minUtterance, conversationWindow time.Duration) {
	o.silenceTimeout.Store(int64(silenceTimeout))
	o.minUtterance.Store(int64(minUtterance))
	o.conversationWindow.Store(int64(conversationWindow))
}

// Run ticks until the context is cancelled. Each tick ends timed recordings
// that went silent and processes whatever the capture engine left behind.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick performs one inspection pass. Exported so tests and the app shutdown
// path can drive the orchestrator without the ticker.
func (o *Orchestrator) Tick(ctx context.Context) {
	if o.state.Recording() {
		if o.state.Source().Timed() && o.state.SinceSpeech() > time.Duration(o.silenceTimeout.Load()) {
			o.log.Debug("silence timeout reached", "source", o.state.Source(),
				"quiet", o.state.SinceSpeech())
			o.state.RequestStop()
		}
		return
	}
	if o.state.Processing() || o.state.BufferedSamples() == 0 {
		return
	}
	if err := o.processUtterance(ctx); err != nil {
		o.log.Error("turn failed", "error", err)
	}
}

// processUtterance drains the finished recording and runs it through the
// transcribe / filter / route / speak pipeline.
func (o *Orchestrator) processUtterance(ctx context.Context) error {
	// Processing covers drain, transcription and filtering only; it is
	// released before the backend round trip so the next recording can
	// begin while the reply is still being awaited.
	o.state.SetProcessing(true)
	defer o.state.SetProcessing(false)

	start := time.Now()
	samples := o.state.Drain()
	src := o.state.Source()

	minSamples := int(time.Duration(o.minUtterance.Load()).Seconds() * float64(o.cfg.SampleRate))
	if len(samples) < minSamples {
		o.log.Debug("utterance too short, discarding",
			"samples", len(samples), "min", minSamples)
		o.metrics.RecordDiscard(ctx, "too_short")
		return nil
	}

	sttStart := time.Now()
	tr, err := o.trans.Transcribe(ctx, samples, o.cfg.SampleRate)
	if err != nil {
		o.metrics.RecordProviderError(ctx, "stt", "transcribe")
		return fmt.Errorf("transcribe: %w", err)
	}
	o.metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	text := strings.TrimSpace(tr.Text)
	o.log.Info("utterance transcribed", "source", src, "text", text,
		"audio_duration", tr.AudioDuration)

	text, ok := o.filter(text, src)
	if !ok {
		o.metrics.RecordDiscard(ctx, "filtered")
		if src == capture.SourceWakeWord {
			// A bare wake phrase is a request for attention: open the
			// window so the actual question can follow.
			o.openWindow()
		}
		return nil
	}

	if src == capture.SourceDictation {
		if o.injector == nil {
			return fmt.Errorf("dictation captured but no injector configured")
		}
		if err := o.injector.Inject(text); err != nil {
			return fmt.Errorf("inject dictation: %w", err)
		}
		o.metrics.RecordTurn(ctx, string(src), "injected")
		o.record(ctx, src, text, "")
		return nil
	}

	o.state.SetProcessing(false)
	routeStart := time.Now()
	reply, err := o.router.Handle(ctx, text, src)
	if err != nil {
		o.metrics.RecordProviderError(ctx, "router", "handle")
		return fmt.Errorf("route transcript: %w", err)
	}
	o.metrics.RouteDuration.Record(ctx, time.Since(routeStart).Seconds())
	if reply != "" {
		if err := o.speaker.Speak(ctx, reply); err != nil {
			o.log.Error("speaking reply failed", "error", err)
		}
	}
	if src.Timed() {
		o.openWindow()
	}
	status := "answered"
	if reply == "" {
		status = "unanswered"
	}
	o.metrics.RecordTurn(ctx, string(src), status)
	o.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	o.record(ctx, src, text, reply)
	return nil
}

// filter drops transcripts too short to be intentional and strips a leading
// wake phrase from wake word turns. The second return is false when nothing
// usable remains.
func (o *Orchestrator) filter(text string, src capture.Source) (string, bool) {
	if src == capture.SourceWakeWord && o.phrase != nil {
		if matched, rest := o.phrase.Match(text); matched {
			text = strings.TrimSpace(rest)
		}
	}
	if utf8.RuneCountInString(text) < MinTranscriptRunes {
		return "", false
	}
	return text, true
}

func (o *Orchestrator) openWindow() {
	window := time.Duration(o.conversationWindow.Load())
	if window <= 0 {
		return
	}
	o.state.OpenWindow(time.Now().Add(window))
}

func (o *Orchestrator) record(ctx context.Context, src capture.Source, heard, reply string) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordTurn(ctx, string(src), heard, reply); err != nil {
		o.log.Warn("recording turn failed", "error", err)
	}
}
