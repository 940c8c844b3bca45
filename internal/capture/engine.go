package capture

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/provider/vad"
	"github.com/kestrelvoice/kestrel/pkg/provider/wake"
)

// Event describes a capture state transition, for observers such as the
// status bridge.
type Event struct {
	Kind   EventKind
	Source Source
}

// EventKind enumerates capture events.
type EventKind string

const (
	EventRecordingStarted EventKind = "recording_started"
	EventRecordingStopped EventKind = "recording_stopped"
	EventWakeDetected     EventKind = "wake_detected"
)

// Config tunes the capture loop.
type Config struct {
	// SafetyValve force-stops any recording older than this, guarding
	// against a VAD that never reports silence. Zero disables the valve.
	SafetyValve time.Duration

	// PushToTalk disables acoustic wake detection entirely; recordings
	// start only from external triggers.
	PushToTalk bool
}

// Engine is the per-block decision engine. It consumes trigger requests,
// watches for the wake phrase while idle, arms follow-up recordings inside
// the conversation window, and feeds active recordings with audio and
// speech marks.
//
// HandleBlock is designed to run inside the audio callback: every branch is
// bounded work on the current block, with no channel sends or syscalls.
type Engine struct {
	state    *State
	wake     *wake.Detector
	speech   vad.Detector
	followUp vad.Detector
	log      *slog.Logger
	metrics  *observe.Metrics

	// atomics so the config watcher can flip these on a live engine
	safetyValve atomic.Int64
	pushToTalk  atomic.Bool

	notify func(Event)
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotify registers a callback invoked on capture events. The callback
// runs on the audio path and must not block.
func WithNotify(fn func(Event)) Option {
	return func(c *Engine) { c.notify = fn }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Engine) { c.log = log }
}

// NewEngine builds a capture engine. wakeDet may be nil in push-to-talk
// mode. speech is the detector used while recording; followUp decides
// whether speech inside the conversation window should start a recording.
func NewEngine(state *State, wakeDet *wake.Detector, speech, followUp vad.Detector, cfg Config, opts ...Option) *Engine {
	c := &Engine{
		state:    state,
		wake:     wakeDet,
		speech:   speech,
		followUp: followUp,
		log:      slog.Default(),
		metrics:  observe.DefaultMetrics(),
	}
	c.SetControls(cfg)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetControls replaces the runtime knobs. Safe to call while the engine is
// handling blocks; the config watcher uses it for live reload.
func (c *Engine) SetControls(cfg Config) {
	c.safetyValve.Store(int64(cfg.SafetyValve))
	c.pushToTalk.Store(cfg.PushToTalk)
}

// Run attaches the capture engine to an audio source and blocks until the
// context is cancelled or the source fails.
func (c *Engine) Run(ctx context.Context, src audio.Source) error {
	c.state.SetListening(true)
	defer c.state.SetListening(false)
	return src.Start(ctx, c.HandleBlock)
}

// HandleBlock processes one block of mono samples. It is the single writer
// of recording transitions, so trigger requests, wake hits and the safety
// valve cannot race each other.
func (c *Engine) HandleBlock(samples []float32) {
	// Triggers are honored even while the agent is speaking (listening off)
	// or a turn is in flight.
	c.consumeTriggers()

	if valve := time.Duration(c.safetyValve.Load()); valve > 0 && c.state.Recording() && c.state.SinceRecordStart() > valve {
		c.log.Warn("safety valve tripped, force-stopping recording",
			"source", c.state.Source(), "age", c.state.SinceRecordStart())
		c.stopRecording()
	}

	if c.state.Recording() {
		// A recording keeps receiving audio even while listening is off;
		// only the brief drain-and-transcribe phase pauses the feed.
		if !c.state.Processing() {
			c.feedRecording(samples)
		}
		return
	}

	if !c.state.Listening() {
		return
	}
	c.watchIdle(samples)
}

// consumeTriggers applies pending external requests. Starts are never gated
// on processing: a press while the previous turn is still being answered
// begins the next recording immediately.
func (c *Engine) consumeTriggers() {
	if c.state.TakeStop() {
		c.stopRecording()
	}
	if c.state.TakePTT() {
		c.startRecording(SourcePTT)
	}
	if c.state.TakeDictation() {
		c.startRecording(SourceDictation)
	}
}

// watchIdle handles a block while no recording is active: follow-up speech
// inside the conversation window, otherwise wake phrase detection.
func (c *Engine) watchIdle(samples []float32) {
	if c.state.WindowOpen() {
		hit, err := c.followUp.SpeechDetected(samples)
		if err != nil {
			c.log.Warn("follow-up detection failed", "error", err)
			return
		}
		if hit {
			c.state.CloseWindow()
			c.startRecording(SourceFollowUp)
			// The triggering block is part of the utterance.
			c.state.Append(samples)
		}
		return
	}

	if c.pushToTalk.Load() || c.wake == nil {
		return
	}
	hit, err := c.wake.Feed(samples)
	if err != nil {
		c.log.Warn("wake detection failed", "error", err)
		return
	}
	if hit {
		c.metrics.WakeDetections.Add(context.Background(), 1)
		c.emit(Event{Kind: EventWakeDetected, Source: SourceWakeWord})
		c.startRecording(SourceWakeWord)
	}
}

// feedRecording appends the block and refreshes the speech clock when the
// detector reports voice activity.
func (c *Engine) feedRecording(samples []float32) {
	c.state.Append(samples)
	hit, err := c.speech.SpeechDetected(samples)
	if err != nil {
		c.log.Warn("speech detection failed", "error", err)
		return
	}
	if hit {
		c.state.MarkSpeech()
	}
}

func (c *Engine) startRecording(src Source) {
	if !c.state.StartRecording(src) {
		return
	}
	c.speech.Reset()
	c.emit(Event{Kind: EventRecordingStarted, Source: src})
	c.log.Info("recording started", "source", src)
}

func (c *Engine) stopRecording() {
	if !c.state.StopRecording() {
		return
	}
	c.emit(Event{Kind: EventRecordingStopped, Source: c.state.Source()})
	c.log.Info("recording stopped", "source", c.state.Source(),
		"samples", c.state.BufferedSamples())
}

func (c *Engine) emit(ev Event) {
	if c.notify != nil {
		c.notify(ev)
	}
}
