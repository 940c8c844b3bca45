// Package notify speaks unsolicited assistant messages. Coding assistants
// write progress updates into the shared inbox on their own schedule; the
// watcher polls for them and reads them aloud, but only while the agent is
// otherwise idle so it never talks over an active turn.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kestrelvoice/kestrel/internal/inbox"
	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/internal/speech"
)

// DefaultPollInterval is the inbox polling cadence.
const DefaultPollInterval = 2 * time.Second

// compactionNotice is spoken once when the assistant starts compacting its
// context window.
const compactionNotice = "One moment, the assistant is compacting its context."

// Idle reports whether the agent may speak right now. The watcher stays
// quiet while recording, processing, or inside a conversation window.
type Idle interface {
	Recording() bool
	Processing() bool
	WindowOpen() bool
}

// Watcher polls the inbox for unsolicited assistant messages.
type Watcher struct {
	channel *inbox.Channel
	speaker speech.Speaker
	idle    Idle

	pollInterval time.Duration
	log          *slog.Logger
	metrics      *observe.Metrics
	disabled     atomic.Bool

	lastSpokenID        string
	announcedCompaction bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval overrides the polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// New builds a watcher over the inbox channel.
func New(ch *inbox.Channel, speaker speech.Speaker, idle Idle, opts ...Option) *Watcher {
	w := &Watcher{
		channel:      ch,
		speaker:      speaker,
		idle:         idle,
		pollInterval: DefaultPollInterval,
		log:          slog.Default(),
		metrics:      observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is cancelled. Messages already in the inbox at
// startup are treated as old news and never spoken.
func (w *Watcher) Run(ctx context.Context) error {
	if msg, ok, err := w.channel.LatestAssistantMessage(); err == nil && ok {
		w.lastSpokenID = msg.ID
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// SetEnabled mutes or unmutes the watcher. A muted watcher keeps polling so
// the last-spoken cursor stays current, it just never speaks; toggling back
// on does not replay messages that arrived while muted.
func (w *Watcher) SetEnabled(on bool) {
	w.disabled.Store(!on)
}

// Poll performs one inspection pass. Exported for tests.
func (w *Watcher) Poll(ctx context.Context) {
	pending, err := w.channel.PendingCompaction()
	if err != nil {
		w.log.Warn("compaction check failed", "error", err)
		return
	}
	if pending {
		if !w.announcedCompaction {
			w.announcedCompaction = true
			if !w.disabled.Load() {
				if err := w.speaker.Speak(ctx, compactionNotice); err != nil {
					w.log.Warn("speaking compaction notice failed", "error", err)
				}
			}
		}
		return
	}
	w.announcedCompaction = false

	if w.busy() {
		return
	}

	msg, ok, err := w.channel.LatestAssistantMessage()
	if err != nil {
		w.log.Warn("inbox poll failed", "error", err)
		return
	}
	if !ok || msg.ID == w.lastSpokenID {
		return
	}
	w.lastSpokenID = msg.ID
	if w.disabled.Load() {
		return
	}

	text := stripSenderPrefix(msg.Message, msg.From)
	w.log.Info("speaking unsolicited message", "id", msg.ID, "from", msg.From)
	if err := w.speaker.Speak(ctx, text); err != nil {
		w.log.Warn("speaking notification failed", "error", err)
		return
	}
	w.metrics.NotificationsSpoken.Add(ctx, 1)
}

func (w *Watcher) busy() bool {
	return w.idle.Recording() || w.idle.Processing() || w.idle.WindowOpen() ||
		w.channel.Awaiting()
}

// stripSenderPrefix removes a leading "sender:" echo that some assistants
// prepend to their own messages.
func stripSenderPrefix(text, from string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	prefix := strings.ToLower(from) + ":"
	if from != "" && strings.HasPrefix(lower, prefix) {
		return strings.TrimSpace(trimmed[len(prefix):])
	}
	return trimmed
}
