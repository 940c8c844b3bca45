// Package inbox implements the shared JSON inbox document through which the
// voice agent converses with an assistant process.
//
// The inbox is a single JSON file containing a message list. The agent
// appends transcribed user turns and polls for assistant replies; assistant
// CLIs append their responses the same way. Because both sides only ever
// rewrite the whole document atomically, the file doubles as the
// conversation log and needs no coordination beyond rename semantics.
//
// The document also carries system events. Before compacting its context,
// the assistant appends a pre_compact event; Send pauses while such an event
// is unread so a turn is not dropped mid-compaction.
package inbox

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultProvider is the assistant identity assumed when the config names
// none.
const DefaultProvider = "claude"

// cliProviders are the provider ids whose CLI frontends all reply under a
// "claude" sender tag. For these, matching accepts that tag in addition to
// the provider's own id.
var cliProviders = []string{"claude", "opencode", "kimi-cli"}

// eventTypeSystem marks a document entry as a system event rather than a
// chat message.
const eventTypeSystem = "system_event"

// eventPreCompact is the system event the assistant writes before compacting
// its context window.
const eventPreCompact = "pre_compact"

// dedupWindow suppresses re-sending an identical transcript within this
// interval. Double wake triggers and echoey follow-up detection both produce
// back-to-back duplicates.
const dedupWindow = 2 * time.Second

// Message is one entry of the inbox document. Chat messages use ID, From,
// Message, Timestamp, ThreadID, and ReadBy; system events use Type, Event,
// and Read. Unknown fields written by other processes are dropped on
// rewrite, so the schema here must stay a superset of what the assistant
// writes.
type Message struct {
	ID        string   `json:"id,omitempty"`
	From      string   `json:"from,omitempty"`
	Message   string   `json:"message,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	ThreadID  string   `json:"thread_id,omitempty"`
	ReadBy    []string `json:"read_by,omitempty"`

	Type  string `json:"type,omitempty"`
	Event string `json:"event,omitempty"`
	Read  bool   `json:"read,omitempty"`
}

// Time parses the message timestamp. Returns the zero time for missing or
// malformed timestamps.
func (m Message) Time() time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, m.Timestamp); err == nil {
			return t
		}
	}
	return time.Time{}
}

type document struct {
	Messages []Message `json:"messages"`
}

// Config holds the channel settings. Zero durations fall back to the
// defaults documented on each field.
type Config struct {
	// Path is the inbox JSON file.
	Path string

	// Sender is the name attached to outgoing messages.
	Sender string

	// Provider is the assistant identity whose messages count as replies.
	// Default: DefaultProvider.
	Provider string

	// ThreadID tags outgoing messages. Default: "voice-mirror".
	ThreadID string

	// PollInterval is the response polling cadence. Default: 500ms.
	PollInterval time.Duration

	// MaxMessages caps the document size. Default: 100.
	MaxMessages int

	// MaxAge drops messages older than this during cleanup. Default: 2h.
	MaxAge time.Duration

	// CleanupInterval is the cadence of the background trim. Default: 30m.
	CleanupInterval time.Duration

	// CompactionWait is the longest Send pauses for an unread pre_compact
	// event. Default: 60s.
	CompactionWait time.Duration
}

// Channel reads and writes the shared inbox document. All methods are safe
// for concurrent use.
type Channel struct {
	cfg Config

	mu sync.Mutex

	// read cache keyed by file mtime, invalidated by our own writes
	cacheMtime time.Time
	cacheDoc   *document

	// send dedup state
	lastSentHash [sha256.Size]byte
	lastSentAt   time.Time

	// provider holds the lowercased assistant identity; an atomic so the
	// config watcher can swap it on a live channel.
	provider atomic.Value

	awaiting atomic.Bool
}

// New validates cfg, fills defaults, and returns a ready Channel. The inbox
// file itself is created lazily on first send.
func New(cfg Config) (*Channel, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("inbox: path is required")
	}
	if cfg.Sender == "" {
		cfg.Sender = "user"
	}
	if cfg.ThreadID == "" {
		cfg.ThreadID = "voice-mirror"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 100
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 2 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Minute
	}
	if cfg.CompactionWait <= 0 {
		cfg.CompactionWait = 60 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = DefaultProvider
	}
	c := &Channel{cfg: cfg}
	c.SetProvider(cfg.Provider)
	return c, nil
}

// SetProvider replaces the assistant identity used to recognise replies.
// Safe to call concurrently; the config watcher uses it for live reload.
func (c *Channel) SetProvider(id string) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		id = DefaultProvider
	}
	c.provider.Store(id)
}

// Provider returns the current assistant identity.
func (c *Channel) Provider() string {
	return c.provider.Load().(string)
}

// Send appends a user message and returns its ID. A transcript identical to
// the previous one (after trimming and lowercasing) within two seconds is
// dropped and Send returns an empty ID with no error. When an unread
// pre_compact event is pending, Send waits for the assistant to mark it read
// (bounded by CompactionWait) before writing.
func (c *Channel) Send(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	hash := sha256.Sum256([]byte(strings.ToLower(text)))
	c.mu.Lock()
	if hash == c.lastSentHash && time.Since(c.lastSentAt) < dedupWindow {
		c.mu.Unlock()
		slog.Debug("inbox: duplicate transcript suppressed", "text", text)
		return "", nil
	}
	c.mu.Unlock()

	if err := c.waitForCompaction(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.readLocked()
	if err != nil {
		return "", err
	}

	id := newMessageID()
	doc.Messages = append(doc.Messages, Message{
		ID:        id,
		From:      c.cfg.Sender,
		Message:   text,
		Timestamp: time.Now().Format(time.RFC3339),
		ThreadID:  c.cfg.ThreadID,
		ReadBy:    []string{},
	})
	trimDoc(doc, c.cfg.MaxMessages, 0)

	if err := c.writeLocked(doc); err != nil {
		return "", err
	}

	c.lastSentHash = hash
	c.lastSentAt = time.Now()
	return id, nil
}

// AppendFrom appends a chat message under an arbitrary sender, bypassing
// dedup and the compaction pause. Used by the MCP tools, which act on
// behalf of other participants in the thread.
func (c *Channel) AppendFrom(from, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("inbox: message must not be empty")
	}
	if from == "" {
		return "", fmt.Errorf("inbox: sender must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.readLocked()
	if err != nil {
		return "", err
	}

	id := newMessageID()
	doc.Messages = append(doc.Messages, Message{
		ID:        id,
		From:      from,
		Message:   text,
		Timestamp: time.Now().Format(time.RFC3339),
		ThreadID:  c.cfg.ThreadID,
		ReadBy:    []string{},
	})
	trimDoc(doc, c.cfg.MaxMessages, 0)

	if err := c.writeLocked(doc); err != nil {
		return "", err
	}
	return id, nil
}

// WaitForResponse polls the inbox until an assistant reply appears after the
// message with ID afterID, then returns its text. It gives up when wait
// elapses or ctx is cancelled. While afterID is absent from the document the
// poll keeps waiting: position relative to our own message is the only safe
// way to tell a fresh reply from older traffic.
func (c *Channel) WaitForResponse(ctx context.Context, afterID string, wait time.Duration) (string, error) {
	c.awaiting.Store(true)
	defer c.awaiting.Store(false)

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if msg, ok, err := c.replyAfter(afterID); err != nil {
			slog.Warn("inbox: poll failed", "error", err)
		} else if ok {
			return msg.Message, nil
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("inbox: no response within %s", wait)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Awaiting reports whether a WaitForResponse call is in flight. The
// notification watcher checks this to avoid speaking a reply the turn
// orchestrator is about to deliver.
func (c *Channel) Awaiting() bool {
	return c.awaiting.Load()
}

// LatestAssistantMessage returns the most recent assistant chat message on
// the channel's thread.
func (c *Channel) LatestAssistantMessage() (Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.readLocked()
	if err != nil {
		return Message{}, false, err
	}
	for i := len(doc.Messages) - 1; i >= 0; i-- {
		if c.fromAssistant(doc.Messages[i]) {
			return doc.Messages[i], true, nil
		}
	}
	return Message{}, false, nil
}

// PendingCompaction reports whether an unread pre_compact event exists.
func (c *Channel) PendingCompaction() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.readLocked()
	if err != nil {
		return false, err
	}
	for _, m := range doc.Messages {
		if m.Type == eventTypeSystem && m.Event == eventPreCompact && !m.Read {
			return true, nil
		}
	}
	return false, nil
}

// MarkCompactionRead flags every pending pre_compact event as read.
func (c *Channel) MarkCompactionRead() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.readLocked()
	if err != nil {
		return err
	}
	changed := false
	for i := range doc.Messages {
		m := &doc.Messages[i]
		if m.Type == eventTypeSystem && m.Event == eventPreCompact && !m.Read {
			m.Read = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.writeLocked(doc)
}

// Cleanup drops messages older than MaxAge and enforces the MaxMessages cap.
// Read system events are dropped with the same age rule.
func (c *Channel) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.readLocked()
	if err != nil {
		return err
	}
	before := len(doc.Messages)
	trimDoc(doc, c.cfg.MaxMessages, c.cfg.MaxAge)
	if len(doc.Messages) == before {
		return nil
	}
	slog.Debug("inbox: cleanup trimmed messages", "before", before, "after", len(doc.Messages))
	return c.writeLocked(doc)
}

// RunCleanup trims the inbox on CleanupInterval until ctx is cancelled.
func (c *Channel) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Cleanup(); err != nil {
				slog.Warn("inbox: cleanup failed", "error", err)
			}
		}
	}
}

// waitForCompaction blocks while an unread pre_compact event is pending,
// bounded by CompactionWait. On timeout the event is marked read so a stuck
// assistant cannot wedge the channel.
func (c *Channel) waitForCompaction(ctx context.Context) error {
	pending, err := c.PendingCompaction()
	if err != nil || !pending {
		return err
	}

	slog.Info("inbox: compaction in progress, holding send", "wait", c.cfg.CompactionWait)
	deadline := time.Now().Add(c.cfg.CompactionWait)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		pending, err := c.PendingCompaction()
		if err != nil {
			return err
		}
		if !pending {
			return nil
		}
		if time.Now().After(deadline) {
			slog.Warn("inbox: compaction wait timed out, resuming sends")
			return c.MarkCompactionRead()
		}
	}
}

// replyAfter returns the first assistant reply positioned after the message
// with ID afterID. When afterID is not in the document (not yet visible, or
// already trimmed) there is no match.
func (c *Channel) replyAfter(afterID string) (Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.readLocked()
	if err != nil {
		return Message{}, false, err
	}
	idx := slices.IndexFunc(doc.Messages, func(m Message) bool {
		return m.ID == afterID
	})
	if idx < 0 {
		return Message{}, false, nil
	}
	for _, m := range doc.Messages[idx+1:] {
		if c.fromAssistant(m) {
			return m, true, nil
		}
	}
	return Message{}, false, nil
}

// fromAssistant reports whether m is a chat message from the configured
// provider on our thread. Sender tags vary across frontends ("Claude",
// "claude (opus)", ...), so the provider id matches as a case-insensitive
// substring; providers that reply through the shared claude CLI accept that
// tag as well.
func (c *Channel) fromAssistant(m Message) bool {
	if m.Type != "" || m.ThreadID != c.cfg.ThreadID || strings.TrimSpace(m.Message) == "" {
		return false
	}
	sender := strings.ToLower(m.From)
	provider := c.Provider()
	if strings.Contains(sender, provider) {
		return true
	}
	return slices.Contains(cliProviders, provider) && strings.Contains(sender, "claude")
}

// readLocked returns the parsed document, using the mtime-keyed cache when
// the file has not changed. A missing or corrupt file yields an empty
// document: the inbox is shared with processes outside our control, and a
// half-written file must not take the voice pipeline down.
func (c *Channel) readLocked() (*document, error) {
	info, err := os.Stat(c.cfg.Path)
	if os.IsNotExist(err) {
		return &document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inbox: stat %q: %w", c.cfg.Path, err)
	}

	if c.cacheDoc != nil && info.ModTime().Equal(c.cacheMtime) {
		return cloneDoc(c.cacheDoc), nil
	}

	data, err := os.ReadFile(c.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("inbox: read %q: %w", c.cfg.Path, err)
	}

	doc := &document{}
	if err := json.Unmarshal(data, doc); err != nil {
		slog.Warn("inbox: malformed document, treating as empty", "path", c.cfg.Path, "error", err)
		return &document{}, nil
	}

	c.cacheDoc = cloneDoc(doc)
	c.cacheMtime = info.ModTime()
	return doc, nil
}

// writeLocked atomically replaces the inbox file and refreshes the cache.
func (c *Channel) writeLocked(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("inbox: marshal: %w", err)
	}

	dir := filepath.Dir(c.cfg.Path)
	tmp, err := os.CreateTemp(dir, ".inbox-*.json")
	if err != nil {
		return fmt.Errorf("inbox: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("inbox: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("inbox: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, c.cfg.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("inbox: replace %q: %w", c.cfg.Path, err)
	}

	// Refresh the cache so our own write does not force a re-read.
	if info, err := os.Stat(c.cfg.Path); err == nil {
		c.cacheDoc = cloneDoc(doc)
		c.cacheMtime = info.ModTime()
	} else {
		c.cacheDoc = nil
	}
	return nil
}

// trimDoc enforces the age limit (when maxAge > 0) and the size cap, oldest
// first. Unread system events survive the age trim so a pending compaction
// pause is never lost.
func trimDoc(doc *document, maxMessages int, maxAge time.Duration) {
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge)
		kept := doc.Messages[:0]
		for _, m := range doc.Messages {
			if m.Type == eventTypeSystem && !m.Read {
				kept = append(kept, m)
				continue
			}
			if ts := m.Time(); !ts.IsZero() && ts.Before(cutoff) {
				continue
			}
			kept = append(kept, m)
		}
		doc.Messages = kept
	}
	if maxMessages > 0 && len(doc.Messages) > maxMessages {
		doc.Messages = doc.Messages[len(doc.Messages)-maxMessages:]
	}
}

func cloneDoc(doc *document) *document {
	cp := &document{Messages: make([]Message, len(doc.Messages))}
	copy(cp.Messages, doc.Messages)
	return cp
}

// newMessageID returns "msg-" followed by 12 hex characters.
func newMessageID() string {
	id := uuid.New()
	return fmt.Sprintf("msg-%x", id[:6])
}
