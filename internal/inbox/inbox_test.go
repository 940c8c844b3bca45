package inbox_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kestrelvoice/kestrel/internal/inbox"
)

func newChannel(t *testing.T, cfg inbox.Config) *inbox.Channel {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "inbox.json")
	}
	if cfg.Sender == "" {
		cfg.Sender = "brian"
	}
	ch, err := inbox.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ch
}

func readDoc(t *testing.T, path string) map[string][]inbox.Message {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read inbox: %v", err)
	}
	var doc map[string][]inbox.Message
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse inbox: %v", err)
	}
	return doc
}

func writeDoc(t *testing.T, path string, msgs []inbox.Message) {
	t.Helper()
	data, err := json.Marshal(map[string][]inbox.Message{"messages": msgs})
	if err != nil {
		t.Fatalf("marshal doc: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
}

func TestSend_WritesMessage(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path})

	id, err := ch.Send(context.Background(), "  turn on the lights  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasPrefix(id, "msg-") || len(id) != 16 {
		t.Errorf("id format: got %q, want msg-<12 hex>", id)
	}

	msgs := readDoc(t, path)["messages"]
	if len(msgs) != 1 {
		t.Fatalf("message count: got %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Message != "turn on the lights" {
		t.Errorf("text not trimmed: got %q", m.Message)
	}
	if m.From != "brian" {
		t.Errorf("sender: got %q, want brian", m.From)
	}
	if m.ThreadID != "voice-mirror" {
		t.Errorf("thread: got %q, want voice-mirror", m.ThreadID)
	}
	if m.Time().IsZero() {
		t.Errorf("timestamp not parseable: %q", m.Timestamp)
	}
}

func TestSend_DedupWithinWindow(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path})

	if _, err := ch.Send(context.Background(), "Hello There"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	// Same content modulo case and whitespace, immediately after.
	id, err := ch.Send(context.Background(), "  hello there ")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if id != "" {
		t.Errorf("duplicate send returned id %q, want empty", id)
	}

	if msgs := readDoc(t, path)["messages"]; len(msgs) != 1 {
		t.Errorf("message count: got %d, want 1", len(msgs))
	}
}

func TestSend_DifferentTextNotDeduped(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path})

	ctx := context.Background()
	if _, err := ch.Send(ctx, "first thing"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	id, err := ch.Send(ctx, "second thing")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id == "" {
		t.Error("distinct text must not be deduped")
	}
}

func TestSend_EmptyTextDropped(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path})

	id, err := ch.Send(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "" {
		t.Errorf("blank send returned id %q, want empty", id)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("blank send should not create the inbox file")
	}
}

func TestSend_CapsMessageCount(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")

	now := time.Now()
	var msgs []inbox.Message
	for range 100 {
		msgs = append(msgs, inbox.Message{
			ID:        "msg-000000000000",
			From:      "claude",
			Message:   "old reply",
			Timestamp: now.Format(time.RFC3339),
		})
	}
	writeDoc(t, path, msgs)

	ch := newChannel(t, inbox.Config{Path: path})
	if _, err := ch.Send(context.Background(), "new message"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := readDoc(t, path)["messages"]
	if len(got) != 100 {
		t.Fatalf("message count: got %d, want 100", len(got))
	}
	if got[len(got)-1].Message != "new message" {
		t.Error("newest message must survive the cap")
	}
}

// appendReply adds a message after whatever the document already holds and
// bumps the file mtime so the channel's read cache notices the write.
func appendReply(t *testing.T, path string, msg inbox.Message) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read inbox: %v", err)
	}
	var doc map[string][]inbox.Message
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse inbox: %v", err)
	}
	writeDoc(t, path, append(doc["messages"], msg))
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWaitForResponse(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path, PollInterval: 20 * time.Millisecond})

	id, err := ch.Send(context.Background(), "lights on please")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	go func() {
		time.Sleep(60 * time.Millisecond)
		appendReply(t, path, inbox.Message{
			ID:        "msg-abcdefabcdef",
			From:      "claude",
			Message:   "the lights are on",
			Timestamp: time.Now().Format(time.RFC3339),
			ThreadID:  "voice-mirror",
		})
	}()

	text, err := ch.WaitForResponse(context.Background(), id, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForResponse: %v", err)
	}
	if text != "the lights are on" {
		t.Errorf("got %q, want the assistant reply", text)
	}
}

// A reply written within the same second as the question must still count:
// matching is by position after the sent message, not by timestamp.
func TestWaitForResponse_SameSecondReply(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path, PollInterval: 20 * time.Millisecond})

	id, err := ch.Send(context.Background(), "what time is it")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	appendReply(t, path, inbox.Message{
		ID:        "msg-111111111111",
		From:      "claude",
		Message:   "noon",
		Timestamp: time.Now().Format(time.RFC3339),
		ThreadID:  "voice-mirror",
	})

	text, err := ch.WaitForResponse(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("WaitForResponse: %v", err)
	}
	if text != "noon" {
		t.Errorf("got %q, want noon", text)
	}
}

func TestWaitForResponse_IgnoresEarlierAndOwnMessages(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path, PollInterval: 20 * time.Millisecond})

	now := time.Now()
	writeDoc(t, path, []inbox.Message{
		{ID: "msg-aaaaaaaaaaaa", From: "claude", Message: "stale reply",
			Timestamp: now.Format(time.RFC3339), ThreadID: "voice-mirror"},
	})
	id, err := ch.Send(context.Background(), "my own turn")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	_, err = ch.WaitForResponse(context.Background(), id, 150*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout, got a response")
	}
}

// Assistant traffic on another thread is not a reply to us.
func TestWaitForResponse_IgnoresOtherThreads(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path, PollInterval: 20 * time.Millisecond})

	id, err := ch.Send(context.Background(), "status report")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	appendReply(t, path, inbox.Message{
		ID:        "msg-222222222222",
		From:      "claude",
		Message:   "unrelated chatter for someone else",
		Timestamp: time.Now().Format(time.RFC3339),
		ThreadID:  "some-other-thread",
	})

	_, err = ch.WaitForResponse(context.Background(), id, 150*time.Millisecond)
	if err == nil {
		t.Fatal("other-thread message must not be taken as the reply")
	}
}

// When our own message has been trimmed from the document, nothing after it
// can be located; the poll keeps waiting rather than guessing.
func TestWaitForResponse_SentMessageMissing(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path, PollInterval: 20 * time.Millisecond})

	writeDoc(t, path, []inbox.Message{
		{ID: "msg-333333333333", From: "claude", Message: "a reply to nothing",
			Timestamp: time.Now().Format(time.RFC3339), ThreadID: "voice-mirror"},
	})

	_, err := ch.WaitForResponse(context.Background(), "msg-deadbeef0000", 150*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout when the sent message is absent")
	}
}

func TestWaitForResponse_ContextCancelled(t *testing.T) {
	t.Parallel()
	ch := newChannel(t, inbox.Config{PollInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ch.WaitForResponse(ctx, "msg-abcdefabcdef", time.Second); err == nil {
		t.Fatal("expected context error")
	}
}

func TestProviderMatching(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path, Provider: "ollama"})

	now := time.Now().Format(time.RFC3339)
	writeDoc(t, path, []inbox.Message{
		{ID: "msg-444444444444", From: "claude", Message: "not our provider",
			Timestamp: now, ThreadID: "voice-mirror"},
		{ID: "msg-555555555555", From: "Ollama (llama3)", Message: "from our provider",
			Timestamp: now, ThreadID: "voice-mirror"},
	})

	msg, ok, err := ch.LatestAssistantMessage()
	if err != nil || !ok {
		t.Fatalf("LatestAssistantMessage: ok=%v err=%v", ok, err)
	}
	if msg.Message != "from our provider" {
		t.Errorf("got %q, want the configured provider's message", msg.Message)
	}

	// CLI-fronted providers reply under the shared claude sender tag, so
	// switching to one of them accepts that tag too.
	ch.SetProvider("opencode")
	msg, ok, err = ch.LatestAssistantMessage()
	if err != nil || !ok {
		t.Fatalf("LatestAssistantMessage: ok=%v err=%v", ok, err)
	}
	if msg.Message != "not our provider" {
		t.Errorf("got %q, want the claude-tagged message", msg.Message)
	}
}

func TestLatestAssistantMessage(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path})

	now := time.Now()
	writeDoc(t, path, []inbox.Message{
		{From: "claude", Message: "first", Timestamp: now.Add(-2 * time.Minute).Format(time.RFC3339), ThreadID: "voice-mirror"},
		{From: "brian", Message: "user turn", Timestamp: now.Add(-time.Minute).Format(time.RFC3339), ThreadID: "voice-mirror"},
		{From: "Claude (opus)", Message: "latest", Timestamp: now.Format(time.RFC3339), ThreadID: "voice-mirror"},
	})

	msg, ok, err := ch.LatestAssistantMessage()
	if err != nil {
		t.Fatalf("LatestAssistantMessage: %v", err)
	}
	if !ok {
		t.Fatal("expected an assistant message")
	}
	if msg.Message != "latest" {
		t.Errorf("got %q, want latest", msg.Message)
	}
}

func TestCompactionEvents(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path})

	writeDoc(t, path, []inbox.Message{
		{Type: "system_event", Event: "pre_compact"},
	})

	pending, err := ch.PendingCompaction()
	if err != nil {
		t.Fatalf("PendingCompaction: %v", err)
	}
	if !pending {
		t.Fatal("unread pre_compact event not detected")
	}

	if err := ch.MarkCompactionRead(); err != nil {
		t.Fatalf("MarkCompactionRead: %v", err)
	}
	pending, err = ch.PendingCompaction()
	if err != nil {
		t.Fatalf("PendingCompaction: %v", err)
	}
	if pending {
		t.Error("event still pending after MarkCompactionRead")
	}
}

func TestSend_WaitsOutCompaction(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{
		Path:           path,
		PollInterval:   20 * time.Millisecond,
		CompactionWait: 150 * time.Millisecond,
	})

	writeDoc(t, path, []inbox.Message{
		{Type: "system_event", Event: "pre_compact"},
	})

	start := time.Now()
	id, err := ch.Send(context.Background(), "after compaction")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id == "" {
		t.Fatal("send was dropped")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("send did not pause for compaction (took %s)", elapsed)
	}

	// The timed-out event must have been marked read so later sends
	// proceed immediately.
	pending, err := ch.PendingCompaction()
	if err != nil {
		t.Fatalf("PendingCompaction: %v", err)
	}
	if pending {
		t.Error("compaction event still pending after timeout")
	}
}

func TestCleanup_AgeAndCap(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path, MaxAge: time.Hour})

	now := time.Now()
	writeDoc(t, path, []inbox.Message{
		{From: "claude", Message: "ancient", Timestamp: now.Add(-3 * time.Hour).Format(time.RFC3339)},
		{From: "claude", Message: "recent", Timestamp: now.Format(time.RFC3339)},
		{Type: "system_event", Event: "pre_compact"}, // unread, no timestamp
	})

	if err := ch.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	msgs := readDoc(t, path)["messages"]
	if len(msgs) != 2 {
		t.Fatalf("message count after cleanup: got %d, want 2", len(msgs))
	}
	if msgs[0].Message != "recent" {
		t.Errorf("old message survived cleanup: %+v", msgs[0])
	}
	if msgs[1].Event != "pre_compact" {
		t.Error("unread system event must survive cleanup")
	}
}

func TestRead_MalformedDocumentTreatedAsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ch := newChannel(t, inbox.Config{Path: path})

	_, ok, err := ch.LatestAssistantMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("malformed document should read as empty")
	}

	// Sending over a corrupt file must recover it.
	if _, err := ch.Send(context.Background(), "recovery"); err != nil {
		t.Fatalf("Send over corrupt file: %v", err)
	}
	if msgs := readDoc(t, path)["messages"]; len(msgs) != 1 {
		t.Errorf("message count: got %d, want 1", len(msgs))
	}
}

func TestRead_CacheInvalidatedByExternalWrite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch := newChannel(t, inbox.Config{Path: path})

	writeDoc(t, path, []inbox.Message{
		{From: "claude", Message: "one", Timestamp: time.Now().Format(time.RFC3339), ThreadID: "voice-mirror"},
	})
	if _, ok, _ := ch.LatestAssistantMessage(); !ok {
		t.Fatal("expected first message")
	}

	// External write with a different mtime.
	time.Sleep(10 * time.Millisecond)
	writeDoc(t, path, []inbox.Message{
		{From: "claude", Message: "two", Timestamp: time.Now().Format(time.RFC3339), ThreadID: "voice-mirror"},
	})
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	msg, ok, err := ch.LatestAssistantMessage()
	if err != nil || !ok {
		t.Fatalf("LatestAssistantMessage: ok=%v err=%v", ok, err)
	}
	if msg.Message != "two" {
		t.Errorf("stale cache: got %q, want two", msg.Message)
	}
}
