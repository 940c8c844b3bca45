package notify_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kestrelvoice/kestrel/internal/inbox"
	"github.com/kestrelvoice/kestrel/internal/notify"
)

type fakeSpeaker struct {
	spoken []string
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) error {
	s.spoken = append(s.spoken, text)
	return nil
}

type fakeIdle struct {
	recording  bool
	processing bool
	window     bool
}

func (f *fakeIdle) Recording() bool  { return f.recording }
func (f *fakeIdle) Processing() bool { return f.processing }
func (f *fakeIdle) WindowOpen() bool { return f.window }

func newTestChannel(t *testing.T) (*inbox.Channel, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inbox.json")
	ch, err := inbox.New(inbox.Config{
		Path:         path,
		Sender:       "kestrel",
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("inbox.New: %v", err)
	}
	return ch, path
}

func writeMessages(t *testing.T, path string, msgs ...inbox.Message) {
	t.Helper()
	doc := struct {
		Messages []inbox.Message `json:"messages"`
	}{Messages: msgs}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func assistantMsg(id, text string) inbox.Message {
	return inbox.Message{
		ID:        id,
		From:      "claude",
		Message:   text,
		Timestamp: time.Now().Format(time.RFC3339Nano),
		ThreadID:  "voice-mirror",
	}
}

func TestWatcher_SpeaksNewMessageOnce(t *testing.T) {
	t.Parallel()
	ch, path := newTestChannel(t)
	sp := &fakeSpeaker{}
	w := notify.New(ch, sp, &fakeIdle{})

	writeMessages(t, path, assistantMsg("msg-000000000001", "build finished"))
	w.Poll(context.Background())
	w.Poll(context.Background())

	if len(sp.spoken) != 1 || sp.spoken[0] != "build finished" {
		t.Fatalf("spoken = %v", sp.spoken)
	}
}

func TestWatcher_SkipsWhileBusy(t *testing.T) {
	t.Parallel()
	ch, path := newTestChannel(t)
	sp := &fakeSpeaker{}
	idle := &fakeIdle{recording: true}
	w := notify.New(ch, sp, idle)

	writeMessages(t, path, assistantMsg("msg-000000000001", "still working"))
	w.Poll(context.Background())
	if len(sp.spoken) != 0 {
		t.Fatal("must not speak while recording")
	}

	idle.recording = false
	w.Poll(context.Background())
	if len(sp.spoken) != 1 {
		t.Fatalf("expected message spoken once idle, got %v", sp.spoken)
	}
}

func TestWatcher_IgnoresOtherThreads(t *testing.T) {
	t.Parallel()
	ch, path := newTestChannel(t)
	sp := &fakeSpeaker{}
	w := notify.New(ch, sp, &fakeIdle{})

	other := assistantMsg("msg-000000000001", "chatter for another consumer")
	other.ThreadID = "some-other-thread"
	writeMessages(t, path, other)
	w.Poll(context.Background())
	if len(sp.spoken) != 0 {
		t.Fatalf("other-thread message spoken: %v", sp.spoken)
	}

	writeMessages(t, path, other, assistantMsg("msg-000000000002", "ours"))
	w.Poll(context.Background())
	if len(sp.spoken) != 1 || sp.spoken[0] != "ours" {
		t.Fatalf("spoken = %v", sp.spoken)
	}
}

func TestWatcher_StripsSenderPrefix(t *testing.T) {
	t.Parallel()
	ch, path := newTestChannel(t)
	sp := &fakeSpeaker{}
	w := notify.New(ch, sp, &fakeIdle{})

	writeMessages(t, path, assistantMsg("msg-000000000001", "Claude: tests pass"))
	w.Poll(context.Background())

	if len(sp.spoken) != 1 || sp.spoken[0] != "tests pass" {
		t.Fatalf("spoken = %v", sp.spoken)
	}
}

func TestWatcher_AnnouncesCompactionOnce(t *testing.T) {
	t.Parallel()
	ch, path := newTestChannel(t)
	sp := &fakeSpeaker{}
	w := notify.New(ch, sp, &fakeIdle{})

	writeMessages(t, path,
		assistantMsg("msg-000000000001", "working on it"),
		inbox.Message{Type: "system_event", Event: "pre_compact"},
	)
	w.Poll(context.Background())
	w.Poll(context.Background())

	if len(sp.spoken) != 1 {
		t.Fatalf("compaction notice should be spoken exactly once, got %v", sp.spoken)
	}
	// The chat message is held back while compaction is pending.
	if sp.spoken[0] == "working on it" {
		t.Fatal("chat message spoken instead of compaction notice")
	}
}

func TestWatcher_MutedAdvancesCursorWithoutSpeaking(t *testing.T) {
	t.Parallel()
	ch, path := newTestChannel(t)
	sp := &fakeSpeaker{}
	w := notify.New(ch, sp, &fakeIdle{})
	w.SetEnabled(false)

	writeMessages(t, path, assistantMsg("msg-000000000001", "quiet please"))
	w.Poll(context.Background())
	if len(sp.spoken) != 0 {
		t.Fatalf("muted watcher spoke: %v", sp.spoken)
	}

	// Unmuting must not replay the message seen while muted.
	w.SetEnabled(true)
	w.Poll(context.Background())
	if len(sp.spoken) != 0 {
		t.Fatalf("message seen while muted was replayed: %v", sp.spoken)
	}
}

func TestRun_BaselinesExistingMessages(t *testing.T) {
	t.Parallel()
	ch, path := newTestChannel(t)
	writeMessages(t, path, assistantMsg("msg-000000000001", "ancient history"))

	sp := &fakeSpeaker{}
	w := notify.New(ch, sp, &fakeIdle{}, notify.WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	if len(sp.spoken) != 0 {
		t.Fatalf("startup messages must not be spoken: %v", sp.spoken)
	}
}
