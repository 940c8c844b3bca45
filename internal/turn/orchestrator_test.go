package turn_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kestrelvoice/kestrel/internal/capture"
	"github.com/kestrelvoice/kestrel/internal/turn"
	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
	sttmock "github.com/kestrelvoice/kestrel/pkg/provider/stt/mock"
	"github.com/kestrelvoice/kestrel/pkg/provider/wake"
)

type fakeRouter struct {
	reply   string
	err     error
	handled []string
	sources []capture.Source
}

func (r *fakeRouter) Handle(_ context.Context, text string, src capture.Source) (string, error) {
	r.handled = append(r.handled, text)
	r.sources = append(r.sources, src)
	return r.reply, r.err
}

type funcRouter func(ctx context.Context, text string, src capture.Source) (string, error)

func (f funcRouter) Handle(ctx context.Context, text string, src capture.Source) (string, error) {
	return f(ctx, text, src)
}

type fakeSpeaker struct {
	spoken []string
	err    error
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) error {
	s.spoken = append(s.spoken, text)
	return s.err
}

type fakeInjector struct {
	injected []string
	err      error
}

func (i *fakeInjector) Inject(text string) error {
	i.injected = append(i.injected, text)
	return i.err
}

type fakeRecorder struct {
	turns [][3]string
}

func (r *fakeRecorder) RecordTurn(_ context.Context, source, heard, reply string) error {
	r.turns = append(r.turns, [3]string{source, heard, reply})
	return nil
}

// finishRecording puts the state where the capture engine leaves it after a
// stop: idle with a drained-ready buffer.
func finishRecording(state *capture.State, src capture.Source, samples int) {
	state.StartRecording(src)
	state.Append(make([]float32, samples))
	state.StopRecording()
}

func testConfig() turn.Config {
	return turn.Config{
		SilenceTimeout:     10 * time.Second,
		MinUtterance:       400 * time.Millisecond,
		ConversationWindow: 8 * time.Second,
		SampleRate:         16000,
	}
}

func TestOrchestrator_RoutesAndSpeaks(t *testing.T) {
	t.Parallel()
	state := capture.NewState()
	trans := &sttmock.Provider{Results: []stt.Transcript{{Text: "what time is it"}}}
	router := &fakeRouter{reply: "half past nine"}
	speaker := &fakeSpeaker{}
	rec := &fakeRecorder{}
	o := turn.New(state, trans, router, speaker, testConfig(), turn.WithRecorder(rec))

	finishRecording(state, capture.SourcePTT, 16000)
	o.Tick(context.Background())

	if len(router.handled) != 1 || router.handled[0] != "what time is it" {
		t.Fatalf("router handled %v", router.handled)
	}
	if len(speaker.spoken) != 1 || speaker.spoken[0] != "half past nine" {
		t.Fatalf("speaker spoke %v", speaker.spoken)
	}
	if len(rec.turns) != 1 || rec.turns[0] != [3]string{"ptt", "what time is it", "half past nine"} {
		t.Fatalf("recorded %v", rec.turns)
	}
	if state.WindowOpen() {
		t.Fatal("push-to-talk turns must not open the conversation window")
	}
	if state.Processing() {
		t.Fatal("processing flag left set")
	}
}

// The reply wait can run for a minute or more; the processing gate must lift
// before it so a push-to-talk press can start the next recording meanwhile.
func TestOrchestrator_ProcessingReleasedBeforeRouting(t *testing.T) {
	t.Parallel()
	state := capture.NewState()
	trans := &sttmock.Provider{Results: []stt.Transcript{{Text: "take your time"}}}
	var duringRoute bool
	r := funcRouter(func(context.Context, string, capture.Source) (string, error) {
		duringRoute = state.Processing()
		return "done", nil
	})
	o := turn.New(state, trans, r, &fakeSpeaker{}, testConfig())

	finishRecording(state, capture.SourcePTT, 16000)
	o.Tick(context.Background())

	if duringRoute {
		t.Fatal("processing flag still set while awaiting the reply")
	}
}

func TestOrchestrator_WakeTurnOpensWindow(t *testing.T) {
	t.Parallel()
	state := capture.NewState()
	trans := &sttmock.Provider{Results: []stt.Transcript{{Text: "hey kestrel what time is it"}}}
	router := &fakeRouter{reply: "noon"}
	o := turn.New(state, trans, router, &fakeSpeaker{}, testConfig(),
		turn.WithPhrase(wake.NewPhrase("hey kestrel")))

	finishRecording(state, capture.SourceWakeWord, 16000)
	o.Tick(context.Background())

	if len(router.handled) != 1 || router.handled[0] != "what time is it" {
		t.Fatalf("wake phrase not stripped: %v", router.handled)
	}
	if !state.WindowOpen() {
		t.Fatal("wake word turn should open the conversation window")
	}
}

func TestOrchestrator_BareWakePhraseOpensWindow(t *testing.T) {
	t.Parallel()
	state := capture.NewState()
	trans := &sttmock.Provider{Results: []stt.Transcript{{Text: "Hey Kestrel."}}}
	router := &fakeRouter{}
	o := turn.New(state, trans, router, &fakeSpeaker{}, testConfig(),
		turn.WithPhrase(wake.NewPhrase("hey kestrel")))

	finishRecording(state, capture.SourceWakeWord, 16000)
	o.Tick(context.Background())

	if len(router.handled) != 0 {
		t.Fatalf("bare wake phrase must not be routed: %v", router.handled)
	}
	if !state.WindowOpen() {
		t.Fatal("bare wake phrase should still open the conversation window")
	}
}

func TestOrchestrator_DiscardsShortUtterance(t *testing.T) {
	t.Parallel()
	state := capture.NewState()
	trans := &sttmock.Provider{Results: []stt.Transcript{{Text: "never reached"}}}
	router := &fakeRouter{}
	o := turn.New(state, trans, router, &fakeSpeaker{}, testConfig())

	// 100 ms at 16 kHz, well under the 400 ms minimum.
	finishRecording(state, capture.SourcePTT, 1600)
	o.Tick(context.Background())

	if len(trans.Calls) != 0 {
		t.Fatal("short utterances must be discarded before transcription")
	}
	if n := state.BufferedSamples(); n != 0 {
		t.Fatalf("buffer not drained: %d samples", n)
	}
}

func TestOrchestrator_FiltersNoiseTranscript(t *testing.T) {
	t.Parallel()
	state := capture.NewState()
	trans := &sttmock.Provider{Results: []stt.Transcript{{Text: " . "}}}
	router := &fakeRouter{}
	o := turn.New(state, trans, router, &fakeSpeaker{}, testConfig())

	finishRecording(state, capture.SourcePTT, 16000)
	o.Tick(context.Background())

	if len(router.handled) != 0 {
		t.Fatalf("noise transcript was routed: %v", router.handled)
	}
}

func TestOrchestrator_DictationInjects(t *testing.T) {
	t.Parallel()
	state := capture.NewState()
	trans := &sttmock.Provider{Results: []stt.Transcript{{Text: "dear diary"}}}
	router := &fakeRouter{}
	inj := &fakeInjector{}
	o := turn.New(state, trans, router, &fakeSpeaker{}, testConfig(), turn.WithInjector(inj))

	finishRecording(state, capture.SourceDictation, 16000)
	o.Tick(context.Background())

	if len(inj.injected) != 1 || inj.injected[0] != "dear diary" {
		t.Fatalf("injected %v", inj.injected)
	}
	if len(router.handled) != 0 {
		t.Fatal("dictation must not reach the router")
	}
	if state.WindowOpen() {
		t.Fatal("dictation must not open the conversation window")
	}
}

func TestOrchestrator_SilenceTimeoutStopsTimedRecording(t *testing.T) {
	t.Parallel()
	state := capture.NewState()
	cfg := testConfig()
	cfg.SilenceTimeout = 10 * time.Millisecond
	o := turn.New(state, &sttmock.Provider{}, &fakeRouter{}, &fakeSpeaker{}, cfg)

	state.StartRecording(capture.SourceWakeWord)
	time.Sleep(30 * time.Millisecond)
	o.Tick(context.Background())

	if !state.TakeStop() {
		t.Fatal("silence timeout should file a stop request")
	}
}

func TestOrchestrator_NoSilenceTimeoutForPTT(t *testing.T) {
	t.Parallel()
	state := capture.NewState()
	cfg := testConfig()
	cfg.SilenceTimeout = 10 * time.Millisecond
	o := turn.New(state, &sttmock.Provider{}, &fakeRouter{}, &fakeSpeaker{}, cfg)

	state.StartRecording(capture.SourcePTT)
	time.Sleep(30 * time.Millisecond)
	o.Tick(context.Background())

	if state.TakeStop() {
		t.Fatal("push-to-talk recordings must not end on silence")
	}
}

func TestOrchestrator_TranscribeErrorLeavesStateClean(t *testing.T) {
	t.Parallel()
	state := capture.NewState()
	trans := &sttmock.Provider{Err: errors.New("model gone")}
	o := turn.New(state, trans, &fakeRouter{}, &fakeSpeaker{}, testConfig())

	finishRecording(state, capture.SourcePTT, 16000)
	o.Tick(context.Background())

	if state.Processing() {
		t.Fatal("processing flag left set after a transcribe error")
	}
	if n := state.BufferedSamples(); n != 0 {
		t.Fatalf("buffer not drained after error: %d samples", n)
	}
}

func TestOrchestrator_EmptyReplyIsNotSpoken(t *testing.T) {
	t.Parallel()
	state := capture.NewState()
	trans := &sttmock.Provider{Results: []stt.Transcript{{Text: "log this silently"}}}
	speaker := &fakeSpeaker{}
	o := turn.New(state, trans, &fakeRouter{reply: ""}, speaker, testConfig())

	finishRecording(state, capture.SourcePTT, 16000)
	o.Tick(context.Background())

	if len(speaker.spoken) != 0 {
		t.Fatalf("empty reply was spoken: %v", speaker.spoken)
	}
}
