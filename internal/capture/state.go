// Package capture implements the real-time recording state machine and the
// capture loop that feeds it.
//
// The state machine is shared between two worlds with very different timing
// demands. The capture callback runs at audio rate and must never block, so
// every flag it reads or writes is an atomic scalar. The sample buffer is
// only touched while a recording is active and is guarded by a mutex, which
// the callback holds just long enough to append one block. The turn
// orchestrator and the trigger watcher run on ordinary goroutines and
// communicate with the callback exclusively through this state.
package capture

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source identifies what started a recording. It decides how the recording
// ends (silence timeout vs. explicit stop) and where the transcript goes.
type Source string

const (
	// SourceWakeWord recordings start on an acoustic wake phrase hit and
	// end on silence.
	SourceWakeWord Source = "wake_word"

	// SourceFollowUp recordings start on speech inside an open
	// conversation window and end on silence.
	SourceFollowUp Source = "follow_up"

	// SourcePTT recordings start and stop via external triggers only.
	SourcePTT Source = "ptt"

	// SourceDictation recordings start and stop via external triggers;
	// the transcript is typed at the cursor instead of sent.
	SourceDictation Source = "dictation"
)

// Timed reports whether recordings from this source end on silence. PTT and
// dictation recordings run until their stop trigger.
func (s Source) Timed() bool {
	return s == SourceWakeWord || s == SourceFollowUp
}

// State is the shared recording state machine. The zero value is not
// listening and not recording; use [NewState].
type State struct {
	listening  atomic.Bool
	recording  atomic.Bool
	processing atomic.Bool

	// source of the active recording; guarded by sourceMu because Source
	// is a string and cannot be a bare atomic
	sourceMu sync.Mutex
	source   Source

	recordStart atomic.Int64 // unix nanos
	lastSpeech  atomic.Int64 // unix nanos
	windowUntil atomic.Int64 // unix nanos; 0 = closed

	// single-slot trigger flags, set by the trigger watcher and consumed
	// by the capture callback
	pttRequested       atomic.Bool
	dictationRequested atomic.Bool
	stopRequested      atomic.Bool

	bufMu sync.Mutex
	buf   []float32
}

// NewState returns a State ready for the capture loop.
func NewState() *State {
	return &State{}
}

// SetListening enables or disables the whole pipeline. While not listening,
// the capture loop discards every block.
func (s *State) SetListening(on bool) {
	s.listening.Store(on)
}

// Listening reports whether the pipeline is active.
func (s *State) Listening() bool {
	return s.listening.Load()
}

// Recording reports whether a recording is in progress.
func (s *State) Recording() bool {
	return s.recording.Load()
}

// Processing reports whether a drained utterance is being handled. While
// processing, the capture loop neither starts recordings nor appends audio.
func (s *State) Processing() bool {
	return s.processing.Load()
}

// SetProcessing marks the start or end of utterance handling.
func (s *State) SetProcessing(on bool) {
	s.processing.Store(on)
}

// StartRecording transitions into recording for the given source. The sample
// buffer is reset and the speech clock starts now, so a silence timeout
// cannot fire before any speech had a chance to arrive. Returns false if a
// recording was already active.
func (s *State) StartRecording(src Source) bool {
	if !s.recording.CompareAndSwap(false, true) {
		return false
	}
	now := time.Now().UnixNano()
	s.sourceMu.Lock()
	s.source = src
	s.sourceMu.Unlock()
	s.recordStart.Store(now)
	s.lastSpeech.Store(now)

	s.bufMu.Lock()
	s.buf = s.buf[:0]
	s.bufMu.Unlock()
	return true
}

// StopRecording transitions out of recording. Returns false if no recording
// was active. The buffered samples stay in place for [Drain].
func (s *State) StopRecording() bool {
	return s.recording.CompareAndSwap(true, false)
}

// Source returns the source of the active (or last) recording.
func (s *State) Source() Source {
	s.sourceMu.Lock()
	defer s.sourceMu.Unlock()
	return s.source
}

// Append adds one capture block to the recording buffer.
func (s *State) Append(samples []float32) {
	s.bufMu.Lock()
	s.buf = append(s.buf, samples...)
	s.bufMu.Unlock()
}

// Drain returns the buffered samples and resets the buffer.
func (s *State) Drain() []float32 {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	out := s.buf
	s.buf = nil
	return out
}

// BufferedSamples returns the current buffer length without draining it.
func (s *State) BufferedSamples() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return len(s.buf)
}

// MarkSpeech refreshes the speech clock; the silence timeout measures from
// the most recent mark.
func (s *State) MarkSpeech() {
	s.lastSpeech.Store(time.Now().UnixNano())
}

// SinceSpeech returns the time elapsed since the last speech mark.
func (s *State) SinceSpeech() time.Duration {
	return time.Since(time.Unix(0, s.lastSpeech.Load()))
}

// SinceRecordStart returns the age of the active recording.
func (s *State) SinceRecordStart() time.Duration {
	return time.Since(time.Unix(0, s.recordStart.Load()))
}

// OpenWindow keeps the conversation open until the given time: speech inside
// the window starts a follow-up recording without the wake word.
func (s *State) OpenWindow(until time.Time) {
	s.windowUntil.Store(until.UnixNano())
}

// WindowOpen reports whether the conversation window is currently open.
// An expired window is closed (and cleared) by this call.
func (s *State) WindowOpen() bool {
	until := s.windowUntil.Load()
	if until == 0 {
		return false
	}
	if time.Now().UnixNano() >= until {
		s.windowUntil.CompareAndSwap(until, 0)
		return false
	}
	return true
}

// CloseWindow closes the conversation window immediately.
func (s *State) CloseWindow() {
	s.windowUntil.Store(0)
}

// RequestPTT asks the capture loop to start a push-to-talk recording.
func (s *State) RequestPTT() {
	s.pttRequested.Store(true)
}

// RequestDictation asks the capture loop to start a dictation recording.
func (s *State) RequestDictation() {
	s.dictationRequested.Store(true)
}

// RequestStop asks the capture loop to finish the active recording.
func (s *State) RequestStop() {
	s.stopRequested.Store(true)
}

// TakePTT consumes a pending push-to-talk request.
func (s *State) TakePTT() bool {
	return s.pttRequested.CompareAndSwap(true, false)
}

// TakeDictation consumes a pending dictation request.
func (s *State) TakeDictation() bool {
	return s.dictationRequested.CompareAndSwap(true, false)
}

// TakeStop consumes a pending stop request.
func (s *State) TakeStop() bool {
	return s.stopRequested.CompareAndSwap(true, false)
}
