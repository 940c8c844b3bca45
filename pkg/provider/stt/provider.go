// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription engine (a local whisper.cpp model or
// a cloud transcription API) and exposes a uniform batch interface: the turn
// orchestrator drains a complete utterance from the recording buffer and
// submits it in one call. Batch transcription fits a push-to-talk/wake-word
// agent better than streaming — the utterance boundary is decided by the
// recording state machine, not by the transcriber.
//
// Implementations must be safe for concurrent use; the orchestrator and the
// dictation path may transcribe simultaneously.
package stt

import "context"

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe runs speech recognition over a complete utterance of mono
	// float32 PCM and returns the result. The samples slice is not
	// retained after the call returns.
	//
	// Returns an error if inference fails or ctx is cancelled; an empty
	// transcript with a nil error means the audio contained no
	// recognizable speech.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (Transcript, error)
}
