// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns response text into PCM audio that the speech layer
// plays through the output device. Synthesis is batch: responses in a voice
// conversation are short, and utterance-level synthesis keeps the provider
// surface small.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text as mono float32 PCM. Returns an error if
	// synthesis fails or ctx is cancelled.
	Synthesize(ctx context.Context, text string) (Audio, error)
}
