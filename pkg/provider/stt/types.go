package stt

import "time"

// Transcript represents the recognition result for one utterance.
type Transcript struct {
	// Text is the transcribed speech content, whitespace-trimmed.
	Text string

	// Language is the detected or configured language code (e.g., "en").
	// May be empty if the backend does not report it.
	Language string

	// AudioDuration is the length of the submitted audio.
	AudioDuration time.Duration
}
