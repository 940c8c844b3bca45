package tts

import "time"

// Audio is a synthesized utterance.
type Audio struct {
	// Samples is mono float32 PCM in [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int
}

// Duration returns the playback length of the audio.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.Samples)) * time.Second / time.Duration(a.SampleRate)
}
