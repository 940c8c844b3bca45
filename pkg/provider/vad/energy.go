package vad

import "github.com/kestrelvoice/kestrel/pkg/audio"

// Energy is a [Detector] that thresholds mean absolute amplitude instead of
// running a neural model. It is the fallback when no VAD model is available
// and needs a higher threshold than neural detection would, since background
// noise scores nonzero energy.
//
// Energy keeps no state, so Reset is a no-op and instances may be shared.
type Energy struct {
	// Threshold is the mean absolute amplitude above which a block counts
	// as speech. Typical: 0.01 while recording, 0.03 when listening for a
	// follow-up in an open conversation window.
	Threshold float64
}

// Score returns the mean absolute amplitude of the block.
func (e Energy) Score(samples []float32) (float64, error) {
	return audio.MeanAmplitude(samples), nil
}

// SpeechDetected reports whether the block's amplitude reached the threshold.
func (e Energy) SpeechDetected(samples []float32) (bool, error) {
	return audio.MeanAmplitude(samples) >= e.Threshold, nil
}

// Reset is a no-op; energy detection carries no state between blocks.
func (e Energy) Reset() {}
