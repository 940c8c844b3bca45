// Package vad defines the interfaces for Voice Activity Detection backends.
//
// Two abstractions exist at different levels:
//
//   - [Model] wraps a neural inference backend (e.g., Silero VAD) that scores
//     one fixed-size window of audio at a time.
//   - [Detector] is what the recording state machine consumes: it accepts
//     arbitrary-length sample blocks, handles window buffering internally,
//     and answers "was there speech in this block?".
//
// The canonical Detector is [Windowed], which drives a Model over 512-sample
// windows. [Energy] is the fallback Detector for setups without a neural
// model; it thresholds mean absolute amplitude instead.
//
// Detectors are stateful per audio stream. A Detector must not be shared
// across goroutines; the capture loop owns it. Reset clears buffered samples
// and model state and must be called whenever recording starts or stops, so
// stale windows from a previous utterance never leak into the next one.
package vad

// Model runs speech probability inference on a single fixed-size window of
// mono float32 PCM. Implementations decide the window size they require;
// see [Windowed] for how windows are carved out of the sample stream.
type Model interface {
	// Infer returns the speech probability (0.0–1.0) for one window.
	// The window slice is only valid for the duration of the call.
	Infer(window []float32) (float32, error)

	// Reset clears any recurrent state carried between windows.
	Reset() error

	// Close releases model resources. Calling Close more than once is safe.
	Close() error
}

// Detector is the block-level speech detection interface consumed by the
// recording state machine.
type Detector interface {
	// Score processes a block of samples and returns the highest speech
	// probability observed in it. Blocks smaller than the model window are
	// buffered; if no full window completed during this call, Score
	// returns 0 without running inference.
	Score(samples []float32) (float64, error)

	// SpeechDetected processes a block and reports whether its score
	// reached the detector's threshold.
	SpeechDetected(samples []float32) (bool, error)

	// Reset discards buffered samples and clears model state.
	Reset()
}
