package vad

import "log/slog"

// DefaultWindowSize is the number of samples per inference window. Silero VAD
// operates on 512-sample windows at 16 kHz (32 ms).
const DefaultWindowSize = 512

// DefaultThreshold is the speech probability above which a window counts as
// speech.
const DefaultThreshold = 0.5

// Windowed is a [Detector] that carves the incoming sample stream into
// fixed-size windows and runs a [Model] on each. The score of a block is the
// maximum probability across the windows completed within it, so a short
// burst of speech in an otherwise quiet block is not averaged away.
//
// Not safe for concurrent use; the capture loop owns it.
type Windowed struct {
	model      Model
	windowSize int
	threshold  float64

	buf []float32
}

// WindowedOption configures a [Windowed] detector.
type WindowedOption func(*Windowed)

// WithWindowSize overrides the inference window size. Default: 512.
func WithWindowSize(n int) WindowedOption {
	return func(w *Windowed) {
		if n > 0 {
			w.windowSize = n
		}
	}
}

// WithThreshold overrides the speech probability threshold. Default: 0.5.
func WithThreshold(t float64) WindowedOption {
	return func(w *Windowed) {
		w.threshold = t
	}
}

// NewWindowed returns a windowed detector driving model.
func NewWindowed(model Model, opts ...WindowedOption) *Windowed {
	w := &Windowed{
		model:      model,
		windowSize: DefaultWindowSize,
		threshold:  DefaultThreshold,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Score appends samples to the internal buffer, runs the model over every
// complete window, and returns the maximum probability observed. Returns 0
// when the buffer never filled a window.
func (w *Windowed) Score(samples []float32) (float64, error) {
	w.buf = append(w.buf, samples...)

	var max float64
	for len(w.buf) >= w.windowSize {
		window := w.buf[:w.windowSize]
		w.buf = w.buf[w.windowSize:]

		p, err := w.model.Infer(window)
		if err != nil {
			return 0, err
		}
		if float64(p) > max {
			max = float64(p)
		}
	}
	return max, nil
}

// SpeechDetected reports whether Score for this block reached the threshold.
func (w *Windowed) SpeechDetected(samples []float32) (bool, error) {
	score, err := w.Score(samples)
	if err != nil {
		return false, err
	}
	return score >= w.threshold, nil
}

// Reset discards buffered samples and clears the model's recurrent state.
func (w *Windowed) Reset() {
	w.buf = w.buf[:0]
	if err := w.model.Reset(); err != nil {
		slog.Warn("vad model reset failed", "error", err)
	}
}
