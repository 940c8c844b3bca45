// Package wake defines the interfaces and chunking logic for wake phrase
// detection.
//
// Acoustic detection runs on the raw capture stream: a [Scorer] wraps a wake
// word model that scores fixed-size int16 chunks, and [Detector] accumulates
// capture blocks into those chunks, converts the samples, and fires when the
// score crosses the activation threshold.
//
// Text-level confirmation runs after transcription: [Phrase] matches the
// configured wake phrase against a transcript with phonetic tolerance, so
// "hey kestrel" still matches when the transcriber hears "hey castrol".
package wake

import "github.com/kestrelvoice/kestrel/pkg/audio"

// DefaultChunkSize is the number of samples per scoring chunk: 80 ms at
// 16 kHz, the native input size of openWakeWord-style models.
const DefaultChunkSize = 1280

// DefaultThreshold is the activation score above which the wake word counts
// as detected. Wake models emit scores near 1.0 on a hit, so the threshold
// sits high to reject near misses.
const DefaultThreshold = 0.98

// Scorer wraps a wake word model that scores one fixed-size chunk of int16
// PCM at a time. Implementations keep recurrent state across chunks; Reset
// clears it after a detection so the next activation starts fresh.
type Scorer interface {
	// Score returns the wake word activation score (0.0–1.0) for one chunk.
	Score(chunk []int16) (float32, error)

	// Reset clears recurrent model state.
	Reset() error

	// Close releases model resources. Calling Close more than once is safe.
	Close() error
}

// Detector accumulates capture blocks into scoring chunks and reports wake
// word activations. Not safe for concurrent use; the capture loop owns it.
type Detector struct {
	scorer    Scorer
	chunkSize int
	threshold float32

	buf []float32
}

// DetectorOption configures a [Detector].
type DetectorOption func(*Detector)

// WithChunkSize overrides the scoring chunk size. Default: 1280.
func WithChunkSize(n int) DetectorOption {
	return func(d *Detector) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// WithThreshold overrides the activation threshold. Default: 0.98.
func WithThreshold(t float32) DetectorOption {
	return func(d *Detector) {
		d.threshold = t
	}
}

// NewDetector returns a detector driving scorer.
func NewDetector(scorer Scorer, opts ...DetectorOption) *Detector {
	d := &Detector{
		scorer:    scorer,
		chunkSize: DefaultChunkSize,
		threshold: DefaultThreshold,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Feed appends a block of float32 samples and scores every complete chunk.
// It returns true as soon as any chunk reaches the threshold; remaining
// buffered audio and model state are discarded on detection so the same
// utterance cannot trigger twice.
func (d *Detector) Feed(samples []float32) (bool, error) {
	d.buf = append(d.buf, samples...)

	for len(d.buf) >= d.chunkSize {
		chunk := audio.Float32ToInt16(d.buf[:d.chunkSize])
		d.buf = d.buf[d.chunkSize:]

		score, err := d.scorer.Score(chunk)
		if err != nil {
			return false, err
		}
		if score >= d.threshold {
			d.Reset()
			return true, nil
		}
	}
	return false, nil
}

// Reset discards buffered samples and clears the scorer's state.
func (d *Detector) Reset() {
	d.buf = d.buf[:0]
	_ = d.scorer.Reset()
}

// Close releases the underlying scorer.
func (d *Detector) Close() error {
	return d.scorer.Close()
}
