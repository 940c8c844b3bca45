// Package silero adapts the Silero VAD ONNX runtime bindings to the
// [vad.Model] interface.
//
// The underlying detector exposes stream events (speech start / speech end)
// rather than raw probabilities, so this adapter tracks whether the stream is
// currently inside a speech segment and reports 1.0 or 0.0 accordingly. The
// probability threshold is applied inside the detector itself via
// [Config.Threshold].
package silero

import (
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/kestrelvoice/kestrel/pkg/provider/vad"
)

// Config holds the parameters for loading the Silero model.
type Config struct {
	// ModelPath is the filesystem path to the silero_vad.onnx model file.
	ModelPath string

	// SampleRate of the audio windows. Silero supports 8000 and 16000.
	SampleRate int

	// Threshold is the internal speech probability threshold (0.0–1.0).
	// Typical: 0.5.
	Threshold float32
}

// Model wraps a Silero stream detector. Not safe for concurrent use; the
// windowed detector that owns it calls it from a single goroutine.
type Model struct {
	det      *speech.Detector
	inSpeech bool

	mu     sync.Mutex
	closed bool
}

// New loads the ONNX model and returns a ready Model.
func New(cfg Config) (*Model, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("silero: model path is required")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}
	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  cfg.ModelPath,
		SampleRate: cfg.SampleRate,
		Threshold:  cfg.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: load model: %w", err)
	}
	return &Model{det: det}, nil
}

// Infer feeds one window to the stream detector and returns 1.0 while the
// stream is inside a speech segment, 0.0 otherwise.
func (m *Model) Infer(window []float32) (float32, error) {
	event, err := m.det.DetectStreamFrame(window)
	if err != nil {
		// The detector rejects an end event without a matching start
		// after truncated audio; recover by resetting its state.
		_ = m.det.Reset()
		m.inSpeech = false
		return 0, fmt.Errorf("silero: detect frame: %w", err)
	}
	if event != nil {
		if event.IsStart {
			m.inSpeech = true
		}
		if event.IsEnd {
			m.inSpeech = false
		}
	}
	if m.inSpeech {
		return 1.0, nil
	}
	return 0.0, nil
}

// Reset clears the detector's recurrent state and segment tracking.
func (m *Model) Reset() error {
	m.inSpeech = false
	return m.det.Reset()
}

// Close releases the ONNX session. Calling Close more than once is safe.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.det.Destroy()
}

// Ensure Model implements vad.Model at compile time.
var _ vad.Model = (*Model)(nil)
