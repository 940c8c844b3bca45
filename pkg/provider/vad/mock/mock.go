// Package mock provides test doubles for the vad package interfaces.
//
// Use Model to script per-window probabilities and inspect the windows that
// were submitted for inference. Use Detector to script block-level results
// without involving windowing at all.
//
// Example:
//
//	m := &mock.Model{Probs: []float32{0.1, 0.9}}
//	det := vad.NewWindowed(m)
package mock

import (
	"sync"

	"github.com/kestrelvoice/kestrel/pkg/provider/vad"
)

// Model is a mock implementation of vad.Model. Each Infer call pops the next
// probability from Probs; when Probs is exhausted, Infer returns 0.
type Model struct {
	mu sync.Mutex

	// Probs is the queue of probabilities to return, one per Infer call.
	Probs []float32

	// InferErr, if non-nil, is returned as the error from every Infer call.
	InferErr error

	// Windows records a copy of every window passed to Infer, in order.
	Windows [][]float32

	// ResetCalls counts Reset invocations.
	ResetCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// Infer records the window and returns the next scripted probability.
func (m *Model) Infer(window []float32) (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]float32, len(window))
	copy(cp, window)
	m.Windows = append(m.Windows, cp)
	if m.InferErr != nil {
		return 0, m.InferErr
	}
	if len(m.Probs) == 0 {
		return 0, nil
	}
	p := m.Probs[0]
	m.Probs = m.Probs[1:]
	return p, nil
}

// Reset increments ResetCalls.
func (m *Model) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCalls++
	return nil
}

// Close increments CloseCalls.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	return nil
}

// Ensure Model implements vad.Model at compile time.
var _ vad.Model = (*Model)(nil)

// Detector is a mock implementation of vad.Detector that returns scripted
// results without windowing.
type Detector struct {
	mu sync.Mutex

	// Speech is the queue of results for SpeechDetected, one per call.
	// When exhausted, SpeechDetected returns false.
	Speech []bool

	// ScoreResult is returned by every Score call.
	ScoreResult float64

	// Err, if non-nil, is returned from Score and SpeechDetected.
	Err error

	// Blocks records the length of every block submitted.
	Blocks []int

	// ResetCalls counts Reset invocations.
	ResetCalls int
}

// Score records the block and returns ScoreResult, Err.
func (d *Detector) Score(samples []float32) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Blocks = append(d.Blocks, len(samples))
	return d.ScoreResult, d.Err
}

// SpeechDetected records the block and pops the next scripted result.
func (d *Detector) SpeechDetected(samples []float32) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Blocks = append(d.Blocks, len(samples))
	if d.Err != nil {
		return false, d.Err
	}
	if len(d.Speech) == 0 {
		return false, nil
	}
	s := d.Speech[0]
	d.Speech = d.Speech[1:]
	return s, nil
}

// Reset increments ResetCalls.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCalls++
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)
