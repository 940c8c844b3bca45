// Package mock provides a test double for the wake package's Scorer
// interface. Script per-chunk scores via Scores and inspect the chunks that
// were submitted.
package mock

import (
	"sync"

	"github.com/kestrelvoice/kestrel/pkg/provider/wake"
)

// Scorer is a mock implementation of wake.Scorer. Each Score call pops the
// next value from Scores; when exhausted, Score returns 0.
type Scorer struct {
	mu sync.Mutex

	// Scores is the queue of activation scores to return, one per call.
	Scores []float32

	// ScoreErr, if non-nil, is returned as the error from every Score call.
	ScoreErr error

	// Chunks records a copy of every chunk passed to Score, in order.
	Chunks [][]int16

	// ResetCalls counts Reset invocations.
	ResetCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// Score records the chunk and returns the next scripted score.
func (s *Scorer) Score(chunk []int16) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]int16, len(chunk))
	copy(cp, chunk)
	s.Chunks = append(s.Chunks, cp)
	if s.ScoreErr != nil {
		return 0, s.ScoreErr
	}
	if len(s.Scores) == 0 {
		return 0, nil
	}
	v := s.Scores[0]
	s.Scores = s.Scores[1:]
	return v, nil
}

// Reset increments ResetCalls.
func (s *Scorer) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
	return nil
}

// Close increments CloseCalls.
func (s *Scorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

// Ensure Scorer implements wake.Scorer at compile time.
var _ wake.Scorer = (*Scorer)(nil)
