// Package mock provides a test double for the stt package's Provider
// interface. Script per-call transcripts via Results and inspect the
// utterances that were submitted.
package mock

import (
	"context"
	"sync"

	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the submitted audio.
	Samples []float32

	// SampleRate as passed to Transcribe.
	SampleRate int
}

// Provider is a mock implementation of stt.Provider. Each Transcribe call
// pops the next value from Results; when Results is exhausted, Transcribe
// returns the zero Transcript.
type Provider struct {
	mu sync.Mutex

	// Results is the queue of transcripts to return, one per call.
	Results []stt.Transcript

	// Err, if non-nil, is returned as the error from every Transcribe call.
	Err error

	// Calls records every Transcribe invocation in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted transcript.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := make([]float32, len(samples))
	copy(cp, samples)
	p.Calls = append(p.Calls, TranscribeCall{Samples: cp, SampleRate: sampleRate})

	if p.Err != nil {
		return stt.Transcript{}, p.Err
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	if len(p.Results) == 0 {
		return stt.Transcript{}, nil
	}
	t := p.Results[0]
	p.Results = p.Results[1:]
	return t, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
