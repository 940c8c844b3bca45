// Package mock provides a test double for the tts package's Provider
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider. Every Synthesize call
// returns Result, Err and records the submitted text.
type Provider struct {
	mu sync.Mutex

	// Result is returned by every Synthesize call.
	Result tts.Audio

	// Err, if non-nil, is returned as the error from every Synthesize call.
	Err error

	// Texts records every text passed to Synthesize, in order.
	Texts []string
}

// Synthesize records the text and returns Result, Err.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.Err != nil {
		return tts.Audio{}, p.Err
	}
	if err := ctx.Err(); err != nil {
		return tts.Audio{}, err
	}
	return p.Result, nil
}

// Reset clears all recorded texts. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
