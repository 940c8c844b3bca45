// Package portaudio implements [audio.Source] and [audio.Sink] on top of the
// PortAudio bindings. It opens the default input and output devices in mono
// float32 at the pipeline sample rate.
//
// PortAudio's Initialize/Terminate pair is process-global, so this package
// reference-counts it: the first open stream initializes the library and the
// last Close terminates it.
package portaudio

import (
	"context"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/kestrelvoice/kestrel/pkg/audio"
)

var (
	initMu   sync.Mutex
	initRefs int
)

func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := pa.Initialize(); err != nil {
			return fmt.Errorf("initialize portaudio: %w", err)
		}
	}
	initRefs++
	return nil
}

func release() {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		return
	}
	initRefs--
	if initRefs == 0 {
		pa.Terminate()
	}
}

// CaptureConfig describes how to open the input device.
type CaptureConfig struct {
	// SampleRate in Hz. Typical: 16000.
	SampleRate int

	// BlockSize is the number of samples delivered per handler call.
	// Typical: 1280 (80 ms at 16 kHz), matching the wake word chunk size.
	BlockSize int
}

// Capture reads mono float32 blocks from the default input device.
// Create one with [NewCapture]; it implements [audio.Source].
type Capture struct {
	cfg CaptureConfig

	mu     sync.Mutex
	closed bool
}

// NewCapture validates cfg and prepares a capture source. The device is not
// opened until Start.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", cfg.BlockSize)
	}
	return &Capture{cfg: cfg}, nil
}

// Start opens the default input stream and delivers blocks to handler until
// ctx is cancelled or the device fails. The handler runs on the calling
// goroutine between stream reads, so it must return quickly.
func (c *Capture) Start(ctx context.Context, handler audio.BlockHandler) error {
	if err := acquire(); err != nil {
		return err
	}
	defer release()

	buf := make([]float32, c.cfg.BlockSize)
	stream, err := pa.OpenDefaultStream(1, 0, float64(c.cfg.SampleRate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	defer stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := stream.Read(); err != nil {
			// Overflows happen when a handler stalls; skip the block
			// rather than tearing down the device.
			if err == pa.InputOverflowed {
				continue
			}
			return fmt.Errorf("read input stream: %w", err)
		}
		handler(buf)
	}
}

// Close marks the capture closed. A running Start loop is stopped via its
// context; Close only prevents reuse.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Player writes PCM to the default output device. It implements [audio.Sink].
type Player struct {
	mu     sync.Mutex
	closed bool
}

// NewPlayer returns a playback sink for the default output device.
func NewPlayer() *Player {
	return &Player{}
}

// Play streams samples to the output device in fixed-size chunks, blocking
// until playback completes or ctx is cancelled.
func (p *Player) Play(ctx context.Context, samples []float32, sampleRate int) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("player is closed")
	}
	p.mu.Unlock()

	if len(samples) == 0 {
		return nil
	}
	if err := acquire(); err != nil {
		return err
	}
	defer release()

	const chunk = 1024
	buf := make([]float32, chunk)
	stream, err := pa.OpenDefaultStream(0, 1, float64(sampleRate), chunk, buf)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	defer stream.Stop()

	for off := 0; off < len(samples); off += chunk {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n := copy(buf, samples[off:])
		for i := n; i < chunk; i++ {
			buf[i] = 0
		}
		if err := stream.Write(); err != nil {
			if err == pa.OutputUnderflowed {
				continue
			}
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return nil
}

// Close releases the player. Calling Close more than once is safe.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
