// Package audio defines the types and device abstractions for audio capture
// and playback within Kestrel.
//
// The two primary abstractions are:
//
//   - [Source] — opens the capture device and delivers fixed-size blocks of
//     mono float32 PCM to a callback, emulating a real-time audio callback.
//   - [Sink] — plays raw PCM through the output device.
//
// Implementations are provided by device-specific adapter packages (e.g.,
// audio/portaudio). The interfaces are intentionally narrow to keep the
// recording state machine decoupled from device details.
//
// This package lives under pkg/ because external code (alternative device
// adapters) is expected to implement [Source] and [Sink].
package audio

import "context"

// BlockHandler receives one capture block per device callback. The samples
// slice is only valid for the duration of the call; handlers that retain
// audio must copy it. Handlers run on the capture goroutine and must not
// block, or device buffers will overflow and drop input.
type BlockHandler func(samples []float32)

// Source is an audio capture device delivering fixed-size sample blocks.
//
// Implementations must be safe for concurrent use of Close with a running
// capture loop.
type Source interface {
	// Start opens the device and begins delivering blocks to handler.
	// It blocks until ctx is cancelled or the device fails. The handler is
	// called sequentially; no two invocations overlap.
	Start(ctx context.Context, handler BlockHandler) error

	// Close releases the device. Calling Close more than once is safe.
	Close() error
}

// Sink is an audio playback device.
type Sink interface {
	// Play writes mono float32 PCM at the given sample rate to the output
	// device and blocks until playback completes or ctx is cancelled.
	Play(ctx context.Context, samples []float32, sampleRate int) error

	// Close releases the device. Calling Close more than once is safe.
	Close() error
}
