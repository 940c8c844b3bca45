package audio

import "time"

// Frame represents a block of captured audio flowing through the pipeline.
// The capture layer delivers frames to the recording state machine, which
// forwards them to VAD and buffers them for transcription.
type Frame struct {
	// Samples is mono float32 PCM in the range [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz. The pipeline runs at 16000 throughout; capture
	// devices that cannot open at that rate are resampled at the edge.
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
