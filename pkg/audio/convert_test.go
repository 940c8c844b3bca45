package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/kestrelvoice/kestrel/pkg/audio"
)

func TestFloat32ToInt16(t *testing.T) {
	got := audio.Float32ToInt16([]float32{0, 0.5, -0.5, 1.0, -1.0})
	want := []int16{0, 16383, -16383, 32767, -32767}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloat32ToInt16_Clamping(t *testing.T) {
	got := audio.Float32ToInt16([]float32{2.0, -3.0})
	if got[0] != 32767 {
		t.Errorf("positive overflow: got %d, want 32767", got[0])
	}
	if got[1] != -32767 {
		t.Errorf("negative overflow: got %d, want -32767", got[1])
	}
}

func TestInt16ToFloat32_RoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.9}
	out := audio.Int16ToFloat32(audio.Float32ToInt16(in))
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > 0.001 {
			t.Errorf("sample %d: got %f, want %f", i, out[i], in[i])
		}
	}
}

func TestPCM16Bytes(t *testing.T) {
	b := audio.PCM16Bytes([]float32{0.5})
	if len(b) != 2 {
		t.Fatalf("expected 2 bytes, got %d", len(b))
	}
	s := int16(binary.LittleEndian.Uint16(b))
	if s != 16383 {
		t.Errorf("got %d, want 16383", s)
	}
}

func TestFloat32FromPCM16_OddTrailingByte(t *testing.T) {
	out := audio.Float32FromPCM16([]byte{0, 64, 0xFF})
	if len(out) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(out))
	}
}

func TestMeanAmplitude(t *testing.T) {
	if got := audio.MeanAmplitude(nil); got != 0 {
		t.Errorf("empty input: got %f, want 0", got)
	}
	got := audio.MeanAmplitude([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("got %f, want 0.5", got)
	}
}

func TestWAV_Header(t *testing.T) {
	samples := make([]float32, 160)
	wav := audio.WAV(samples, 16000)

	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:]); rate != 16000 {
		t.Errorf("sample rate: got %d, want 16000", rate)
	}
	if dataLen := binary.LittleEndian.Uint32(wav[40:]); dataLen != 320 {
		t.Errorf("data size: got %d, want 320", dataLen)
	}
	if len(wav) != 44+320 {
		t.Errorf("total size: got %d, want %d", len(wav), 44+320)
	}
}

func TestParseWAV_RoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.5}
	wav := audio.WAV(in, 16000)

	out, rate, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 16000 {
		t.Errorf("sample rate: got %d, want 16000", rate)
	}
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > 0.001 {
			t.Errorf("sample %d: got %f, want %f", i, out[i], in[i])
		}
	}
}

func TestParseWAV_Malformed(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		[]byte("not audio at all, definitely not a RIFF container!"),
	} {
		if _, _, err := audio.ParseWAV(data); err == nil {
			t.Errorf("expected error for %d-byte input", len(data))
		}
	}
}

func TestResampleMono_SameRate(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := audio.ResampleMono(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestResampleMono_Downsample(t *testing.T) {
	// 6 samples at 48kHz → 2 samples at 16kHz (1/3x)
	in := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	out := audio.ResampleMono(in, 48000, 16000)
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	if math.Abs(float64(out[0]-0.1)) > 0.01 {
		t.Errorf("first sample: got %f, want 0.1", out[0])
	}
}

func TestFrameDuration(t *testing.T) {
	f := audio.Frame{Samples: make([]float32, 16000), SampleRate: 16000}
	if got := f.Duration().Seconds(); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("got %fs, want 1s", got)
	}
	zero := audio.Frame{Samples: make([]float32, 100)}
	if zero.Duration() != 0 {
		t.Error("zero sample rate should yield zero duration")
	}
}
