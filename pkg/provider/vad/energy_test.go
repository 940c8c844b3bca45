package vad_test

import (
	"testing"

	"github.com/kestrelvoice/kestrel/pkg/provider/vad"
)

func TestEnergy_SpeechDetected(t *testing.T) {
	t.Parallel()

	det := vad.Energy{Threshold: 0.01}

	quiet := make([]float32, 100) // all zeros
	got, err := det.SpeechDetected(quiet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("silence should not trigger detection")
	}

	loud := make([]float32, 100)
	for i := range loud {
		loud[i] = 0.05
	}
	got, err = det.SpeechDetected(loud)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("0.05 mean amplitude should exceed the 0.01 threshold")
	}
}

func TestEnergy_ScoreIsMeanAmplitude(t *testing.T) {
	t.Parallel()

	det := vad.Energy{Threshold: 0.01}
	score, err := det.Score([]float32{0.5, -0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.5 {
		t.Errorf("got %f, want 0.5", score)
	}
}
