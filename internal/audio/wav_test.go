package audio

import (
	"math"
	"testing"
)

func TestWindowWAV(t *testing.T) {
	// 440Hz tone for 0.1 seconds at 16kHz
	sampleRate := 16000
	numSamples := sampleRate / 10
	samples := make([]int16, numSamples)
	for i := range samples {
		samples[i] = int16(16383 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	w := &Window{Index: 3, Samples: samples, SampleRate: sampleRate, Start: 24, End: 24.1}
	wavData, err := w.WAV()
	if err != nil {
		t.Fatalf("WAV failed: %v", err)
	}

	expectedSize := wavHeaderSize + numSamples*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	duration, err := WAVDuration(wavData)
	if err != nil {
		t.Fatalf("WAVDuration failed: %v", err)
	}
	if math.Abs(duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", duration)
	}
}

func TestDecodeWAV(t *testing.T) {
	originalSamples := []int16{100, -200, 300, -400, 500}
	sampleRate := 8000

	wavData, err := EncodeWAV(originalSamples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decodedSamples, decodedSampleRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedSampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedSampleRate)
	}

	if len(decodedSamples) != len(originalSamples) {
		t.Fatalf("Expected %d samples, got %d", len(originalSamples), len(decodedSamples))
	}

	for i, original := range originalSamples {
		if decodedSamples[i] != original {
			t.Errorf("Sample %d: expected %d, got %d", i, original, decodedSamples[i])
		}
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	tests := []struct {
		name       string
		samples    []int16
		sampleRate int
	}{
		{"empty samples", []int16{}, 8000},
		{"zero sample rate", []int16{1, 2, 3}, 0},
		{"negative sample rate", []int16{1, 2, 3}, -1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.samples, tt.sampleRate); err == nil {
				t.Errorf("Expected error but got none")
			}
		})
	}
}

func TestDecodeWAVRejectsInvalidData(t *testing.T) {
	if _, _, err := DecodeWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalid := make([]byte, 50)
	copy(invalid[0:4], "FAKE")
	if _, _, err := DecodeWAV(invalid); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}

	valid, err := EncodeWAV([]int16{1, 2, 3, 4}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if _, _, err := DecodeWAV(valid[:len(valid)-2]); err == nil {
		t.Error("Expected error for truncated data")
	}
}
