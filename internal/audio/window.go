package audio

import (
	"fmt"
	"math"
	"time"
)

// Window is a fixed-length slice of session audio. Offsets are seconds from
// session start and are derived from sample counts, never from wall clock.
type Window struct {
	Index      int       `json:"index"`
	Samples    []int16   `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Start      float64   `json:"start"`
	End        float64   `json:"end"`
	Overlap    float64   `json:"overlap"` // seconds shared with the previous window
	Final      bool      `json:"final"`   // flush window, may be shorter than nominal
	CapturedAt time.Time `json:"captured_at"`
}

// Duration returns the window length
func (w *Window) Duration() time.Duration {
	return time.Duration((w.End - w.Start) * float64(time.Second))
}

// RMS returns the normalized root mean square level of the window in [0, 1]
func (w *Window) RMS() float64 {
	return RMS(w.Samples)
}

// RMS returns the normalized root mean square level of samples in [0, 1]
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// SamplesFromPCM16 converts little-endian PCM-16 bytes to samples
func SamplesFromPCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
	}

	return samples, nil
}

// PCM16FromSamples converts samples to little-endian PCM-16 bytes
func PCM16FromSamples(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[2*i] = byte(s)
		data[2*i+1] = byte(uint16(s) >> 8)
	}
	return data
}
