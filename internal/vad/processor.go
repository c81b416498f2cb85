package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// DefaultFrameSize is the analysis frame length in samples (32ms at 16kHz)
const DefaultFrameSize = 512

// Processor classifies audio as voiced or silent from frame RMS energy
type Processor struct {
	threshold float64 // normalized RMS in [0, 1)
	frameSize int
	smoothing float64 // weight of the newest frame in the running level

	// Statistics
	totalWindows  uint64
	silentWindows uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result represents the voice activity of one window
type Result struct {
	Level          float64       `json:"level"`        // whole window RMS
	PeakLevel      float64       `json:"peak_level"`   // highest smoothed frame level
	VoicedRatio    float64       `json:"voiced_ratio"` // share of frames above threshold
	HasVoice       bool          `json:"has_voice"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// ProcessorStats represents gate statistics
type ProcessorStats struct {
	Threshold        float64   `json:"threshold"`
	TotalWindows     uint64    `json:"total_windows"`
	SilentWindows    uint64    `json:"silent_windows"`
	SilentPercentage float64   `json:"silent_percentage"`
	LastProcessed    time.Time `json:"last_processed"`
}

// NewProcessor creates a new voice activity gate. A zero threshold disables
// gating: every window is reported as voiced.
func NewProcessor(threshold float64, frameSize int) (*Processor, error) {
	if threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold must be in [0, 1), got %f", threshold)
	}

	if frameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameSize)
	}

	return &Processor{
		threshold: threshold,
		frameSize: frameSize,
		smoothing: 0.5,
	}, nil
}

// Process classifies a window of samples
func (p *Processor) Process(samples []int16) *Result {
	startTime := time.Now()

	p.mu.RLock()
	threshold := p.threshold
	p.mu.RUnlock()

	result := &Result{Level: rms(samples)}

	// Walk the window frame by frame with light smoothing so one click
	// does not count as speech
	frames, voiced := 0, 0
	level := 0.0
	for start := 0; start < len(samples); start += p.frameSize {
		end := start + p.frameSize
		if end > len(samples) {
			end = len(samples)
		}

		frameLevel := rms(samples[start:end])
		if frames == 0 {
			level = frameLevel
		} else {
			level = p.smoothing*frameLevel + (1-p.smoothing)*level
		}
		frames++

		if level > result.PeakLevel {
			result.PeakLevel = level
		}
		if level >= threshold {
			voiced++
		}
	}

	if frames > 0 {
		result.VoicedRatio = float64(voiced) / float64(frames)
	}
	result.HasVoice = threshold == 0 || (len(samples) > 0 && voiced > 0)
	result.ProcessingTime = time.Since(startTime)

	p.mu.Lock()
	p.totalWindows++
	if !result.HasVoice {
		p.silentWindows++
	}
	p.lastProcessed = time.Now()
	p.mu.Unlock()

	return result
}

// IsSilent reports whether the window carries no voice
func (p *Processor) IsSilent(samples []int16) bool {
	return !p.Process(samples).HasVoice
}

// GetStats returns current gate statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	silentPercentage := float64(0)
	if p.totalWindows > 0 {
		silentPercentage = float64(p.silentWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		Threshold:        p.threshold,
		TotalWindows:     p.totalWindows,
		SilentWindows:    p.silentWindows,
		SilentPercentage: silentPercentage,
		LastProcessed:    p.lastProcessed,
	}
}

// UpdateThreshold updates the silence threshold
func (p *Processor) UpdateThreshold(threshold float64) error {
	if threshold < 0 || threshold >= 1 {
		return fmt.Errorf("threshold must be in [0, 1), got %f", threshold)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.threshold = threshold
	return nil
}

// Reset clears statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalWindows = 0
	p.silentWindows = 0
	p.lastProcessed = time.Time{}
}

// GetThreshold returns the current silence threshold
func (p *Processor) GetThreshold() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// rms returns the normalized RMS energy of samples
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, sample := range samples {
		v := float64(sample) / 32768.0
		energy += v * v
	}

	return math.Sqrt(energy / float64(len(samples)))
}
