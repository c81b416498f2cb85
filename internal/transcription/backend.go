package transcription

import (
	"context"
	"errors"
	"fmt"

	"github.com/Strange-Jackle/meeting-monitor/internal/audio"
)

// ErrResourceExhausted is reported by a backend whose inference device or
// capacity is unavailable. At session start it is fatal; during a session it
// switches the stage to degraded mode.
var ErrResourceExhausted = errors.New("transcription resources exhausted")

// Request is a single window transcription request
type Request struct {
	SessionID string
	Window    *audio.Window
	Language  string
	Model     string
	Diarize   bool
}

// Segment is backend output. Start and End are seconds relative to the
// window start; Speaker is the backend's own tag and may be empty.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker,omitempty"`
	Confidence float32 `json:"confidence"`
}

// Result is the backend output for one window
type Result struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration"`
}

// Backend transcribes audio windows
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, req *Request) (*Result, error)
	Ready(ctx context.Context) error
}

// RecoverableError reports a window the stage could not transcribe. The
// session keeps running.
type RecoverableError struct {
	Stage  string
	Window int
	Err    error
}

func (e *RecoverableError) Error() string {
	return fmt.Sprintf("%s failed for window %d: %v", e.Stage, e.Window, e.Err)
}

func (e *RecoverableError) Unwrap() error {
	return e.Err
}

// ModeChange announces a switch into degraded mode
type ModeChange struct {
	Backend             string `json:"backend"`
	DiarizationDisabled bool   `json:"diarization_disabled"`
	Reason              string `json:"reason"`
}

// String describes the change for status events
func (m *ModeChange) String() string {
	if m.DiarizationDisabled {
		return fmt.Sprintf("diarization disabled on %s: %s", m.Backend, m.Reason)
	}
	return fmt.Sprintf("switched to fallback backend %s: %s", m.Backend, m.Reason)
}
