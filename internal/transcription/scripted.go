package transcription

import (
	"context"
	"sync"
	"time"
)

// ScriptedWindow is the canned outcome for one window index
type ScriptedWindow struct {
	Segments []Segment
	Err      error
	Delay    time.Duration
}

// ScriptedBackend replays canned results keyed by window index. It backs
// simulation sessions and tests.
type ScriptedBackend struct {
	name     string
	windows  map[int]ScriptedWindow
	readyErr error
	calls    map[int]int

	mu sync.Mutex
}

// NewScriptedBackend creates a backend that answers from windows. Indices
// with no entry transcribe to nothing.
func NewScriptedBackend(name string, windows map[int]ScriptedWindow) *ScriptedBackend {
	if name == "" {
		name = "scripted"
	}
	if windows == nil {
		windows = make(map[int]ScriptedWindow)
	}
	return &ScriptedBackend{
		name:    name,
		windows: windows,
		calls:   make(map[int]int),
	}
}

// Name returns the backend name
func (b *ScriptedBackend) Name() string {
	return b.name
}

// SetWindow replaces the outcome for one window index
func (b *ScriptedBackend) SetWindow(index int, w ScriptedWindow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windows[index] = w
}

// SetReadyError makes Ready fail with err
func (b *ScriptedBackend) SetReadyError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readyErr = err
}

// Calls returns how many times a window index was requested
func (b *ScriptedBackend) Calls(index int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[index]
}

// Ready reports the configured readiness error
func (b *ScriptedBackend) Ready(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readyErr
}

// Transcribe returns the canned result for the request's window
func (b *ScriptedBackend) Transcribe(ctx context.Context, req *Request) (*Result, error) {
	b.mu.Lock()
	w := b.windows[req.Window.Index]
	b.calls[req.Window.Index]++
	b.mu.Unlock()

	if w.Delay > 0 {
		timer := time.NewTimer(w.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if w.Err != nil {
		return nil, w.Err
	}

	segments := make([]Segment, len(w.Segments))
	copy(segments, w.Segments)
	if !req.Diarize {
		for i := range segments {
			segments[i].Speaker = ""
		}
	}

	return &Result{
		Segments: segments,
		Duration: req.Window.End - req.Window.Start,
	}, nil
}
