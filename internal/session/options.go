package session

import (
	"context"
	"errors"
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
	"github.com/Strange-Jackle/meeting-monitor/internal/extraction"
	"github.com/Strange-Jackle/meeting-monitor/internal/insight"
	"github.com/Strange-Jackle/meeting-monitor/internal/simulation"
	"github.com/Strange-Jackle/meeting-monitor/internal/store"
	"github.com/Strange-Jackle/meeting-monitor/internal/transcription"
)

var (
	// ErrSessionFailed wraps the cause of a failed start
	ErrSessionFailed = errors.New("session failed to start")
	// ErrNoSession is returned for input or requests that need an active session
	ErrNoSession = errors.New("no active session")
	// ErrInvalidState is returned when a control call is not allowed in the current state
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrReset is returned to callers waiting on a session that was reset
	ErrReset = errors.New("session reset")
	// ErrStopped is returned once the machine has shut down
	ErrStopped = errors.New("session machine stopped")
)

// Status change reasons for lifecycle transitions
const (
	ReasonStart      = "start"
	ReasonReady      = "ready"
	ReasonStartError = "start_failed"
	ReasonStop       = "stop"
	ReasonDone       = "done"
	ReasonReset      = "reset"
	ReasonDeviceLost = "device_lost"
)

// Options are the per session pipeline parameters
type Options struct {
	SampleRate   int
	Window       time.Duration
	Overlap      time.Duration
	MaxPending   int
	StallTimeout time.Duration

	Workers       int
	Diarization   string // "labels", "gap" or "none"
	Transcription transcription.StageConfig

	Extractor         extraction.Extractor
	Classifier        extraction.Classifier
	ExtractionTimeout time.Duration

	Insight                insight.StageConfig
	InsightInterval        time.Duration
	RecentContext          time.Duration
	MaxBattlecardsPerCycle int

	DrainTimeout   time.Duration
	SummaryTimeout time.Duration
}

// StartOptions are supplied by the start caller
type StartOptions struct {
	Simulation bool   `json:"simulation"`
	Title      string `json:"title"`
}

// Components are the pluggable backends one session runs with
type Components struct {
	Primary    transcription.Backend
	Fallback   transcription.Backend // optional
	Provider   insight.Provider
	Researcher insight.Researcher // optional
	Source     *simulation.Source // set for simulated sessions
}

// Backends builds session components. Simulation selects the scripted
// source and stages instead of the live ones.
type Backends interface {
	Components(ctx context.Context, simulation bool) (*Components, error)
}

// BackendsFunc adapts a function to Backends
type BackendsFunc func(ctx context.Context, simulation bool) (*Components, error)

// Components calls f
func (f BackendsFunc) Components(ctx context.Context, simulation bool) (*Components, error) {
	return f(ctx, simulation)
}

// Persister is the durable sink for sessions
type Persister interface {
	CreateSession(ctx context.Context, rec store.SessionRecord) error
	Append(ev event.Event)
	Finalize(ctx context.Context, rec store.SessionRecord) error
	StarHint(ctx context.Context, hint store.StarredHint) error
}

// Status describes the machine for the control surface
type Status struct {
	SessionID   string             `json:"session_id,omitempty"`
	State       event.State        `json:"state"`
	Title       string             `json:"title,omitempty"`
	Simulation  bool               `json:"simulation"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	Seq         uint64             `json:"seq"`
	Segments    int                `json:"segments"`
	Entities    int                `json:"entities"`
	Battlecards int                `json:"battlecards"`
	Insights    []event.Insight    `json:"insights"`
	Score       float64            `json:"score"`
	Degraded    bool               `json:"degraded"`
	Subscribers int                `json:"subscribers"`
	Stats       store.SessionStats `json:"stats"`
}

// StarRequest promotes a hint. Either InsightID or Text is required.
// SessionID defaults to the current or last session.
type StarRequest struct {
	SessionID string `json:"session_id,omitempty"`
	InsightID string `json:"hint_id,omitempty"`
	Text      string `json:"text,omitempty"`
}
