package event

import (
	"time"
)

// Type identifies the payload carried by an Event.
type Type string

const (
	TypeSnapshot          Type = "snapshot"
	TypeTranscriptSegment Type = "transcript-segment"
	TypeEntityDiscovered  Type = "entity-discovered"
	TypeInsight           Type = "insight"
	TypeBattlecard        Type = "battlecard"
	TypeBattlecardUpdated Type = "battlecard-updated"
	TypeStatusChange      Type = "status-change"
	TypeCaptureDegraded   Type = "capture-degraded"
	TypeSessionEnded      Type = "session-ended"
)

// Event is one entry of a session feed. Seq is assigned by the session
// state machine when it accepts the payload and is strictly increasing per
// session. Exactly one payload pointer is set, matching Type.
type Event struct {
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id"`
	Type      Type      `json:"type"`
	At        time.Time `json:"at"`

	Segment    *TranscriptSegment `json:"segment,omitempty"`
	Entity     *Entity            `json:"entity,omitempty"`
	Insight    *Insight           `json:"insight,omitempty"`
	Battlecard *Battlecard        `json:"battlecard,omitempty"`
	Status     *StatusChange      `json:"status,omitempty"`
	Degraded   *CaptureDegraded   `json:"degraded,omitempty"`
	Snapshot   *Snapshot          `json:"snapshot,omitempty"`
	Ended      *SessionEnded      `json:"ended,omitempty"`
}

// Terminal reports whether the event closes a session feed.
func (e Event) Terminal() bool {
	return e.Type == TypeSessionEnded
}

// TranscriptSegment is one speaker-labelled piece of transcript.
type TranscriptSegment struct {
	Seq        uint64  `json:"seq"`
	Window     int     `json:"window"`
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"` // seconds from session start
	End        float64 `json:"end"`
	Confidence float32 `json:"confidence"`
}

// EntityKind classifies an extracted entity.
type EntityKind string

const (
	KindPerson       EntityKind = "person"
	KindOrganization EntityKind = "organization"
	KindProduct      EntityKind = "product"
	KindCompetitor   EntityKind = "competitor"
	KindEmail        EntityKind = "email"
	KindPhone        EntityKind = "phone"
)

// SourceScreen marks entities found in a screen snapshot rather than speech.
const SourceScreen = "screen"

// Entity is a deduplicated named entity of the active session.
type Entity struct {
	Text      string     `json:"text"`
	Kind      EntityKind `json:"kind"`
	Source    string     `json:"source"` // "segment:<seq>" or "screen"
	FirstSeen time.Time  `json:"first_seen"`
	Mentions  int        `json:"mentions"`
}

// InsightKind classifies an insight.
type InsightKind string

const (
	InsightHint        InsightKind = "hint"
	InsightRisk        InsightKind = "risk"
	InsightOpportunity InsightKind = "opportunity"
	InsightStrategy    InsightKind = "strategy"
)

// Insight is an ephemeral suggestion. A newer cycle supersedes it unless
// it was starred.
type Insight struct {
	ID          string      `json:"id"`
	Cycle       string      `json:"cycle"`
	Kind        InsightKind `json:"kind"`
	Text        string      `json:"text"`
	Score       float64     `json:"score"`
	GeneratedAt time.Time   `json:"generated_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Fallback    bool        `json:"fallback,omitempty"`
}

// Research is the asynchronous web research attached to a battlecard.
type Research struct {
	Summary string   `json:"summary"`
	Verdict string   `json:"verdict"`
	Sources []string `json:"sources,omitempty"`
}

// Battlecard holds counter-points for a detected competitor.
type Battlecard struct {
	ID          string    `json:"id"`
	Competitor  string    `json:"competitor"`
	Points      []string  `json:"points"`
	Research    *Research `json:"research,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Revision    int       `json:"revision"`
	Fallback    bool      `json:"fallback,omitempty"`
}

// State is a session lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// Status change reasons that do not move the lifecycle.
const (
	ReasonRecoverableError = "recoverable_error"
	ReasonWindowDropped    = "window_dropped"
	ReasonDegradedMode     = "degraded_mode"
)

// StatusChange reports a lifecycle transition, or a non-fatal condition
// when From equals To.
type StatusChange struct {
	From       State  `json:"from"`
	To         State  `json:"to"`
	Reason     string `json:"reason,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Window     *int   `json:"window,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Simulation bool   `json:"simulation,omitempty"`
}

// Capture degradation conditions.
const (
	CaptureStalled    = "stalled"
	CaptureResumed    = "resumed"
	CaptureDeviceLost = "device_lost"
)

// CaptureDegraded reports a capture source problem. The session stays up.
type CaptureDegraded struct {
	Source    string `json:"source"` // "audio" or "screen"
	Condition string `json:"condition"`
	Detail    string `json:"detail,omitempty"`
}

// Snapshot is the state a late subscriber needs before live events.
// Seq on the enclosing event equals the last sequence already applied.
type Snapshot struct {
	State       State               `json:"state"`
	StartedAt   time.Time           `json:"started_at,omitempty"`
	Transcript  []TranscriptSegment `json:"transcript"`
	Entities    []Entity            `json:"entities"`
	Insights    []Insight           `json:"insights"`
	Battlecards []Battlecard        `json:"battlecards"`
	Simulation  bool                `json:"simulation,omitempty"`
}

// SessionEnded is the terminal payload.
type SessionEnded struct {
	Summary  string    `json:"summary"`
	EndedAt  time.Time `json:"ended_at"`
	Segments int       `json:"segments"`
	Reset    bool      `json:"reset,omitempty"`
}
