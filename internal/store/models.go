package store

import (
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

// Starred hint export states. The sink is the only writer of these.
const (
	HintPending  = "pending"
	HintExported = "exported"
	HintFailed   = "failed"
)

// SessionStats are the counters kept with a finalized session
type SessionStats struct {
	AudioWindows       int `json:"audio_windows"`
	DroppedWindows     int `json:"dropped_windows"`
	TranscriptionCalls int `json:"transcription_calls"`
	FailedWindows      int `json:"failed_windows"`
	ProviderCalls      int `json:"provider_calls"`
	Screenshots        int `json:"screenshots"`
	Entities           int `json:"entities"`
	Battlecards        int `json:"battlecards"`
}

// SessionRecord is the durable session row
type SessionRecord struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Simulation bool         `json:"simulation"`
	State      event.State  `json:"state"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    *time.Time   `json:"ended_at,omitempty"`
	Summary    string       `json:"summary"`
	Transcript string       `json:"transcript,omitempty"`
	Segments   int          `json:"segments"`
	Stats      SessionStats `json:"stats"`
}

// StarredHint is a durable, user promoted hint
type StarredHint struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	InsightID string    `json:"insight_id,omitempty"`
	Text      string    `json:"text"`
	StarredAt time.Time `json:"starred_at"`
	Status    string    `json:"status"`
}

// History is everything stored about one session
type History struct {
	Session     SessionRecord             `json:"session"`
	Transcript  []event.TranscriptSegment `json:"transcript"`
	Hints       []StarredHint             `json:"starred_hints"`
	Battlecards []event.Battlecard        `json:"battlecards"`
	Events      int                       `json:"events"`
}
