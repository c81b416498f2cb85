package transcription

import "fmt"

// DefaultSpeakerGap is the silence after which GapDiarizer assumes the other
// speaker took the turn
const DefaultSpeakerGap = 1.5

// SpeakerLabel formats a session scoped speaker label
func SpeakerLabel(n int) string {
	return fmt.Sprintf("SPEAKER_%d", n)
}

// Diarizer assigns session scoped speaker labels. Segments are passed in
// transcript order with session relative times. Implementations keep state
// across calls and are used by a single goroutine.
type Diarizer interface {
	Label(seg Segment, start, end float64) string
}

// LabelDiarizer maps backend speaker tags to SPEAKER_N in order of first
// appearance. Untagged segments keep the previous speaker.
type LabelDiarizer struct {
	labels map[string]string
	last   string
}

// NewLabelDiarizer creates a tag mapping diarizer
func NewLabelDiarizer() *LabelDiarizer {
	return &LabelDiarizer{labels: make(map[string]string)}
}

// Label returns the session label for the segment's backend tag
func (d *LabelDiarizer) Label(seg Segment, start, end float64) string {
	if seg.Speaker == "" {
		if d.last == "" {
			d.last = SpeakerLabel(0)
		}
		return d.last
	}

	label, ok := d.labels[seg.Speaker]
	if !ok {
		label = SpeakerLabel(len(d.labels))
		d.labels[seg.Speaker] = label
	}
	d.last = label
	return label
}

// GapDiarizer alternates between two speakers whenever the silence between
// segments exceeds Gap. Backend tags, when present, win.
type GapDiarizer struct {
	Gap float64

	tags    *LabelDiarizer
	current int
	lastEnd float64
	started bool
}

// NewGapDiarizer creates a turn taking diarizer
func NewGapDiarizer(gap float64) *GapDiarizer {
	if gap <= 0 {
		gap = DefaultSpeakerGap
	}
	return &GapDiarizer{Gap: gap, tags: NewLabelDiarizer()}
}

// Label returns the speaker for a segment starting at start
func (d *GapDiarizer) Label(seg Segment, start, end float64) string {
	defer func() {
		d.lastEnd = end
		d.started = true
	}()

	if seg.Speaker != "" {
		return d.tags.Label(seg, start, end)
	}

	if d.started && start-d.lastEnd > d.Gap {
		d.current = 1 - d.current
	}
	return SpeakerLabel(d.current)
}

// SingleSpeaker labels every segment SPEAKER_0
type SingleSpeaker struct{}

// Label always returns SPEAKER_0
func (SingleSpeaker) Label(Segment, float64, float64) string {
	return SpeakerLabel(0)
}

// NewDiarizer returns the diarizer for a configured mode
func NewDiarizer(mode string) (Diarizer, error) {
	switch mode {
	case "labels", "":
		return NewLabelDiarizer(), nil
	case "gap":
		return NewGapDiarizer(DefaultSpeakerGap), nil
	case "none":
		return SingleSpeaker{}, nil
	default:
		return nil, fmt.Errorf("unknown diarization mode %q", mode)
	}
}
