package transcription

import (
	"strings"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

// pendingWindow is a finished window waiting for its predecessors
type pendingWindow struct {
	index    int
	start    float64
	overlap  float64
	segments []Segment
	failed   bool
}

// Reconciler merges window results into transcript order. It reorders
// out of order results, removes text duplicated across window overlaps and
// assigns session speaker labels. It is owned by one goroutine.
type Reconciler struct {
	diarizer Diarizer
	next     int
	pending  map[int]*pendingWindow
	tail     []string // words of the last emitted window
}

// NewReconciler creates a reconciler starting at window 0
func NewReconciler(diarizer Diarizer) *Reconciler {
	if diarizer == nil {
		diarizer = NewLabelDiarizer()
	}
	return &Reconciler{
		diarizer: diarizer,
		pending:  make(map[int]*pendingWindow),
	}
}

// SetDiarizer replaces the diarizer for later windows
func (r *Reconciler) SetDiarizer(d Diarizer) {
	r.diarizer = d
}

// Next returns the index of the window the reconciler is waiting for
func (r *Reconciler) Next() int {
	return r.next
}

// Pending returns the number of windows held back behind a gap
func (r *Reconciler) Pending() int {
	return len(r.pending)
}

// Add records a stage output and returns every segment that is now ready,
// in audio order. Seq is left for the caller to assign.
func (r *Reconciler) Add(out *Output) []event.TranscriptSegment {
	w := out.Window
	return r.add(&pendingWindow{
		index:    w.Index,
		start:    w.Start,
		overlap:  w.Overlap,
		segments: out.Segments,
	})
}

// Fail releases the slot of a window that produced nothing usable
func (r *Reconciler) Fail(index int) []event.TranscriptSegment {
	return r.add(&pendingWindow{index: index, failed: true})
}

// Skip releases the slot of a window that was dropped before transcription
func (r *Reconciler) Skip(index int) []event.TranscriptSegment {
	return r.Fail(index)
}

// Flush releases every held window in order, treating missing ones as
// failed. Used at stop once no more results will arrive.
func (r *Reconciler) Flush() []event.TranscriptSegment {
	var out []event.TranscriptSegment
	for len(r.pending) > 0 {
		if _, ok := r.pending[r.next]; !ok {
			r.tail = nil
			r.next++
			continue
		}
		out = append(out, r.drain()...)
	}
	return out
}

func (r *Reconciler) add(p *pendingWindow) []event.TranscriptSegment {
	if p.index < r.next {
		return nil
	}
	if _, dup := r.pending[p.index]; dup {
		return nil
	}
	r.pending[p.index] = p
	return r.drain()
}

// drain emits consecutive windows starting at next
func (r *Reconciler) drain() []event.TranscriptSegment {
	var out []event.TranscriptSegment

	for {
		p, ok := r.pending[r.next]
		if !ok {
			return out
		}
		delete(r.pending, r.next)
		r.next++

		if p.failed {
			r.tail = nil
			continue
		}

		out = append(out, r.emit(p)...)
	}
}

// emit trims the overlap duplicate from the head of p and labels speakers
func (r *Reconciler) emit(p *pendingWindow) []event.TranscriptSegment {
	segments := p.segments

	if limit := MaxOverlapWords(p.overlap); limit > 0 && len(r.tail) > 0 {
		var head []string
		for _, seg := range segments {
			if seg.Start >= p.overlap {
				break
			}
			head = append(head, Words(seg.Text)...)
		}
		if k := BoundaryOverlap(r.tail, head, limit); k > 0 {
			segments = TrimHead(segments, k)
		}
		segments = dropInsideOverlap(segments, p.overlap)
	}

	var words []string
	out := make([]event.TranscriptSegment, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		start := p.start + seg.Start
		end := p.start + seg.End
		out = append(out, event.TranscriptSegment{
			Window:     p.index,
			Speaker:    r.diarizer.Label(seg, start, end),
			Text:       text,
			Start:      start,
			End:        end,
			Confidence: seg.Confidence,
		})
		words = append(words, Words(text)...)
	}

	// An empty window says nothing about what the next one repeats
	r.tail = words

	return out
}

// dropInsideOverlap removes segments that end within the overlap region.
// The previous window already transcribed that audio.
func dropInsideOverlap(segments []Segment, overlap float64) []Segment {
	out := segments[:0:0]
	for _, seg := range segments {
		if seg.End <= overlap {
			continue
		}
		out = append(out, seg)
	}
	return out
}
