package transcription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strange-Jackle/meeting-monitor/internal/audio"
	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

func output(index int, start, overlap float64, segments ...Segment) *Output {
	return &Output{
		Window:   &audio.Window{Index: index, Start: start, End: start + 10, Overlap: overlap},
		Segments: segments,
	}
}

func texts(segments []event.TranscriptSegment) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.Text
	}
	return out
}

func TestReconcilerThreeWindowScenario(t *testing.T) {
	r := NewReconciler(NewLabelDiarizer())

	var all []event.TranscriptSegment
	all = append(all, r.Add(output(0, 0, 0, Segment{Start: 0, End: 9, Text: "Welcome to the call.", Speaker: "A"}))...)
	all = append(all, r.Add(output(1, 10, 0, Segment{Start: 0, End: 9, Text: "Let's discuss pricing.", Speaker: "A"}))...)
	all = append(all, r.Add(output(2, 20, 0, Segment{Start: 0, End: 9, Text: "Sounds good.", Speaker: "A"}))...)

	require.Len(t, all, 3)
	assert.Equal(t, "Welcome to the call. Let's discuss pricing. Sounds good.", event.PlainTranscript(all))
	for i, seg := range all {
		assert.Equal(t, "SPEAKER_0", seg.Speaker)
		assert.Equal(t, i, seg.Window)
		assert.Equal(t, float64(i*10), seg.Start)
	}
}

func TestReconcilerReordersWindows(t *testing.T) {
	r := NewReconciler(nil)

	assert.Empty(t, r.Add(output(2, 20, 0, Segment{End: 1, Text: "third"})))
	assert.Empty(t, r.Add(output(1, 10, 0, Segment{End: 1, Text: "second"})))
	assert.Equal(t, 2, r.Pending())

	got := r.Add(output(0, 0, 0, Segment{End: 1, Text: "first"}))
	assert.Equal(t, []string{"first", "second", "third"}, texts(got))
	assert.Equal(t, 3, r.Next())
	assert.Zero(t, r.Pending())
}

func TestReconcilerTrimsOverlapDuplicates(t *testing.T) {
	r := NewReconciler(nil)

	r.Add(output(0, 0, 0, Segment{Start: 0, End: 10, Text: "we should talk about the renewal"}))
	got := r.Add(output(1, 8, 2,
		Segment{Start: 0, End: 2, Text: "about the renewal"},
		Segment{Start: 2, End: 6, Text: "before the end of March"},
	))

	assert.Equal(t, []string{"before the end of March"}, texts(got))
	assert.Equal(t, 10.0, got[0].Start)
}

func TestReconcilerTrimIsCaseAndPunctuationInsensitive(t *testing.T) {
	r := NewReconciler(nil)

	r.Add(output(0, 0, 0, Segment{Start: 0, End: 10, Text: "Can you send the Proposal?"}))
	got := r.Add(output(1, 8, 2, Segment{Start: 0, End: 5, Text: "the proposal. Yes, today."}))

	assert.Equal(t, []string{"Yes, today."}, texts(got))
}

func TestReconcilerTrimsOverlapCutMidWord(t *testing.T) {
	tests := []struct {
		name string
		tail string
		head string
	}{
		{"previous window cut", "okay so the pilot starts in ma", "so the pilot starts in march next week"},
		{"next window cut", "okay so the pilot starts in ma", "ay so the pilot starts in march next week"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler(nil)

			r.Add(output(0, 0, 0, Segment{Start: 0, End: 10, Text: tt.tail}))
			got := r.Add(output(1, 8, 2, Segment{Start: 0, End: 4, Text: tt.head}))

			assert.Equal(t, []string{"march next week"}, texts(got))
		})
	}
}

func TestReconcilerDropsSegmentsInsideOverlap(t *testing.T) {
	r := NewReconciler(nil)

	r.Add(output(0, 0, 0, Segment{Start: 0, End: 10, Text: "let me share my screen"}))
	got := r.Add(output(1, 8, 2,
		Segment{Start: 0, End: 1.8, Text: "uh screen"},
		Segment{Start: 1.8, End: 5, Text: "here is the roadmap"},
	))

	require.Len(t, got, 1)
	assert.Equal(t, "here is the roadmap", got[0].Text)
	assert.InDelta(t, 9.8, got[0].Start, 1e-9)
}

func TestReconcilerLeavesTextAfterOverlapAlone(t *testing.T) {
	r := NewReconciler(nil)

	r.Add(output(0, 0, 0, Segment{Start: 0, End: 10, Text: "okay great"}))
	// The repeated words start after the overlap region, so they are real speech
	got := r.Add(output(1, 8, 2, Segment{Start: 3, End: 5, Text: "okay great"}))

	assert.Equal(t, []string{"okay great"}, texts(got))
}

func TestReconcilerFailedWindowResetsTail(t *testing.T) {
	r := NewReconciler(nil)

	r.Add(output(0, 0, 0, Segment{Start: 0, End: 10, Text: "the quarterly numbers"}))
	assert.Empty(t, r.Fail(1))
	got := r.Add(output(2, 16, 2, Segment{Start: 0, End: 3, Text: "quarterly numbers look strong"}))

	assert.Equal(t, []string{"quarterly numbers look strong"}, texts(got))
}

func TestReconcilerSkipAndLateResults(t *testing.T) {
	r := NewReconciler(nil)

	assert.Empty(t, r.Skip(0))
	assert.Empty(t, r.Add(output(0, 0, 0, Segment{End: 1, Text: "late"})), "results for released slots are ignored")

	got := r.Add(output(1, 10, 0, Segment{End: 1, Text: "on time"}))
	assert.Equal(t, []string{"on time"}, texts(got))
}

func TestReconcilerFlushReleasesHeldWindows(t *testing.T) {
	r := NewReconciler(nil)

	r.Add(output(0, 0, 0, Segment{End: 1, Text: "zero"}))
	r.Add(output(2, 20, 0, Segment{End: 1, Text: "two"}))
	r.Add(output(4, 40, 0, Segment{End: 1, Text: "four"}))

	got := r.Flush()
	assert.Equal(t, []string{"two", "four"}, texts(got))
	assert.Zero(t, r.Pending())
	assert.Equal(t, 5, r.Next())
}

func TestReconcilerDegradedDiarizer(t *testing.T) {
	r := NewReconciler(NewLabelDiarizer())

	got := r.Add(output(0, 0, 0,
		Segment{Start: 0, End: 1, Text: "hello", Speaker: "A"},
		Segment{Start: 1, End: 2, Text: "hi there", Speaker: "B"},
	))
	assert.Equal(t, "SPEAKER_1", got[1].Speaker)

	r.SetDiarizer(SingleSpeaker{})
	got = r.Add(output(1, 10, 0, Segment{Start: 0, End: 1, Text: "after the switch", Speaker: "B"}))
	assert.Equal(t, "SPEAKER_0", got[0].Speaker)
}
