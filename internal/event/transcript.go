package event

import (
	"strings"
)

// PlainTranscript joins segment texts with single spaces.
func PlainTranscript(segments []TranscriptSegment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// FormatTranscript renders segments as speaker runs, one line per run:
//
//	[SPEAKER_0]: hello there how are you
//	[SPEAKER_1]: fine thanks
func FormatTranscript(segments []TranscriptSegment) string {
	var b strings.Builder
	current := ""
	var run []string

	flush := func() {
		if len(run) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[" + current + "]: " + strings.Join(run, " "))
		run = run[:0]
	}

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.Speaker != current {
			flush()
			current = seg.Speaker
		}
		run = append(run, text)
	}
	flush()

	return b.String()
}
