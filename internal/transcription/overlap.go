package transcription

import (
	"math"
	"strings"
	"unicode"
)

// wordsPerSecond bounds how many words can fit in an overlap region. It is
// set above fast conversational speech.
const wordsPerSecond = 4.0

// Words splits text on whitespace
func Words(text string) []string {
	return strings.Fields(text)
}

// normalizeWord lower-cases w and strips everything but letters and digits
func normalizeWord(w string) string {
	var b strings.Builder
	for _, r := range w {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// MaxOverlapWords returns the match bound for an overlap duration in seconds
func MaxOverlapWords(overlap float64) int {
	if overlap <= 0 {
		return 0
	}
	return int(math.Ceil(overlap * wordsPerSecond))
}

// OverlapLength returns k, the length of the longest run of words that both
// ends tail and starts head, compared case and punctuation insensitively,
// with k <= limit. Words that normalize to nothing never match.
func OverlapLength(tail, head []string, limit int) int {
	if limit > len(tail) {
		limit = len(tail)
	}
	if limit > len(head) {
		limit = len(head)
	}

	for k := limit; k > 0; k-- {
		match := true
		for i := 0; i < k; i++ {
			a := normalizeWord(tail[len(tail)-k+i])
			b := normalizeWord(head[i])
			if a == "" || a != b {
				match = false
				break
			}
		}
		if match {
			return k
		}
	}

	return 0
}

// minFuzzyOverlap is the shortest run accepted when a boundary word is
// skipped
const minFuzzyOverlap = 2

// BoundaryOverlap returns how many leading words of head repeat the end of
// tail. Windows are cut mid-word, so one trailing word of tail and one
// leading word of head may be a fragment: each may be skipped, and the
// longest match wins. A skipped head word is trimmed with the run.
func BoundaryOverlap(tail, head []string, limit int) int {
	best, trim := 0, 0
	for skipHead := 0; skipHead <= 1 && skipHead < len(head); skipHead++ {
		for skipTail := 0; skipTail <= 1 && skipTail < len(tail); skipTail++ {
			k := OverlapLength(tail[:len(tail)-skipTail], head[skipHead:], limit)
			if skipHead+skipTail > 0 && k < minFuzzyOverlap {
				continue
			}
			if k > best {
				best, trim = k, k+skipHead
			}
		}
	}
	return trim
}

// TrimHead removes the first n words from the segment list, dropping
// segments that become empty
func TrimHead(segments []Segment, n int) []Segment {
	if n <= 0 {
		return segments
	}

	out := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		if n > 0 {
			words := Words(seg.Text)
			if n >= len(words) {
				n -= len(words)
				continue
			}
			seg.Text = strings.Join(words[n:], " ")
			n = 0
		}
		out = append(out, seg)
	}

	return out
}
