package transcription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxOverlapWords(t *testing.T) {
	assert.Equal(t, 0, MaxOverlapWords(0))
	assert.Equal(t, 8, MaxOverlapWords(2))
	assert.Equal(t, 2, MaxOverlapWords(0.3))
}

func TestOverlapLength(t *testing.T) {
	tests := []struct {
		name  string
		tail  string
		head  string
		limit int
		want  int
	}{
		{"exact run", "we should talk about pricing", "about pricing next quarter", 8, 2},
		{"case and punctuation", "talk about Pricing.", "pricing, next", 8, 1},
		{"no match", "hello there", "general kenobi", 8, 0},
		{"bounded by limit", "a b c d e", "a b c d e f", 3, 0},
		{"longest wins", "yes and yes and", "yes and more", 8, 2},
		{"punctuation only never matches", "well --", "-- indeed", 8, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OverlapLength(Words(tt.tail), Words(tt.head), tt.limit))
		})
	}
}

func TestBoundaryOverlap(t *testing.T) {
	tests := []struct {
		name string
		tail string
		head string
		want int
	}{
		{"exact", "we should talk about pricing", "about pricing next quarter", 2},
		{"tail cut mid word", "okay so the pilot starts in ma", "so the pilot starts in march next week", 5},
		{"head cut mid word", "okay so the pilot starts in march", "ch so the pilot starts in march next week", 7},
		{"both cut", "okay so the pilot starts in ma", "ay so the pilot starts in march next week", 6},
		{"single word after skip is not enough", "we need a quote fr", "quote from legal", 0},
		{"no match", "hello there", "general kenobi", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BoundaryOverlap(Words(tt.tail), Words(tt.head), 8))
		})
	}
}

func TestTrimHead(t *testing.T) {
	segments := []Segment{
		{Start: 0, End: 0.5, Text: "about"},
		{Start: 0.5, End: 3, Text: "pricing next quarter"},
	}

	trimmed := TrimHead(segments, 2)
	assert.Len(t, trimmed, 1)
	assert.Equal(t, "next quarter", trimmed[0].Text)
	assert.Equal(t, 0.5, trimmed[0].Start)

	assert.Equal(t, segments, TrimHead(segments, 0))
	assert.Empty(t, TrimHead(segments, 10))
}
