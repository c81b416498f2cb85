package transcription

import (
	"strings"
	"unicode/utf8"
)

// Filter reasons
const (
	FilterEmpty      = "empty"
	FilterTooShort   = "too_short"
	FilterRepeatChar = "repeated_characters"
	FilterPhrase     = "phrase"
	FilterRepetition = "repetition"
)

// DefaultPhrases are outputs ASR models produce from silence or music
var DefaultPhrases = []string{
	"thank you for watching", "thanks for watching",
	"please subscribe", "like and subscribe",
	"see you next time", "[music]", "(music)",
	"subtitle by", "subtitles by", "copyright", "all rights reserved",
}

// maxNGram is the longest phrase checked for back-to-back repetition
const maxNGram = 4

// Filter drops obviously hallucinated segments
type Filter struct {
	RepetitionThreshold int
	Phrases             []string
}

// NewFilter creates a filter with the default phrase list
func NewFilter(repetitionThreshold int) *Filter {
	if repetitionThreshold < 2 {
		repetitionThreshold = 2
	}
	return &Filter{
		RepetitionThreshold: repetitionThreshold,
		Phrases:             DefaultPhrases,
	}
}

// Check returns the reason text should be dropped, or "" to keep it
func (f *Filter) Check(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return FilterEmpty
	}

	if utf8.RuneCountInString(text) < 2 {
		return FilterTooShort
	}

	if repeatedCharacter(text) {
		return FilterRepeatChar
	}

	lower := strings.ToLower(text)
	for _, phrase := range f.Phrases {
		if strings.Contains(lower, phrase) {
			return FilterPhrase
		}
	}

	if MaxRepeatRun(Words(text)) > f.RepetitionThreshold {
		return FilterRepetition
	}

	return ""
}

// repeatedCharacter matches five or more of one character and nothing else
func repeatedCharacter(text string) bool {
	if utf8.RuneCountInString(text) < 5 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(text)
	for _, r := range text {
		if r != first {
			return false
		}
	}
	return true
}

// MaxRepeatRun returns the largest number of back-to-back copies of any
// n-gram (n up to 4) in words, compared after normalization
func MaxRepeatRun(words []string) int {
	norm := make([]string, len(words))
	for i, w := range words {
		norm[i] = normalizeWord(w)
	}

	best := 0
	if len(norm) > 0 {
		best = 1
	}

	for n := 1; n <= maxNGram && 2*n <= len(norm); n++ {
		for start := 0; start+n <= len(norm); start++ {
			run := 1
			for next := start + n; next+n <= len(norm) && equalWords(norm[start:start+n], norm[next:next+n]); next += n {
				run++
			}
			if run > best {
				best = run
			}
		}
	}

	return best
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] == "" || a[i] != b[i] {
			return false
		}
	}
	return true
}
