package extraction

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

// Candidate is an entity mention found in a piece of text
type Candidate struct {
	Text string
	Kind event.EntityKind
}

// Extractor finds entity candidates in text
type Extractor interface {
	Extract(ctx context.Context, text string) ([]Candidate, error)
}

// lexiconTerm is one configured name
type lexiconTerm struct {
	lower string
	text  string
	kind  event.EntityKind
}

// LexiconExtractor matches configured names case insensitively on word
// boundaries. Longer names win over names they contain.
type LexiconExtractor struct {
	terms []lexiconTerm
}

// NewLexiconExtractor builds an extractor from names grouped by kind
func NewLexiconExtractor(lexicon map[event.EntityKind][]string) *LexiconExtractor {
	var terms []lexiconTerm
	for kind, names := range lexicon {
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			terms = append(terms, lexiconTerm{lower: strings.ToLower(name), text: name, kind: kind})
		}
	}

	sort.SliceStable(terms, func(i, j int) bool {
		if len(terms[i].lower) != len(terms[j].lower) {
			return len(terms[i].lower) > len(terms[j].lower)
		}
		return terms[i].lower < terms[j].lower
	})

	return &LexiconExtractor{terms: terms}
}

// Extract returns each configured name mentioned in text once
func (l *LexiconExtractor) Extract(ctx context.Context, text string) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lower := []byte(strings.ToLower(text))
	var out []Candidate
	for _, term := range l.terms {
		if markWord(lower, term.lower) {
			out = append(out, Candidate{Text: term.text, Kind: term.kind})
		}
	}

	return out, nil
}

// markWord reports whether term occurs in text on word boundaries and masks
// every such occurrence so shorter terms cannot match inside it
func markWord(text []byte, term string) bool {
	found := false
	for offset := 0; offset < len(text); {
		i := strings.Index(string(text[offset:]), term)
		if i < 0 {
			break
		}
		start := offset + i
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			found = true
			for j := start; j < end; j++ {
				text[j] = 0
			}
		}
		offset = start + 1
	}
	return found
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(text []byte, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRune(text[:i])
	return r == 0 || !isWordRune(r)
}

func boundaryAfter(text []byte, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRune(text[i:])
	return r == 0 || !isWordRune(r)
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\(?\d[\d\s().\-]{7,}\d`)
	orgPattern   = regexp.MustCompile(`\b(?:[A-Z][\w&\-]*\s+){1,3}(?:Inc|Corp|LLC|Ltd|GmbH)\b`)
)

// leadWords are capitalized words that open a sentence in front of a
// company name without being part of it
var leadWords = map[string]bool{
	"yesterday": true, "today": true, "tomorrow": true, "honestly": true,
	"actually": true, "basically": true, "anyway": true, "also": true,
	"and": true, "but": true, "so": true, "then": true, "well": true,
	"maybe": true, "okay": true, "yes": true, "no": true, "because": true,
	"since": true, "when": true, "if": true, "with": true, "at": true,
	"from": true, "like": true, "last": true, "next": true, "this": true,
	"that": true, "we": true, "i": true, "they": true, "our": true,
	"their": true, "monday": true, "tuesday": true, "wednesday": true,
	"thursday": true, "friday": true,
}

// trimLeadWords drops sentence openers from the front of an organization
// match, keeping at least one word before the legal suffix
func trimLeadWords(words []string) []string {
	for len(words) > 2 && leadWords[strings.ToLower(words[0])] {
		words = words[1:]
	}
	return words
}

// PatternExtractor finds emails, phone numbers and organization names that
// carry a legal suffix
type PatternExtractor struct{}

// Extract returns pattern matches in order of appearance
func (PatternExtractor) Extract(ctx context.Context, text string) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Candidate
	for _, m := range emailPattern.FindAllString(text, -1) {
		out = append(out, Candidate{Text: strings.TrimRight(m, "."), Kind: event.KindEmail})
	}

	for _, m := range phonePattern.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		digits := 0
		for _, r := range m {
			if unicode.IsDigit(r) {
				digits++
			}
		}
		if digits >= 9 && digits <= 15 {
			out = append(out, Candidate{Text: m, Kind: event.KindPhone})
		}
	}

	for _, m := range orgPattern.FindAllString(text, -1) {
		out = append(out, Candidate{Text: strings.Join(trimLeadWords(strings.Fields(m)), " "), Kind: event.KindOrganization})
	}

	return out, nil
}

// Chain runs extractors in order and concatenates their candidates. A
// failing extractor does not hide the output of the others.
type Chain []Extractor

// Extract runs every extractor in the chain
func (c Chain) Extract(ctx context.Context, text string) ([]Candidate, error) {
	var out []Candidate
	var errs []error
	for _, e := range c {
		candidates, err := e.Extract(ctx, text)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, candidates...)
	}
	return out, errors.Join(errs...)
}
