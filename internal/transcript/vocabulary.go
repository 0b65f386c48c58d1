package transcript

import (
	"strings"
	"unicode"
)

// Correction captures a single substitution made by the [Vocabulary] pass.
type Correction struct {
	// Original is the span as produced by the transcription backend.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the matcher's similarity score (0.0–1.0).
	Confidence float64
}

// TermMatcher resolves a word or phrase to a known term by pronunciation.
// *phonetic.Matcher implements it.
type TermMatcher interface {
	Match(word string, terms []string) (corrected string, confidence float64, matched bool)
}

// Vocabulary rewrites misheard spellings of user-supplied terms (product
// names, jargon, people) in a finished transcript. It is safe for concurrent
// use; Correct does not mutate the receiver.
type Vocabulary struct {
	matcher  TermMatcher
	terms    []string
	maxWords int
}

// NewVocabulary returns a corrector for terms. It returns nil when terms is
// empty or m is nil; a nil *Vocabulary passes text through unchanged.
func NewVocabulary(m TermMatcher, terms []string) *Vocabulary {
	var clean []string
	maxWords := 1
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		clean = append(clean, t)
		maxWords = max(maxWords, len(strings.Fields(t)))
	}
	if m == nil || len(clean) == 0 {
		return nil
	}
	return &Vocabulary{matcher: m, terms: clean, maxWords: maxWords}
}

// Terms returns the configured vocabulary.
func (v *Vocabulary) Terms() []string {
	if v == nil {
		return nil
	}
	return append([]string(nil), v.terms...)
}

// Correct replaces spans of text that match a vocabulary term. At each word
// it tries windows from the longest term length down to one word, so
// multi-word terms take precedence. Trailing punctuation of the replaced span
// is preserved.
func (v *Vocabulary) Correct(text string) (string, []Correction) {
	if v == nil {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var (
		output      []string
		corrections []Correction
	)
	i := 0
	for i < len(tokens) {
		maxN := min(v.maxWords+1, len(tokens)-i)

		matched := false
		for n := maxN; n >= 1; n-- {
			span := tokens[i : i+n]
			window := strings.TrimFunc(strings.Join(span, " "), isPunctOrSymbol)
			if Normalize(window) == "" {
				continue
			}
			term, conf, ok := v.matcher.Match(window, v.terms)
			if !ok {
				continue
			}
			if term == window {
				break
			}
			output = append(output, term+trailingPunct(span[n-1]))
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  term,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

func isPunctOrSymbol(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// trailingPunct returns the punctuation suffix of tok ("fox." → ".").
func trailingPunct(tok string) string {
	trimmed := strings.TrimRightFunc(tok, isPunctOrSymbol)
	return tok[len(trimmed):]
}
