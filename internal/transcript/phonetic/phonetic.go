// Package phonetic matches words by pronunciation using Double Metaphone
// phonetic encoding combined with Jaro-Winkler string similarity.
//
// It serves two callers:
//
//   - Word equivalence ([Matcher.Equal]): the merge engine asks whether two
//     normalised words from adjacent chunks are the same spoken word
//     rendered differently ("colour" vs "color").
//
//   - Vocabulary matching ([Matcher.Match]): the vocabulary corrector asks
//     which user-supplied term (product names, jargon) a misheard word or
//     phrase most likely was.
//
// Matching proceeds in two stages. Double Metaphone codes are computed for
// both sides; overlapping codes make a phonetic candidate. Candidates are then
// ranked by Jaro-Winkler similarity and accepted above a threshold. Vocabulary
// matching also accepts non-phonetic candidates above a stricter fuzzy
// threshold.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultWordThreshold     = 0.88

	// minWordRunes is the shortest word considered for fuzzy equivalence.
	// Short function words ("a", "an", "the") differ by one letter and would
	// otherwise collapse into each other.
	minWordRunes = 4

	// maxLengthRatio bounds how much longer one side of a vocabulary match
	// may be than the other.
	maxLengthRatio = 1.4
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched vocabulary term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithWordThreshold sets the minimum Jaro-Winkler score for [Matcher.Equal].
// Default: 0.88.
func WithWordThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.wordThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	wordThreshold     float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		wordThreshold:     defaultWordThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Equal reports whether two normalised words are the same spoken word.
// Identical strings are always equal. Otherwise both words must be at least
// four runes long, share a Double Metaphone code, and score at least the
// word threshold on Jaro-Winkler.
func (m *Matcher) Equal(a, b string) bool {
	if a == b {
		return true
	}
	if utf8.RuneCountInString(a) < minWordRunes || utf8.RuneCountInString(b) < minWordRunes {
		return false
	}
	if matchr.JaroWinkler(a, b, false) < m.wordThreshold {
		return false
	}
	return codesOverlap(codesFor(a), codesFor(b))
}

// Match attempts to find the vocabulary term most phonetically similar to
// word. word may be a single word or a space-separated phrase; multi-word
// terms ("Visual Studio Code") are compared token-wise and as whole strings.
//
// When matched is false, corrected equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string, terms []string) (corrected string, confidence float64, matched bool) {
	if len(terms) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	wordConcat := strings.Join(wordTokens, "")
	inputCodes := codesFor(wordConcat)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, term := range terms {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		termTokens := strings.Fields(termLower)
		termConcat := strings.Join(termTokens, "")
		if !comparableLength(wordConcat, termConcat) {
			continue
		}
		phoneticMatch := codesOverlap(inputCodes, codesFor(termConcat))
		jwScore := bestJWScore(wordTokens, termTokens, wordLower, termLower)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold && (!best.phonetic || jwScore > best.score) {
				best = candidate{term: term, score: jwScore, phonetic: true}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{term: term, score: jwScore}
			}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return word, 0, false
}

// codesFor returns the primary and secondary Double Metaphone codes of s.
// Empty codes (produced when the word is too short or contains no
// consonants) are excluded. Phrases are encoded with their spaces removed,
// so "graph anna" and "grafana" share a code.
func codesFor(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, sec := matchr.DoubleMetaphone(s)
	if p != "" {
		codes[p] = struct{}{}
	}
	if sec != "" {
		codes[sec] = struct{}{}
	}
	return codes
}

// comparableLength reports whether a and b are within maxLengthRatio of each
// other in rune count. Metaphone codes are truncated, so a phrase with extra
// trailing words would otherwise share a code with a shorter term.
func comparableLength(a, b string) bool {
	la, lb := float64(utf8.RuneCountInString(a)), float64(utf8.RuneCountInString(b))
	if la == 0 || lb == 0 {
		return false
	}
	return la <= lb*maxLengthRatio && lb <= la*maxLengthRatio
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity between input and term,
// comparing both the full strings and their space-stripped forms
// ("post gres" vs "postgres"). Individual token pairs are not
// scored, so a phrase never matches a term on the strength of one shared word.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	return score
}
