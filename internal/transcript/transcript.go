// Package transcript defines the values that flow from the transcription
// dispatcher to the merge engine, and the word-level text handling both
// sides share.
//
// A [Partial] is the transcript of one audio chunk, tagged with the chunk's
// sequence number and time range. Partials are immutable once produced.
//
// [Tokenize] splits text into [Word] values that keep the rendered form
// (casing, punctuation) alongside a normalised form used for comparison.
package transcript

import (
	"strings"
	"time"
	"unicode"
)

// Partial is the result of transcribing one chunk, successful or not.
type Partial struct {
	// Seq is the chunk's sequence number (1-based, contiguous per session).
	Seq uint64

	// Start and End delimit the chunk's audio relative to recording start.
	Start time.Duration
	End   time.Duration

	// Text is the transcribed text. Empty for silent or failed chunks.
	Text string

	// ReceivedAt is when the result reached the dispatcher.
	ReceivedAt time.Time

	// Final marks the last chunk of a session.
	Final bool

	// Failed marks a chunk whose transcription failed permanently, exhausted
	// its retries, or was cancelled. Text is empty.
	Failed bool

	// Err is the failure cause when Failed is set.
	Err error

	// Attempts is the number of backend calls made for this chunk.
	Attempts int
}

// Word is one whitespace-delimited token of a transcript.
type Word struct {
	// Text is the token as rendered by the backend.
	Text string

	// Norm is the lower-cased token with punctuation and symbols removed.
	Norm string
}

// Normalize lower-cases s and strips punctuation and symbols, keeping
// letters, digits and combining marks.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Tokenize splits text into words. Tokens that normalise to nothing (a lone
// dash, an ellipsis) are attached to the preceding word so every Word has a
// non-empty Norm; a leading one attaches to the first real word.
func Tokenize(text string) []Word {
	fields := strings.Fields(text)
	words := make([]Word, 0, len(fields))
	var pending string
	for _, f := range fields {
		norm := Normalize(f)
		if norm == "" {
			if len(words) > 0 {
				words[len(words)-1].Text += " " + f
			} else if pending == "" {
				pending = f
			} else {
				pending += " " + f
			}
			continue
		}
		if pending != "" {
			f = pending + " " + f
			pending = ""
		}
		words = append(words, Word{Text: f, Norm: norm})
	}
	return words
}

// Join renders words back into text separated by single spaces.
func Join(words []Word) string {
	if len(words) == 0 {
		return ""
	}
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}
