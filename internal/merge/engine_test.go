package merge_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MrWong99/dictate/internal/merge"
	"github.com/MrWong99/dictate/internal/transcript"
	"github.com/MrWong99/dictate/internal/transcript/phonetic"
)

func partials(texts ...string) []transcript.Partial {
	out := make([]transcript.Partial, len(texts))
	for i, t := range texts {
		out[i] = transcript.Partial{Seq: uint64(i + 1), Text: t}
	}
	out[len(out)-1].Final = true
	return out
}

func applyAll(e *merge.Engine, ps []transcript.Partial) []merge.Delta {
	var deltas []merge.Delta
	for _, p := range ps {
		deltas = append(deltas, e.Apply(p)...)
	}
	return deltas
}

func TestEngine_Merge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{
			name:   "single word at boundary",
			chunks: []string{"the quick brown", "brown fox jumps"},
			want:   "the quick brown fox jumps",
		},
		{
			name:   "silence chunk repeats overlap",
			chunks: []string{"hello world", "hello world"},
			want:   "hello world",
		},
		{
			name:   "no overlap appends everything",
			chunks: []string{"good morning", "how are you"},
			want:   "good morning how are you",
		},
		{
			name:   "multi word overlap",
			chunks: []string{"we need to ship the release", "the release today please"},
			want:   "we need to ship the release today please",
		},
		{
			name:   "new text inside tail",
			chunks: []string{"one two three four five", "three four"},
			want:   "one two three four five",
		},
		{
			name:   "lone word mid sentence is not overlap",
			chunks: []string{"I saw the cat", "and the dog ran"},
			want:   "I saw the cat and the dog ran",
		},
		{
			name:   "punctuation and case differ",
			chunks: []string{"Let's meet at noon.", "At noon, bring the notes"},
			want:   "Let's meet at noon. bring the notes",
		},
		{
			name:   "repeated boundary word before the match is dropped",
			chunks: []string{"so I think we should go", "should we should go now"},
			want:   "so I think we should go now",
		},
		{
			name:   "new words before the match are kept",
			chunks: []string{"we bought the red car", "so then the red car broke"},
			want:   "we bought the red car so then the red car broke",
		},
		{
			name:   "filler before the match is kept",
			chunks: []string{"send the report to Anna", "uh to Anna by Friday"},
			want:   "send the report to Anna uh to Anna by Friday",
		},
		{
			name:   "shared phrase away from the boundary is kept",
			chunks: []string{"it was the end of the day and I went home", "home and then at the end of the day we slept"},
			want:   "it was the end of the day and I went home and then at the end of the day we slept",
		},
		{
			name:   "shared phrase deep in the new chunk is kept",
			chunks: []string{"I went to the store", "later that evening we talked about the store and the price"},
			want:   "I went to the store later that evening we talked about the store and the price",
		},
		{
			name:   "empty chunks",
			chunks: []string{"", "hello there", "", "there friend"},
			want:   "hello there friend",
		},
		{
			name:   "three chunks",
			chunks: []string{"a journey of a thousand", "a thousand miles begins", "begins with a single step"},
			want:   "a journey of a thousand miles begins with a single step",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := merge.New()
			deltas := applyAll(e, partials(tt.chunks...))
			if len(deltas) != len(tt.chunks) {
				t.Fatalf("got %d deltas, want %d", len(deltas), len(tt.chunks))
			}
			if got := e.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
			last := deltas[len(deltas)-1]
			if !last.Final {
				t.Error("last delta should be final")
			}
			if last.MergedText != tt.want {
				t.Errorf("final MergedText = %q, want %q", last.MergedText, tt.want)
			}
		})
	}
}

func TestEngine_DeltaText(t *testing.T) {
	t.Parallel()

	e := merge.New()
	d := e.Apply(transcript.Partial{Seq: 1, Text: "the quick brown"})
	if len(d) != 1 || d[0].Text != "the quick brown" {
		t.Fatalf("first delta = %+v", d)
	}
	d = e.Apply(transcript.Partial{Seq: 2, Text: "brown fox jumps"})
	if len(d) != 1 {
		t.Fatalf("got %d deltas, want 1", len(d))
	}
	if d[0].Text != "fox jumps" {
		t.Errorf("delta Text = %q, want %q", d[0].Text, "fox jumps")
	}
	if d[0].MergedText != "the quick brown fox jumps" {
		t.Errorf("delta MergedText = %q", d[0].MergedText)
	}
}

func TestEngine_DeltasConcatenateToMergedText(t *testing.T) {
	t.Parallel()

	chunks := []string{
		"Let's meet at noon.",
		"At noon, bring the notes",
		"the notes and the slides",
		"",
		"slides. Thanks everyone",
	}
	e := merge.New()
	var parts []string
	for _, d := range applyAll(e, partials(chunks...)) {
		if d.Text != "" {
			parts = append(parts, d.Text)
		}
		if got := strings.Join(parts, " "); got != d.MergedText {
			t.Fatalf("seq %d: joined deltas = %q, MergedText = %q", d.Seq, got, d.MergedText)
		}
	}
}

func TestEngine_NoUniqueWordLost(t *testing.T) {
	t.Parallel()

	// Each chunk repeats the previous chunk's last two words, then says
	// something new that shares bigrams with earlier speech.
	unique := [][]string{
		{"we", "went", "to", "the", "end", "of", "the", "road"},
		{"and", "at", "the", "end", "of", "it", "we", "turned"},
		{"back", "to", "the", "road", "we", "came", "from"},
	}
	var chunks []string
	var all []string
	for i, words := range unique {
		var chunk []string
		if i > 0 {
			prev := unique[i-1]
			chunk = append(chunk, prev[len(prev)-2:]...)
		}
		chunk = append(chunk, words...)
		chunks = append(chunks, strings.Join(chunk, " "))
		all = append(all, words...)
	}

	e := merge.New()
	applyAll(e, partials(chunks...))
	if got, want := e.Text(), strings.Join(all, " "); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestEngine_OutOfOrder(t *testing.T) {
	t.Parallel()

	e := merge.New()
	if d := e.Apply(transcript.Partial{Seq: 2, Text: "brown fox jumps", Final: true}); d != nil {
		t.Fatalf("seq 2 before seq 1 should be buffered, got %+v", d)
	}
	if st := e.State(); st.Pending != 1 || st.LastApplied != 0 {
		t.Fatalf("State = %+v, want 1 pending and nothing applied", st)
	}

	d := e.Apply(transcript.Partial{Seq: 1, Text: "the quick brown"})
	if len(d) != 2 {
		t.Fatalf("got %d deltas, want 2", len(d))
	}
	if d[0].Seq != 1 || d[1].Seq != 2 {
		t.Errorf("delta order = %d,%d, want 1,2", d[0].Seq, d[1].Seq)
	}
	if !d[1].Final || !e.Done() {
		t.Error("final delta not reported")
	}
	if got := e.Text(); got != "the quick brown fox jumps" {
		t.Errorf("Text() = %q", got)
	}
}

func TestEngine_AnyArrivalOrder(t *testing.T) {
	t.Parallel()

	ps := partials(
		"so the plan for today",
		"for today is to finish",
		"to finish the merge engine",
		"merge engine and its tests",
	)
	want := merge.New()
	applyAll(want, ps)

	for _, order := range permutations(len(ps)) {
		e := merge.New()
		for _, i := range order {
			e.Apply(ps[i])
		}
		if got := e.Text(); got != want.Text() {
			t.Errorf("order %v: Text() = %q, want %q", order, got, want.Text())
		}
		if !e.Done() {
			t.Errorf("order %v: engine not done", order)
		}
	}
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestEngine_FailedChunk(t *testing.T) {
	t.Parallel()

	e := merge.New()
	cause := errors.New("retries exhausted")
	in := []transcript.Partial{
		{Seq: 1, Text: "the quick brown"},
		{Seq: 2, Text: "brown fox jumps"},
		{Seq: 4, Text: "lazy dog", Final: true},
		{Seq: 3, Failed: true, Err: cause},
	}

	var deltas []merge.Delta
	for _, p := range in {
		deltas = append(deltas, e.Apply(p)...)
	}
	if len(deltas) != 4 {
		t.Fatalf("got %d deltas, want 4", len(deltas))
	}
	if !deltas[2].Failed || deltas[2].Text != "" {
		t.Errorf("failed delta = %+v", deltas[2])
	}
	if got, want := e.Text(), "the quick brown fox jumps lazy dog"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	st := e.State()
	if len(st.Failed) != 1 || st.Failed[0] != 3 {
		t.Errorf("Failed = %v, want [3]", st.Failed)
	}
	if !st.Final {
		t.Error("session should be final")
	}
}

func TestEngine_IgnoresDuplicatesAndStale(t *testing.T) {
	t.Parallel()

	e := merge.New()
	e.Apply(transcript.Partial{Seq: 1, Text: "hello"})
	if d := e.Apply(transcript.Partial{Seq: 1, Text: "hello again"}); d != nil {
		t.Errorf("stale seq produced deltas: %+v", d)
	}
	e.Apply(transcript.Partial{Seq: 3, Text: "three"})
	if d := e.Apply(transcript.Partial{Seq: 3, Text: "other"}); d != nil {
		t.Errorf("duplicate buffered seq produced deltas: %+v", d)
	}
	if d := e.Apply(transcript.Partial{Seq: 0, Text: "zero"}); d != nil {
		t.Errorf("seq 0 produced deltas: %+v", d)
	}
	e.Apply(transcript.Partial{Seq: 2, Text: "world"})
	if got, want := e.Text(), "hello world three"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestEngine_AfterFinal(t *testing.T) {
	t.Parallel()

	e := merge.New()
	e.Apply(transcript.Partial{Seq: 3, Text: "beyond"})
	deltas := e.Apply(transcript.Partial{Seq: 1, Text: "only", Final: true})
	if len(deltas) != 1 {
		t.Fatalf("got %d deltas, want 1", len(deltas))
	}
	if d := e.Apply(transcript.Partial{Seq: 2, Text: "late"}); d != nil {
		t.Errorf("transcript after final produced deltas: %+v", d)
	}
	if st := e.State(); st.Pending != 0 || st.MergedText != "only" {
		t.Errorf("State = %+v", st)
	}
}

func TestEngine_TailWindowBoundsRewrite(t *testing.T) {
	t.Parallel()

	// "alpha" occurs only outside a two-word tail, so it must not be matched.
	e := merge.New(merge.WithTailWords(2), merge.WithHeadSlack(0))
	e.Apply(transcript.Partial{Seq: 1, Text: "alpha beta gamma"})
	e.Apply(transcript.Partial{Seq: 2, Text: "alpha delta"})
	if got, want := e.Text(), "alpha beta gamma alpha delta"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestEngine_MinOverlapWords(t *testing.T) {
	t.Parallel()

	e := merge.New(merge.WithMinOverlapWords(2))
	e.Apply(transcript.Partial{Seq: 1, Text: "the quick brown"})
	e.Apply(transcript.Partial{Seq: 2, Text: "brown fox"})
	if got, want := e.Text(), "the quick brown brown fox"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestEngine_FuzzyEqual(t *testing.T) {
	t.Parallel()

	chunks := []string{"please update the colour palette", "colour pallete for the landing page"}
	exact := merge.New()
	applyAll(exact, partials(chunks...))
	if got := exact.Text(); got != "please update the colour palette colour pallete for the landing page" {
		t.Fatalf("exact Text() = %q", got)
	}

	m := phonetic.New()
	fuzzy := merge.New(merge.WithEqual(m.Equal))
	applyAll(fuzzy, partials(chunks...))
	if got, want := fuzzy.Text(), "please update the colour palette for the landing page"; got != want {
		t.Errorf("fuzzy Text() = %q, want %q", got, want)
	}
}

func TestEngine_ConcurrentApply(t *testing.T) {
	t.Parallel()

	const n = 50
	ps := make([]transcript.Partial, n)
	for i := range ps {
		ps[i] = transcript.Partial{Seq: uint64(i + 1), Text: fmt.Sprintf("word%d", i+1)}
	}
	ps[n-1].Final = true

	e := merge.New()
	done := make(chan struct{})
	for i := n - 1; i >= 0; i-- {
		go func(p transcript.Partial) {
			e.Apply(p)
			done <- struct{}{}
		}(ps[i])
	}
	for range n {
		<-done
	}

	if !e.Done() {
		t.Fatal("engine not done")
	}
	if got := e.LastApplied(); got != n {
		t.Errorf("LastApplied() = %d, want %d", got, n)
	}
	want := ""
	for i := range n {
		if i > 0 {
			want += " "
		}
		want += fmt.Sprintf("word%d", i+1)
	}
	if got := e.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}
