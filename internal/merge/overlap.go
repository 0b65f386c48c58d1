package merge

import "github.com/MrWong99/dictate/internal/transcript"

// match describes the longest common contiguous run of words between the
// tail of the merged text and the head of an incoming transcript.
type match struct {
	// length is the number of matched words. Zero means no overlap.
	length int

	// tailEnd is the index in the tail of the last matched word.
	tailEnd int

	// headEnd is the index in the incoming words of the last matched word.
	headEnd int
}

func (m match) tailStart() int { return m.tailEnd - m.length + 1 }
func (m match) headStart() int { return m.headEnd - m.length + 1 }

// longestOverlap finds the longest run of words that appears contiguously in
// both tail and head, comparing normalised forms with eq.
//
// Only runs anchored at the chunk boundary are considered: the run must end
// within slack words of the end of tail and start within slack words of the
// start of head. A shared phrase further away is a coincidence, not audio
// both chunks heard. Words of head before the run are dropped with it, so
// each must also occur in the tail from slack words before the run onwards;
// otherwise they are new speech and the run is not accepted.
//
// Ties prefer the run ending latest in the tail, then the run starting
// earliest in head.
func longestOverlap(tail, head []transcript.Word, slack int, eq func(a, b string) bool) match {
	if len(tail) == 0 || len(head) == 0 {
		return match{}
	}

	// prev[j+1] holds the run length ending at tail[i-1], head[j].
	prev := make([]int, len(head)+1)
	cur := make([]int, len(head)+1)

	minTailEnd := len(tail) - 1 - slack
	var best match
	for i := range tail {
		for j := range head {
			if !eq(tail[i].Norm, head[j].Norm) {
				cur[j+1] = 0
				continue
			}
			n := prev[j] + 1
			cur[j+1] = n

			cand := match{length: n, tailEnd: i, headEnd: j}
			if i < minTailEnd || cand.headStart() > slack || !leadCovered(tail, head, cand, slack, eq) {
				continue
			}
			if better(cand, best) {
				best = cand
			}
		}
		prev, cur = cur, prev
	}
	return best
}

// leadCovered reports whether every word of head before m's run also
// appears in tail within slack words before the run or later.
func leadCovered(tail, head []transcript.Word, m match, slack int, eq func(a, b string) bool) bool {
	near := tail[max(m.tailStart()-slack, 0):]
	for _, w := range head[:m.headStart()] {
		found := false
		for _, t := range near {
			if eq(t.Norm, w.Norm) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// better reports whether a should replace b as the best match.
func better(a, b match) bool {
	if a.length != b.length {
		return a.length > b.length
	}
	if a.tailEnd != b.tailEnd {
		return a.tailEnd > b.tailEnd
	}
	return a.headStart() < b.headStart()
}
