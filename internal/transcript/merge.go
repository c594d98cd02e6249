// Package transcript joins per-chunk transcription results into one continuous
// text. Adjacent audio chunks share a short overlap window, so consecutive
// transcripts usually repeat a few words at the seam; the merge drops the
// repeated words by exact lexical match.
package transcript

import "strings"

// DefaultWindow is the number of words compared at each chunk seam.
const DefaultWindow = 20

// Merge concatenates chunk transcripts in order, removing the duplicated words
// the chunk overlap produces. For each chunk after the first, the largest k
// (bounded by window) is found such that the last k words of the accumulated
// text equal the first k words of the chunk; those k leading words are dropped
// before appending. A deduplicated seam continues mid-sentence, so the
// remainder is joined with a single space; only chunks with no overlap at all
// are separated by a blank line.
func Merge(chunks []string, window int) string {
	if window <= 0 {
		window = DefaultWindow
	}
	var acc string
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		if acc == "" {
			acc = chunk
			continue
		}
		sep := "\n\n"
		if k := overlapWords(acc, chunk, window); k > 0 {
			chunk = dropLeadingWords(chunk, k)
			if chunk == "" {
				continue
			}
			sep = " "
		}
		acc += sep + chunk
	}
	return acc
}

// overlapWords returns the largest k <= window such that the last k normalized
// words of acc equal the first k normalized words of next.
func overlapWords(acc, next string, window int) int {
	tail := lastWords(words(acc), window)
	head := firstWords(words(next), window)
	max := len(tail)
	if len(head) < max {
		max = len(head)
	}
	for k := max; k > 0; k-- {
		if wordsEqual(tail[len(tail)-k:], head[:k]) {
			return k
		}
	}
	return 0
}

// words splits on whitespace after normalizing non-breaking spaces; transcription
// services are inconsistent about them.
func words(s string) []string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.Fields(s)
}

func lastWords(ws []string, n int) []string {
	if len(ws) <= n {
		return ws
	}
	return ws[len(ws)-n:]
}

func firstWords(ws []string, n int) []string {
	if len(ws) <= n {
		return ws
	}
	return ws[:n]
}

func wordsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// dropLeadingWords removes the first k whitespace-separated words from s,
// preserving the remainder's internal spacing.
func dropLeadingWords(s string, k int) string {
	s = strings.ReplaceAll(s, " ", " ")
	rest := strings.TrimLeft(s, " \t\r\n")
	for i := 0; i < k; i++ {
		cut := strings.IndexAny(rest, " \t\r\n")
		if cut < 0 {
			return ""
		}
		rest = strings.TrimLeft(rest[cut:], " \t\r\n")
	}
	return strings.TrimSpace(rest)
}
