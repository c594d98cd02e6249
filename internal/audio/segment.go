package audio

// span is one planned cut of the normalized file.
type span struct {
	start   float64
	seconds float64
}

// planSegments decides whether the normalized file needs splitting and, if so,
// returns the chunk spans. Each chunk after the first starts overlapSeconds
// early so adjacent transcripts share words the merge can deduplicate. A nil
// return means the whole file is used as a single chunk.
func planSegments(duration float64, size int64, chunkSeconds, overlapSeconds float64, maxBytes int64) []span {
	if duration <= 0 {
		// Unknown duration: no safe cut points.
		return nil
	}
	if duration <= chunkSeconds && size <= maxBytes {
		return nil
	}
	if overlapSeconds >= chunkSeconds {
		overlapSeconds = 0
	}

	var spans []span
	for pos := 0.0; pos < duration; pos += chunkSeconds {
		start := pos
		end := pos + chunkSeconds
		if end > duration {
			end = duration
		}
		if len(spans) > 0 {
			start -= overlapSeconds
		}
		spans = append(spans, span{start: start, seconds: end - start})
	}
	return spans
}
