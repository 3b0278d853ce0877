// Package chunker splits a context blob into overlapping, sentence-boundary
// aware text windows. It holds no state: Split is a pure function.
package chunker

const (
	// WindowSize is the target chunk length in characters.
	WindowSize = 3500
	// Overlap is 15% of WindowSize, the minimum guaranteed overlap between
	// consecutive chunks.
	Overlap = 525
	// boundaryThreshold is the fraction of the window a sentence-ending
	// boundary must clear to be preferred over the hard cutoff.
	boundaryThreshold = 0.5
)

// Split produces an ordered list of overlapping chunks from text. An empty
// input yields an empty slice. Inputs no longer than WindowSize are returned
// as a single chunk equal to the input.
func Split(text string) []string {
	if text == "" {
		return []string{}
	}
	runes := []rune(text)
	if len(runes) <= WindowSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	textLen := len(runes)

	for start < textLen {
		end := start + WindowSize
		if end >= textLen {
			chunks = append(chunks, string(runes[start:textLen]))
			break
		}

		end = sentenceBoundary(runes, start, end)
		chunks = append(chunks, string(runes[start:end]))

		next := end - Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// sentenceBoundary looks backward from hardEnd within [start, hardEnd) for
// the latest '.', '!' or '?'. If that boundary falls beyond half the window
// it is used as the chunk end (inclusive of the punctuation); otherwise the
// hard cutoff stands.
func sentenceBoundary(text []rune, start, hardEnd int) int {
	minBoundary := start + int(float64(hardEnd-start)*boundaryThreshold)

	for i := hardEnd - 1; i > minBoundary; i-- {
		switch text[i] {
		case '.', '!', '?':
			return i + 1
		}
	}

	return hardEnd
}
