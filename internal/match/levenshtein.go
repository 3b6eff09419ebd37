// Package match implements the deterministic matching engine that decides
// when two per-venue market records describe the same real-world question.
//
// The engine is pure — no I/O, no randomness — so every match decision is
// explainable: a weighted blend of normalized-text edit distance, extracted
// entity overlap, and resolution-date proximity.
package match

// levenshtein returns the edit distance between two rune slices using the
// classic two-row dynamic program. O(len(a)*len(b)) time, O(min) space.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	if len(a) < len(b) {
		a, b = b, a
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Levenshtein returns the edit distance between two strings.
func Levenshtein(s1, s2 string) int {
	return levenshtein([]rune(s1), []rune(s2))
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
