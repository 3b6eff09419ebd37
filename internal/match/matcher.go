// matcher.go scores pairwise market similarity and groups markets into
// unified clusters.
package match

import (
	"math"
	"regexp"
	"strings"
	"time"

	"marketfuse/pkg/types"
)

// DefaultThreshold is the clustering cutoff: pairs scoring at or above it
// are considered the same real-world question.
const DefaultThreshold = 0.85

// stopWords are removed from questions before edit-distance comparison.
var stopWords = map[string]bool{
	"will": true, "the": true, "a": true, "an": true, "be": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"for": true, "by": true,
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// ConfidenceCache memoizes pairwise confidences across aggregation passes.
// Keys are unordered id pairs. A nil cache disables memoization.
type ConfidenceCache interface {
	GetConfidence(id1, id2 string) (float64, bool)
	SetConfidence(id1, id2 string, confidence float64)
}

// Matcher groups normalized markets from all venues into unified clusters.
type Matcher struct {
	threshold float64
	cache     ConfidenceCache
}

// New creates a matcher with the given threshold (0 means DefaultThreshold)
// and optional confidence cache.
func New(threshold float64, cache ConfidenceCache) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold, cache: cache}
}

// normalizeQuestion lowercases, strips non-alphanumerics, collapses
// whitespace, and removes stop words.
func normalizeQuestion(q string) string {
	q = nonAlnumRe.ReplaceAllString(strings.ToLower(q), " ")
	fields := strings.Fields(q)
	kept := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

// TextSimilarity scores two questions in [0,1] via normalized edit
// distance: 1 - d / max(len). Both empty after normalization means 1,
// exactly one empty means 0.
func TextSimilarity(q1, q2 string) float64 {
	n1 := []rune(normalizeQuestion(q1))
	n2 := []rune(normalizeQuestion(q2))

	if len(n1) == 0 && len(n2) == 0 {
		return 1.0
	}
	if len(n1) == 0 || len(n2) == 0 {
		return 0.0
	}

	d := levenshtein(n1, n2)
	maxLen := len(n1)
	if len(n2) > maxLen {
		maxLen = len(n2)
	}
	return clamp01(1 - float64(d)/float64(maxLen))
}

// DateScore compares resolution dates. Both missing scores 1.0, one
// missing 0.5; otherwise the score steps down with the gap in days.
func DateScore(d1, d2 *time.Time) float64 {
	if d1 == nil && d2 == nil {
		return 1.0
	}
	if d1 == nil || d2 == nil {
		return 0.5
	}
	days := math.Abs(d1.Sub(*d2).Hours()) / 24
	switch {
	case days == 0:
		return 1.0
	case days <= 1:
		return 0.9
	case days <= 7:
		return 0.7
	case days <= 30:
		return 0.5
	default:
		return 0.0
	}
}

// Confidence blends text similarity (0.5), entity overlap (0.3), and date
// proximity (0.2) into the final match score. Symmetric in its arguments.
func Confidence(m1, m2 types.NormalizedMarket) float64 {
	text := TextSimilarity(m1.Question, m2.Question)
	entity := entityScore(ExtractEntities(m1.Question), ExtractEntities(m2.Question))
	date := DateScore(m1.EndDate, m2.EndDate)
	return clamp01(0.5*text + 0.3*entity + 0.2*date)
}

// confidence consults the memo cache before computing.
func (m *Matcher) confidence(a, b types.NormalizedMarket) float64 {
	if m.cache != nil {
		if c, ok := m.cache.GetConfidence(a.ID, b.ID); ok {
			return c
		}
	}
	c := Confidence(a, b)
	if m.cache != nil {
		m.cache.SetConfidence(a.ID, b.ID, c)
	}
	return c
}

// Cluster groups markets into unified clusters. For each unprocessed
// market in input order it scans the subsequent unprocessed markets from
// other venues and absorbs every one scoring at or above the threshold.
// Two markets from the same venue never share a cluster; transitive
// merge conflicts resolve first-wins by input order.
func (m *Matcher) Cluster(markets []types.NormalizedMarket) []types.UnifiedMarket {
	if len(markets) == 0 {
		return nil
	}

	processed := make([]bool, len(markets))
	var out []types.UnifiedMarket

	for i, seed := range markets {
		if processed[i] {
			continue
		}
		processed[i] = true

		members := []types.NormalizedMarket{seed}
		venues := map[types.Venue]bool{seed.Venue: true}
		var confidences []float64

		for j := i + 1; j < len(markets); j++ {
			if processed[j] {
				continue
			}
			cand := markets[j]
			if venues[cand.Venue] {
				continue
			}
			c := m.confidence(seed, cand)
			if c >= m.threshold {
				members = append(members, cand)
				venues[cand.Venue] = true
				processed[j] = true
			}
		}

		// Mean of all pairwise confidences within the final cluster.
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				confidences = append(confidences, m.confidence(members[a], members[b]))
			}
		}

		out = append(out, buildUnified(members, confidences))
	}
	return out
}

// buildUnified assembles the base cluster record: id, canonical question,
// category, resolution date, membership, and match confidence. Derived
// metrics (volume, best price, arbitrage, routing) are the aggregator's
// job.
func buildUnified(members []types.NormalizedMarket, confidences []float64) types.UnifiedMarket {
	ids := make([]string, len(members))
	memberMap := make(map[types.Venue]types.NormalizedMarket, len(members))
	for i, mem := range members {
		ids[i] = mem.ID
		memberMap[mem.Venue] = mem
	}

	u := types.UnifiedMarket{
		UnifiedID:         types.UnifiedID(ids),
		CanonicalQuestion: canonicalQuestion(members),
		Category:          pickCategory(members),
		ResolutionDate:    earliestDate(members),
		Members:           memberMap,
		MatchConfidence:   1.0,
		CriteriaMismatch:  datesMismatch(members),
	}
	if len(confidences) > 0 {
		var sum float64
		for _, c := range confidences {
			sum += c
		}
		u.MatchConfidence = sum / float64(len(confidences))
	}
	return u
}

// canonicalQuestion picks the longest member question, breaking length
// ties lexicographically.
func canonicalQuestion(members []types.NormalizedMarket) string {
	best := ""
	for _, m := range members {
		if len(m.Question) > len(best) || (len(m.Question) == len(best) && m.Question < best) {
			best = m.Question
		}
	}
	return best
}

// pickCategory prefers any specific category over Other.
func pickCategory(members []types.NormalizedMarket) types.Category {
	for _, m := range members {
		if m.Category != types.CategoryOther && m.Category != "" {
			return m.Category
		}
	}
	return types.CategoryOther
}

// earliestDate returns the earliest valid resolution date among members.
func earliestDate(members []types.NormalizedMarket) *time.Time {
	var earliest *time.Time
	for _, m := range members {
		if m.EndDate == nil {
			continue
		}
		if earliest == nil || m.EndDate.Before(*earliest) {
			d := *m.EndDate
			earliest = &d
		}
	}
	return earliest
}

// datesMismatch flags clusters whose members disagree on resolution date
// by more than 7 days. A warning for consumers, not an error.
func datesMismatch(members []types.NormalizedMarket) bool {
	var dates []time.Time
	for _, m := range members {
		if m.EndDate != nil {
			dates = append(dates, *m.EndDate)
		}
	}
	for i := 0; i < len(dates); i++ {
		for j := i + 1; j < len(dates); j++ {
			if math.Abs(dates[i].Sub(dates[j]).Hours()) > 7*24 {
				return true
			}
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
