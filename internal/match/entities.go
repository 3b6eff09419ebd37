// entities.go extracts names, dates, and domain events from market
// questions and scores the overlap between two extractions.
package match

import (
	"regexp"
	"strings"
)

// Entities is the intermediate extraction result used only by the engine.
type Entities struct {
	Names  []string // consecutive capitalized tokens, e.g. "Donald Trump"
	Dates  []string // years and month-day-year phrases
	Events []string // hits from the domain event vocabulary
}

const monthNames = `January|February|March|April|May|June|July|August|September|October|November|December`

var (
	nameRe      = regexp.MustCompile(`[A-Z][a-z]+(?: [A-Z][a-z]+)+`)
	yearRe      = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	monthDayRe  = regexp.MustCompile(`\b(?:` + monthNames + `) \d{1,2},? \d{4}\b`)
	monthYearRe = regexp.MustCompile(`\b(?:` + monthNames + `) \d{4}\b`)
)

// eventVocabulary is the fixed domain keyword set matched against the
// lowercased question.
var eventVocabulary = []string{
	"election", "championship", "win", "lose", "resign", "launch",
	"approve", "reject", "pass", "sign", "release", "announce",
	"merger", "acquisition", "ipo", "halving", "shutdown", "ceasefire",
	"invasion", "impeachment", "nomination", "debate", "verdict",
	"indictment", "strike", "default", "recession", "landfall",
	"finals", "medal",
}

// ExtractEntities pulls names, dates, and events out of a question.
// Each category is deduplicated; order follows first appearance.
func ExtractEntities(question string) Entities {
	e := Entities{
		Names: dedup(nameRe.FindAllString(question, -1)),
	}

	var dates []string
	dates = append(dates, yearRe.FindAllString(question, -1)...)
	dates = append(dates, monthDayRe.FindAllString(question, -1)...)
	dates = append(dates, monthYearRe.FindAllString(question, -1)...)
	e.Dates = dedup(dates)

	lower := strings.ToLower(question)
	var events []string
	for _, kw := range eventVocabulary {
		if strings.Contains(lower, kw) {
			events = append(events, kw)
		}
	}
	e.Events = dedup(events)
	return e
}

// entityScore compares two extractions. Per category the score is
// |matches| / max(|E1|, |E2|), where a match is case-insensitive equality
// or substring containment either direction. Categories empty on both
// sides are skipped; the rest contribute a weighted mean (names 0.4,
// dates 0.4, events 0.2). No contributing category means 0.
func entityScore(e1, e2 Entities) float64 {
	type weighted struct {
		score, weight float64
	}
	var parts []weighted

	if s, ok := categoryScore(e1.Names, e2.Names); ok {
		parts = append(parts, weighted{s, 0.4})
	}
	if s, ok := categoryScore(e1.Dates, e2.Dates); ok {
		parts = append(parts, weighted{s, 0.4})
	}
	if s, ok := categoryScore(e1.Events, e2.Events); ok {
		parts = append(parts, weighted{s, 0.2})
	}

	if len(parts) == 0 {
		return 0
	}
	var sum, wsum float64
	for _, p := range parts {
		sum += p.score * p.weight
		wsum += p.weight
	}
	return sum / wsum
}

// categoryScore scores one entity category. ok is false when both sides
// are empty (category skipped).
func categoryScore(a, b []string) (float64, bool) {
	if len(a) == 0 && len(b) == 0 {
		return 0, false
	}
	if len(a) == 0 || len(b) == 0 {
		return 0, true
	}

	matches := 0
	for _, x := range a {
		for _, y := range b {
			if entityMatch(x, y) {
				matches++
				break
			}
		}
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return float64(matches) / float64(maxLen), true
}

func entityMatch(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	return la == lb || strings.Contains(la, lb) || strings.Contains(lb, la)
}

func dedup(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
