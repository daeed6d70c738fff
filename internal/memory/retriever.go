package memory

import (
	"sort"
	"strings"
	"time"
)

// DefaultLimit caps search results when the caller passes no limit.
const DefaultLimit = 5

// rank scores candidates against query and keeps the best limit.
// Scoring: word match × 2 + substring match × 1 + recency bonus. Entities
// matching no query word are dropped; an empty query ranks by recency.
func rank(candidates []Entity, query string, limit int, now time.Time) []Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	queryWords := tokenize(query)

	var results []Result
	for _, e := range candidates {
		score, ok := scoreEntity(e, queryWords)
		if !ok {
			continue
		}
		score += recencyBonus(now.Sub(e.CreatedAt))
		results = append(results, Result{Entity: e, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func scoreEntity(e Entity, queryWords []string) (float64, bool) {
	if len(queryWords) == 0 {
		return 0, true
	}
	lower := strings.ToLower(e.Content)
	words := make(map[string]bool)
	for _, w := range tokenize(e.Content) {
		words[w] = true
	}

	var score float64
	for _, qw := range queryWords {
		switch {
		case words[qw]:
			score += 2.0
		case strings.Contains(lower, qw):
			score += 1.0
		}
	}
	return score, score > 0
}

// recencyBonus favours recently learned facts.
func recencyBonus(age time.Duration) float64 {
	days := age.Hours() / 24
	switch {
	case days < 7:
		return 1.0
	case days < 30:
		return 0.5
	default:
		return 0.1
	}
}

// tokenize splits a string into lowercase words.
func tokenize(s string) []string {
	words := strings.Fields(strings.ToLower(s))
	result := make([]string, 0, len(words))
	for _, w := range words {
		// Strip common punctuation
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if len(w) > 1 {
			result = append(result, w)
		}
	}
	return result
}
