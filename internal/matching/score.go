// Package matching pairs waiting users.
//
// Score is directional: the interest term is normalised by the seeker's own
// interest count, so Score(a, b) and Score(b, a) differ when the two users
// list a different number of interests.
package matching

import (
	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
)

const (
	languageWeight   = 0.3
	interestWeight   = 0.4
	ageOverlapWeight = 0.3
	ageUnknownWeight = 0.1
)

// Score rates how well b suits a, in [0, 1].
func Score(a, b models.Preferences) float64 {
	score := 0.0

	if a.Language == b.Language {
		score += languageWeight
	}

	score += interestWeight * interestOverlap(a.Interests, b.Interests)

	switch {
	case a.AgeRange == nil || b.AgeRange == nil:
		score += ageUnknownWeight
	case a.AgeRange.Overlaps(*b.AgeRange):
		score += ageOverlapWeight
	}

	if score > 1 {
		score = 1
	}
	return score
}

// interestOverlap is |A∩B| / max(|A|, 1) over the distinct tags of A.
func interestOverlap(a, b []string) float64 {
	inB := make(map[string]struct{}, len(b))
	for _, t := range b {
		inB[t] = struct{}{}
	}
	seen := make(map[string]struct{}, len(a))
	common := 0
	for _, t := range a {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := inB[t]; ok {
			common++
		}
	}
	n := len(seen)
	if n < 1 {
		n = 1
	}
	return float64(common) / float64(n)
}

// GenderCompatible requires each side's preference to accept the other's gender.
func GenderCompatible(a, b Candidate) bool {
	return accepts(a.Preferences.GenderPreference, b.Gender) &&
		accepts(b.Preferences.GenderPreference, a.Gender)
}

func accepts(pref, g models.Gender) bool {
	return pref == "" || pref == models.GenderAny || pref == g
}
