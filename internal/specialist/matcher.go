package specialist

import (
	"engagement-platform/internal/customer"
)

const (
	AvailabilityBonus    = 30.0
	PerformanceBonus     = 20.0
	PerformanceThreshold = 4.0
)

// Score = industry weight (if the specialist covers the customer's segment)
// + availability bonus (if it has capacity) + performance bonus (satisfaction >= threshold).
func Score(s Specialist, c customer.Customer) float64 {
	var score float64
	if s.Specializes(c.Industry) || s.Specializes(c.BusinessType) {
		score += s.IndustryWeight
	}
	if s.HasCapacity() {
		score += AvailabilityBonus
	}
	if s.Satisfaction >= PerformanceThreshold {
		score += PerformanceBonus
	}
	return score
}

// Match is the result of BestMatch. Found=false when no candidate is active.
type Match struct {
	Specialist Specialist `json:"specialist"`
	Score      float64    `json:"score"`
	Found      bool       `json:"found"`
	// Fallback is set when no candidate had capacity.
	Fallback bool `json:"fallback"`
}

// BestMatch picks the highest-scoring candidate with capacity; ties go to the earlier
// candidate. With no capacity anywhere it falls back to the best active candidate.
func BestMatch(candidates []Specialist, c customer.Customer) Match {
	ranked := Rank(candidates, c)
	if len(ranked) > 0 {
		return ranked[0]
	}
	return Fallback(candidates, c)
}

// Rank returns the active candidates with capacity, best first, ties in input order.
func Rank(candidates []Specialist, c customer.Customer) []Match {
	var out []Match
	for _, s := range candidates {
		if !s.Active || !s.HasCapacity() {
			continue
		}
		m := Match{Specialist: s, Score: Score(s, c), Found: true}
		// Insertion keeps earlier candidates ahead on equal score.
		i := len(out)
		for i > 0 && out[i-1].Score < m.Score {
			i--
		}
		out = append(out, Match{})
		copy(out[i+1:], out[i:])
		out[i] = m
	}
	return out
}

// Fallback ignores capacity and picks the best active candidate. Inactive specialists
// are never returned.
func Fallback(candidates []Specialist, c customer.Customer) Match {
	var best Match
	for _, s := range candidates {
		if !s.Active {
			continue
		}
		sc := Score(s, c)
		if !best.Found || sc > best.Score {
			best = Match{Specialist: s, Score: sc, Found: true, Fallback: true}
		}
	}
	return best
}
