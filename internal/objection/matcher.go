package objection

import (
	"sort"
	"strings"
)

// FindMatch returns the first active handler, by priority descending then input order,
// whose trigger phrase or any keyword is a case-insensitive substring of statement.
// Handlers restricted to other industries are passed over. First match wins.
func FindMatch(handlers []Handler, statement, industry string) (Handler, bool) {
	s := strings.ToLower(strings.TrimSpace(statement))
	if s == "" {
		return Handler{}, false
	}
	industry = strings.TrimSpace(industry)

	ordered := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if h.Active {
			ordered = append(ordered, h)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	for _, h := range ordered {
		if !h.allows(industry) {
			continue
		}
		if containsFold(s, h.TriggerPhrase) {
			return h, true
		}
		for _, k := range h.Keywords {
			if containsFold(s, k) {
				return h, true
			}
		}
	}
	return Handler{}, false
}

// containsFold reports whether lowered s contains needle; an empty needle never matches.
func containsFold(s, needle string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	return needle != "" && strings.Contains(s, needle)
}

// RecordUsage applies r' = r*0.9 + (success ? 10 : 0) and counts the use.
// The recurrence is kept exact; ranking downstream depends on its shape.
func RecordUsage(h Handler, success bool) Handler {
	h.SuccessRate = h.SuccessRate * 0.9
	if success {
		h.SuccessRate += 10
	}
	h.UsageCount++
	return h
}
