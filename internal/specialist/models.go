package specialist

import (
	"strings"
	"time"
)

// Kind distinguishes AI personalities from human handlers. Matching treats them alike.
type Kind string

const (
	KindAI    Kind = "ai"
	KindHuman Kind = "human"
)

// Specialist is a handler a customer can be matched to.
type Specialist struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"kind" yaml:"kind"`

	Industries []string `json:"industries,omitempty" yaml:"industries"`
	// IndustryWeight is added to the score when the customer's segment is in Industries.
	IndustryWeight float64 `json:"industry_weight" yaml:"industry_weight"`

	Available bool `json:"available" yaml:"available"`
	Active    bool `json:"active" yaml:"active"`

	CurrentCustomers int `json:"current_customers" yaml:"-"`
	MaxCustomers     int `json:"max_customers" yaml:"max_customers"`

	// Satisfaction is on a 0-5 scale.
	Satisfaction float64 `json:"satisfaction" yaml:"satisfaction"`
}

// HasCapacity is the "available" test used for scoring: flagged available and under its cap.
func (s Specialist) HasCapacity() bool {
	return s.Available && s.CurrentCustomers < s.MaxCustomers
}

func (s Specialist) Specializes(segment string) bool {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return false
	}
	for _, i := range s.Industries {
		if strings.EqualFold(strings.TrimSpace(i), segment) {
			return true
		}
	}
	return false
}

type AssignmentStatus string

const (
	AssignmentActive   AssignmentStatus = "active"
	AssignmentInactive AssignmentStatus = "inactive"
)

// Assignment pairs a specialist with a customer. Never deleted; ends as inactive.
type Assignment struct {
	ID           string           `json:"id" db:"id"`
	SpecialistID string           `json:"specialist_id" db:"specialist_id"`
	CustomerID   string           `json:"customer_id" db:"customer_id"`
	Status       AssignmentStatus `json:"status" db:"status"`
	Score        float64          `json:"score" db:"score"`
	Fallback     bool             `json:"fallback" db:"fallback"`

	Interactions      int        `json:"interactions" db:"interactions"`
	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty" db:"last_interaction_at"`

	AssignedAt time.Time  `json:"assigned_at" db:"assigned_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}
