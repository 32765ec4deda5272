// Package objection matches customer pushback against canned handlers and tracks how
// well each handler performs.
package objection

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Match runs FindMatch over the current handler registry.
func (s *Service) Match(ctx context.Context, statement, industry string) (Handler, bool, error) {
	hs, err := s.repo.Handlers(ctx)
	if err != nil {
		return Handler{}, false, err
	}
	h, ok := FindMatch(hs, statement, industry)
	return h, ok, nil
}

// Outcome reports how a surfaced handler response landed.
type Outcome struct {
	CustomerID  string
	HandlerID   string
	ExecutionID string
	Statement   string
	Response    string
	Success     bool
}

// RecordOutcome appends the encounter and folds the result into the handler's success rate.
func (s *Service) RecordOutcome(ctx context.Context, o Outcome) (Handler, Encounter, error) {
	if strings.TrimSpace(o.HandlerID) == "" || strings.TrimSpace(o.CustomerID) == "" {
		return Handler{}, Encounter{}, ErrInvalidArgument
	}
	h, err := s.repo.UpdateHandler(ctx, o.HandlerID, func(cur Handler) Handler {
		return RecordUsage(cur, o.Success)
	})
	if err != nil {
		return Handler{}, Encounter{}, err
	}
	e := Encounter{
		ID:          uuid.NewString(),
		CustomerID:  o.CustomerID,
		HandlerID:   o.HandlerID,
		ExecutionID: o.ExecutionID,
		Statement:   o.Statement,
		Response:    o.Response,
		Success:     o.Success,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.repo.AppendEncounter(ctx, e); err != nil {
		return h, Encounter{}, err
	}
	return h, e, nil
}

func (s *Service) Handlers(ctx context.Context) ([]Handler, error) {
	return s.repo.Handlers(ctx)
}
