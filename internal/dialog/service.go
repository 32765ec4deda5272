// Package dialog drives live conversations through branching dialog trees.
package dialog

import (
	"context"
	"errors"
	"fmt"

	"engagement-platform/internal/customer"
)

// CustomerSource is the read-only customer lookup the service needs.
type CustomerSource interface {
	Get(ctx context.Context, id string) (customer.Customer, error)
}

// Service binds the executor to persistence.
type Service struct {
	repo      Repository
	customers CustomerSource
	exec      *Executor
}

func NewService(repo Repository, customers CustomerSource, exec *Executor) *Service {
	return &Service{repo: repo, customers: customers, exec: exec}
}

// TreeFor picks the active tree for trigger. A tree restricted to the customer's stage
// beats an unrestricted one; otherwise declaration order decides.
func (s *Service) TreeFor(ctx context.Context, trigger string, c customer.Customer) (Tree, error) {
	trees, err := s.repo.Trees(ctx)
	if err != nil {
		return Tree{}, err
	}
	var generic *Tree
	for i := range trees {
		t := trees[i]
		if !t.Active || t.Trigger != trigger {
			continue
		}
		if t.PipelineStage == "" {
			if generic == nil {
				generic = &trees[i]
			}
			continue
		}
		if t.PipelineStage == c.PipelineStage {
			return t, nil
		}
	}
	if generic != nil {
		return *generic, nil
	}
	return Tree{}, ErrNoTree
}

// Start opens a new execution for the customer on the tree matching trigger.
func (s *Service) Start(ctx context.Context, trigger string, c customer.Customer) (Turn, error) {
	tree, err := s.TreeFor(ctx, trigger, c)
	if err != nil {
		return Turn{}, err
	}
	turn, err := s.exec.Start(ctx, tree, c)
	if err != nil {
		return Turn{}, err
	}
	turn.Execution.Version = 1
	if err := s.repo.CreateExecution(ctx, turn.Execution); err != nil {
		return Turn{}, err
	}
	return s.apply(ctx, c, turn)
}

// Advance applies one utterance. A concurrent writer makes this return ErrConflict;
// the caller may reload and retry.
func (s *Service) Advance(ctx context.Context, executionID, utterance string) (Turn, error) {
	e, tree, c, err := s.load(ctx, executionID)
	if err != nil {
		return Turn{}, err
	}
	turn, err := s.exec.Advance(ctx, tree, e, c, utterance)
	if err != nil {
		return turn, err
	}
	return s.commit(ctx, c, turn, e.Version)
}

func (s *Service) Collect(ctx context.Context, executionID, key, value string) (Execution, error) {
	e, err := s.repo.Execution(ctx, executionID)
	if err != nil {
		return Execution{}, err
	}
	next, err := s.exec.Collect(e, key, value)
	if err != nil {
		return Execution{}, err
	}
	turn, err := s.save(ctx, Turn{Execution: next}, e.Version)
	return turn.Execution, err
}

func (s *Service) Escalate(ctx context.Context, executionID, reason string) (Turn, error) {
	e, _, c, err := s.load(ctx, executionID)
	if err != nil {
		return Turn{}, err
	}
	turn, err := s.exec.Escalate(ctx, e, c, reason)
	if err != nil {
		return turn, err
	}
	return s.commit(ctx, c, turn, e.Version)
}

// ActiveFor returns the customer's in-progress execution, ErrNotFound if none.
func (s *Service) ActiveFor(ctx context.Context, customerID string) (Execution, error) {
	return s.repo.ActiveExecution(ctx, customerID)
}

func (s *Service) Execution(ctx context.Context, id string) (Execution, error) {
	return s.repo.Execution(ctx, id)
}

func (s *Service) load(ctx context.Context, executionID string) (Execution, Tree, customer.Customer, error) {
	e, err := s.repo.Execution(ctx, executionID)
	if err != nil {
		return Execution{}, Tree{}, customer.Customer{}, err
	}
	if !e.Open() {
		return e, Tree{}, customer.Customer{}, ErrExecutionClosed
	}
	tree, err := s.repo.Tree(ctx, e.TreeID)
	if err != nil {
		// The tree was removed under a live execution; the executor escalates on the
		// missing node.
		if !errors.Is(err, ErrNotFound) {
			return Execution{}, Tree{}, customer.Customer{}, err
		}
		tree = Tree{ID: e.TreeID}
	}
	c, err := s.customers.Get(ctx, e.CustomerID)
	if err != nil {
		return Execution{}, Tree{}, customer.Customer{}, fmt.Errorf("customer %s: %w", e.CustomerID, err)
	}
	return e, tree, c, nil
}

func (s *Service) save(ctx context.Context, turn Turn, expected int) (Turn, error) {
	turn.Execution.Version = expected + 1
	if err := s.repo.SaveExecution(ctx, turn.Execution, expected); err != nil {
		return Turn{}, err
	}
	return turn, nil
}

// commit persists the turn and only then runs its side effects. A turn that loses the
// version check is dropped whole.
func (s *Service) commit(ctx context.Context, c customer.Customer, turn Turn, expected int) (Turn, error) {
	saved, err := s.save(ctx, turn, expected)
	if err != nil {
		return Turn{}, err
	}
	return s.apply(ctx, c, saved)
}

// apply runs the side effects of a stored turn. Routing writes the assignment onto the
// execution, which is saved again.
func (s *Service) apply(ctx context.Context, c customer.Customer, turn Turn) (Turn, error) {
	routes := turn.routes()
	turn = s.exec.Apply(ctx, c, turn)
	if !routes {
		return turn, nil
	}
	return s.save(ctx, turn, turn.Execution.Version)
}
