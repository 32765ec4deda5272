package objection

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("objection: handler not found")
	ErrInvalidArgument = errors.New("objection: invalid argument")
)

// Repository stores handlers and their encounter log.
// UpdateHandler must be atomic per handler id.
type Repository interface {
	SaveHandler(ctx context.Context, h Handler) error
	Handlers(ctx context.Context) ([]Handler, error)
	UpdateHandler(ctx context.Context, id string, fn func(Handler) Handler) (Handler, error)

	AppendEncounter(ctx context.Context, e Encounter) error
	Encounters(ctx context.Context, handlerID string) ([]Encounter, error)
}
