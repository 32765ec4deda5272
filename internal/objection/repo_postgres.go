package objection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"engagement-platform/pkg/utils"
)

// PostgresRepo stores handlers in `objection_handlers` (keywords and industries as JSONB)
// and encounters in the insert-only `objection_encounters`.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const handlerColumns = `id, trigger_phrase, keywords, response, follow_up, next_action, priority,
       industries, success_rate, usage_count, active`

func (r *PostgresRepo) SaveHandler(ctx context.Context, h Handler) error {
	kw, _ := json.Marshal(nonNil(h.Keywords))
	ind, _ := json.Marshal(nonNil(h.Industries))
	const q = `
INSERT INTO objection_handlers (id, trigger_phrase, keywords, response, follow_up, next_action,
                                priority, industries, success_rate, usage_count, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET trigger_phrase = EXCLUDED.trigger_phrase,
                               keywords = EXCLUDED.keywords,
                               response = EXCLUDED.response,
                               follow_up = EXCLUDED.follow_up,
                               next_action = EXCLUDED.next_action,
                               priority = EXCLUDED.priority,
                               industries = EXCLUDED.industries,
                               active = EXCLUDED.active
`
	// success_rate and usage_count are runtime state and survive definition reloads.
	_, err := r.db.ExecContext(ctx, q, h.ID, h.TriggerPhrase, kw, h.Response, h.FollowUp, h.Next.String(),
		h.Priority, ind, h.SuccessRate, h.UsageCount, h.Active)
	return err
}

func (r *PostgresRepo) Handlers(ctx context.Context) ([]Handler, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+handlerColumns+` FROM objection_handlers ORDER BY created_seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Handler
	for rows.Next() {
		h, err := scanHandler(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHandler(row rowScanner) (Handler, error) {
	var h Handler
	var kw, ind []byte
	var next string
	if err := row.Scan(&h.ID, &h.TriggerPhrase, &kw, &h.Response, &h.FollowUp, &next, &h.Priority,
		&ind, &h.SuccessRate, &h.UsageCount, &h.Active); err != nil {
		return Handler{}, err
	}
	h.Next = ParseNextAction(next)
	if len(kw) > 0 {
		if err := json.Unmarshal(kw, &h.Keywords); err != nil {
			return Handler{}, err
		}
	}
	if len(ind) > 0 {
		if err := json.Unmarshal(ind, &h.Industries); err != nil {
			return Handler{}, err
		}
	}
	return h, nil
}

// UpdateHandler serializes concurrent usage updates with a row lock.
func (r *PostgresRepo) UpdateHandler(ctx context.Context, id string, fn func(Handler) Handler) (Handler, error) {
	var out Handler
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := scanHandler(tx.QueryRowContext(ctx, `SELECT `+handlerColumns+` FROM objection_handlers WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		out = fn(cur)
		_, err = tx.ExecContext(ctx, `UPDATE objection_handlers SET success_rate = $2, usage_count = $3 WHERE id = $1`,
			id, out.SuccessRate, out.UsageCount)
		return err
	})
	return out, err
}

func (r *PostgresRepo) AppendEncounter(ctx context.Context, e Encounter) error {
	const q = `
INSERT INTO objection_encounters (id, customer_id, handler_id, execution_id, statement, response, success, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.CustomerID, e.HandlerID, e.ExecutionID, e.Statement, e.Response, e.Success, e.CreatedAt)
	return err
}

func (r *PostgresRepo) Encounters(ctx context.Context, handlerID string) ([]Encounter, error) {
	q := `SELECT id, customer_id, handler_id, execution_id, statement, response, success, created_at FROM objection_encounters`
	var args []any
	if handlerID != "" {
		q += ` WHERE handler_id = $1`
		args = append(args, handlerID)
	}
	q += ` ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Encounter
	for rows.Next() {
		var e Encounter
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.HandlerID, &e.ExecutionID, &e.Statement, &e.Response, &e.Success, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
