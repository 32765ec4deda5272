package dialog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresRepo stores trees as JSONB documents in `dialog_trees` and executions in
// `dialog_executions` with an integer version column for compare-and-set saves.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) SaveTree(ctx context.Context, t Tree) error {
	nodes, err := json.Marshal(t.Nodes)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO dialog_trees (id, name, trigger, pipeline_stage, active, nodes)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
                               trigger = EXCLUDED.trigger,
                               pipeline_stage = EXCLUDED.pipeline_stage,
                               active = EXCLUDED.active,
                               nodes = EXCLUDED.nodes
`
	_, err = r.db.ExecContext(ctx, q, t.ID, t.Name, t.Trigger, t.PipelineStage, t.Active, nodes)
	return err
}

const treeColumns = `id, name, trigger, pipeline_stage, active, nodes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTree(row rowScanner) (Tree, error) {
	var t Tree
	var nodes []byte
	if err := row.Scan(&t.ID, &t.Name, &t.Trigger, &t.PipelineStage, &t.Active, &nodes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tree{}, ErrNotFound
		}
		return Tree{}, err
	}
	if err := json.Unmarshal(nodes, &t.Nodes); err != nil {
		return Tree{}, fmt.Errorf("tree %s nodes: %w", t.ID, err)
	}
	return t, nil
}

func (r *PostgresRepo) Tree(ctx context.Context, id string) (Tree, error) {
	return scanTree(r.db.QueryRowContext(ctx, `SELECT `+treeColumns+` FROM dialog_trees WHERE id = $1`, id))
}

func (r *PostgresRepo) Trees(ctx context.Context) ([]Tree, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+treeColumns+` FROM dialog_trees ORDER BY created_seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tree
	for rows.Next() {
		t, err := scanTree(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const executionColumns = `id, tree_id, customer_id, current_node, status, data, path, outcome,
       pending_objection, assignment_id, version, started_at, updated_at, ended_at`

func scanExecution(row rowScanner) (Execution, error) {
	var e Execution
	var data, path, pending []byte
	var ended sql.NullTime
	if err := row.Scan(&e.ID, &e.TreeID, &e.CustomerID, &e.CurrentNode, &e.Status, &data, &path, &e.Outcome,
		&pending, &e.AssignmentID, &e.Version, &e.StartedAt, &e.UpdatedAt, &ended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Execution{}, ErrNotFound
		}
		return Execution{}, err
	}
	if err := json.Unmarshal(data, &e.Data); err != nil {
		return Execution{}, err
	}
	if err := json.Unmarshal(path, &e.Path); err != nil {
		return Execution{}, err
	}
	if len(pending) > 0 && string(pending) != "null" {
		e.Pending = &PendingObjection{}
		if err := json.Unmarshal(pending, e.Pending); err != nil {
			return Execution{}, err
		}
	}
	if e.Data == nil {
		e.Data = map[string]string{}
	}
	if ended.Valid {
		t := ended.Time
		e.EndedAt = &t
	}
	return e, nil
}

func encodeExecution(e Execution) (data, path, pending []byte, err error) {
	if data, err = json.Marshal(e.Data); err != nil {
		return
	}
	if path, err = json.Marshal(e.Path); err != nil {
		return
	}
	if e.Pending != nil {
		pending, err = json.Marshal(e.Pending)
	}
	return
}

func (r *PostgresRepo) CreateExecution(ctx context.Context, e Execution) error {
	data, path, pending, err := encodeExecution(e)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO dialog_executions (id, tree_id, customer_id, current_node, status, data, path, outcome,
                               pending_objection, assignment_id, version, started_at, updated_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`
	_, err = r.db.ExecContext(ctx, q, e.ID, e.TreeID, e.CustomerID, e.CurrentNode, string(e.Status), data, path,
		e.Outcome, pending, e.AssignmentID, e.Version, e.StartedAt, e.UpdatedAt, e.EndedAt)
	return err
}

func (r *PostgresRepo) Execution(ctx context.Context, id string) (Execution, error) {
	return scanExecution(r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM dialog_executions WHERE id = $1`, id))
}

func (r *PostgresRepo) ActiveExecution(ctx context.Context, customerID string) (Execution, error) {
	return scanExecution(r.db.QueryRowContext(ctx, `SELECT `+executionColumns+`
FROM dialog_executions
WHERE customer_id = $1 AND status = 'in_progress'
ORDER BY started_at DESC
LIMIT 1`, customerID))
}

func (r *PostgresRepo) SaveExecution(ctx context.Context, e Execution, expectedVersion int) error {
	data, path, pending, err := encodeExecution(e)
	if err != nil {
		return err
	}
	const q = `
UPDATE dialog_executions
SET current_node = $3, status = $4, data = $5, path = $6, outcome = $7, pending_objection = $8,
    assignment_id = $9, version = $10, updated_at = $11, ended_at = $12
WHERE id = $1 AND version = $2
`
	res, err := r.db.ExecContext(ctx, q, e.ID, expectedVersion, e.CurrentNode, string(e.Status), data, path,
		e.Outcome, pending, e.AssignmentID, e.Version, e.UpdatedAt, e.EndedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Execution(ctx, e.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}
