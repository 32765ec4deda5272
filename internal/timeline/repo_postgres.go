package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"engagement-platform/internal/condition"
	"engagement-platform/pkg/utils"
)

// PostgresRepo stores timelines in `timelines` / `timeline_actions` and progress in
// `customer_progress`.
//
// Constraints the schema carries:
// - partial unique index on timelines(pipeline_stage) WHERE active
// - unique (customer_id, timeline_id) on customer_progress
// - completed_actions / skipped_actions are JSONB arrays of action ids
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) SaveTimeline(ctx context.Context, t Timeline) error {
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const upsert = `
INSERT INTO timelines (id, name, pipeline_stage, duration_days, active)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
                               pipeline_stage = EXCLUDED.pipeline_stage,
                               duration_days = EXCLUDED.duration_days,
                               active = EXCLUDED.active
`
		if _, err := tx.ExecContext(ctx, upsert, t.ID, t.Name, t.PipelineStage, t.DurationDays, t.Active); err != nil {
			return err
		}
		// Actions are configuration; replace them wholesale. Progress references
		// action ids, so ids must stay stable across reloads.
		if _, err := tx.ExecContext(ctx, `DELETE FROM timeline_actions WHERE timeline_id = $1`, t.ID); err != nil {
			return err
		}
		const insAction = `
INSERT INTO timeline_actions (id, timeline_id, day, channel, action_type, subject, template,
                              condition, delay_minutes, priority, sequence, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
		for _, a := range t.Actions {
			var cond []byte
			if a.Condition != nil {
				b, err := json.Marshal(a.Condition)
				if err != nil {
					return fmt.Errorf("action %s condition: %w", a.ID, err)
				}
				cond = b
			}
			if _, err := tx.ExecContext(ctx, insAction,
				a.ID, t.ID, a.Day, string(a.Channel), a.Type, a.Subject, a.Template,
				cond, a.DelayMinutes, a.Priority, a.Sequence, a.Active,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if utils.IsUniqueViolation(err) {
		return ErrStageTaken
	}
	return err
}

func (r *PostgresRepo) Timeline(ctx context.Context, id string) (Timeline, error) {
	return r.loadTimeline(ctx, `SELECT id, name, pipeline_stage, duration_days, active FROM timelines WHERE id = $1`, id)
}

func (r *PostgresRepo) ActiveTimelineForStage(ctx context.Context, stage string) (Timeline, error) {
	return r.loadTimeline(ctx, `SELECT id, name, pipeline_stage, duration_days, active FROM timelines WHERE pipeline_stage = $1 AND active`, stage)
}

func (r *PostgresRepo) loadTimeline(ctx context.Context, q, arg string) (Timeline, error) {
	var t Timeline
	if err := r.db.QueryRowContext(ctx, q, arg).Scan(&t.ID, &t.Name, &t.PipelineStage, &t.DurationDays, &t.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Timeline{}, ErrNotFound
		}
		return Timeline{}, err
	}

	const qa = `
SELECT id, day, channel, action_type, subject, template, condition, delay_minutes, priority, sequence, active
FROM timeline_actions
WHERE timeline_id = $1
ORDER BY sequence
`
	rows, err := r.db.QueryContext(ctx, qa, t.ID)
	if err != nil {
		return Timeline{}, err
	}
	defer rows.Close()
	for rows.Next() {
		a := Action{TimelineID: t.ID}
		var cond []byte
		if err := rows.Scan(&a.ID, &a.Day, &a.Channel, &a.Type, &a.Subject, &a.Template, &cond,
			&a.DelayMinutes, &a.Priority, &a.Sequence, &a.Active); err != nil {
			return Timeline{}, err
		}
		// Malformed conditions decode to an unknown kind and fail open.
		if a.Condition, err = condition.Parse(cond); err != nil {
			return Timeline{}, fmt.Errorf("action %s condition: %w", a.ID, err)
		}
		t.Actions = append(t.Actions, a)
	}
	return t, rows.Err()
}

const progressColumns = `id, customer_id, timeline_id, current_day, status, completed_actions, skipped_actions,
       started_at, last_action_at, completed_at, paused_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (Progress, error) {
	var p Progress
	var completed, skipped []byte
	var lastAction, completedAt, pausedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.CustomerID, &p.TimelineID, &p.CurrentDay, &p.Status, &completed, &skipped,
		&p.StartedAt, &lastAction, &completedAt, &pausedAt); err != nil {
		return Progress{}, err
	}
	if err := decodeIDs(completed, &p.Completed); err != nil {
		return Progress{}, err
	}
	if err := decodeIDs(skipped, &p.Skipped); err != nil {
		return Progress{}, err
	}
	p.LastActionAt = nullTime(lastAction)
	p.CompletedAt = nullTime(completedAt)
	p.PausedAt = nullTime(pausedAt)
	return p, nil
}

func decodeIDs(b []byte, dst *[]string) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

func encodeIDs(ids []string) []byte {
	if ids == nil {
		ids = []string{}
	}
	b, _ := json.Marshal(ids)
	return b
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *PostgresRepo) CreateProgress(ctx context.Context, p Progress) (Progress, bool, error) {
	const q = `
INSERT INTO customer_progress (id, customer_id, timeline_id, current_day, status,
                               completed_actions, skipped_actions, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (customer_id, timeline_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q, p.ID, p.CustomerID, p.TimelineID, p.CurrentDay, string(p.Status),
		encodeIDs(p.Completed), encodeIDs(p.Skipped), p.StartedAt)
	if err != nil {
		return Progress{}, false, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return p, true, nil
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+progressColumns+` FROM customer_progress WHERE customer_id = $1 AND timeline_id = $2`, p.CustomerID, p.TimelineID)
	existing, err := scanProgress(row)
	if err != nil {
		return Progress{}, false, err
	}
	return existing, false, nil
}

func (r *PostgresRepo) Progress(ctx context.Context, id string) (Progress, error) {
	p, err := scanProgress(r.db.QueryRowContext(ctx, `SELECT `+progressColumns+` FROM customer_progress WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Progress{}, ErrNotFound
	}
	return p, err
}

func (r *PostgresRepo) ListProgress(ctx context.Context, f ProgressFilter) ([]Progress, error) {
	q := `SELECT ` + progressColumns + ` FROM customer_progress WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		q += fmt.Sprintf(" AND %s = $%d", clause, len(args))
	}
	if f.TimelineID != "" {
		add("timeline_id", f.TimelineID)
	}
	if f.CustomerID != "" {
		add("customer_id", f.CustomerID)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.Day != nil {
		add("current_day", *f.Day)
	}
	q += " ORDER BY started_at, id"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProgress locks the row for the duration of fn, so concurrent writers serialize.
func (r *PostgresRepo) UpdateProgress(ctx context.Context, id string, fn UpdateFunc) (Progress, error) {
	var out Progress
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := scanProgress(tx.QueryRowContext(ctx, `SELECT `+progressColumns+` FROM customer_progress WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		next, changed, err := fn(cur)
		if err != nil {
			return err
		}
		if !changed {
			out = cur
			return nil
		}
		const upd = `
UPDATE customer_progress
SET current_day = $2, status = $3, completed_actions = $4, skipped_actions = $5,
    last_action_at = $6, completed_at = $7, paused_at = $8
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd, id, next.CurrentDay, string(next.Status),
			encodeIDs(next.Completed), encodeIDs(next.Skipped),
			next.LastActionAt, next.CompletedAt, next.PausedAt,
		); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}
