package specialist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"engagement-platform/pkg/utils"
)

// PostgresRepo reads the specialist directory from `specialists` and writes
// `specialist_assignments`. A partial unique index on (customer_id) WHERE status='active'
// keeps one active assignment per customer.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) SaveSpecialist(ctx context.Context, s Specialist) error {
	ind, _ := json.Marshal(s.Industries)
	const q = `
INSERT INTO specialists (id, name, kind, industries, industry_weight, available, active, max_customers, satisfaction)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
                               kind = EXCLUDED.kind,
                               industries = EXCLUDED.industries,
                               industry_weight = EXCLUDED.industry_weight,
                               available = EXCLUDED.available,
                               active = EXCLUDED.active,
                               max_customers = EXCLUDED.max_customers,
                               satisfaction = EXCLUDED.satisfaction
`
	_, err := r.db.ExecContext(ctx, q, s.ID, s.Name, string(s.Kind), ind, s.IndustryWeight, s.Available, s.Active, s.MaxCustomers, s.Satisfaction)
	return err
}

// Specialists includes the live active-assignment count as CurrentCustomers.
func (r *PostgresRepo) Specialists(ctx context.Context) ([]Specialist, error) {
	const q = `
SELECT s.id, s.name, s.kind, s.industries, s.industry_weight, s.available, s.active, s.max_customers, s.satisfaction,
       (SELECT COUNT(*) FROM specialist_assignments a WHERE a.specialist_id = s.id AND a.status = 'active')
FROM specialists s
ORDER BY s.created_seq
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Specialist
	for rows.Next() {
		var s Specialist
		var ind []byte
		if err := rows.Scan(&s.ID, &s.Name, &s.Kind, &ind, &s.IndustryWeight, &s.Available, &s.Active,
			&s.MaxCustomers, &s.Satisfaction, &s.CurrentCustomers); err != nil {
			return nil, err
		}
		if len(ind) > 0 {
			if err := json.Unmarshal(ind, &s.Industries); err != nil {
				return nil, err
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CreateAssignment(ctx context.Context, a Assignment) error {
	const q = `
INSERT INTO specialist_assignments (id, specialist_id, customer_id, status, score, fallback, interactions, assigned_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	_, err := r.db.ExecContext(ctx, q, a.ID, a.SpecialistID, a.CustomerID, string(a.Status), a.Score, a.Fallback, a.Interactions, a.AssignedAt)
	return err
}

const assignmentColumns = `id, specialist_id, customer_id, status, score, fallback, interactions, last_interaction_at, assigned_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (Assignment, error) {
	var a Assignment
	var last, ended sql.NullTime
	if err := row.Scan(&a.ID, &a.SpecialistID, &a.CustomerID, &a.Status, &a.Score, &a.Fallback,
		&a.Interactions, &last, &a.AssignedAt, &ended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, err
	}
	a.LastInteractionAt = timePtr(last)
	a.EndedAt = timePtr(ended)
	return a, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *PostgresRepo) Assignment(ctx context.Context, id string) (Assignment, error) {
	return scanAssignment(r.db.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM specialist_assignments WHERE id = $1`, id))
}

func (r *PostgresRepo) ActiveAssignment(ctx context.Context, customerID string) (Assignment, error) {
	return scanAssignment(r.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM specialist_assignments WHERE customer_id = $1 AND status = 'active'`, customerID))
}

func (r *PostgresRepo) UpdateAssignment(ctx context.Context, id string, fn func(Assignment) (Assignment, bool)) (Assignment, bool, error) {
	var (
		out     Assignment
		changed bool
	)
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := scanAssignment(tx.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM specialist_assignments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		out, changed = fn(cur)
		if !changed {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
UPDATE specialist_assignments
SET status = $2, interactions = $3, last_interaction_at = $4, ended_at = $5
WHERE id = $1`, id, string(out.Status), out.Interactions, out.LastInteractionAt, out.EndedAt)
		return err
	})
	return out, changed, err
}

// PutPin replaces the customer's pin in `specialist_pins`.
func (r *PostgresRepo) PutPin(ctx context.Context, p Pin) error {
	if !p.valid() {
		return ErrInvalidPin
	}
	const q = `
INSERT INTO specialist_pins (id, customer_id, specialist_id, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (customer_id) DO UPDATE SET id = EXCLUDED.id,
                                        specialist_id = EXCLUDED.specialist_id,
                                        expires_at = EXCLUDED.expires_at
`
	_, err := r.db.ExecContext(ctx, q, p.ID, p.CustomerID, p.SpecialistID, p.ExpiresAt)
	return err
}

func (r *PostgresRepo) ActivePin(ctx context.Context, customerID string, now time.Time) (Pin, bool, error) {
	var p Pin
	err := r.db.QueryRowContext(ctx,
		`SELECT id, customer_id, specialist_id, expires_at FROM specialist_pins WHERE customer_id = $1 AND expires_at > $2`,
		customerID, now).Scan(&p.ID, &p.CustomerID, &p.SpecialistID, &p.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Pin{}, false, nil
	}
	if err != nil {
		return Pin{}, false, err
	}
	return p, true, nil
}
