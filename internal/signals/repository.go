package signals

import (
	"context"
	"database/sql"
)

// PostgresRepo stores merged signals in `customer_signals`,
// keyed by (customer_id, signal). The upsert keeps the earliest first_at and the
// latest last_at, so concurrent or reordered webhooks converge to the same row.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Apply(ctx context.Context, ev Event) (Record, error) {
	const q = `
INSERT INTO customer_signals (customer_id, signal, first_at, last_at, event_count)
VALUES ($1, $2, $3, $3, 1)
ON CONFLICT (customer_id, signal)
DO UPDATE SET first_at    = LEAST(customer_signals.first_at, EXCLUDED.first_at),
              last_at     = GREATEST(customer_signals.last_at, EXCLUDED.last_at),
              event_count = customer_signals.event_count + 1
RETURNING customer_id, signal, first_at, last_at, event_count
`
	var rec Record
	if err := r.db.QueryRowContext(ctx, q, ev.CustomerID, ev.Signal, ev.OccurredAt).Scan(
		&rec.CustomerID,
		&rec.Signal,
		&rec.FirstAt,
		&rec.LastAt,
		&rec.Count,
	); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *PostgresRepo) List(ctx context.Context, customerID string) ([]Record, error) {
	const q = `
SELECT customer_id, signal, first_at, last_at, event_count
FROM customer_signals
WHERE customer_id = $1
ORDER BY signal
`
	rows, err := r.db.QueryContext(ctx, q, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.CustomerID, &rec.Signal, &rec.FirstAt, &rec.LastAt, &rec.Count); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
