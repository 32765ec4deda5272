package customer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresDirectory reads customers from the CRM's tables.
//
// Assumes a `customers` table with a JSONB `fields` column holding numeric profile values.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const selectCustomer = `
SELECT id, name, phone, email, industry, business_type, pipeline_stage,
       do_not_contact, email_opt_in, sms_opt_in, call_opt_in, COALESCE(fields, '{}'::jsonb)
FROM customers
`

func (d *PostgresDirectory) Get(ctx context.Context, id string) (Customer, error) {
	return d.scanOne(ctx, selectCustomer+"WHERE id = $1", id)
}

func (d *PostgresDirectory) FindByPhone(ctx context.Context, phone string) (Customer, error) {
	return d.scanOne(ctx, selectCustomer+"WHERE phone = $1 ORDER BY id LIMIT 1", phone)
}

func (d *PostgresDirectory) scanOne(ctx context.Context, q string, arg string) (Customer, error) {
	var c Customer
	var fields []byte
	err := d.db.QueryRowContext(ctx, q, arg).Scan(
		&c.ID,
		&c.Name,
		&c.Phone,
		&c.Email,
		&c.Industry,
		&c.BusinessType,
		&c.PipelineStage,
		&c.DoNotContact,
		&c.EmailOptIn,
		&c.SMSOptIn,
		&c.CallOptIn,
		&fields,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &c.Fields); err != nil {
			return Customer{}, fmt.Errorf("customer %s fields: %w", c.ID, err)
		}
	}
	return c, nil
}
