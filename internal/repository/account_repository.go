package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/photoremix/internal/database"
	"github.com/digkill/photoremix/internal/models"
)

type AccountRepository struct {
	q       database.Querier
	dialect database.Dialect
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{q: db, dialect: db.Dialect}
}

// WithTx returns a copy of the repository bound to tx.
func (r *AccountRepository) WithTx(tx *sql.Tx) *AccountRepository {
	return &AccountRepository{q: tx, dialect: r.dialect}
}

// Ensure creates the account with initialCredits unless it already exists.
// It reports whether a row was inserted.
func (r *AccountRepository) Ensure(ctx context.Context, identity string, initialCredits int) (bool, error) {
	query := r.dialect.InsertIgnore() + ` INTO accounts (identity, credits, created_at, updated_at) VALUES (?, ?, ?, ?)`
	ts := now()
	res, err := r.q.ExecContext(ctx, query, identity, initialCredits, ts, ts)
	if err != nil {
		return false, fmt.Errorf("ensure account: %w", err)
	}
	return affected(res)
}

func (r *AccountRepository) Get(ctx context.Context, identity string) (*models.Account, error) {
	const query = `
SELECT identity, credits, COALESCE(payment_customer_id, ''), created_at, updated_at
FROM accounts WHERE identity = ?`
	var a models.Account
	err := r.q.QueryRowContext(ctx, query, identity).Scan(&a.Identity, &a.Credits, &a.PaymentCustomerID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

// Debit subtracts amount only when the balance covers it. A false result means
// the balance was insufficient or the account does not exist.
func (r *AccountRepository) Debit(ctx context.Context, identity string, amount int) (bool, error) {
	const query = `UPDATE accounts SET credits = credits - ?, updated_at = ? WHERE identity = ? AND credits >= ?`
	res, err := r.q.ExecContext(ctx, query, amount, now(), identity, amount)
	if err != nil {
		return false, fmt.Errorf("debit credits: %w", err)
	}
	return affected(res)
}

func (r *AccountRepository) Credit(ctx context.Context, identity string, amount int) (bool, error) {
	const query = `UPDATE accounts SET credits = credits + ?, updated_at = ? WHERE identity = ?`
	res, err := r.q.ExecContext(ctx, query, amount, now(), identity)
	if err != nil {
		return false, fmt.Errorf("credit account: %w", err)
	}
	return affected(res)
}

func (r *AccountRepository) SetPaymentCustomerID(ctx context.Context, identity, customerID string) error {
	const query = `UPDATE accounts SET payment_customer_id = NULLIF(?, ''), updated_at = ? WHERE identity = ?`
	if _, err := r.q.ExecContext(ctx, query, customerID, now(), identity); err != nil {
		return fmt.Errorf("set payment customer: %w", err)
	}
	return nil
}
