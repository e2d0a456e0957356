package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/photoremix/internal/database"
	"github.com/digkill/photoremix/internal/models"
)

type PaymentRepository struct {
	q       database.Querier
	dialect database.Dialect
}

func NewPaymentRepository(db *database.DB) *PaymentRepository {
	return &PaymentRepository{q: db, dialect: db.Dialect}
}

// WithTx returns a copy of the repository bound to tx.
func (r *PaymentRepository) WithTx(tx *sql.Tx) *PaymentRepository {
	return &PaymentRepository{q: tx, dialect: r.dialect}
}

// InsertIfAbsent records a payment keyed by its order id. It reports false when
// the order was already recorded, which is the idempotency guard for grants.
func (r *PaymentRepository) InsertIfAbsent(ctx context.Context, p *models.Payment) (bool, error) {
	query := r.dialect.InsertIgnore() + ` INTO payments (order_id, owner, provider, provider_ref, amount_minor, currency, credits, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	ts := now()
	p.CreatedAt, p.UpdatedAt = ts, ts
	res, err := r.q.ExecContext(ctx, query, p.OrderID, p.Owner, p.Provider, nullString(p.ProviderRef), p.AmountMinor, p.Currency, p.Credits, string(p.Status), ts, ts)
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}
	return affected(res)
}

func (r *PaymentRepository) Get(ctx context.Context, orderID string) (*models.Payment, error) {
	const query = `
SELECT order_id, owner, provider, provider_ref, amount_minor, currency, credits, status, created_at, updated_at
FROM payments WHERE order_id = ?`
	p, err := scanPayment(r.q.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) ListByOwner(ctx context.Context, owner string, limit int) ([]models.Payment, error) {
	const query = `
SELECT order_id, owner, provider, provider_ref, amount_minor, currency, credits, status, created_at, updated_at
FROM payments WHERE owner = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := r.q.QueryContext(ctx, query, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, orderID string, status models.PaymentStatus) (bool, error) {
	const query = `UPDATE payments SET status = ?, updated_at = ? WHERE order_id = ?`
	res, err := r.q.ExecContext(ctx, query, string(status), now(), orderID)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return affected(res)
}

// UpdateStatusByProviderRef is UpdateStatus for events that only know the
// provider's payment reference.
func (r *PaymentRepository) UpdateStatusByProviderRef(ctx context.Context, ref string, status models.PaymentStatus) (bool, error) {
	const query = `UPDATE payments SET status = ?, updated_at = ? WHERE provider_ref = ?`
	res, err := r.q.ExecContext(ctx, query, string(status), now(), ref)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return affected(res)
}

func scanPayment(s scanner) (*models.Payment, error) {
	var (
		p      models.Payment
		ref    sql.NullString
		status string
	)
	if err := s.Scan(&p.OrderID, &p.Owner, &p.Provider, &ref, &p.AmountMinor, &p.Currency, &p.Credits, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ProviderRef = ref.String
	p.Status = models.PaymentStatus(status)
	return &p, nil
}
