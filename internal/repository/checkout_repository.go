package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/photoremix/internal/database"
	"github.com/digkill/photoremix/internal/models"
)

type CheckoutRepository struct {
	q database.Querier
}

func NewCheckoutRepository(db *database.DB) *CheckoutRepository {
	return &CheckoutRepository{q: db}
}

func (r *CheckoutRepository) Insert(ctx context.Context, s *models.CheckoutSession) error {
	const query = `INSERT INTO checkout_sessions (id, owner, quantity, status, created_at) VALUES (?, ?, ?, ?, ?)`
	s.CreatedAt = now()
	if _, err := r.q.ExecContext(ctx, query, s.ID, s.Owner, s.Quantity, string(s.Status), s.CreatedAt); err != nil {
		return fmt.Errorf("insert checkout session: %w", err)
	}
	return nil
}

func (r *CheckoutRepository) Get(ctx context.Context, id string) (*models.CheckoutSession, error) {
	const query = `
SELECT id, owner, quantity, status, COALESCE(provider_session_id, ''), COALESCE(url, ''), COALESCE(client_secret, ''),
COALESCE(error, ''), created_at, completed_at
FROM checkout_sessions WHERE id = ?`
	var (
		s         models.CheckoutSession
		status    string
		completed sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.Owner, &s.Quantity, &status, &s.ProviderSessionID, &s.URL, &s.ClientSecret, &s.Error, &s.CreatedAt, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan checkout session: %w", err)
	}
	s.Status = models.CheckoutStatus(status)
	s.CompletedAt = timePtr(completed)
	return &s, nil
}

// Complete finalises a pending session. Finalised sessions are never touched again.
func (r *CheckoutRepository) Complete(ctx context.Context, id, providerSessionID, url, clientSecret string) (bool, error) {
	const query = `
UPDATE checkout_sessions SET status = ?, provider_session_id = ?, url = NULLIF(?, ''), client_secret = NULLIF(?, ''), completed_at = ?
WHERE id = ? AND status = ?`
	res, err := r.q.ExecContext(ctx, query, string(models.CheckoutCompleted), providerSessionID, url, clientSecret, now(), id, string(models.CheckoutPending))
	if err != nil {
		return false, fmt.Errorf("complete checkout session: %w", err)
	}
	return affected(res)
}

func (r *CheckoutRepository) Fail(ctx context.Context, id, reason string) (bool, error) {
	const query = `UPDATE checkout_sessions SET status = ?, error = ?, completed_at = ? WHERE id = ? AND status = ?`
	res, err := r.q.ExecContext(ctx, query, string(models.CheckoutFailed), reason, now(), id, string(models.CheckoutPending))
	if err != nil {
		return false, fmt.Errorf("fail checkout session: %w", err)
	}
	return affected(res)
}
