package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/photoremix/internal/database"
	"github.com/digkill/photoremix/internal/models"
)

const billingSettingsID = 1

type SettingsRepository struct {
	q       database.Querier
	dialect database.Dialect
}

func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{q: db, dialect: db.Dialect}
}

// Get returns the stored billing settings, or nil when none were saved yet.
func (r *SettingsRepository) Get(ctx context.Context) (*models.BillingSettings, error) {
	const query = `
SELECT pack_price_minor, currency, credits_per_pack, refund_on_failure, free_trial_credits, updated_at
FROM billing_settings WHERE id = ?`
	var s models.BillingSettings
	err := r.q.QueryRowContext(ctx, query, billingSettingsID).Scan(&s.PackPriceMinor, &s.Currency, &s.CreditsPerPack, &s.RefundOnFailure, &s.FreeTrialCredits, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan billing settings: %w", err)
	}
	return &s, nil
}

func (r *SettingsRepository) Save(ctx context.Context, s *models.BillingSettings) error {
	query := `INSERT INTO billing_settings (id, pack_price_minor, currency, credits_per_pack, refund_on_failure, free_trial_credits, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?) ` + r.dialect.Upsert("id", "pack_price_minor", "currency", "credits_per_pack", "refund_on_failure", "free_trial_credits", "updated_at")
	s.UpdatedAt = now()
	if _, err := r.q.ExecContext(ctx, query, billingSettingsID, s.PackPriceMinor, s.Currency, s.CreditsPerPack, s.RefundOnFailure, s.FreeTrialCredits, s.UpdatedAt); err != nil {
		return fmt.Errorf("save billing settings: %w", err)
	}
	return nil
}
