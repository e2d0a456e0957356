package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/photoremix/internal/models"
)

func TestSettingsSaveOverwritesSingleton(t *testing.T) {
	db := openTestDB(t)
	repo := NewSettingsRepository(db)
	ctx := context.Background()

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Save(ctx, &models.BillingSettings{PackPriceMinor: 500, Currency: "usd", CreditsPerPack: 10, RefundOnFailure: true}))
	require.NoError(t, repo.Save(ctx, &models.BillingSettings{PackPriceMinor: 900, Currency: "eur", CreditsPerPack: 20, FreeTrialCredits: 2}))

	got, err = repo.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(900), got.PackPriceMinor)
	assert.Equal(t, "eur", got.Currency)
	assert.Equal(t, 20, got.CreditsPerPack)
	assert.False(t, got.RefundOnFailure)
	assert.Equal(t, 2, got.FreeTrialCredits)

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM billing_settings`).Scan(&rows))
	assert.Equal(t, 1, rows)
}
