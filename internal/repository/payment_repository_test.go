package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/photoremix/internal/models"
)

func TestPaymentInsertIfAbsent(t *testing.T) {
	repo := NewPaymentRepository(openTestDB(t))
	ctx := context.Background()

	p := &models.Payment{OrderID: "cs_1", Owner: "alice", Provider: "stripe", AmountMinor: 500, Currency: "usd", Credits: 10, Status: models.PaymentPaid}
	inserted, err := repo.InsertIfAbsent(ctx, p)
	require.NoError(t, err)
	assert.True(t, inserted)

	again := *p
	again.Credits = 99
	inserted, err = repo.InsertIfAbsent(ctx, &again)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.Get(ctx, "cs_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 10, got.Credits)
	assert.Equal(t, models.PaymentPaid, got.Status)
}

func TestPaymentUpdateStatusAndList(t *testing.T) {
	repo := NewPaymentRepository(openTestDB(t))
	ctx := context.Background()

	ok, err := repo.UpdateStatus(ctx, "unknown", models.PaymentRefunded)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.InsertIfAbsent(ctx, &models.Payment{OrderID: "cs_2", Owner: "bob", Provider: "stripe", Currency: "usd", Credits: 1, Status: models.PaymentPaid})
	require.NoError(t, err)
	ok, err = repo.UpdateStatus(ctx, "cs_2", models.PaymentRefunded)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := repo.ListByOwner(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.PaymentRefunded, list[0].Status)

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPaymentUpdateStatusByProviderRef(t *testing.T) {
	repo := NewPaymentRepository(openTestDB(t))
	ctx := context.Background()

	_, err := repo.InsertIfAbsent(ctx, &models.Payment{OrderID: "cs_3", Owner: "carol", Provider: "stripe", ProviderRef: "pi_3", Currency: "usd", Credits: 10, Status: models.PaymentPaid})
	require.NoError(t, err)
	_, err = repo.InsertIfAbsent(ctx, &models.Payment{OrderID: "telegram:ch_1", Owner: "carol", Provider: "telegram", Currency: "usd", Credits: 10, Status: models.PaymentPaid})
	require.NoError(t, err)

	ok, err := repo.UpdateStatusByProviderRef(ctx, "pi_3", models.PaymentRefunded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateStatusByProviderRef(ctx, "pi_unknown", models.PaymentRefunded)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Get(ctx, "cs_3")
	require.NoError(t, err)
	assert.Equal(t, "pi_3", got.ProviderRef)
	assert.Equal(t, models.PaymentRefunded, got.Status)

	other, err := repo.Get(ctx, "telegram:ch_1")
	require.NoError(t, err)
	assert.Empty(t, other.ProviderRef)
	assert.Equal(t, models.PaymentPaid, other.Status)
}
