package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/photoremix/internal/models"
)

func TestCheckoutStartCompletesInBackground(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.checkout.Start(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutPending, session.Status)

	h.checkout.Wait()

	got, err := h.checkout.Get(ctx, "alice", session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutCompleted, got.Status)
	assert.Equal(t, "cs_test_"+session.ID, got.ProviderSessionID)
	assert.Equal(t, "https://checkout.test/"+session.ID, got.URL)
	assert.NotNil(t, got.CompletedAt)

	require.Len(t, h.provider.requests, 1)
	req := h.provider.requests[0]
	assert.Equal(t, "alice", req.Identity)
	assert.Equal(t, 2, req.Quantity)
	assert.Equal(t, int64(500), req.UnitAmountMinor)
	assert.Equal(t, "usd", req.Currency)

	_, err = h.checkout.Get(ctx, "bob", session.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheckoutRecordsProviderFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.provider.err = errors.New("stripe down")

	session, err := h.checkout.Start(ctx, "alice", 1)
	require.NoError(t, err)
	h.checkout.Wait()

	got, err := h.checkout.Get(ctx, "alice", session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutFailed, got.Status)
	assert.Contains(t, got.Error, "stripe down")
}

func TestCheckoutValidatesQuantity(t *testing.T) {
	h := newHarness(t)
	var verr *ValidationError
	for _, q := range []int{0, -1, 101} {
		_, err := h.checkout.Start(context.Background(), "alice", q)
		require.ErrorAs(t, err, &verr)
	}
}
