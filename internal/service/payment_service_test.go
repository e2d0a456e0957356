package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/photoremix/internal/billing"
	"github.com/digkill/photoremix/internal/models"
)

func TestProcessPaidOrderGrantsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := PaidOrder{OrderID: "cs_1", Identity: "alice", Provider: billing.ProviderStripe, AmountMinor: 500, Currency: "USD", CustomerID: "cus_1"}

	first, err := h.paymentsSvc.ProcessPaidOrder(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, GrantResult{Granted: 10, Balance: 10}, first)

	second, err := h.paymentsSvc.ProcessPaidOrder(ctx, order)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Zero(t, second.Granted)

	assert.Equal(t, 10, h.balance(t, "alice"))
	acc, err := h.accounts.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", acc.PaymentCustomerID)

	p, err := h.payments.Get(ctx, "cs_1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "usd", p.Currency)
	assert.Equal(t, models.PaymentPaid, p.Status)
}

func TestProcessPaidOrderConcurrentDeliveries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.paymentsSvc.ProcessPaidOrder(ctx, PaidOrder{OrderID: "cs_dup", Identity: "alice", Quantity: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, h.balance(t, "alice"))
}

func TestProcessPaidOrderUsesCurrentSettings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	five := 5
	_, err := h.settings.Update(ctx, UpdateSettingsInput{CreditsPerPack: &five})
	require.NoError(t, err)

	res, err := h.paymentsSvc.ProcessPaidOrder(ctx, PaidOrder{OrderID: "cs_q", Identity: "alice", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 15, res.Granted)
	assert.Equal(t, 15, h.balance(t, "alice"))
}

func TestProcessPaidOrderRequiresKeys(t *testing.T) {
	h := newHarness(t)
	var verr *ValidationError

	_, err := h.paymentsSvc.ProcessPaidOrder(context.Background(), PaidOrder{Identity: "alice"})
	require.ErrorAs(t, err, &verr)
	_, err = h.paymentsSvc.ProcessPaidOrder(context.Background(), PaidOrder{OrderID: "cs_x"})
	require.ErrorAs(t, err, &verr)
}

func TestHandleOrderEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.paymentsSvc.HandleOrderEvent(ctx, billing.OrderEvent{Type: billing.OrderPaid, OrderID: "cs_e", Identity: "alice", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 20, res.Granted)

	res, err = h.paymentsSvc.HandleOrderEvent(ctx, billing.OrderEvent{Type: billing.OrderUpdated, OrderID: "cs_e", Identity: "alice", Status: models.PaymentRefunded})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 20, h.balance(t, "alice"))

	p, err := h.payments.Get(ctx, "cs_e")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, p.Status)

	history, err := h.paymentsSvc.History(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHandleOrderEventRefundByPaymentReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.paymentsSvc.HandleOrderEvent(ctx, billing.OrderEvent{Type: billing.OrderPaid, OrderID: "cs_r", ProviderRef: "pi_r", Identity: "alice", Quantity: 1})
	require.NoError(t, err)

	res, err := h.paymentsSvc.HandleOrderEvent(ctx, billing.OrderEvent{Type: billing.OrderUpdated, ProviderRef: "pi_r", Status: models.PaymentRefunded})
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	p, err := h.payments.Get(ctx, "cs_r")
	require.NoError(t, err)
	assert.Equal(t, "pi_r", p.ProviderRef)
	assert.Equal(t, models.PaymentRefunded, p.Status)
	assert.Equal(t, 10, h.balance(t, "alice"), "refunds never claw back credits")

	res, err = h.paymentsSvc.HandleOrderEvent(ctx, billing.OrderEvent{Type: billing.OrderUpdated, ProviderRef: "pi_other", Status: models.PaymentRefunded})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestHandleOrderEventRecordsFailedPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.paymentsSvc.HandleOrderEvent(ctx, billing.OrderEvent{Type: billing.OrderUpdated, OrderID: "cs_f", Identity: "bob", Currency: "USD", Status: models.PaymentFailed})
	require.NoError(t, err)

	p, err := h.payments.Get(ctx, "cs_f")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.PaymentFailed, p.Status)
	assert.Zero(t, p.Credits)

	// a paid order is never downgraded by a late failure event
	_, err = h.paymentsSvc.HandleOrderEvent(ctx, billing.OrderEvent{Type: billing.OrderPaid, OrderID: "cs_p", Identity: "bob", Quantity: 1})
	require.NoError(t, err)
	_, err = h.paymentsSvc.HandleOrderEvent(ctx, billing.OrderEvent{Type: billing.OrderUpdated, OrderID: "cs_p", Identity: "bob", Status: models.PaymentFailed})
	require.NoError(t, err)
	paid, err := h.payments.Get(ctx, "cs_p")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, paid.Status)
	assert.Equal(t, 10, h.balance(t, "bob"))
}
