package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/photoremix/internal/models"
)

const testSecret = "whsec_test_secret"

func sign(t *testing.T, payload string) (body []byte, header string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func sessionEvent(eventType, paymentStatus string) string {
	return `{"id":"evt_1","object":"event","type":"` + eventType + `","data":{"object":{"id":"cs_test_1","object":"checkout.session",` +
		`"payment_status":"` + paymentStatus + `","amount_total":1000,"currency":"usd","customer":"cus_9","payment_intent":"pi_1",` +
		`"metadata":{"identity":"alice","quantity":"2"}}}}`
}

func TestParseWebhookCompletedPaid(t *testing.T) {
	s := NewStripe(StripeConfig{WebhookSecret: testSecret})
	body, header := sign(t, sessionEvent("checkout.session.completed", "paid"))

	evt, eventType, err := s.ParseWebhook(body, header)
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "checkout.session.completed", eventType)
	assert.Equal(t, OrderPaid, evt.Type)
	assert.Equal(t, "cs_test_1", evt.OrderID)
	assert.Equal(t, "alice", evt.Identity)
	assert.Equal(t, 2, evt.Quantity)
	assert.Equal(t, int64(1000), evt.AmountMinor)
	assert.Equal(t, "usd", evt.Currency)
	assert.Equal(t, "cus_9", evt.CustomerID)
	assert.Equal(t, "pi_1", evt.ProviderRef)
	assert.Equal(t, models.PaymentPaid, evt.Status)
}

func chargeEvent(refunded bool) string {
	flag := "false"
	if refunded {
		flag = "true"
	}
	return `{"id":"evt_3","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge",` +
		`"amount":1000,"amount_refunded":1000,"currency":"usd","payment_intent":"pi_1","refunded":` + flag + `}}}`
}

func TestParseWebhookFullRefund(t *testing.T) {
	s := NewStripe(StripeConfig{WebhookSecret: testSecret})
	body, header := sign(t, chargeEvent(true))

	evt, eventType, err := s.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, "charge.refunded", eventType)
	require.NotNil(t, evt)
	assert.Equal(t, OrderUpdated, evt.Type)
	assert.Equal(t, models.PaymentRefunded, evt.Status)
	assert.Equal(t, "pi_1", evt.ProviderRef)
	assert.Empty(t, evt.OrderID)
}

func TestParseWebhookPartialRefundIsIgnored(t *testing.T) {
	s := NewStripe(StripeConfig{WebhookSecret: testSecret})
	body, header := sign(t, chargeEvent(false))

	evt, _, err := s.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Nil(t, evt)
}

func TestParseWebhookMapping(t *testing.T) {
	s := NewStripe(StripeConfig{WebhookSecret: testSecret})
	tests := []struct {
		eventType     string
		paymentStatus string
		wantNil       bool
		wantType      EventType
		wantStatus    models.PaymentStatus
	}{
		{"checkout.session.completed", "unpaid", true, "", ""},
		{"checkout.session.async_payment_succeeded", "paid", false, OrderPaid, models.PaymentPaid},
		{"checkout.session.async_payment_failed", "unpaid", false, OrderUpdated, models.PaymentFailed},
		{"customer.created", "paid", true, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.eventType+"/"+tt.paymentStatus, func(t *testing.T) {
			body, header := sign(t, sessionEvent(tt.eventType, tt.paymentStatus))
			evt, eventType, err := s.ParseWebhook(body, header)
			require.NoError(t, err)
			assert.Equal(t, tt.eventType, eventType)
			if tt.wantNil {
				assert.Nil(t, evt)
				return
			}
			require.NotNil(t, evt)
			assert.Equal(t, tt.wantType, evt.Type)
			assert.Equal(t, tt.wantStatus, evt.Status)
		})
	}
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	s := NewStripe(StripeConfig{WebhookSecret: testSecret})
	body, _ := sign(t, sessionEvent("checkout.session.completed", "paid"))

	_, _, err := s.ParseWebhook(body, "t=1,v1=deadbeef")
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, _, err = s.ParseWebhook(body, "")
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, _, err = NewStripe(StripeConfig{}).ParseWebhook(body, "t=1,v1=deadbeef")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestParseWebhookRequiresIdentity(t *testing.T) {
	s := NewStripe(StripeConfig{WebhookSecret: testSecret})
	body, header := sign(t, `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_2","object":"checkout.session","payment_status":"paid","metadata":{}}}}`)
	_, _, err := s.ParseWebhook(body, header)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
}

func TestCreateCheckout(t *testing.T) {
	s := NewStripe(StripeConfig{SecretKey: "sk_test", SuccessURL: "https://app.example/done", CancelURL: "https://app.example/cancel"})
	var captured *stripelib.CheckoutSessionParams
	s.createSession = func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
		captured = params
		return &stripelib.CheckoutSession{ID: "cs_new", URL: "https://checkout.stripe.com/c/cs_new"}, nil
	}

	res, err := s.CreateCheckout(context.Background(), CheckoutRequest{
		ReferenceID: "ref-1", Identity: "alice", Quantity: 3, UnitAmountMinor: 500, Currency: "USD", ProductName: "10 credits",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_new", res.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_new", res.URL)

	require.NotNil(t, captured)
	assert.Equal(t, "https://app.example/done?session_id={CHECKOUT_SESSION_ID}", *captured.SuccessURL)
	assert.Equal(t, "alice", captured.Metadata["identity"])
	assert.Equal(t, "3", captured.Metadata["quantity"])
	require.Len(t, captured.LineItems, 1)
	assert.Equal(t, int64(3), *captured.LineItems[0].Quantity)
	assert.Equal(t, "usd", *captured.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(500), *captured.LineItems[0].PriceData.UnitAmount)
}

func TestCreateCheckoutLeavesGlobalKeyAlone(t *testing.T) {
	before := stripelib.Key
	s := NewStripe(StripeConfig{SecretKey: "sk_test_instance"})
	require.NotNil(t, s.createSession)
	s.createSession = func(*stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
		return &stripelib.CheckoutSession{ID: "cs_x"}, nil
	}

	_, err := s.CreateCheckout(context.Background(), CheckoutRequest{Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, before, stripelib.Key)
}

func TestCreateCheckoutErrors(t *testing.T) {
	_, err := NewStripe(StripeConfig{}).CreateCheckout(context.Background(), CheckoutRequest{})
	require.ErrorIs(t, err, ErrNotConfigured)

	s := NewStripe(StripeConfig{SecretKey: "sk_test"})
	s.createSession = func(*stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
		return nil, errors.New("card network down")
	}
	_, err = s.CreateCheckout(context.Background(), CheckoutRequest{Quantity: 1})
	require.Error(t, err)
}

func TestWithSessionPlaceholder(t *testing.T) {
	assert.Equal(t, "https://x/y?a=1&session_id={CHECKOUT_SESSION_ID}", withSessionPlaceholder("https://x/y?a=1"))
	assert.Equal(t, "https://x/{CHECKOUT_SESSION_ID}", withSessionPlaceholder("https://x/{CHECKOUT_SESSION_ID}"))
}
