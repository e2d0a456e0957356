package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/digkill/photoremix/internal/models"
)

const ProviderStripe = "stripe"

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// Stripe creates hosted checkout sessions and turns signed webhooks into OrderEvents.
type Stripe struct {
	cfg           StripeConfig
	createSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
}

func NewStripe(cfg StripeConfig) *Stripe {
	s := &Stripe{cfg: cfg}
	if key := strings.TrimSpace(cfg.SecretKey); key != "" {
		s.createSession = client.New(key, nil).CheckoutSessions.New
	}
	return s
}

func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if s.createSession == nil {
		return nil, ErrNotConfigured
	}
	if req.Quantity < 1 {
		req.Quantity = 1
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:              stripelib.String(string(stripelib.CheckoutSessionModePayment)),
		SuccessURL:        stripelib.String(withSessionPlaceholder(s.cfg.SuccessURL)),
		CancelURL:         stripelib.String(s.cfg.CancelURL),
		ClientReferenceID: stripelib.String(req.ReferenceID),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				PriceData: &stripelib.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripelib.String(strings.ToLower(req.Currency)),
					UnitAmount: stripelib.Int64(req.UnitAmountMinor),
					ProductData: &stripelib.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripelib.String(req.ProductName),
					},
				},
				Quantity: stripelib.Int64(int64(req.Quantity)),
			},
		},
		Metadata: map[string]string{
			"identity":     req.Identity,
			"quantity":     strconv.Itoa(req.Quantity),
			"reference_id": req.ReferenceID,
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripelib.String(req.CustomerID)
	}
	params.Context = ctx

	sess, err := s.createSession(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if sess == nil || sess.ID == "" {
		return nil, fmt.Errorf("create checkout session: empty session")
	}
	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL, ClientSecret: sess.ClientSecret}, nil
}

func withSessionPlaceholder(successURL string) string {
	if strings.Contains(successURL, "{CHECKOUT_SESSION_ID}") {
		return successURL
	}
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + "session_id={CHECKOUT_SESSION_ID}"
}

// ParseWebhook verifies the Stripe-Signature header and normalises the event.
// It returns a nil event for types that carry no order change. eventType is
// always the raw Stripe type when the signature was valid.
func (s *Stripe) ParseWebhook(payload []byte, sigHeader string) (event *OrderEvent, eventType string, err error) {
	if strings.TrimSpace(s.cfg.WebhookSecret) == "" {
		return nil, "", ErrNotConfigured
	}
	if strings.TrimSpace(sigHeader) == "" {
		return nil, "", fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}

	evt, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	eventType = string(evt.Type)

	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed":
	case "charge.refunded":
		event, err = parseRefund(evt.Data.Raw)
		return event, eventType, err
	default:
		return nil, eventType, nil
	}

	var sess stripelib.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
		return nil, eventType, fmt.Errorf("decode checkout.session: %w", err)
	}

	out := &OrderEvent{
		OrderID:     sess.ID,
		Identity:    sess.Metadata["identity"],
		AmountMinor: sess.AmountTotal,
		Currency:    string(sess.Currency),
		Quantity:    parseQuantity(sess.Metadata["quantity"]),
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.PaymentIntent != nil {
		out.ProviderRef = sess.PaymentIntent.ID
	}
	if out.OrderID == "" {
		return nil, eventType, fmt.Errorf("checkout.session without id")
	}
	if out.Identity == "" {
		return nil, eventType, fmt.Errorf("checkout.session %s has no identity metadata", out.OrderID)
	}

	switch evt.Type {
	case "checkout.session.completed":
		if sess.PaymentStatus != stripelib.CheckoutSessionPaymentStatusPaid {
			// Delayed payment methods complete later through async_payment_succeeded.
			return nil, eventType, nil
		}
		out.Type, out.Status = OrderPaid, models.PaymentPaid
	case "checkout.session.async_payment_succeeded":
		out.Type, out.Status = OrderPaid, models.PaymentPaid
	case "checkout.session.async_payment_failed":
		out.Type, out.Status = OrderUpdated, models.PaymentFailed
	}
	return out, eventType, nil
}

// parseRefund maps a fully refunded charge to its payment intent. Partial
// refunds leave the order paid.
func parseRefund(raw json.RawMessage) (*OrderEvent, error) {
	var charge stripelib.Charge
	if err := json.Unmarshal(raw, &charge); err != nil {
		return nil, fmt.Errorf("decode charge: %w", err)
	}
	if !charge.Refunded {
		return nil, nil
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return nil, fmt.Errorf("charge %s has no payment intent", charge.ID)
	}
	return &OrderEvent{
		Type:        OrderUpdated,
		Status:      models.PaymentRefunded,
		ProviderRef: charge.PaymentIntent.ID,
		AmountMinor: charge.AmountRefunded,
		Currency:    string(charge.Currency),
	}, nil
}

func parseQuantity(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
