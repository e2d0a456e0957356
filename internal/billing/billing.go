package billing

import (
	"errors"

	"github.com/digkill/photoremix/internal/models"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNotConfigured    = errors.New("payment provider not configured")
)

type EventType string

const (
	OrderPaid    EventType = "order.paid"
	OrderUpdated EventType = "order.updated"
)

// OrderEvent is a provider webhook normalised to the order vocabulary the
// ledger understands. OrderID is the provider's idempotency key; refunds only
// carry ProviderRef, the payment the order was settled with.
type OrderEvent struct {
	Type        EventType
	OrderID     string
	ProviderRef string
	Identity    string
	Status      models.PaymentStatus
	AmountMinor int64
	Currency    string
	Quantity    int
	CustomerID  string
}

type CheckoutRequest struct {
	ReferenceID     string
	Identity        string
	CustomerID      string
	Quantity        int
	UnitAmountMinor int64
	Currency        string
	ProductName     string
}

type CheckoutResult struct {
	SessionID    string
	URL          string
	ClientSecret string
}
