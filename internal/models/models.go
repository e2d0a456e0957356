package models

import "time"

// GenerationStatus is the lifecycle state of an original asset.
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// MaxAutoAttempts bounds the automatic attempt counter of an original.
const MaxAutoAttempts = 2

func (s GenerationStatus) Valid() bool {
	switch s {
	case GenerationPending, GenerationProcessing, GenerationCompleted, GenerationFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine allows s -> next.
// failed -> pending is the retry edge; completed is terminal.
func (s GenerationStatus) CanTransitionTo(next GenerationStatus) bool {
	switch s {
	case GenerationPending:
		return next == GenerationProcessing || next == GenerationFailed
	case GenerationProcessing:
		return next == GenerationCompleted || next == GenerationFailed
	case GenerationFailed:
		return next == GenerationPending
	case GenerationCompleted:
		return false
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

type CheckoutStatus string

const (
	CheckoutPending   CheckoutStatus = "pending"
	CheckoutCompleted CheckoutStatus = "completed"
	CheckoutFailed    CheckoutStatus = "failed"
)

type Account struct {
	Identity          string    `json:"identity"`
	Credits           int       `json:"credits"`
	PaymentCustomerID string    `json:"payment_customer_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Asset is either a user submitted original or a generated result.
// Generated records point back to their original through OriginalID.
type Asset struct {
	ID                 string
	Owner              string
	StorageHandle      string
	ContentType        string
	Width              int
	Height             int
	SizeBytes          int64
	IsGenerated        bool
	OriginalID         string
	GenerationStatus   GenerationStatus
	GenerationError    string
	GenerationAttempts int
	CreditHeld         bool
	SharingEnabled     bool
	ShareExpiresAt     *time.Time
	IsFeatured         bool
	FeaturedAt         *time.Time
	IsDisabledByAdmin  bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Payment struct {
	OrderID     string
	Owner       string
	Provider    string
	ProviderRef string
	AmountMinor int64
	Currency    string
	Credits     int
	Status      PaymentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BillingSettings is read as an immutable snapshot per operation.
type BillingSettings struct {
	PackPriceMinor   int64     `json:"pack_price_minor"`
	Currency         string    `json:"currency"`
	CreditsPerPack   int       `json:"credits_per_pack"`
	RefundOnFailure  bool      `json:"refund_on_failure"`
	FreeTrialCredits int       `json:"free_trial_credits"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type CheckoutSession struct {
	ID                string
	Owner             string
	Quantity          int
	Status            CheckoutStatus
	ProviderSessionID string
	URL               string
	ClientSecret      string
	Error             string
	CreatedAt         time.Time
	CompletedAt       *time.Time
}
