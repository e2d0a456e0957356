package service

import (
	"context"

	"github.com/digkill/photoremix/internal/billing"
	"github.com/digkill/photoremix/internal/models"
	"github.com/digkill/photoremix/internal/storage"
)

// AssetStore is the blob store holding originals and results.
type AssetStore interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	// Metadata returns nil when the handle does not exist.
	Metadata(ctx context.Context, handle string) (*storage.ObjectMeta, error)
	// ReadURL returns "" when the handle does not exist.
	ReadURL(ctx context.Context, handle string) (string, error)
	Get(ctx context.Context, handle string) ([]byte, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, id string) error
}

// Notifier is told about finished generations. Implementations must not block for long.
type Notifier interface {
	GenerationCompleted(ctx context.Context, original, generated *models.Asset)
	GenerationFailed(ctx context.Context, original *models.Asset)
}

type PaymentProvider interface {
	CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
}
