package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/digkill/photoremix/internal/models"
)

// GeneratedView is the result half of an AssetView.
type GeneratedView struct {
	ID                string     `json:"id"`
	URL               string     `json:"url,omitempty"`
	ContentType       string     `json:"content_type"`
	SizeBytes         int64      `json:"size_bytes"`
	SharingEnabled    bool       `json:"sharing_enabled"`
	ShareExpiresAt    *time.Time `json:"share_expires_at,omitempty"`
	IsFeatured        bool       `json:"is_featured"`
	IsDisabledByAdmin bool       `json:"is_disabled_by_admin"`
	CreatedAt         time.Time  `json:"created_at"`
}

// AssetView is what an owner sees of one original. URLs are resolved per read.
type AssetView struct {
	ID                string         `json:"id"`
	Status            string         `json:"status"`
	Error             string         `json:"error,omitempty"`
	Attempts          int            `json:"attempts"`
	URL               string         `json:"url,omitempty"`
	ContentType       string         `json:"content_type"`
	Width             int            `json:"width,omitempty"`
	Height            int            `json:"height,omitempty"`
	SizeBytes         int64          `json:"size_bytes"`
	SharingEnabled    bool           `json:"sharing_enabled"`
	ShareExpiresAt    *time.Time     `json:"share_expires_at,omitempty"`
	IsFeatured        bool           `json:"is_featured"`
	IsDisabledByAdmin bool           `json:"is_disabled_by_admin"`
	CreatedAt         time.Time      `json:"created_at"`
	Generated         *GeneratedView `json:"generated,omitempty"`
}

// PublicAssetView never carries owner identity.
type PublicAssetView struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	ContentType string     `json:"content_type"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	FeaturedAt  *time.Time `json:"featured_at,omitempty"`
}

func resolveURL(ctx context.Context, store AssetStore, log *slog.Logger, a *models.Asset) string {
	url, err := store.ReadURL(ctx, a.StorageHandle)
	if err != nil {
		log.Warn("resolve read url", "asset_id", a.ID, "err", err)
		return ""
	}
	return url
}

func newAssetView(ctx context.Context, store AssetStore, log *slog.Logger, original, generated *models.Asset) *AssetView {
	v := &AssetView{
		ID:                original.ID,
		Status:            string(original.GenerationStatus),
		Error:             original.GenerationError,
		Attempts:          original.GenerationAttempts,
		URL:               resolveURL(ctx, store, log, original),
		ContentType:       original.ContentType,
		Width:             original.Width,
		Height:            original.Height,
		SizeBytes:         original.SizeBytes,
		SharingEnabled:    original.SharingEnabled,
		ShareExpiresAt:    original.ShareExpiresAt,
		IsFeatured:        original.IsFeatured,
		IsDisabledByAdmin: original.IsDisabledByAdmin,
		CreatedAt:         original.CreatedAt,
	}
	if generated != nil {
		v.Generated = &GeneratedView{
			ID:                generated.ID,
			URL:               resolveURL(ctx, store, log, generated),
			ContentType:       generated.ContentType,
			SizeBytes:         generated.SizeBytes,
			SharingEnabled:    generated.SharingEnabled,
			ShareExpiresAt:    generated.ShareExpiresAt,
			IsFeatured:        generated.IsFeatured,
			IsDisabledByAdmin: generated.IsDisabledByAdmin,
			CreatedAt:         generated.CreatedAt,
		}
	}
	return v
}
