package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/digkill/photoremix/internal/models"
	"github.com/digkill/photoremix/internal/repository"
)

// GalleryService gates what leaves the owner's hands: the public featured
// listing, direct share links and admin moderation.
type GalleryService struct {
	log    *slog.Logger
	assets *repository.AssetRepository
	store  AssetStore
	now    func() time.Time
}

type SharingInput struct {
	Enabled     *bool
	ExpiresAt   *time.Time
	ClearExpiry bool
}

func NewGalleryService(log *slog.Logger, assets *repository.AssetRepository, store AssetStore) *GalleryService {
	return &GalleryService{
		log:    log,
		assets: assets,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ListPublic returns featured, unmoderated assets, most recently featured first.
func (s *GalleryService) ListPublic(ctx context.Context, limit, offset int) ([]PublicAssetView, error) {
	limit, offset = clampPage(limit, offset)
	assets, err := s.assets.ListFeatured(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]PublicAssetView, 0, len(assets))
	for i := range assets {
		a := &assets[i]
		if !a.PubliclyListable() {
			continue
		}
		url := resolveURL(ctx, s.store, s.log, a)
		if url == "" {
			continue
		}
		views = append(views, publicView(a, url))
	}
	return views, nil
}

// ResolveShare returns the asset behind a direct link. Missing, disabled and
// expired links all surface as ErrNotFound.
func (s *GalleryService) ResolveShare(ctx context.Context, id string) (*PublicAssetView, error) {
	a, err := s.assets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.ShareResolvable(s.now()) {
		return nil, ErrNotFound
	}
	url := resolveURL(ctx, s.store, s.log, a)
	if url == "" {
		return nil, ErrNotFound
	}
	v := publicView(a, url)
	return &v, nil
}

func (s *GalleryService) UpdateSharing(ctx context.Context, identity, id string, input SharingInput) (*models.Asset, error) {
	a, err := s.owned(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	if input.ExpiresAt != nil && input.ClearExpiry {
		return nil, invalid("expires_at", "cannot be set and cleared at once")
	}

	enabled := a.SharingEnabled
	if input.Enabled != nil {
		enabled = *input.Enabled
	}
	expiresAt := a.ShareExpiresAt
	switch {
	case input.ClearExpiry:
		expiresAt = nil
	case input.ExpiresAt != nil:
		if !input.ExpiresAt.After(s.now()) {
			return nil, invalid("expires_at", "must be in the future")
		}
		ts := input.ExpiresAt.UTC()
		expiresAt = &ts
	}

	if err := s.assets.UpdateSharing(ctx, id, enabled, expiresAt); err != nil {
		return nil, err
	}
	a.SharingEnabled = enabled
	a.ShareExpiresAt = expiresAt
	s.log.Info("sharing updated", "asset_id", id, "enabled", enabled, "expires_at", expiresAt)
	return a, nil
}

// SetFeatured lets an owner put one of their results in the public gallery.
func (s *GalleryService) SetFeatured(ctx context.Context, identity, id string, featured bool) (*models.Asset, error) {
	a, err := s.owned(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	return s.setFeatured(ctx, a, featured)
}

func (s *GalleryService) AdminSetFeatured(ctx context.Context, id string, featured bool) (*models.Asset, error) {
	a, err := s.assets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return s.setFeatured(ctx, a, featured)
}

func (s *GalleryService) setFeatured(ctx context.Context, a *models.Asset, featured bool) (*models.Asset, error) {
	if featured && !a.IsGenerated && a.GenerationStatus != models.GenerationCompleted {
		return nil, invalid("asset", "only completed transformations can be featured")
	}
	ok, err := s.assets.SetFeatured(ctx, a.ID, featured)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	fresh, err := s.assets.Get(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, ErrNotFound
	}
	s.log.Info("featured updated", "asset_id", a.ID, "featured", featured)
	return fresh, nil
}

// Moderate hides or restores an asset in the public gallery. Share links are
// governed by the owner's settings only and are not affected.
func (s *GalleryService) Moderate(ctx context.Context, id string, disabled bool) (*models.Asset, error) {
	ok, err := s.assets.SetDisabledByAdmin(ctx, id, disabled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	a, err := s.assets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	s.log.Info("asset moderated", "asset_id", id, "disabled", disabled)
	return a, nil
}

func (s *GalleryService) owned(ctx context.Context, identity, id string) (*models.Asset, error) {
	a, err := s.assets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil || a.Owner != identity {
		return nil, ErrNotFound
	}
	return a, nil
}

func publicView(a *models.Asset, url string) PublicAssetView {
	return PublicAssetView{
		ID:          a.ID,
		URL:         url,
		ContentType: a.ContentType,
		Width:       a.Width,
		Height:      a.Height,
		FeaturedAt:  a.FeaturedAt,
	}
}
