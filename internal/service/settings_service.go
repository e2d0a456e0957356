package service

import (
	"context"
	"strings"

	"github.com/digkill/photoremix/internal/config"
	"github.com/digkill/photoremix/internal/models"
	"github.com/digkill/photoremix/internal/repository"
)

type SettingsService struct {
	cfg  config.Config
	repo *repository.SettingsRepository
}

type UpdateSettingsInput struct {
	PackPriceMinor   *int64
	Currency         *string
	CreditsPerPack   *int
	RefundOnFailure  *bool
	FreeTrialCredits *int
}

func NewSettingsService(cfg config.Config, repo *repository.SettingsRepository) *SettingsService {
	return &SettingsService{cfg: cfg, repo: repo}
}

// DefaultSettings are used until an operator saves billing settings.
func DefaultSettings(cfg config.Config) models.BillingSettings {
	return models.BillingSettings{
		PackPriceMinor:   cfg.PackPriceMinor,
		Currency:         cfg.Currency,
		CreditsPerPack:   cfg.CreditsPerPack,
		RefundOnFailure:  cfg.RefundOnFailure,
		FreeTrialCredits: cfg.FreeTrialCredits,
	}
}

// Snapshot returns the settings in force right now as a value; later updates
// never change a snapshot an operation already holds.
func (s *SettingsService) Snapshot(ctx context.Context) (models.BillingSettings, error) {
	stored, err := s.repo.Get(ctx)
	if err != nil {
		return models.BillingSettings{}, err
	}
	if stored == nil {
		return DefaultSettings(s.cfg), nil
	}
	return *stored, nil
}

func (s *SettingsService) Update(ctx context.Context, input UpdateSettingsInput) (models.BillingSettings, error) {
	current, err := s.Snapshot(ctx)
	if err != nil {
		return models.BillingSettings{}, err
	}
	if input.PackPriceMinor != nil {
		if *input.PackPriceMinor <= 0 {
			return models.BillingSettings{}, invalid("pack_price_minor", "must be positive")
		}
		current.PackPriceMinor = *input.PackPriceMinor
	}
	if input.Currency != nil {
		currency := strings.ToLower(strings.TrimSpace(*input.Currency))
		if len(currency) != 3 {
			return models.BillingSettings{}, invalid("currency", "must be a three letter ISO code")
		}
		current.Currency = currency
	}
	if input.CreditsPerPack != nil {
		if *input.CreditsPerPack <= 0 {
			return models.BillingSettings{}, invalid("credits_per_pack", "must be positive")
		}
		current.CreditsPerPack = *input.CreditsPerPack
	}
	if input.RefundOnFailure != nil {
		current.RefundOnFailure = *input.RefundOnFailure
	}
	if input.FreeTrialCredits != nil {
		if *input.FreeTrialCredits < 0 {
			return models.BillingSettings{}, invalid("free_trial_credits", "must not be negative")
		}
		current.FreeTrialCredits = *input.FreeTrialCredits
	}
	if err := s.repo.Save(ctx, &current); err != nil {
		return models.BillingSettings{}, err
	}
	return current, nil
}
