package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/digkill/photoremix/internal/billing"
	"github.com/digkill/photoremix/internal/models"
	"github.com/digkill/photoremix/internal/repository"
)

const maxCheckoutQuantity = 100

// CheckoutService starts hosted checkouts. The provider call runs in the
// background and callers poll Get until the session leaves pending.
type CheckoutService struct {
	log      *slog.Logger
	sessions *repository.CheckoutRepository
	ledger   *Ledger
	settings *SettingsService
	provider PaymentProvider

	wg sync.WaitGroup
}

func NewCheckoutService(log *slog.Logger, sessions *repository.CheckoutRepository, ledger *Ledger, settings *SettingsService, provider PaymentProvider) *CheckoutService {
	return &CheckoutService{
		log:      log,
		sessions: sessions,
		ledger:   ledger,
		settings: settings,
		provider: provider,
	}
}

func (s *CheckoutService) Start(ctx context.Context, identity string, quantity int) (*models.CheckoutSession, error) {
	if quantity < 1 || quantity > maxCheckoutQuantity {
		return nil, invalid("quantity", fmt.Sprintf("must be between 1 and %d", maxCheckoutQuantity))
	}
	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := s.ledger.GetOrCreateAccount(ctx, settings, identity)
	if err != nil {
		return nil, err
	}

	session := &models.CheckoutSession{
		ID:       uuid.NewString(),
		Owner:    identity,
		Quantity: quantity,
		Status:   models.CheckoutPending,
	}
	if err := s.sessions.Insert(ctx, session); err != nil {
		return nil, err
	}

	req := billing.CheckoutRequest{
		ReferenceID:     session.ID,
		Identity:        identity,
		CustomerID:      acc.PaymentCustomerID,
		Quantity:        quantity,
		UnitAmountMinor: settings.PackPriceMinor,
		Currency:        settings.Currency,
		ProductName:     fmt.Sprintf("%d photo credits", settings.CreditsPerPack),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.finalize(context.WithoutCancel(ctx), session.ID, req)
	}()
	return session, nil
}

func (s *CheckoutService) finalize(ctx context.Context, id string, req billing.CheckoutRequest) {
	res, err := s.provider.CreateCheckout(ctx, req)
	if err != nil {
		s.log.Error("create checkout", "session_id", id, "identity", req.Identity, "err", err)
		if _, ferr := s.sessions.Fail(ctx, id, err.Error()); ferr != nil {
			s.log.Error("record checkout failure", "session_id", id, "err", ferr)
		}
		return
	}
	if _, err := s.sessions.Complete(ctx, id, res.SessionID, res.URL, res.ClientSecret); err != nil {
		s.log.Error("record checkout session", "session_id", id, "err", err)
		return
	}
	s.log.Info("checkout ready", "session_id", id, "provider_session_id", res.SessionID, "identity", req.Identity)
}

// Wait blocks until every background finalisation has returned.
func (s *CheckoutService) Wait() {
	s.wg.Wait()
}

func (s *CheckoutService) Get(ctx context.Context, identity, id string) (*models.CheckoutSession, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Owner != identity {
		return nil, ErrNotFound
	}
	return session, nil
}
