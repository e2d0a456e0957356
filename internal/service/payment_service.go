package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/photoremix/internal/billing"
	"github.com/digkill/photoremix/internal/database"
	"github.com/digkill/photoremix/internal/metrics"
	"github.com/digkill/photoremix/internal/models"
	"github.com/digkill/photoremix/internal/repository"
)

// PaymentService turns paid orders into credits exactly once per order id.
type PaymentService struct {
	log      *slog.Logger
	db       *database.DB
	payments *repository.PaymentRepository
	accounts *repository.AccountRepository
	ledger   *Ledger
	settings *SettingsService
}

type PaidOrder struct {
	OrderID     string
	Identity    string
	Provider    string
	ProviderRef string
	AmountMinor int64
	Currency    string
	Quantity    int
	CustomerID  string
}

type GrantResult struct {
	Granted int  `json:"granted"`
	Skipped bool `json:"skipped"`
	Balance int  `json:"balance"`
}

func NewPaymentService(log *slog.Logger, db *database.DB, payments *repository.PaymentRepository, accounts *repository.AccountRepository, ledger *Ledger, settings *SettingsService) *PaymentService {
	return &PaymentService{
		log:      log,
		db:       db,
		payments: payments,
		accounts: accounts,
		ledger:   ledger,
		settings: settings,
	}
}

// ProcessPaidOrder records the order and grants credits in one transaction.
// A second delivery of the same order id finds the row and grants nothing,
// and a crash before commit leaves neither the row nor the credits behind.
func (s *PaymentService) ProcessPaidOrder(ctx context.Context, order PaidOrder) (GrantResult, error) {
	if strings.TrimSpace(order.OrderID) == "" {
		return GrantResult{}, invalid("order_id", "is required")
	}
	if strings.TrimSpace(order.Identity) == "" {
		return GrantResult{}, invalid("identity", "is required")
	}
	if order.Quantity < 1 {
		order.Quantity = 1
	}

	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return GrantResult{}, err
	}
	credits := settings.CreditsPerPack * order.Quantity

	var result GrantResult
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		inserted, err := s.payments.WithTx(tx).InsertIfAbsent(ctx, &models.Payment{
			OrderID:     order.OrderID,
			Owner:       order.Identity,
			Provider:    order.Provider,
			ProviderRef: order.ProviderRef,
			AmountMinor: order.AmountMinor,
			Currency:    strings.ToLower(order.Currency),
			Credits:     credits,
			Status:      models.PaymentPaid,
		})
		if err != nil {
			return err
		}
		if !inserted {
			result.Skipped = true
			return nil
		}
		if err := s.ledger.GrantInTx(ctx, tx, settings, order.Identity, credits); err != nil {
			return err
		}
		accounts := s.accounts.WithTx(tx)
		if order.CustomerID != "" {
			if err := accounts.SetPaymentCustomerID(ctx, order.Identity, order.CustomerID); err != nil {
				return err
			}
		}
		acc, err := accounts.Get(ctx, order.Identity)
		if err != nil {
			return err
		}
		result.Granted = credits
		result.Balance = acc.Credits
		return nil
	})
	if err != nil {
		return GrantResult{}, fmt.Errorf("process order %s: %w", order.OrderID, err)
	}

	if result.Skipped {
		s.log.Info("order already processed", "order_id", order.OrderID, "identity", order.Identity)
		return result, nil
	}
	metrics.CreditsTotal.WithLabelValues("purchased").Add(float64(credits))
	s.log.Info("order credited", "order_id", order.OrderID, "identity", order.Identity,
		"provider", order.Provider, "credits", credits, "balance", result.Balance)
	return result, nil
}

// HandleOrderEvent applies a normalised provider event. Refunds and failures
// only change the payment status; credits may already be spent.
func (s *PaymentService) HandleOrderEvent(ctx context.Context, evt billing.OrderEvent) (GrantResult, error) {
	paid := evt.Type == billing.OrderPaid || (evt.Type == billing.OrderUpdated && evt.Status == models.PaymentPaid)
	if paid {
		return s.ProcessPaidOrder(ctx, PaidOrder{
			OrderID:     evt.OrderID,
			Identity:    evt.Identity,
			Provider:    billing.ProviderStripe,
			ProviderRef: evt.ProviderRef,
			AmountMinor: evt.AmountMinor,
			Currency:    evt.Currency,
			Quantity:    evt.Quantity,
			CustomerID:  evt.CustomerID,
		})
	}

	switch evt.Status {
	case models.PaymentRefunded:
		var (
			ok  bool
			err error
		)
		if evt.OrderID != "" {
			ok, err = s.payments.UpdateStatus(ctx, evt.OrderID, evt.Status)
		} else {
			ok, err = s.payments.UpdateStatusByProviderRef(ctx, evt.ProviderRef, evt.Status)
		}
		if err != nil {
			return GrantResult{}, err
		}
		if !ok {
			s.log.Info("refund for unknown order ignored", "order_id", evt.OrderID, "provider_ref", evt.ProviderRef)
			return GrantResult{Skipped: true}, nil
		}
		s.log.Info("order refunded", "order_id", evt.OrderID, "provider_ref", evt.ProviderRef)
		return GrantResult{Skipped: true}, nil
	case models.PaymentFailed:
		return GrantResult{Skipped: true}, s.recordFailedOrder(ctx, evt)
	default:
		s.log.Debug("order event ignored", "order_id", evt.OrderID, "type", evt.Type, "status", evt.Status)
		return GrantResult{Skipped: true}, nil
	}
}

// recordFailedOrder keeps a zero-credit row for an order whose payment never
// settled. An order that was already recorded keeps its row and is only
// marked failed when it was never paid.
func (s *PaymentService) recordFailedOrder(ctx context.Context, evt billing.OrderEvent) error {
	if evt.OrderID == "" || evt.Identity == "" {
		return invalid("order", "failed order needs an order id and identity")
	}
	inserted, err := s.payments.InsertIfAbsent(ctx, &models.Payment{
		OrderID:     evt.OrderID,
		Owner:       evt.Identity,
		Provider:    billing.ProviderStripe,
		ProviderRef: evt.ProviderRef,
		AmountMinor: evt.AmountMinor,
		Currency:    strings.ToLower(evt.Currency),
		Credits:     0,
		Status:      models.PaymentFailed,
	})
	if err != nil {
		return err
	}
	if inserted {
		s.log.Info("order payment failed", "order_id", evt.OrderID, "identity", evt.Identity)
		return nil
	}
	existing, err := s.payments.Get(ctx, evt.OrderID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status != models.PaymentPaid {
		_, err = s.payments.UpdateStatus(ctx, evt.OrderID, models.PaymentFailed)
	}
	return err
}

func (s *PaymentService) History(ctx context.Context, identity string, limit int) ([]models.Payment, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.payments.ListByOwner(ctx, identity, limit)
}
