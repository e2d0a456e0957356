package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/photoremix/internal/database"
	"github.com/digkill/photoremix/internal/metrics"
	"github.com/digkill/photoremix/internal/models"
	"github.com/digkill/photoremix/internal/repository"
)

// Ledger owns every change to credit balances. Balances only move through
// single conditional statements, so they never go negative.
type Ledger struct {
	log      *slog.Logger
	db       *database.DB
	accounts *repository.AccountRepository
}

func NewLedger(log *slog.Logger, db *database.DB, accounts *repository.AccountRepository) *Ledger {
	return &Ledger{log: log, db: db, accounts: accounts}
}

// GetOrCreateAccount returns the account, creating it with the free trial
// balance on first sight. Concurrent first calls create exactly one row.
func (l *Ledger) GetOrCreateAccount(ctx context.Context, settings models.BillingSettings, identity string) (*models.Account, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, invalid("identity", "is required")
	}
	if err := l.ensure(ctx, l.accounts, settings, identity); err != nil {
		return nil, err
	}
	acc, err := l.accounts.Get(ctx, identity)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("account %s vanished after creation", identity)
	}
	return acc, nil
}

func (l *Ledger) Balance(ctx context.Context, identity string) (*models.Account, error) {
	acc, err := l.accounts.Get(ctx, identity)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrNotFound
	}
	return acc, nil
}

func (l *Ledger) ensure(ctx context.Context, accounts *repository.AccountRepository, settings models.BillingSettings, identity string) error {
	created, err := accounts.Ensure(ctx, identity, settings.FreeTrialCredits)
	if err != nil {
		return err
	}
	if created {
		l.log.Info("account created", "identity", identity, "trial_credits", settings.FreeTrialCredits)
		if settings.FreeTrialCredits > 0 {
			metrics.CreditsTotal.WithLabelValues("trial").Add(float64(settings.FreeTrialCredits))
		}
	}
	return nil
}

// GrantCredits adds amount to the balance, creating the account when missing.
func (l *Ledger) GrantCredits(ctx context.Context, settings models.BillingSettings, identity string, amount int) (int, error) {
	if strings.TrimSpace(identity) == "" {
		return 0, invalid("identity", "is required")
	}
	if amount <= 0 {
		return 0, invalid("amount", "must be positive")
	}
	var balance int
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := l.GrantInTx(ctx, tx, settings, identity, amount); err != nil {
			return err
		}
		acc, err := l.accounts.WithTx(tx).Get(ctx, identity)
		if err != nil {
			return err
		}
		balance = acc.Credits
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.CreditsTotal.WithLabelValues("granted").Add(float64(amount))
	return balance, nil
}

func (l *Ledger) GrantInTx(ctx context.Context, tx *sql.Tx, settings models.BillingSettings, identity string, amount int) error {
	accounts := l.accounts.WithTx(tx)
	if err := l.ensure(ctx, accounts, settings, identity); err != nil {
		return err
	}
	ok, err := accounts.Credit(ctx, identity, amount)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("credit %s: account not found", identity)
	}
	return nil
}

// DebitInTx reserves amount or fails with ErrInsufficientCredits.
func (l *Ledger) DebitInTx(ctx context.Context, tx *sql.Tx, identity string, amount int) error {
	ok, err := l.accounts.WithTx(tx).Debit(ctx, identity, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientCredits
	}
	return nil
}

// Refund returns amount when the settings enable refunds. It reports whether
// the balance changed.
func (l *Ledger) Refund(ctx context.Context, settings models.BillingSettings, identity string, amount int) (bool, error) {
	var refunded bool
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		refunded, err = l.RefundInTx(ctx, tx, settings, identity, amount)
		return err
	})
	return refunded, err
}

func (l *Ledger) RefundInTx(ctx context.Context, tx *sql.Tx, settings models.BillingSettings, identity string, amount int) (bool, error) {
	if !settings.RefundOnFailure || amount <= 0 {
		return false, nil
	}
	ok, err := l.accounts.WithTx(tx).Credit(ctx, identity, amount)
	if err != nil {
		return false, err
	}
	return ok, nil
}
