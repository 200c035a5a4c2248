// internal/store/postgres/store.postgres.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Reptitalz/credits-service/internal/accounts"
	"github.com/Reptitalz/credits-service/internal/payment"
)

// Store is the transactional document store behind reconciliation. Both
// shared mutable resources of this subsystem (the account credit balance and
// the receipt table) are only ever written inside Reconcile's transaction.
type Store struct {
	db *sql.DB
}

func NewStore(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres db: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing handle (tests, shared pools).
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetAccount satisfies accounts.Store.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*accounts.Account, error) {
	query := `
		SELECT id, email, name, credits, created_at
		FROM accounts
		WHERE id = $1
	`
	var acc accounts.Account
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&acc.ID,
		&acc.Email,
		&acc.Name,
		&acc.Credits,
		&acc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, accounts.ErrAccountNotFound
		}
		return nil, fmt.Errorf("db: account fetch failed: %w", err)
	}
	return &acc, nil
}

// GetReceiptByProviderPaymentID is the cheap dedupe read. A missing receipt
// is (nil, nil): not yet reconciled is the normal starting state.
func (s *Store) GetReceiptByProviderPaymentID(ctx context.Context, providerPaymentID string) (*payment.Receipt, error) {
	query := `
		SELECT receipt_id, provider_payment_id, account_id, credits, amount_cents,
		       currency, provider, payment_method, status, payer_name, created_at
		FROM transaction_receipts
		WHERE provider_payment_id = $1
	`
	var r payment.Receipt
	err := s.db.QueryRowContext(ctx, query, providerPaymentID).Scan(
		&r.ReceiptID,
		&r.ProviderPaymentID,
		&r.AccountID,
		&r.Credits,
		&r.AmountCents,
		&r.Currency,
		&r.Provider,
		&r.PaymentMethod,
		&r.Status,
		&r.PayerName,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db: receipt fetch failed: %w", err)
	}
	return &r, nil
}

// Reconcile is the single linearization point of the whole subsystem.
//
// Inside one transaction:
//  1. insert the receipt with ON CONFLICT DO NOTHING on the unique
//     provider_payment_id. Zero rows affected means another delivery already
//     reconciled this payment; we bail out with ErrDuplicateReceipt and the
//     rollback undoes nothing because nothing was written.
//  2. increment the account balance. A decoded account that does not exist
//     is normally caught already at step 1 by the account_id foreign key
//     (mapped to accounts.ErrAccountNotFound); the zero-row check here is
//     the same answer for schemas without the constraint. Either way the
//     rollback removes the receipt, so a paid-but-unattributable event
//     leaves no partial state.
//
// Two concurrent deliveries of the same payment id serialize on the unique
// index: exactly one observes its insert succeed and commits the increment.
func (s *Store) Reconcile(ctx context.Context, receipt *payment.Receipt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin reconcile tx: %w", err)
	}
	defer tx.Rollback() // no-op after a successful Commit

	insertReceipt := `
		INSERT INTO transaction_receipts
			(receipt_id, provider_payment_id, account_id, credits, amount_cents,
			 currency, provider, payment_method, status, payer_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider_payment_id) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, insertReceipt,
		receipt.ReceiptID,
		receipt.ProviderPaymentID,
		receipt.AccountID,
		receipt.Credits,
		receipt.AmountCents,
		receipt.Currency,
		receipt.Provider,
		receipt.PaymentMethod,
		receipt.Status,
		receipt.PayerName,
		receipt.CreatedAt,
	)
	if err != nil {
		return mapReceiptInsertError(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return payment.ErrDuplicateReceipt
	}

	incrementCredits := `
		UPDATE accounts
		SET credits = credits + $1
		WHERE id = $2
	`
	res, err = tx.ExecContext(ctx, incrementCredits, receipt.Credits, receipt.AccountID)
	if err != nil {
		return fmt.Errorf("db: credit increment failed: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return accounts.ErrAccountNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db: reconcile commit failed: %w", err)
	}
	return nil
}

// foreignKeyViolation is SQLSTATE 23503, raised when the receipt's account_id
// points at no accounts row.
const foreignKeyViolation = pq.ErrorCode("23503")

// mapReceiptInsertError translates driver errors on the receipt insert into
// the reconciler's sentinels. The account_id foreign key fires before the
// balance UPDATE ever runs, so a missing account surfaces here, not as a
// zero-row update. Wrapping it generically would turn an unattributable
// payment into an endless processor retry instead of an operator alert.
func mapReceiptInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return accounts.ErrAccountNotFound
	}
	return fmt.Errorf("db: receipt insert failed: %w", err)
}
