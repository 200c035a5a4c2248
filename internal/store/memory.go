// internal/store/memory.go
package store

import (
	"context"
	"sync"

	"github.com/Reptitalz/credits-service/internal/accounts"
	"github.com/Reptitalz/credits-service/internal/payment"
)

// MemoryStore is an in-memory stand-in for the postgres store. It mirrors the
// same semantics, including the all-or-nothing Reconcile: a single mutex
// plays the role of the transaction, so concurrent reconcile attempts for the
// same payment id serialize exactly like they do against the unique index.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*accounts.Account
	receipts map[string]*payment.Receipt // keyed by provider payment id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*accounts.Account),
		receipts: make(map[string]*payment.Receipt),
	}
}

// SeedAccount installs an account for tests.
func (s *MemoryStore) SeedAccount(acc *accounts.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acc
	s.accounts[acc.ID] = &cp
}

func (s *MemoryStore) GetAccount(ctx context.Context, accountID string) (*accounts.Account, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, accounts.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *MemoryStore) GetReceiptByProviderPaymentID(ctx context.Context, providerPaymentID string) (*payment.Receipt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[providerPaymentID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// Reconcile applies the same contract as the postgres store: insert-if-absent
// receipt plus balance increment, atomically.
func (s *MemoryStore) Reconcile(ctx context.Context, receipt *payment.Receipt) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[receipt.ProviderPaymentID]; exists {
		return payment.ErrDuplicateReceipt
	}
	acc, ok := s.accounts[receipt.AccountID]
	if !ok {
		// Nothing written yet, so "rollback" is free.
		return accounts.ErrAccountNotFound
	}

	cp := *receipt
	s.receipts[receipt.ProviderPaymentID] = &cp
	acc.Credits += receipt.Credits
	return nil
}

// ReceiptCount reports how many receipts exist, for test assertions.
func (s *MemoryStore) ReceiptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}
