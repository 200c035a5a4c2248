// internal/accounts/account.go
package accounts

import (
	"context"
	"errors"
	"time"
)

// Account is the subset of the user record this service cares about.
// The full profile (assistants, wizard state, push endpoints) lives with the
// rest of the application; here we only read identity and mutate the balance.
type Account struct {
	ID        string
	Email     string
	Name      string
	Credits   int64 // prepaid credit balance, never negative
	CreatedAt time.Time
}

// ErrAccountNotFound is returned when an account id matches nothing.
// During reconciliation this is the worst case we have: money was collected
// for an account that does not exist.
var ErrAccountNotFound = errors.New("accounts: account not found")

// Store is the read side of the account record. The balance increment itself
// happens inside the reconciliation transaction, not through this interface,
// so nothing outside that transaction can write credits.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (*Account, error)
}
