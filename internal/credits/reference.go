// internal/credits/reference.go
package credits

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The order reference is the thread that ties an outbound order to the webhook
// that eventually comes back for it. We pack {accountID, credits, createdAt}
// into one delimited string, stuff it into the processor's metadata field at
// order creation, and decode it again when the "paid" notification arrives.
//
// No escaping is done. Account ids are generated by us (uuid-style) and never
// contain the delimiter, so a structured encoding would buy nothing except the
// risk of the processor mangling characters it doesn't like.

// Delimiter between reference fields. Must never appear in an account id.
const Delimiter = "__"

// ErrMalformedReference means the reference string could not be decoded into
// a usable {account, credits} pair. A paid event carrying one of these cannot
// be attributed to anyone, so callers must treat this loudly.
var ErrMalformedReference = errors.New("credits: malformed order reference")

// Reference is the decoded form of an order reference.
type Reference struct {
	AccountID string
	Credits   int64

	// CreatedAt is when the order was created. It is informational only:
	// nothing downstream validates it. Order expiry is enforced by the
	// processor, not replayed here.
	CreatedAt time.Time
}

// EncodeReference builds "<accountID>__<credits>__<epochMillis>".
// Callers guarantee accountID does not contain the delimiter.
func EncodeReference(accountID string, creditsPurchased int64) string {
	return fmt.Sprintf("%s%s%d%s%d", accountID, Delimiter, creditsPurchased, Delimiter, time.Now().UnixMilli())
}

// DecodeReference parses a reference produced by EncodeReference.
// It fails with ErrMalformedReference if fewer than two parts are present,
// the account id is empty, or the credit count is not a positive integer.
func DecodeReference(raw string) (*Reference, error) {
	parts := strings.Split(raw, Delimiter)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: expected at least 2 parts, got %d", ErrMalformedReference, len(parts))
	}

	accountID := parts[0]
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", ErrMalformedReference)
	}

	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: credits %q is not a positive integer", ErrMalformedReference, parts[1])
	}

	ref := &Reference{AccountID: accountID, Credits: n}

	// Timestamp is best-effort. Old references without one still decode.
	if len(parts) >= 3 {
		if millis, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			ref.CreatedAt = time.UnixMilli(millis)
		}
	}
	return ref, nil
}
