// internal/payment/webhook/processor.webhook.go
package webhook

import (
	"context"

	"github.com/Reptitalz/credits-service/internal/payment"
)

// Processor verifies and parses one payment provider's webhook traffic.
//
// VerifyAndParse returns:
//   - (event, nil)  for an authentic, recognized payment event,
//   - (nil, nil)    for an authentic but ignorable delivery (a type we do
//     not act on), which the caller acknowledges with 2xx,
//   - (nil, err)    wrapping payment.ErrSignatureInvalid or
//     payment.ErrMalformedPayload for rejects, or any other error for a
//     transient failure (e.g. a follow-up lookup timed out).
type Processor interface {
	Provider() string
	VerifyAndParse(ctx context.Context, payload []byte, headers map[string]string) (*payment.NormalizedEvent, error)
}
