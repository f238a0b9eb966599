/*
gateway.go - Payment gateway contract

PURPOSE:
  The engine depends on exactly two gateway operations: initialize a hosted
  checkout for a deposit, and verify a transaction reference. Everything
  else about the gateway (auth, retries, payload shape) belongs to the
  adapter behind this interface.

OUTCOME SEMANTICS:
  Initialize/Verify return an error ONLY for transport-level failures
  (wrapped as *GatewayError, outcome unknown, retryable). A payment the
  gateway definitively reports as unsuccessful is NOT an error from Verify:
  it comes back as Success=false with the raw payload, and the engine marks
  the entry failed.

SEE ALSO:
  - gateway/hosted: HTTP implementation
  - engine.go: The only caller
*/
package savings

import (
	"context"
	"encoding/json"
)

// PaymentInit is the request to open a hosted checkout session.
type PaymentInit struct {
	// AmountMinor is the deposit amount in minor currency units.
	AmountMinor int64
	PayerEmail  string
	Reference   string
	Metadata    map[string]string
}

// PaymentSession is the result of a successful initialization.
type PaymentSession struct {
	RedirectURL string
	Reference   string
	Raw         json.RawMessage
}

// PaymentResult is the verification outcome for a reference.
type PaymentResult struct {
	Success bool
	// Status is the gateway's own status word ("success", "failed",
	// "abandoned", ...), kept for audit.
	Status      string
	AmountMinor int64
	Raw         json.RawMessage
}

// PaymentGateway is the two-method contract the engine depends on.
type PaymentGateway interface {
	Initialize(ctx context.Context, init PaymentInit) (*PaymentSession, error)
	Verify(ctx context.Context, reference string) (*PaymentResult, error)
}
