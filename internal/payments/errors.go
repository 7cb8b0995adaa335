package payments

import "errors"

// Failure kinds shared by the adapters and the checkout flow. Callers match
// them with errors.Is; the wrapping message carries the gateway detail.
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNotFound           = errors.New("transaction not found")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrInvalidProof       = errors.New("invalid payment proof")
	ErrAmountMismatch     = errors.New("amount mismatch")
)
