package payments

import (
	"paybridge/internal/domain/transactions"

	"github.com/shopspring/decimal"
)

// LaunchDescriptor is everything the caller needs to send the payer to the
// gateway: a form POST of Fields to URL (eSewa) or a plain redirect (Khalti).
type LaunchDescriptor struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Fields      map[string]string `json:"fields,omitempty"`
	ProviderRef string            `json:"provider_ref,omitempty"` // khalti pidx
	ExpiresAt   string            `json:"expires_at,omitempty"`
}

// Proof is what the payer brings back from the gateway. None of it is trusted
// on its own.
type Proof struct {
	Pidx string // khalti
	Data string // esewa base64 JSON token
}

// Outcome is a gateway's verified view of a transaction, in display units.
type Outcome struct {
	Status       transactions.Status
	Amount       decimal.Decimal
	ReferenceID  string
	GatewayState string // raw provider status, for logs
}
