package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const TopicPaymentSettled = "payment.settled"

// PaymentSettled is emitted once per transaction, by whichever confirmation
// moved it out of PENDING.
type PaymentSettled struct {
	TransactionID string          `json:"transaction_id"`
	Gateway       string          `json:"gateway"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Nop discards events; used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
