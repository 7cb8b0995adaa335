package transactions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrConflict = errors.New("transaction already exists")

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

type Gateway string

const (
	GatewayEsewa  Gateway = "esewa"  // WalletA: signed form POST
	GatewayKhalti Gateway = "khalti" // WalletB: initiate + pidx lookup
)

// ParseGateway accepts the provider name or its wallet alias, case-insensitively.
func ParseGateway(s string) (Gateway, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "esewa", "walleta", "wallet-a":
		return GatewayEsewa, true
	case "khalti", "walletb", "wallet-b":
		return GatewayKhalti, true
	default:
		return "", false
	}
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Transaction struct {
	ID          string          `json:"id"`
	Gateway     Gateway         `json:"gateway"`
	Amount      decimal.Decimal `json:"amount"` // NPR, display unit
	Customer    Customer        `json:"customer"`
	ProductName string          `json:"product_name"`
	Status      Status          `json:"status"`
	ProviderRef *string         `json:"provider_ref"` // khalti pidx
	ReferenceID *string         `json:"reference_id"` // gateway settlement ref
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Store interface {
	Create(ctx context.Context, t *Transaction) (*Transaction, error)
	GetByID(ctx context.Context, id string) (*Transaction, error)
	SetProviderRef(ctx context.Context, id, ref string) error

	// Transition moves a PENDING transaction to a terminal status. It reports
	// false, together with the stored row, when the transaction was already
	// terminal. A missing id yields (nil, false, nil).
	Transition(ctx context.Context, id string, to Status, referenceID string) (*Transaction, bool, error)

	// ListPending returns the oldest PENDING transactions that a gateway can
	// be asked about. Khalti rows that never received a pidx are left out.
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*Transaction, error)
	List(ctx context.Context, status string, since *time.Time, limit, offset int) ([]*Transaction, int, error)
}
