package checkout

import (
	"context"
	"time"

	"paybridge/internal/domain/transactions"
	"paybridge/internal/events"
	"paybridge/internal/payments"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gateways is the part of payments.Manager the service needs.
type Gateways interface {
	Supports(name transactions.Gateway) bool
	BuildLaunch(ctx context.Context, txn *transactions.Transaction) (payments.LaunchDescriptor, error)
	Verify(ctx context.Context, txn *transactions.Transaction, proof payments.Proof) (payments.Outcome, error)
}

type Service struct {
	txns      transactions.Store
	logs      transactions.LogsStore
	gateways  Gateways
	publisher events.Publisher
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func New(txns transactions.Store, logs transactions.LogsStore, gateways Gateways, publisher events.Publisher, logger *zap.SugaredLogger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		txns:      txns,
		logs:      logs,
		gateways:  gateways,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

type InitiateRequest struct {
	TransactionID string
	Gateway       string
	Amount        decimal.Decimal
	Customer      transactions.Customer
	ProductName   string
}

type ConfirmRequest struct {
	TransactionID string
	Pidx          string
	Data          string
}

type Result struct {
	TransactionID string
	Gateway       transactions.Gateway
	Status        transactions.Status
	Amount        decimal.Decimal
	ReferenceID   string
}

func resultOf(t *transactions.Transaction) Result {
	r := Result{
		TransactionID: t.ID,
		Gateway:       t.Gateway,
		Status:        t.Status,
		Amount:        t.Amount,
	}
	if t.ReferenceID != nil {
		r.ReferenceID = *t.ReferenceID
	}
	return r
}

// audit writes a transaction log entry. A failed write is logged only.
func (s *Service) audit(ctx context.Context, txnID, logType string, payload any) {
	if err := s.logs.InsertLog(ctx, txnID, logType, payload); err != nil {
		s.logger.Errorw("insert transaction log failed", "transaction_id", txnID, "log_type", logType, "err", err)
	}
}
