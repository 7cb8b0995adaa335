package transactions

import (
	"context"
	"encoding/json"
	"time"
)

const (
	LogRequest       = "request"
	LogError         = "error"
	LogVerification  = "verification"
	LogProofRejected = "proof_rejected"
)

type Log struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id"`
	LogType       string          `json:"log_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type LogsStore interface {
	InsertLog(ctx context.Context, transactionID, logType string, payload any) error
	ListLogs(ctx context.Context, transactionID string) ([]*Log, error)
}
