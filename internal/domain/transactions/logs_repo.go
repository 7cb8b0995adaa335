package transactions

import (
	"context"
	"encoding/json"
	"fmt"

	"paybridge/internal/db"
)

type LogsRepository struct{ q db.Querier }

func NewLogsRepository(q db.Querier) *LogsRepository {
	return &LogsRepository{q: q}
}

func (r *LogsRepository) InsertLog(ctx context.Context, transactionID, logType string, payload any) error {
	var jb []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err == nil {
			jb = b
		}
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO transaction_logs (transaction_id, log_type, payload)
		VALUES ($1, $2, $3)
	`, transactionID, logType, jb)
	if err != nil {
		return fmt.Errorf("insert transaction_log: %w", err)
	}
	return nil
}

func (r *LogsRepository) ListLogs(ctx context.Context, transactionID string) ([]*Log, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, transaction_id, log_type, payload, created_at
		  FROM transaction_logs
		 WHERE transaction_id=$1
		 ORDER BY id ASC
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list transaction_logs: %w", err)
	}
	defer rows.Close()

	var out []*Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.TransactionID, &l.LogType, &l.Payload, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction_log: %w", err)
		}
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ LogsStore = (*LogsRepository)(nil)
