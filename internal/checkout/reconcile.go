package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paybridge/internal/payments"
)

type ReconcileReport struct {
	Checked int
	Settled int
	Pending int
	Errors  int
}

// ReconcilePending re-verifies PENDING transactions created more than
// olderThan ago, without any payer proof. Khalti transactions whose launch
// never returned a pidx are not listed by the store and stay PENDING.
func (s *Service) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (ReconcileReport, error) {
	var report ReconcileReport

	pending, err := s.txns.ListPending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return report, fmt.Errorf("list pending transactions: %w", err)
	}

	for _, txn := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		report.Checked++
		res, err := s.confirm(ctx, txn, payments.Proof{})
		switch {
		case errors.Is(err, payments.ErrAmountMismatch):
			report.Settled++
		case err != nil:
			report.Errors++
		case res.Status.Terminal():
			report.Settled++
		default:
			report.Pending++
		}
	}

	if report.Checked > 0 {
		s.logger.Infow("reconciled pending payments",
			"checked", report.Checked,
			"settled", report.Settled,
			"pending", report.Pending,
			"errors", report.Errors,
		)
	}
	return report, nil
}
