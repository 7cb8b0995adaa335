package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paybridge/internal/domain/transactions"
	"paybridge/internal/events"
	"paybridge/internal/payments"
)

// Confirm settles a transaction against its gateway. The gateway's answer is
// the only thing that can move a record out of PENDING; the caller's proof is
// checked, never trusted. Confirming a terminal transaction returns the
// stored status without contacting the gateway.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (Result, error) {
	id := strings.TrimSpace(req.TransactionID)
	if id == "" {
		return Result{}, fmt.Errorf("%w: transaction id is required", payments.ErrInvalidRequest)
	}

	txn, err := s.txns.GetByID(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("load transaction: %w", err)
	}
	if txn == nil {
		return Result{}, fmt.Errorf("%w: %s", payments.ErrNotFound, id)
	}

	return s.confirm(ctx, txn, payments.Proof{Pidx: req.Pidx, Data: req.Data})
}

func (s *Service) confirm(ctx context.Context, txn *transactions.Transaction, proof payments.Proof) (Result, error) {
	if txn.Status.Terminal() {
		return resultOf(txn), nil
	}

	out, err := s.gateways.Verify(ctx, txn, proof)
	switch {
	case errors.Is(err, payments.ErrInvalidProof):
		// the record is left alone: a forged proof must not be able to fail
		// someone else's payment
		s.logger.Warnw("payment proof rejected", "transaction_id", txn.ID, "gateway", txn.Gateway, "err", err)
		s.audit(ctx, txn.ID, transactions.LogProofRejected, map[string]any{
			"pidx":     proof.Pidx,
			"has_data": proof.Data != "",
			"error":    err.Error(),
		})
		res := resultOf(txn)
		res.Status = transactions.StatusFailed
		return res, err

	case errors.Is(err, payments.ErrAmountMismatch):
		return s.mismatch(ctx, txn, out, err)

	case err != nil:
		s.logger.Warnw("payment verification failed", "transaction_id", txn.ID, "gateway", txn.Gateway, "err", err)
		s.audit(ctx, txn.ID, transactions.LogError, map[string]any{
			"stage": "verify",
			"error": err.Error(),
		})
		return resultOf(txn), err
	}

	switch out.Status {
	case transactions.StatusCompleted:
		if !out.Amount.Equal(txn.Amount) {
			return s.mismatch(ctx, txn, out, fmt.Errorf("%w: gateway reported %s, expected %s", payments.ErrAmountMismatch, out.Amount, txn.Amount))
		}
		return s.settle(ctx, txn, transactions.StatusCompleted, out)
	case transactions.StatusFailed:
		return s.settle(ctx, txn, transactions.StatusFailed, out)
	default:
		s.logger.Infow("payment still pending at gateway", "transaction_id", txn.ID, "gateway", txn.Gateway, "gateway_state", out.GatewayState)
		return resultOf(txn), nil
	}
}

func (s *Service) mismatch(ctx context.Context, txn *transactions.Transaction, out payments.Outcome, cause error) (Result, error) {
	s.logger.Warnw("payment amount mismatch, possible tampering",
		"transaction_id", txn.ID,
		"gateway", txn.Gateway,
		"expected", txn.Amount.String(),
		"reported", out.Amount.String(),
		"err", cause,
	)
	res, err := s.settle(ctx, txn, transactions.StatusFailed, out)
	if err != nil {
		return res, err
	}
	if res.Status == transactions.StatusFailed {
		return res, cause
	}
	return res, nil
}

// settle applies the terminal transition. Only the caller whose update wins
// writes the verification log and publishes the event; everyone else gets the
// stored status.
func (s *Service) settle(ctx context.Context, txn *transactions.Transaction, to transactions.Status, out payments.Outcome) (Result, error) {
	stored, won, err := s.txns.Transition(ctx, txn.ID, to, out.ReferenceID)
	if err != nil {
		return resultOf(txn), fmt.Errorf("transition transaction: %w", err)
	}
	if stored == nil {
		return Result{}, fmt.Errorf("%w: %s", payments.ErrNotFound, txn.ID)
	}
	if !won {
		return resultOf(stored), nil
	}

	s.audit(ctx, stored.ID, transactions.LogVerification, map[string]any{
		"status":          stored.Status,
		"gateway_state":   out.GatewayState,
		"reported_amount": out.Amount.String(),
		"reference_id":    out.ReferenceID,
	})

	event := events.PaymentSettled{
		TransactionID: stored.ID,
		Gateway:       string(stored.Gateway),
		Status:        string(stored.Status),
		Amount:        stored.Amount,
		ReferenceID:   out.ReferenceID,
		OccurredAt:    s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, stored.ID, event); err != nil {
		s.logger.Errorw("publish payment settled failed", "transaction_id", stored.ID, "err", err)
	}

	s.logger.Infow("payment settled", "transaction_id", stored.ID, "gateway", stored.Gateway, "status", stored.Status)
	return resultOf(stored), nil
}
