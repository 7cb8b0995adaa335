package checkout

import (
	"context"
	"fmt"

	"paybridge/internal/domain/transactions"
	"paybridge/internal/payments"
)

// Relaunch rebuilds the eSewa form for a transaction that is still PENDING.
// eSewa signing is local, so the same signed form can be produced again.
// Khalti is excluded: a second initiate would issue a new pidx.
// eSewa refuses a transaction_uuid it has already seen, so this only helps a
// payer who never reached the form.
func (s *Service) Relaunch(ctx context.Context, id string) (payments.LaunchDescriptor, error) {
	txn, err := s.txns.GetByID(ctx, id)
	if err != nil {
		return payments.LaunchDescriptor{}, fmt.Errorf("load transaction: %w", err)
	}
	if txn == nil {
		return payments.LaunchDescriptor{}, fmt.Errorf("%w: %s", payments.ErrNotFound, id)
	}
	if txn.Gateway != transactions.GatewayEsewa {
		return payments.LaunchDescriptor{}, fmt.Errorf("%w: transaction %s is not an eSewa payment", payments.ErrInvalidRequest, id)
	}
	if txn.Status.Terminal() {
		return payments.LaunchDescriptor{}, fmt.Errorf("%w: transaction %s is already %s", payments.ErrInvalidRequest, id, txn.Status)
	}
	return s.gateways.BuildLaunch(ctx, txn)
}
