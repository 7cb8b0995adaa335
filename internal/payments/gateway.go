package payments

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"paybridge/internal/domain/transactions"
)

// Gateway defines a common interface for all payment providers
type Gateway interface {
	BuildLaunch(ctx context.Context, txn *transactions.Transaction) (LaunchDescriptor, error)
	Verify(ctx context.Context, txn *transactions.Transaction, proof Proof) (Outcome, error)
}

const maxGatewayBody = 1 << 20

func readGatewayBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrGatewayUnavailable, err)
	}
	return raw, nil
}
