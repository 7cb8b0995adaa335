package payments

import (
	"context"
	"fmt"

	"paybridge/internal/domain/transactions"
)

// Manager dispatches to the adapter registered for a transaction's gateway.
// Register everything before serving; lookups are not synchronised.
type Manager struct {
	gateways map[transactions.Gateway]Gateway
}

func NewManager() *Manager {
	return &Manager{gateways: make(map[transactions.Gateway]Gateway)}
}

func (m *Manager) Register(name transactions.Gateway, gateway Gateway) {
	m.gateways[name] = gateway
}

func (m *Manager) Supports(name transactions.Gateway) bool {
	_, ok := m.gateways[name]
	return ok
}

func (m *Manager) get(name transactions.Gateway) (Gateway, error) {
	gateway, ok := m.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: gateway not registered: %s", ErrInvalidRequest, name)
	}
	return gateway, nil
}

func (m *Manager) BuildLaunch(ctx context.Context, txn *transactions.Transaction) (LaunchDescriptor, error) {
	gateway, err := m.get(txn.Gateway)
	if err != nil {
		return LaunchDescriptor{}, err
	}
	return gateway.BuildLaunch(ctx, txn)
}

func (m *Manager) Verify(ctx context.Context, txn *transactions.Transaction, proof Proof) (Outcome, error) {
	gateway, err := m.get(txn.Gateway)
	if err != nil {
		return Outcome{}, err
	}
	return gateway.Verify(ctx, txn, proof)
}
