package storage

import (
	"paybridge/internal/db"
	"paybridge/internal/domain/transactions"
)

type Container struct {
	Transactions transactions.Store
	Logs         transactions.LogsStore
}

// NewContainer wires the Postgres repositories; q is normally the *pgxpool.Pool.
func NewContainer(q db.Querier) *Container {
	return &Container{
		Transactions: transactions.NewRepository(q),
		Logs:         transactions.NewLogsRepository(q),
	}
}

// NewMemoryContainer backs both stores with one in-process MemoryStore, for
// local runs without a database.
func NewMemoryContainer() *Container {
	mem := transactions.NewMemoryStore()
	return &Container{
		Transactions: mem,
		Logs:         mem,
	}
}
