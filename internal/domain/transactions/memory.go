package transactions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps transactions and their audit log in process. It backs the
// tests and local runs without DB_ADDR; every method is safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	txns   map[string]Transaction
	logs   []Log
	nextID int64
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txns: make(map[string]Transaction),
		now:  time.Now,
	}
}

// copies keep callers from mutating stored state through returned pointers.
func clone(t Transaction) *Transaction {
	if t.ProviderRef != nil {
		v := *t.ProviderRef
		t.ProviderRef = &v
	}
	if t.ReferenceID != nil {
		v := *t.ReferenceID
		t.ReferenceID = &v
	}
	return &t
}

func (m *MemoryStore) Create(ctx context.Context, t *Transaction) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.txns[t.ID]; exists {
		return nil, fmt.Errorf("create transaction %q: %w", t.ID, ErrConflict)
	}

	now := m.now()
	t.Status = StatusPending
	t.CreatedAt = now
	t.UpdatedAt = now
	m.txns[t.ID] = *clone(*t)
	return t, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txns[id]
	if !ok {
		return nil, nil
	}
	return clone(t), nil
}

func (m *MemoryStore) SetProviderRef(ctx context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txns[id]
	if !ok {
		return fmt.Errorf("set provider_ref: transaction %q not found", id)
	}
	t.ProviderRef = &ref
	t.UpdatedAt = m.now()
	m.txns[id] = t
	return nil
}

func (m *MemoryStore) Transition(ctx context.Context, id string, to Status, referenceID string) (*Transaction, bool, error) {
	if !to.Terminal() {
		return nil, false, fmt.Errorf("transition to non-terminal status %q", to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txns[id]
	if !ok {
		return nil, false, nil
	}
	if t.Status != StatusPending {
		return clone(t), false, nil
	}

	t.Status = to
	if referenceID != "" {
		t.ReferenceID = &referenceID
	}
	t.UpdatedAt = m.now()
	m.txns[id] = t
	return clone(t), true, nil
}

func (m *MemoryStore) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Transaction
	for _, t := range m.txns {
		if t.Status != StatusPending || !t.CreatedAt.Before(createdBefore) {
			continue
		}
		// no pidx, nothing to look up
		if t.Gateway == GatewayKhalti && t.ProviderRef == nil {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) List(ctx context.Context, status string, since *time.Time, limit, offset int) ([]*Transaction, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*Transaction
	for _, t := range m.txns {
		if status != "" && string(t.Status) != status {
			continue
		}
		if since != nil && t.CreatedAt.Before(*since) {
			continue
		}
		matched = append(matched, clone(t))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *MemoryStore) InsertLog(ctx context.Context, transactionID, logType string, payload any) error {
	var jb json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err == nil {
			jb = b
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.logs = append(m.logs, Log{
		ID:            m.nextID,
		TransactionID: transactionID,
		LogType:       logType,
		Payload:       jb,
		CreatedAt:     m.now(),
	})
	return nil
}

func (m *MemoryStore) ListLogs(ctx context.Context, transactionID string) ([]*Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Log
	for _, l := range m.logs {
		if l.TransactionID == transactionID {
			l := l
			out = append(out, &l)
		}
	}
	return out, nil
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ LogsStore = (*MemoryStore)(nil)
)
