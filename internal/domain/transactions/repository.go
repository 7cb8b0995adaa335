package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paybridge/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const selectColumns = `
	id, gateway, amount, customer_name, customer_email, customer_phone,
	product_name, status, provider_ref, reference_id, created_at, updated_at`

type Repository struct{ q db.Querier }

func NewRepository(q db.Querier) *Repository { return &Repository{q: q} }

func scanTransaction(row pgx.Row, extra ...any) (*Transaction, error) {
	var t Transaction
	dest := []any{
		&t.ID, &t.Gateway, &t.Amount, &t.Customer.Name, &t.Customer.Email, &t.Customer.Phone,
		&t.ProductName, &t.Status, &t.ProviderRef, &t.ReferenceID, &t.CreatedAt, &t.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) Create(ctx context.Context, t *Transaction) (*Transaction, error) {
	err := r.q.QueryRow(ctx, `
		INSERT INTO transactions (
			id, gateway, amount, customer_name, customer_email, customer_phone, product_name, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING')
		RETURNING status, created_at, updated_at
	`, t.ID, t.Gateway, t.Amount, t.Customer.Name, t.Customer.Email, t.Customer.Phone, t.ProductName).
		Scan(&t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("create transaction %q: %w", t.ID, ErrConflict)
		}
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return t, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Transaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx, `SELECT `+selectColumns+` FROM transactions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (r *Repository) SetProviderRef(ctx context.Context, id, ref string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE transactions SET provider_ref=$2, updated_at=now() WHERE id=$1
	`, id, ref)
	if err != nil {
		return fmt.Errorf("set provider_ref: %w", err)
	}
	return nil
}

func (r *Repository) Transition(ctx context.Context, id string, to Status, referenceID string) (*Transaction, bool, error) {
	if !to.Terminal() {
		return nil, false, fmt.Errorf("transition to non-terminal status %q", to)
	}

	var ref *string
	if referenceID != "" {
		ref = &referenceID
	}

	// The status guard makes this the single point where a transaction settles;
	// a concurrent caller matches zero rows and falls through to the re-read.
	t, err := scanTransaction(r.q.QueryRow(ctx, `
		UPDATE transactions
		   SET status=$2, reference_id=COALESCE($3, reference_id), updated_at=now()
		 WHERE id=$1 AND status='PENDING'
		RETURNING `+selectColumns, id, to, ref))
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("transition transaction: %w", err)
	}

	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

func (r *Repository) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+selectColumns+`
		  FROM transactions
		 WHERE status='PENDING' AND created_at < $1
		   AND NOT (gateway='khalti' AND provider_ref IS NULL)
		 ORDER BY created_at ASC
		 LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns transactions with optional filters:
// - status: if "" => no status filter
// - since: if nil => no time filter, else created_at >= *since
// along with the total match count for pagination.
func (r *Repository) List(
	ctx context.Context,
	status string,
	since *time.Time,
	limit, offset int,
) ([]*Transaction, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.q.Query(ctx, `
SELECT `+selectColumns+`,
  COUNT(*) OVER() AS total_count
FROM transactions
WHERE
  ($1 = '' OR status = $1)
  AND ($2::timestamptz IS NULL OR created_at >= $2::timestamptz)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4
`,
		status,
		since,
		limit,
		offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var (
		out   []*Transaction
		total int
	)
	for rows.Next() {
		var n int
		t, err := scanTransaction(rows, &n)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		if total == 0 {
			total = n
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return out, total, nil
}

var _ Store = (*Repository)(nil)
