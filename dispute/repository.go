package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrAlreadyDisputed signals a second dispute attempt for the same order.
var ErrAlreadyDisputed = errors.New("dispute: order already disputed")

// Repository owns the SQL for dispute rows. All writes run inside the
// caller's transaction so the dispute insert and the order's terminal
// transition commit or roll back together.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert writes the dispute record. The unique index on order_id turns a
// concurrent double-file into a constraint violation rather than two rows.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	const query = `
		INSERT INTO disputes (id, order_id, issue_category, description, photo_refs)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, order_id, issue_category::text, description, photo_refs, created_at
	`

	var out Record
	err := tx.QueryRow(ctx, query, rec.ID, rec.OrderID, rec.Issue, rec.Description, rec.PhotoRefs).
		Scan(&out.ID, &out.OrderID, &out.Issue, &out.Description, &out.PhotoRefs, &out.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrAlreadyDisputed
		}
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return out, nil
}

// GetByOrder fetches the dispute attached to an order, if any.
func (r *Repository) GetByOrder(ctx context.Context, q querier, orderID string) (Record, error) {
	const query = `
		SELECT id, order_id, issue_category::text, description, photo_refs, created_at
		FROM disputes
		WHERE order_id = $1
	`

	var out Record
	err := q.QueryRow(ctx, query, orderID).
		Scan(&out.ID, &out.OrderID, &out.Issue, &out.Description, &out.PhotoRefs, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: query by order: %w", err)
	}
	return out, nil
}

// ErrNotFound signals no dispute exists for the order.
var ErrNotFound = errors.New("dispute: not found")

// querier is satisfied by both pgx.Tx and pgxpool.Pool.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
