package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no order row exists for the identifier.
	ErrNotFound = errors.New("order: not found")
	// ErrDuplicateIdempotencyKey signals a replayed delivery event.
	ErrDuplicateIdempotencyKey = errors.New("order: duplicate idempotency key")
)

const orderColumns = `
	id, supplier_id, buyer_id, buyer_phone, fulfillment, status::text,
	window_start, window_end, negotiable, preference_note,
	delivered_at, confirmed_at, auto_completed_at, created_at, updated_at
`

// Repository owns the SQL for order rows and their transactional side tables
// (order_items, timeline_events, outbox, idempotency).
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.SupplierID,
		&o.BuyerID,
		&o.BuyerPhone,
		&o.Fulfillment,
		&o.Status,
		&o.WindowStart,
		&o.WindowEnd,
		&o.Negotiable,
		&o.PreferenceNote,
		&o.DeliveredAt,
		&o.ConfirmedAt,
		&o.AutoCompletedAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: scan: %w", err)
	}
	return o, nil
}

// Insert writes a new order in state created.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, o Order) (Order, error) {
	const query = `
		INSERT INTO orders (id, supplier_id, buyer_id, buyer_phone, fulfillment, status)
		VALUES ($1, $2, $3, $4, $5, 'created')
		RETURNING` + orderColumns

	return scanOrder(tx.QueryRow(ctx, query, o.ID, o.SupplierID, o.BuyerID, o.BuyerPhone, o.Fulfillment))
}

// InsertItems writes the order lines belonging to a new order.
func (r *Repository) InsertItems(ctx context.Context, tx pgx.Tx, orderID string, items []Item) error {
	const query = `
		INSERT INTO order_items (order_id, name, quantity, unit, unit_price)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, item := range items {
		if _, err := tx.Exec(ctx, query, orderID, item.Name, item.Quantity, item.Unit, item.UnitPrice); err != nil {
			return fmt.Errorf("order: insert item: %w", err)
		}
	}
	return nil
}

// GetForUpdate locks the order row for the duration of the transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	const query = `SELECT` + orderColumns + `FROM orders WHERE id = $1 FOR UPDATE`
	return scanOrder(tx.QueryRow(ctx, query, id))
}

// Get fetches an order with its items, lock-free.
func (r *Repository) Get(ctx context.Context, id string) (Order, error) {
	const query = `SELECT` + orderColumns + `FROM orders WHERE id = $1`
	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return Order{}, err
	}

	const itemQuery = `
		SELECT name, quantity, unit, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, itemQuery, id)
	if err != nil {
		return Order{}, fmt.Errorf("order: query items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.Name, &item.Quantity, &item.Unit, &item.UnitPrice); err != nil {
			return Order{}, fmt.Errorf("order: scan item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Order{}, fmt.Errorf("order: iterate items: %w", err)
	}

	return o, nil
}

// Filters narrows List to one buyer's orders, optionally by status.
type Filters struct {
	BuyerID  string
	Status   Status
	Page     int
	PageSize int
}

// List returns a page of the buyer's orders, newest first, plus the total count.
func (r *Repository) List(ctx context.Context, filters Filters) ([]Order, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	query := `SELECT` + orderColumns + `FROM orders WHERE buyer_id = $1`
	countQuery := `SELECT COUNT(*) FROM orders WHERE buyer_id = $1`
	args := []any{filters.BuyerID}
	if filters.Status != "" {
		query += ` AND status = $2`
		countQuery += ` AND status = $2`
		args = append(args, filters.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("order: list: %w", err)
	}
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("order: iterate: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("order: count: %w", err)
	}

	return orders, total, nil
}

// CountWindowBookings counts orders already holding the given slot start for
// the supplier. Callers hold the order row lock; the count is still advisory
// under concurrent assignment, which is why it runs inside the same tx as the
// window write.
func (r *Repository) CountWindowBookings(ctx context.Context, tx pgx.Tx, supplierID string, start time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM orders
		WHERE supplier_id = $1
		  AND window_start = $2
		  AND status <> 'disputed'
	`
	var n int
	if err := tx.QueryRow(ctx, query, supplierID, start).Scan(&n); err != nil {
		return 0, fmt.Errorf("order: count window bookings: %w", err)
	}
	return n, nil
}

// SetWindow fixes a concrete slot and advances created -> window_confirmed.
func (r *Repository) SetWindow(ctx context.Context, tx pgx.Tx, id string, w Window) (Order, error) {
	const query = `
		UPDATE orders
		SET window_start = $2,
		    window_end = $3,
		    negotiable = false,
		    preference_note = NULL,
		    status = 'window_confirmed',
		    updated_at = now()
		WHERE id = $1 AND status = 'created'
		RETURNING` + orderColumns

	o, err := scanOrder(tx.QueryRow(ctx, query, id, w.Start, w.End))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Order{}, fmt.Errorf("order: set window: %w", ErrInvalidTransition)
		}
		return Order{}, err
	}
	return o, nil
}

// SetNegotiable marks the window as pending a supplier proposal.
func (r *Repository) SetNegotiable(ctx context.Context, tx pgx.Tx, id string, note *string) (Order, error) {
	const query = `
		UPDATE orders
		SET negotiable = true,
		    window_start = NULL,
		    window_end = NULL,
		    preference_note = $2,
		    updated_at = now()
		WHERE id = $1 AND status = 'created'
		RETURNING` + orderColumns

	o, err := scanOrder(tx.QueryRow(ctx, query, id, note))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Order{}, fmt.Errorf("order: set negotiable: %w", ErrInvalidTransition)
		}
		return Order{}, err
	}
	return o, nil
}

// SetStatus applies a plain status move. The caller validates legality via
// CanTransition against a row it holds FOR UPDATE.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) (Order, error) {
	const query = `
		UPDATE orders
		SET status = $3,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING` + orderColumns

	o, err := scanOrder(tx.QueryRow(ctx, query, id, from, to))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Order{}, fmt.Errorf("order: %s -> %s: %w", from, to, ErrInvalidTransition)
		}
		return Order{}, err
	}
	return o, nil
}

// MarkDelivered stamps delivered_at and opens the confirmation window.
func (r *Repository) MarkDelivered(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Order, error) {
	const query = `
		UPDATE orders
		SET status = 'delivered',
		    delivered_at = $2,
		    updated_at = now()
		WHERE id = $1 AND status = 'in_transit'
		RETURNING` + orderColumns

	o, err := scanOrder(tx.QueryRow(ctx, query, id, at))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Order{}, fmt.Errorf("order: mark delivered: %w", ErrInvalidTransition)
		}
		return Order{}, err
	}
	return o, nil
}

// CompleteByBuyer is the buyer-confirmation arm of the terminal transition.
// The WHERE clause is the compare-and-set: it only lands while the order is
// still delivered and undisputed.
func (r *Repository) CompleteByBuyer(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Order, error) {
	const query = `
		UPDATE orders o
		SET status = 'completed',
		    confirmed_at = $2,
		    updated_at = now()
		WHERE o.id = $1
		  AND o.status = 'delivered'
		  AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.order_id = o.id)
		RETURNING` + orderColumns

	return scanOrder(tx.QueryRow(ctx, query, id, at))
}

// AutoComplete is the scheduler's arm of the terminal transition. It is a
// single conditional update so redundant firings from concurrent sweepers
// resolve to exactly one winner; everyone else matches zero rows.
func (r *Repository) AutoComplete(ctx context.Context, tx pgx.Tx, id string, now time.Time) (Order, error) {
	const query = `
		UPDATE orders o
		SET status = 'completed',
		    auto_completed_at = $2,
		    updated_at = now()
		WHERE o.id = $1
		  AND o.status = 'delivered'
		  AND o.delivered_at + interval '24 hours' <= $2
		  AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.order_id = o.id)
		RETURNING` + orderColumns

	return scanOrder(tx.QueryRow(ctx, query, id, now))
}

// DueForAutoCompletion lists orders whose confirmation window has elapsed with
// neither a confirmation nor a dispute recorded. Eligibility derives purely
// from delivered_at, so a restarted scheduler picks up exactly where the
// clock says it should.
func (r *Repository) DueForAutoCompletion(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT o.id
		FROM orders o
		WHERE o.status = 'delivered'
		  AND o.delivered_at + interval '24 hours' <= $1
		  AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.order_id = o.id)
		ORDER BY o.delivered_at
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("order: query due: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("order: scan due id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate due: %w", err)
	}

	return ids, nil
}

// InsertIdempotencyKey reserves the delivery-event key inside the active
// transaction so webhook replays collapse to a no-op.
func (r *Repository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("order: empty idempotency key")
	}

	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("order: insert idempotency key: %w", err)
	}

	return nil
}

// AppendTimeline records an immutable business event for the order.
func (r *Repository) AppendTimeline(ctx context.Context, tx pgx.Tx, orderID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("order: marshal timeline payload: %w", err)
	}

	const query = `
		INSERT INTO timeline_events (order_id, seq, type, actor_id, payload)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4::jsonb
		FROM timeline_events
		WHERE order_id = $1
	`
	if _, err := tx.Exec(ctx, query, orderID, eventType, actorID, body); err != nil {
		return fmt.Errorf("order: insert timeline event: %w", err)
	}
	return nil
}

// EnqueueOutbox places a message on the transactional outbox.
func (r *Repository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("order: marshal outbox payload: %w", err)
	}

	const query = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, query, topic, body); err != nil {
		return fmt.Errorf("order: enqueue outbox: %w", err)
	}
	return nil
}
