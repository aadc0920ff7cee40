// Package actors holds the concurrent workers of the stress suite. Each one
// hammers the database the way a production caller would: plain SQL using the
// same conditional updates the repositories issue, so races are resolved by
// the database and not by test-side coordination.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Confirmer plays the buyer: it repeatedly tries to confirm receipt of the
// seeded orders. The conditional update only lands while the order is still
// in delivered state with no dispute row.
func Confirmer(ctx context.Context, pool *pgxpool.Pool, orderIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id := orderIDs[rand.Intn(len(orderIDs))]
		_, err := pool.Exec(ctx, `
			UPDATE orders o
			SET status = 'completed', confirmed_at = now(), updated_at = now()
			WHERE o.id = $1
			  AND o.status = 'delivered'
			  AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.order_id = o.id)`, id)
		if err != nil {
			return fmt.Errorf("confirmer update: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Disputer plays an unhappy buyer: insert the dispute row and flip the order
// in one transaction. The unique order_id constraint and the status guard make
// the pair atomic under contention.
func Disputer(ctx context.Context, pool *pgxpool.Pool, orderIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id := orderIDs[rand.Intn(len(orderIDs))]
		if err := fileDispute(ctx, pool, id); err != nil {
			return err
		}
		time.Sleep(time.Duration(20+rand.Intn(60)) * time.Millisecond)
	}
}

func fileDispute(ctx context.Context, pool *pgxpool.Pool, orderID string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status::text FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status)
	if err != nil {
		return nil // row contention after chaos kill, retry next round
	}
	if status != "delivered" {
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO disputes (id, order_id, issue_category, description)
		VALUES (gen_random_uuid(), $1, 'damaged_goods', 'stress dispute')`, orderID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil // lost to another disputer
		}
		return fmt.Errorf("disputer insert: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status = 'disputed', updated_at = now()
		WHERE id = $1 AND status = 'delivered'`, orderID); err != nil {
		return fmt.Errorf("disputer flip: %w", err)
	}
	return tx.Commit(ctx)
}

// Sweeper plays a scheduler instance: it auto-completes every order past its
// confirmation deadline. Several sweepers run at once to prove redundant
// instances are safe.
func Sweeper(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `
			UPDATE orders o
			SET status = 'completed', auto_completed_at = now(), updated_at = now()
			WHERE o.status = 'delivered'
			  AND o.delivered_at + interval '24 hours' <= now()
			  AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.order_id = o.id)`)
		if err != nil {
			return fmt.Errorf("sweeper update: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(70)) * time.Millisecond)
	}
}

// Booker races to fix delivery windows on fresh orders, re-checking slot
// capacity inside the transaction exactly like the window assignment service.
func Booker(ctx context.Context, pool *pgxpool.Pool, supplierID, buyerID, buyerPhone string, slots []time.Time, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		slot := slots[rand.Intn(len(slots))]
		if err := bookSlot(ctx, pool, supplierID, buyerID, buyerPhone, slot); err != nil {
			return err
		}
		time.Sleep(time.Duration(15+rand.Intn(45)) * time.Millisecond)
	}
}

func bookSlot(ctx context.Context, pool *pgxpool.Pool, supplierID, buyerID, buyerPhone string, start time.Time) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var capacity int
	if err := tx.QueryRow(ctx,
		`SELECT slot_capacity FROM availability_rules WHERE supplier_id = $1`, supplierID).Scan(&capacity); err != nil {
		return nil
	}

	var booked int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE supplier_id = $1 AND window_start = $2 AND status <> 'disputed'`,
		supplierID, start).Scan(&booked); err != nil {
		return nil
	}
	if capacity > 0 && booked >= capacity {
		return nil // slot full, expected under contention
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, supplier_id, buyer_id, buyer_phone, fulfillment, status,
		                    window_start, window_end)
		VALUES (gen_random_uuid(), $1, $2, $3, 'delivery', 'window_confirmed', $4, $4 + interval '1 hour')`,
		supplierID, buyerID, buyerPhone, start); err != nil {
		return fmt.Errorf("booker insert: %w", err)
	}
	return tx.Commit(ctx)
}

// EventWriter appends timeline events with the MAX(seq)+1 pattern the
// repositories use, so the monotonic-seq oracle sees real contention.
func EventWriter(ctx context.Context, pool *pgxpool.Pool, orderIDs []string, stop <-chan struct{}) error {
	types := []string{"NOTE_ADDED", "DRIVER_PINGED"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id := orderIDs[rand.Intn(len(orderIDs))]
		ty := types[rand.Intn(len(types))]
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO timeline_events (order_id, seq, type, payload)
			SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, '{}'::jsonb
			FROM timeline_events WHERE order_id = $1`, id, ty)
		if err != nil {
			_ = tx.Rollback(ctx)
			continue
		}
		_ = tx.Commit(ctx)
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// OutboxWorker drains pending outbox messages with SKIP LOCKED, occasionally
// failing to exercise the retry counter.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			SELECT id FROM outbox WHERE status = 'pending'
			ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]int64, 0, 10)
		for rows.Next() {
			var id int64
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status = 'processed' WHERE id = $1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
