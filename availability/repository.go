package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoRule signals the supplier has not configured an availability rule.
var ErrNoRule = errors.New("availability: no rule for supplier")

// Repository provides read access to availability rules and booking load.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRule fetches the supplier's rule together with its blackout dates.
func (r *Repository) GetRule(ctx context.Context, supplierID string) (Rule, error) {
	const query = `
		SELECT supplier_id, open_weekdays, open_minute, close_minute, cutoff_minute,
		       lead_time_hours, slot_minutes, slot_capacity, horizon_days
		FROM availability_rules
		WHERE supplier_id = $1
	`

	var (
		rule     Rule
		weekdays []int32
	)
	err := r.pool.QueryRow(ctx, query, supplierID).Scan(
		&rule.SupplierID,
		&weekdays,
		&rule.OpenMinute,
		&rule.CloseMinute,
		&rule.CutoffMinute,
		&rule.LeadTimeHours,
		&rule.SlotMinutes,
		&rule.SlotCapacity,
		&rule.HorizonDays,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrNoRule
		}
		return Rule{}, fmt.Errorf("availability: query rule: %w", err)
	}

	rule.OpenWeekdays = make([]time.Weekday, 0, len(weekdays))
	for _, wd := range weekdays {
		rule.OpenWeekdays = append(rule.OpenWeekdays, time.Weekday(wd))
	}

	const blackoutQuery = `SELECT day::text FROM blackout_dates WHERE supplier_id = $1 ORDER BY day`
	rows, err := r.pool.Query(ctx, blackoutQuery, supplierID)
	if err != nil {
		return Rule{}, fmt.Errorf("availability: query blackouts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return Rule{}, fmt.Errorf("availability: scan blackout: %w", err)
		}
		rule.Blackouts = append(rule.Blackouts, day)
	}
	if err := rows.Err(); err != nil {
		return Rule{}, fmt.Errorf("availability: iterate blackouts: %w", err)
	}

	return rule, nil
}

// SlotCapacity returns the supplier's concurrent-booking limit per slot.
// Zero means unbounded, including when the supplier has no rule at all.
func (r *Repository) SlotCapacity(ctx context.Context, supplierID string) (int, error) {
	const query = `SELECT slot_capacity FROM availability_rules WHERE supplier_id = $1`

	var capacity int
	err := r.pool.QueryRow(ctx, query, supplierID).Scan(&capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("availability: query slot capacity: %w", err)
	}
	return capacity, nil
}

// BookedCounts returns, per slot start instant (unix seconds), how many orders
// already occupy that bucket for the supplier. Disputed orders release their
// slot; every other order holds it.
func (r *Repository) BookedCounts(ctx context.Context, supplierID string, from, to time.Time) (map[int64]int, error) {
	const query = `
		SELECT window_start, COUNT(*)
		FROM orders
		WHERE supplier_id = $1
		  AND window_start IS NOT NULL
		  AND window_start >= $2
		  AND window_start < $3
		  AND status <> 'disputed'
		GROUP BY window_start
	`

	rows, err := r.pool.Query(ctx, query, supplierID, from, to)
	if err != nil {
		return nil, fmt.Errorf("availability: query booked counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var (
			start time.Time
			n     int
		)
		if err := rows.Scan(&start, &n); err != nil {
			return nil, fmt.Errorf("availability: scan booked count: %w", err)
		}
		counts[start.Unix()] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("availability: iterate booked counts: %w", err)
	}

	return counts, nil
}
