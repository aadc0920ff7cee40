// Package expiry runs the background sweep that auto-completes delivered
// orders once their confirmation window elapses. There is no per-order timer:
// eligibility is a predicate over the persisted delivered_at, so the sweep is
// restart-safe and any number of instances may poll the same database.
package expiry

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yardflow/order"
)

const (
	defaultInterval  = time.Minute
	defaultBatchSize = 100
	defaultWorkers   = 4
)

// Store is the slice of the order service the sweep drives.
type Store interface {
	DueForAutoCompletion(ctx context.Context, now time.Time, limit int) ([]string, error)
	AutoComplete(ctx context.Context, orderID string, now time.Time) (order.Order, bool, error)
}

// Scheduler polls for orders past their confirmation deadline and fires the
// idempotent auto-complete transition for each.
type Scheduler struct {
	store     Store
	log       *zap.Logger
	interval  time.Duration
	batchSize int
	workers   int
	now       func() time.Time
}

func NewScheduler(store Store, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		store:     store,
		log:       log,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		workers:   defaultWorkers,
		now:       time.Now,
	}
}

func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Scheduler) WithBatchSize(n int) *Scheduler {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run polls until ctx is cancelled. An initial sweep runs immediately so a
// restart catches up on deadlines that passed while the process was down.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.SweepOnce(ctx); err != nil {
		s.log.Warn("expiry sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.log.Warn("expiry sweep failed", zap.Error(err))
			} else if n > 0 {
				s.log.Info("expiry sweep completed orders", zap.Int("count", n))
			}
		}
	}
}

// SweepOnce evaluates the deadline predicate once and returns how many orders
// this instance actually transitioned. Orders another actor resolved between
// the query and the update simply no-op.
func (s *Scheduler) SweepOnce(ctx context.Context) (int, error) {
	now := s.now().UTC()

	ids, err := s.store.DueForAutoCompletion(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	fired := make(chan int, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, id := range ids {
		g.Go(func() error {
			_, won, err := s.store.AutoComplete(gctx, id, now)
			if err != nil {
				s.log.Warn("auto-complete failed",
					zap.String("order_id", id), zap.Error(err))
				return nil // one bad order must not halt the batch
			}
			if won {
				fired <- 1
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	close(fired)

	var n int
	for range fired {
		n++
	}
	return n, nil
}
