package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"yardflow/order"
)

var (
	// ErrOrderNotDisputable signals the order is not sitting in the delivered
	// window: it was never delivered, or a terminal outcome already landed.
	ErrOrderNotDisputable = errors.New("dispute: order not disputable")
)

const (
	maxDescriptionRunes = 2000

	// OutboxTopicOrderDisputed is published when a dispute forces the order's
	// terminal transition.
	OutboxTopicOrderDisputed = "order.disputed"
)

func errValidation(format string, args ...any) error {
	return &order.ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore is the slice of the order repository the dispute flow needs: the
// row lock, the terminal status flip, and the event side tables.
type OrderStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (order.Order, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to order.Status) (order.Order, error)
	AppendTimeline(ctx context.Context, tx pgx.Tx, orderID, eventType string, actorID *string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// DisputeStore abstracts the dispute rows themselves.
type DisputeStore interface {
	Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
}

// Service records disputes. Filing one atomically sets the dispute record and
// transitions the order to disputed, which permanently forecloses both the
// buyer-confirm path and the expiry sweep's auto-complete path.
type Service struct {
	pool   TxBeginner
	repo   DisputeStore
	orders OrderStore
	idGen  func() string
	now    func() time.Time
}

func NewService(pool TxBeginner, repo DisputeStore, orders OrderStore) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		orders: orders,
		idGen:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

type FileParams struct {
	OrderID     string
	BuyerPhone  string
	Issue       IssueCategory
	Description string
	PhotoRefs   []string
}

// File records a dispute for a delivered order. Valid only while the order is
// in delivered state with neither a confirmation nor an earlier dispute; the
// guards classify every other situation so the caller can explain the refusal.
func (s *Service) File(ctx context.Context, params FileParams) (Record, error) {
	if params.OrderID == "" {
		return Record{}, errValidation("dispute: missing order id")
	}
	if !params.Issue.Valid() {
		return Record{}, errValidation("dispute: invalid issue category %q", params.Issue)
	}
	description := strings.TrimSpace(params.Description)
	if description == "" {
		return Record{}, errValidation("dispute: description required")
	}
	if utf8.RuneCountInString(description) > maxDescriptionRunes {
		return Record{}, errValidation("dispute: description exceeds %d characters", maxDescriptionRunes)
	}
	if len(params.PhotoRefs) > MaxPhotoRefs {
		return Record{}, errValidation("dispute: at most %d photos allowed", MaxPhotoRefs)
	}
	for _, ref := range params.PhotoRefs {
		if strings.TrimSpace(ref) == "" {
			return Record{}, errValidation("dispute: empty photo reference")
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.orders.GetForUpdate(ctx, tx, params.OrderID)
	if err != nil {
		return Record{}, err
	}
	if current.BuyerPhone != strings.TrimSpace(params.BuyerPhone) {
		return Record{}, order.ErrWrongPhone
	}

	switch current.Status {
	case order.StatusDelivered:
		// disputable
	case order.StatusCompleted:
		if current.AutoCompletedAt != nil {
			return Record{}, order.ErrConfirmationWindowExpired
		}
		return Record{}, ErrOrderNotDisputable
	case order.StatusDisputed:
		return Record{}, ErrAlreadyDisputed
	default:
		return Record{}, ErrOrderNotDisputable
	}

	rec, err := s.repo.Insert(ctx, tx, Record{
		ID:          s.idGen(),
		OrderID:     params.OrderID,
		Issue:       params.Issue,
		Description: description,
		PhotoRefs:   params.PhotoRefs,
	})
	if err != nil {
		return Record{}, err
	}

	if _, err := s.orders.SetStatus(ctx, tx, params.OrderID, order.StatusDelivered, order.StatusDisputed); err != nil {
		return Record{}, err
	}

	if err := s.orders.AppendTimeline(ctx, tx, params.OrderID, "ORDER_DISPUTED", &current.BuyerID, map[string]any{
		"dispute_id":     rec.ID,
		"issue_category": rec.Issue,
		"photo_count":    len(rec.PhotoRefs),
	}); err != nil {
		return Record{}, err
	}
	if err := s.orders.EnqueueOutbox(ctx, tx, OutboxTopicOrderDisputed, map[string]any{
		"order_id":   params.OrderID,
		"dispute_id": rec.ID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit: %w", err)
	}

	return rec, nil
}
