package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrInvalidTransition signals a lifecycle move the state graph forbids.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrWrongPhone rejects buyer actions from any identity other than the
	// phone that placed the order. The order is left unchanged.
	ErrWrongPhone = errors.New("order: caller is not the buyer of this order")
	// ErrConfirmationWindowExpired signals the 24h window elapsed and the
	// order already auto-completed; informational, not retryable.
	ErrConfirmationWindowExpired = errors.New("order: confirmation window expired")
	// ErrOrderDisputed rejects confirmation of an order a dispute already won.
	ErrOrderDisputed = errors.New("order: already disputed")
	// ErrSlotNoLongerAvailable signals the chosen slot filled up between
	// listing and booking; the caller should re-fetch available windows.
	ErrSlotNoLongerAvailable = errors.New("order: slot no longer available")
	// ErrOfferExpired signals the chosen slot's start already passed.
	ErrOfferExpired = errors.New("order: offered slot has expired")
)

const maxPreferenceNoteRunes = 500

// ValidationError reports malformed input rejected before any state change.
// Transports match it with errors.As to distinguish caller mistakes from
// infrastructure failures.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func errValidation(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the transactional data access required by the service.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, o Order) (Order, error)
	InsertItems(ctx context.Context, tx pgx.Tx, orderID string, items []Item) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error)
	CountWindowBookings(ctx context.Context, tx pgx.Tx, supplierID string, start time.Time) (int, error)
	SetWindow(ctx context.Context, tx pgx.Tx, id string, w Window) (Order, error)
	SetNegotiable(ctx context.Context, tx pgx.Tx, id string, note *string) (Order, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) (Order, error)
	MarkDelivered(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Order, error)
	CompleteByBuyer(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Order, error)
	AutoComplete(ctx context.Context, tx pgx.Tx, id string, now time.Time) (Order, error)
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	AppendTimeline(ctx context.Context, tx pgx.Tx, orderID, eventType string, actorID *string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Reader defines the lock-free reads used outside transactions.
type Reader interface {
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, filters Filters) ([]Order, int, error)
	DueForAutoCompletion(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// CapacitySource exposes the supplier's per-slot booking capacity.
// A capacity of zero means unbounded.
type CapacitySource interface {
	SlotCapacity(ctx context.Context, supplierID string) (int, error)
}

// Service owns the order lifecycle: creation, window assignment, fulfillment
// transitions and the buyer/scheduler race on the terminal state.
type Service struct {
	pool     TxBeginner
	store    Store
	reader   Reader
	capacity CapacitySource
	idGen    func() string
	now      func() time.Time
}

func NewService(pool TxBeginner, store Store, reader Reader, capacity CapacitySource) *Service {
	return &Service{
		pool:     pool,
		store:    store,
		reader:   reader,
		capacity: capacity,
		idGen:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateParams struct {
	SupplierID     string
	BuyerID        string
	BuyerPhone     string
	Fulfillment    FulfillmentMode
	Items          []Item
	Window         *Window
	PreferenceNote *string
}

// Create places a new order. When a concrete window accompanies the request it
// is validated and fixed in the same transaction; otherwise the order starts
// in negotiable mode and waits for a supplier proposal.
func (s *Service) Create(ctx context.Context, params CreateParams) (Order, error) {
	if params.SupplierID == "" || params.BuyerID == "" {
		return Order{}, errValidation("order: supplier and buyer ids required")
	}
	if strings.TrimSpace(params.BuyerPhone) == "" {
		return Order{}, errValidation("order: buyer phone required")
	}
	if !params.Fulfillment.Valid() {
		return Order{}, errValidation("order: invalid fulfillment mode %q", params.Fulfillment)
	}
	if len(params.Items) == 0 {
		return Order{}, errValidation("order: at least one item required")
	}
	for _, item := range params.Items {
		if strings.TrimSpace(item.Name) == "" {
			return Order{}, errValidation("order: item name required")
		}
		if item.Quantity.Sign() <= 0 {
			return Order{}, errValidation("order: item %q quantity must be positive", item.Name)
		}
		if item.UnitPrice.Sign() < 0 {
			return Order{}, errValidation("order: item %q price must not be negative", item.Name)
		}
	}
	note, err := normalizeNote(params.PreferenceNote)
	if err != nil {
		return Order{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.store.Insert(ctx, tx, Order{
		ID:          s.idGen(),
		SupplierID:  params.SupplierID,
		BuyerID:     params.BuyerID,
		BuyerPhone:  strings.TrimSpace(params.BuyerPhone),
		Fulfillment: params.Fulfillment,
	})
	if err != nil {
		return Order{}, err
	}

	if err := s.store.InsertItems(ctx, tx, created.ID, params.Items); err != nil {
		return Order{}, err
	}
	created.Items = params.Items

	if err := s.store.AppendTimeline(ctx, tx, created.ID, "ORDER_CREATED", &params.BuyerID, map[string]any{
		"supplier_id": created.SupplierID,
		"fulfillment": created.Fulfillment,
		"item_count":  len(params.Items),
	}); err != nil {
		return Order{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, OutboxTopicOrderCreated, map[string]any{
		"order_id":    created.ID,
		"supplier_id": created.SupplierID,
	}); err != nil {
		return Order{}, err
	}

	created, err = s.applyWindowTx(ctx, tx, created, params.Window, note, &params.BuyerID)
	if err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit create: %w", err)
	}

	created.Items = params.Items
	return created, nil
}

type AssignWindowParams struct {
	OrderID        string
	ActorID        string
	Window         *Window
	PreferenceNote *string
}

// AssignWindow attaches a chosen slot, or a negotiable placeholder, to an
// order still in created state. Slot availability is re-validated against
// current bookings to defend against the race between listing and booking.
func (s *Service) AssignWindow(ctx context.Context, params AssignWindowParams) (Order, error) {
	if params.OrderID == "" {
		return Order{}, errValidation("order: assign window missing order id")
	}
	note, err := normalizeNote(params.PreferenceNote)
	if err != nil {
		return Order{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.store.GetForUpdate(ctx, tx, params.OrderID)
	if err != nil {
		return Order{}, err
	}
	if current.Status != StatusCreated {
		return Order{}, ErrInvalidTransition
	}

	var actor *string
	if params.ActorID != "" {
		actor = &params.ActorID
	}
	updated, err := s.applyWindowTx(ctx, tx, current, params.Window, note, actor)
	if err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit assign window: %w", err)
	}

	return updated, nil
}

func (s *Service) applyWindowTx(ctx context.Context, tx pgx.Tx, o Order, w *Window, note *string, actor *string) (Order, error) {
	if w == nil {
		return s.store.SetNegotiable(ctx, tx, o.ID, note)
	}

	if !w.End.After(w.Start) {
		return Order{}, errValidation("order: window end must follow start")
	}
	if !w.Start.After(s.now()) {
		return Order{}, ErrOfferExpired
	}

	limit, err := s.capacity.SlotCapacity(ctx, o.SupplierID)
	if err != nil {
		return Order{}, err
	}
	if limit > 0 {
		booked, err := s.store.CountWindowBookings(ctx, tx, o.SupplierID, w.Start)
		if err != nil {
			return Order{}, err
		}
		if booked >= limit {
			return Order{}, ErrSlotNoLongerAvailable
		}
	}

	updated, err := s.store.SetWindow(ctx, tx, o.ID, *w)
	if err != nil {
		return Order{}, err
	}

	if err := s.store.AppendTimeline(ctx, tx, o.ID, "WINDOW_CONFIRMED", actor, map[string]any{
		"window_start": w.Start.UTC(),
		"window_end":   w.End.UTC(),
	}); err != nil {
		return Order{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, OutboxTopicOrderWindow, map[string]any{
		"order_id":     o.ID,
		"window_start": w.Start.UTC(),
	}); err != nil {
		return Order{}, err
	}

	return updated, nil
}

type DispatchParams struct {
	OrderID string
	ActorID string
}

// Dispatch records the supplier handing the order to transport.
func (s *Service) Dispatch(ctx context.Context, params DispatchParams) (Order, error) {
	if params.OrderID == "" {
		return Order{}, errValidation("order: dispatch missing order id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.store.GetForUpdate(ctx, tx, params.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(current.Status, StatusInTransit) {
		return Order{}, ErrInvalidTransition
	}

	updated, err := s.store.SetStatus(ctx, tx, params.OrderID, current.Status, StatusInTransit)
	if err != nil {
		return Order{}, err
	}

	var actor *string
	if params.ActorID != "" {
		actor = &params.ActorID
	}
	if err := s.store.AppendTimeline(ctx, tx, params.OrderID, "ORDER_DISPATCHED", actor, map[string]any{
		"previous_status": current.Status,
	}); err != nil {
		return Order{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, OutboxTopicOrderDispatch, map[string]any{
		"order_id": params.OrderID,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit dispatch: %w", err)
	}

	return updated, nil
}

type DeliveredParams struct {
	OrderID        string
	ActorID        string
	IdempotencyKey string
}

// MarkDelivered applies the proof-of-delivery event, stamping delivered_at and
// opening the 24h confirmation window. Webhook retries replay through the
// idempotency key and collapse to a no-op.
func (s *Service) MarkDelivered(ctx context.Context, params DeliveredParams) (Order, error) {
	if params.OrderID == "" {
		return Order{}, errValidation("order: delivered missing order id")
	}
	if params.IdempotencyKey == "" {
		return Order{}, errValidation("order: delivered missing idempotency key")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.InsertIdempotencyKey(ctx, tx, params.IdempotencyKey); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return s.reader.Get(ctx, params.OrderID)
		}
		return Order{}, err
	}

	current, err := s.store.GetForUpdate(ctx, tx, params.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(current.Status, StatusDelivered) {
		return Order{}, ErrInvalidTransition
	}

	deliveredAt := s.now().UTC()
	updated, err := s.store.MarkDelivered(ctx, tx, params.OrderID, deliveredAt)
	if err != nil {
		return Order{}, err
	}

	deadline, _ := updated.ConfirmationDeadline()
	var actor *string
	if params.ActorID != "" {
		actor = &params.ActorID
	}
	if err := s.store.AppendTimeline(ctx, tx, params.OrderID, "ORDER_DELIVERED", actor, map[string]any{
		"delivered_at":          deliveredAt,
		"confirmation_deadline": deadline,
	}); err != nil {
		return Order{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, OutboxTopicOrderDelivered, map[string]any{
		"order_id":     params.OrderID,
		"delivered_at": deliveredAt,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit delivered: %w", err)
	}

	return updated, nil
}

type ConfirmParams struct {
	OrderID    string
	BuyerPhone string
}

// Confirm is the buyer's receipt confirmation. It is idempotent: a repeat call
// after a successful confirmation returns the completed order without error.
// If the expiry sweep already auto-completed the order the buyer learns the
// window expired; if a dispute won the race the conflict is reported instead.
func (s *Service) Confirm(ctx context.Context, params ConfirmParams) (Order, error) {
	if params.OrderID == "" {
		return Order{}, errValidation("order: confirm missing order id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.store.GetForUpdate(ctx, tx, params.OrderID)
	if err != nil {
		return Order{}, err
	}
	if current.BuyerPhone != strings.TrimSpace(params.BuyerPhone) {
		return Order{}, ErrWrongPhone
	}

	switch current.Status {
	case StatusDelivered:
		// fall through to the compare-and-set below
	case StatusCompleted:
		if current.ConfirmedAt != nil {
			return current, nil
		}
		return Order{}, ErrConfirmationWindowExpired
	case StatusDisputed:
		return Order{}, ErrOrderDisputed
	default:
		return Order{}, ErrInvalidTransition
	}

	confirmedAt := s.now().UTC()
	updated, err := s.store.CompleteByBuyer(ctx, tx, params.OrderID, confirmedAt)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The row lock makes this unreachable in practice; classify anyway.
			return Order{}, ErrOrderDisputed
		}
		return Order{}, err
	}

	if err := s.store.AppendTimeline(ctx, tx, params.OrderID, "ORDER_CONFIRMED", &current.BuyerID, map[string]any{
		"confirmed_at": confirmedAt,
	}); err != nil {
		return Order{}, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, OutboxTopicOrderCompleted, map[string]any{
		"order_id": params.OrderID,
		"cause":    "buyer_confirmation",
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit confirm: %w", err)
	}

	return updated, nil
}

// AutoComplete fires the scheduler's arm of the terminal transition for one
// order. The returned bool reports whether this call was the winning writer;
// losing a race to a confirmation, a dispute, or another sweeper instance is
// a silent no-op.
func (s *Service) AutoComplete(ctx context.Context, orderID string, now time.Time) (Order, bool, error) {
	if orderID == "" {
		return Order{}, false, errValidation("order: auto-complete missing order id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, false, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := s.store.AutoComplete(ctx, tx, orderID, now.UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lost the race or not yet eligible; the current row says which,
			// but both resolve to "nothing to do" here.
			current, readErr := s.reader.Get(ctx, orderID)
			if readErr != nil {
				return Order{}, false, readErr
			}
			return current, false, nil
		}
		return Order{}, false, err
	}

	if err := s.store.AppendTimeline(ctx, tx, orderID, "ORDER_AUTO_COMPLETED", nil, map[string]any{
		"auto_completed_at": now.UTC(),
	}); err != nil {
		return Order{}, false, err
	}
	if err := s.store.EnqueueOutbox(ctx, tx, OutboxTopicOrderCompleted, map[string]any{
		"order_id": orderID,
		"cause":    "confirmation_window_expired",
	}); err != nil {
		return Order{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, fmt.Errorf("order: commit auto-complete: %w", err)
	}

	return updated, true, nil
}

// DueForAutoCompletion exposes the sweep query to the expiry scheduler.
func (s *Service) DueForAutoCompletion(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return s.reader.DueForAutoCompletion(ctx, now, limit)
}

// Get returns one order with its items.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.reader.Get(ctx, id)
}

// List returns a page of a buyer's orders.
func (s *Service) List(ctx context.Context, filters Filters) ([]Order, int, error) {
	return s.reader.List(ctx, filters)
}

func normalizeNote(note *string) (*string, error) {
	if note == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(trimmed) > maxPreferenceNoteRunes {
		return nil, errValidation("order: preference note exceeds %d characters", maxPreferenceNoteRunes)
	}
	return &trimmed, nil
}
