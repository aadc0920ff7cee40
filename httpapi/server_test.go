package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"yardflow/auth"
	"yardflow/availability"
	"yardflow/dispute"
	"yardflow/order"
	"yardflow/supplier"
)

type stubAvailability struct {
	windows availability.Windows
	err     error
}

func (s *stubAvailability) AvailableWindows(_ context.Context, _ string, _ int) (availability.Windows, error) {
	return s.windows, s.err
}

type stubOrders struct {
	order      order.Order
	listTotal  int
	err        error
	lastCreate order.CreateParams
	lastParams any
}

func (s *stubOrders) Create(_ context.Context, params order.CreateParams) (order.Order, error) {
	s.lastCreate = params
	return s.order, s.err
}

func (s *stubOrders) AssignWindow(_ context.Context, params order.AssignWindowParams) (order.Order, error) {
	s.lastParams = params
	return s.order, s.err
}

func (s *stubOrders) Dispatch(_ context.Context, params order.DispatchParams) (order.Order, error) {
	s.lastParams = params
	return s.order, s.err
}

func (s *stubOrders) MarkDelivered(_ context.Context, params order.DeliveredParams) (order.Order, error) {
	s.lastParams = params
	return s.order, s.err
}

func (s *stubOrders) Confirm(_ context.Context, params order.ConfirmParams) (order.Order, error) {
	s.lastParams = params
	return s.order, s.err
}

func (s *stubOrders) Get(_ context.Context, _ string) (order.Order, error) {
	return s.order, s.err
}

func (s *stubOrders) List(_ context.Context, _ order.Filters) ([]order.Order, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	return []order.Order{s.order}, s.listTotal, nil
}

type stubDisputes struct {
	record dispute.Record
	err    error
}

func (s *stubDisputes) File(_ context.Context, _ dispute.FileParams) (dispute.Record, error) {
	return s.record, s.err
}

type stubAuth struct {
	identity auth.Identity
	user     auth.User
	login    auth.LoginResult
	err      error
}

func (s *stubAuth) Register(_ context.Context, _ auth.RegisterRequest) (*auth.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &s.user, nil
}

func (s *stubAuth) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return s.login, s.err
}

func (s *stubAuth) VerifyToken(token string) (auth.Identity, error) {
	if token != "token-ok" {
		return auth.Identity{}, auth.ErrInvalidCredentials
	}
	return s.identity, nil
}

type stubSuppliers struct {
	profile  supplier.Profile
	profiles []supplier.Profile
	err      error
}

func (s *stubSuppliers) GetByID(_ context.Context, _ string) (supplier.Profile, error) {
	return s.profile, s.err
}

func (s *stubSuppliers) List(_ context.Context, limit int) ([]supplier.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit > len(s.profiles) {
		limit = len(s.profiles)
	}
	return s.profiles[:limit], nil
}

var buyerIdentity = auth.Identity{UserID: "buyer-1", Phone: "+77015550111", Role: auth.RoleBuyer}

func newTestServer(orders *stubOrders, disputes *stubDisputes, identity auth.Identity) (*Server, http.Handler) {
	if orders == nil {
		orders = &stubOrders{}
	}
	if disputes == nil {
		disputes = &stubDisputes{}
	}
	srv := NewServer(
		&stubAvailability{},
		orders,
		disputes,
		&stubAuth{identity: identity},
		&stubSuppliers{},
		nil,
	).WithClock(func() time.Time {
		return time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	})
	return srv, srv.Router()
}

func doJSON(t *testing.T, handler http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return resp.Error.Code
}

func TestAvailableWindows_Success(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	srv, _ := newTestServer(nil, nil, buyerIdentity)
	srv.availabilityService = &stubAvailability{windows: availability.Windows{
		CutoffMinute:     840,
		CurrentTime:      now,
		SameDayAvailable: true,
		Days: []availability.Day{{
			Date: "2024-03-04",
			Slots: []availability.Slot{
				{Start: now.Add(5 * time.Hour), End: now.Add(6 * time.Hour), Available: true},
			},
		}},
	}}
	handler := srv.Router()

	rec := doJSON(t, handler, http.MethodGet, "/api/suppliers/sup-1/available-windows?tz_offset_minutes=300", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload windowsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.SameDayAvailable || payload.CutoffMinute != 840 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if len(payload.Days) != 1 || len(payload.Days[0].Slots) != 1 {
		t.Fatalf("unexpected days payload: %+v", payload.Days)
	}
}

func TestAvailableWindows_BadOffset(t *testing.T) {
	srv, _ := newTestServer(nil, nil, buyerIdentity)
	srv.availabilityService = &stubAvailability{err: availability.ErrBadTimezoneOffset}
	handler := srv.Router()

	rec := doJSON(t, handler, http.MethodGet, "/api/suppliers/sup-1/available-windows?tz_offset_minutes=100000", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %s", code)
	}
}

func TestCreateOrder_RequiresAuth(t *testing.T) {
	_, handler := newTestServer(nil, nil, buyerIdentity)

	rec := doJSON(t, handler, http.MethodPost, "/api/orders", "", `{"supplier_id":"sup-1"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateOrder_BuyerIdentityFromToken(t *testing.T) {
	orders := &stubOrders{order: order.Order{ID: "order-1", Status: order.StatusCreated}}
	_, handler := newTestServer(orders, nil, buyerIdentity)

	body := `{"supplier_id":"sup-1","fulfillment":"delivery","items":[{"name":"sand","quantity":"2.5","unit":"t","unit_price":"12000"}]}`
	rec := doJSON(t, handler, http.MethodPost, "/api/orders", "token-ok", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if orders.lastCreate.BuyerID != "buyer-1" || orders.lastCreate.BuyerPhone != "+77015550111" {
		t.Fatalf("expected identity to fill buyer fields, got %+v", orders.lastCreate)
	}
	if len(orders.lastCreate.Items) != 1 || !orders.lastCreate.Items[0].Quantity.Equal(decimalFromString(t, "2.5")) {
		t.Fatalf("unexpected items: %+v", orders.lastCreate.Items)
	}
}

func TestCreateOrder_ForbidsNonBuyers(t *testing.T) {
	driver := auth.Identity{UserID: "driver-1", Phone: "+77010000000", Role: auth.RoleDriver}
	_, handler := newTestServer(nil, nil, driver)

	rec := doJSON(t, handler, http.MethodPost, "/api/orders", "token-ok", `{"supplier_id":"sup-1"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestConfirm_MapsSentinels(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"wrong phone", order.ErrWrongPhone, http.StatusForbidden, "WRONG_PHONE"},
		{"window expired", order.ErrConfirmationWindowExpired, http.StatusConflict, "CONFIRMATION_WINDOW_EXPIRED"},
		{"disputed", order.ErrOrderDisputed, http.StatusConflict, "ORDER_DISPUTED"},
		{"not found", order.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"too early", order.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tc := range cases {
		orders := &stubOrders{err: tc.err}
		_, handler := newTestServer(orders, nil, buyerIdentity)

		rec := doJSON(t, handler, http.MethodPost, "/api/orders/order-1/confirm", "token-ok", "")
		if rec.Code != tc.wantStatus {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.wantStatus, rec.Code)
			continue
		}
		if code := errorCode(t, rec); code != tc.wantCode {
			t.Errorf("%s: expected code %s, got %s", tc.name, tc.wantCode, code)
		}
	}
}

func TestConfirm_Success(t *testing.T) {
	confirmedAt := time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC)
	orders := &stubOrders{order: order.Order{
		ID:          "order-1",
		Status:      order.StatusCompleted,
		ConfirmedAt: &confirmedAt,
	}}
	_, handler := newTestServer(orders, nil, buyerIdentity)

	rec := doJSON(t, handler, http.MethodPost, "/api/orders/order-1/confirm", "token-ok", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	params, ok := orders.lastParams.(order.ConfirmParams)
	if !ok {
		t.Fatalf("expected ConfirmParams, got %T", orders.lastParams)
	}
	if params.OrderID != "order-1" || params.BuyerPhone != "+77015550111" {
		t.Fatalf("unexpected params: %+v", params)
	}
}

func TestDispute_Validation(t *testing.T) {
	disputes := &stubDisputes{err: &order.ValidationError{Reason: "description required"}}
	_, handler := newTestServer(nil, disputes, buyerIdentity)

	rec := doJSON(t, handler, http.MethodPost, "/api/orders/order-1/dispute", "token-ok", `{"issue_category":"damaged_goods"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %s", code)
	}
}

func TestDispute_NotDisputable(t *testing.T) {
	disputes := &stubDisputes{err: dispute.ErrOrderNotDisputable}
	_, handler := newTestServer(nil, disputes, buyerIdentity)

	rec := doJSON(t, handler, http.MethodPost, "/api/orders/order-1/dispute", "token-ok",
		`{"issue_category":"damaged_goods","description":"cracked blocks"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "ORDER_NOT_DISPUTABLE" {
		t.Fatalf("expected ORDER_NOT_DISPUTABLE, got %s", code)
	}
}

func TestDispute_Created(t *testing.T) {
	disputes := &stubDisputes{record: dispute.Record{
		ID:      "dispute-1",
		OrderID: "order-1",
		Issue:   dispute.IssueDamagedGoods,
	}}
	_, handler := newTestServer(nil, disputes, buyerIdentity)

	rec := doJSON(t, handler, http.MethodPost, "/api/orders/order-1/dispute", "token-ok",
		`{"issue_category":"damaged_goods","description":"cracked blocks","photo_refs":["photos/a.jpg"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var payload disputeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.ID != "dispute-1" || payload.Issue != "damaged_goods" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestGetOrder_DerivesDeadline(t *testing.T) {
	deliveredAt := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	orders := &stubOrders{order: order.Order{
		ID:          "order-1",
		BuyerID:     "buyer-1",
		Status:      order.StatusDelivered,
		DeliveredAt: &deliveredAt,
	}}
	_, handler := newTestServer(orders, nil, buyerIdentity)

	rec := doJSON(t, handler, http.MethodGet, "/api/orders/order-1", "token-ok", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.ConfirmationDeadline == nil || !payload.ConfirmationDeadline.Equal(deliveredAt.Add(24*time.Hour)) {
		t.Fatalf("expected derived deadline, got %v", payload.ConfirmationDeadline)
	}
	// Clock is fixed at 12:00, delivery at 10:00: 22 hours remain.
	if payload.SecondsRemaining == nil || *payload.SecondsRemaining != int64((22*time.Hour)/time.Second) {
		t.Fatalf("unexpected seconds_remaining: %v", payload.SecondsRemaining)
	}
}

func TestGetOrder_HidesForeignOrders(t *testing.T) {
	orders := &stubOrders{order: order.Order{ID: "order-1", BuyerID: "someone-else"}}
	_, handler := newTestServer(orders, nil, buyerIdentity)

	rec := doJSON(t, handler, http.MethodGet, "/api/orders/order-1", "token-ok", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDelivered_RoleAndIdempotencyKey(t *testing.T) {
	_, handler := newTestServer(nil, nil, buyerIdentity)
	rec := doJSON(t, handler, http.MethodPost, "/api/orders/order-1/delivered", "token-ok", `{"idempotency_key":"pod-1"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for buyers, got %d", rec.Code)
	}

	driver := auth.Identity{UserID: "driver-1", Phone: "+77010000000", Role: auth.RoleDriver}
	orders := &stubOrders{order: order.Order{ID: "order-1", Status: order.StatusDelivered}}
	_, handler = newTestServer(orders, nil, driver)

	rec = doJSON(t, handler, http.MethodPost, "/api/orders/order-1/delivered", "token-ok", `{"idempotency_key":"pod-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	params, ok := orders.lastParams.(order.DeliveredParams)
	if !ok {
		t.Fatalf("expected DeliveredParams, got %T", orders.lastParams)
	}
	if params.IdempotencyKey != "pod-1" {
		t.Fatalf("expected idempotency key to pass through, got %+v", params)
	}
}

func TestDispatch_SlotConflictSurfaces(t *testing.T) {
	admin := auth.Identity{UserID: "admin-1", Phone: "+77012223344", Role: auth.RoleSupplierAdmin}
	orders := &stubOrders{err: order.ErrSlotNoLongerAvailable}
	_, handler := newTestServer(orders, nil, admin)

	rec := doJSON(t, handler, http.MethodPost, "/api/orders/order-1/window", "token-ok",
		`{"window":{"start":"2024-03-05T10:00:00Z","end":"2024-03-05T11:00:00Z"}}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "SLOT_NO_LONGER_AVAILABLE" {
		t.Fatalf("expected SLOT_NO_LONGER_AVAILABLE, got %s", code)
	}
}
