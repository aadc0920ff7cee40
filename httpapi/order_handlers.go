package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"yardflow/auth"
	"yardflow/dispute"
	"yardflow/order"
)

type orderItemRequest struct {
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type windowRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type createOrderRequest struct {
	SupplierID     string             `json:"supplier_id"`
	Fulfillment    string             `json:"fulfillment"`
	Items          []orderItemRequest `json:"items"`
	Window         *windowRequest     `json:"window"`
	PreferenceNote *string            `json:"preference_note"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		s.writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}
	if identity.Role != auth.RoleBuyer {
		s.writeErrorCode(w, http.StatusForbidden, "FORBIDDEN", "only buyers place orders")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", "malformed request body")
		return
	}

	items := make([]order.Item, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, order.Item{
			Name:      item.Name,
			Quantity:  item.Quantity,
			Unit:      item.Unit,
			UnitPrice: item.UnitPrice,
		})
	}

	params := order.CreateParams{
		SupplierID:     req.SupplierID,
		BuyerID:        identity.UserID,
		BuyerPhone:     identity.Phone,
		Fulfillment:    order.FulfillmentMode(req.Fulfillment),
		Items:          items,
		PreferenceNote: req.PreferenceNote,
	}
	if req.Window != nil {
		params.Window = &order.Window{Start: req.Window.Start, End: req.Window.End}
	}

	created, err := s.orderService.Create(r.Context(), params)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, s.toOrderResponse(created))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		s.writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}

	filters := order.Filters{BuyerID: identity.UserID}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := order.Status(raw)
		if !status.Valid() {
			s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", "unknown status filter")
			return
		}
		filters.Status = status
	}
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page <= 0 {
			s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", "page must be a positive integer")
			return
		}
		filters.Page = page
	}

	orders, total, err := s.orderService.List(r.Context(), filters)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, s.toOrderResponse(o))
	}
	s.writeJSON(w, http.StatusOK, struct {
		Items []orderResponse `json:"items"`
		Total int             `json:"total"`
	}{Items: items, Total: total})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		s.writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}

	o, err := s.orderService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if identity.Role == auth.RoleBuyer && o.BuyerID != identity.UserID {
		s.writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
		return
	}

	s.writeJSON(w, http.StatusOK, s.toOrderResponse(o))
}

type assignWindowRequest struct {
	Window         *windowRequest `json:"window"`
	PreferenceNote *string        `json:"preference_note"`
}

func (s *Server) handleAssignWindow(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		s.writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}

	var req assignWindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", "malformed request body")
		return
	}

	params := order.AssignWindowParams{
		OrderID:        chi.URLParam(r, "id"),
		ActorID:        identity.UserID,
		PreferenceNote: req.PreferenceNote,
	}
	if req.Window != nil {
		params.Window = &order.Window{Start: req.Window.Start, End: req.Window.End}
	}

	updated, err := s.orderService.AssignWindow(r.Context(), params)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.toOrderResponse(updated))
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		s.writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}

	updated, err := s.orderService.Confirm(r.Context(), order.ConfirmParams{
		OrderID:    chi.URLParam(r, "id"),
		BuyerPhone: identity.Phone,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.toOrderResponse(updated))
}

type disputeRequest struct {
	IssueCategory string   `json:"issue_category"`
	Description   string   `json:"description"`
	PhotoRefs     []string `json:"photo_refs"`
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		s.writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}

	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", "malformed request body")
		return
	}

	rec, err := s.disputeService.File(r.Context(), dispute.FileParams{
		OrderID:     chi.URLParam(r, "id"),
		BuyerPhone:  identity.Phone,
		Issue:       dispute.IssueCategory(req.IssueCategory),
		Description: req.Description,
		PhotoRefs:   req.PhotoRefs,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, toDisputeResponse(rec))
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		s.writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}
	if identity.Role != auth.RoleSupplierAdmin {
		s.writeErrorCode(w, http.StatusForbidden, "FORBIDDEN", "only supplier staff dispatch orders")
		return
	}

	updated, err := s.orderService.Dispatch(r.Context(), order.DispatchParams{
		OrderID: chi.URLParam(r, "id"),
		ActorID: identity.UserID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.toOrderResponse(updated))
}

type deliveredRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) handleDelivered(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		s.writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}
	if identity.Role != auth.RoleDriver && identity.Role != auth.RoleSupplierAdmin {
		s.writeErrorCode(w, http.StatusForbidden, "FORBIDDEN", "only delivery staff record proof of delivery")
		return
	}

	var req deliveredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", "malformed request body")
		return
	}

	updated, err := s.orderService.MarkDelivered(r.Context(), order.DeliveredParams{
		OrderID:        chi.URLParam(r, "id"),
		ActorID:        identity.UserID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.toOrderResponse(updated))
}
