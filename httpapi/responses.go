package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"yardflow/auth"
	"yardflow/availability"
	"yardflow/dispute"
	"yardflow/order"
	"yardflow/supplier"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// writeError translates domain sentinels into the stable error envelope.
// Anything unrecognized is logged and reported as INTERNAL without detail.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var validation *order.ValidationError
	switch {
	case errors.As(err, &validation):
		s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", validation.Reason)
	case errors.Is(err, availability.ErrBadTimezoneOffset):
		s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", "timezone offset out of range")
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.writeErrorCode(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "phone or password is incorrect")
	case errors.Is(err, auth.ErrInvalidPhone), errors.Is(err, auth.ErrWeakPassword):
		s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, auth.ErrDuplicatePhone):
		s.writeErrorCode(w, http.StatusConflict, "DUPLICATE_PHONE", "an account with this phone already exists")
	case errors.Is(err, order.ErrWrongPhone):
		s.writeErrorCode(w, http.StatusForbidden, "WRONG_PHONE", "this order belongs to a different buyer")
	case errors.Is(err, order.ErrConfirmationWindowExpired):
		s.writeErrorCode(w, http.StatusConflict, "CONFIRMATION_WINDOW_EXPIRED", "the confirmation window has expired and the order auto-completed")
	case errors.Is(err, order.ErrOrderDisputed), errors.Is(err, dispute.ErrAlreadyDisputed):
		s.writeErrorCode(w, http.StatusConflict, "ORDER_DISPUTED", "a dispute has already been filed for this order")
	case errors.Is(err, order.ErrSlotNoLongerAvailable), errors.Is(err, order.ErrOfferExpired):
		s.writeErrorCode(w, http.StatusConflict, "SLOT_NO_LONGER_AVAILABLE", "the chosen window is no longer available")
	case errors.Is(err, dispute.ErrOrderNotDisputable):
		s.writeErrorCode(w, http.StatusConflict, "ORDER_NOT_DISPUTABLE", "the order is not in a disputable state")
	case errors.Is(err, order.ErrInvalidTransition):
		s.writeErrorCode(w, http.StatusConflict, "INVALID_TRANSITION", "the order cannot move to the requested state")
	case errors.Is(err, order.ErrNotFound), errors.Is(err, supplier.ErrNotFound), errors.Is(err, auth.ErrUserNotFound):
		s.writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	default:
		s.log.Error("unhandled error", zap.Error(err))
		s.writeErrorCode(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

type slotResponse struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

type dayResponse struct {
	Date  string         `json:"date"`
	Slots []slotResponse `json:"slots"`
}

type windowsResponse struct {
	CutoffMinute     int           `json:"cutoff_minute"`
	CurrentTime      time.Time     `json:"current_time"`
	SameDayAvailable bool          `json:"same_day_available"`
	Days             []dayResponse `json:"days"`
}

func toWindowsResponse(w availability.Windows) windowsResponse {
	days := make([]dayResponse, 0, len(w.Days))
	for _, d := range w.Days {
		slots := make([]slotResponse, 0, len(d.Slots))
		for _, slot := range d.Slots {
			slots = append(slots, slotResponse{Start: slot.Start, End: slot.End, Available: slot.Available})
		}
		days = append(days, dayResponse{Date: d.Date, Slots: slots})
	}
	return windowsResponse{
		CutoffMinute:     w.CutoffMinute,
		CurrentTime:      w.CurrentTime,
		SameDayAvailable: w.SameDayAvailable,
		Days:             days,
	}
}

type itemResponse struct {
	Name      string `json:"name"`
	Quantity  string `json:"quantity"`
	Unit      string `json:"unit"`
	UnitPrice string `json:"unit_price"`
}

type orderResponse struct {
	ID                   string         `json:"id"`
	SupplierID           string         `json:"supplier_id"`
	BuyerID              string         `json:"buyer_id"`
	Fulfillment          string         `json:"fulfillment"`
	Status               string         `json:"status"`
	WindowStart          *time.Time     `json:"window_start,omitempty"`
	WindowEnd            *time.Time     `json:"window_end,omitempty"`
	Negotiable           bool           `json:"negotiable"`
	PreferenceNote       *string        `json:"preference_note,omitempty"`
	DeliveredAt          *time.Time     `json:"delivered_at,omitempty"`
	ConfirmedAt          *time.Time     `json:"confirmed_at,omitempty"`
	AutoCompletedAt      *time.Time     `json:"auto_completed_at,omitempty"`
	ConfirmationDeadline *time.Time     `json:"confirmation_deadline,omitempty"`
	SecondsRemaining     *int64         `json:"seconds_remaining,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	Items                []itemResponse `json:"items,omitempty"`
}

// toOrderResponse derives the confirmation deadline on every render so the
// payload can never disagree with delivered_at.
func (s *Server) toOrderResponse(o order.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		SupplierID:      o.SupplierID,
		BuyerID:         o.BuyerID,
		Fulfillment:     string(o.Fulfillment),
		Status:          string(o.Status),
		WindowStart:     o.WindowStart,
		WindowEnd:       o.WindowEnd,
		Negotiable:      o.Negotiable,
		PreferenceNote:  o.PreferenceNote,
		DeliveredAt:     o.DeliveredAt,
		ConfirmedAt:     o.ConfirmedAt,
		AutoCompletedAt: o.AutoCompletedAt,
		CreatedAt:       o.CreatedAt,
	}
	if deadline, ok := o.ConfirmationDeadline(); ok && o.Status == order.StatusDelivered {
		resp.ConfirmationDeadline = &deadline
		remaining := int64(deadline.Sub(s.now()).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		resp.SecondsRemaining = &remaining
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, itemResponse{
			Name:      item.Name,
			Quantity:  item.Quantity.String(),
			Unit:      item.Unit,
			UnitPrice: item.UnitPrice.String(),
		})
	}
	return resp
}

type disputeResponse struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Issue       string    `json:"issue_category"`
	Description string    `json:"description"`
	PhotoRefs   []string  `json:"photo_refs,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	return disputeResponse{
		ID:          rec.ID,
		OrderID:     rec.OrderID,
		Issue:       string(rec.Issue),
		Description: rec.Description,
		PhotoRefs:   rec.PhotoRefs,
		CreatedAt:   rec.CreatedAt,
	}
}

type supplierResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	City     string `json:"city"`
	Verified bool   `json:"verified"`
}

func toSupplierResponse(p supplier.Profile) supplierResponse {
	return supplierResponse{ID: p.ID, Name: p.Name, Phone: p.Phone, City: p.City, Verified: p.Verified}
}

type userResponse struct {
	ID       string `json:"id"`
	Phone    string `json:"phone"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Phone: u.Phone, FullName: u.FullName, Role: string(u.Role)}
}
