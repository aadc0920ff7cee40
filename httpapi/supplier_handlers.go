package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleSuppliers(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	profiles, err := s.supplierService.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]supplierResponse, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, toSupplierResponse(p))
	}
	s.writeJSON(w, http.StatusOK, struct {
		Items []supplierResponse `json:"items"`
		Total int                `json:"total"`
	}{Items: items, Total: len(items)})
}

func (s *Server) handleSupplier(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", "supplier id required")
		return
	}

	profile, err := s.supplierService.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toSupplierResponse(profile))
}

// handleAvailableWindows lists bookable windows for the buyer's timezone. The
// offset arrives in minutes east of UTC, the same convention as JavaScript's
// negated getTimezoneOffset.
func (s *Server) handleAvailableWindows(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", "supplier id required")
		return
	}

	var tzOffsetMin int
	if raw := r.URL.Query().Get("tz_offset_minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeErrorCode(w, http.StatusBadRequest, "VALIDATION_FAILED", "tz_offset_minutes must be an integer")
			return
		}
		tzOffsetMin = parsed
	}

	windows, err := s.availabilityService.AvailableWindows(r.Context(), id, tzOffsetMin)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toWindowsResponse(windows))
}
