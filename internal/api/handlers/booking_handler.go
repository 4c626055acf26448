package handlers

import (
	"net/http"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
)

// BookingHandler handles the token queue
type BookingHandler struct {
	bookings *services.BookingService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookings *services.BookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// CreateBooking handles POST /api/bookings
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req services.BookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := h.bookings.Create(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, b)
}

// ListBookings handles GET /api/bookings?date=
func (h *BookingHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		respondWithError(w, http.StatusBadRequest, "date is required")
		return
	}
	list, err := h.bookings.ListByDate(r.Context(), date)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"date":     date,
		"bookings": list,
	})
}

// GetBooking handles GET /api/bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, found, err := h.bookings.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "booking not found")
		return
	}
	respondWithJSON(w, http.StatusOK, b)
}

type statusRequest struct {
	Status string `json:"status"`
}

// TransitionBooking handles PATCH /api/bookings/{id}/status
func (h *BookingHandler) TransitionBooking(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := h.bookings.Transition(r.Context(), r.PathValue("id"), entities.BookingStatus(req.Status))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, b)
}

type serveRequest struct {
	PID  string `json:"pid"`
	Date string `json:"date"`
}

// MarkServed handles POST /api/bookings/serve
func (h *BookingHandler) MarkServed(w http.ResponseWriter, r *http.Request) {
	var req serveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PID == "" || req.Date == "" {
		respondWithError(w, http.StatusBadRequest, "pid and date are required")
		return
	}
	b, err := h.bookings.MarkServed(r.Context(), req.PID, req.Date)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"served":  b != nil,
		"booking": b,
	})
}
