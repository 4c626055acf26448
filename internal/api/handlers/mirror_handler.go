package handlers

import (
	"net/http"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
)

// MirrorHandler handles pushes to the cloud document mirror
type MirrorHandler struct {
	mirror *services.MirrorService
}

// NewMirrorHandler creates a new mirror handler
func NewMirrorHandler(mirror *services.MirrorService) *MirrorHandler {
	return &MirrorHandler{mirror: mirror}
}

// Push handles POST /api/mirror/push?date=
func (h *MirrorHandler) Push(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		respondWithError(w, http.StatusBadRequest, "date is required")
		return
	}
	report, err := h.mirror.Push(r.Context(), date)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// RecordAttendance handles POST /api/mirror/attendance
func (h *MirrorHandler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	var a entities.StaffAttendance
	if !decodeJSON(w, r, &a) {
		return
	}
	id, err := h.mirror.RecordAttendance(r.Context(), a)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"id": id})
}

// AttendanceRange handles GET /api/mirror/attendance?from=&to=
func (h *MirrorHandler) AttendanceRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.mirror.AttendanceRange(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"rows": rows})
}

// PutDocument handles PUT /api/mirror/{collection}/{id}
func (h *MirrorHandler) PutDocument(w http.ResponseWriter, r *http.Request) {
	var doc entities.MirrorDocument
	if !decodeJSON(w, r, &doc) {
		return
	}
	id, err := h.mirror.Put(r.Context(), r.PathValue("collection"), r.PathValue("id"), doc)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"id": id})
}
