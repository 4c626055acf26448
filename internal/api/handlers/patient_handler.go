package handlers

import (
	"net/http"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
)

// PatientHandler handles patient registration and lookup
type PatientHandler struct {
	patients *services.PatientService
}

// NewPatientHandler creates a new patient handler
func NewPatientHandler(patients *services.PatientService) *PatientHandler {
	return &PatientHandler{patients: patients}
}

func views(list []*entities.Patient) []entities.PatientView {
	out := make([]entities.PatientView, 0, len(list))
	for _, p := range list {
		out = append(out, p.View())
	}
	return out
}

// UpsertPatient handles POST /api/patients
func (h *PatientHandler) UpsertPatient(w http.ResponseWriter, r *http.Request) {
	var p entities.Patient
	if !decodeJSON(w, r, &p) {
		return
	}
	out, err := h.patients.Upsert(r.Context(), &p)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out.View())
}

// GetPatient handles GET /api/patients/{pid}
func (h *PatientHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	p, found, err := h.patients.FindByID(r.Context(), r.PathValue("pid"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "patient not found")
		return
	}
	respondWithJSON(w, http.StatusOK, p.View())
}

// LookupPatient handles GET /api/patients/lookup?name=&phone=
func (h *PatientHandler) LookupPatient(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("name") == "" {
		respondWithError(w, http.StatusBadRequest, "name is required")
		return
	}
	p, found, err := h.patients.FindByNamePhone(r.Context(), q.Get("name"), q.Get("phone"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "patient not found")
		return
	}
	respondWithJSON(w, http.StatusOK, p.View())
}

// ListPatients handles GET /api/patients?limit=&offset=
func (h *PatientHandler) ListPatients(w http.ResponseWriter, r *http.Request) {
	limit, ok1 := queryInt(r, "limit", 100)
	offset, ok2 := queryInt(r, "offset", 0)
	if !ok1 || !ok2 {
		respondWithError(w, http.StatusBadRequest, "invalid limit or offset")
		return
	}
	list, err := h.patients.List(r.Context(), limit, offset)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	total, err := h.patients.Count(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"patients": views(list),
		"total":    total,
	})
}
