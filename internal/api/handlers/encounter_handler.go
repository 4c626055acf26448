package handlers

import (
	"net/http"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
)

// EncounterHandler handles OPD visit records
type EncounterHandler struct {
	encounters *services.EncounterService
}

// NewEncounterHandler creates a new encounter handler
func NewEncounterHandler(encounters *services.EncounterService) *EncounterHandler {
	return &EncounterHandler{encounters: encounters}
}

type saveEncounterRequest struct {
	Encounter entities.Encounter   `json:"encounter"`
	Options   services.SaveOptions `json:"options"`
}

// SaveEncounter handles POST /api/encounters
func (h *EncounterHandler) SaveEncounter(w http.ResponseWriter, r *http.Request) {
	var req saveEncounterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.encounters.Save(r.Context(), &req.Encounter, req.Options)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

// ListEncounters handles GET /api/encounters?date= or ?pid=
func (h *EncounterHandler) ListEncounters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		list []*entities.Encounter
		err  error
	)
	switch {
	case q.Get("pid") != "":
		list, err = h.encounters.ListByPatient(r.Context(), q.Get("pid"))
	case q.Get("date") != "":
		list, err = h.encounters.ListByDate(r.Context(), q.Get("date"))
	default:
		respondWithError(w, http.StatusBadRequest, "date or pid is required")
		return
	}
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"encounters": list})
}
