package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
)

// SettingsHandler handles settings, branding, sequences and ad hoc events
type SettingsHandler struct {
	settings  *services.SettingsService
	branding  *services.BrandingService
	sequences *services.SequenceGenerator
	bus       *services.EventBus
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(core *services.Core) *SettingsHandler {
	return &SettingsHandler{
		settings:  core.Settings,
		branding:  core.Branding,
		sequences: core.Sequences,
		bus:       core.Bus,
	}
}

// GetSetting handles GET /api/settings/{key}
func (h *SettingsHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := h.settings.Get(r.Context(), key)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if value == nil {
		respondWithError(w, http.StatusNotFound, "setting not found")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

// PutSetting handles PUT /api/settings/{key}; the body is the value
func (h *SettingsHandler) PutSetting(w http.ResponseWriter, r *http.Request) {
	var value json.RawMessage
	if !decodeJSON(w, r, &value) {
		return
	}
	if err := h.settings.Set(r.Context(), r.PathValue("key"), value); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSetting handles DELETE /api/settings/{key}
func (h *SettingsHandler) DeleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.Delete(r.Context(), r.PathValue("key")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBranding handles GET /api/branding
func (h *SettingsHandler) GetBranding(w http.ResponseWriter, r *http.Request) {
	b, err := h.branding.Get(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, b)
}

// PutBranding handles PUT /api/branding
func (h *SettingsHandler) PutBranding(w http.ResponseWriter, r *http.Request) {
	var b entities.Branding
	if !decodeJSON(w, r, &b) {
		return
	}
	out, err := h.branding.Set(r.Context(), &b)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

// NextSequence handles POST /api/sequences/{purpose}/next?date=. Without a
// date the number comes from today's counter.
func (h *SettingsHandler) NextSequence(w http.ResponseWriter, r *http.Request) {
	purpose := r.PathValue("purpose")
	date := r.URL.Query().Get("date")
	var (
		n   int64
		err error
	)
	if date == "" {
		n, err = h.sequences.NextToken(r.Context(), purpose)
	} else {
		n, err = h.sequences.Next(r.Context(), purpose, date)
	}
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"purpose": purpose, "date": date, "value": n})
}

// PeekSequence handles GET /api/sequences/{purpose}?date=
func (h *SettingsHandler) PeekSequence(w http.ResponseWriter, r *http.Request) {
	purpose := r.PathValue("purpose")
	date := r.URL.Query().Get("date")
	if date == "" {
		respondWithError(w, http.StatusBadRequest, "date is required")
		return
	}
	n, err := h.sequences.Peek(r.Context(), purpose, date)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"purpose": purpose, "date": date, "value": n})
}

// NextGlobal handles POST /api/sequences/global/next
func (h *SettingsHandler) NextGlobal(w http.ResponseWriter, r *http.Request) {
	n, err := h.sequences.NextGlobal(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"value": n, "pid": entities.FormatPatientID(n)})
}

// PeekGlobal handles GET /api/sequences/global
func (h *SettingsHandler) PeekGlobal(w http.ResponseWriter, r *http.Request) {
	n, err := h.sequences.PeekGlobal(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"value": n})
}

// PublishEvent handles POST /api/events/{topic}; an empty body publishes
// without a payload
func (h *SettingsHandler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	var payload interface{}
	if len(body) > 0 {
		if !json.Valid(body) {
			respondWithError(w, http.StatusBadRequest, "payload must be JSON")
			return
		}
		payload = json.RawMessage(body)
	}
	d := h.bus.Publish(r.Context(), r.PathValue("topic"), payload)
	respondWithJSON(w, http.StatusAccepted, d)
}
