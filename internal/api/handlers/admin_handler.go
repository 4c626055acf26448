package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
)

// AdminHandler handles health, diagnostics and the audit log
type AdminHandler struct {
	health      *services.HealthService
	diagnostics *services.DiagnosticsService
	audit       *services.AuditService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(core *services.Core) *AdminHandler {
	return &AdminHandler{
		health:      core.Health,
		diagnostics: core.Diagnostics,
		audit:       core.Audit,
	}
}

// Health handles GET /api/health. An unhealthy store answers 503 with the
// same report.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())
	status := http.StatusOK
	if !report.OK {
		status = http.StatusServiceUnavailable
	}
	respondWithJSON(w, status, report)
}

// Schema handles GET /api/diagnostics/schema
func (h *AdminHandler) Schema(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.health.Schema())
}

// Counts handles GET /api/diagnostics/counts
func (h *AdminHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.diagnostics.Counts(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, counts)
}

// Seed handles POST /api/diagnostics/seed?force=true
func (h *AdminHandler) Seed(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	seeded, err := h.diagnostics.Seed(r.Context(), force)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"seeded": seeded})
}

type wipeRequest struct {
	User    string `json:"user"`
	Confirm bool   `json:"confirm"`
}

// Wipe handles POST /api/diagnostics/wipe
func (h *AdminHandler) Wipe(w http.ResponseWriter, r *http.Request) {
	var req wipeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Confirm || req.User == "" {
		respondWithError(w, http.StatusBadRequest, "wipe needs a user and confirm=true")
		return
	}
	if err := h.diagnostics.Wipe(r.Context(), req.User); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "wiped"})
}

type auditRequest struct {
	User     string          `json:"user"`
	DeviceID string          `json:"device_id"`
	Action   string          `json:"action"`
	Meta     json.RawMessage `json:"meta"`
}

// AppendAudit handles POST /api/audit
func (h *AdminHandler) AppendAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var meta interface{}
	if len(req.Meta) > 0 {
		meta = req.Meta
	}
	rec, err := h.audit.Append(r.Context(), req.User, req.DeviceID, req.Action, meta)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, rec)
}

// ListAudit handles GET /api/audit?limit=
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 50)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	list, err := h.audit.List(r.Context(), limit)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"records": list})
}

// VerifyAudit handles GET /api/audit/verify
func (h *AdminHandler) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	broken, err := h.audit.Verify(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"intact":    broken == 0,
		"broken_id": broken,
	})
}
