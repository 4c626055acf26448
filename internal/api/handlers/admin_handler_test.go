package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminHandler_Health(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, "GET", "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "memory", body["backend"])

	require.NoError(t, s.store.Close())
	w = s.do(t, "GET", "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["ok"])

	w = s.do(t, "GET", "/api/patients", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminHandler_SeedCountsWipe(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, "POST", "/api/diagnostics/seed", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["seeded"])

	w = s.do(t, "POST", "/api/diagnostics/seed", nil)
	assert.Equal(t, false, decodeBody(t, w)["seeded"])

	w = s.do(t, "GET", "/api/diagnostics/counts", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(3), body["patients"])
	assert.Equal(t, float64(2), body["bookings_today"])

	w = s.do(t, "POST", "/api/diagnostics/wipe", map[string]interface{}{"user": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "wipe needs confirmation")

	w = s.do(t, "POST", "/api/diagnostics/wipe", map[string]interface{}{"user": "admin", "confirm": true})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, "GET", "/api/diagnostics/counts", nil)
	assert.Equal(t, float64(0), decodeBody(t, w)["patients"])
}

func TestAdminHandler_Audit(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, "POST", "/api/audit", map[string]interface{}{"user": "reception", "action": "login", "meta": map[string]string{"tab": "opd"}})
	assert.Equal(t, http.StatusCreated, w.Code)
	first := decodeBody(t, w)
	assert.Len(t, first["hash_self"], 64)

	w = s.do(t, "POST", "/api/audit", map[string]interface{}{"user": "reception", "action": "logout"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, first["hash_self"], decodeBody(t, w)["hash_prev"])

	w = s.do(t, "POST", "/api/audit", map[string]interface{}{"user": "reception"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "GET", "/api/audit?limit=1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["records"], 1)

	w = s.do(t, "GET", "/api/audit/verify", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["intact"])

	n, err := s.core.Audit.Verify(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAdminHandler_Schema(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, "GET", "/api/diagnostics/schema", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Version     int `json:"version"`
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	require.NoError(t, jsonDecode(w, &body))
	assert.Equal(t, 8, body.Version)

	names := make([]string, 0, len(body.Collections))
	for _, c := range body.Collections {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "patients")
	assert.Contains(t, names, "lab_orders")
	assert.Contains(t, names, "audits")
}
