package handlers_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
)

func TestQueueHandler_PharmacyFlow(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, "POST", "/api/queue/rx", map[string]interface{}{
		"pid":   "P00001",
		"items": []map[string]interface{}{{"name": "CETRIZINE TAB", "qty": 2}},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, "1", body["queue_id"])

	w = s.do(t, "GET", "/api/queue/rx", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["pending"], 1)

	w = s.do(t, "POST", "/api/queue/rx/1/fulfill", map[string]string{"bill_no": "DM000101"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fulfilled", decodeBody(t, w)["status"])

	w = s.do(t, "POST", "/api/queue/rx/1/fulfill", map[string]string{"bill_no": "DM000102"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", decodeBody(t, w)["type"])
}

func TestQueueHandler_LabFlow(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, "POST", "/api/queue/lab", map[string]interface{}{
		"pid":   "P00001",
		"items": []map[string]interface{}{{"test": "CBP"}},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	ref := decodeBody(t, w)["queue_id"]

	w = s.do(t, "GET", "/api/queue/lab/flat", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var flat []map[string]interface{}
	require.NoError(t, jsonDecode(w, &flat))
	require.Len(t, flat, 1)
	assert.Equal(t, ref, flat[0]["queue_ref"])

	w = s.do(t, "PATCH", "/api/queue/lab/1/status", map[string]string{"status": "in_progress"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, "GET", "/api/queue/lab?status=in_progress", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["orders"], 1)
}

func TestQueueHandler_LabPartialAndUnavailable(t *testing.T) {
	s := newTestServer(t, false)
	s.store.FailCollection(schema.LabOrders, errors.New("quota exceeded"))

	w := s.do(t, "POST", "/api/queue/lab", map[string]interface{}{"pid": "P00001"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["partial"])

	s.storage.FailKey(services.LabOrdersQueueKey, errors.New("quota exceeded"))
	w = s.do(t, "POST", "/api/queue/lab", map[string]interface{}{"pid": "P00001"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "STORE_UNAVAILABLE", decodeBody(t, w)["type"])
}
