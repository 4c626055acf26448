package handlers

import (
	"net/http"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
)

// QueueHandler handles the OPD to pharmacy and lab hand-offs
type QueueHandler struct {
	queue *services.QueueBridge
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(queue *services.QueueBridge) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// EnqueueRx handles POST /api/queue/rx
func (h *QueueHandler) EnqueueRx(w http.ResponseWriter, r *http.Request) {
	var req services.RxRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.queue.EnqueuePharmacyRx(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, res)
}

// ListPendingRx handles GET /api/queue/rx
func (h *QueueHandler) ListPendingRx(w http.ResponseWriter, r *http.Request) {
	list, err := h.queue.ListPendingRx(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"pending": list})
}

type fulfillRequest struct {
	BillNo string `json:"bill_no"`
}

// FulfillRx handles POST /api/queue/rx/{id}/fulfill
func (h *QueueHandler) FulfillRx(w http.ResponseWriter, r *http.Request) {
	var req fulfillRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rx, err := h.queue.FulfillRx(r.Context(), r.PathValue("id"), req.BillNo)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rx)
}

// EnqueueLab handles POST /api/queue/lab
func (h *QueueHandler) EnqueueLab(w http.ResponseWriter, r *http.Request) {
	var req services.LabRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.queue.EnqueueLabOrder(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, res)
}

// ListLabOrders handles GET /api/queue/lab?status=&date=
func (h *QueueHandler) ListLabOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.queue.ListLabOrders(r.Context(), entities.LabOrderStatus(q.Get("status")), q.Get("date"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"orders": list})
}

// ReadLabQueue handles GET /api/queue/lab/flat
func (h *QueueHandler) ReadLabQueue(w http.ResponseWriter, r *http.Request) {
	list, err := h.queue.ReadLabQueue(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}

// UpdateLabOrderStatus handles PATCH /api/queue/lab/{id}/status
func (h *QueueHandler) UpdateLabOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := h.queue.UpdateLabOrderStatus(r.Context(), r.PathValue("id"), entities.LabOrderStatus(req.Status))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, order)
}
