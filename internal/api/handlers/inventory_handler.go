package handlers

import (
	"net/http"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
)

// InventoryHandler handles products, batches and reorder suggestions
type InventoryHandler struct {
	inventory *services.InventoryService
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(inventory *services.InventoryService) *InventoryHandler {
	return &InventoryHandler{inventory: inventory}
}

// UpsertProduct handles POST /api/products
func (h *InventoryHandler) UpsertProduct(w http.ResponseWriter, r *http.Request) {
	var p entities.Product
	if !decodeJSON(w, r, &p) {
		return
	}
	out, err := h.inventory.UpsertProduct(r.Context(), &p)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

// ListProducts handles GET /api/products
func (h *InventoryHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.inventory.ListProducts(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"products": list})
}

// AddBatch handles POST /api/batches
func (h *InventoryHandler) AddBatch(w http.ResponseWriter, r *http.Request) {
	var b entities.Batch
	if !decodeJSON(w, r, &b) {
		return
	}
	out, err := h.inventory.AddBatch(r.Context(), &b)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

// OnHand handles GET /api/stock
func (h *InventoryHandler) OnHand(w http.ResponseWriter, r *http.Request) {
	stock, err := h.inventory.OnHand(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stock)
}

type reorderRequest struct {
	SupplierID *int64 `json:"supplier_id"`
}

// BuildReorder handles POST /api/reorder
func (h *InventoryHandler) BuildReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.inventory.BuildReorder(r.Context(), req.SupplierID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, s)
}

// ComputeLanding handles POST /api/landing
func (h *InventoryHandler) ComputeLanding(w http.ResponseWriter, r *http.Request) {
	var line entities.PurchaseLine
	if !decodeJSON(w, r, &line) {
		return
	}
	cost, err := services.ComputeLanding(line)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]float64{"landing": cost})
}
