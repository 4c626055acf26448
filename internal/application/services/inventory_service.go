package services

import (
	"context"
	"math"
	"strconv"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// InventoryService keeps the product master and batches and derives reorder
// suggestions. Stock quantities are only read here.
type InventoryService struct {
	store repositories.Store
	bus   *EventBus
	clock Clock
}

// NewInventoryService creates a new inventory service
func NewInventoryService(store repositories.Store, bus *EventBus, clock Clock) *InventoryService {
	return &InventoryService{store: store, bus: bus, clock: clock}
}

// UpsertProduct creates or updates the product with p's SKU. New products get
// the reorder defaults for unset fields.
func (s *InventoryService) UpsertProduct(ctx context.Context, p *entities.Product) (*entities.Product, error) {
	if p == nil || p.SKU == "" {
		return nil, apperrors.NewValidationError("product sku is required")
	}

	var out entities.Product
	err := runTx(ctx, s.store, func(tx repositories.Tx) error {
		recs, err := tx.Find(ctx, schema.Products, repositories.Query{
			Where: []repositories.Filter{repositories.Eq("sku", p.SKU)},
			Limit: 1,
		})
		if err != nil {
			return err
		}
		now := s.clock().UTC()
		out = *p
		out.UpdatedAt = now

		if len(recs) == 0 {
			out.CreatedAt = now
			applyDefaults(&out)
			key, err := tx.Insert(ctx, schema.Products, &out)
			if err != nil {
				return err
			}
			out.ID, _ = strconv.ParseInt(key, 10, 64)
			return nil
		}

		var existing entities.Product
		if err := recs[0].Decode(&existing); err != nil {
			return apperrors.NewInternalError("product "+p.SKU+" is corrupt", err)
		}
		out.ID = existing.ID
		out.CreatedAt = existing.CreatedAt
		applyDefaults(&out)
		return tx.Update(ctx, schema.Products, recs[0].Key, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func applyDefaults(p *entities.Product) {
	if p.LeadTimeDays == 0 {
		p.LeadTimeDays = schema.DefaultLeadTimeDays
	}
	if p.TargetCoverDays == 0 {
		p.TargetCoverDays = schema.DefaultTargetCoverDays
	}
	if p.SafetyStockDays == 0 {
		p.SafetyStockDays = schema.DefaultSafetyStockDays
	}
	if p.PackSize == 0 {
		p.PackSize = schema.DefaultPackSize
	}
}

// ListProducts returns products ordered by name
func (s *InventoryService) ListProducts(ctx context.Context) ([]*entities.Product, error) {
	recs, err := s.store.Find(ctx, schema.Products, repositories.Query{OrderBy: "name"})
	if err != nil {
		return nil, err
	}
	return decodeAll[entities.Product](recs)
}

// AddBatch records a batch, replacing an existing batch with the same
// (sku, batch_no)
func (s *InventoryService) AddBatch(ctx context.Context, b *entities.Batch) (*entities.Batch, error) {
	if b == nil || b.SKU == "" || b.BatchNo == "" {
		return nil, apperrors.NewValidationError("batch sku and batch_no are required")
	}
	if b.Expiry != "" {
		if err := validateDay("expiry", b.Expiry); err != nil {
			return nil, err
		}
	}

	out := *b
	err := runTx(ctx, s.store, func(tx repositories.Tx) error {
		recs, err := tx.Find(ctx, schema.Batches, repositories.Query{
			Where: []repositories.Filter{repositories.Eq("sku", b.SKU), repositories.Eq("batch_no", b.BatchNo)},
			Limit: 1,
		})
		if err != nil {
			return err
		}
		if len(recs) == 1 {
			out.ID, _ = strconv.ParseInt(recs[0].Key, 10, 64)
			return tx.Update(ctx, schema.Batches, recs[0].Key, &out)
		}
		key, err := tx.Insert(ctx, schema.Batches, &out)
		if err != nil {
			return err
		}
		out.ID, _ = strconv.ParseInt(key, 10, 64)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// OnHand sums batch stock per SKU
func (s *InventoryService) OnHand(ctx context.Context) (map[string]float64, error) {
	recs, err := s.store.Find(ctx, schema.Batches, repositories.Query{})
	if err != nil {
		return nil, err
	}
	batches, err := decodeAll[entities.Batch](recs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, b := range batches {
		out[b.SKU] += b.StockQty
	}
	return out, nil
}

// BuildReorder lists every product with a positive minimum whose stock is
// below it, rounding order quantities up to whole packs. A non-empty result
// is stored as a purchase suggestion.
func (s *InventoryService) BuildReorder(ctx context.Context, supplierID *int64) (*entities.ReorderSuggestion, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	onHand, err := s.OnHand(ctx)
	if err != nil {
		return nil, err
	}

	suggestion := &entities.ReorderSuggestion{
		CreatedAt:  s.clock().UTC().Format(DayLayout),
		SupplierID: supplierID,
		Items:      []entities.ReorderLine{},
	}
	for _, p := range products {
		have := onHand[p.SKU]
		if p.MinStock <= 0 || have >= p.MinStock {
			continue
		}
		needed := p.MinStock - have
		pack := float64(p.PackSize)
		if pack <= 0 {
			pack = 1
		}
		suggestion.Items = append(suggestion.Items, entities.ReorderLine{
			SKU:         p.SKU,
			Name:        p.Name,
			CompanyName: p.CompanyName,
			OnHand:      have,
			MinStock:    p.MinStock,
			Needed:      needed,
			OrderQty:    math.Ceil(needed/pack) * pack,
		})
	}
	if len(suggestion.Items) == 0 {
		return suggestion, nil
	}

	key, err := s.store.Insert(ctx, schema.PurchaseSuggestions, suggestion)
	if err != nil {
		return nil, err
	}
	suggestion.ID, _ = strconv.ParseInt(key, 10, 64)
	s.bus.Publish(ctx, entities.TopicReorder, map[string]interface{}{"id": suggestion.ID, "lines": len(suggestion.Items)})
	return suggestion, nil
}

// ComputeLanding returns the per-unit landing cost of a purchase line, free
// units included, rounded to paise
func ComputeLanding(line entities.PurchaseLine) (float64, error) {
	units := line.PaidQty + line.FreeQty
	if units <= 0 {
		return 0, apperrors.NewValidationError("purchase line has no units")
	}
	return math.Round(line.LineAmount/units*100) / 100, nil
}
