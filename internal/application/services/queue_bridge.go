package services

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/providers"
	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// RxRequest is a prescription handed from OPD to the pharmacy
type RxRequest struct {
	PID   string              `json:"pid"`
	Name  string              `json:"name"`
	Phone string              `json:"phone"`
	Items []entities.LineItem `json:"items"`
}

// LabRequest is a set of tests handed from OPD to the lab
type LabRequest struct {
	PID      string              `json:"pid"`
	Name     string              `json:"name"`
	Phone    string              `json:"phone"`
	Items    []entities.LineItem `json:"items"`
	TokenRef string              `json:"token_ref"`
	Source   string              `json:"source"`
}

// QueueBridge moves work items from OPD to the pharmacy and the lab. Items
// are recorded exactly as given; validation belongs to the consuming page.
type QueueBridge struct {
	store  repositories.Store
	lists  *compatLists
	bus    *EventBus
	clock  Clock
	newRef func() string
}

// NewQueueBridge creates a new queue bridge
func NewQueueBridge(store repositories.Store, storage providers.LocalStorage, bus *EventBus, clock Clock) *QueueBridge {
	return &QueueBridge{
		store:  store,
		lists:  newCompatLists(storage),
		bus:    bus,
		clock:  clock,
		newRef: uuid.NewString,
	}
}

// EnqueuePharmacyRx records a pending sale for the pharmacy
func (q *QueueBridge) EnqueuePharmacyRx(ctx context.Context, req RxRequest) (*entities.EnqueueResult, error) {
	logger := observability.LoggerFromContext(ctx)
	items := req.Items
	if items == nil {
		items = []entities.LineItem{}
	}

	now := q.clock()
	rx := &entities.PharmacyRx{
		Date:         now.Format(DayLayout),
		TS:           now.UnixMilli(),
		Source:       entities.RxSourceOPD,
		Mode:         "pending",
		Status:       entities.RxStatusPending,
		PID:          req.PID,
		PatientName:  req.Name,
		PatientPhone: req.Phone,
		Items:        items,
		CreatedAt:    now.UTC(),
	}
	key, err := q.store.Insert(ctx, schema.Sales, rx)
	if err != nil {
		return nil, err
	}
	rx.ID, _ = strconv.ParseInt(key, 10, 64)

	if err := q.lists.appendRx(ctx, entities.RxQueueEntry{SaleID: rx.ID, PID: rx.PID, Items: items, Status: rx.Status, CreatedAt: rx.CreatedAt}); err != nil {
		logger.Warn().Err(err).Str("pid", req.PID).Msg("Pharmacy flat list append failed")
	}

	q.bus.Publish(ctx, entities.TopicPharmacyRxEnqueued, map[string]interface{}{"id": rx.ID, "pid": rx.PID})
	touched := q.bus.Touch(ctx, entities.MarkerSales)

	logger.Info().Str("pid", req.PID).Int64("sale_id", rx.ID).Int("items", len(items)).Msg("Pharmacy Rx enqueued")
	return &entities.EnqueueResult{Accepted: true, QueueID: key, MarkerTouch: touched}, nil
}

// EnqueueLabOrder writes the order to the flat lab list and the structured
// collection. The flat list is written first and is the write of record: a
// structured-store failure is logged and reported as Partial, not as an error.
// Only when both writes fail is the enqueue rejected.
func (q *QueueBridge) EnqueueLabOrder(ctx context.Context, req LabRequest) (*entities.EnqueueResult, error) {
	logger := observability.LoggerFromContext(ctx)
	items := req.Items
	if items == nil {
		items = []entities.LineItem{}
	}
	if req.Source == "" {
		req.Source = "opd"
	}

	now := q.clock()
	order := entities.LabOrder{
		QueueRef:  q.newRef(),
		PID:       req.PID,
		Name:      req.Name,
		Phone:     req.Phone,
		Source:    req.Source,
		TokenRef:  req.TokenRef,
		Status:    entities.LabOrderStatusQueued,
		Date:      now.Format(DayLayout),
		Items:     items,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}

	touched := false
	flatErr := q.lists.appendLab(ctx, order)
	if flatErr != nil {
		logger.Error().Err(flatErr).Str("pid", req.PID).Msg("Lab flat list append failed")
	} else {
		touched = q.bus.Touch(ctx, entities.MarkerLabOrderQueue)
	}

	key, structErr := q.store.Insert(ctx, schema.LabOrders, order)
	if structErr != nil {
		logger.Warn().Err(structErr).Str("pid", req.PID).Str("queue_ref", order.QueueRef).Msg("Lab order structured write failed")
	}

	if flatErr != nil && structErr != nil {
		return nil, apperrors.NewStoreUnavailableError("lab order could not be queued", structErr)
	}

	q.bus.Publish(ctx, entities.TopicLabOrderEnqueued, map[string]interface{}{"queue_ref": order.QueueRef, "pid": order.PID, "id": key})
	return &entities.EnqueueResult{
		Accepted:    true,
		QueueID:     order.QueueRef,
		Partial:     flatErr != nil || structErr != nil,
		MarkerTouch: touched,
	}, nil
}

// ListPendingRx returns OPD prescriptions the pharmacy has not billed, oldest first
func (q *QueueBridge) ListPendingRx(ctx context.Context) ([]*entities.PharmacyRx, error) {
	recs, err := q.store.Find(ctx, schema.Sales, repositories.Query{
		Where: []repositories.Filter{
			repositories.Eq("source", entities.RxSourceOPD),
			repositories.Eq("status", string(entities.RxStatusPending)),
		},
		OrderBy: "ts",
	})
	if err != nil {
		return nil, err
	}
	return decodeAll[entities.PharmacyRx](recs)
}

// FulfillRx marks a pending prescription billed
func (q *QueueBridge) FulfillRx(ctx context.Context, id, billNo string) (*entities.PharmacyRx, error) {
	var rx entities.PharmacyRx
	err := runTx(ctx, q.store, func(tx repositories.Tx) error {
		rec, found, err := tx.Get(ctx, schema.Sales, id)
		if err != nil {
			return err
		}
		if !found {
			return apperrors.NewNotFoundError("sale " + id + " not found")
		}
		if err := rec.Decode(&rx); err != nil {
			return apperrors.NewInternalError("sale "+id+" is corrupt", err)
		}
		if rx.Status == entities.RxStatusFulfilled {
			return apperrors.NewConflictError("sale "+id+" is already fulfilled", nil)
		}
		now := q.clock().UTC()
		rx.Status = entities.RxStatusFulfilled
		rx.Mode = "billed"
		rx.BillNo = billNo
		rx.FulfilledAt = &now
		return tx.Update(ctx, schema.Sales, id, &rx)
	})
	if err != nil {
		return nil, err
	}

	if err := q.lists.updateRx(ctx, rx.ID, rx.Status); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Int64("sale_id", rx.ID).Msg("Pharmacy flat list update failed")
	}
	q.bus.Publish(ctx, entities.TopicRxFulfilled, map[string]interface{}{"id": rx.ID, "pid": rx.PID})
	q.bus.Touch(ctx, entities.MarkerSales)
	return &rx, nil
}

// ReadLabQueue returns the flat lab list. An unreadable list degrades to empty.
func (q *QueueBridge) ReadLabQueue(ctx context.Context) ([]entities.LabOrder, error) {
	list, err := q.lists.readLab(ctx)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Msg("Lab flat list unreadable")
		return []entities.LabOrder{}, nil
	}
	return list, nil
}

// ListLabOrders returns structured lab orders, optionally filtered by status
// and date, oldest first
func (q *QueueBridge) ListLabOrders(ctx context.Context, status entities.LabOrderStatus, date string) ([]*entities.LabOrder, error) {
	var where []repositories.Filter
	if status != "" {
		where = append(where, repositories.Eq("status", string(status)))
	}
	if date != "" {
		where = append(where, repositories.Eq("date", date))
	}
	recs, err := q.store.Find(ctx, schema.LabOrders, repositories.Query{Where: where, OrderBy: "id"})
	if err != nil {
		return nil, err
	}
	return decodeAll[entities.LabOrder](recs)
}

// UpdateLabOrderStatus moves a structured lab order to status and mirrors the
// change into the flat list
func (q *QueueBridge) UpdateLabOrderStatus(ctx context.Context, id string, status entities.LabOrderStatus) (*entities.LabOrder, error) {
	var order entities.LabOrder
	err := runTx(ctx, q.store, func(tx repositories.Tx) error {
		rec, found, err := tx.Get(ctx, schema.LabOrders, id)
		if err != nil {
			return err
		}
		if !found {
			return apperrors.NewNotFoundError("lab order " + id + " not found")
		}
		if err := rec.Decode(&order); err != nil {
			return apperrors.NewInternalError("lab order "+id+" is corrupt", err)
		}
		if !order.Status.CanTransition(status) {
			return apperrors.NewValidationError("lab order cannot move from " + string(order.Status) + " to " + string(status))
		}
		order.Status = status
		order.UpdatedAt = q.clock().UTC()
		return tx.Update(ctx, schema.LabOrders, id, &order)
	})
	if err != nil {
		return nil, err
	}

	if err := q.lists.updateLab(ctx, order.QueueRef, status, q.clock); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("queue_ref", order.QueueRef).Msg("Lab flat list update failed")
	} else {
		q.bus.Touch(ctx, entities.MarkerLabOrderQueue)
	}
	q.bus.Publish(ctx, entities.TopicLabOrderUpdated, map[string]interface{}{"id": order.ID, "queue_ref": order.QueueRef, "status": order.Status})
	return &order, nil
}

// ClearLists removes both flat lists
func (q *QueueBridge) ClearLists(ctx context.Context) error {
	return q.lists.clear(ctx)
}
