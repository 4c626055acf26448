package services

import (
	"context"
	"strconv"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// SaveOptions controls what an OPD save hands on to other departments
type SaveOptions struct {
	BridgeRx   bool `json:"bridge_rx"`
	BridgeLabs bool `json:"bridge_labs"`
}

// EncounterResult reports everything an OPD save touched
type EncounterResult struct {
	Encounter *entities.Encounter     `json:"encounter"`
	Served    *entities.Booking       `json:"served,omitempty"`
	Rx        *entities.EnqueueResult `json:"rx,omitempty"`
	Lab       *entities.EnqueueResult `json:"lab,omitempty"`
}

// EncounterService records OPD visits
type EncounterService struct {
	store    repositories.Store
	patients *PatientService
	bookings *BookingService
	bridge   *QueueBridge
	bus      *EventBus
	clock    Clock
}

// NewEncounterService creates a new encounter service
func NewEncounterService(store repositories.Store, patients *PatientService, bookings *BookingService, bridge *QueueBridge, bus *EventBus, clock Clock) *EncounterService {
	return &EncounterService{store: store, patients: patients, bookings: bookings, bridge: bridge, bus: bus, clock: clock}
}

// Save stores the encounter, marks the patient's booking served and, when
// asked, queues the prescription and lab tests. Follow-on steps after the
// encounter write are logged on failure and do not undo it.
func (s *EncounterService) Save(ctx context.Context, enc *entities.Encounter, opts SaveOptions) (*EncounterResult, error) {
	if enc == nil || enc.PID == "" {
		return nil, apperrors.NewValidationError("encounter pid is required")
	}
	logger := observability.LoggerFromContext(ctx)

	out := *enc
	now := s.clock()
	if out.Date == "" {
		out.Date = now.Format(DayLayout)
	}
	if err := validateDay("date", out.Date); err != nil {
		return nil, err
	}
	if out.Type == "" {
		out.Type = "opd"
	}
	if out.Rx == nil {
		out.Rx = []entities.LineItem{}
	}
	if out.Labs == nil {
		out.Labs = []entities.LineItem{}
	}
	out.UpdatedAt = now.UTC()

	if out.ID == 0 {
		out.CreatedAt = now.UTC()
		key, err := s.store.Insert(ctx, schema.Encounters, &out)
		if err != nil {
			return nil, err
		}
		out.ID, _ = strconv.ParseInt(key, 10, 64)
	} else if err := s.store.Update(ctx, schema.Encounters, strconv.FormatInt(out.ID, 10), &out); err != nil {
		return nil, err
	}

	result := &EncounterResult{Encounter: &out}

	served, err := s.bookings.MarkServed(ctx, out.PID, out.Date)
	if err != nil {
		logger.Warn().Err(err).Str("pid", out.PID).Msg("Mark served failed")
	}
	result.Served = served

	s.bus.Touch(ctx, entities.MarkerOPDSaved)
	s.bus.Publish(ctx, entities.TopicOPDSaved, map[string]interface{}{"id": out.ID, "pid": out.PID})

	if !opts.BridgeRx && !opts.BridgeLabs {
		return result, nil
	}

	var name, phone string
	if p, found, err := s.patients.FindByID(ctx, out.PID); err == nil && found {
		name, phone = p.Name, p.Phone
	}

	if opts.BridgeRx && len(out.Rx) > 0 {
		rx, err := s.bridge.EnqueuePharmacyRx(ctx, RxRequest{PID: out.PID, Name: name, Phone: phone, Items: out.Rx})
		if err != nil {
			logger.Error().Err(err).Str("pid", out.PID).Msg("Pharmacy hand-off failed")
		}
		result.Rx = rx
	}
	if opts.BridgeLabs && len(out.Labs) > 0 {
		lab, err := s.bridge.EnqueueLabOrder(ctx, LabRequest{PID: out.PID, Name: name, Phone: phone, Items: out.Labs, TokenRef: out.TokenRef, Source: "opd"})
		if err != nil {
			logger.Error().Err(err).Str("pid", out.PID).Msg("Lab hand-off failed")
		}
		result.Lab = lab
	}
	return result, nil
}

// ListByDate returns a day's encounters in save order
func (s *EncounterService) ListByDate(ctx context.Context, date string) ([]*entities.Encounter, error) {
	if err := validateDay("date", date); err != nil {
		return nil, err
	}
	recs, err := s.store.Find(ctx, schema.Encounters, repositories.Query{
		Where:   []repositories.Filter{repositories.Eq("date", date)},
		OrderBy: "id",
	})
	if err != nil {
		return nil, err
	}
	return decodeAll[entities.Encounter](recs)
}

// ListByPatient returns a patient's encounters, newest first
func (s *EncounterService) ListByPatient(ctx context.Context, pid string) ([]*entities.Encounter, error) {
	recs, err := s.store.Find(ctx, schema.Encounters, repositories.Query{
		Where:   []repositories.Filter{repositories.Eq("pid", pid)},
		OrderBy: "id",
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}
	return decodeAll[entities.Encounter](recs)
}

// Count returns the number of encounters
func (s *EncounterService) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx, schema.Encounters, repositories.Query{})
}
