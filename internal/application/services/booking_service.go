package services

import (
	"context"
	"sort"
	"strconv"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// BookingRequest is a request for a day token
type BookingRequest struct {
	Date      string `json:"date,omitempty"`
	PID       string `json:"pid"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Channel   string `json:"channel,omitempty"`
	VisitType string `json:"visit_type,omitempty"`
}

// BookingService issues day tokens and moves them through their states
type BookingService struct {
	store repositories.Store
	seq   *SequenceGenerator
	bus   *EventBus
	clock Clock
}

// NewBookingService creates a new booking service
func NewBookingService(store repositories.Store, seq *SequenceGenerator, bus *EventBus, clock Clock) *BookingService {
	return &BookingService{store: store, seq: seq, bus: bus, clock: clock}
}

// Create issues the next token of the booking's day
func (s *BookingService) Create(ctx context.Context, req BookingRequest) (*entities.Booking, error) {
	if req.PID == "" {
		return nil, apperrors.NewValidationError("pid is required")
	}
	if req.Channel == "" {
		req.Channel = "Walk"
	}

	var (
		token int64
		err   error
	)
	today := s.clock.Today()
	if req.Date == "" || req.Date == today {
		req.Date = today
		token, err = s.seq.NextToken(ctx, PurposeToken)
	} else {
		token, err = s.seq.Next(ctx, PurposeToken, req.Date)
	}
	if err != nil {
		return nil, err
	}

	now := s.clock()
	b := &entities.Booking{
		Date:      req.Date,
		TokenNo:   int(token),
		PID:       req.PID,
		Name:      req.Name,
		Phone:     req.Phone,
		Channel:   req.Channel,
		VisitType: req.VisitType,
		Status:    entities.BookingStatusPending,
		TS:        now.UnixMilli(),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	key, err := s.store.Insert(ctx, schema.Bookings, b)
	if err != nil {
		return nil, err
	}
	b.ID, _ = strconv.ParseInt(key, 10, 64)

	observability.LoggerFromContext(ctx).Info().Str("pid", b.PID).Str("date", b.Date).Int("token", b.TokenNo).Msg("Booking created")
	s.bus.Publish(ctx, entities.TopicBookings, map[string]interface{}{"id": b.ID, "date": b.Date, "token_no": b.TokenNo})
	return b, nil
}

// Get fetches a booking by id
func (s *BookingService) Get(ctx context.Context, id string) (*entities.Booking, bool, error) {
	rec, found, err := s.store.Get(ctx, schema.Bookings, id)
	if err != nil || !found {
		return nil, false, err
	}
	var b entities.Booking
	if err := rec.Decode(&b); err != nil {
		return nil, false, apperrors.NewInternalError("booking "+id+" is corrupt", err)
	}
	return &b, true, nil
}

// ListByDate returns a day's bookings in token order
func (s *BookingService) ListByDate(ctx context.Context, date string) ([]*entities.Booking, error) {
	if err := validateDay("date", date); err != nil {
		return nil, err
	}
	recs, err := s.store.Find(ctx, schema.Bookings, repositories.Query{
		Where:   []repositories.Filter{repositories.Eq("date", date)},
		OrderBy: "token_no",
	})
	if err != nil {
		return nil, err
	}
	return decodeAll[entities.Booking](recs)
}

// Transition moves a booking one legal step to status to
func (s *BookingService) Transition(ctx context.Context, id string, to entities.BookingStatus) (*entities.Booking, error) {
	if !to.IsValid() {
		return nil, apperrors.NewValidationError("unknown booking status " + string(to))
	}

	var out *entities.Booking
	err := runTx(ctx, s.store, func(tx repositories.Tx) error {
		rec, found, err := tx.Get(ctx, schema.Bookings, id)
		if err != nil {
			return err
		}
		if !found {
			return apperrors.NewNotFoundError("booking " + id + " not found")
		}
		var b entities.Booking
		if err := rec.Decode(&b); err != nil {
			return apperrors.NewInternalError("booking "+id+" is corrupt", err)
		}
		if !b.Status.CanTransition(to) {
			return apperrors.NewValidationError("booking cannot move from " + string(b.Status) + " to " + string(to))
		}
		s.apply(&b, to)
		out = &b
		return tx.Update(ctx, schema.Bookings, id, &b)
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, entities.TopicBookings, map[string]interface{}{"id": out.ID, "status": out.Status})
	return out, nil
}

// MarkServed moves the patient's most recent non-terminal booking of date to
// done through the legal intermediate states. With no such booking it does
// nothing and returns nil.
func (s *BookingService) MarkServed(ctx context.Context, pid, date string) (*entities.Booking, error) {
	if err := validateDay("date", date); err != nil {
		return nil, err
	}

	var served *entities.Booking
	err := runTx(ctx, s.store, func(tx repositories.Tx) error {
		served = nil
		recs, err := tx.Find(ctx, schema.Bookings, repositories.Query{
			Where: []repositories.Filter{repositories.Eq("date", date), repositories.Eq("pid", pid)},
		})
		if err != nil {
			return err
		}
		open, err := decodeAll[entities.Booking](recs)
		if err != nil {
			return err
		}
		candidates := open[:0]
		for _, b := range open {
			if !b.Status.IsTerminal() {
				candidates = append(candidates, b)
			}
		}
		if len(candidates) == 0 {
			return nil
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].TS != candidates[j].TS {
				return candidates[i].TS > candidates[j].TS
			}
			return candidates[i].ID > candidates[j].ID
		})

		b := candidates[0]
		for _, step := range b.Status.PathTo(entities.BookingStatusDone) {
			s.apply(b, step)
		}
		served = b
		return tx.Update(ctx, schema.Bookings, strconv.FormatInt(b.ID, 10), b)
	})
	if err != nil {
		return nil, err
	}
	if served != nil {
		s.bus.Publish(ctx, entities.TopicBookings, map[string]interface{}{"id": served.ID, "status": served.Status})
	}
	return served, nil
}

func (s *BookingService) apply(b *entities.Booking, to entities.BookingStatus) {
	now := s.clock().UTC()
	b.Status = to
	b.UpdatedAt = now
	if to == entities.BookingStatusDone {
		b.ServedAt = &now
	}
}

// CountByDate returns the number of bookings on date
func (s *BookingService) CountByDate(ctx context.Context, date string) (int, error) {
	return s.store.Count(ctx, schema.Bookings, repositories.Query{Where: []repositories.Filter{repositories.Eq("date", date)}})
}
