package services

import (
	"context"
	"strconv"
	"time"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
	"github.com/zatekoja/onesystem-clinic/pkg/retry"
)

// PatientService resolves patient identity by the natural key (name, phone).
// Matching is exact; callers normalize before calling.
type PatientService struct {
	store repositories.Store
	seq   *SequenceGenerator
	bus   *EventBus
	clock Clock
}

// NewPatientService creates a new patient service
func NewPatientService(store repositories.Store, seq *SequenceGenerator, bus *EventBus, clock Clock) *PatientService {
	return &PatientService{store: store, seq: seq, bus: bus, clock: clock}
}

// Upsert finds the patient with the candidate's (name, phone) and replaces its
// fields with the candidate's, or registers a new patient with the next global
// number. An existing patient's ID never changes.
func (s *PatientService) Upsert(ctx context.Context, candidate *entities.Patient) (*entities.Patient, error) {
	if candidate == nil || candidate.Name == "" {
		return nil, apperrors.NewValidationError("patient name is required")
	}

	var (
		result  *entities.Patient
		created bool
	)
	// a concurrent registration of the same pair surfaces as a conflict on
	// the unique index; rerunning finds the winner's record
	retryable := func(err error) bool {
		return isAnomaly(err) || apperrors.IsType(err, apperrors.ErrorTypeConflict)
	}
	err := retry.DoIf(ctx, retry.OnceMore(), retryable, func() error {
		return s.store.Tx(ctx, func(tx repositories.Tx) error {
			existing, key, err := findByNamePhone(ctx, tx, candidate.Name, candidate.Phone)
			if err != nil {
				return err
			}
			now := s.clock().UTC()

			if existing != nil {
				replaced := replacePatient(existing, candidate, now)
				result, created = replaced, false
				return tx.Put(ctx, schema.Patients, key, replaced)
			}

			id, err := s.seq.nextGlobalTx(ctx, tx)
			if err != nil {
				return err
			}
			p := *candidate
			p.ID = id
			p.CreatedAt = now
			p.UpdatedAt = now
			result, created = &p, true
			return tx.Put(ctx, schema.Patients, strconv.FormatInt(id, 10), &p)
		})
	})
	if err != nil {
		return nil, err
	}

	action := "updated"
	if created {
		action = "created"
	}
	observability.LoggerFromContext(ctx).Info().Str("pid", result.PID()).Str("action", action).Msg("Patient upserted")
	s.bus.Publish(ctx, entities.TopicPatients, map[string]string{"pid": result.PID(), "action": action})
	return result, nil
}

// replacePatient builds the stored record from the candidate alone, so a
// field the caller leaves empty is cleared. ID and CreatedAt are kept from
// existing.
func replacePatient(existing, candidate *entities.Patient, now time.Time) *entities.Patient {
	out := *candidate
	out.ID = existing.ID
	out.CreatedAt = existing.CreatedAt
	out.UpdatedAt = now
	return &out
}

// FindByID looks a patient up by "P00001" or bare number
func (s *PatientService) FindByID(ctx context.Context, pid string) (*entities.Patient, bool, error) {
	id, err := entities.ParsePatientID(pid)
	if err != nil {
		return nil, false, apperrors.NewValidationError(err.Error())
	}
	rec, found, err := s.store.Get(ctx, schema.Patients, strconv.FormatInt(id, 10))
	if err != nil || !found {
		return nil, false, err
	}
	var p entities.Patient
	if err := rec.Decode(&p); err != nil {
		return nil, false, apperrors.NewInternalError("patient "+pid+" is corrupt", err)
	}
	return &p, true, nil
}

// FindByNamePhone looks a patient up by the natural key
func (s *PatientService) FindByNamePhone(ctx context.Context, name, phone string) (*entities.Patient, bool, error) {
	p, _, err := findByNamePhone(ctx, s.store, name, phone)
	if err != nil || p == nil {
		return nil, false, err
	}
	return p, true, nil
}

// List returns patients in registration order
func (s *PatientService) List(ctx context.Context, limit, offset int) ([]*entities.Patient, error) {
	recs, err := s.store.Find(ctx, schema.Patients, repositories.Query{OrderBy: "id", Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return decodeAll[entities.Patient](recs)
}

// Count returns the number of registered patients
func (s *PatientService) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx, schema.Patients, repositories.Query{})
}

func findByNamePhone(ctx context.Context, ops repositories.DocumentOps, name, phone string) (*entities.Patient, string, error) {
	recs, err := ops.Find(ctx, schema.Patients, repositories.Query{
		Where: []repositories.Filter{repositories.Eq("name", name), repositories.Eq("phone", phone)},
		Limit: 1,
	})
	if err != nil || len(recs) == 0 {
		return nil, "", err
	}
	var p entities.Patient
	if err := recs[0].Decode(&p); err != nil {
		return nil, "", apperrors.NewInternalError("patient record is corrupt", err)
	}
	return &p, recs[0].Key, nil
}

// decodeAll decodes every record into a fresh T
func decodeAll[T any](recs []repositories.Record) ([]*T, error) {
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v := new(T)
		if err := rec.Decode(v); err != nil {
			return nil, apperrors.NewInternalError("record "+rec.Key+" is corrupt", err)
		}
		out = append(out, v)
	}
	return out, nil
}
