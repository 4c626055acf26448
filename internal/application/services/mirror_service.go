package services

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/providers"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// MirrorService copies selected records to the cloud document mirror. The
// copies are never reconciled with the store.
type MirrorService struct {
	mirror   providers.DocumentMirror
	patients *PatientService
	bookings *BookingService
}

// PushReport counts documents pushed per collection
type PushReport map[string]int

// NewMirrorService creates a mirror service; mirror may be nil when disabled
func NewMirrorService(mirror providers.DocumentMirror, patients *PatientService, bookings *BookingService) *MirrorService {
	return &MirrorService{mirror: mirror, patients: patients, bookings: bookings}
}

// Enabled reports whether a mirror is configured
func (s *MirrorService) Enabled() bool {
	return s.mirror != nil
}

func (s *MirrorService) check() error {
	if s.mirror == nil {
		return apperrors.NewValidationError("cloud mirror is disabled")
	}
	return nil
}

// Push copies every patient and the bookings of date to the mirror
func (s *MirrorService) Push(ctx context.Context, date string) (PushReport, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := s.mirror.EnsureCollections(ctx); err != nil {
		return nil, err
	}

	report := PushReport{}
	patients, err := s.patients.List(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, p := range patients {
		if _, err := s.mirror.Upsert(ctx, entities.MirrorPatients, p.PID(), toMirror(p.View())); err != nil {
			return report, err
		}
		report[entities.MirrorPatients]++
	}

	bookings, err := s.bookings.ListByDate(ctx, date)
	if err != nil {
		return report, err
	}
	for _, b := range bookings {
		id := date + "_" + strconv.Itoa(b.TokenNo)
		if _, err := s.mirror.Upsert(ctx, entities.MirrorBookings, id, toMirror(b)); err != nil {
			return report, err
		}
		report[entities.MirrorBookings]++
	}

	observability.LoggerFromContext(ctx).Info().Interface("pushed", report).Msg("Mirror push complete")
	return report, nil
}

// RecordAttendance upserts a staff attendance row under "<staff_id>_<day>"
func (s *MirrorService) RecordAttendance(ctx context.Context, a entities.StaffAttendance) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	if a.StaffID == "" {
		return "", apperrors.NewValidationError("staff_id is required")
	}
	if err := validateDay("day", a.Day); err != nil {
		return "", err
	}
	return s.mirror.Upsert(ctx, entities.MirrorStaffAttendance, a.DocID(), toMirror(a))
}

// AttendanceRange returns attendance rows with day in [from, to]
func (s *MirrorService) AttendanceRange(ctx context.Context, from, to string) ([]entities.MirrorDocument, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.mirror.QueryDateRange(ctx, entities.MirrorStaffAttendance, "day", from, to, 0)
}

// Put upserts an arbitrary document into a mirror collection
func (s *MirrorService) Put(ctx context.Context, collection, id string, doc entities.MirrorDocument) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	return s.mirror.Upsert(ctx, collection, id, doc)
}

func toMirror(v interface{}) entities.MirrorDocument {
	raw, _ := json.Marshal(v)
	var doc entities.MirrorDocument
	_ = json.Unmarshal(raw, &doc)
	return doc
}
