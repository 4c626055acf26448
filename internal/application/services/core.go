package services

import (
	"github.com/zatekoja/onesystem-clinic/internal/domain/providers"
	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
)

// Deps are the collaborators the core is built from
type Deps struct {
	Store       repositories.Store
	Registry    *schema.Registry
	Storage     providers.LocalStorage
	Broadcaster providers.Broadcaster
	Mirror      providers.DocumentMirror
	Bus         BusConfig
	Clock       Clock
	Metrics     *observability.Metrics
}

// Core is the clinic sync core: every page reaches the store through it.
// Build one per process.
type Core struct {
	Clock       Clock
	Bus         *EventBus
	Settings    *SettingsService
	Sequences   *SequenceGenerator
	Patients    *PatientService
	Bookings    *BookingService
	Queue       *QueueBridge
	Encounters  *EncounterService
	Inventory   *InventoryService
	Branding    *BrandingService
	Audit       *AuditService
	Health      *HealthService
	Diagnostics *DiagnosticsService
	Mirror      *MirrorService
}

// NewCore wires the services together
func NewCore(d Deps) *Core {
	if d.Clock == nil {
		d.Clock = SystemClock(nil)
	}
	if d.Registry == nil {
		d.Registry = schema.Clinic()
	}

	c := &Core{Clock: d.Clock}
	c.Bus = NewEventBus(d.Broadcaster, d.Storage, d.Bus, d.Clock, d.Metrics)
	c.Settings = NewSettingsService(d.Store, c.Bus, d.Clock)
	c.Sequences = NewSequenceGenerator(d.Store, d.Clock, d.Metrics)
	c.Patients = NewPatientService(d.Store, c.Sequences, c.Bus, d.Clock)
	c.Bookings = NewBookingService(d.Store, c.Sequences, c.Bus, d.Clock)
	c.Queue = NewQueueBridge(d.Store, d.Storage, c.Bus, d.Clock)
	c.Encounters = NewEncounterService(d.Store, c.Patients, c.Bookings, c.Queue, c.Bus, d.Clock)
	c.Inventory = NewInventoryService(d.Store, c.Bus, d.Clock)
	c.Branding = NewBrandingService(c.Settings, d.Storage)
	c.Audit = NewAuditService(d.Store, d.Clock)
	c.Health = NewHealthService(d.Store, d.Registry)
	c.Diagnostics = NewDiagnosticsService(d.Store, c.Settings, c.Patients, c.Bookings, c.Encounters, c.Inventory, c.Queue, c.Audit, c.Bus, d.Clock)
	c.Mirror = NewMirrorService(d.Mirror, c.Patients, c.Bookings)
	return c
}
