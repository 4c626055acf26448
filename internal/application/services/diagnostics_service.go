package services

import (
	"context"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
)

// SeedFlag marks that demo data has been seeded
const SeedFlag = "clinic_seed_v2"

// wipeable lists the collections an administrative wipe clears. Settings keep
// the sequences so numbers are never reused; audits are append-only.
var wipeable = []string{
	schema.Patients, schema.Bookings, schema.Encounters,
	schema.Sales, schema.LabOrders, schema.LabResults,
	schema.Products, schema.Batches, schema.Purchases, schema.PurchaseSuggestions,
	schema.Suppliers, schema.SupplierPayments, schema.Returns, schema.Devices,
}

// DiagnosticsService backs the developer panel: counts, demo seed and wipe
type DiagnosticsService struct {
	store      repositories.Store
	settings   *SettingsService
	patients   *PatientService
	bookings   *BookingService
	encounters *EncounterService
	inventory  *InventoryService
	bridge     *QueueBridge
	audit      *AuditService
	bus        *EventBus
	clock      Clock
}

// NewDiagnosticsService creates a new diagnostics service
func NewDiagnosticsService(
	store repositories.Store,
	settings *SettingsService,
	patients *PatientService,
	bookings *BookingService,
	encounters *EncounterService,
	inventory *InventoryService,
	bridge *QueueBridge,
	audit *AuditService,
	bus *EventBus,
	clock Clock,
) *DiagnosticsService {
	return &DiagnosticsService{
		store:      store,
		settings:   settings,
		patients:   patients,
		bookings:   bookings,
		encounters: encounters,
		inventory:  inventory,
		bridge:     bridge,
		audit:      audit,
		bus:        bus,
		clock:      clock,
	}
}

// Counts returns today's headline figures
func (s *DiagnosticsService) Counts(ctx context.Context) (*entities.DemoCounts, error) {
	today := s.clock.Today()
	counts := &entities.DemoCounts{Date: today}

	var err error
	if counts.Patients, err = s.patients.Count(ctx); err != nil {
		return nil, err
	}
	if counts.BookingsToday, err = s.bookings.CountByDate(ctx, today); err != nil {
		return nil, err
	}
	if counts.Encounters, err = s.encounters.Count(ctx); err != nil {
		return nil, err
	}
	if counts.SalesToday, err = s.store.Count(ctx, schema.Sales, repositories.Query{Where: []repositories.Filter{repositories.Eq("date", today)}}); err != nil {
		return nil, err
	}
	if counts.LabOrdersQueued, err = s.store.Count(ctx, schema.LabOrders, repositories.Query{Where: []repositories.Filter{repositories.Eq("status", string(entities.LabOrderStatusQueued))}}); err != nil {
		return nil, err
	}
	return counts, nil
}

// Seed loads the demo clinic once. It reports false when the seed flag was
// already set and force is false.
func (s *DiagnosticsService) Seed(ctx context.Context, force bool) (bool, error) {
	logger := observability.LoggerFromContext(ctx)

	var done bool
	if _, err := s.settings.GetInto(ctx, SeedFlag, &done); err != nil {
		return false, err
	}
	if done && !force {
		logger.Info().Msg("Seed skipped (flag present)")
		return false, nil
	}

	demo := []entities.Patient{
		{Name: "Aarav", Phone: "9000000001", Gender: "Male", DOB: "2018-06-12", Address: "Warangal"},
		{Name: "Diya", Phone: "9000000002", Gender: "Female", DOB: "2021-02-20", Address: "Warangal"},
		{Name: "Rahul", Phone: "9000000003", Gender: "Male", DOB: "2016-11-05", Address: "Hanamkonda"},
	}
	var seeded []*entities.Patient
	for i := range demo {
		p, err := s.patients.Upsert(ctx, &demo[i])
		if err != nil {
			return false, err
		}
		seeded = append(seeded, p)
	}

	today := s.clock.Today()
	existing, err := s.bookings.CountByDate(ctx, today)
	if err != nil {
		return false, err
	}
	if existing == 0 {
		channels := []string{"Walk", "Online"}
		for i, p := range seeded[:2] {
			if _, err := s.bookings.Create(ctx, BookingRequest{PID: p.PID(), Name: p.Name, Phone: p.Phone, Channel: channels[i], VisitType: "consult"}); err != nil {
				return false, err
			}
		}
	}

	encounters, err := s.encounters.Count(ctx)
	if err != nil {
		return false, err
	}
	if encounters == 0 {
		_, err := s.encounters.Save(ctx, &entities.Encounter{
			PID:        seeded[0].PID(),
			Complaints: "Fever",
			Diagnosis:  "Viral fever",
			Notes:      "Hydration",
			Vitals:     map[string]interface{}{"height": 120, "weight": 24, "temp": 38},
			Rx:         []entities.LineItem{{"name": "Paracetamol Syp", "dose": "5 ml", "freq": "TID", "days": 3, "qty": 1}},
			Labs:       []entities.LineItem{{"test": "CBP", "price": 300}},
		}, SaveOptions{})
		if err != nil {
			return false, err
		}
	}

	products := []struct {
		product entities.Product
		batch   entities.Batch
	}{
		{entities.Product{SKU: "PCM-SYP-60", Name: "PARACETAMOL SYP", Form: "syrup", MinStock: 20, PackSize: 1, GSTPct: 12},
			entities.Batch{SKU: "PCM-SYP-60", BatchNo: "PC-22A", Expiry: "2026-08-31", MRP: 65, Rate: 48, StockQty: 12}},
		{entities.Product{SKU: "CTZ-TAB-10", Name: "CETRIZINE TAB", Form: "tablet", MinStock: 10, PackSize: 10, GSTPct: 12},
			entities.Batch{SKU: "CTZ-TAB-10", BatchNo: "CZ-11B", Expiry: "2026-12-31", MRP: 22, Rate: 16, StockQty: 30}},
		{entities.Product{SKU: "AZI-250-6", Name: "AZITHROMYCIN 250", Form: "tablet", MinStock: 24, PackSize: 6, GSTPct: 12},
			entities.Batch{SKU: "AZI-250-6", BatchNo: "AZ-07C", Expiry: "2026-04-30", MRP: 98, Rate: 70, StockQty: 18}},
	}
	for i := range products {
		if _, err := s.inventory.UpsertProduct(ctx, &products[i].product); err != nil {
			return false, err
		}
		if _, err := s.inventory.AddBatch(ctx, &products[i].batch); err != nil {
			return false, err
		}
	}

	if err := s.settings.Set(ctx, SeedFlag, true); err != nil {
		return false, err
	}
	logger.Info().Int("patients", len(seeded)).Msg("Seeded demo data")
	return true, nil
}

// Wipe clears the business collections and the flat lists and records who
// did it. Settings and the audit log survive.
func (s *DiagnosticsService) Wipe(ctx context.Context, user string) error {
	err := runTx(ctx, s.store, func(tx repositories.Tx) error {
		for _, c := range wipeable {
			if err := tx.Clear(ctx, c); err != nil {
				return err
			}
		}
		return tx.Delete(ctx, schema.Settings, SeedFlag)
	})
	if err != nil {
		return err
	}

	if err := s.bridge.ClearLists(ctx); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Msg("Flat lists not cleared")
	}
	if _, err := s.audit.Append(ctx, user, "", "wipe", map[string]interface{}{"collections": wipeable}); err != nil {
		return err
	}
	s.bus.Publish(ctx, entities.TopicWipe, nil)
	observability.LoggerFromContext(ctx).Warn().Str("user", user).Msg("Store wiped")
	return nil
}
