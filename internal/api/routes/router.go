package routes

import (
	"net/http"

	"github.com/zatekoja/onesystem-clinic/internal/api/handlers"
	"github.com/zatekoja/onesystem-clinic/internal/api/middleware"
	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	patientHandler   *handlers.PatientHandler
	bookingHandler   *handlers.BookingHandler
	queueHandler     *handlers.QueueHandler
	encounterHandler *handlers.EncounterHandler
	settingsHandler  *handlers.SettingsHandler
	inventoryHandler *handlers.InventoryHandler
	adminHandler     *handlers.AdminHandler
	mirrorHandler    *handlers.MirrorHandler
	sseHandler       *handlers.SSEHandler

	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a router over the clinic core
func NewRouter(core *services.Core, sse *handlers.SSEHandler, allowedOrigins []string, metrics *observability.Metrics) *Router {
	if sse == nil {
		sse = handlers.NewSSEHandler(core.Bus)
	}
	return &Router{
		mux:              http.NewServeMux(),
		patientHandler:   handlers.NewPatientHandler(core.Patients),
		bookingHandler:   handlers.NewBookingHandler(core.Bookings),
		queueHandler:     handlers.NewQueueHandler(core.Queue),
		encounterHandler: handlers.NewEncounterHandler(core.Encounters),
		settingsHandler:  handlers.NewSettingsHandler(core),
		inventoryHandler: handlers.NewInventoryHandler(core.Inventory),
		adminHandler:     handlers.NewAdminHandler(core),
		mirrorHandler:    handlers.NewMirrorHandler(core.Mirror),
		sseHandler:       sse,
		allowedOrigins:   allowedOrigins,
		metrics:          metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.mux.HandleFunc("GET /api/health", r.adminHandler.Health)

	// Patients
	r.mux.HandleFunc("POST /api/patients", r.patientHandler.UpsertPatient)
	r.mux.HandleFunc("GET /api/patients", r.patientHandler.ListPatients)
	r.mux.HandleFunc("GET /api/patients/lookup", r.patientHandler.LookupPatient)
	r.mux.HandleFunc("GET /api/patients/{pid}", r.patientHandler.GetPatient)

	// Token queue
	r.mux.HandleFunc("POST /api/bookings", r.bookingHandler.CreateBooking)
	r.mux.HandleFunc("GET /api/bookings", r.bookingHandler.ListBookings)
	r.mux.HandleFunc("POST /api/bookings/serve", r.bookingHandler.MarkServed)
	r.mux.HandleFunc("GET /api/bookings/{id}", r.bookingHandler.GetBooking)
	r.mux.HandleFunc("PATCH /api/bookings/{id}/status", r.bookingHandler.TransitionBooking)

	// OPD
	r.mux.HandleFunc("POST /api/encounters", r.encounterHandler.SaveEncounter)
	r.mux.HandleFunc("GET /api/encounters", r.encounterHandler.ListEncounters)

	// Pharmacy and lab hand-offs
	r.mux.HandleFunc("POST /api/queue/rx", r.queueHandler.EnqueueRx)
	r.mux.HandleFunc("GET /api/queue/rx", r.queueHandler.ListPendingRx)
	r.mux.HandleFunc("POST /api/queue/rx/{id}/fulfill", r.queueHandler.FulfillRx)
	r.mux.HandleFunc("POST /api/queue/lab", r.queueHandler.EnqueueLab)
	r.mux.HandleFunc("GET /api/queue/lab", r.queueHandler.ListLabOrders)
	r.mux.HandleFunc("GET /api/queue/lab/flat", r.queueHandler.ReadLabQueue)
	r.mux.HandleFunc("PATCH /api/queue/lab/{id}/status", r.queueHandler.UpdateLabOrderStatus)

	// Inventory
	r.mux.HandleFunc("POST /api/products", r.inventoryHandler.UpsertProduct)
	r.mux.HandleFunc("GET /api/products", r.inventoryHandler.ListProducts)
	r.mux.HandleFunc("POST /api/batches", r.inventoryHandler.AddBatch)
	r.mux.HandleFunc("GET /api/stock", r.inventoryHandler.OnHand)
	r.mux.HandleFunc("POST /api/reorder", r.inventoryHandler.BuildReorder)
	r.mux.HandleFunc("POST /api/landing", r.inventoryHandler.ComputeLanding)

	// Settings, branding, sequences and events
	r.mux.HandleFunc("GET /api/settings/{key}", r.settingsHandler.GetSetting)
	r.mux.HandleFunc("PUT /api/settings/{key}", r.settingsHandler.PutSetting)
	r.mux.HandleFunc("DELETE /api/settings/{key}", r.settingsHandler.DeleteSetting)
	r.mux.HandleFunc("GET /api/branding", r.settingsHandler.GetBranding)
	r.mux.HandleFunc("PUT /api/branding", r.settingsHandler.PutBranding)
	r.mux.HandleFunc("POST /api/sequences/global/next", r.settingsHandler.NextGlobal)
	r.mux.HandleFunc("GET /api/sequences/global", r.settingsHandler.PeekGlobal)
	r.mux.HandleFunc("POST /api/sequences/{purpose}/next", r.settingsHandler.NextSequence)
	r.mux.HandleFunc("GET /api/sequences/{purpose}", r.settingsHandler.PeekSequence)
	r.mux.HandleFunc("POST /api/events/{topic}", r.settingsHandler.PublishEvent)
	r.mux.HandleFunc("GET /api/stream/{topic}", r.sseHandler.Stream)

	// Diagnostics and audit
	r.mux.HandleFunc("GET /api/diagnostics/schema", r.adminHandler.Schema)
	r.mux.HandleFunc("GET /api/diagnostics/counts", r.adminHandler.Counts)
	r.mux.HandleFunc("POST /api/diagnostics/seed", r.adminHandler.Seed)
	r.mux.HandleFunc("POST /api/diagnostics/wipe", r.adminHandler.Wipe)
	r.mux.HandleFunc("POST /api/audit", r.adminHandler.AppendAudit)
	r.mux.HandleFunc("GET /api/audit", r.adminHandler.ListAudit)
	r.mux.HandleFunc("GET /api/audit/verify", r.adminHandler.VerifyAudit)

	// Cloud mirror
	r.mux.HandleFunc("POST /api/mirror/push", r.mirrorHandler.Push)
	r.mux.HandleFunc("POST /api/mirror/attendance", r.mirrorHandler.RecordAttendance)
	r.mux.HandleFunc("GET /api/mirror/attendance", r.mirrorHandler.AttendanceRange)
	r.mux.HandleFunc("PUT /api/mirror/{collection}/{id}", r.mirrorHandler.PutDocument)

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.Revalidate(handler)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)
	return handler
}
