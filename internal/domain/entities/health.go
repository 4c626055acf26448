package entities

// CollectionHealth is the probe result of one collection
type CollectionHealth struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HealthReport summarises store reachability
type HealthReport struct {
	OK          bool               `json:"ok"`
	Backend     string             `json:"backend"`
	Version     int                `json:"version"`
	Error       string             `json:"error,omitempty"`
	Collections []CollectionHealth `json:"collections"`
}

// DemoCounts are the headline figures of the diagnostics panel
type DemoCounts struct {
	Date            string `json:"date"`
	Patients        int    `json:"patients"`
	BookingsToday   int    `json:"bookings_today"`
	Encounters      int    `json:"encounters"`
	SalesToday      int    `json:"sales_today"`
	LabOrdersQueued int    `json:"lab_orders_queued"`
}
