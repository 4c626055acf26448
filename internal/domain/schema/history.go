package schema

import (
	"context"
)

// Collection names
const (
	Settings            = "settings"
	Patients            = "patients"
	Bookings            = "bookings"
	Products            = "products"
	Batches             = "batches"
	Sales               = "sales"
	Purchases           = "purchases"
	PurchaseSuggestions = "purchase_suggestions"
	Suppliers           = "suppliers"
	SupplierPayments    = "supplier_payments"
	Returns             = "returns"
	Encounters          = "encounters"
	LabOrders           = "lab_orders"
	LabResults          = "lab_results"
	Audits              = "audits"
	Devices             = "devices"
)

// Product reorder defaults applied on create and backfilled by v8
const (
	DefaultLeadTimeDays    = 5
	DefaultTargetCoverDays = 14
	DefaultSafetyStockDays = 2
	DefaultPackSize        = 1
)

// DefaultTheme is backfilled for branding payloads that carry a logo but no theme
const DefaultTheme = "pastel"

func idx(fields ...string) Index {
	return Index{Name: IndexName(fields...), Fields: fields}
}

func unique(fields ...string) Index {
	return Index{Name: IndexName(fields...), Fields: fields, Unique: true}
}

// ClinicHistory is the migration history of the clinic store
func ClinicHistory() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "core: settings, patients, bookings",
			Add: []Collection{
				{Name: Settings, KeyPath: "key", KeyMode: KeyCaller},
				{Name: Patients, KeyPath: "id", KeyMode: KeyCaller, Indexes: []Index{
					unique("name", "phone"), idx("phone"), idx("created_at"),
				}},
				{Name: Bookings, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{
					idx("date"), idx("pid"), idx("ts"), unique("date", "token_no"),
				}},
			},
		},
		{
			Version:     2,
			Description: "pharmacy core: products, batches, sales",
			Add: []Collection{
				{Name: Products, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{
					unique("sku"), idx("name"),
				}},
				{Name: Batches, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{
					idx("sku"), idx("expiry"), unique("sku", "batch_no"),
				}},
				{Name: Sales, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{
					idx("date"), idx("pid"), idx("source"),
				}},
			},
		},
		{
			Version:     3,
			Description: "purchases and reorder suggestions",
			Add: []Collection{
				{Name: Purchases, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{
					idx("date"), idx("supplier_id"), idx("inv_no"),
				}},
				{Name: PurchaseSuggestions, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{
					idx("created_at"),
				}},
			},
		},
		{
			Version:     4,
			Description: "supplier accounts",
			Add: []Collection{
				{Name: Suppliers, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{idx("name")}},
				{Name: SupplierPayments, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{
					idx("supplier_id"), idx("date"),
				}},
			},
		},
		{
			Version:     5,
			Description: "returns",
			Add: []Collection{
				{Name: Returns, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{idx("date"), idx("ref_id")}},
			},
		},
		{
			Version:     6,
			Description: "clinical: encounters, lab orders, lab results",
			Add: []Collection{
				{Name: Encounters, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{idx("date"), idx("pid")}},
				{Name: LabOrders, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{idx("pid"), idx("date")}},
				{Name: LabResults, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{idx("order_id")}},
			},
		},
		{
			Version:     7,
			Description: "admin: audits, devices, status lookups, branding theme backfill",
			Add: []Collection{
				{Name: Audits, KeyPath: "id", KeyMode: KeyAuto, Indexes: []Index{idx("ts"), idx("action")}},
				{Name: Devices, KeyPath: "device_id", KeyMode: KeyCaller},
			},
			AddIndexes: map[string][]Index{
				Bookings:  {idx("status")},
				Sales:     {idx("status")},
				LabOrders: {idx("status")},
			},
			TouchUp: backfillBrandingTheme,
		},
		{
			Version:     8,
			Description: "product reorder defaults",
			AddIndexes: map[string][]Index{
				Products: {idx("min_stock")},
			},
			TouchUp: backfillProductDefaults,
		},
	}
}

// Clinic returns the validated clinic registry
func Clinic() *Registry {
	r, err := NewRegistry(ClinicHistory()...)
	if err != nil {
		panic(err)
	}
	return r
}

func backfillBrandingTheme(ctx context.Context, rw Rewriter) error {
	_, err := rw.Rewrite(ctx, Settings, func(key string, doc map[string]interface{}) (bool, error) {
		if key != "branding" {
			return false, nil
		}
		value, ok := doc["value"].(map[string]interface{})
		if !ok {
			return false, nil
		}
		logo, _ := value["logo_url"].(string)
		if logo == "" {
			return false, nil
		}
		if theme, _ := value["theme"].(string); theme != "" {
			return false, nil
		}
		value["theme"] = DefaultTheme
		return true, nil
	})
	return err
}

func backfillProductDefaults(ctx context.Context, rw Rewriter) error {
	_, err := rw.Rewrite(ctx, Products, func(_ string, doc map[string]interface{}) (bool, error) {
		return ApplyProductDefaults(doc), nil
	})
	return err
}

// ApplyProductDefaults fills missing reorder fields and reports whether it changed doc
func ApplyProductDefaults(doc map[string]interface{}) bool {
	changed := false
	defaults := []struct {
		field string
		value int
	}{
		{"lead_time_days", DefaultLeadTimeDays},
		{"target_cover_days", DefaultTargetCoverDays},
		{"safety_stock_days", DefaultSafetyStockDays},
		{"pack_size", DefaultPackSize},
	}
	for _, d := range defaults {
		if v, ok := doc[d.field]; !ok || v == nil {
			doc[d.field] = d.value
			changed = true
		}
	}
	return changed
}
