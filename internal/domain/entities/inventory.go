package entities

import (
	"time"
)

// Product is a pharmacy master row. Zero reorder fields are unset and take
// the store defaults on create.
type Product struct {
	ID              int64     `json:"id"`
	SKU             string    `json:"sku"`
	Name            string    `json:"name"`
	CompanyName     string    `json:"company_name,omitempty"`
	BrandName       string    `json:"brand_name,omitempty"`
	Form            string    `json:"form,omitempty"`
	Strength        string    `json:"strength,omitempty"`
	HSN             string    `json:"hsn,omitempty"`
	GSTPct          float64   `json:"gst_pct,omitempty"`
	MinStock        float64   `json:"min_stock"`
	LeadTimeDays    int       `json:"lead_time_days,omitempty"`
	TargetCoverDays int       `json:"target_cover_days,omitempty"`
	SafetyStockDays int       `json:"safety_stock_days,omitempty"`
	PackSize        int       `json:"pack_size,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Batch is a stock lot of a product
type Batch struct {
	ID         int64   `json:"id"`
	SKU        string  `json:"sku"`
	BatchNo    string  `json:"batch_no"`
	MfgDate    string  `json:"mfg_date,omitempty"`
	Expiry     string  `json:"expiry"`
	MRP        float64 `json:"mrp"`
	Rate       float64 `json:"rate"`
	StockQty   float64 `json:"stock_qty"`
	SupplierID int64   `json:"supplier_id,omitempty"`
}

// ReorderLine is one product below its minimum stock
type ReorderLine struct {
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	CompanyName string  `json:"company_name"`
	OnHand      float64 `json:"on_hand"`
	MinStock    float64 `json:"min_stock"`
	Needed      float64 `json:"needed"`
	OrderQty    float64 `json:"order_qty"`
}

// ReorderSuggestion is a stored purchase suggestion
type ReorderSuggestion struct {
	ID         int64         `json:"id"`
	CreatedAt  string        `json:"created_at"`
	SupplierID *int64        `json:"supplier_id"`
	Items      []ReorderLine `json:"items"`
}

// PurchaseLine is the cost input for a landing-cost calculation
type PurchaseLine struct {
	PaidQty    float64 `json:"paid_qty"`
	FreeQty    float64 `json:"free_qty"`
	LineAmount float64 `json:"line_amount"`
}
