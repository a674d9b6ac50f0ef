package schema

import "time"

// Product is a canonical catalog entry. Created on first load, mutated
// by subsequent loads, never deleted; discontinued products are archived.
type Product struct {
	ProductKey   string          `json:"product_key"`
	ProductLabel string          `json:"product_label"`
	FamilyCRM    string          `json:"family_crm,omitempty"`
	Grape        string          `json:"grape,omitempty"`
	Sucrosity    string          `json:"sucrosity,omitempty"`
	PriceBand    string          `json:"price_band,omitempty"`
	PremiumTier  int             `json:"premium_tier"`
	Category     ProductCategory `json:"category,omitempty"`

	// Aroma profile on a 1-5 scale per axis; 0 means not profiled.
	AromaFruit   int `json:"aroma_fruit,omitempty"`
	AromaFloral  int `json:"aroma_floral,omitempty"`
	AromaSpice   int `json:"aroma_spice,omitempty"`
	AromaMineral int `json:"aroma_mineral,omitempty"`
	AromaAcidity int `json:"aroma_acidity,omitempty"`
	AromaBody    int `json:"aroma_body,omitempty"`
	AromaTannin  int `json:"aroma_tannin,omitempty"`

	IsActive   bool     `json:"is_active"`
	IsArchived bool     `json:"is_archived"`
	SeasonTags []string `json:"season_tags,omitempty"`

	// GlobalPopularityScore is in [0,1]; 0 when never computed.
	GlobalPopularityScore float64 `json:"global_popularity_score"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AromaAxes lists the product aroma axes in their canonical order.
var AromaAxes = []string{"fruit", "floral", "spice", "mineral", "acidity", "body", "tannin"}

// AromaScore returns the 1-5 score for a named axis, 0 when unset.
func (p *Product) AromaScore(axis string) int {
	switch axis {
	case "fruit":
		return p.AromaFruit
	case "floral":
		return p.AromaFloral
	case "spice":
		return p.AromaSpice
	case "mineral":
		return p.AromaMineral
	case "acidity":
		return p.AromaAcidity
	case "body":
		return p.AromaBody
	case "tannin":
		return p.AromaTannin
	}
	return 0
}

// ProductAlias maps a normalized external product label to a canonical
// product key. Aliases are immutable once created; many aliases may point
// to one product.
type ProductAlias struct {
	LabelNorm  string    `json:"label_norm"`
	ProductKey string    `json:"product_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// Customer is a canonical customer record, merged from duplicates during
// transform. The three contactability flags are independent: Contactable
// may be overridden even when neither Bounced nor OptedOut is set.
type Customer struct {
	CustomerCode string `json:"customer_code"`
	LastName     string `json:"last_name,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Address      string `json:"address,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	City         string `json:"city,omitempty"`
	Country      string `json:"country,omitempty"`

	Bounced     bool `json:"is_bounced"`
	OptedOut    bool `json:"is_optout"`
	Contactable bool `json:"is_contactable"`

	// Merge bookkeeping from customer deduplication.
	CodesMerged    bool `json:"codes_merged,omitempty"`
	DuplicateCount int  `json:"duplicate_count,omitempty"`

	BatchID   string    `json:"batch_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderLine is an append-only sales fact. The natural key is
// (doc_ref, customer_code, product_key, order_date).
type OrderLine struct {
	ID           int64     `json:"id"`
	CustomerCode string    `json:"customer_code"`
	ProductKey   string    `json:"product_key"`
	OrderDate    time.Time `json:"order_date"`
	DocRef       string    `json:"doc_ref"`
	DocType      string    `json:"doc_type,omitempty"`
	Qty          float64   `json:"qty"`
	AmountHT     float64   `json:"amount_ht"`
	AmountTTC    float64   `json:"amount_ttc,omitempty"`
	Margin       float64   `json:"margin,omitempty"`
	BatchID      string    `json:"batch_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ContactEvent is an append-only record of a marketing touch.
type ContactEvent struct {
	ID           int64          `json:"id"`
	CustomerCode string         `json:"customer_code"`
	ContactDate  time.Time      `json:"contact_date"`
	Channel      ContactChannel `json:"channel,omitempty"`
	Status       string         `json:"status,omitempty"`
	CampaignID   string         `json:"campaign_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// StockLevel is the current inventory position of a product at a
// warehouse, as reported by a source connector.
type StockLevel struct {
	StockKey      string    `json:"stock_key"`
	ProductKey    string    `json:"product_key"`
	Warehouse     string    `json:"warehouse"`
	QtyUnits      float64   `json:"quantity_units"`
	QtyBottlesEq  float64   `json:"quantity_bottles_75cl_eq"`
	ReservedQty   float64   `json:"reserved_qty"`
	AvailableQty  float64   `json:"available_qty"`
	LastCountDate time.Time `json:"last_count_date"`
}

// Available returns the sellable quantity, falling back to units minus
// reservations when the source did not report availability.
func (s *StockLevel) Available() float64 {
	if s.AvailableQty > 0 {
		return s.AvailableQty
	}
	return s.QtyUnits - s.ReservedQty
}
