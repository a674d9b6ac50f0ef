package schema

import "time"

// MasterProfile is the per-customer analytical record rebuilt by each
// transform run: RFM scores, segment, top preferences per dimension with
// revenue shares, and the aggregated aroma preference axes.
type MasterProfile struct {
	ID           int64  `json:"id"`
	CustomerCode string `json:"customer_code"`

	FirstOrderDate *time.Time `json:"first_order_date,omitempty"`
	LastOrderDate  *time.Time `json:"last_order_date,omitempty"`
	RecencyDays    int        `json:"recency_days"`
	OrderCount     int        `json:"order_count"`
	RevenueHT      float64    `json:"revenue_ht"`

	// RFM scores are 1-5; RFM is the three digits concatenated ("543").
	RScore  int             `json:"r_score"`
	FScore  int             `json:"f_score"`
	MScore  int             `json:"m_score"`
	RFM     string          `json:"rfm"`
	Segment CustomerSegment `json:"segment"`

	TopFamily1        string  `json:"top_family_1,omitempty"`
	TopFamily1CAShare float64 `json:"top_family_1_ca_share"`
	TopFamily2        string  `json:"top_family_2,omitempty"`
	TopFamily2CAShare float64 `json:"top_family_2_ca_share"`

	// FamilyDiversityScore is the Herfindahl complement 1 - sum(share^2).
	FamilyDiversityScore float64 `json:"family_diversity_score"`

	TopGrape1        string  `json:"top_grape_1,omitempty"`
	TopGrape1CAShare float64 `json:"top_grape_1_ca_share"`
	TopGrape2        string  `json:"top_grape_2,omitempty"`
	TopGrape2CAShare float64 `json:"top_grape_2_ca_share"`

	TopSugar1        string  `json:"top_sugar_1,omitempty"`
	TopSugar1CAShare float64 `json:"top_sugar_1_ca_share"`
	TopSugar2        string  `json:"top_sugar_2,omitempty"`
	TopSugar2CAShare float64 `json:"top_sugar_2_ca_share"`

	TopPriceBand1        string  `json:"top_price_band_1,omitempty"`
	TopPriceBand1CAShare float64 `json:"top_price_band_1_ca_share"`
	TopPriceBand2        string  `json:"top_price_band_2,omitempty"`
	TopPriceBand2CAShare float64 `json:"top_price_band_2_ca_share"`

	AromaAxe1       string     `json:"aroma_axe_1,omitempty"`
	AromaScore1     float64    `json:"aroma_score_1"`
	AromaAxe2       string     `json:"aroma_axe_2,omitempty"`
	AromaScore2     float64    `json:"aroma_score_2"`
	AromaAxe3       string     `json:"aroma_axe_3,omitempty"`
	AromaScore3     float64    `json:"aroma_score_3"`
	AromaConfidence float64    `json:"aroma_confidence"`
	AromaLevel      AromaLevel `json:"aroma_level,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
