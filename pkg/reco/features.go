// Package reco implements the recommendation engine: per-customer
// feature computation, scenario candidate matching, weighted scoring
// with family-aware diversification, explanation generation, and the
// orchestrator that persists finished runs.
package reco

import (
	"context"
	"log/slog"
	"time"

	"github.com/cavistelabs/sommelier/pkg/schema"
	"github.com/cavistelabs/sommelier/pkg/store"
)

// CustomerReader is the slice of the customer store the engine reads.
type CustomerReader interface {
	OrderAggregatesFor(ctx context.Context, code string) (store.OrderAggregates, error)
	RevenueByDimension(ctx context.Context, code, dimension string) ([]store.FamilyRevenue, error)
	RebuyCandidates(ctx context.Context, code string, minAgeDays int, minPopularity float64, limit int) ([]string, error)
	TopFamiliesFor(ctx context.Context, code string, n int) ([]string, error)
	LastPurchaseOf(ctx context.Context, code, productKey string) (*time.Time, error)
	LastContactDate(ctx context.Context, code string) (*time.Time, error)
	CustomerCodes(ctx context.Context, limit int) ([]string, error)
}

// CatalogReader is the slice of the catalog store the engine reads.
type CatalogReader interface {
	GetProduct(ctx context.Context, key string) (*schema.Product, error)
	PopularProducts(ctx context.Context, minPopularity float64, limit int) ([]*schema.Product, error)
	PremiumProducts(ctx context.Context, minPopularity float64, limit int) ([]*schema.Product, error)
	ProductsOutsideFamilies(ctx context.Context, excludeFamilies []string, minPopularity float64, limit int) ([]*schema.Product, error)
	ProductsWithFamily(ctx context.Context, minPopularity float64) ([]*schema.Product, error)
}

// Features is the read-only per-customer input to scenario matching and
// scoring. DaysSincePurchase is -1 when the customer never purchased.
type Features struct {
	CustomerCode      string             `json:"customer_code"`
	PurchaseCount     int                `json:"purchase_count"`
	TotalSpent        float64            `json:"total_spent"`
	AvgOrderValue     float64            `json:"avg_order_value"`
	FirstPurchase     *time.Time         `json:"first_purchase_date,omitempty"`
	LastPurchase      *time.Time         `json:"last_purchase_date,omitempty"`
	DaysSincePurchase int                `json:"days_since_purchase"`
	RecencyScore      int                `json:"recency_score"`
	FrequencyScore    int                `json:"frequency_score"`
	MonetaryScore     int                `json:"monetary_score"`
	FamilyAffinity    map[string]float64 `json:"family_affinity,omitempty"`
	TopFamilies       []string           `json:"top_families,omitempty"`
	BudgetLevel       schema.BudgetLevel `json:"budget_level"`
	LastContact       *time.Time         `json:"last_contact_date,omitempty"`
	InSilenceWindow   bool               `json:"in_silence_window"`
}

// FeatureComputer derives Features. Fixed buckets, not quartiles, so a
// single customer can be scored without scanning the whole base.
type FeatureComputer struct {
	customers   CustomerReader
	silenceDays int
	log         *slog.Logger
}

func NewFeatureComputer(customers CustomerReader, silenceDays int) *FeatureComputer {
	return &FeatureComputer{
		customers:   customers,
		silenceDays: silenceDays,
		log:         slog.Default().With("component", "reco.features"),
	}
}

// Compute builds the feature set for one customer as of now.
func (fc *FeatureComputer) Compute(ctx context.Context, code string, now time.Time) (*Features, error) {
	agg, err := fc.customers.OrderAggregatesFor(ctx, code)
	if err != nil {
		return nil, err
	}

	f := &Features{
		CustomerCode:      code,
		PurchaseCount:     agg.PurchaseCount,
		TotalSpent:        agg.TotalSpent,
		AvgOrderValue:     agg.AvgOrderValue,
		FirstPurchase:     agg.FirstPurchase,
		LastPurchase:      agg.LastPurchase,
		DaysSincePurchase: -1,
		BudgetLevel:       schema.BudgetLevelFor(agg.TotalSpent),
	}
	if agg.LastPurchase != nil {
		f.DaysSincePurchase = int(now.Sub(*agg.LastPurchase).Hours() / 24)
	}
	f.RecencyScore = recencyBucket(f.DaysSincePurchase)
	f.FrequencyScore = frequencyBucket(agg.PurchaseCount)
	f.MonetaryScore = monetaryBucket(agg.TotalSpent)

	revs, err := fc.customers.RevenueByDimension(ctx, code, "family")
	if err != nil {
		return nil, err
	}
	var total float64
	for _, r := range revs {
		total += r.Revenue
	}
	if total > 0 {
		f.FamilyAffinity = make(map[string]float64, len(revs))
		for _, r := range revs {
			f.FamilyAffinity[r.Value] = r.Revenue / total
		}
		for i, r := range revs {
			if i == 2 {
				break
			}
			f.TopFamilies = append(f.TopFamilies, r.Value)
		}
	}

	last, err := fc.customers.LastContactDate(ctx, code)
	if err != nil {
		return nil, err
	}
	f.LastContact = last
	if last != nil && now.Sub(*last).Hours()/24 < float64(fc.silenceDays) {
		f.InSilenceWindow = true
	}
	return f, nil
}

func recencyBucket(days int) int {
	switch {
	case days < 0:
		return 0
	case days <= 30:
		return 5
	case days <= 90:
		return 4
	case days <= 180:
		return 3
	case days <= 365:
		return 2
	default:
		return 1
	}
}

func frequencyBucket(count int) int {
	switch {
	case count >= 10:
		return 5
	case count >= 5:
		return 4
	case count >= 2:
		return 3
	case count == 1:
		return 2
	default:
		return 0
	}
}

func monetaryBucket(spent float64) int {
	switch {
	case spent >= 5000:
		return 5
	case spent >= 2000:
		return 4
	case spent >= 500:
		return 3
	case spent >= 100:
		return 2
	case spent > 0:
		return 1
	default:
		return 0
	}
}
