package reco

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"

	"golang.org/x/crypto/hkdf"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// Scenario matching thresholds.
const (
	rebuyMinAgeDays     = 90
	rebuyMinPopularity  = 0.5
	crossMinPopularity  = 0.4
	upsellMinSpent      = 500.0
	upsellMinPopularity = 0.6
	winbackMinIdleDays  = 365
	winbackMinPop       = 0.7
	nurtureMaxOrders    = 3
	nurtureMinPop       = 0.3
	candidatesPerScene  = 3
)

// Matcher produces per-scenario candidate product lists for a customer.
type Matcher struct {
	customers CustomerReader
	catalog   CatalogReader
}

func NewMatcher(customers CustomerReader, catalog CatalogReader) *Matcher {
	return &Matcher{customers: customers, catalog: catalog}
}

// Match returns the sparse scenario → candidate map for one customer.
// Empty buckets are dropped. runID seeds the NURTURE sample so parallel
// workers stay reproducible.
func (m *Matcher) Match(ctx context.Context, runID string, f *Features, exclude map[string]bool) (map[schema.Scenario][]string, error) {
	out := map[schema.Scenario][]string{}

	rebuy, err := m.customers.RebuyCandidates(ctx, f.CustomerCode, rebuyMinAgeDays, rebuyMinPopularity, candidatesPerScene)
	if err != nil {
		return nil, fmt.Errorf("reco: rebuy candidates: %w", err)
	}
	if len(rebuy) > 0 {
		out[schema.ScenarioRebuy] = rebuy
	}

	cross, err := m.catalog.ProductsOutsideFamilies(ctx, f.TopFamilies, crossMinPopularity, candidatesPerScene+len(exclude))
	if err != nil {
		return nil, fmt.Errorf("reco: cross-sell candidates: %w", err)
	}
	var crossKeys []string
	for _, p := range cross {
		if exclude[p.ProductKey] {
			continue
		}
		crossKeys = append(crossKeys, p.ProductKey)
		if len(crossKeys) == candidatesPerScene {
			break
		}
	}
	if len(crossKeys) > 0 {
		out[schema.ScenarioCrossSell] = crossKeys
	}

	if f.TotalSpent >= upsellMinSpent {
		premium, err := m.catalog.PremiumProducts(ctx, upsellMinPopularity, candidatesPerScene)
		if err != nil {
			return nil, fmt.Errorf("reco: upsell candidates: %w", err)
		}
		if keys := productKeys(premium); len(keys) > 0 {
			out[schema.ScenarioUpsell] = keys
		}
	}

	if f.DaysSincePurchase > winbackMinIdleDays {
		popular, err := m.catalog.PopularProducts(ctx, winbackMinPop, candidatesPerScene)
		if err != nil {
			return nil, fmt.Errorf("reco: winback candidates: %w", err)
		}
		if keys := productKeys(popular); len(keys) > 0 {
			out[schema.ScenarioWinback] = keys
		}
	}

	if f.PurchaseCount <= nurtureMaxOrders {
		pool, err := m.catalog.ProductsWithFamily(ctx, nurtureMinPop)
		if err != nil {
			return nil, fmt.Errorf("reco: nurture candidates: %w", err)
		}
		if keys := sampleProducts(pool, candidatesPerScene, nurtureSeed(runID, f.CustomerCode)); len(keys) > 0 {
			out[schema.ScenarioNurture] = keys
		}
	}

	return out, nil
}

func productKeys(products []*schema.Product) []string {
	keys := make([]string, 0, len(products))
	for _, p := range products {
		keys = append(keys, p.ProductKey)
	}
	return keys
}

// nurtureSeed derives a deterministic sample seed from (run, customer)
// so re-running a batch with the same run_id reproduces the slate.
func nurtureSeed(runID, customerCode string) int64 {
	r := hkdf.New(sha256.New, []byte(runID), []byte(customerCode), []byte("nurture-sample"))
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(buf[:]))
}

// sampleProducts picks n products without replacement. The input pool is
// in stable catalog order, so the same seed always yields the same pick.
func sampleProducts(pool []*schema.Product, n int, seed int64) []string {
	if len(pool) <= n {
		return productKeys(pool)
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(pool))
	keys := make([]string, 0, n)
	for _, idx := range perm[:n] {
		keys = append(keys, pool[idx].ProductKey)
	}
	return keys
}
