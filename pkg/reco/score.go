package reco

import (
	"context"
	"errors"
	"sort"

	"github.com/cavistelabs/sommelier/pkg/schema"
	"github.com/cavistelabs/sommelier/pkg/store"
)

// Final-score weights.
const (
	weightAffinity   = 0.40
	weightPopularity = 0.30
	weightProfit     = 0.20
	weightBase       = 0.10
)

// baseScore is the fixed per-scenario prior.
func baseScore(s schema.Scenario) float64 {
	switch s {
	case schema.ScenarioRebuy:
		return 85
	case schema.ScenarioUpsell:
		return 80
	case schema.ScenarioCrossSell:
		return 75
	case schema.ScenarioWinback:
		return 70
	case schema.ScenarioNurture:
		return 65
	}
	return 0
}

// Scorer computes component scores for scenario candidates.
type Scorer struct {
	catalog CatalogReader
}

func NewScorer(catalog CatalogReader) *Scorer {
	return &Scorer{catalog: catalog}
}

// Score computes the RecoScore of one (customer, product, scenario)
// candidate. A product missing from the catalog scores with neutral
// popularity rather than failing.
func (s *Scorer) Score(ctx context.Context, f *Features, productKey string, scenario schema.Scenario) (schema.RecoScore, error) {
	score := schema.RecoScore{
		ProductKey: productKey,
		Scenario:   scenario,
		BaseScore:  baseScore(scenario),
	}

	var family string
	var popularity float64
	hasPopularity := false
	product, err := s.catalog.GetProduct(ctx, productKey)
	switch {
	case err == nil:
		family = product.FamilyCRM
		// Popularity is a computed sales share; zero means the share was
		// never computed, not that the product is unpopular.
		if product.GlobalPopularityScore > 0 {
			popularity = product.GlobalPopularityScore
			hasPopularity = true
		}
	case errors.Is(err, store.ErrNotFound):
		// neutral defaults below
	default:
		return score, err
	}

	score.AffinityScore = 50
	if family != "" {
		if len(f.TopFamilies) > 0 && family == f.TopFamilies[0] {
			score.AffinityScore += 25
		} else {
			score.AffinityScore += 10
		}
	}

	if hasPopularity {
		score.PopularityScore = popularity * 100
		score.ProfitScore = popularity * 100 // margin proxy until real cost data lands
	} else {
		score.PopularityScore = 50
		score.ProfitScore = 50
	}

	score.FinalScore = weightAffinity*score.AffinityScore +
		weightPopularity*score.PopularityScore +
		weightProfit*score.ProfitScore +
		weightBase*score.BaseScore
	return score, nil
}

// Rank orders candidates by final score descending with a deterministic
// tie-break on (scenario priority, product_key).
func Rank(scores []schema.RecoScore) []schema.RecoScore {
	ranked := append([]schema.RecoScore(nil), scores...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if pa, pb := schema.ScenarioPriority(a.Scenario), schema.ScenarioPriority(b.Scenario); pa != pb {
			return pa < pb
		}
		return a.ProductKey < b.ProductKey
	})
	return ranked
}

// Diversify greedily picks up to k candidates from a ranked list,
// preferring unseen product families, then falls back to same-family
// candidates in rank order when the first pass comes up short.
func Diversify(ctx context.Context, catalog CatalogReader, ranked []schema.RecoScore, k int) []schema.RecoScore {
	if k <= 0 || len(ranked) == 0 {
		return nil
	}

	family := func(key string) string {
		p, err := catalog.GetProduct(ctx, key)
		if err != nil {
			return ""
		}
		return p.FamilyCRM
	}

	var out []schema.RecoScore
	taken := map[string]bool{}
	seenFamily := map[string]bool{}

	for _, c := range ranked {
		if len(out) == k {
			return out
		}
		fam := family(c.ProductKey)
		if len(out) > 0 && fam != "" && seenFamily[fam] {
			continue
		}
		out = append(out, c)
		taken[c.ProductKey] = true
		if fam != "" {
			seenFamily[fam] = true
		}
	}

	for _, c := range ranked {
		if len(out) == k {
			break
		}
		if !taken[c.ProductKey] {
			out = append(out, c)
			taken[c.ProductKey] = true
		}
	}
	return out
}
