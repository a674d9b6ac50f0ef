package reco

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cavistelabs/sommelier/pkg/schema"
	"github.com/cavistelabs/sommelier/pkg/store"
)

type fakeCustomers struct {
	aggs        map[string]store.OrderAggregates
	familyRevs  map[string][]store.FamilyRevenue
	rebuy       map[string][]string
	lastBuy     map[string]*time.Time
	lastContact map[string]*time.Time
	codes       []string
}

func (f *fakeCustomers) OrderAggregatesFor(_ context.Context, code string) (store.OrderAggregates, error) {
	agg := f.aggs[code]
	agg.CustomerCode = code
	return agg, nil
}

func (f *fakeCustomers) RevenueByDimension(_ context.Context, code, _ string) ([]store.FamilyRevenue, error) {
	return f.familyRevs[code], nil
}

func (f *fakeCustomers) RebuyCandidates(_ context.Context, code string, _ int, _ float64, _ int) ([]string, error) {
	return f.rebuy[code], nil
}

func (f *fakeCustomers) TopFamiliesFor(_ context.Context, code string, n int) ([]string, error) {
	revs := f.familyRevs[code]
	var out []string
	for i, r := range revs {
		if i == n {
			break
		}
		out = append(out, r.Value)
	}
	return out, nil
}

func (f *fakeCustomers) LastPurchaseOf(_ context.Context, code, key string) (*time.Time, error) {
	return f.lastBuy[code+"/"+key], nil
}

func (f *fakeCustomers) LastContactDate(_ context.Context, code string) (*time.Time, error) {
	return f.lastContact[code], nil
}

func (f *fakeCustomers) CustomerCodes(_ context.Context, limit int) ([]string, error) {
	if len(f.codes) > limit {
		return f.codes[:limit], nil
	}
	return f.codes, nil
}

type fakeCatalog struct{ products map[string]*schema.Product }

func (f *fakeCatalog) GetProduct(_ context.Context, key string) (*schema.Product, error) {
	if p, ok := f.products[key]; ok {
		return p, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeCatalog) filter(minPop float64, limit int, keep func(*schema.Product) bool) []*schema.Product {
	var keys []string
	for key := range f.products {
		keys = append(keys, key)
	}
	// deterministic order
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	var out []*schema.Product
	for _, key := range keys {
		p := f.products[key]
		if p.GlobalPopularityScore >= minPop && keep(p) {
			out = append(out, p)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (f *fakeCatalog) PopularProducts(_ context.Context, minPop float64, limit int) ([]*schema.Product, error) {
	return f.filter(minPop, limit, func(*schema.Product) bool { return true }), nil
}

func (f *fakeCatalog) PremiumProducts(_ context.Context, minPop float64, limit int) ([]*schema.Product, error) {
	return f.filter(minPop, limit, func(p *schema.Product) bool { return p.PremiumTier > 0 }), nil
}

func (f *fakeCatalog) ProductsOutsideFamilies(_ context.Context, exclude []string, minPop float64, limit int) ([]*schema.Product, error) {
	return f.filter(minPop, limit, func(p *schema.Product) bool {
		for _, fam := range exclude {
			if p.FamilyCRM == fam {
				return false
			}
		}
		return true
	}), nil
}

func (f *fakeCatalog) ProductsWithFamily(_ context.Context, minPop float64) ([]*schema.Product, error) {
	return f.filter(minPop, 0, func(p *schema.Product) bool { return p.FamilyCRM != "" }), nil
}

type fakeRuns struct {
	mu       sync.Mutex
	runs     []*schema.RecoRun
	items    map[string][]schema.RecoItem
	findings []schema.AuditFinding
}

func (f *fakeRuns) SaveRun(_ context.Context, run *schema.RecoRun, items []schema.RecoItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.items == nil {
		f.items = map[string][]schema.RecoItem{}
	}
	f.runs = append(f.runs, run)
	f.items[run.RunID] = items
	return nil
}

func (f *fakeRuns) InsertFindings(_ context.Context, findings []schema.AuditFinding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findings = append(f.findings, findings...)
	return nil
}

type noopTracker struct{}

func (noopTracker) TrackOperation(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func TestFeatureBuckets(t *testing.T) {
	assert.Equal(t, 0, recencyBucket(-1))
	assert.Equal(t, 5, recencyBucket(30))
	assert.Equal(t, 4, recencyBucket(31))
	assert.Equal(t, 1, recencyBucket(400))

	assert.Equal(t, 5, frequencyBucket(10))
	assert.Equal(t, 2, frequencyBucket(1))
	assert.Equal(t, 0, frequencyBucket(0))

	assert.Equal(t, 5, monetaryBucket(5000))
	assert.Equal(t, 1, monetaryBucket(10))
	assert.Equal(t, 0, monetaryBucket(0))
}

func TestSilenceWindowBoundary(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	inWindow := now.AddDate(0, 0, -29)
	atWindow := now.AddDate(0, 0, -30)

	customers := &fakeCustomers{
		aggs:        map[string]store.OrderAggregates{"C1": {}, "C2": {}},
		lastContact: map[string]*time.Time{"C1": &inWindow, "C2": &atWindow},
	}
	fc := NewFeatureComputer(customers, 30)

	f1, err := fc.Compute(context.Background(), "C1", now)
	require.NoError(t, err)
	assert.True(t, f1.InSilenceWindow)

	f2, err := fc.Compute(context.Background(), "C2", now)
	require.NoError(t, err)
	assert.False(t, f2.InSilenceWindow)
}

func TestScoreRebuyMatchesContract(t *testing.T) {
	catalog := &fakeCatalog{products: map[string]*schema.Product{
		"WINE001": {ProductKey: "WINE001", FamilyCRM: "ROUGE", GlobalPopularityScore: 0.8},
	}}
	f := &Features{CustomerCode: "C001", TopFamilies: []string{"ROUGE"}}

	s, err := NewScorer(catalog).Score(context.Background(), f, "WINE001", schema.ScenarioRebuy)
	require.NoError(t, err)
	assert.InDelta(t, 85, s.BaseScore, 1e-9)
	assert.InDelta(t, 75, s.AffinityScore, 1e-9)
	assert.InDelta(t, 80, s.PopularityScore, 1e-9)
	assert.InDelta(t, 80, s.ProfitScore, 1e-9)
	assert.InDelta(t, 78.5, s.FinalScore, 1e-9)
}

func TestScoreMissingProductUsesNeutralDefaults(t *testing.T) {
	catalog := &fakeCatalog{products: map[string]*schema.Product{}}
	f := &Features{CustomerCode: "C001"}
	s, err := NewScorer(catalog).Score(context.Background(), f, "GHOST", schema.ScenarioNurture)
	require.NoError(t, err)
	assert.InDelta(t, 50, s.AffinityScore, 1e-9)
	assert.InDelta(t, 50, s.PopularityScore, 1e-9)
	assert.InDelta(t, 50, s.ProfitScore, 1e-9)
	assert.GreaterOrEqual(t, s.FinalScore, 0.0)
	assert.LessOrEqual(t, s.FinalScore, 100.0)
}

func TestScoreZeroPopularityScoresNeutral(t *testing.T) {
	catalog := &fakeCatalog{products: map[string]*schema.Product{
		"NEW001": {ProductKey: "NEW001", FamilyCRM: "BLANC"}, // share never computed
	}}
	f := &Features{CustomerCode: "C001", TopFamilies: []string{"BLANC"}}
	s, err := NewScorer(catalog).Score(context.Background(), f, "NEW001", schema.ScenarioCrossSell)
	require.NoError(t, err)
	assert.InDelta(t, 75, s.AffinityScore, 1e-9) // family still counts
	assert.InDelta(t, 50, s.PopularityScore, 1e-9)
	assert.InDelta(t, 50, s.ProfitScore, 1e-9)
}

func TestRankTieBreak(t *testing.T) {
	scores := []schema.RecoScore{
		{ProductKey: "B", Scenario: schema.ScenarioNurture, FinalScore: 70},
		{ProductKey: "A", Scenario: schema.ScenarioRebuy, FinalScore: 70},
		{ProductKey: "C", Scenario: schema.ScenarioRebuy, FinalScore: 70},
		{ProductKey: "D", Scenario: schema.ScenarioUpsell, FinalScore: 90},
	}
	ranked := Rank(scores)
	assert.Equal(t, "D", ranked[0].ProductKey)
	assert.Equal(t, "A", ranked[1].ProductKey) // REBUY before NURTURE, A before C
	assert.Equal(t, "C", ranked[2].ProductKey)
	assert.Equal(t, "B", ranked[3].ProductKey)
}

func TestDiversifyPrefersNewFamilies(t *testing.T) {
	catalog := &fakeCatalog{products: map[string]*schema.Product{
		"P1": {ProductKey: "P1", FamilyCRM: "Red"},
		"P2": {ProductKey: "P2", FamilyCRM: "Red"},
		"P3": {ProductKey: "P3", FamilyCRM: "White"},
	}}
	ranked := []schema.RecoScore{
		{ProductKey: "P1", Scenario: schema.ScenarioRebuy, FinalScore: 90},
		{ProductKey: "P2", Scenario: schema.ScenarioRebuy, FinalScore: 88},
		{ProductKey: "P3", Scenario: schema.ScenarioCrossSell, FinalScore: 70},
	}
	out := Diversify(context.Background(), catalog, ranked, 3)
	require.Len(t, out, 3)
	assert.Equal(t, "P1", out[0].ProductKey)
	assert.Equal(t, "P3", out[1].ProductKey) // new family jumps ahead
	assert.Equal(t, "P2", out[2].ProductKey) // same-family fallback
}

func TestNurtureSampleIsSeededPerRunAndCustomer(t *testing.T) {
	products := map[string]*schema.Product{}
	for _, key := range []string{"N1", "N2", "N3", "N4", "N5", "N6"} {
		products[key] = &schema.Product{ProductKey: key, FamilyCRM: "ROUGE", GlobalPopularityScore: 0.5}
	}
	catalog := &fakeCatalog{products: products}
	customers := &fakeCustomers{aggs: map[string]store.OrderAggregates{"C1": {PurchaseCount: 1}}}
	m := NewMatcher(customers, catalog)

	f := &Features{CustomerCode: "C1", PurchaseCount: 1}
	first, err := m.Match(context.Background(), "run-A", f, nil)
	require.NoError(t, err)
	second, err := m.Match(context.Background(), "run-A", f, nil)
	require.NoError(t, err)
	assert.Equal(t, first[schema.ScenarioNurture], second[schema.ScenarioNurture])

	other, err := m.Match(context.Background(), "run-B", f, nil)
	require.NoError(t, err)
	// A different run may legitimately collide, but the seeds differ;
	// with 6 choose 3 orderings a collision here would be a seed bug.
	assert.NotEqual(t, first[schema.ScenarioNurture], other[schema.ScenarioNurture])
}

func TestScenarioGates(t *testing.T) {
	catalog := &fakeCatalog{products: map[string]*schema.Product{
		"PREM": {ProductKey: "PREM", FamilyCRM: "ROUGE", PremiumTier: 2, GlobalPopularityScore: 0.9},
	}}
	customers := &fakeCustomers{aggs: map[string]store.OrderAggregates{}}
	m := NewMatcher(customers, catalog)

	// Below the spend floor: no UPSELL bucket.
	f := &Features{CustomerCode: "C1", TotalSpent: 499, PurchaseCount: 5, DaysSincePurchase: 10}
	matches, err := m.Match(context.Background(), "r", f, nil)
	require.NoError(t, err)
	assert.NotContains(t, matches, schema.ScenarioUpsell)
	assert.NotContains(t, matches, schema.ScenarioWinback)
	assert.NotContains(t, matches, schema.ScenarioNurture)

	// At the floor, and long inactive: UPSELL and WINBACK appear.
	f = &Features{CustomerCode: "C1", TotalSpent: 500, PurchaseCount: 5, DaysSincePurchase: 366}
	matches, err = m.Match(context.Background(), "r", f, nil)
	require.NoError(t, err)
	assert.Contains(t, matches, schema.ScenarioUpsell)
	assert.Contains(t, matches, schema.ScenarioWinback)
}

func newTestEngine(customers *fakeCustomers, catalog *fakeCatalog, runs *fakeRuns) *Engine {
	return NewEngine(customers, catalog, runs, noopTracker{}, 30)
}

func TestRecommendSilenceWindowPersistsNothing(t *testing.T) {
	recent := time.Now().UTC().AddDate(0, 0, -10)
	customers := &fakeCustomers{
		aggs:        map[string]store.OrderAggregates{"C001": {PurchaseCount: 2, TotalSpent: 100}},
		lastContact: map[string]*time.Time{"C001": &recent},
	}
	runs := &fakeRuns{}
	e := newTestEngine(customers, &fakeCatalog{products: map[string]*schema.Product{}}, runs)

	result, ok, err := e.Recommend(context.Background(), "C001", DefaultOptions())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, result.Reason, "silence window")
	assert.Empty(t, runs.runs)
	require.Len(t, runs.findings, 1)
	assert.Equal(t, "SILENCE_WINDOW", runs.findings[0].RuleCode)
}

func TestRecommendPersistsRankedSlate(t *testing.T) {
	old := time.Now().UTC().AddDate(0, 0, -120)
	customers := &fakeCustomers{
		aggs: map[string]store.OrderAggregates{
			"C001": {PurchaseCount: 1, TotalSpent: 90, LastPurchase: &old},
		},
		familyRevs: map[string][]store.FamilyRevenue{
			"C001": {{Value: "ROUGE", Orders: 1, Revenue: 90}},
		},
		rebuy: map[string][]string{"C001": {"WINE001"}},
	}
	catalog := &fakeCatalog{products: map[string]*schema.Product{
		"WINE001": {ProductKey: "WINE001", FamilyCRM: "ROUGE", GlobalPopularityScore: 0.8},
	}}
	runs := &fakeRuns{}
	e := newTestEngine(customers, catalog, runs)

	result, ok, err := e.Recommend(context.Background(), "C001", Options{MaxK: 3, SilenceCheck: true})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, runs.runs, 1)

	items := runs.items[result.RunID]
	require.NotEmpty(t, items)
	for i, it := range items {
		assert.Equal(t, i+1, it.Rank)
		assert.GreaterOrEqual(t, it.Score.FinalScore, 0.0)
		assert.LessOrEqual(t, it.Score.FinalScore, 100.0)
		if i > 0 {
			assert.LessOrEqual(t, it.Score.FinalScore, items[i-1].Score.FinalScore)
		}
		assert.NotEmpty(t, it.Explanation.Title)
		assert.NotEmpty(t, it.Explanation.Components)
	}
	// The REBUY candidate leads the slate per E3.
	assert.Equal(t, "WINE001", items[0].ProductKey)
	assert.InDelta(t, 78.5, items[0].Score.FinalScore, 1e-9)
}

func TestRecommendNoScenarios(t *testing.T) {
	customers := &fakeCustomers{
		aggs: map[string]store.OrderAggregates{"C9": {PurchaseCount: 5, TotalSpent: 100}},
	}
	runs := &fakeRuns{}
	e := newTestEngine(customers, &fakeCatalog{products: map[string]*schema.Product{}}, runs)

	result, ok, err := e.Recommend(context.Background(), "C9", DefaultOptions())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, result.Reason, "no scenario")
	assert.Empty(t, runs.runs)
}

func TestRecommendBatch(t *testing.T) {
	customers := &fakeCustomers{
		aggs:  map[string]store.OrderAggregates{"C1": {PurchaseCount: 1}, "C2": {PurchaseCount: 2}},
		codes: []string{"C1", "C2"},
	}
	catalog := &fakeCatalog{products: map[string]*schema.Product{
		"N1": {ProductKey: "N1", FamilyCRM: "ROUGE", GlobalPopularityScore: 0.5},
	}}
	runs := &fakeRuns{}
	e := newTestEngine(customers, catalog, runs)
	e.Workers = 2

	out, err := e.RecommendBatch(context.Background(), nil, 10, Options{MaxK: 3})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for code, entry := range out {
		require.NoError(t, entry.Err, code)
		assert.True(t, entry.Success, code)
	}
	assert.Len(t, runs.runs, 2)
}
