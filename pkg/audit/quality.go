package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cavistelabs/sommelier/pkg/cache"
	"github.com/cavistelabs/sommelier/pkg/schema"
)

// qualityCacheTTL bounds how long a materialized run summary is reused.
const qualityCacheTTL = 15 * time.Minute

// ItemReader reads the persisted items of one run.
type ItemReader interface {
	ItemsForRun(ctx context.Context, runID string) ([]schema.RecoItem, error)
}

// MetricsStore persists and lists computed quality summaries.
type MetricsStore interface {
	UpsertQualityMetrics(ctx context.Context, m *schema.QualityMetrics) error
	QualityMetricsSince(ctx context.Context, days int) ([]*schema.QualityMetrics, error)
}

// QualityComputer materializes run-level quality metrics on demand and
// memoizes them in the cache so batch workers share one computation.
type QualityComputer struct {
	items   ItemReader
	metrics MetricsStore
	cache   cache.Cache
	log     *slog.Logger
}

func NewQualityComputer(items ItemReader, metrics MetricsStore, c cache.Cache) *QualityComputer {
	return &QualityComputer{
		items:   items,
		metrics: metrics,
		cache:   c,
		log:     slog.Default().With("component", "audit.quality"),
	}
}

// Compute builds (or returns the cached) quality summary of one run.
// totalCustomers is the in-scope base for coverage.
func (q *QualityComputer) Compute(ctx context.Context, runID string, totalCustomers int) (*schema.QualityMetrics, error) {
	key := "quality:" + runID
	if raw, ok, err := q.cache.Get(ctx, key); err == nil && ok {
		var m schema.QualityMetrics
		if err := json.Unmarshal(raw, &m); err == nil {
			return &m, nil
		}
	}

	items, err := q.items.ItemsForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: items for run %s: %w", runID, err)
	}

	m := computeQuality(runID, items, totalCustomers)
	if err := q.metrics.UpsertQualityMetrics(ctx, m); err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(m); err == nil {
		if err := q.cache.Set(ctx, key, raw, qualityCacheTTL); err != nil {
			q.log.WarnContext(ctx, "quality cache write failed", "run_id", runID, "error", err)
		}
	}
	return m, nil
}

// Report lists summaries computed over the last N days, newest first.
func (q *QualityComputer) Report(ctx context.Context, days int) ([]*schema.QualityMetrics, error) {
	return q.metrics.QualityMetricsSince(ctx, days)
}

func computeQuality(runID string, items []schema.RecoItem, totalCustomers int) *schema.QualityMetrics {
	m := &schema.QualityMetrics{
		RunID:                runID,
		TotalRecommendations: len(items),
		Timestamp:            time.Now().UTC(),
	}
	if len(items) == 0 {
		m.QualityLevel = schema.QualityLevelFor(0)
		return m
	}

	customers := map[string]map[string]bool{} // code -> product set
	perCustomerTotal := map[string]int{}
	uniqueProducts := map[string]bool{}
	scores := make([]float64, 0, len(items))
	var sum float64

	for _, it := range items {
		if customers[it.CustomerCode] == nil {
			customers[it.CustomerCode] = map[string]bool{}
		}
		customers[it.CustomerCode][it.ProductKey] = true
		perCustomerTotal[it.CustomerCode]++
		uniqueProducts[it.ProductKey] = true
		scores = append(scores, it.Score.FinalScore)
		sum += it.Score.FinalScore
	}

	if totalCustomers > 0 {
		m.CoverageScore = float64(len(customers)) / float64(totalCustomers)
		if m.CoverageScore > 1 {
			m.CoverageScore = 1
		}
	}
	m.DiversityScore = float64(len(uniqueProducts)) / (float64(len(items)) * 0.7)
	if m.DiversityScore > 1 {
		m.DiversityScore = 1
	}
	m.AvgScore = sum / float64(len(items))
	m.AccuracyScore = m.AvgScore / 100
	m.MedianScore = median(scores)

	var ratioSum float64
	for code, products := range customers {
		ratioSum += float64(len(products)) / float64(perCustomerTotal[code])
	}
	m.DiversityRatio = ratioSum / float64(len(customers))

	m.QualityLevel = schema.QualityLevelFor(m.QualityScore())
	return m
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
