package reco

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// codeVersion is the engine's semantic version, stamped on every run.
var codeVersion = semver.MustParse("1.0.0")

// RunWriter persists finished runs and advisory findings.
type RunWriter interface {
	SaveRun(ctx context.Context, run *schema.RecoRun, items []schema.RecoItem) error
	InsertFindings(ctx context.Context, findings []schema.AuditFinding) error
}

// Tracker is the observability hook wrapped around engine operations.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// Options tunes a single recommendation request.
type Options struct {
	MaxK         int
	SilenceCheck bool
}

// DefaultOptions matches the production defaults: slates of 3 with the
// silence window enforced.
func DefaultOptions() Options {
	return Options{MaxK: 3, SilenceCheck: true}
}

// Engine orchestrates features → scenarios → scoring → diversification →
// explanations → persistence for one customer at a time.
type Engine struct {
	features  *FeatureComputer
	matcher   *Matcher
	scorer    *Scorer
	explainer *Explainer
	customers CustomerReader
	catalog   CatalogReader
	runs      RunWriter
	tracker   Tracker
	log       *slog.Logger

	configHash string

	// Workers bounds batch fan-out.
	Workers int
}

func NewEngine(customers CustomerReader, catalog CatalogReader, runs RunWriter, tracker Tracker, silenceDays int) *Engine {
	return &Engine{
		features:   NewFeatureComputer(customers, silenceDays),
		matcher:    NewMatcher(customers, catalog),
		scorer:     NewScorer(catalog),
		explainer:  NewExplainer(customers, catalog),
		customers:  customers,
		catalog:    catalog,
		runs:       runs,
		tracker:    tracker,
		log:        slog.Default().With("component", "reco.engine"),
		configHash: configHash(silenceDays),
		Workers:    4,
	}
}

// configHash fingerprints the scoring configuration so two runs with the
// same hash are comparable.
func configHash(silenceDays int) string {
	cfg := map[string]any{
		"weights": map[string]float64{
			"affinity":   weightAffinity,
			"popularity": weightPopularity,
			"profit":     weightProfit,
			"base":       weightBase,
		},
		"silence_window_days": silenceDays,
		"rebuy_min_age_days":  rebuyMinAgeDays,
		"nurture_min_pop":     nurtureMinPop,
		"code_version":        codeVersion.String(),
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Recommend generates and persists a run for one customer. The boolean
// is the business success flag: false means an expected no-slate outcome
// (silence window, no scenarios) carried in result.Reason with nothing
// persisted. The error covers infrastructure failures only.
func (e *Engine) Recommend(ctx context.Context, code string, opts Options) (result *schema.RecommendationResult, ok bool, err error) {
	ctx, done := e.tracker.TrackOperation(ctx, "reco.recommend",
		attribute.String("customer.code", code))
	defer func() { done(err) }()

	if opts.MaxK <= 0 {
		opts.MaxK = 3
	}
	start := time.Now()
	now := start.UTC()
	runID := uuid.NewString()
	result = &schema.RecommendationResult{
		RunID:        runID,
		CustomerCode: code,
		GeneratedAt:  now,
	}

	f, err := e.features.Compute(ctx, code, now)
	if err != nil {
		return result, false, fmt.Errorf("reco: features for %s: %w", code, err)
	}
	result.Features = featureMap(f)

	if opts.SilenceCheck && f.InSilenceWindow {
		result.Reason = "customer is inside the silence window"
		e.recordFinding(ctx, runID, code, "SILENCE_WINDOW", map[string]any{
			"last_contact": f.LastContact,
		})
		return result, false, nil
	}

	matches, err := e.matcher.Match(ctx, runID, f, nil)
	if err != nil {
		return result, false, err
	}
	result.ScenariosMatch = matches
	if len(matches) == 0 {
		result.Reason = "no scenario produced candidates"
		e.recordFinding(ctx, runID, code, "NO_SCENARIOS", nil)
		return result, false, nil
	}

	var scores []schema.RecoScore
	for scenario, keys := range matches {
		for _, key := range keys {
			s, err := e.scorer.Score(ctx, f, key, scenario)
			if err != nil {
				return result, false, err
			}
			scores = append(scores, s)
		}
	}

	slate := Diversify(ctx, e.catalog, Rank(scores), opts.MaxK)

	items := make([]schema.RecoItem, 0, len(slate))
	for i, s := range slate {
		expl := e.explainer.Explain(ctx, f, s)
		items = append(items, schema.RecoItem{
			RunID:        runID,
			CustomerCode: code,
			Scenario:     s.Scenario,
			Rank:         i + 1,
			ProductKey:   s.ProductKey,
			Score:        s,
			ExplainShort: expl.Title,
			Explanation:  expl,
			CreatedAt:    now,
		})
	}
	result.Recommendations = items

	run := &schema.RecoRun{
		RunID:          runID,
		ConfigHash:     e.configHash,
		CodeVersion:    codeVersion.String(),
		RunTimestamp:   now,
		TotalCustomers: 1,
		EligibleCount:  1,
		ExportedCount:  1,
		DurationSecs:   time.Since(start).Seconds(),
		Summary: map[string]any{
			"scenarios": scenarioCounts(matches),
			"slate":     len(items),
		},
	}
	if err = e.runs.SaveRun(ctx, run, items); err != nil {
		return result, false, fmt.Errorf("reco: persist run %s: %w", runID, err)
	}

	e.log.InfoContext(ctx, "run persisted",
		"run_id", runID, "customer_code", code, "items", len(items))
	return result, true, nil
}

// BatchEntry is one customer's outcome inside a batch.
type BatchEntry struct {
	Result  *schema.RecommendationResult
	Success bool
	Err     error
}

// RecommendBatch fans out over customers on a bounded worker pool. When
// codes is empty the customer base is enumerated up to limit.
func (e *Engine) RecommendBatch(ctx context.Context, codes []string, limit int, opts Options) (map[string]BatchEntry, error) {
	var err error
	ctx, done := e.tracker.TrackOperation(ctx, "reco.recommend_batch",
		attribute.Int("batch.requested", len(codes)))
	defer func() { done(err) }()

	if len(codes) == 0 {
		if limit <= 0 {
			limit = 1000
		}
		codes, err = e.customers.CustomerCodes(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("reco: enumerate customers: %w", err)
		}
	}

	workers := e.Workers
	if workers <= 0 {
		workers = 1
	}

	type keyed struct {
		code  string
		entry BatchEntry
	}
	jobs := make(chan string)
	results := make(chan keyed)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for code := range jobs {
				res, ok, rerr := e.Recommend(ctx, code, opts)
				results <- keyed{code, BatchEntry{Result: res, Success: ok, Err: rerr}}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, code := range codes {
			select {
			case jobs <- code:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]BatchEntry, len(codes))
	for r := range results {
		out[r.code] = r.entry
	}
	return out, ctx.Err()
}

func (e *Engine) recordFinding(ctx context.Context, runID, code, rule string, details map[string]any) {
	finding := schema.AuditFinding{
		RunID:        runID,
		CustomerCode: code,
		Severity:     "WARN",
		RuleCode:     rule,
		Details:      details,
	}
	if err := e.runs.InsertFindings(ctx, []schema.AuditFinding{finding}); err != nil {
		e.log.WarnContext(ctx, "finding not recorded", "rule", rule, "error", err)
	}
}

func featureMap(f *Features) map[string]any {
	return map[string]any{
		"purchase_count":      f.PurchaseCount,
		"total_spent":         f.TotalSpent,
		"avg_order_value":     f.AvgOrderValue,
		"days_since_purchase": f.DaysSincePurchase,
		"recency_score":       f.RecencyScore,
		"frequency_score":     f.FrequencyScore,
		"monetary_score":      f.MonetaryScore,
		"budget_level":        string(f.BudgetLevel),
		"in_silence_window":   f.InSilenceWindow,
	}
}

func scenarioCounts(matches map[schema.Scenario][]string) map[string]int {
	out := make(map[string]int, len(matches))
	for s, keys := range matches {
		out[string(s)] = len(keys)
	}
	return out
}
