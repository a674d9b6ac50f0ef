package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cavistelabs/sommelier/pkg/schema"
	"github.com/cavistelabs/sommelier/pkg/store"
)

// aromaConfidenceThreshold is the share of revenue that must come from
// aroma-profiled products for full confidence.
const aromaConfidenceThreshold = 0.5

// OrderReader is the slice of the customer store the profile builder
// reads from.
type OrderReader interface {
	AllOrderAggregates(ctx context.Context) ([]store.OrderAggregates, error)
	RevenueByDimension(ctx context.Context, code, dimension string) ([]store.FamilyRevenue, error)
	ProductRevenueFor(ctx context.Context, code string) (map[string]float64, error)
	CustomerCodes(ctx context.Context, limit int) ([]string, error)
}

// ProductReader resolves catalog entries for aroma aggregation.
type ProductReader interface {
	GetProduct(ctx context.Context, key string) (*schema.Product, error)
}

// ProfileWriter persists finished profiles.
type ProfileWriter interface {
	UpsertProfile(ctx context.Context, p *schema.MasterProfile) error
}

// ProfileBuilder materializes one MasterProfile per customer: quartile
// RFM over the whole order base, segment assignment, per-dimension
// preference shares, and aroma preference axes.
type ProfileBuilder struct {
	orders   OrderReader
	products ProductReader
	profiles ProfileWriter
	log      *slog.Logger
}

func NewProfileBuilder(orders OrderReader, products ProductReader, profiles ProfileWriter) *ProfileBuilder {
	return &ProfileBuilder{
		orders:   orders,
		products: products,
		profiles: profiles,
		log:      slog.Default().With("component", "transform.profiles"),
	}
}

// BuildAll rebuilds every profile and returns how many were written.
// Customers without orders get a PROSPECT profile with zero RFM.
func (b *ProfileBuilder) BuildAll(ctx context.Context, now time.Time, maxCustomers int) (int, error) {
	aggs, err := b.orders.AllOrderAggregates(ctx)
	if err != nil {
		return 0, fmt.Errorf("transform: load aggregates: %w", err)
	}
	byCode := make(map[string]store.OrderAggregates, len(aggs))
	recencies := make([]float64, 0, len(aggs))
	freqs := make([]float64, 0, len(aggs))
	monies := make([]float64, 0, len(aggs))
	for _, a := range aggs {
		byCode[a.CustomerCode] = a
		recencies = append(recencies, recencyDays(a, now))
		freqs = append(freqs, float64(a.PurchaseCount))
		monies = append(monies, a.TotalSpent)
	}
	rq := quartileThresholds(recencies)
	fq := quartileThresholds(freqs)
	mq := quartileThresholds(monies)

	codes, err := b.orders.CustomerCodes(ctx, maxCustomers)
	if err != nil {
		return 0, fmt.Errorf("transform: list customers: %w", err)
	}

	written := 0
	for _, code := range codes {
		var p *schema.MasterProfile
		if agg, ok := byCode[code]; ok {
			p, err = b.buildOne(ctx, agg, now, rq, fq, mq)
			if err != nil {
				b.log.WarnContext(ctx, "profile build failed", "customer_code", code, "error", err)
				continue
			}
		} else {
			p = &schema.MasterProfile{CustomerCode: code, Segment: schema.SegmentProspect}
		}
		if err := b.profiles.UpsertProfile(ctx, p); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func (b *ProfileBuilder) buildOne(ctx context.Context, agg store.OrderAggregates, now time.Time, rq, fq, mq [3]float64) (*schema.MasterProfile, error) {
	recency := recencyDays(agg, now)

	p := &schema.MasterProfile{
		CustomerCode:   agg.CustomerCode,
		FirstOrderDate: agg.FirstPurchase,
		LastOrderDate:  agg.LastPurchase,
		RecencyDays:    int(recency),
		OrderCount:     agg.PurchaseCount,
		RevenueHT:      agg.TotalSpent,
	}

	// Quartile 1 is worst: for recency, oldest; for f and m, smallest.
	p.RScore = 5 - quartileOf(recency, rq) // low recency days = best
	p.FScore = quartileOf(float64(agg.PurchaseCount), fq)
	p.MScore = quartileOf(agg.TotalSpent, mq)
	p.RFM = fmt.Sprintf("%d%d%d", p.RScore, p.FScore, p.MScore)
	p.Segment = segmentFor(p.RScore, p.FScore, p.MScore, p.RecencyDays, agg.PurchaseCount)

	if err := b.fillPreferences(ctx, p); err != nil {
		return nil, err
	}
	if err := b.fillAroma(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func recencyDays(agg store.OrderAggregates, now time.Time) float64 {
	if agg.LastPurchase == nil {
		return 0
	}
	return now.Sub(*agg.LastPurchase).Hours() / 24
}

// quartileThresholds returns the 25/50/75 percentile cut points.
func quartileThresholds(values []float64) [3]float64 {
	if len(values) == 0 {
		return [3]float64{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pct := func(q float64) float64 {
		idx := int(q * float64(len(sorted)-1))
		return sorted[idx]
	}
	return [3]float64{pct(0.25), pct(0.50), pct(0.75)}
}

// quartileOf buckets a value into 1..4, 1 for the smallest quartile.
func quartileOf(v float64, q [3]float64) int {
	switch {
	case v <= q[0]:
		return 1
	case v <= q[1]:
		return 2
	case v <= q[2]:
		return 3
	default:
		return 4
	}
}

func segmentFor(r, f, m, recencyDays, orderCount int) schema.CustomerSegment {
	if orderCount == 0 {
		return schema.SegmentProspect
	}
	avg := float64(r+f+m) / 3
	switch {
	case avg >= 3.5:
		return schema.SegmentVIP
	case recencyDays > 180 && orderCount == 1:
		return schema.SegmentInactive
	case avg <= 1.5:
		return schema.SegmentAtRisk
	default:
		return schema.SegmentStd
	}
}

func (b *ProfileBuilder) fillPreferences(ctx context.Context, p *schema.MasterProfile) error {
	fill := func(dimension string, top1, top2 *string, share1, share2 *float64) ([]float64, error) {
		revs, err := b.orders.RevenueByDimension(ctx, p.CustomerCode, dimension)
		if err != nil {
			return nil, err
		}
		var total float64
		for _, r := range revs {
			total += r.Revenue
		}
		shares := make([]float64, 0, len(revs))
		if total <= 0 {
			return shares, nil
		}
		for _, r := range revs {
			shares = append(shares, r.Revenue/total)
		}
		if len(revs) > 0 {
			*top1, *share1 = revs[0].Value, shares[0]
		}
		if len(revs) > 1 {
			*top2, *share2 = revs[1].Value, shares[1]
		}
		return shares, nil
	}

	famShares, err := fill("family", &p.TopFamily1, &p.TopFamily2, &p.TopFamily1CAShare, &p.TopFamily2CAShare)
	if err != nil {
		return err
	}
	herfindahl := 0.0
	for _, s := range famShares {
		herfindahl += s * s
	}
	if len(famShares) > 0 {
		p.FamilyDiversityScore = 1 - herfindahl
	}

	if _, err := fill("grape", &p.TopGrape1, &p.TopGrape2, &p.TopGrape1CAShare, &p.TopGrape2CAShare); err != nil {
		return err
	}
	if _, err := fill("sucrosity", &p.TopSugar1, &p.TopSugar2, &p.TopSugar1CAShare, &p.TopSugar2CAShare); err != nil {
		return err
	}
	if _, err := fill("price_band", &p.TopPriceBand1, &p.TopPriceBand2, &p.TopPriceBand1CAShare, &p.TopPriceBand2CAShare); err != nil {
		return err
	}
	return nil
}

// fillAroma aggregates the aroma axes of purchased products weighted by
// their share of the customer's revenue.
func (b *ProfileBuilder) fillAroma(ctx context.Context, p *schema.MasterProfile) error {
	revenues, err := b.orders.ProductRevenueFor(ctx, p.CustomerCode)
	if err != nil {
		return err
	}
	var total float64
	for _, rev := range revenues {
		total += rev
	}
	if total <= 0 {
		return nil
	}

	axisWeighted := map[string]float64{}
	axisWeight := map[string]float64{}
	profiledWeight := 0.0

	keys := make([]string, 0, len(revenues))
	for key := range revenues {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		product, err := b.products.GetProduct(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}
		weight := revenues[key] / total
		profiled := false
		for _, axis := range schema.AromaAxes {
			if score := product.AromaScore(axis); score > 0 {
				axisWeighted[axis] += weight * float64(score) / 5
				axisWeight[axis] += weight
				profiled = true
			}
		}
		if profiled {
			profiledWeight += weight
		}
	}
	if profiledWeight == 0 {
		return nil
	}

	type axisScore struct {
		axis  string
		score float64
	}
	ranked := make([]axisScore, 0, len(axisWeighted))
	for _, axis := range schema.AromaAxes {
		if axisWeight[axis] > 0 {
			ranked = append(ranked, axisScore{axis, axisWeighted[axis] / axisWeight[axis]})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > 0 {
		p.AromaAxe1, p.AromaScore1 = ranked[0].axis, ranked[0].score
	}
	if len(ranked) > 1 {
		p.AromaAxe2, p.AromaScore2 = ranked[1].axis, ranked[1].score
	}
	if len(ranked) > 2 {
		p.AromaAxe3, p.AromaScore3 = ranked[2].axis, ranked[2].score
	}

	p.AromaConfidence = profiledWeight / aromaConfidenceThreshold
	if p.AromaConfidence > 1 {
		p.AromaConfidence = 1
	}
	switch {
	case p.AromaConfidence >= 0.75:
		p.AromaLevel = schema.AromaHigh
	case p.AromaConfidence >= 0.4:
		p.AromaLevel = schema.AromaMedium
	default:
		p.AromaLevel = schema.AromaLow
	}
	return nil
}
