package outcomes

import (
	"context"
	"math"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// minArmSize is the smallest arm the z-test will call a winner on.
const minArmSize = 30

// UpdateABTest recomputes an A/B comparison from the stored outcomes of
// its two arms.
func (s *Service) UpdateABTest(ctx context.Context, testID, variantA, variantB string) (*schema.ABTestResult, error) {
	a, err := s.variantStats(ctx, variantA)
	if err != nil {
		return nil, err
	}
	b, err := s.variantStats(ctx, variantB)
	if err != nil {
		return nil, err
	}

	winner := variantA
	if b.ConversionRate > a.ConversionRate {
		winner = variantB
	}
	return &schema.ABTestResult{
		TestID:     testID,
		VariantA:   *a,
		VariantB:   *b,
		Winner:     winner,
		Confidence: zTestConfidence(a, b),
		UpdatedAt:  s.now().UTC(),
	}, nil
}

func (s *Service) variantStats(ctx context.Context, variant string) (*schema.ABVariantStats, error) {
	events, err := s.store.OutcomesForVariant(ctx, variant)
	if err != nil {
		return nil, err
	}
	stats := &schema.ABVariantStats{Variant: variant, Outcomes: len(events)}
	for _, e := range events {
		if e.Purchased {
			stats.Purchased++
			stats.Revenue += e.Amount
		}
	}
	if stats.Outcomes > 0 {
		stats.ConversionRate = float64(stats.Purchased) / float64(stats.Outcomes)
	}
	return stats, nil
}

// zTestConfidence approximates a two-proportion z-test with pooled
// standard error, scaled so 1.96 standard errors reads as 1.0 and
// capped at 0.99. Arms below minArmSize are never called.
func zTestConfidence(a, b *schema.ABVariantStats) float64 {
	if a.Outcomes < minArmSize || b.Outcomes < minArmSize {
		return 0
	}
	nA, nB := float64(a.Outcomes), float64(b.Outcomes)
	pooled := float64(a.Purchased+b.Purchased) / (nA + nB)
	se := math.Sqrt(pooled * (1 - pooled) * (1/nA + 1/nB))
	if se == 0 {
		return 0
	}
	z := math.Abs(a.ConversionRate-b.ConversionRate) / se
	return math.Min(0.99, z/1.96)
}
