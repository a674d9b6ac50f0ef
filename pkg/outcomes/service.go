// Package outcomes closes the loop: it records what happened to issued
// recommendations, aggregates the results over rolling windows, and
// emits deterministic improvement triggers when the aggregates degrade.
package outcomes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// recommendationUnitCost is the assumed cost, in EUR, of issuing one
// recommendation. ROI is measured against it.
const recommendationUnitCost = 100

// Store is the persistence slice the outcomes service needs.
type Store interface {
	InsertOutcome(ctx context.Context, e *schema.OutcomeEvent) error
	InsertFeedback(ctx context.Context, f *schema.FeedbackRecord) error
	OutcomesSince(ctx context.Context, days int) ([]*schema.OutcomeEvent, error)
	OutcomesForVariant(ctx context.Context, variant string) ([]*schema.OutcomeEvent, error)
	FeedbackSince(ctx context.Context, days int) ([]*schema.FeedbackRecord, error)
}

// Service records outcome and feedback facts and computes the windowed
// aggregates over them.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{
		store: store,
		log:   slog.Default().With("component", "outcomes"),
		now:   time.Now,
	}
}

func validStatus(s schema.OutcomeStatus) bool {
	switch s {
	case schema.OutcomePending, schema.OutcomeAccepted, schema.OutcomeRejected,
		schema.OutcomePurchased, schema.OutcomeNotPurchased, schema.OutcomeReturned:
		return true
	}
	return false
}

// RecordOutcome persists one outcome event. A PURCHASED status implies
// the purchased flag regardless of what the caller passed.
func (s *Service) RecordOutcome(ctx context.Context, e schema.OutcomeEvent) (*schema.OutcomeEvent, error) {
	if e.AuditID == "" {
		return nil, fmt.Errorf("outcomes: audit_id is required")
	}
	if !validStatus(e.Status) {
		return nil, fmt.Errorf("outcomes: invalid status %q", e.Status)
	}
	if e.Status == schema.OutcomePurchased {
		e.Purchased = true
	}
	e.RecordedAt = s.now().UTC()
	if err := s.store.InsertOutcome(ctx, &e); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "outcome recorded",
		"audit_id", e.AuditID, "status", string(e.Status), "purchased", e.Purchased)
	return &e, nil
}

// RecordFeedback persists one feedback record, deriving the sentiment
// from the 1-5 score.
func (s *Service) RecordFeedback(ctx context.Context, f schema.FeedbackRecord) (*schema.FeedbackRecord, error) {
	if f.Score < 1 || f.Score > 5 {
		return nil, fmt.Errorf("outcomes: feedback score %d out of range 1..5", f.Score)
	}
	f.Sentiment = schema.SentimentFor(f.Score)
	f.RecordedAt = s.now().UTC()
	if err := s.store.InsertFeedback(ctx, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ComputeMetrics aggregates the outcomes and feedback of the last N
// days into one metrics record. A window with no outcomes yields zero
// rates, not an error.
func (s *Service) ComputeMetrics(ctx context.Context, days int) (*schema.OutcomeMetrics, error) {
	events, err := s.store.OutcomesSince(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("outcomes: load window: %w", err)
	}
	feedback, err := s.store.FeedbackSince(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("outcomes: load feedback: %w", err)
	}

	m := &schema.OutcomeMetrics{
		WindowDays: days,
		Total:      len(events),
		ComputedAt: s.now().UTC(),
	}

	var rejected, purchased, returned int
	var revenue float64
	for _, e := range events {
		switch e.Status {
		case schema.OutcomeRejected:
			rejected++
		case schema.OutcomePurchased:
			purchased++
			revenue += e.Amount
		case schema.OutcomeReturned:
			returned++
		}
	}
	if m.Total > 0 {
		m.AcceptanceRate = float64(m.Total-rejected) / float64(m.Total)
		m.PurchaseRate = float64(purchased) / float64(m.Total)
		cost := float64(recommendationUnitCost * m.Total)
		m.ROI = (revenue - cost) / cost
	}
	if purchased > 0 {
		m.ReturnRate = float64(returned) / float64(purchased)
	}
	m.RevenueImpact = revenue

	if len(feedback) > 0 {
		var sum int
		for _, f := range feedback {
			sum += f.Score
		}
		m.AvgSatisfaction = float64(sum) / float64(len(feedback))
	}
	return m, nil
}
