package outcomes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

type fakeStore struct {
	outcomes []*schema.OutcomeEvent
	feedback []*schema.FeedbackRecord
}

func (f *fakeStore) InsertOutcome(_ context.Context, e *schema.OutcomeEvent) error {
	cp := *e
	f.outcomes = append(f.outcomes, &cp)
	return nil
}

func (f *fakeStore) InsertFeedback(_ context.Context, r *schema.FeedbackRecord) error {
	cp := *r
	f.feedback = append(f.feedback, &cp)
	return nil
}

func (f *fakeStore) OutcomesSince(context.Context, int) ([]*schema.OutcomeEvent, error) {
	return f.outcomes, nil
}

func (f *fakeStore) OutcomesForVariant(_ context.Context, variant string) ([]*schema.OutcomeEvent, error) {
	var out []*schema.OutcomeEvent
	for _, e := range f.outcomes {
		if e.Variant == variant {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) FeedbackSince(context.Context, int) ([]*schema.FeedbackRecord, error) {
	return f.feedback, nil
}

func outcome(status schema.OutcomeStatus, amount float64) schema.OutcomeEvent {
	return schema.OutcomeEvent{
		AuditID:      "a-1",
		CustomerCode: "C001",
		ProductKey:   "P01",
		Score:        80,
		Status:       status,
		Amount:       amount,
	}
}

func TestRecordOutcomeValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&fakeStore{})

	_, err := svc.RecordOutcome(ctx, schema.OutcomeEvent{Status: schema.OutcomeAccepted})
	assert.Error(t, err) // missing audit_id

	e := outcome(schema.OutcomeStatus("MAYBE"), 0)
	_, err = svc.RecordOutcome(ctx, e)
	assert.Error(t, err)

	saved, err := svc.RecordOutcome(ctx, outcome(schema.OutcomePurchased, 120))
	require.NoError(t, err)
	assert.True(t, saved.Purchased) // implied by status
	assert.False(t, saved.RecordedAt.IsZero())
}

func TestRecordFeedbackDerivesSentiment(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&fakeStore{})

	for score, want := range map[int]schema.Sentiment{
		5: schema.SentimentPositive,
		4: schema.SentimentPositive,
		3: schema.SentimentNeutral,
		2: schema.SentimentNegative,
		1: schema.SentimentNegative,
	} {
		f, err := svc.RecordFeedback(ctx, schema.FeedbackRecord{
			CustomerCode: "C001", ProductKey: "P01", FeedbackType: "survey", Score: score,
		})
		require.NoError(t, err)
		assert.Equal(t, want, f.Sentiment, "score %d", score)
	}

	_, err := svc.RecordFeedback(ctx, schema.FeedbackRecord{Score: 6})
	assert.Error(t, err)
	_, err = svc.RecordFeedback(ctx, schema.FeedbackRecord{Score: 0})
	assert.Error(t, err)
}

func TestComputeMetrics(t *testing.T) {
	st := &fakeStore{}
	for _, e := range []schema.OutcomeEvent{
		outcome(schema.OutcomePurchased, 150), outcome(schema.OutcomePurchased, 150),
		outcome(schema.OutcomePurchased, 150), outcome(schema.OutcomePurchased, 150),
		outcome(schema.OutcomeRejected, 0), outcome(schema.OutcomeRejected, 0),
		outcome(schema.OutcomeReturned, 0),
		outcome(schema.OutcomeAccepted, 0), outcome(schema.OutcomeAccepted, 0),
		outcome(schema.OutcomePending, 0),
	} {
		cp := e
		cp.Purchased = e.Status == schema.OutcomePurchased
		st.outcomes = append(st.outcomes, &cp)
	}
	for _, score := range []int{5, 4, 3} {
		st.feedback = append(st.feedback, &schema.FeedbackRecord{Score: score})
	}

	m, err := NewService(st).ComputeMetrics(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 10, m.Total)
	assert.InDelta(t, 0.8, m.AcceptanceRate, 1e-9)  // (10-2)/10
	assert.InDelta(t, 0.4, m.PurchaseRate, 1e-9)    // 4/10
	assert.InDelta(t, 0.25, m.ReturnRate, 1e-9)     // 1/4
	assert.InDelta(t, 600, m.RevenueImpact, 1e-9)
	assert.InDelta(t, -0.4, m.ROI, 1e-9) // (600-1000)/1000
	assert.InDelta(t, 4.0, m.AvgSatisfaction, 1e-9)
}

func TestComputeMetricsEmptyWindow(t *testing.T) {
	m, err := NewService(&fakeStore{}).ComputeMetrics(context.Background(), 30)
	require.NoError(t, err)
	assert.Zero(t, m.Total)
	assert.Zero(t, m.AcceptanceRate)
	assert.Zero(t, m.ReturnRate)
	assert.Zero(t, m.ROI)
}

func TestCheckTriggersOnDrop(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	previous := &schema.OutcomeMetrics{PurchaseRate: 0.20, AvgSatisfaction: 4.0}
	current := &schema.OutcomeMetrics{
		Total:           50,
		PurchaseRate:    0.17,
		AvgSatisfaction: 3.3,
		AcceptanceRate:  0.9,
	}

	triggers := CheckTriggers(current, previous, now)
	require.Len(t, triggers, 2)
	assert.Equal(t, schema.TriggerPerformanceDrop, triggers[0].Type)
	assert.Equal(t, schema.TriggerHigh, triggers[0].Severity)
	assert.Equal(t, schema.TriggerSatisfactionDrop, triggers[1].Type)
	assert.Equal(t, schema.TriggerMedium, triggers[1].Severity)
	assert.Equal(t, "1.0.0", triggers[0].CodeVersion)

	// Same inputs, same triggers.
	assert.Equal(t, triggers, CheckTriggers(current, previous, now))
}

func TestCheckTriggersAbsoluteThresholds(t *testing.T) {
	now := time.Now()
	current := &schema.OutcomeMetrics{
		Total:          40,
		ReturnRate:     0.2,
		AcceptanceRate: 0.4,
	}

	triggers := CheckTriggers(current, nil, now)
	require.Len(t, triggers, 2)
	assert.Equal(t, schema.TriggerHighReturnRate, triggers[0].Type)
	assert.Equal(t, schema.TriggerLowAcceptanceRate, triggers[1].Type)

	// Healthy metrics fire nothing.
	healthy := &schema.OutcomeMetrics{Total: 40, ReturnRate: 0.1, AcceptanceRate: 0.8}
	assert.Empty(t, CheckTriggers(healthy, nil, now))
}

func TestUpdateABTest(t *testing.T) {
	st := &fakeStore{}
	addArm := func(variant string, total, purchased int) {
		for i := 0; i < total; i++ {
			e := outcome(schema.OutcomeNotPurchased, 0)
			if i < purchased {
				e.Status = schema.OutcomePurchased
				e.Purchased = true
				e.Amount = 100
			}
			e.Variant = variant
			st.outcomes = append(st.outcomes, &e)
		}
	}
	addArm("A", 40, 10)
	addArm("B", 40, 20)

	res, err := NewService(st).UpdateABTest(context.Background(), "t1", "A", "B")
	require.NoError(t, err)
	assert.Equal(t, "B", res.Winner)
	assert.InDelta(t, 0.25, res.VariantA.ConversionRate, 1e-9)
	assert.InDelta(t, 0.50, res.VariantB.ConversionRate, 1e-9)
	assert.InDelta(t, 2000, res.VariantB.Revenue, 1e-9)
	assert.InDelta(t, 0.99, res.Confidence, 1e-9) // z well past 1.96
}

func TestUpdateABTestSmallArmHasNoConfidence(t *testing.T) {
	st := &fakeStore{}
	for i := 0; i < 10; i++ {
		e := outcome(schema.OutcomePurchased, 100)
		e.Purchased = true
		e.Variant = "A"
		st.outcomes = append(st.outcomes, &e)
	}
	for i := 0; i < 40; i++ {
		e := outcome(schema.OutcomeNotPurchased, 0)
		e.Variant = "B"
		st.outcomes = append(st.outcomes, &e)
	}

	res, err := NewService(st).UpdateABTest(context.Background(), "t2", "A", "B")
	require.NoError(t, err)
	assert.Equal(t, "A", res.Winner)
	assert.Zero(t, res.Confidence)
}
