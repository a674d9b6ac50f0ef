package schema

import "time"

// OutcomeStatus is the observed fate of one recommendation.
type OutcomeStatus string

const (
	OutcomePending      OutcomeStatus = "PENDING"
	OutcomeAccepted     OutcomeStatus = "ACCEPTED"
	OutcomeRejected     OutcomeStatus = "REJECTED"
	OutcomePurchased    OutcomeStatus = "PURCHASED"
	OutcomeNotPurchased OutcomeStatus = "NOT_PURCHASED"
	OutcomeReturned     OutcomeStatus = "RETURNED"
)

// OutcomeEvent records what happened to one audited recommendation.
type OutcomeEvent struct {
	ID           int64         `json:"id"`
	AuditID      string        `json:"audit_id"`
	CustomerCode string        `json:"customer_code"`
	ProductKey   string        `json:"product_key"`
	Score        float64       `json:"recommendation_score"`
	Status       OutcomeStatus `json:"status"`
	Reason       string        `json:"reason,omitempty"`
	Purchased    bool          `json:"purchased"`
	Amount       float64       `json:"amount,omitempty"`
	Variant      string        `json:"variant,omitempty"`
	RecordedAt   time.Time     `json:"recorded_at"`
}

// Sentiment classifies a feedback score.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// SentimentFor derives the sentiment from a 1-5 feedback score.
func SentimentFor(score int) Sentiment {
	switch {
	case score >= 4:
		return SentimentPositive
	case score >= 3:
		return SentimentNeutral
	default:
		return SentimentNegative
	}
}

// FeedbackRecord is explicit customer feedback on one product.
type FeedbackRecord struct {
	ID           int64     `json:"id"`
	CustomerCode string    `json:"customer_code"`
	ProductKey   string    `json:"product_key"`
	FeedbackType string    `json:"feedback_type"`
	Score        int       `json:"score"`
	Sentiment    Sentiment `json:"sentiment"`
	Comment      string    `json:"comment,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// OutcomeMetrics aggregates outcomes over a rolling window.
type OutcomeMetrics struct {
	WindowDays      int       `json:"window_days"`
	Total           int       `json:"total"`
	AcceptanceRate  float64   `json:"acceptance_rate"`
	PurchaseRate    float64   `json:"purchase_rate"`
	ReturnRate      float64   `json:"return_rate"`
	AvgSatisfaction float64   `json:"avg_satisfaction"`
	RevenueImpact   float64   `json:"revenue_impact"`
	ROI             float64   `json:"roi"`
	ComputedAt      time.Time `json:"computed_at"`
}

// TriggerSeverity grades an improvement trigger.
type TriggerSeverity string

const (
	TriggerHigh   TriggerSeverity = "HIGH"
	TriggerMedium TriggerSeverity = "MEDIUM"
)

// ImprovementTrigger is a deterministic signal that the scoring model
// should be revisited. Triggers are diagnostics, never errors.
type ImprovementTrigger struct {
	Type        string          `json:"type"`
	Severity    TriggerSeverity `json:"severity"`
	Description string          `json:"description"`
	CodeVersion string          `json:"code_version,omitempty"`
	DetectedAt  time.Time       `json:"detected_at"`
}

// Improvement trigger types.
const (
	TriggerPerformanceDrop   = "PERFORMANCE_DROP"
	TriggerSatisfactionDrop  = "SATISFACTION_DROP"
	TriggerHighReturnRate    = "HIGH_RETURN_RATE"
	TriggerLowAcceptanceRate = "LOW_ACCEPTANCE_RATE"
)

// ABVariantStats summarizes one arm of an A/B test.
type ABVariantStats struct {
	Variant        string  `json:"variant"`
	Outcomes       int     `json:"outcomes"`
	Purchased      int     `json:"purchased"`
	ConversionRate float64 `json:"conversion_rate"`
	Revenue        float64 `json:"revenue"`
}

// ABTestResult is the comparison of two variants. Confidence is 0 when
// either arm is too small to call, otherwise an approximate z-test value
// capped at 0.99.
type ABTestResult struct {
	TestID     string         `json:"test_id"`
	VariantA   ABVariantStats `json:"variant_a"`
	VariantB   ABVariantStats `json:"variant_b"`
	Winner     string         `json:"winner"`
	Confidence float64        `json:"confidence"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
