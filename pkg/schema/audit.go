package schema

import "time"

// AuditLog tracks the approval lifecycle of one recommendation. State
// transitions land here, never on the RecoItem itself.
type AuditLog struct {
	AuditID          string          `json:"audit_id"`
	RunID            string          `json:"run_id"`
	CustomerCode     string          `json:"customer_code"`
	ProductKey       string          `json:"product_key"`
	Scenario         Scenario        `json:"scenario"`
	Score            float64         `json:"recommendation_score"`
	ApprovalStatus   ApprovalStatus  `json:"approval_status"`
	ApprovalReason   string          `json:"approval_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy       string          `json:"approved_by,omitempty"`
	ComplianceChecks map[string]bool `json:"compliance_checks,omitempty"`
	Flags            []string        `json:"flags,omitempty"`
}

// QualityMetrics summarizes one run: coverage, diversity and accuracy in
// [0,1], score statistics, and the derived quality level.
type QualityMetrics struct {
	RunID                string       `json:"run_id"`
	TotalRecommendations int          `json:"total_recommendations"`
	CoverageScore        float64      `json:"coverage_score"`
	DiversityScore       float64      `json:"diversity_score"`
	AccuracyScore        float64      `json:"accuracy_score"`
	AvgScore             float64      `json:"avg_score"`
	MedianScore          float64      `json:"median_score"`
	DiversityRatio       float64      `json:"diversity_ratio"`
	QualityLevel         QualityLevel `json:"quality_level"`
	Timestamp            time.Time    `json:"timestamp"`
}

// QualityScore is the weighted composite used to derive the level.
func (q *QualityMetrics) QualityScore() float64 {
	return 0.4*q.CoverageScore + 0.3*q.DiversityScore + 0.3*q.AccuracyScore
}

// WorkflowPriority orders pending approval workflows.
type WorkflowPriority string

const (
	PriorityLow    WorkflowPriority = "LOW"
	PriorityNormal WorkflowPriority = "NORMAL"
	PriorityHigh   WorkflowPriority = "HIGH"
)

// ApprovalWorkflow is opened when a gating policy requires a manual
// decision on an audit entry, and closed by the approve or reject call.
type ApprovalWorkflow struct {
	WorkflowID       string           `json:"workflow_id"`
	RunID            string           `json:"run_id"`
	AuditID          string           `json:"audit_id"`
	Status           ApprovalStatus   `json:"status"`
	RequestedBy      string           `json:"requested_by"`
	ApprovedBy       string           `json:"approved_by,omitempty"`
	RejectionReason  string           `json:"rejection_reason,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	ApprovalDeadline *time.Time       `json:"approval_deadline,omitempty"`
	Priority         WorkflowPriority `json:"priority"`
	Notes            string           `json:"notes,omitempty"`
}
