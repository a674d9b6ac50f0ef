package schema

import "time"

// RecoScore carries the component scores for one (customer, product,
// scenario) candidate. All components and the final score are in [0,100].
type RecoScore struct {
	ProductKey      string   `json:"product_key"`
	Scenario        Scenario `json:"scenario"`
	BaseScore       float64  `json:"base_score"`
	AffinityScore   float64  `json:"affinity_score"`
	PopularityScore float64  `json:"popularity_score"`
	ProfitScore     float64  `json:"profit_score"`
	FinalScore      float64  `json:"final_score"`
}

// Explanation is the human-readable justification attached to a
// recommendation: a short title, a conversational reason, and 2-4
// factual bullet components.
type Explanation struct {
	Title      string   `json:"title"`
	Reason     string   `json:"reason"`
	Components []string `json:"components"`
}

// RecoItem is one ranked recommendation inside a run. Items are owned by
// the run that produced them and never edited in place.
type RecoItem struct {
	ID           int64       `json:"id"`
	RunID        string      `json:"run_id"`
	CustomerCode string      `json:"customer_code"`
	Scenario     Scenario    `json:"scenario"`
	Rank         int         `json:"rank"`
	ProductKey   string      `json:"product_key"`
	Score        RecoScore   `json:"score"`
	ExplainShort string      `json:"explain_short,omitempty"`
	Explanation  Explanation `json:"explanation"`
	CreatedAt    time.Time   `json:"created_at"`
}

// RecoRun records one batch generation: configuration fingerprint,
// versions, counts, and a free-form summary blob.
type RecoRun struct {
	RunID          string         `json:"run_id"`
	ConfigHash     string         `json:"config_hash"`
	CodeVersion    string         `json:"code_version,omitempty"`
	DatasetVersion string         `json:"dataset_version,omitempty"`
	RunTimestamp   time.Time      `json:"run_timestamp"`
	TotalCustomers int            `json:"total_customers"`
	EligibleCount  int            `json:"eligible_customers"`
	ExportedCount  int            `json:"exported_customers"`
	DurationSecs   float64        `json:"duration_seconds"`
	Summary        map[string]any `json:"summary_json,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RecommendationResult is the outcome of recommending for one customer.
// Success=false results carry the reason and are never persisted.
type RecommendationResult struct {
	RunID           string                 `json:"run_id"`
	CustomerCode    string                 `json:"customer_code"`
	Recommendations []RecoItem             `json:"recommendations"`
	Features        map[string]any         `json:"features,omitempty"`
	ScenariosMatch  map[Scenario][]string  `json:"scenarios_matched,omitempty"`
	Reason          string                 `json:"reason,omitempty"`
	GeneratedAt     time.Time              `json:"generated_at"`
}

// AuditFinding is a run-level diagnostic emitted while generating
// recommendations (for example a customer skipped by the silence
// window). Findings are advisory; they never abort a run.
type AuditFinding struct {
	ID           int64          `json:"id"`
	RunID        string         `json:"run_id"`
	CustomerCode string         `json:"customer_code"`
	Severity     string         `json:"severity"` // ERROR or WARN
	RuleCode     string         `json:"rule_code"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
