package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// AuditSQL persists the audit log, per-run quality metrics and manual
// approval workflows. Lifecycle decisions live here; the audit service
// owns the transition rules.
type AuditSQL struct {
	db     *sql.DB
	driver string
}

func NewAuditSQL(db *sql.DB, driver string) *AuditSQL {
	return &AuditSQL{db: db, driver: driver}
}

func (s *AuditSQL) Migrate(ctx context.Context) error {
	stmts := []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS audit_log (
	id %s,
	audit_id TEXT NOT NULL UNIQUE,
	run_id TEXT NOT NULL,
	customer_code TEXT NOT NULL,
	product_key TEXT NOT NULL,
	scenario TEXT,
	recommendation_score REAL NOT NULL,
	approval_status TEXT NOT NULL,
	approval_reason TEXT,
	approved_at TIMESTAMP,
	approved_by TEXT,
	compliance_json TEXT,
	flags_json TEXT,
	created_at TIMESTAMP NOT NULL
);`, serialPK(s.driver)), fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS quality_metrics (
	id %s,
	run_id TEXT NOT NULL UNIQUE,
	total_recommendations INTEGER NOT NULL,
	coverage_score REAL NOT NULL,
	diversity_score REAL NOT NULL,
	accuracy_score REAL NOT NULL,
	avg_score REAL NOT NULL,
	median_score REAL NOT NULL,
	diversity_ratio REAL NOT NULL,
	quality_level TEXT NOT NULL,
	computed_at TIMESTAMP NOT NULL
);`, serialPK(s.driver)), fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS approval_workflow (
	id %s,
	workflow_id TEXT NOT NULL UNIQUE,
	run_id TEXT NOT NULL,
	audit_id TEXT NOT NULL,
	status TEXT NOT NULL,
	requested_by TEXT NOT NULL,
	approved_by TEXT,
	rejection_reason TEXT,
	created_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	approval_deadline TIMESTAMP,
	priority TEXT NOT NULL,
	notes TEXT
);`, serialPK(s.driver))}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate audit: %w", err)
		}
	}
	return nil
}

// InsertAudit records a new audit entry.
func (s *AuditSQL) InsertAudit(ctx context.Context, a *schema.AuditLog) error {
	compliance, err := json.Marshal(a.ComplianceChecks)
	if err != nil {
		return fmt.Errorf("store: marshal compliance checks: %w", err)
	}
	flags, err := json.Marshal(a.Flags)
	if err != nil {
		return fmt.Errorf("store: marshal flags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, run_id, customer_code, product_key, scenario,
			recommendation_score, approval_status, approval_reason, approved_at, approved_by,
			compliance_json, flags_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		a.AuditID, a.RunID, a.CustomerCode, a.ProductKey, nullStr(string(a.Scenario)),
		a.Score, string(a.ApprovalStatus), nullStr(a.ApprovalReason), timeArg(a.ApprovedAt), nullStr(a.ApprovedBy),
		string(compliance), string(flags), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert audit %s: %w", a.AuditID, err)
	}
	return nil
}

// GetAudit returns one audit entry or ErrNotFound.
func (s *AuditSQL) GetAudit(ctx context.Context, auditID string) (*schema.AuditLog, error) {
	audits, err := s.queryAudits(ctx, `WHERE audit_id = $1`, auditID)
	if err != nil {
		return nil, err
	}
	if len(audits) == 0 {
		return nil, ErrNotFound
	}
	return audits[0], nil
}

// UpdateAudit rewrites the mutable lifecycle fields of an audit entry.
// Last write wins per audit_id.
func (s *AuditSQL) UpdateAudit(ctx context.Context, a *schema.AuditLog) error {
	flags, err := json.Marshal(a.Flags)
	if err != nil {
		return fmt.Errorf("store: marshal flags: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_log SET approval_status = $1, approval_reason = $2,
			approved_at = $3, approved_by = $4, flags_json = $5
		WHERE audit_id = $6
	`, string(a.ApprovalStatus), nullStr(a.ApprovalReason), timeArg(a.ApprovedAt), nullStr(a.ApprovedBy),
		string(flags), a.AuditID)
	if err != nil {
		return fmt.Errorf("store: update audit %s: %w", a.AuditID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AuditsByStatus lists audits in one lifecycle state, oldest first.
func (s *AuditSQL) AuditsByStatus(ctx context.Context, status schema.ApprovalStatus) ([]*schema.AuditLog, error) {
	return s.queryAudits(ctx, `WHERE approval_status = $1 ORDER BY created_at, id`, string(status))
}

// AuditHistory lists every audit entry ever recorded for a customer,
// newest first.
func (s *AuditSQL) AuditHistory(ctx context.Context, customerCode string) ([]*schema.AuditLog, error) {
	return s.queryAudits(ctx, `WHERE customer_code = $1 ORDER BY created_at DESC, id DESC`, customerCode)
}

// AuditsForRun lists a run's audit entries in insertion order.
func (s *AuditSQL) AuditsForRun(ctx context.Context, runID string) ([]*schema.AuditLog, error) {
	return s.queryAudits(ctx, `WHERE run_id = $1 ORDER BY id`, runID)
}

func (s *AuditSQL) queryAudits(ctx context.Context, clause string, args ...any) ([]*schema.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, run_id, customer_code, product_key, scenario, recommendation_score,
			approval_status, approval_reason, approved_at, approved_by, compliance_json, flags_json, created_at
		FROM audit_log `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query audit_log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*schema.AuditLog
	for rows.Next() {
		var a schema.AuditLog
		var scenario, reason, by, compliance, flags sql.NullString
		var status string
		var approvedAt sql.NullTime
		if err := rows.Scan(&a.AuditID, &a.RunID, &a.CustomerCode, &a.ProductKey, &scenario, &a.Score,
			&status, &reason, &approvedAt, &by, &compliance, &flags, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Scenario = schema.Scenario(strOf(scenario))
		a.ApprovalStatus = schema.ApprovalStatus(status)
		a.ApprovalReason = strOf(reason)
		a.ApprovedAt = nullTime(approvedAt)
		a.ApprovedBy = strOf(by)
		if compliance.Valid && compliance.String != "" {
			_ = json.Unmarshal([]byte(compliance.String), &a.ComplianceChecks)
		}
		if flags.Valid && flags.String != "" {
			_ = json.Unmarshal([]byte(flags.String), &a.Flags)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// UpsertQualityMetrics records the quality summary of a run. Re-computing
// a run replaces its row.
func (s *AuditSQL) UpsertQualityMetrics(ctx context.Context, m *schema.QualityMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quality_metrics (run_id, total_recommendations, coverage_score, diversity_score,
			accuracy_score, avg_score, median_score, diversity_ratio, quality_level, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (run_id) DO UPDATE SET
			total_recommendations = excluded.total_recommendations,
			coverage_score = excluded.coverage_score,
			diversity_score = excluded.diversity_score,
			accuracy_score = excluded.accuracy_score,
			avg_score = excluded.avg_score,
			median_score = excluded.median_score,
			diversity_ratio = excluded.diversity_ratio,
			quality_level = excluded.quality_level,
			computed_at = excluded.computed_at
	`, m.RunID, m.TotalRecommendations, m.CoverageScore, m.DiversityScore,
		m.AccuracyScore, m.AvgScore, m.MedianScore, m.DiversityRatio, string(m.QualityLevel), m.Timestamp)
	if err != nil {
		return fmt.Errorf("store: upsert quality metrics %s: %w", m.RunID, err)
	}
	return nil
}

// QualityMetricsFor returns a run's quality summary or ErrNotFound.
func (s *AuditSQL) QualityMetricsFor(ctx context.Context, runID string) (*schema.QualityMetrics, error) {
	var m schema.QualityMetrics
	var level string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, total_recommendations, coverage_score, diversity_score, accuracy_score,
			avg_score, median_score, diversity_ratio, quality_level, computed_at
		FROM quality_metrics WHERE run_id = $1
	`, runID).Scan(&m.RunID, &m.TotalRecommendations, &m.CoverageScore, &m.DiversityScore, &m.AccuracyScore,
		&m.AvgScore, &m.MedianScore, &m.DiversityRatio, &level, &m.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: query quality metrics: %w", err)
	}
	m.QualityLevel = schema.QualityLevel(level)
	return &m, nil
}

// QualityMetricsSince lists quality summaries computed in the last N
// days, newest first.
func (s *AuditSQL) QualityMetricsSince(ctx context.Context, days int) ([]*schema.QualityMetrics, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, total_recommendations, coverage_score, diversity_score, accuracy_score,
			avg_score, median_score, diversity_ratio, quality_level, computed_at
		FROM quality_metrics WHERE computed_at >= $1 ORDER BY computed_at DESC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: query quality metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*schema.QualityMetrics
	for rows.Next() {
		var m schema.QualityMetrics
		var level string
		if err := rows.Scan(&m.RunID, &m.TotalRecommendations, &m.CoverageScore, &m.DiversityScore,
			&m.AccuracyScore, &m.AvgScore, &m.MedianScore, &m.DiversityRatio, &level, &m.Timestamp); err != nil {
			return nil, err
		}
		m.QualityLevel = schema.QualityLevel(level)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// InsertWorkflow opens a manual approval workflow.
func (s *AuditSQL) InsertWorkflow(ctx context.Context, w *schema.ApprovalWorkflow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_workflow (workflow_id, run_id, audit_id, status, requested_by,
			approved_by, rejection_reason, created_at, completed_at, approval_deadline, priority, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, w.WorkflowID, w.RunID, w.AuditID, string(w.Status), w.RequestedBy,
		nullStr(w.ApprovedBy), nullStr(w.RejectionReason), w.CreatedAt,
		timeArg(w.CompletedAt), timeArg(w.ApprovalDeadline), string(w.Priority), nullStr(w.Notes))
	if err != nil {
		return fmt.Errorf("store: insert workflow %s: %w", w.WorkflowID, err)
	}
	return nil
}

// CompleteWorkflow closes a workflow with its final decision.
func (s *AuditSQL) CompleteWorkflow(ctx context.Context, w *schema.ApprovalWorkflow) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_workflow SET status = $1, approved_by = $2, rejection_reason = $3,
			completed_at = $4, notes = $5
		WHERE workflow_id = $6
	`, string(w.Status), nullStr(w.ApprovedBy), nullStr(w.RejectionReason),
		timeArg(w.CompletedAt), nullStr(w.Notes), w.WorkflowID)
	if err != nil {
		return fmt.Errorf("store: complete workflow %s: %w", w.WorkflowID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingWorkflows lists open workflows, highest priority and oldest
// first.
func (s *AuditSQL) PendingWorkflows(ctx context.Context) ([]*schema.ApprovalWorkflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id, run_id, audit_id, status, requested_by, approved_by, rejection_reason,
			created_at, completed_at, approval_deadline, priority, notes
		FROM approval_workflow WHERE status = $1
		ORDER BY CASE priority WHEN 'HIGH' THEN 0 WHEN 'NORMAL' THEN 1 ELSE 2 END, created_at
	`, string(schema.ApprovalPending))
	if err != nil {
		return nil, fmt.Errorf("store: query workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*schema.ApprovalWorkflow
	for rows.Next() {
		var w schema.ApprovalWorkflow
		var status, priority string
		var by, reason, notes sql.NullString
		var completed, deadline sql.NullTime
		if err := rows.Scan(&w.WorkflowID, &w.RunID, &w.AuditID, &status, &w.RequestedBy, &by, &reason,
			&w.CreatedAt, &completed, &deadline, &priority, &notes); err != nil {
			return nil, err
		}
		w.Status = schema.ApprovalStatus(status)
		w.Priority = schema.WorkflowPriority(priority)
		w.ApprovedBy = strOf(by)
		w.RejectionReason = strOf(reason)
		w.Notes = strOf(notes)
		w.CompletedAt = nullTime(completed)
		w.ApprovalDeadline = nullTime(deadline)
		out = append(out, &w)
	}
	return out, rows.Err()
}
