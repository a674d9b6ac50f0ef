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

// RecoSQL persists recommendation runs, their ranked items and the
// advisory findings emitted alongside. A run and its items commit in one
// transaction so a crashed generation never leaves a half-written run.
type RecoSQL struct {
	db     *sql.DB
	driver string
}

func NewRecoSQL(db *sql.DB, driver string) *RecoSQL {
	return &RecoSQL{db: db, driver: driver}
}

func (s *RecoSQL) Migrate(ctx context.Context) error {
	stmts := []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS reco_run (
	id %s,
	run_id TEXT NOT NULL UNIQUE,
	config_hash TEXT NOT NULL,
	code_version TEXT,
	dataset_version TEXT,
	run_timestamp TIMESTAMP NOT NULL,
	total_customers INTEGER NOT NULL DEFAULT 0,
	eligible_customers INTEGER NOT NULL DEFAULT 0,
	exported_customers INTEGER NOT NULL DEFAULT 0,
	duration_seconds REAL NOT NULL DEFAULT 0,
	summary_json TEXT,
	created_at TIMESTAMP NOT NULL
);`, serialPK(s.driver)), fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS reco_item (
	id %s,
	run_id TEXT NOT NULL,
	customer_code TEXT NOT NULL,
	scenario TEXT NOT NULL,
	rank INTEGER NOT NULL,
	product_key TEXT NOT NULL,
	base_score REAL NOT NULL,
	affinity_score REAL NOT NULL,
	popularity_score REAL NOT NULL,
	profit_score REAL NOT NULL,
	final_score REAL NOT NULL,
	explain_short TEXT,
	explanation_json TEXT,
	created_at TIMESTAMP NOT NULL,
	UNIQUE(run_id, customer_code, rank)
);`, serialPK(s.driver)), fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS audit_finding (
	id %s,
	run_id TEXT NOT NULL,
	customer_code TEXT,
	severity TEXT NOT NULL,
	rule_code TEXT NOT NULL,
	details_json TEXT,
	created_at TIMESTAMP NOT NULL
);`, serialPK(s.driver))}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate reco: %w", err)
		}
	}
	return nil
}

// SaveRun writes a run header and all its items atomically.
func (s *RecoSQL) SaveRun(ctx context.Context, run *schema.RecoRun, items []schema.RecoItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin run save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("store: marshal run summary: %w", err)
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reco_run (run_id, config_hash, code_version, dataset_version, run_timestamp,
			total_customers, eligible_customers, exported_customers, duration_seconds, summary_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		run.RunID, run.ConfigHash, nullStr(run.CodeVersion), nullStr(run.DatasetVersion), run.RunTimestamp,
		run.TotalCustomers, run.EligibleCount, run.ExportedCount, run.DurationSecs, string(summary), now,
	); err != nil {
		return fmt.Errorf("store: insert run %s: %w", run.RunID, err)
	}

	itemQuery := `
		INSERT INTO reco_item (run_id, customer_code, scenario, rank, product_key,
			base_score, affinity_score, popularity_score, profit_score, final_score,
			explain_short, explanation_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`
	for _, it := range items {
		expl, err := json.Marshal(it.Explanation)
		if err != nil {
			return fmt.Errorf("store: marshal explanation: %w", err)
		}
		if _, err := tx.ExecContext(ctx, itemQuery,
			run.RunID, it.CustomerCode, string(it.Scenario), it.Rank, it.ProductKey,
			it.Score.BaseScore, it.Score.AffinityScore, it.Score.PopularityScore,
			it.Score.ProfitScore, it.Score.FinalScore,
			nullStr(it.ExplainShort), string(expl), now,
		); err != nil {
			return fmt.Errorf("store: insert item for %s: %w", it.CustomerCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit run %s: %w", run.RunID, err)
	}
	return nil
}

// GetRun returns one run header or ErrNotFound.
func (s *RecoSQL) GetRun(ctx context.Context, runID string) (*schema.RecoRun, error) {
	return s.queryRun(ctx, `WHERE run_id = $1`, runID)
}

// LatestRun returns the most recently recorded run, ErrNotFound when no
// run exists yet.
func (s *RecoSQL) LatestRun(ctx context.Context) (*schema.RecoRun, error) {
	return s.queryRun(ctx, `ORDER BY run_timestamp DESC, id DESC LIMIT 1`)
}

func (s *RecoSQL) queryRun(ctx context.Context, clause string, args ...any) (*schema.RecoRun, error) {
	var r schema.RecoRun
	var codeVer, dataVer, summary sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, config_hash, code_version, dataset_version, run_timestamp,
			total_customers, eligible_customers, exported_customers, duration_seconds, summary_json, created_at
		FROM reco_run `+clause, args...,
	).Scan(&r.RunID, &r.ConfigHash, &codeVer, &dataVer, &r.RunTimestamp,
		&r.TotalCustomers, &r.EligibleCount, &r.ExportedCount, &r.DurationSecs, &summary, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: query run: %w", err)
	}
	r.CodeVersion, r.DatasetVersion = strOf(codeVer), strOf(dataVer)
	if summary.Valid && summary.String != "" {
		_ = json.Unmarshal([]byte(summary.String), &r.Summary)
	}
	return &r, nil
}

// ItemsForRun lists every item of a run in (customer, rank) order.
func (s *RecoSQL) ItemsForRun(ctx context.Context, runID string) ([]schema.RecoItem, error) {
	return s.queryItems(ctx, `WHERE run_id = $1 ORDER BY customer_code, rank`, runID)
}

// ItemsForCustomer lists a customer's items inside one run, rank order.
func (s *RecoSQL) ItemsForCustomer(ctx context.Context, runID, code string) ([]schema.RecoItem, error) {
	return s.queryItems(ctx, `WHERE run_id = $1 AND customer_code = $2 ORDER BY rank`, runID, code)
}

func (s *RecoSQL) queryItems(ctx context.Context, clause string, args ...any) ([]schema.RecoItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, customer_code, scenario, rank, product_key,
			base_score, affinity_score, popularity_score, profit_score, final_score,
			explain_short, explanation_json, created_at
		FROM reco_item `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []schema.RecoItem
	for rows.Next() {
		var it schema.RecoItem
		var scenario string
		var short, expl sql.NullString
		if err := rows.Scan(&it.ID, &it.RunID, &it.CustomerCode, &scenario, &it.Rank, &it.ProductKey,
			&it.Score.BaseScore, &it.Score.AffinityScore, &it.Score.PopularityScore,
			&it.Score.ProfitScore, &it.Score.FinalScore,
			&short, &expl, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Scenario = schema.Scenario(scenario)
		it.Score.Scenario = it.Scenario
		it.Score.ProductKey = it.ProductKey
		it.ExplainShort = strOf(short)
		if expl.Valid && expl.String != "" {
			_ = json.Unmarshal([]byte(expl.String), &it.Explanation)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// InsertFindings appends advisory findings for a run.
func (s *RecoSQL) InsertFindings(ctx context.Context, findings []schema.AuditFinding) error {
	query := `
		INSERT INTO audit_finding (run_id, customer_code, severity, rule_code, details_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	now := time.Now().UTC()
	for _, f := range findings {
		details, err := json.Marshal(f.Details)
		if err != nil {
			return fmt.Errorf("store: marshal finding details: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query,
			f.RunID, nullStr(f.CustomerCode), f.Severity, f.RuleCode, string(details), now,
		); err != nil {
			return fmt.Errorf("store: insert finding: %w", err)
		}
	}
	return nil
}

// FindingsForRun lists a run's findings in insertion order.
func (s *RecoSQL) FindingsForRun(ctx context.Context, runID string) ([]schema.AuditFinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, customer_code, severity, rule_code, details_json, created_at
		FROM audit_finding WHERE run_id = $1 ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: query findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []schema.AuditFinding
	for rows.Next() {
		var f schema.AuditFinding
		var code, details sql.NullString
		if err := rows.Scan(&f.ID, &f.RunID, &code, &f.Severity, &f.RuleCode, &details, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.CustomerCode = strOf(code)
		if details.Valid && details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &f.Details)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
