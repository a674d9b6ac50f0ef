package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// OutcomeSQL persists outcome events and feedback records, and serves
// the windowed reads the metrics aggregator needs.
type OutcomeSQL struct {
	db     *sql.DB
	driver string
}

func NewOutcomeSQL(db *sql.DB, driver string) *OutcomeSQL {
	return &OutcomeSQL{db: db, driver: driver}
}

func (s *OutcomeSQL) Migrate(ctx context.Context) error {
	stmts := []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS outcome_event (
	id %s,
	audit_id TEXT NOT NULL,
	customer_code TEXT NOT NULL,
	product_key TEXT NOT NULL,
	recommendation_score REAL NOT NULL,
	status TEXT NOT NULL,
	reason TEXT,
	purchased BOOLEAN NOT NULL DEFAULT FALSE,
	amount REAL NOT NULL DEFAULT 0,
	variant TEXT,
	recorded_at TIMESTAMP NOT NULL
);`, serialPK(s.driver)), fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS feedback_record (
	id %s,
	customer_code TEXT NOT NULL,
	product_key TEXT NOT NULL,
	feedback_type TEXT NOT NULL,
	score INTEGER NOT NULL,
	sentiment TEXT NOT NULL,
	comment TEXT,
	recorded_at TIMESTAMP NOT NULL
);`, serialPK(s.driver))}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate outcomes: %w", err)
		}
	}
	return nil
}

// InsertOutcome appends one outcome event.
func (s *OutcomeSQL) InsertOutcome(ctx context.Context, e *schema.OutcomeEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcome_event (audit_id, customer_code, product_key, recommendation_score,
			status, reason, purchased, amount, variant, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.AuditID, e.CustomerCode, e.ProductKey, e.Score,
		string(e.Status), nullStr(e.Reason), e.Purchased, e.Amount, nullStr(e.Variant), e.RecordedAt)
	if err != nil {
		return fmt.Errorf("store: insert outcome %s: %w", e.AuditID, err)
	}
	return nil
}

// InsertFeedback appends one feedback record.
func (s *OutcomeSQL) InsertFeedback(ctx context.Context, f *schema.FeedbackRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_record (customer_code, product_key, feedback_type, score, sentiment, comment, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, f.CustomerCode, f.ProductKey, f.FeedbackType, f.Score, string(f.Sentiment), nullStr(f.Comment), f.RecordedAt)
	if err != nil {
		return fmt.Errorf("store: insert feedback: %w", err)
	}
	return nil
}

// OutcomesSince lists outcome events recorded in the last N days, oldest
// first.
func (s *OutcomeSQL) OutcomesSince(ctx context.Context, days int) ([]*schema.OutcomeEvent, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return s.queryOutcomes(ctx, `WHERE recorded_at >= $1 ORDER BY recorded_at, id`, cutoff)
}

// OutcomesForVariant lists one A/B arm's outcomes.
func (s *OutcomeSQL) OutcomesForVariant(ctx context.Context, variant string) ([]*schema.OutcomeEvent, error) {
	return s.queryOutcomes(ctx, `WHERE variant = $1 ORDER BY recorded_at, id`, variant)
}

func (s *OutcomeSQL) queryOutcomes(ctx context.Context, clause string, args ...any) ([]*schema.OutcomeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, audit_id, customer_code, product_key, recommendation_score,
			status, reason, purchased, amount, variant, recorded_at
		FROM outcome_event `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*schema.OutcomeEvent
	for rows.Next() {
		var e schema.OutcomeEvent
		var status string
		var reason, variant sql.NullString
		if err := rows.Scan(&e.ID, &e.AuditID, &e.CustomerCode, &e.ProductKey, &e.Score,
			&status, &reason, &e.Purchased, &e.Amount, &variant, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Status = schema.OutcomeStatus(status)
		e.Reason = strOf(reason)
		e.Variant = strOf(variant)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// FeedbackSince lists feedback recorded in the last N days, oldest first.
func (s *OutcomeSQL) FeedbackSince(ctx context.Context, days int) ([]*schema.FeedbackRecord, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_code, product_key, feedback_type, score, sentiment, comment, recorded_at
		FROM feedback_record WHERE recorded_at >= $1 ORDER BY recorded_at, id
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: query feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*schema.FeedbackRecord
	for rows.Next() {
		var f schema.FeedbackRecord
		var sentiment string
		var comment sql.NullString
		if err := rows.Scan(&f.ID, &f.CustomerCode, &f.ProductKey, &f.FeedbackType, &f.Score,
			&sentiment, &comment, &f.RecordedAt); err != nil {
			return nil, err
		}
		f.Sentiment = schema.Sentiment(sentiment)
		f.Comment = strOf(comment)
		out = append(out, &f)
	}
	return out, rows.Err()
}
