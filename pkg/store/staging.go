package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Raw staging tables, one per source kind. Rows are owned by the
// ingestion batch that wrote them: once the transform pipeline produces
// the corresponding clean row the raw row may be archived, never mutated.
const (
	RawCustomers   = "raw_customers"
	RawSalesLines  = "raw_sales_lines"
	RawContacts    = "raw_contacts"
	RawProducts    = "raw_products"
	RawStockLevels = "raw_stock_levels"
)

var rawTables = map[string]bool{
	RawCustomers:   true,
	RawSalesLines:  true,
	RawContacts:    true,
	RawProducts:    true,
	RawStockLevels: true,
}

// IngestionErrorRow is a persisted row-level ingestion problem.
type IngestionErrorRow struct {
	BatchID      string            `json:"batch_id"`
	FileType     string            `json:"file_type"`
	RowNumber    int               `json:"row_number"`
	ErrorCode    string            `json:"error_code"`
	ErrorMessage string            `json:"error_message"`
	RawRow       map[string]string `json:"raw_row,omitempty"`
}

// BatchMeta summarizes one (batch, file type) ingestion.
type BatchMeta struct {
	BatchID    string    `json:"batch_id"`
	FileType   string    `json:"file_type"`
	TotalRows  int       `json:"total_rows"`
	ValidRows  int       `json:"valid_rows"`
	ErrorCount int       `json:"error_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// StagingSQL persists raw staging rows, ingestion errors and batch
// metadata.
type StagingSQL struct {
	db     *sql.DB
	driver string
}

func NewStagingSQL(db *sql.DB, driver string) *StagingSQL {
	return &StagingSQL{db: db, driver: driver}
}

// Migrate creates the staging tables.
func (s *StagingSQL) Migrate(ctx context.Context) error {
	for table := range rawTables {
		schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id %s,
	batch_id TEXT NOT NULL,
	row_hash TEXT NOT NULL,
	row_data TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE(batch_id, row_hash)
);`, table, serialPK(s.driver))
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("store: migrate %s: %w", table, err)
		}
	}

	errSchema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS ingestion_errors (
	id %s,
	batch_id TEXT NOT NULL,
	file_type TEXT,
	row_number INTEGER NOT NULL,
	error_code TEXT NOT NULL,
	error_message TEXT NOT NULL,
	raw_row TEXT,
	created_at TIMESTAMP NOT NULL
);`, serialPK(s.driver))
	if _, err := s.db.ExecContext(ctx, errSchema); err != nil {
		return fmt.Errorf("store: migrate ingestion_errors: %w", err)
	}

	batchSchema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS ingestion_batches (
	id %s,
	batch_id TEXT NOT NULL,
	file_type TEXT NOT NULL,
	total_rows INTEGER NOT NULL,
	valid_rows INTEGER NOT NULL,
	error_count INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE(batch_id, file_type)
);`, serialPK(s.driver))
	if _, err := s.db.ExecContext(ctx, batchSchema); err != nil {
		return fmt.Errorf("store: migrate ingestion_batches: %w", err)
	}
	return nil
}

// InsertRawRows upserts pre-hashed rows into a staging table. The
// (batch_id, row_hash) uniqueness makes re-runs idempotent; conflicting
// rows are silently skipped and the returned count reflects only the
// rows actually written.
func (s *StagingSQL) InsertRawRows(ctx context.Context, table, batchID string, hashes []string, rows []map[string]string) (int, error) {
	if !rawTables[table] {
		return 0, fmt.Errorf("store: unknown staging table %q", table)
	}
	if len(hashes) != len(rows) {
		return 0, fmt.Errorf("store: %d hashes for %d rows", len(hashes), len(rows))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin staging insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		INSERT INTO %s (batch_id, row_hash, row_data, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (batch_id, row_hash) DO NOTHING
	`, table)

	now := time.Now().UTC()
	inserted := 0
	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return inserted, fmt.Errorf("store: marshal raw row: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, batchID, hashes[i], string(data), now)
		if err != nil {
			return inserted, fmt.Errorf("store: insert into %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit staging insert: %w", err)
	}
	return inserted, nil
}

// RawRows returns the staged rows of one batch in insertion order.
func (s *StagingSQL) RawRows(ctx context.Context, table, batchID string) ([]map[string]string, error) {
	if !rawTables[table] {
		return nil, fmt.Errorf("store: unknown staging table %q", table)
	}

	query := fmt.Sprintf(`SELECT row_data FROM %s WHERE batch_id = $1 ORDER BY id`, table)
	rows, err := s.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []map[string]string
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		row := map[string]string{}
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, fmt.Errorf("store: decode raw row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// InsertErrors appends row-level errors for a batch.
func (s *StagingSQL) InsertErrors(ctx context.Context, errs []IngestionErrorRow) (int, error) {
	if len(errs) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO ingestion_errors
		(batch_id, file_type, row_number, error_code, error_message, raw_row, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	now := time.Now().UTC()
	inserted := 0
	for _, e := range errs {
		raw, err := json.Marshal(e.RawRow)
		if err != nil {
			return inserted, fmt.Errorf("store: marshal error row: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query,
			e.BatchID, e.FileType, e.RowNumber, e.ErrorCode, e.ErrorMessage, string(raw), now,
		); err != nil {
			return inserted, fmt.Errorf("store: insert ingestion error: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

// ErrorsForBatch lists the persisted errors of a batch.
func (s *StagingSQL) ErrorsForBatch(ctx context.Context, batchID string) ([]IngestionErrorRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, file_type, row_number, error_code, error_message, raw_row
		FROM ingestion_errors WHERE batch_id = $1 ORDER BY id
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("store: query ingestion_errors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []IngestionErrorRow
	for rows.Next() {
		var e IngestionErrorRow
		var fileType, raw sql.NullString
		if err := rows.Scan(&e.BatchID, &fileType, &e.RowNumber, &e.ErrorCode, &e.ErrorMessage, &raw); err != nil {
			return nil, err
		}
		e.FileType = strOf(fileType)
		if raw.Valid && raw.String != "" {
			_ = json.Unmarshal([]byte(raw.String), &e.RawRow)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertBatchMeta records or refreshes the (batch, file type) summary.
func (s *StagingSQL) UpsertBatchMeta(ctx context.Context, meta BatchMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_batches (batch_id, file_type, total_rows, valid_rows, error_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (batch_id, file_type) DO UPDATE SET
			total_rows = excluded.total_rows,
			valid_rows = excluded.valid_rows,
			error_count = excluded.error_count
	`, meta.BatchID, meta.FileType, meta.TotalRows, meta.ValidRows, meta.ErrorCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: upsert batch meta: %w", err)
	}
	return nil
}

// BatchMetaFor returns the summary for one (batch, file type).
func (s *StagingSQL) BatchMetaFor(ctx context.Context, batchID, fileType string) (BatchMeta, error) {
	var m BatchMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT batch_id, file_type, total_rows, valid_rows, error_count, created_at
		FROM ingestion_batches WHERE batch_id = $1 AND file_type = $2
	`, batchID, fileType).Scan(&m.BatchID, &m.FileType, &m.TotalRows, &m.ValidRows, &m.ErrorCount, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BatchMeta{}, ErrNotFound
		}
		return BatchMeta{}, fmt.Errorf("store: query batch meta: %w", err)
	}
	return m, nil
}
