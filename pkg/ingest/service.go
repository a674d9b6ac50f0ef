// Package ingest implements the CSV ingestion pipeline: read, normalize,
// validate, and load rows into raw staging with content-hash idempotence.
// A bad row never stops a batch; only unreadable files do, and even then
// the caller gets a report instead of a panic.
package ingest

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cavistelabs/sommelier/pkg/store"
)

// CodeFileError marks a whole-file failure (missing file, bad encoding).
const CodeFileError = "FILE_ERROR"

// Staging is the slice of the store the ingestion service writes to.
type Staging interface {
	InsertRawRows(ctx context.Context, table, batchID string, hashes []string, rows []map[string]string) (int, error)
	InsertErrors(ctx context.Context, errs []store.IngestionErrorRow) (int, error)
	UpsertBatchMeta(ctx context.Context, meta store.BatchMeta) error
}

// Tracker is the observability hook wrapped around each batch.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// IngestionReport summarizes one (batch, file) ingestion.
type IngestionReport struct {
	BatchID   string     `json:"batch_id"`
	FileType  FileType   `json:"file_type"`
	TotalRows int        `json:"total_rows"`
	ValidRows int        `json:"valid_rows"`
	ErrorRows int        `json:"error_rows"`
	Errors    []RowError `json:"errors,omitempty"`
}

// SuccessRate is valid/total, 1.0 for an empty batch.
func (r *IngestionReport) SuccessRate() float64 {
	if r.TotalRows == 0 {
		return 1.0
	}
	return float64(r.ValidRows) / float64(r.TotalRows)
}

// Service runs the per-file ingestion pipeline.
type Service struct {
	staging Staging
	tracker Tracker
	log     *slog.Logger
}

func NewService(staging Staging, tracker Tracker) *Service {
	return &Service{
		staging: staging,
		tracker: tracker,
		log:     slog.Default().With("component", "ingest"),
	}
}

// Ingest runs read → normalize/validate → load for one file and returns
// the report. refs enables cross-batch dependency checks; pass nil to
// skip them. The returned error covers store failures only: file-level
// problems produce a zero-row report with a FILE_ERROR entry.
func (s *Service) Ingest(ctx context.Context, ft FileType, path string, refs *RefSets) (report *IngestionReport, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "ingest."+string(ft),
		attribute.String("file.path", path))
	defer func() { done(err) }()

	batchID := uuid.NewString()
	report = &IngestionReport{BatchID: batchID, FileType: ft}
	log := s.log.With("batch_id", batchID, "file_type", string(ft))

	rows, readErr := ReadCSV(path)
	if readErr != nil {
		log.ErrorContext(ctx, "file unreadable", "error", readErr)
		report.Errors = append(report.Errors, RowError{
			RowNumber: 0, Code: CodeFileError, Message: readErr.Error(),
		})
		err = s.persistReport(ctx, report)
		return report, err
	}
	report.TotalRows = len(rows)

	valid, rowErrs := ValidateRows(ft, rows, refs)
	report.ValidRows = len(valid)
	report.ErrorRows = len(rowErrs)
	report.Errors = rowErrs

	if len(valid) > 0 {
		hashes := make([]string, len(valid))
		for i, row := range valid {
			h, hashErr := RowHash(row)
			if hashErr != nil {
				err = hashErr
				return report, err
			}
			hashes[i] = h
		}
		inserted, insErr := s.staging.InsertRawRows(ctx, ft.StagingTable(), batchID, hashes, valid)
		if insErr != nil {
			err = insErr
			return report, err
		}
		if skipped := len(valid) - inserted; skipped > 0 {
			log.InfoContext(ctx, "duplicate rows skipped", "skipped", skipped)
		}
	}

	if err = s.persistReport(ctx, report); err != nil {
		return report, err
	}

	log.InfoContext(ctx, "batch ingested",
		"total", report.TotalRows, "valid", report.ValidRows, "errors", report.ErrorRows)
	return report, nil
}

func (s *Service) persistReport(ctx context.Context, report *IngestionReport) error {
	if len(report.Errors) > 0 {
		rows := make([]store.IngestionErrorRow, len(report.Errors))
		for i, e := range report.Errors {
			rows[i] = store.IngestionErrorRow{
				BatchID:      report.BatchID,
				FileType:     string(report.FileType),
				RowNumber:    e.RowNumber,
				ErrorCode:    e.Code,
				ErrorMessage: e.Message,
				RawRow:       e.Row,
			}
		}
		if _, err := s.staging.InsertErrors(ctx, rows); err != nil {
			return err
		}
	}
	return s.staging.UpsertBatchMeta(ctx, store.BatchMeta{
		BatchID:    report.BatchID,
		FileType:   string(report.FileType),
		TotalRows:  report.TotalRows,
		ValidRows:  report.ValidRows,
		ErrorCount: report.ErrorRows,
	})
}
