package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

func TestInsertRawRowsSkipsConflicts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO raw_customers").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO raw_customers").
		WillReturnResult(sqlmock.NewResult(0, 0)) // duplicate (batch_id, row_hash)
	mock.ExpectCommit()

	s := NewStagingSQL(db, DriverSQLite)
	n, err := s.InsertRawRows(context.Background(), RawCustomers, "batch-1",
		[]string{"h1", "h1"},
		[]map[string]string{{"code": "C001"}, {"code": "C001"}},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRawRowsRejectsUnknownTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewStagingSQL(db, DriverSQLite)
	_, err = s.InsertRawRows(context.Background(), "raw_bogus", "b", nil, nil)
	assert.Error(t, err)
}

func TestInsertRawRowsHashCountMismatch(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewStagingSQL(db, DriverSQLite)
	_, err = s.InsertRawRows(context.Background(), RawCustomers, "b",
		[]string{"h1"}, []map[string]string{{"a": "1"}, {"b": "2"}})
	assert.Error(t, err)
}

func TestBatchMetaForNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM ingestion_batches").
		WillReturnRows(sqlmock.NewRows([]string{"batch_id", "file_type", "total_rows", "valid_rows", "error_count", "created_at"}))

	s := NewStagingSQL(db, DriverSQLite)
	_, err = s.BatchMetaFor(context.Background(), "nope", "customers")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrderAggregatesForEmptyCustomer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM order_line").
		WithArgs("C404").
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum", "avg", "min", "max"}).
			AddRow(0, nil, nil, nil, nil))

	s := NewCustomerSQL(db, DriverSQLite)
	agg, err := s.OrderAggregatesFor(context.Background(), "C404")
	require.NoError(t, err)
	assert.Equal(t, 0, agg.PurchaseCount)
	assert.Zero(t, agg.TotalSpent)
	assert.Nil(t, agg.LastPurchase)
}

func TestOrderAggregatesFor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	first := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM order_line").
		WithArgs("C001").
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum", "avg", "min", "max"}).
			AddRow(4, 640.0, 160.0, first, last))

	s := NewCustomerSQL(db, DriverSQLite)
	agg, err := s.OrderAggregatesFor(context.Background(), "C001")
	require.NoError(t, err)
	assert.Equal(t, 4, agg.PurchaseCount)
	assert.InDelta(t, 640.0, agg.TotalSpent, 1e-9)
	require.NotNil(t, agg.FirstPurchase)
	assert.Equal(t, first, *agg.FirstPurchase)
}

func TestInsertOrderLinesDeduplicates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO order_line").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_line").
		WillReturnResult(sqlmock.NewResult(0, 0)) // same natural key
	mock.ExpectCommit()

	line := &schema.OrderLine{
		CustomerCode: "C001", ProductKey: "P01",
		OrderDate: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		DocRef:    "FA-1001", Qty: 6, AmountHT: 90,
	}
	s := NewCustomerSQL(db, DriverSQLite)
	n, err := s.InsertOrderLines(context.Background(), []*schema.OrderLine{line, line})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetContactFlagsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("UPDATE customer").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewCustomerSQL(db, DriverSQLite)
	err = s.SetContactFlags(context.Background(), "C404", true, false, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRunAtomic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reco_run").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO reco_item").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO reco_item").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	run := &schema.RecoRun{
		RunID:        "run-1",
		ConfigHash:   "abc",
		RunTimestamp: time.Now().UTC(),
	}
	items := []schema.RecoItem{
		{RunID: "run-1", CustomerCode: "C001", Scenario: schema.ScenarioRebuy, Rank: 1, ProductKey: "P01"},
		{RunID: "run-1", CustomerCode: "C001", Scenario: schema.ScenarioCrossSell, Rank: 2, ProductKey: "P02"},
	}
	s := NewRecoSQL(db, DriverSQLite)
	require.NoError(t, s.SaveRun(context.Background(), run, items))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRollsBackOnItemError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reco_run").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO reco_item").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	run := &schema.RecoRun{RunID: "run-2", ConfigHash: "def", RunTimestamp: time.Now().UTC()}
	items := []schema.RecoItem{{RunID: "run-2", CustomerCode: "C001", Rank: 1, ProductKey: "P01"}}
	s := NewRecoSQL(db, DriverSQLite)
	err = s.SaveRun(context.Background(), run, items)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAuditNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("UPDATE audit_log").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewAuditSQL(db, DriverSQLite)
	err = s.UpdateAudit(context.Background(), &schema.AuditLog{
		AuditID:        "missing",
		ApprovalStatus: schema.ApprovalApproved,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSerialPKDialects(t *testing.T) {
	assert.Equal(t, "BIGSERIAL PRIMARY KEY", serialPK(DriverPostgres))
	assert.Equal(t, "INTEGER PRIMARY KEY AUTOINCREMENT", serialPK(DriverSQLite))
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullStr(""))
	assert.Equal(t, "x", nullStr("x"))
	assert.Nil(t, timeArg(nil))
	now := time.Now()
	assert.Equal(t, now, timeArg(&now))
}
