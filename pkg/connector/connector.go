// Package connector pulls raw records out of external source systems
// (file export directories, ERP APIs) and lands them in the raw staging
// tables. Every connector runs the same extract, transform, load cycle
// and reports a SyncResult; partial failures surface as errors inside
// the result, never as a Go error from Sync.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"

	"github.com/cavistelabs/sommelier/pkg/ingest"
)

// Kind identifies a connector implementation.
type Kind string

const (
	KindFileExport Kind = "file_export"
	KindERP        Kind = "erp"
)

// SourceKind names the record streams a source may expose.
type SourceKind string

const (
	SourceCustomers      SourceKind = "customers"
	SourceProducts       SourceKind = "products"
	SourceSalesLines     SourceKind = "sales_lines"
	SourceStockLevels    SourceKind = "stock_levels"
	SourceContactHistory SourceKind = "contact_history"
)

// Status is the connector state machine: CONFIGURING until the first
// successful connection test, then HEALTHY, flipping to SYNCING for the
// duration of a sync and to ERROR when one fails. Idle is HEALTHY with
// no active work.
type Status string

const (
	StatusConfiguring Status = "CONFIGURING"
	StatusHealthy     Status = "HEALTHY"
	StatusSyncing     Status = "SYNCING"
	StatusError       Status = "ERROR"
)

// RawRecord is one source row, keyed by normalized column name.
type RawRecord = map[string]string

// ExtractOptions narrows an extract to one source kind and/or the
// records modified after LastSync (for cursor-capable sources).
type ExtractOptions struct {
	Source   SourceKind
	LastSync *time.Time
}

// SyncResult reports one extract-transform-load cycle.
type SyncResult struct {
	Success   bool           `json:"success"`
	Kind      Kind           `json:"connector_kind"`
	Name      string         `json:"connector_name"`
	BatchID   string         `json:"batch_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Records   map[string]int `json:"records_processed"`
	Errors    []string       `json:"errors,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
	Cursor    *time.Time     `json:"cursor,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// StatusInfo is the observable state of one connector.
type StatusInfo struct {
	Name      string     `json:"name"`
	Kind      Kind       `json:"kind"`
	Status    Status     `json:"status"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Source is the capability set a concrete connector implements. Extract
// returns raw records per source kind; Transform maps them onto raw
// staging tables; the Base drives the cycle and owns load.
type Source interface {
	Kind() Kind
	TestConnection(ctx context.Context) error
	Extract(ctx context.Context, opts ExtractOptions) (map[SourceKind][]RawRecord, *time.Time, error)
	Transform(raw map[SourceKind][]RawRecord) (map[string][]RawRecord, []string, error)
}

// Loader persists canonical records into raw staging.
type Loader interface {
	InsertRawRows(ctx context.Context, table, batchID string, hashes []string, rows []map[string]string) (int, error)
}

// Connector wraps a Source with config validation, the status machine,
// rate limiting and the sync driver.
type Connector struct {
	name   string
	source Source
	loader Loader
	log    *slog.Logger

	limiter *rate.Limiter

	mu        sync.Mutex
	status    Status
	lastSync  *time.Time
	lastError string

	now func() time.Time
}

func New(name string, source Source, loader Loader, r rate.Limit, burst int) *Connector {
	return &Connector{
		name:    name,
		source:  source,
		loader:  loader,
		log:     slog.Default().With("component", "connector", "connector", name),
		limiter: rate.NewLimiter(r, burst),
		status:  StatusConfiguring,
		now:     time.Now,
	}
}

func (c *Connector) Name() string { return c.name }
func (c *Connector) Kind() Kind   { return c.source.Kind() }

// Wait blocks until the rate limiter admits one source call.
func (c *Connector) Wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// Status reports the connector's current state.
func (c *Connector) Status() StatusInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StatusInfo{
		Name:      c.name,
		Kind:      c.source.Kind(),
		Status:    c.status,
		LastSync:  c.lastSync,
		LastError: c.lastError,
	}
}

// TestConnection probes the source and moves CONFIGURING to HEALTHY on
// success.
func (c *Connector) TestConnection(ctx context.Context) error {
	if err := c.source.TestConnection(ctx); err != nil {
		c.setError(err.Error())
		return err
	}
	c.setStatus(StatusHealthy)
	return nil
}

// Sync runs extract, transform, load once. The returned result carries
// any failure; Sync itself never returns an error.
func (c *Connector) Sync(ctx context.Context, opts ExtractOptions) *SyncResult {
	start := c.now()
	c.setStatus(StatusSyncing)

	result := &SyncResult{
		Kind:    c.source.Kind(),
		Name:    c.name,
		Records: map[string]int{},
	}
	fail := func(err error) *SyncResult {
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		result.Timestamp = c.now().UTC()
		result.Duration = c.now().Sub(start)
		c.setError(err.Error())
		return result
	}

	if err := c.Wait(ctx); err != nil {
		return fail(fmt.Errorf("rate limit: %w", err))
	}
	raw, cursor, err := c.source.Extract(ctx, opts)
	if err != nil {
		return fail(fmt.Errorf("extract: %w", err))
	}
	canonical, warnings, err := c.source.Transform(raw)
	if err != nil {
		return fail(fmt.Errorf("transform: %w", err))
	}
	result.Warnings = append(result.Warnings, warnings...)

	result.BatchID = uuid.NewString()
	for table, rows := range canonical {
		n, err := c.load(ctx, table, result.BatchID, rows)
		if err != nil {
			return fail(fmt.Errorf("load %s: %w", table, err))
		}
		result.Records[table] = n
	}

	result.Success = true
	result.Cursor = cursor
	result.Timestamp = c.now().UTC()
	result.Duration = c.now().Sub(start)

	c.mu.Lock()
	c.status = StatusHealthy
	c.lastSync = &result.Timestamp
	c.lastError = ""
	c.mu.Unlock()

	c.log.InfoContext(ctx, "sync completed",
		"batch_id", result.BatchID, "records", result.Records, "duration", result.Duration)
	return result
}

func (c *Connector) load(ctx context.Context, table, batchID string, rows []RawRecord) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	hashes := make([]string, len(rows))
	for i, row := range rows {
		h, err := ingest.RowHash(row)
		if err != nil {
			return 0, err
		}
		hashes[i] = h
	}
	return c.loader.InsertRawRows(ctx, table, batchID, hashes, rows)
}

func (c *Connector) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Connector) setError(msg string) {
	c.mu.Lock()
	c.status = StatusError
	c.lastError = msg
	c.mu.Unlock()
}

// ValidateConfig checks a config map against a connector's JSON schema.
func ValidateConfig(kind Kind, schemaJSON string, config map[string]any) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://sommelier.schemas.local/connectors/%s.schema.json", kind)
	if err := compiler.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("connector: load %s config schema: %w", kind, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("connector: compile %s config schema: %w", kind, err)
	}
	if err := compiled.Validate(config); err != nil {
		return fmt.Errorf("connector: invalid %s config: %w", kind, err)
	}
	return nil
}
