// Package transform turns raw staging rows into the canonical tables and
// the per-customer master profiles. Stages run in order: customer
// deduplication, customer load, order-line load, contact-event load, and
// profile materialization. A stage error is recorded, not thrown; the
// pipeline reports success only when no stage appended one.
package transform

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cavistelabs/sommelier/pkg/ingest"
	"github.com/cavistelabs/sommelier/pkg/schema"
)

// StagingReader reads raw rows of one ingestion batch.
type StagingReader interface {
	RawRows(ctx context.Context, table, batchID string) ([]map[string]string, error)
}

// CustomerWriter is the slice of the customer store the loaders write.
type CustomerWriter interface {
	UpsertCustomer(ctx context.Context, c *schema.Customer) error
	InsertOrderLines(ctx context.Context, lines []*schema.OrderLine) (int, error)
	InsertContactEvents(ctx context.Context, events []*schema.ContactEvent) (int, error)
}

// AliasReader loads the product alias map once per run.
type AliasReader interface {
	LoadAliases(ctx context.Context) (map[string]string, error)
}

// Tracker is the observability hook wrapped around each run.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// Status carries the per-stage counters and the append-only error and
// warning lists of one pipeline run.
type Status struct {
	BatchID           string   `json:"batch_id"`
	CustomersIn       int      `json:"customers_in"`
	CustomersMerged   int      `json:"customers_merged"`
	CustomersLoaded   int      `json:"customers_loaded"`
	OrderLinesIn      int      `json:"order_lines_in"`
	OrderLinesLoaded  int      `json:"order_lines_loaded"`
	OrderLinesSkipped int      `json:"order_lines_skipped"`
	ContactsLoaded    int      `json:"contacts_loaded"`
	ProfilesBuilt     int      `json:"profiles_built"`
	Errors            []string `json:"errors,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	Duration          float64  `json:"duration_seconds"`
}

func (s *Status) fail(stage string, err error) {
	s.Errors = append(s.Errors, stage+": "+err.Error())
}

// Pipeline orchestrates the transform stages for one ingestion batch.
type Pipeline struct {
	staging   StagingReader
	customers CustomerWriter
	aliases   AliasReader
	profiles  *ProfileBuilder
	tracker   Tracker
	log       *slog.Logger

	// MaxCustomers bounds the profile stage enumeration.
	MaxCustomers int
}

func NewPipeline(staging StagingReader, customers CustomerWriter, aliases AliasReader, profiles *ProfileBuilder, tracker Tracker) *Pipeline {
	return &Pipeline{
		staging:      staging,
		customers:    customers,
		aliases:      aliases,
		profiles:     profiles,
		tracker:      tracker,
		log:          slog.Default().With("component", "transform"),
		MaxCustomers: 100000,
	}
}

// Run executes stages A-E over one ingestion batch. The boolean is true
// only when no stage recorded an error; warnings (skipped order lines)
// never fail a run.
func (p *Pipeline) Run(ctx context.Context, batchID string, skipProfiles bool) (*Status, bool) {
	var runErr error
	ctx, done := p.tracker.TrackOperation(ctx, "transform.run",
		attribute.String("batch.id", batchID))
	defer func() { done(runErr) }()

	start := time.Now()
	status := &Status{BatchID: batchID}
	log := p.log.With("batch_id", batchID)

	p.loadCustomers(ctx, batchID, status)
	p.loadOrderLines(ctx, batchID, status)
	p.loadContacts(ctx, batchID, status)

	if !skipProfiles && len(status.Errors) == 0 {
		built, err := p.profiles.BuildAll(ctx, time.Now().UTC(), p.MaxCustomers)
		status.ProfilesBuilt = built
		if err != nil {
			status.fail("profiles", err)
		}
	}

	status.Duration = time.Since(start).Seconds()
	ok := len(status.Errors) == 0
	if !ok {
		runErr = errStatus(status)
		log.ErrorContext(ctx, "transform run failed", "errors", status.Errors)
	} else {
		log.InfoContext(ctx, "transform run complete",
			"customers", status.CustomersLoaded,
			"order_lines", status.OrderLinesLoaded,
			"skipped_lines", status.OrderLinesSkipped,
			"contacts", status.ContactsLoaded,
			"profiles", status.ProfilesBuilt)
	}
	return status, ok
}

// Stage A + B: deduplicate raw customers and upsert them.
func (p *Pipeline) loadCustomers(ctx context.Context, batchID string, status *Status) {
	rows, err := p.staging.RawRows(ctx, "raw_customers", batchID)
	if err != nil {
		status.fail("customers", err)
		return
	}
	status.CustomersIn = len(rows)

	for _, c := range Deduplicate(rows) {
		c.BatchID = batchID
		if c.CodesMerged {
			status.CustomersMerged++
		}
		if err := p.customers.UpsertCustomer(ctx, c); err != nil {
			status.fail("customers", err)
			return
		}
		status.CustomersLoaded++
	}
}

// Stage C: resolve product labels through the alias cache and append
// order lines. Unresolvable labels are skipped with a warning.
func (p *Pipeline) loadOrderLines(ctx context.Context, batchID string, status *Status) {
	rows, err := p.staging.RawRows(ctx, "raw_sales_lines", batchID)
	if err != nil {
		status.fail("order_lines", err)
		return
	}
	status.OrderLinesIn = len(rows)
	if len(rows) == 0 {
		return
	}

	aliases, err := p.aliases.LoadAliases(ctx)
	if err != nil {
		status.fail("order_lines", err)
		return
	}

	var lines []*schema.OrderLine
	for _, row := range rows {
		labelNorm := row["product_label_norm"]
		if labelNorm == "" {
			labelNorm = ingest.NormalizeLabel(row["product_label"])
		}
		productKey, ok := aliases[labelNorm]
		if !ok {
			status.OrderLinesSkipped++
			status.Warnings = append(status.Warnings, "order_lines: no alias for "+labelNorm)
			continue
		}
		orderDate, err := ingest.ParseDate(row["order_date"])
		if err != nil {
			status.OrderLinesSkipped++
			status.Warnings = append(status.Warnings, "order_lines: "+err.Error())
			continue
		}
		qty, _ := ingest.NormalizeDecimal(row["qty"])
		amountHT, _ := ingest.NormalizeDecimal(row["amount_ht"])
		amountTTC, _ := ingest.NormalizeDecimal(row["amount_ttc"])
		margin, _ := ingest.NormalizeDecimal(row["margin"])

		lines = append(lines, &schema.OrderLine{
			CustomerCode: row["customer_code"],
			ProductKey:   productKey,
			OrderDate:    orderDate,
			DocRef:       row["doc_ref"],
			DocType:      row["doc_type"],
			Qty:          schema.NormalizeQuantity(qty, row["unit"]),
			AmountHT:     amountHT,
			AmountTTC:    amountTTC,
			Margin:       margin,
			BatchID:      batchID,
		})
	}

	loaded, err := p.customers.InsertOrderLines(ctx, lines)
	if err != nil {
		status.fail("order_lines", err)
		return
	}
	status.OrderLinesLoaded = loaded
	if dup := len(lines) - loaded; dup > 0 {
		status.OrderLinesSkipped += dup
	}
}

// Stage D: append contact events.
func (p *Pipeline) loadContacts(ctx context.Context, batchID string, status *Status) {
	rows, err := p.staging.RawRows(ctx, "raw_contacts", batchID)
	if err != nil {
		status.fail("contacts", err)
		return
	}

	var events []*schema.ContactEvent
	for _, row := range rows {
		date, err := ingest.ParseDate(row["contact_date"])
		if err != nil {
			status.Warnings = append(status.Warnings, "contacts: "+err.Error())
			continue
		}
		events = append(events, &schema.ContactEvent{
			CustomerCode: row["customer_code"],
			ContactDate:  date,
			Channel:      schema.ContactChannel(strings.ToUpper(row["channel"])),
			Status:       row["status"],
			CampaignID:   row["campaign_id"],
		})
	}

	loaded, err := p.customers.InsertContactEvents(ctx, events)
	if err != nil {
		status.fail("contacts", err)
		return
	}
	status.ContactsLoaded = loaded
}

type statusError struct{ status *Status }

func (e statusError) Error() string { return strings.Join(e.status.Errors, "; ") }

func errStatus(s *Status) error { return statusError{s} }
