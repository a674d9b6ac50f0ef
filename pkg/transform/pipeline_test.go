package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

type fakeStaging struct{ tables map[string][]map[string]string }

func (f *fakeStaging) RawRows(_ context.Context, table, _ string) ([]map[string]string, error) {
	return f.tables[table], nil
}

type fakeCustomers struct {
	customers map[string]*schema.Customer
	lines     []*schema.OrderLine
	events    []*schema.ContactEvent
}

func (f *fakeCustomers) UpsertCustomer(_ context.Context, c *schema.Customer) error {
	if f.customers == nil {
		f.customers = map[string]*schema.Customer{}
	}
	f.customers[c.CustomerCode] = c
	return nil
}

func (f *fakeCustomers) InsertOrderLines(_ context.Context, lines []*schema.OrderLine) (int, error) {
	seen := map[[2]string]bool{}
	for _, l := range f.lines {
		seen[[2]string{l.DocRef, l.ProductKey}] = true
	}
	inserted := 0
	for _, l := range lines {
		key := [2]string{l.DocRef, l.ProductKey}
		if seen[key] {
			continue
		}
		seen[key] = true
		f.lines = append(f.lines, l)
		inserted++
	}
	return inserted, nil
}

func (f *fakeCustomers) InsertContactEvents(_ context.Context, events []*schema.ContactEvent) (int, error) {
	f.events = append(f.events, events...)
	return len(events), nil
}

type fakeAliases struct{ m map[string]string }

func (f *fakeAliases) LoadAliases(context.Context) (map[string]string, error) { return f.m, nil }

type noopTracker struct{}

func (noopTracker) TrackOperation(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func newTestPipeline(staging *fakeStaging, customers *fakeCustomers) *Pipeline {
	aliases := &fakeAliases{m: map[string]string{
		"cotes-du-rhone rouge": "P01",
		"chablis":              "P02",
	}}
	orders := &fakeOrders{}
	profiles := &fakeProfiles{}
	builder := NewProfileBuilder(orders, &fakeCatalog{}, profiles)
	return NewPipeline(staging, customers, aliases, builder, noopTracker{})
}

func TestPipelineRun(t *testing.T) {
	staging := &fakeStaging{tables: map[string][]map[string]string{
		"raw_customers": {
			{"customer_code": "C001", "email": "a@example.com"},
			{"customer_code": "C002", "email": "a@example.com"},
			{"customer_code": "C003"},
		},
		"raw_sales_lines": {
			{"customer_code": "C003", "order_date": "2025-06-15", "doc_ref": "FA-1",
				"product_label": "Côtes-du-Rhône Rouge", "qty": "6", "amount_ht": "89,50"},
			{"customer_code": "C003", "order_date": "2025-06-15", "doc_ref": "FA-2",
				"product_label": "Inconnu au catalogue", "qty": "1", "amount_ht": "10"},
		},
		"raw_contacts": {
			{"customer_code": "C003", "contact_date": "2025-05-01", "channel": "email"},
		},
	}}
	customers := &fakeCustomers{}

	p := newTestPipeline(staging, customers)
	status, ok := p.Run(context.Background(), "batch-1", true)
	require.True(t, ok)

	assert.Equal(t, 3, status.CustomersIn)
	assert.Equal(t, 2, status.CustomersLoaded)
	assert.Equal(t, 1, status.CustomersMerged)
	require.Contains(t, customers.customers, "C001,C002")
	assert.True(t, customers.customers["C001,C002"].Contactable)

	assert.Equal(t, 2, status.OrderLinesIn)
	assert.Equal(t, 1, status.OrderLinesLoaded)
	assert.Equal(t, 1, status.OrderLinesSkipped)
	require.Len(t, status.Warnings, 1)
	assert.Contains(t, status.Warnings[0], "no alias")

	require.Len(t, customers.lines, 1)
	line := customers.lines[0]
	assert.Equal(t, "P01", line.ProductKey)
	assert.InDelta(t, 89.50, line.AmountHT, 1e-9)
	assert.Equal(t, 2025, line.OrderDate.Year())

	assert.Equal(t, 1, status.ContactsLoaded)
	assert.Equal(t, schema.ChannelEmail, customers.events[0].Channel)
}

func TestPipelineRunEmptyBatchSucceeds(t *testing.T) {
	p := newTestPipeline(&fakeStaging{tables: map[string][]map[string]string{}}, &fakeCustomers{})
	status, ok := p.Run(context.Background(), "batch-0", true)
	assert.True(t, ok)
	assert.Empty(t, status.Errors)
	assert.Zero(t, status.CustomersLoaded)
}

func TestPipelineNaturalKeyDedup(t *testing.T) {
	staging := &fakeStaging{tables: map[string][]map[string]string{
		"raw_sales_lines": {
			{"customer_code": "C1", "order_date": "2025-06-15", "doc_ref": "FA-1",
				"product_label": "Chablis", "qty": "3", "amount_ht": "45"},
			{"customer_code": "C1", "order_date": "2025-06-15", "doc_ref": "FA-1",
				"product_label": "Chablis", "qty": "3", "amount_ht": "45"},
		},
	}}
	customers := &fakeCustomers{}
	p := newTestPipeline(staging, customers)
	status, ok := p.Run(context.Background(), "batch-2", true)
	require.True(t, ok)
	assert.Equal(t, 1, status.OrderLinesLoaded)
	assert.Equal(t, 1, status.OrderLinesSkipped)
}
