package outbound

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavistelabs/sommelier/pkg/schema"
	"github.com/cavistelabs/sommelier/pkg/store"
)

type fakeCustomers struct{ byCode map[string]*schema.Customer }

func (f *fakeCustomers) GetCustomer(_ context.Context, code string) (*schema.Customer, error) {
	c, ok := f.byCode[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCustomers) SetContactFlags(_ context.Context, code string, bounced, optedOut, contactable bool) error {
	c, ok := f.byCode[code]
	if !ok {
		return store.ErrNotFound
	}
	c.Bounced, c.OptedOut, c.Contactable = bounced, optedOut, contactable
	return nil
}

type fakeItems struct{ items []schema.RecoItem }

func (f *fakeItems) ItemsForRun(context.Context, string) ([]schema.RecoItem, error) {
	return f.items, nil
}

type fakeArchive struct{ names []string }

func (f *fakeArchive) ExportBundle(_ context.Context, _, name string, _ []byte) error {
	f.names = append(f.names, name)
	return nil
}

func testCustomers() *fakeCustomers {
	return &fakeCustomers{byCode: map[string]*schema.Customer{
		"C001": {CustomerCode: "C001", FirstName: "Anne", LastName: "Martin",
			Email: "a.martin@ex.fr", Contactable: true},
		"C002": {CustomerCode: "C002", Email: "d@ex.fr", Contactable: false},
		"C003": {CustomerCode: "C003", Contactable: true}, // no email
	}}
}

func testItems() []schema.RecoItem {
	mk := func(code, key string, rank int, score float64) schema.RecoItem {
		return schema.RecoItem{
			RunID: "run-1", CustomerCode: code, ProductKey: key,
			Scenario: schema.ScenarioRebuy, Rank: rank,
			Score:        schema.RecoScore{FinalScore: score},
			ExplainShort: "Vous avez aimé ce vin",
		}
	}
	return []schema.RecoItem{
		mk("C001", "P01", 1, 85.5),
		mk("C001", "P02", 2, 71),
		mk("C002", "P01", 1, 80), // not contactable
		mk("C003", "P03", 1, 64), // no email
	}
}

func TestBuildCampaignFiltersUncontactable(t *testing.T) {
	archive := &fakeArchive{}
	exp := NewExporter(testCustomers(), &fakeItems{items: testItems()}, archive, "secret")

	export, err := exp.BuildCampaign(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, export.Rows)
	assert.Equal(t, 2, export.Skipped)
	require.Len(t, archive.names, 1)
	assert.Contains(t, archive.names[0], "campaign-")

	records, err := csv.NewReader(strings.NewReader(string(export.CSV))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3) // header + 2 rows
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "C001", records[1][0])
	assert.Equal(t, "a.martin@ex.fr", records[1][1])
	assert.Equal(t, "85.5", records[1][7])
}

func TestEnvelopeRoundTrip(t *testing.T) {
	exp := NewExporter(testCustomers(), &fakeItems{items: testItems()}, nil, "secret")
	export, err := exp.BuildCampaign(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotEmpty(t, export.Envelope)

	claims, err := exp.VerifyEnvelope(export.Envelope, export.CSV)
	require.NoError(t, err)
	assert.Equal(t, "run-1", claims["run_id"])
	assert.EqualValues(t, 2, claims["rows"])

	// Tampered bundle fails verification.
	_, err = exp.VerifyEnvelope(export.Envelope, append(export.CSV, 'x'))
	assert.Error(t, err)

	// Wrong key fails verification.
	other := NewExporter(testCustomers(), &fakeItems{}, nil, "other-key")
	_, err = other.VerifyEnvelope(export.Envelope, export.CSV)
	assert.Error(t, err)
}

func TestBuildCampaignRequiresSigningKey(t *testing.T) {
	exp := NewExporter(testCustomers(), &fakeItems{items: testItems()}, nil, "")
	_, err := exp.BuildCampaign(context.Background(), "run-1")
	assert.Error(t, err)
}

func TestBuildCampaignEmptyRun(t *testing.T) {
	exp := NewExporter(testCustomers(), &fakeItems{}, nil, "secret")
	_, err := exp.BuildCampaign(context.Background(), "run-9")
	assert.Error(t, err)
}

func TestDeliveryEvents(t *testing.T) {
	ctx := context.Background()
	customers := testCustomers()
	h := NewDeliveryHandler(customers)

	require.NoError(t, h.Apply(ctx, "C001", EventBounce))
	c := customers.byCode["C001"]
	assert.True(t, c.Bounced)
	assert.False(t, c.Contactable)

	require.NoError(t, h.Apply(ctx, "C003", EventUnsubscribe))
	c = customers.byCode["C003"]
	assert.True(t, c.OptedOut)
	assert.False(t, c.Contactable)

	// Delivered is a no-op even for unknown customers.
	require.NoError(t, h.Apply(ctx, "ghost", EventDelivered))

	assert.Error(t, h.Apply(ctx, "ghost", EventBounce))
	assert.Error(t, h.Apply(ctx, "C001", DeliveryEventType("snail_mail")))
}
