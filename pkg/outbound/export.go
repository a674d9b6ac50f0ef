// Package outbound turns persisted recommendations into campaign
// exports for the email provider and feeds the provider's delivery
// events (bounces, opt-outs) back onto the customer contact flags.
package outbound

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// CustomerReader resolves the contact identity of a customer.
type CustomerReader interface {
	GetCustomer(ctx context.Context, code string) (*schema.Customer, error)
}

// ItemReader reads the persisted items of one run.
type ItemReader interface {
	ItemsForRun(ctx context.Context, runID string) ([]schema.RecoItem, error)
}

// Archiver keeps a copy of each export bundle before it leaves.
type Archiver interface {
	ExportBundle(ctx context.Context, runID, name string, data []byte) error
}

// Export is one signed campaign bundle ready for the provider.
type Export struct {
	ExportID  string    `json:"export_id"`
	RunID     string    `json:"run_id"`
	CSV       []byte    `json:"-"`
	Rows      int       `json:"rows"`
	Skipped   int       `json:"skipped"`
	Envelope  string    `json:"envelope"` // signed JWT describing the bundle
	CreatedAt time.Time `json:"created_at"`
}

// Exporter builds campaign CSV exports from a run's recommendations.
// Customers who are not contactable, or have no email, are dropped from
// the bundle, never erred on.
type Exporter struct {
	customers  CustomerReader
	items      ItemReader
	archive    Archiver
	signingKey []byte
	log        *slog.Logger
	now        func() time.Time
}

func NewExporter(customers CustomerReader, items ItemReader, archive Archiver, signingKey string) *Exporter {
	return &Exporter{
		customers:  customers,
		items:      items,
		archive:    archive,
		signingKey: []byte(signingKey),
		log:        slog.Default().With("component", "outbound"),
		now:        time.Now,
	}
}

var csvHeader = []string{
	"customer_code", "email", "first_name", "last_name",
	"scenario", "rank", "product_key", "score", "explanation",
}

// BuildCampaign assembles the signed export for one run.
func (e *Exporter) BuildCampaign(ctx context.Context, runID string) (*Export, error) {
	items, err := e.items.ItemsForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("outbound: items for run %s: %w", runID, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("outbound: run %s has no recommendations", runID)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("outbound: write header: %w", err)
	}

	rows, skipped := 0, 0
	seen := map[string]*schema.Customer{}
	for _, item := range items {
		c, ok := seen[item.CustomerCode]
		if !ok {
			c, err = e.customers.GetCustomer(ctx, item.CustomerCode)
			if err != nil {
				return nil, fmt.Errorf("outbound: customer %s: %w", item.CustomerCode, err)
			}
			seen[item.CustomerCode] = c
		}
		if !c.Contactable || c.Email == "" {
			skipped++
			continue
		}
		record := []string{
			c.CustomerCode, c.Email, c.FirstName, c.LastName,
			string(item.Scenario), strconv.Itoa(item.Rank), item.ProductKey,
			strconv.FormatFloat(item.Score.FinalScore, 'f', 1, 64),
			item.ExplainShort,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("outbound: write row: %w", err)
		}
		rows++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("outbound: flush csv: %w", err)
	}

	export := &Export{
		ExportID:  uuid.NewString(),
		RunID:     runID,
		CSV:       buf.Bytes(),
		Rows:      rows,
		Skipped:   skipped,
		CreatedAt: e.now().UTC(),
	}
	export.Envelope, err = e.sign(export)
	if err != nil {
		return nil, err
	}

	if e.archive != nil {
		name := fmt.Sprintf("campaign-%s.csv", export.ExportID)
		if err := e.archive.ExportBundle(ctx, runID, name, export.CSV); err != nil {
			return nil, fmt.Errorf("outbound: archive bundle: %w", err)
		}
	}

	e.log.InfoContext(ctx, "campaign export built",
		"export_id", export.ExportID, "run_id", runID, "rows", rows, "skipped", skipped)
	return export, nil
}

// sign issues the HS256 envelope the campaign provider verifies: which
// run, how many rows, and the content hash of the exact CSV bytes.
func (e *Exporter) sign(export *Export) (string, error) {
	if len(e.signingKey) == 0 {
		return "", fmt.Errorf("outbound: export signing key is not configured")
	}
	sum := sha256.Sum256(export.CSV)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"export_id":    export.ExportID,
		"run_id":       export.RunID,
		"rows":         export.Rows,
		"content_hash": hex.EncodeToString(sum[:]),
		"iat":          export.CreatedAt.Unix(),
	})
	signed, err := token.SignedString(e.signingKey)
	if err != nil {
		return "", fmt.Errorf("outbound: sign envelope: %w", err)
	}
	return signed, nil
}

// VerifyEnvelope checks an envelope's signature and that it matches the
// given CSV bytes.
func (e *Exporter) VerifyEnvelope(envelope string, csvData []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(envelope, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return e.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("outbound: verify envelope: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("outbound: unexpected claims type")
	}
	sum := sha256.Sum256(csvData)
	if claims["content_hash"] != hex.EncodeToString(sum[:]) {
		return nil, fmt.Errorf("outbound: envelope does not match bundle content")
	}
	return claims, nil
}
