package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// CustomerSQL persists the clean customer table and the two append-only
// fact tables (order_line, contact_event). It also serves the aggregate
// and candidate queries the feature computer and scenario matcher need.
type CustomerSQL struct {
	db     *sql.DB
	driver string
}

func NewCustomerSQL(db *sql.DB, driver string) *CustomerSQL {
	return &CustomerSQL{db: db, driver: driver}
}

func (s *CustomerSQL) Migrate(ctx context.Context) error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS customer (
	customer_code TEXT PRIMARY KEY,
	last_name TEXT,
	first_name TEXT,
	email TEXT,
	phone TEXT,
	address TEXT,
	postal_code TEXT,
	city TEXT,
	country TEXT,
	is_bounced BOOLEAN NOT NULL DEFAULT FALSE,
	is_optout BOOLEAN NOT NULL DEFAULT FALSE,
	is_contactable BOOLEAN NOT NULL DEFAULT TRUE,
	codes_merged BOOLEAN NOT NULL DEFAULT FALSE,
	duplicate_count INTEGER NOT NULL DEFAULT 0,
	batch_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS order_line (
	id %s,
	customer_code TEXT NOT NULL,
	product_key TEXT NOT NULL,
	order_date TIMESTAMP NOT NULL,
	doc_ref TEXT NOT NULL,
	doc_type TEXT,
	qty REAL NOT NULL,
	amount_ht REAL NOT NULL,
	amount_ttc REAL,
	margin REAL,
	batch_id TEXT,
	created_at TIMESTAMP NOT NULL,
	UNIQUE(doc_ref, customer_code, product_key, order_date)
);`, serialPK(s.driver)), fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS contact_event (
	id %s,
	customer_code TEXT NOT NULL,
	contact_date TIMESTAMP NOT NULL,
	channel TEXT,
	status TEXT,
	campaign_id TEXT,
	created_at TIMESTAMP NOT NULL
);`, serialPK(s.driver))}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate customer: %w", err)
		}
	}
	return nil
}

// UpsertCustomer creates or refreshes a customer by customer_code.
// Contactability flags are only written on insert; they are owned by the
// outbound delivery path afterwards.
func (s *CustomerSQL) UpsertCustomer(ctx context.Context, c *schema.Customer) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customer (
			customer_code, last_name, first_name, email, phone, address, postal_code, city, country,
			is_bounced, is_optout, is_contactable, codes_merged, duplicate_count, batch_id,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (customer_code) DO UPDATE SET
			last_name = excluded.last_name,
			first_name = excluded.first_name,
			email = excluded.email,
			phone = excluded.phone,
			address = excluded.address,
			postal_code = excluded.postal_code,
			city = excluded.city,
			country = excluded.country,
			codes_merged = excluded.codes_merged,
			duplicate_count = excluded.duplicate_count,
			batch_id = excluded.batch_id,
			updated_at = excluded.updated_at
	`,
		c.CustomerCode, nullStr(c.LastName), nullStr(c.FirstName), nullStr(c.Email), nullStr(c.Phone),
		nullStr(c.Address), nullStr(c.PostalCode), nullStr(c.City), nullStr(c.Country),
		c.Bounced, c.OptedOut, c.Contactable, c.CodesMerged, c.DuplicateCount, nullStr(c.BatchID),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert customer %s: %w", c.CustomerCode, err)
	}
	return nil
}

// GetCustomer returns one customer or ErrNotFound.
func (s *CustomerSQL) GetCustomer(ctx context.Context, code string) (*schema.Customer, error) {
	var c schema.Customer
	var last, first, email, phone, addr, postal, city, country, batch sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT customer_code, last_name, first_name, email, phone, address, postal_code, city, country,
			is_bounced, is_optout, is_contactable, codes_merged, duplicate_count, batch_id,
			created_at, updated_at
		FROM customer WHERE customer_code = $1
	`, code).Scan(
		&c.CustomerCode, &last, &first, &email, &phone, &addr, &postal, &city, &country,
		&c.Bounced, &c.OptedOut, &c.Contactable, &c.CodesMerged, &c.DuplicateCount, &batch,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get customer %s: %w", code, err)
	}
	c.LastName, c.FirstName, c.Email, c.Phone = strOf(last), strOf(first), strOf(email), strOf(phone)
	c.Address, c.PostalCode, c.City, c.Country = strOf(addr), strOf(postal), strOf(city), strOf(country)
	c.BatchID = strOf(batch)
	return &c, nil
}

// SetContactFlags overrides the contactability flags of one customer.
func (s *CustomerSQL) SetContactFlags(ctx context.Context, code string, bounced, optedOut, contactable bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customer SET is_bounced = $1, is_optout = $2, is_contactable = $3, updated_at = $4
		WHERE customer_code = $5
	`, bounced, optedOut, contactable, time.Now().UTC(), code)
	if err != nil {
		return fmt.Errorf("store: set contact flags %s: %w", code, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CustomerCodes lists distinct customer codes up to a limit. A
// non-positive limit lists them all.
func (s *CustomerSQL) CustomerCodes(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT customer_code FROM customer ORDER BY customer_code`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list customer codes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

// InsertOrderLines appends order lines, deduplicating on the natural key
// (doc_ref, customer_code, product_key, order_date). Returns the number
// actually written.
func (s *CustomerSQL) InsertOrderLines(ctx context.Context, lines []*schema.OrderLine) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin order line insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO order_line
		(customer_code, product_key, order_date, doc_ref, doc_type, qty, amount_ht, amount_ttc, margin, batch_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (doc_ref, customer_code, product_key, order_date) DO NOTHING
	`
	now := time.Now().UTC()
	inserted := 0
	for _, l := range lines {
		res, err := tx.ExecContext(ctx, query,
			l.CustomerCode, l.ProductKey, l.OrderDate, l.DocRef, nullStr(l.DocType),
			l.Qty, l.AmountHT, l.AmountTTC, l.Margin, nullStr(l.BatchID), now,
		)
		if err != nil {
			return inserted, fmt.Errorf("store: insert order line: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit order lines: %w", err)
	}
	return inserted, nil
}

// InsertContactEvents appends contact events.
func (s *CustomerSQL) InsertContactEvents(ctx context.Context, events []*schema.ContactEvent) (int, error) {
	query := `
		INSERT INTO contact_event (customer_code, contact_date, channel, status, campaign_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	now := time.Now().UTC()
	inserted := 0
	for _, e := range events {
		if _, err := s.db.ExecContext(ctx, query,
			e.CustomerCode, e.ContactDate, nullStr(string(e.Channel)), nullStr(e.Status), nullStr(e.CampaignID), now,
		); err != nil {
			return inserted, fmt.Errorf("store: insert contact event: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

// OrderAggregates is the per-customer order summary the feature computer
// and profile builder start from.
type OrderAggregates struct {
	CustomerCode  string
	PurchaseCount int
	TotalSpent    float64
	AvgOrderValue float64
	FirstPurchase *time.Time
	LastPurchase  *time.Time
}

// OrderAggregatesFor aggregates one customer's order history. A customer
// with no orders returns zero counts, not ErrNotFound.
func (s *CustomerSQL) OrderAggregatesFor(ctx context.Context, code string) (OrderAggregates, error) {
	agg := OrderAggregates{CustomerCode: code}
	var total, avg sql.NullFloat64
	var first, last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(amount_ht), AVG(amount_ht), MIN(order_date), MAX(order_date)
		FROM order_line WHERE customer_code = $1
	`, code).Scan(&agg.PurchaseCount, &total, &avg, &first, &last)
	if err != nil {
		return agg, fmt.Errorf("store: order aggregates %s: %w", code, err)
	}
	agg.TotalSpent = total.Float64
	agg.AvgOrderValue = avg.Float64
	agg.FirstPurchase = nullTime(first)
	agg.LastPurchase = nullTime(last)
	return agg, nil
}

// AllOrderAggregates aggregates every customer with at least one order,
// for quartile-based RFM bucketing.
func (s *CustomerSQL) AllOrderAggregates(ctx context.Context) ([]OrderAggregates, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_code, COUNT(*), SUM(amount_ht), AVG(amount_ht), MIN(order_date), MAX(order_date)
		FROM order_line GROUP BY customer_code ORDER BY customer_code
	`)
	if err != nil {
		return nil, fmt.Errorf("store: all order aggregates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OrderAggregates
	for rows.Next() {
		var agg OrderAggregates
		var total, avg sql.NullFloat64
		var first, last sql.NullTime
		if err := rows.Scan(&agg.CustomerCode, &agg.PurchaseCount, &total, &avg, &first, &last); err != nil {
			return nil, err
		}
		agg.TotalSpent = total.Float64
		agg.AvgOrderValue = avg.Float64
		agg.FirstPurchase = nullTime(first)
		agg.LastPurchase = nullTime(last)
		out = append(out, agg)
	}
	return out, rows.Err()
}

// FamilyRevenue is one product dimension value with its revenue share
// inputs for a customer.
type FamilyRevenue struct {
	Value   string
	Orders  int
	Revenue float64
}

// RevenueByDimension sums a customer's order revenue grouped by one
// product dimension (family_crm, grape, sucrosity or price_band),
// largest first. Lines whose product carries no value are skipped.
func (s *CustomerSQL) RevenueByDimension(ctx context.Context, code, dimension string) ([]FamilyRevenue, error) {
	col, ok := map[string]string{
		"family":     "family_crm",
		"grape":      "grape",
		"sucrosity":  "sucrosity",
		"price_band": "price_band",
	}[dimension]
	if !ok {
		return nil, fmt.Errorf("store: unknown product dimension %q", dimension)
	}

	query := fmt.Sprintf(`
		SELECT p.%s, COUNT(*), SUM(ol.amount_ht)
		FROM order_line ol
		JOIN product p ON ol.product_key = p.product_key
		WHERE ol.customer_code = $1 AND p.%s IS NOT NULL
		GROUP BY p.%s
		ORDER BY SUM(ol.amount_ht) DESC, p.%s
	`, col, col, col, col)

	rows, err := s.db.QueryContext(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("store: revenue by %s: %w", dimension, err)
	}
	defer func() { _ = rows.Close() }()

	var out []FamilyRevenue
	for rows.Next() {
		var fr FamilyRevenue
		if err := rows.Scan(&fr.Value, &fr.Orders, &fr.Revenue); err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// ProductRevenueFor returns per-product revenue for one customer, used
// to weight aroma preferences by spend.
func (s *CustomerSQL) ProductRevenueFor(ctx context.Context, code string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_key, SUM(amount_ht) FROM order_line
		WHERE customer_code = $1 GROUP BY product_key
	`, code)
	if err != nil {
		return nil, fmt.Errorf("store: product revenue %s: %w", code, err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]float64{}
	for rows.Next() {
		var key string
		var revenue sql.NullFloat64
		if err := rows.Scan(&key, &revenue); err != nil {
			return nil, err
		}
		out[key] = revenue.Float64
	}
	return out, rows.Err()
}

// RebuyCandidates lists products the customer bought at least minAgeDays
// ago whose popularity clears the floor, most recent prior purchase
// first.
func (s *CustomerSQL) RebuyCandidates(ctx context.Context, code string, minAgeDays int, minPopularity float64, limit int) ([]string, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -minAgeDays)
	rows, err := s.db.QueryContext(ctx, `
		SELECT ol.product_key, MAX(ol.order_date) AS last_bought
		FROM order_line ol
		JOIN product p ON ol.product_key = p.product_key
		WHERE ol.customer_code = $1 AND p.global_popularity_score >= $2
		GROUP BY ol.product_key
		HAVING MAX(ol.order_date) <= $3
		ORDER BY last_bought DESC, ol.product_key
		LIMIT $4
	`, code, minPopularity, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("store: rebuy candidates %s: %w", code, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var key string
		var last time.Time
		if err := rows.Scan(&key, &last); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// TopFamiliesFor lists a customer's most purchased product families by
// revenue, largest first.
func (s *CustomerSQL) TopFamiliesFor(ctx context.Context, code string, n int) ([]string, error) {
	byFamily, err := s.RevenueByDimension(ctx, code, "family")
	if err != nil {
		return nil, err
	}
	if len(byFamily) > n {
		byFamily = byFamily[:n]
	}
	out := make([]string, 0, len(byFamily))
	for _, fr := range byFamily {
		out = append(out, fr.Value)
	}
	return out, nil
}

// LastPurchaseOf returns when the customer last bought a product, nil if
// never.
func (s *CustomerSQL) LastPurchaseOf(ctx context.Context, code, productKey string) (*time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(order_date) FROM order_line WHERE customer_code = $1 AND product_key = $2
	`, code, productKey).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("store: last purchase of %s: %w", productKey, err)
	}
	return nullTime(last), nil
}

// LastContactDate returns the customer's most recent marketing touch,
// nil if never contacted.
func (s *CustomerSQL) LastContactDate(ctx context.Context, code string) (*time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(contact_date) FROM contact_event WHERE customer_code = $1
	`, code).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("store: last contact %s: %w", code, err)
	}
	return nullTime(last), nil
}
