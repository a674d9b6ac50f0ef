package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// CatalogSQL persists the product catalog, the product alias table and
// stock levels. Products are upserted by product_key and archived rather
// than deleted; aliases are immutable once created.
type CatalogSQL struct {
	db     *sql.DB
	driver string
}

func NewCatalogSQL(db *sql.DB, driver string) *CatalogSQL {
	return &CatalogSQL{db: db, driver: driver}
}

func (s *CatalogSQL) Migrate(ctx context.Context) error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS product (
	product_key TEXT PRIMARY KEY,
	product_label TEXT NOT NULL,
	family_crm TEXT,
	grape TEXT,
	sucrosity TEXT,
	price_band TEXT,
	premium_tier INTEGER NOT NULL DEFAULT 0,
	category TEXT,
	aroma_fruit INTEGER NOT NULL DEFAULT 0,
	aroma_floral INTEGER NOT NULL DEFAULT 0,
	aroma_spice INTEGER NOT NULL DEFAULT 0,
	aroma_mineral INTEGER NOT NULL DEFAULT 0,
	aroma_acidity INTEGER NOT NULL DEFAULT 0,
	aroma_body INTEGER NOT NULL DEFAULT 0,
	aroma_tannin INTEGER NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_archived BOOLEAN NOT NULL DEFAULT FALSE,
	season_tags TEXT,
	global_popularity_score REAL NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS product_alias (
	label_norm TEXT PRIMARY KEY,
	product_key TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS stock_level (
	stock_key TEXT PRIMARY KEY,
	product_key TEXT NOT NULL,
	warehouse TEXT NOT NULL,
	quantity_units REAL NOT NULL DEFAULT 0,
	quantity_bottles_75cl_eq REAL NOT NULL DEFAULT 0,
	reserved_qty REAL NOT NULL DEFAULT 0,
	available_qty REAL NOT NULL DEFAULT 0,
	last_count_date TIMESTAMP
);`}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate catalog: %w", err)
		}
	}
	return nil
}

// UpsertProduct creates or refreshes a product by product_key.
func (s *CatalogSQL) UpsertProduct(ctx context.Context, p *schema.Product) error {
	tags, err := json.Marshal(p.SeasonTags)
	if err != nil {
		return fmt.Errorf("store: marshal season tags: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO product (
			product_key, product_label, family_crm, grape, sucrosity, price_band,
			premium_tier, category,
			aroma_fruit, aroma_floral, aroma_spice, aroma_mineral, aroma_acidity, aroma_body, aroma_tannin,
			is_active, is_archived, season_tags, global_popularity_score, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (product_key) DO UPDATE SET
			product_label = excluded.product_label,
			family_crm = excluded.family_crm,
			grape = excluded.grape,
			sucrosity = excluded.sucrosity,
			price_band = excluded.price_band,
			premium_tier = excluded.premium_tier,
			category = excluded.category,
			aroma_fruit = excluded.aroma_fruit,
			aroma_floral = excluded.aroma_floral,
			aroma_spice = excluded.aroma_spice,
			aroma_mineral = excluded.aroma_mineral,
			aroma_acidity = excluded.aroma_acidity,
			aroma_body = excluded.aroma_body,
			aroma_tannin = excluded.aroma_tannin,
			is_active = excluded.is_active,
			is_archived = excluded.is_archived,
			season_tags = excluded.season_tags,
			global_popularity_score = excluded.global_popularity_score,
			updated_at = excluded.updated_at
	`,
		p.ProductKey, p.ProductLabel, nullStr(p.FamilyCRM), nullStr(p.Grape), nullStr(p.Sucrosity), nullStr(p.PriceBand),
		p.PremiumTier, nullStr(string(p.Category)),
		p.AromaFruit, p.AromaFloral, p.AromaSpice, p.AromaMineral, p.AromaAcidity, p.AromaBody, p.AromaTannin,
		p.IsActive, p.IsArchived, string(tags), p.GlobalPopularityScore, now, now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert product %s: %w", p.ProductKey, err)
	}
	return nil
}

const productColumns = `
	product_key, product_label, family_crm, grape, sucrosity, price_band,
	premium_tier, category,
	aroma_fruit, aroma_floral, aroma_spice, aroma_mineral, aroma_acidity, aroma_body, aroma_tannin,
	is_active, is_archived, season_tags, global_popularity_score, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*schema.Product, error) {
	var p schema.Product
	var family, grape, sucrosity, band, category, tags sql.NullString
	err := row.Scan(
		&p.ProductKey, &p.ProductLabel, &family, &grape, &sucrosity, &band,
		&p.PremiumTier, &category,
		&p.AromaFruit, &p.AromaFloral, &p.AromaSpice, &p.AromaMineral, &p.AromaAcidity, &p.AromaBody, &p.AromaTannin,
		&p.IsActive, &p.IsArchived, &tags, &p.GlobalPopularityScore, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.FamilyCRM = strOf(family)
	p.Grape = strOf(grape)
	p.Sucrosity = strOf(sucrosity)
	p.PriceBand = strOf(band)
	p.Category = schema.ProductCategory(strOf(category))
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &p.SeasonTags)
	}
	return &p, nil
}

// GetProduct returns one product or ErrNotFound.
func (s *CatalogSQL) GetProduct(ctx context.Context, productKey string) (*schema.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM product WHERE product_key = $1`, productKey)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get product %s: %w", productKey, err)
	}
	return p, nil
}

func (s *CatalogSQL) queryProducts(ctx context.Context, query string, args ...any) ([]*schema.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*schema.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PopularProducts lists active products at or above a popularity floor,
// most popular first.
func (s *CatalogSQL) PopularProducts(ctx context.Context, minPopularity float64, limit int) ([]*schema.Product, error) {
	return s.queryProducts(ctx, `
		SELECT `+productColumns+` FROM product
		WHERE is_archived = FALSE AND global_popularity_score >= $1
		ORDER BY global_popularity_score DESC, product_key
		LIMIT $2
	`, minPopularity, limit)
}

// PremiumProducts lists active premium-tier products above a popularity
// floor, most popular first.
func (s *CatalogSQL) PremiumProducts(ctx context.Context, minPopularity float64, limit int) ([]*schema.Product, error) {
	return s.queryProducts(ctx, `
		SELECT `+productColumns+` FROM product
		WHERE is_archived = FALSE AND premium_tier > 0 AND global_popularity_score >= $1
		ORDER BY global_popularity_score DESC, product_key
		LIMIT $2
	`, minPopularity, limit)
}

// ProductsOutsideFamilies lists popular products whose family is not in
// the exclusion list, for cross-sell candidate generation.
func (s *CatalogSQL) ProductsOutsideFamilies(ctx context.Context, excludeFamilies []string, minPopularity float64, limit int) ([]*schema.Product, error) {
	query := `
		SELECT ` + productColumns + ` FROM product
		WHERE is_archived = FALSE AND global_popularity_score >= $1 AND family_crm IS NOT NULL`
	args := []any{minPopularity}
	for _, f := range excludeFamilies {
		args = append(args, f)
		query += fmt.Sprintf(" AND family_crm <> $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY global_popularity_score DESC, product_key LIMIT $%d", len(args)+1)
	args = append(args, limit)
	return s.queryProducts(ctx, query, args...)
}

// ProductsWithFamily lists every active product above a popularity floor
// that carries a family, in stable key order. Callers sample from it.
func (s *CatalogSQL) ProductsWithFamily(ctx context.Context, minPopularity float64) ([]*schema.Product, error) {
	return s.queryProducts(ctx, `
		SELECT `+productColumns+` FROM product
		WHERE is_archived = FALSE AND global_popularity_score >= $1 AND family_crm IS NOT NULL
		ORDER BY product_key
	`, minPopularity)
}

// InsertAlias registers a new alias. Existing aliases are immutable;
// re-registering the same label_norm is a silent no-op.
func (s *CatalogSQL) InsertAlias(ctx context.Context, alias schema.ProductAlias) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_alias (label_norm, product_key, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (label_norm) DO NOTHING
	`, alias.LabelNorm, alias.ProductKey, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: insert alias %s: %w", alias.LabelNorm, err)
	}
	return nil
}

// LoadAliases returns the full alias mapping {label_norm: product_key}.
func (s *CatalogSQL) LoadAliases(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label_norm, product_key FROM product_alias`)
	if err != nil {
		return nil, fmt.Errorf("store: load aliases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]string{}
	for rows.Next() {
		var labelNorm, productKey string
		if err := rows.Scan(&labelNorm, &productKey); err != nil {
			return nil, err
		}
		out[labelNorm] = productKey
	}
	return out, rows.Err()
}

// UpsertStockLevel refreshes the inventory position of one product at
// one warehouse.
func (s *CatalogSQL) UpsertStockLevel(ctx context.Context, st *schema.StockLevel) error {
	key := st.StockKey
	if key == "" {
		key = strings.Join([]string{st.ProductKey, st.Warehouse}, "-")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_level
		(stock_key, product_key, warehouse, quantity_units, quantity_bottles_75cl_eq, reserved_qty, available_qty, last_count_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (stock_key) DO UPDATE SET
			quantity_units = excluded.quantity_units,
			quantity_bottles_75cl_eq = excluded.quantity_bottles_75cl_eq,
			reserved_qty = excluded.reserved_qty,
			available_qty = excluded.available_qty,
			last_count_date = excluded.last_count_date
	`, key, st.ProductKey, st.Warehouse, st.QtyUnits, st.QtyBottlesEq, st.ReservedQty, st.AvailableQty, st.LastCountDate)
	if err != nil {
		return fmt.Errorf("store: upsert stock %s: %w", key, err)
	}
	return nil
}
