package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// ProfileSQL persists master profiles, keyed by customer_code. Profiles
// are rebuilt wholesale by each transform run, so the upsert replaces
// every derived column.
type ProfileSQL struct {
	db     *sql.DB
	driver string
}

func NewProfileSQL(db *sql.DB, driver string) *ProfileSQL {
	return &ProfileSQL{db: db, driver: driver}
}

func (s *ProfileSQL) Migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS master_profile (
	id %s,
	customer_code TEXT NOT NULL UNIQUE,
	first_order_date TIMESTAMP,
	last_order_date TIMESTAMP,
	recency_days INTEGER NOT NULL DEFAULT 0,
	order_count INTEGER NOT NULL DEFAULT 0,
	revenue_ht REAL NOT NULL DEFAULT 0,
	r_score INTEGER NOT NULL DEFAULT 0,
	f_score INTEGER NOT NULL DEFAULT 0,
	m_score INTEGER NOT NULL DEFAULT 0,
	rfm TEXT,
	segment TEXT,
	top_family_1 TEXT, top_family_1_ca_share REAL NOT NULL DEFAULT 0,
	top_family_2 TEXT, top_family_2_ca_share REAL NOT NULL DEFAULT 0,
	family_diversity_score REAL NOT NULL DEFAULT 0,
	top_grape_1 TEXT, top_grape_1_ca_share REAL NOT NULL DEFAULT 0,
	top_grape_2 TEXT, top_grape_2_ca_share REAL NOT NULL DEFAULT 0,
	top_sugar_1 TEXT, top_sugar_1_ca_share REAL NOT NULL DEFAULT 0,
	top_sugar_2 TEXT, top_sugar_2_ca_share REAL NOT NULL DEFAULT 0,
	top_price_band_1 TEXT, top_price_band_1_ca_share REAL NOT NULL DEFAULT 0,
	top_price_band_2 TEXT, top_price_band_2_ca_share REAL NOT NULL DEFAULT 0,
	aroma_axe_1 TEXT, aroma_score_1 REAL NOT NULL DEFAULT 0,
	aroma_axe_2 TEXT, aroma_score_2 REAL NOT NULL DEFAULT 0,
	aroma_axe_3 TEXT, aroma_score_3 REAL NOT NULL DEFAULT 0,
	aroma_confidence REAL NOT NULL DEFAULT 0,
	aroma_level TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`, serialPK(s.driver))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("store: migrate master_profile: %w", err)
	}
	return nil
}

func (s *ProfileSQL) UpsertProfile(ctx context.Context, p *schema.MasterProfile) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO master_profile (
			customer_code, first_order_date, last_order_date, recency_days, order_count, revenue_ht,
			r_score, f_score, m_score, rfm, segment,
			top_family_1, top_family_1_ca_share, top_family_2, top_family_2_ca_share, family_diversity_score,
			top_grape_1, top_grape_1_ca_share, top_grape_2, top_grape_2_ca_share,
			top_sugar_1, top_sugar_1_ca_share, top_sugar_2, top_sugar_2_ca_share,
			top_price_band_1, top_price_band_1_ca_share, top_price_band_2, top_price_band_2_ca_share,
			aroma_axe_1, aroma_score_1, aroma_axe_2, aroma_score_2, aroma_axe_3, aroma_score_3,
			aroma_confidence, aroma_level, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37,$38)
		ON CONFLICT (customer_code) DO UPDATE SET
			first_order_date = excluded.first_order_date,
			last_order_date = excluded.last_order_date,
			recency_days = excluded.recency_days,
			order_count = excluded.order_count,
			revenue_ht = excluded.revenue_ht,
			r_score = excluded.r_score,
			f_score = excluded.f_score,
			m_score = excluded.m_score,
			rfm = excluded.rfm,
			segment = excluded.segment,
			top_family_1 = excluded.top_family_1,
			top_family_1_ca_share = excluded.top_family_1_ca_share,
			top_family_2 = excluded.top_family_2,
			top_family_2_ca_share = excluded.top_family_2_ca_share,
			family_diversity_score = excluded.family_diversity_score,
			top_grape_1 = excluded.top_grape_1,
			top_grape_1_ca_share = excluded.top_grape_1_ca_share,
			top_grape_2 = excluded.top_grape_2,
			top_grape_2_ca_share = excluded.top_grape_2_ca_share,
			top_sugar_1 = excluded.top_sugar_1,
			top_sugar_1_ca_share = excluded.top_sugar_1_ca_share,
			top_sugar_2 = excluded.top_sugar_2,
			top_sugar_2_ca_share = excluded.top_sugar_2_ca_share,
			top_price_band_1 = excluded.top_price_band_1,
			top_price_band_1_ca_share = excluded.top_price_band_1_ca_share,
			top_price_band_2 = excluded.top_price_band_2,
			top_price_band_2_ca_share = excluded.top_price_band_2_ca_share,
			aroma_axe_1 = excluded.aroma_axe_1,
			aroma_score_1 = excluded.aroma_score_1,
			aroma_axe_2 = excluded.aroma_axe_2,
			aroma_score_2 = excluded.aroma_score_2,
			aroma_axe_3 = excluded.aroma_axe_3,
			aroma_score_3 = excluded.aroma_score_3,
			aroma_confidence = excluded.aroma_confidence,
			aroma_level = excluded.aroma_level,
			updated_at = excluded.updated_at
	`,
		p.CustomerCode, timeArg(p.FirstOrderDate), timeArg(p.LastOrderDate), p.RecencyDays, p.OrderCount, p.RevenueHT,
		p.RScore, p.FScore, p.MScore, nullStr(p.RFM), nullStr(string(p.Segment)),
		nullStr(p.TopFamily1), p.TopFamily1CAShare, nullStr(p.TopFamily2), p.TopFamily2CAShare, p.FamilyDiversityScore,
		nullStr(p.TopGrape1), p.TopGrape1CAShare, nullStr(p.TopGrape2), p.TopGrape2CAShare,
		nullStr(p.TopSugar1), p.TopSugar1CAShare, nullStr(p.TopSugar2), p.TopSugar2CAShare,
		nullStr(p.TopPriceBand1), p.TopPriceBand1CAShare, nullStr(p.TopPriceBand2), p.TopPriceBand2CAShare,
		nullStr(p.AromaAxe1), p.AromaScore1, nullStr(p.AromaAxe2), p.AromaScore2, nullStr(p.AromaAxe3), p.AromaScore3,
		p.AromaConfidence, nullStr(string(p.AromaLevel)), now, now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert profile %s: %w", p.CustomerCode, err)
	}
	return nil
}

// GetProfile returns the master profile of one customer or ErrNotFound.
func (s *ProfileSQL) GetProfile(ctx context.Context, code string) (*schema.MasterProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_code, first_order_date, last_order_date, recency_days, order_count, revenue_ht,
			r_score, f_score, m_score, rfm, segment,
			top_family_1, top_family_1_ca_share, top_family_2, top_family_2_ca_share, family_diversity_score,
			top_grape_1, top_grape_1_ca_share, top_grape_2, top_grape_2_ca_share,
			top_sugar_1, top_sugar_1_ca_share, top_sugar_2, top_sugar_2_ca_share,
			top_price_band_1, top_price_band_1_ca_share, top_price_band_2, top_price_band_2_ca_share,
			aroma_axe_1, aroma_score_1, aroma_axe_2, aroma_score_2, aroma_axe_3, aroma_score_3,
			aroma_confidence, aroma_level, created_at, updated_at
		FROM master_profile WHERE customer_code = $1
	`, code)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get profile %s: %w", code, err)
	}
	return p, nil
}

func scanProfile(row interface{ Scan(...any) error }) (*schema.MasterProfile, error) {
	var p schema.MasterProfile
	var first, last sql.NullTime
	var rfm, segment, fam1, fam2, grape1, grape2, sugar1, sugar2, band1, band2 sql.NullString
	var axe1, axe2, axe3, level sql.NullString
	err := row.Scan(
		&p.ID, &p.CustomerCode, &first, &last, &p.RecencyDays, &p.OrderCount, &p.RevenueHT,
		&p.RScore, &p.FScore, &p.MScore, &rfm, &segment,
		&fam1, &p.TopFamily1CAShare, &fam2, &p.TopFamily2CAShare, &p.FamilyDiversityScore,
		&grape1, &p.TopGrape1CAShare, &grape2, &p.TopGrape2CAShare,
		&sugar1, &p.TopSugar1CAShare, &sugar2, &p.TopSugar2CAShare,
		&band1, &p.TopPriceBand1CAShare, &band2, &p.TopPriceBand2CAShare,
		&axe1, &p.AromaScore1, &axe2, &p.AromaScore2, &axe3, &p.AromaScore3,
		&p.AromaConfidence, &level, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.FirstOrderDate, p.LastOrderDate = nullTime(first), nullTime(last)
	p.RFM = strOf(rfm)
	p.Segment = schema.CustomerSegment(strOf(segment))
	p.TopFamily1, p.TopFamily2 = strOf(fam1), strOf(fam2)
	p.TopGrape1, p.TopGrape2 = strOf(grape1), strOf(grape2)
	p.TopSugar1, p.TopSugar2 = strOf(sugar1), strOf(sugar2)
	p.TopPriceBand1, p.TopPriceBand2 = strOf(band1), strOf(band2)
	p.AromaAxe1, p.AromaAxe2, p.AromaAxe3 = strOf(axe1), strOf(axe2), strOf(axe3)
	p.AromaLevel = schema.AromaLevel(strOf(level))
	return &p, nil
}

// SegmentCounts returns how many profiles sit in each segment.
func (s *ProfileSQL) SegmentCounts(ctx context.Context) (map[schema.CustomerSegment]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT segment, COUNT(*) FROM master_profile WHERE segment IS NOT NULL GROUP BY segment
	`)
	if err != nil {
		return nil, fmt.Errorf("store: segment counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[schema.CustomerSegment]int{}
	for rows.Next() {
		var seg string
		var n int
		if err := rows.Scan(&seg, &n); err != nil {
			return nil, err
		}
		out[schema.CustomerSegment(seg)] = n
	}
	return out, rows.Err()
}
