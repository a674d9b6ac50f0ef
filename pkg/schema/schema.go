// Package schema defines the canonical commercial data model: the typed
// entities every source connector projects into, and the closed
// enumerations shared by the transform pipeline, the recommendation
// engine, and the audit layer.
package schema

import "strings"

// ProductCategory classifies a wine product.
type ProductCategory string

const (
	CategoryRed               ProductCategory = "RED"
	CategoryWhite             ProductCategory = "WHITE"
	CategoryRose              ProductCategory = "ROSE"
	CategorySparklingNatural  ProductCategory = "SPARKLING_NATURAL"
	CategorySparkling         ProductCategory = "SPARKLING"
	CategoryFortified         ProductCategory = "FORTIFIED"
	CategoryOther             ProductCategory = "OTHER"
)

// PriceSegment buckets a unit list price in EUR.
type PriceSegment string

const (
	SegmentEntry    PriceSegment = "ENTRY"    // < 15
	SegmentStandard PriceSegment = "STANDARD" // [15, 30)
	SegmentPremium  PriceSegment = "PREMIUM"  // [30, 75)
	SegmentLuxury   PriceSegment = "LUXURY"   // >= 75
)

// PriceSegmentFor returns the segment for a unit list price in EUR.
func PriceSegmentFor(priceEUR float64) PriceSegment {
	switch {
	case priceEUR >= 75:
		return SegmentLuxury
	case priceEUR >= 30:
		return SegmentPremium
	case priceEUR >= 15:
		return SegmentStandard
	default:
		return SegmentEntry
	}
}

// CustomerSegment is the commercial segment derived from RFM scores.
type CustomerSegment string

const (
	SegmentVIP        CustomerSegment = "VIP"
	SegmentStd        CustomerSegment = "STANDARD"
	SegmentAtRisk     CustomerSegment = "AT_RISK"
	SegmentProspect   CustomerSegment = "PROSPECT"
	SegmentInactive   CustomerSegment = "INACTIVE"
)

// Scenario is a coarse recommendation intent.
type Scenario string

const (
	ScenarioRebuy     Scenario = "REBUY"
	ScenarioCrossSell Scenario = "CROSS_SELL"
	ScenarioUpsell    Scenario = "UPSELL"
	ScenarioWinback   Scenario = "WINBACK"
	ScenarioNurture   Scenario = "NURTURE"
)

// ScenarioPriority orders scenarios for deterministic tie-breaking when
// candidates from different scenarios carry equal scores. Lower wins.
func ScenarioPriority(s Scenario) int {
	switch s {
	case ScenarioRebuy:
		return 0
	case ScenarioUpsell:
		return 1
	case ScenarioCrossSell:
		return 2
	case ScenarioWinback:
		return 3
	case ScenarioNurture:
		return 4
	}
	return 5
}

// ApprovalStatus is the lifecycle state of a recommendation audit entry.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalFlagged  ApprovalStatus = "FLAGGED"
)

// QualityLevel grades a run-level quality score.
type QualityLevel string

const (
	QualityExcellent  QualityLevel = "EXCELLENT"  // >= 0.90
	QualityGood       QualityLevel = "GOOD"       // >= 0.75
	QualityAcceptable QualityLevel = "ACCEPTABLE" // >= 0.60
	QualityPoor       QualityLevel = "POOR"
)

// QualityLevelFor maps a composite quality score in [0,1] to its level.
func QualityLevelFor(score float64) QualityLevel {
	switch {
	case score >= 0.90:
		return QualityExcellent
	case score >= 0.75:
		return QualityGood
	case score >= 0.60:
		return QualityAcceptable
	default:
		return QualityPoor
	}
}

// ContactChannel is the channel of a marketing touch.
type ContactChannel string

const (
	ChannelEmail   ContactChannel = "EMAIL"
	ChannelSMS     ContactChannel = "SMS"
	ChannelPhone   ContactChannel = "PHONE"
	ChannelWebsite ContactChannel = "WEBSITE"
	ChannelDirect  ContactChannel = "DIRECT"
)

// BudgetLevel grades a customer's lifetime spend.
type BudgetLevel string

const (
	BudgetLuxury   BudgetLevel = "LUXURY"   // >= 500
	BudgetPremium  BudgetLevel = "PREMIUM"  // >= 200
	BudgetStandard BudgetLevel = "STANDARD" // >= 50
	BudgetLow      BudgetLevel = "BUDGET"
)

// BudgetLevelFor maps lifetime spend in EUR to a budget level.
func BudgetLevelFor(totalSpent float64) BudgetLevel {
	switch {
	case totalSpent >= 500:
		return BudgetLuxury
	case totalSpent >= 200:
		return BudgetPremium
	case totalSpent >= 50:
		return BudgetStandard
	default:
		return BudgetLow
	}
}

// AromaLevel qualifies the confidence of an aroma preference profile.
type AromaLevel string

const (
	AromaLow    AromaLevel = "LOW"
	AromaMedium AromaLevel = "MEDIUM"
	AromaHigh   AromaLevel = "HIGH"
)

// NormalizeQuantity converts a native quantity into 75-cl bottle
// equivalents. Bottles and unspecified units count 1x, magnums (150cl)
// 2x, twelve-bottle cases 12x. Unknown units pass through unchanged.
func NormalizeQuantity(qty float64, unit string) float64 {
	u := strings.ToLower(strings.TrimSpace(unit))
	switch {
	case u == "" || strings.Contains(u, "75") || strings.Contains(u, "bouteille") || strings.Contains(u, "bottle"):
		return qty
	case strings.Contains(u, "150") || strings.Contains(u, "magnum"):
		return qty * 2
	case strings.Contains(u, "caisse") || strings.Contains(u, "case"):
		return qty * 12
	default:
		return qty
	}
}
