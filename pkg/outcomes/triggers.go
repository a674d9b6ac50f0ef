package outcomes

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// modelVersion is stamped onto every trigger so operators can tell
// which scoring release a degradation signal refers to.
var modelVersion = semver.MustParse("1.0.0")

// Degradation thresholds. Fixed constants, not env-tunable.
const (
	performanceDropFactor  = 0.9
	satisfactionDropFactor = 0.85
	maxReturnRate          = 0.15
	minAcceptanceRate      = 0.5
)

// CheckTriggers compares the current aggregate against a previous one
// and returns every improvement trigger that fires. previous may be nil
// when no earlier window exists; only the absolute thresholds apply
// then. Triggers are diagnostics, never errors, and the result depends
// only on the two inputs.
func CheckTriggers(current, previous *schema.OutcomeMetrics, now time.Time) []schema.ImprovementTrigger {
	var out []schema.ImprovementTrigger
	add := func(typ string, sev schema.TriggerSeverity, desc string) {
		out = append(out, schema.ImprovementTrigger{
			Type:        typ,
			Severity:    sev,
			Description: desc,
			CodeVersion: modelVersion.String(),
			DetectedAt:  now.UTC(),
		})
	}

	if previous != nil {
		if current.PurchaseRate < performanceDropFactor*previous.PurchaseRate {
			add(schema.TriggerPerformanceDrop, schema.TriggerHigh,
				fmt.Sprintf("purchase rate %.3f fell below %.3f (90%% of previous %.3f)",
					current.PurchaseRate, performanceDropFactor*previous.PurchaseRate, previous.PurchaseRate))
		}
		if current.AvgSatisfaction < satisfactionDropFactor*previous.AvgSatisfaction {
			add(schema.TriggerSatisfactionDrop, schema.TriggerMedium,
				fmt.Sprintf("avg satisfaction %.2f fell below %.2f (85%% of previous %.2f)",
					current.AvgSatisfaction, satisfactionDropFactor*previous.AvgSatisfaction, previous.AvgSatisfaction))
		}
	}
	if current.ReturnRate > maxReturnRate {
		add(schema.TriggerHighReturnRate, schema.TriggerHigh,
			fmt.Sprintf("return rate %.3f exceeds %.2f", current.ReturnRate, maxReturnRate))
	}
	if current.Total > 0 && current.AcceptanceRate < minAcceptanceRate {
		add(schema.TriggerLowAcceptanceRate, schema.TriggerMedium,
			fmt.Sprintf("acceptance rate %.3f below %.2f", current.AcceptanceRate, minAcceptanceRate))
	}
	return out
}
