package reco

import (
	"context"
	"fmt"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// Explainer assembles per-scenario explanation templates. Every lookup
// failure falls back to generic copy; Explain never returns an error.
type Explainer struct {
	customers CustomerReader
	catalog   CatalogReader
}

func NewExplainer(customers CustomerReader, catalog CatalogReader) *Explainer {
	return &Explainer{customers: customers, catalog: catalog}
}

// Explain builds the title, reason and factual components for one
// recommendation.
func (e *Explainer) Explain(ctx context.Context, f *Features, score schema.RecoScore) schema.Explanation {
	label := score.ProductKey
	var popularity float64
	var premiumTier int
	if p, err := e.catalog.GetProduct(ctx, score.ProductKey); err == nil {
		if p.ProductLabel != "" {
			label = p.ProductLabel
		}
		popularity = p.GlobalPopularityScore
		premiumTier = p.PremiumTier
	}

	var expl schema.Explanation
	switch score.Scenario {
	case schema.ScenarioRebuy:
		expl.Title = "Time to restock a favorite"
		expl.Reason = fmt.Sprintf("You have enjoyed %s before and it may be time to restock.", label)
		if last, err := e.customers.LastPurchaseOf(ctx, f.CustomerCode, score.ProductKey); err == nil && last != nil {
			expl.Components = append(expl.Components,
				fmt.Sprintf("Last purchased on %s", last.Format("2006-01-02")))
		} else {
			expl.Components = append(expl.Components, "Previously purchased")
		}

	case schema.ScenarioCrossSell:
		expl.Title = "Something new to explore"
		expl.Reason = fmt.Sprintf("%s opens up a style outside your usual picks.", label)
		if len(f.TopFamilies) > 0 {
			expl.Components = append(expl.Components,
				fmt.Sprintf("A change from your favorite family %s", f.TopFamilies[0]))
		} else {
			expl.Components = append(expl.Components, "A new style to discover")
		}

	case schema.ScenarioUpsell:
		expl.Title = "A step up in the range"
		expl.Reason = fmt.Sprintf("%s is a premium pick matching your purchase history.", label)
		if premiumTier > 0 {
			expl.Components = append(expl.Components,
				fmt.Sprintf("Premium tier %d selection", premiumTier))
		} else {
			expl.Components = append(expl.Components, "Premium selection")
		}

	case schema.ScenarioWinback:
		expl.Title = "We picked this for your return"
		expl.Reason = fmt.Sprintf("It has been a while; %s is a crowd favorite worth coming back for.", label)
		expl.Components = append(expl.Components, "A house favorite among our customers")

	default: // NURTURE and anything unrecognized
		expl.Title = "A discovery for you"
		expl.Reason = fmt.Sprintf("%s is a well-loved bottle to get to know the range.", label)
		expl.Components = append(expl.Components, "Hand-picked discovery")
	}

	if popularity > 0 {
		expl.Components = append(expl.Components,
			fmt.Sprintf("Chosen by %.0f%% of similar customers", popularity*100))
	}
	expl.Components = append(expl.Components,
		fmt.Sprintf("Match score %.0f/100", score.FinalScore))
	return expl
}
