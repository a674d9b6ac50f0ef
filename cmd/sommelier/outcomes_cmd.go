package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/cavistelabs/sommelier/pkg/outcomes"
	"github.com/cavistelabs/sommelier/pkg/schema"
)

func runOutcomesCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: sommelier outcomes <record|feedback|metrics|triggers|abtest> [flags]")
		return 2
	}
	svcFor := func(ctx context.Context) (*app, *outcomes.Service, error) {
		a, err := newApp(ctx)
		if err != nil {
			return nil, nil, err
		}
		return a, outcomes.NewService(a.outcomes), nil
	}
	ctx := context.Background()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	switch args[0] {
	case "record":
		fs := flag.NewFlagSet("outcomes record", flag.ContinueOnError)
		fs.SetOutput(stderr)
		auditID := fs.String("audit", "", "audit entry the outcome belongs to")
		customer := fs.String("customer", "", "customer code")
		product := fs.String("product", "", "product key")
		status := fs.String("status", "", "PENDING, ACCEPTED, REJECTED, PURCHASED, NOT_PURCHASED or RETURNED")
		reason := fs.String("reason", "", "optional reason")
		amount := fs.Float64("amount", 0, "purchase amount")
		variant := fs.String("variant", "", "A/B variant label")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		a, svc, err := svcFor(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		defer a.close(ctx)
		event, err := svc.RecordOutcome(ctx, schema.OutcomeEvent{
			AuditID:      *auditID,
			CustomerCode: *customer,
			ProductKey:   *product,
			Status:       schema.OutcomeStatus(*status),
			Reason:       *reason,
			Amount:       *amount,
			Variant:      *variant,
		})
		if err != nil {
			return fail(stderr, err)
		}
		if err := enc.Encode(event); err != nil {
			return fail(stderr, err)
		}
		return 0

	case "feedback":
		fs := flag.NewFlagSet("outcomes feedback", flag.ContinueOnError)
		fs.SetOutput(stderr)
		customer := fs.String("customer", "", "customer code")
		product := fs.String("product", "", "product key")
		kind := fs.String("type", "survey", "feedback type")
		score := fs.Int("score", 0, "satisfaction score, 1 to 5")
		comment := fs.String("comment", "", "free-text comment")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		a, svc, err := svcFor(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		defer a.close(ctx)
		record, err := svc.RecordFeedback(ctx, schema.FeedbackRecord{
			CustomerCode: *customer,
			ProductKey:   *product,
			FeedbackType: *kind,
			Score:        *score,
			Comment:      *comment,
		})
		if err != nil {
			return fail(stderr, err)
		}
		if err := enc.Encode(record); err != nil {
			return fail(stderr, err)
		}
		return 0

	case "metrics":
		fs := flag.NewFlagSet("outcomes metrics", flag.ContinueOnError)
		fs.SetOutput(stderr)
		days := fs.Int("days", 30, "rolling window in days")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		a, svc, err := svcFor(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		defer a.close(ctx)
		metrics, err := svc.ComputeMetrics(ctx, *days)
		if err != nil {
			return fail(stderr, err)
		}
		if err := enc.Encode(metrics); err != nil {
			return fail(stderr, err)
		}
		return 0

	case "triggers":
		fs := flag.NewFlagSet("outcomes triggers", flag.ContinueOnError)
		fs.SetOutput(stderr)
		days := fs.Int("days", 30, "current window in days")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		a, svc, err := svcFor(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		defer a.close(ctx)
		// Baseline is the doubled window, which dilutes a recent drop
		// and so still trips the relative thresholds.
		current, err := svc.ComputeMetrics(ctx, *days)
		if err != nil {
			return fail(stderr, err)
		}
		previous, err := svc.ComputeMetrics(ctx, *days*2)
		if err != nil {
			return fail(stderr, err)
		}
		triggers := outcomes.CheckTriggers(current, previous, current.ComputedAt)
		if err := enc.Encode(triggers); err != nil {
			return fail(stderr, err)
		}
		if len(triggers) > 0 {
			return 1
		}
		return 0

	case "abtest":
		fs := flag.NewFlagSet("outcomes abtest", flag.ContinueOnError)
		fs.SetOutput(stderr)
		testID := fs.String("test", "", "test identifier")
		variantA := fs.String("a", "A", "first variant label")
		variantB := fs.String("b", "B", "second variant label")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *testID == "" {
			_, _ = fmt.Fprintln(stderr, "Usage: sommelier outcomes abtest -test <id> [-a A] [-b B]")
			return 2
		}
		a, svc, err := svcFor(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		defer a.close(ctx)
		result, err := svc.UpdateABTest(ctx, *testID, *variantA, *variantB)
		if err != nil {
			return fail(stderr, err)
		}
		if err := enc.Encode(result); err != nil {
			return fail(stderr, err)
		}
		return 0

	default:
		_, _ = fmt.Fprintf(stderr, "unknown outcomes subcommand %q\n", args[0])
		return 2
	}
}
