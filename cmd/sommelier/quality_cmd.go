package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/cavistelabs/sommelier/pkg/audit"
	"github.com/cavistelabs/sommelier/pkg/schema"
)

func runQualityCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("quality", flag.ContinueOnError)
	fs.SetOutput(stderr)
	runID := fs.String("run", "", "run to score (default: latest)")
	report := fs.Bool("report", false, "list summaries instead of scoring one run")
	days := fs.Int("days", 30, "report window in days")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close(ctx)

	computer := audit.NewQualityComputer(a.recos, a.audits, a.cache)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if *report {
		summaries, err := computer.Report(ctx, *days)
		if err != nil {
			return fail(stderr, err)
		}
		if err := enc.Encode(summaries); err != nil {
			return fail(stderr, err)
		}
		return 0
	}

	run, err := resolveRun(ctx, a, *runID)
	if err != nil {
		return fail(stderr, err)
	}
	metrics, err := computer.Compute(ctx, run.RunID, run.TotalCustomers)
	if err != nil {
		return fail(stderr, err)
	}
	if err := enc.Encode(metrics); err != nil {
		return fail(stderr, err)
	}
	return 0
}

// resolveRun loads the named run, or the latest one when id is empty.
func resolveRun(ctx context.Context, a *app, id string) (*schema.RecoRun, error) {
	if id != "" {
		run, err := a.recos.GetRun(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", id, err)
		}
		return run, nil
	}
	run, err := a.recos.LatestRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}
