package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/cavistelabs/sommelier/pkg/reco"
)

func runRecommendCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("recommend", flag.ContinueOnError)
	fs.SetOutput(stderr)
	customer := fs.String("customer", "", "generate for one customer code")
	limit := fs.Int("limit", 0, "batch mode: max customers (default from config)")
	maxK := fs.Int("k", 0, "slate size (default from config)")
	noSilence := fs.Bool("ignore-silence", false, "skip the silence window check")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close(ctx)

	engine := reco.NewEngine(a.customers, a.catalog, a.recos, a.provider, a.cfg.SilenceWindowDays)
	engine.Workers = a.cfg.BatchWorkers

	opts := reco.DefaultOptions()
	opts.MaxK = a.cfg.MaxRecommendations
	if *maxK > 0 {
		opts.MaxK = *maxK
	}
	if *noSilence {
		opts.SilenceCheck = false
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if *customer != "" {
		result, ok, err := engine.Recommend(ctx, *customer, opts)
		if err != nil {
			return fail(stderr, err)
		}
		if err := enc.Encode(result); err != nil {
			return fail(stderr, err)
		}
		if !ok {
			return 1
		}
		return 0
	}

	entries, err := engine.RecommendBatch(ctx, nil, *limit, opts)
	if err != nil {
		return fail(stderr, err)
	}
	summary := struct {
		Total     int      `json:"total"`
		Succeeded int      `json:"succeeded"`
		Skipped   int      `json:"skipped"`
		Failed    []string `json:"failed,omitempty"`
	}{Total: len(entries)}
	for code, entry := range entries {
		switch {
		case entry.Err != nil:
			summary.Failed = append(summary.Failed, fmt.Sprintf("%s: %v", code, entry.Err))
		case entry.Success:
			summary.Succeeded++
		default:
			summary.Skipped++
		}
	}
	if err := enc.Encode(summary); err != nil {
		return fail(stderr, err)
	}
	if len(summary.Failed) > 0 {
		return 1
	}
	return 0
}
