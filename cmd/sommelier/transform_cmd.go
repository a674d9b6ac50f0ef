package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/cavistelabs/sommelier/pkg/transform"
)

func runTransformCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("transform", flag.ContinueOnError)
	fs.SetOutput(stderr)
	batchID := fs.String("batch", "", "ingestion batch to transform")
	skipProfiles := fs.Bool("skip-profiles", false, "load clean tables but skip profile rebuild")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *batchID == "" {
		_, _ = fmt.Fprintln(stderr, "Usage: sommelier transform -batch <id> [-skip-profiles]")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close(ctx)

	profiles := transform.NewProfileBuilder(a.customers, a.catalog, a.profiles)
	pipeline := transform.NewPipeline(a.staging, a.customers, a.catalog, profiles, a.provider)

	status, ok := pipeline.Run(ctx, *batchID, *skipProfiles)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		return fail(stderr, err)
	}
	if !ok {
		return 1
	}
	return 0
}
