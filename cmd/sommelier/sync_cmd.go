package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/cavistelabs/sommelier/pkg/connector"
)

func runSyncCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "connector name from the connectors file")
	source := fs.String("source", "", "restrict to one source kind")
	since := fs.String("since", "", "incremental cursor (RFC 3339)")
	test := fs.Bool("test", false, "only test the connection")
	list := fs.Bool("list", false, "list configured connectors")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close(ctx)

	if a.cfg.ConnectorsFile == "" {
		return fail(stderr, fmt.Errorf("CONNECTORS_FILE is not configured"))
	}
	mgr := connector.NewManager(a.staging)
	if err := mgr.LoadFile(a.cfg.ConnectorsFile); err != nil {
		return fail(stderr, err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if *list {
		if err := enc.Encode(mgr.List()); err != nil {
			return fail(stderr, err)
		}
		return 0
	}
	if *name == "" {
		_, _ = fmt.Fprintln(stderr, "Usage: sommelier sync -name <connector> [-source kind] [-since ts] [-test]")
		return 2
	}
	if *test {
		if err := mgr.Test(ctx, *name); err != nil {
			return fail(stderr, err)
		}
		_, _ = fmt.Fprintf(stdout, "connection ok: %s\n", *name)
		return 0
	}

	opts := connector.ExtractOptions{Source: connector.SourceKind(*source)}
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			return fail(stderr, fmt.Errorf("parse -since: %w", err))
		}
		opts.LastSync = &t
	}

	result := mgr.Sync(ctx, *name, opts)
	if err := enc.Encode(result); err != nil {
		return fail(stderr, err)
	}
	if !result.Success {
		return 1
	}
	return 0
}
