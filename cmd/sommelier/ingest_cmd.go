package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/cavistelabs/sommelier/pkg/artifacts"
	"github.com/cavistelabs/sommelier/pkg/ingest"
)

func runIngestCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fileType := fs.String("type", "", "file type: customers, sales_lines or contacts")
	path := fs.String("file", "", "path to the CSV file")
	archive := fs.Bool("archive", false, "archive the source file before staging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *fileType == "" || *path == "" {
		_, _ = fmt.Fprintln(stderr, "Usage: sommelier ingest -type <customers|sales_lines|contacts> -file <path> [-archive]")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close(ctx)

	ft := ingest.FileType(*fileType)
	if ft.StagingTable() == "" {
		return fail(stderr, fmt.Errorf("unknown file type %q", *fileType))
	}

	// Sales lines validate against the loaded customers and aliases.
	var refs *ingest.RefSets
	if ft == ingest.FileSalesLines {
		refs, err = buildRefSets(ctx, a)
		if err != nil {
			return fail(stderr, err)
		}
	}

	svc := ingest.NewService(a.staging, a.provider)
	report, err := svc.Ingest(ctx, ft, *path, refs)
	if err != nil {
		return fail(stderr, err)
	}

	if *archive {
		blobs, err := artifacts.NewStore(ctx, a.cfg)
		if err != nil {
			return fail(stderr, err)
		}
		if _, err := artifacts.NewArchive(blobs).SourceFile(ctx, report.BatchID, *path); err != nil {
			return fail(stderr, err)
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fail(stderr, err)
	}
	if report.ErrorRows > 0 {
		return 1
	}
	return 0
}

func buildRefSets(ctx context.Context, a *app) (*ingest.RefSets, error) {
	codes, err := a.customers.CustomerCodes(ctx, 0)
	if err != nil {
		return nil, err
	}
	aliases, err := a.catalog.LoadAliases(ctx)
	if err != nil {
		return nil, err
	}
	refs := &ingest.RefSets{
		CustomerCodes: make(map[string]bool, len(codes)),
		AliasNorms:    make(map[string]bool, len(aliases)),
	}
	for _, c := range codes {
		refs.CustomerCodes[c] = true
	}
	for norm := range aliases {
		refs.AliasNorms[norm] = true
	}
	return refs, nil
}
