package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cavistelabs/sommelier/pkg/artifacts"
	"github.com/cavistelabs/sommelier/pkg/outbound"
)

// bundleArchiver adapts the artifacts archive to the exporter, which
// has no use for the returned entry.
type bundleArchiver struct {
	archive *artifacts.Archive
}

var _ outbound.Archiver = bundleArchiver{}

func (b bundleArchiver) ExportBundle(ctx context.Context, runID, name string, data []byte) error {
	_, err := b.archive.ExportBundle(ctx, runID, name, data)
	return err
}

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	runID := fs.String("run", "", "run to export (default: latest)")
	archive := fs.Bool("archive", false, "keep a copy of the bundle in the archive")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close(ctx)

	var archiver outbound.Archiver
	if *archive {
		blobs, err := artifacts.NewStore(ctx, a.cfg)
		if err != nil {
			return fail(stderr, err)
		}
		archiver = bundleArchiver{artifacts.NewArchive(blobs)}
	}

	run, err := resolveRun(ctx, a, *runID)
	if err != nil {
		return fail(stderr, err)
	}

	exporter := outbound.NewExporter(a.customers, a.recos, archiver, a.cfg.ExportSigningKey)
	export, err := exporter.BuildCampaign(ctx, run.RunID)
	if err != nil {
		return fail(stderr, err)
	}

	if err := os.MkdirAll(a.cfg.ExportDir, 0o755); err != nil {
		return fail(stderr, fmt.Errorf("create export dir: %w", err))
	}
	path := filepath.Join(a.cfg.ExportDir, fmt.Sprintf("campaign-%s.csv", export.ExportID))
	if err := os.WriteFile(path, export.CSV, 0o644); err != nil {
		return fail(stderr, fmt.Errorf("write bundle: %w", err))
	}

	out := struct {
		*outbound.Export
		Path string `json:"path"`
	}{Export: export, Path: path}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fail(stderr, err)
	}
	return 0
}
