package connector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cavistelabs/sommelier/pkg/ingest"
	"github.com/cavistelabs/sommelier/pkg/store"
)

// FileExportSchema validates the file_export connector config.
const FileExportSchema = `{
	"type": "object",
	"properties": {
		"export_path": {"type": "string", "minLength": 1},
		"file_patterns": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		}
	},
	"required": ["export_path"]
}`

// defaultFilePatterns matches the naming convention of the merchant's
// nightly export job. Overridable per source kind via config.
var defaultFilePatterns = map[SourceKind]string{
	SourceCustomers:      "*client*",
	SourceProducts:       "*produit*",
	SourceSalesLines:     "*vente*",
	SourceStockLevels:    "*stock*",
	SourceContactHistory: "*contact*",
}

// stagingTables maps source kinds onto raw staging tables.
var stagingTables = map[SourceKind]string{
	SourceCustomers:      store.RawCustomers,
	SourceProducts:       store.RawProducts,
	SourceSalesLines:     store.RawSalesLines,
	SourceStockLevels:    store.RawStockLevels,
	SourceContactHistory: store.RawContacts,
}

// FileExport reads the most recent CSV export matching each configured
// glob. Column names are normalized on read (lower-case, underscores,
// diacritics stripped), so transform is a straight table mapping.
type FileExport struct {
	exportPath string
	patterns   map[SourceKind]string
	log        *slog.Logger
}

func NewFileExport(config map[string]any) (*FileExport, error) {
	if err := ValidateConfig(KindFileExport, FileExportSchema, config); err != nil {
		return nil, err
	}
	fe := &FileExport{
		exportPath: config["export_path"].(string),
		patterns:   map[SourceKind]string{},
		log:        slog.Default().With("component", "connector.file_export"),
	}
	for kind, pattern := range defaultFilePatterns {
		fe.patterns[kind] = pattern
	}
	if overrides, ok := config["file_patterns"].(map[string]any); ok {
		for kind, pattern := range overrides {
			if s, ok := pattern.(string); ok {
				fe.patterns[SourceKind(kind)] = s
			}
		}
	}
	return fe, nil
}

func (f *FileExport) Kind() Kind { return KindFileExport }

// TestConnection verifies the export directory exists and is listable.
func (f *FileExport) TestConnection(context.Context) error {
	info, err := os.Stat(f.exportPath)
	if err != nil {
		return fmt.Errorf("connector: export path %s: %w", f.exportPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("connector: export path %s is not a directory", f.exportPath)
	}
	return nil
}

// Extract reads the newest matching file per requested source kind.
// File exports expose no temporal cursor, so LastSync is ignored and
// the returned cursor is nil.
func (f *FileExport) Extract(ctx context.Context, opts ExtractOptions) (map[SourceKind][]RawRecord, *time.Time, error) {
	out := map[SourceKind][]RawRecord{}
	for kind, pattern := range f.patterns {
		if opts.Source != "" && opts.Source != kind {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		path, ok, err := f.newestMatch(pattern)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			out[kind] = nil
			continue
		}
		rows, err := ingest.ReadCSV(path)
		if err != nil {
			return nil, nil, fmt.Errorf("connector: read %s: %w", filepath.Base(path), err)
		}
		f.log.InfoContext(ctx, "extracted export file",
			"source", string(kind), "file", filepath.Base(path), "rows", len(rows))
		out[kind] = rows
	}
	return out, nil, nil
}

// newestMatch picks the most recently modified file for one glob.
func (f *FileExport) newestMatch(pattern string) (string, bool, error) {
	matches, err := filepath.Glob(filepath.Join(f.exportPath, pattern))
	if err != nil {
		return "", false, fmt.Errorf("connector: glob %s: %w", pattern, err)
	}
	var newest string
	var newestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = m
			newestMod = info.ModTime()
		}
	}
	return newest, newest != "", nil
}

// Transform maps each extracted source onto its staging table. Sources
// with no file this cycle come back as warnings, not errors.
func (f *FileExport) Transform(raw map[SourceKind][]RawRecord) (map[string][]RawRecord, []string, error) {
	out := map[string][]RawRecord{}
	var warnings []string
	for kind, rows := range raw {
		table, ok := stagingTables[kind]
		if !ok {
			return nil, nil, fmt.Errorf("connector: unknown source kind %q", kind)
		}
		if len(rows) == 0 {
			warnings = append(warnings, fmt.Sprintf("no export file for %s", kind))
			continue
		}
		out[table] = rows
	}
	return out, warnings, nil
}
