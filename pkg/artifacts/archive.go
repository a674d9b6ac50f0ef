package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// EntryKind distinguishes what a blob is.
type EntryKind string

const (
	KindSourceFile   EntryKind = "source_file"
	KindExportBundle EntryKind = "export_bundle"
)

// Entry describes one archived blob.
type Entry struct {
	Hash       string    `json:"hash"`
	Kind       EntryKind `json:"kind"`
	Name       string    `json:"name"`
	Ref        string    `json:"ref"` // batch_id or run_id
	Size       int       `json:"size"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Archive files ingested sources and outbound export bundles into a
// content-addressed store.
type Archive struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewArchive(store Store) *Archive {
	return &Archive{
		store: store,
		log:   slog.Default().With("component", "artifacts"),
		now:   time.Now,
	}
}

// SourceFile archives the on-disk file an ingestion batch was loaded
// from, so the batch can be re-validated against the exact bytes later.
func (a *Archive) SourceFile(ctx context.Context, batchID, path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifacts: read source file: %w", err)
	}
	return a.put(ctx, KindSourceFile, filepath.Base(path), batchID, data)
}

// ExportBundle archives an outbound export before it leaves the system.
func (a *Archive) ExportBundle(ctx context.Context, runID, name string, data []byte) (*Entry, error) {
	return a.put(ctx, KindExportBundle, name, runID, data)
}

// Retrieve returns the archived bytes for one entry hash.
func (a *Archive) Retrieve(ctx context.Context, hash string) ([]byte, error) {
	return a.store.Get(ctx, hash)
}

func (a *Archive) put(ctx context.Context, kind EntryKind, name, ref string, data []byte) (*Entry, error) {
	hash, err := a.store.Put(ctx, data)
	if err != nil {
		return nil, err
	}
	entry := &Entry{
		Hash:       hash,
		Kind:       kind,
		Name:       name,
		Ref:        ref,
		Size:       len(data),
		ArchivedAt: a.now().UTC(),
	}
	a.log.InfoContext(ctx, "archived blob",
		"kind", string(kind), "name", name, "ref", ref, "hash", hash, "size", entry.Size)
	return entry, nil
}
