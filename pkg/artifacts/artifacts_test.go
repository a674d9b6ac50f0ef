package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavistelabs/sommelier/pkg/config"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "archive"))
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("customer_code;name\nC001;Martin\n")
	hash, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.True(t, len(hash) > 7 && hash[:7] == "sha256:")

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := store.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same bytes, same address.
	again, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	require.NoError(t, store.Delete(ctx, hash))
	ok, err = store.Exists(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreRejectsBadHashes(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, "not-a-hash")
	assert.Error(t, err)
	_, err = store.Get(ctx, "sha256:zzzz")
	assert.Error(t, err)
}

func TestNewStoreBackendSelection(t *testing.T) {
	ctx := context.Background()

	fsCfg := &config.Config{ArchiveBackend: "fs", ArchiveDir: t.TempDir()}
	store, err := NewStore(ctx, fsCfg)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	_, err = NewStore(ctx, &config.Config{ArchiveBackend: "s3"})
	assert.Error(t, err) // bucket required

	_, err = NewStore(ctx, &config.Config{ArchiveBackend: "tape"})
	assert.Error(t, err)
}

func TestArchiveSourceFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "ventes_2026-08.csv")
	require.NoError(t, os.WriteFile(src, []byte("doc_ref;quantity\nF1;6\n"), 0o644))

	store, err := NewFileStore(filepath.Join(dir, "archive"))
	require.NoError(t, err)
	archive := NewArchive(store)

	entry, err := archive.SourceFile(context.Background(), "batch-1", src)
	require.NoError(t, err)
	assert.Equal(t, KindSourceFile, entry.Kind)
	assert.Equal(t, "ventes_2026-08.csv", entry.Name)
	assert.Equal(t, "batch-1", entry.Ref)
	assert.Equal(t, 22, entry.Size)

	data, err := archive.Retrieve(context.Background(), entry.Hash)
	require.NoError(t, err)
	assert.Equal(t, "doc_ref;quantity\nF1;6\n", string(data))
}

func TestArchiveExportBundle(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	archive := NewArchive(store)

	entry, err := archive.ExportBundle(context.Background(), "run-1", "campaign.csv", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, KindExportBundle, entry.Kind)
	assert.Equal(t, "run-1", entry.Ref)
}
