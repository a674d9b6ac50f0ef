package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavistelabs/sommelier/pkg/artifacts"
)

func TestBundleArchiverArchivesTheBundle(t *testing.T) {
	blobs, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)

	data := []byte("customer_code;email\nC001;a@example.com\n")
	archiver := bundleArchiver{artifacts.NewArchive(blobs)}
	require.NoError(t, archiver.ExportBundle(context.Background(), "run-1", "campaign-x.csv", data))

	sum := sha256.Sum256(data)
	ok, err := blobs.Exists(context.Background(), "sha256:"+hex.EncodeToString(sum[:]))
	require.NoError(t, err)
	assert.True(t, ok)
}
