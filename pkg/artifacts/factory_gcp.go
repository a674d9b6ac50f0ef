//go:build gcp

package artifacts

import (
	"context"
	"fmt"

	"github.com/cavistelabs/sommelier/pkg/config"
)

func newGCSFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.ArchiveBucket == "" {
		return nil, fmt.Errorf("artifacts: ARCHIVE_BUCKET is required for the gcs backend")
	}
	return NewGCSStore(ctx, GCSConfig{Bucket: cfg.ArchiveBucket, Prefix: cfg.ArchivePrefix})
}
