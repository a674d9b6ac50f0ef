package artifacts

import (
	"context"
	"fmt"

	"github.com/cavistelabs/sommelier/pkg/config"
)

// NewStore builds the archive backend the config selects: "fs"
// (default), "s3", or "gcs".
func NewStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.ArchiveBackend {
	case "", "fs":
		return NewFileStore(cfg.ArchiveDir)
	case "s3":
		if cfg.ArchiveBucket == "" {
			return nil, fmt.Errorf("artifacts: ARCHIVE_BUCKET is required for the s3 backend")
		}
		region := cfg.ArchiveRegion
		if region == "" {
			region = "eu-west-3"
		}
		return NewS3Store(ctx, S3Config{
			Bucket: cfg.ArchiveBucket,
			Region: region,
			Prefix: cfg.ArchivePrefix,
		})
	case "gcs":
		return newGCSFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("artifacts: unsupported archive backend %q", cfg.ArchiveBackend)
	}
}
