//go:build !gcp

package artifacts

import (
	"context"
	"fmt"

	"github.com/cavistelabs/sommelier/pkg/config"
)

func newGCSFromConfig(context.Context, *config.Config) (Store, error) {
	return nil, fmt.Errorf("artifacts: gcs backend is not enabled in this build (use -tags gcp)")
}
