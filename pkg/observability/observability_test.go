package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "sommelier", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewDisabledProvider(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// A disabled provider must still hand out usable tracers.
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestTrackOperationDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, done := p.TrackOperation(context.Background(), "ingest",
		attribute.String("file_type", "customers"),
	)
	require.NotNil(t, ctx)
	require.NotPanics(t, func() { done(nil) })

	_, done = p.TrackOperation(context.Background(), "transform")
	require.NotPanics(t, func() { done(errors.New("stage failed")) })
}

func TestShutdownWithoutInit(t *testing.T) {
	p := &Provider{config: DefaultConfig()}
	require.NoError(t, p.Shutdown(context.Background()))
}
