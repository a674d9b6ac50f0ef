package config_test

import (
	"testing"

	"github.com/cavistelabs/sommelier/pkg/config"
	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("SILENCE_WINDOW_DAYS", "")
	t.Setenv("MAX_RECOMMENDATIONS", "")
	t.Setenv("BATCH_WORKERS", "")
	t.Setenv("ARCHIVE_BACKEND", "")

	cfg := config.Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "file:sommelier.db", cfg.DatabaseURL)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 30, cfg.SilenceWindowDays)
	assert.Equal(t, 3, cfg.MaxRecommendations)
	assert.Equal(t, 4, cfg.BatchWorkers)
	assert.Equal(t, "fs", cfg.ArchiveBackend)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://sommelier@localhost:5432/crm?sslmode=disable")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("SILENCE_WINDOW_DAYS", "14")
	t.Setenv("MAX_RECOMMENDATIONS", "5")

	cfg := config.Load()

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 14, cfg.SilenceWindowDays)
	assert.Equal(t, 5, cfg.MaxRecommendations)
}

// TestLoad_BadIntFallsBack verifies malformed numeric env vars fall back
// to defaults instead of failing startup.
func TestLoad_BadIntFallsBack(t *testing.T) {
	t.Setenv("SILENCE_WINDOW_DAYS", "not-a-number")
	t.Setenv("MAX_RECOMMENDATIONS", "-2")

	cfg := config.Load()

	assert.Equal(t, 30, cfg.SilenceWindowDays)
	assert.Equal(t, 3, cfg.MaxRecommendations)
}
