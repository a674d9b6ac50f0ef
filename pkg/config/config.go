package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds pipeline configuration.
type Config struct {
	LogLevel       string
	DatabaseURL    string
	DatabaseDriver string // "sqlite" or "postgres"

	SilenceWindowDays  int
	MaxRecommendations int
	BatchWorkers       int

	ExportDir      string
	ArchiveDir     string
	ArchiveBackend string // "fs", "s3" or "gcs"
	ArchiveBucket  string
	ArchiveRegion  string
	ArchivePrefix  string

	RedisAddr        string
	ExportSigningKey string

	PolicyFile     string
	ConnectorsFile string

	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to a local SQLite file
		dbURL = "file:sommelier.db"
	}

	driver := os.Getenv("DATABASE_DRIVER")
	if driver == "" {
		driver = driverFor(dbURL)
	}

	exportDir := os.Getenv("EXPORT_DIR")
	if exportDir == "" {
		exportDir = "exports"
	}

	archiveBackend := os.Getenv("ARCHIVE_BACKEND")
	if archiveBackend == "" {
		archiveBackend = "fs"
	}

	archiveDir := os.Getenv("ARCHIVE_DIR")
	if archiveDir == "" {
		archiveDir = "archive"
	}

	return &Config{
		LogLevel:           logLevel,
		DatabaseURL:        dbURL,
		DatabaseDriver:     driver,
		SilenceWindowDays:  envInt("SILENCE_WINDOW_DAYS", 30),
		MaxRecommendations: envInt("MAX_RECOMMENDATIONS", 3),
		BatchWorkers:       envInt("BATCH_WORKERS", 4),
		ExportDir:          exportDir,
		ArchiveDir:         archiveDir,
		ArchiveBackend:     archiveBackend,
		ArchiveBucket:      os.Getenv("ARCHIVE_BUCKET"),
		ArchiveRegion:      os.Getenv("ARCHIVE_REGION"),
		ArchivePrefix:      os.Getenv("ARCHIVE_PREFIX"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		ExportSigningKey:   os.Getenv("EXPORT_SIGNING_KEY"),
		PolicyFile:         os.Getenv("POLICY_FILE"),
		ConnectorsFile:     os.Getenv("CONNECTORS_FILE"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

// driverFor infers the database/sql driver name from the connection URL.
func driverFor(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
