package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"
)

type doctorReport struct {
	Driver         string `json:"driver"`
	Database       string `json:"database"`
	DatabaseOK     bool   `json:"database_ok"`
	DatabaseError  string `json:"database_error,omitempty"`
	ArchiveBackend string `json:"archive_backend"`
	ExportDir      string `json:"export_dir"`
	ExportDirOK    bool   `json:"export_dir_ok"`
	SigningKeySet  bool   `json:"signing_key_set"`
	PolicyFile     string `json:"policy_file,omitempty"`
	ConnectorsFile string `json:"connectors_file,omitempty"`
	RedisAddr      string `json:"redis_addr,omitempty"`
}

// runDoctorCmd checks the wiring a deployment depends on and reports
// it without mutating anything.
func runDoctorCmd(stdout, stderr io.Writer) int {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close(ctx)

	report := doctorReport{
		Driver:         a.cfg.DatabaseDriver,
		Database:       a.cfg.DatabaseURL,
		ArchiveBackend: a.cfg.ArchiveBackend,
		ExportDir:      a.cfg.ExportDir,
		SigningKeySet:  a.cfg.ExportSigningKey != "",
		PolicyFile:     a.cfg.PolicyFile,
		ConnectorsFile: a.cfg.ConnectorsFile,
		RedisAddr:      a.cfg.RedisAddr,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.db.PingContext(pingCtx); err != nil {
		report.DatabaseError = err.Error()
	} else {
		report.DatabaseOK = true
	}

	if info, err := os.Stat(a.cfg.ExportDir); err == nil && info.IsDir() {
		report.ExportDirOK = true
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fail(stderr, err)
	}
	if !report.DatabaseOK {
		return 1
	}
	return 0
}
