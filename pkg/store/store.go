// Package store implements the SQL persistence layer: raw staging tables
// owned by ingestion batches, the clean canonical tables owned by the
// transform pipeline, and the derived tables owned by the recommendation,
// audit and outcome services. Every store works against both SQLite and
// Postgres through $1-style placeholders.
package store

import (
	"database/sql"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrBadDriver = errors.New("store: unknown driver")
)

// Driver names accepted by the stores.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// serialPK returns the auto-incrementing primary key clause for the
// driver. This is the only dialect difference the schema carries.
func serialPK(driver string) string {
	if driver == DriverPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// nullTime converts a nullable scan target to *time.Time.
func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// timeArg converts a *time.Time to a driver-friendly nullable value.
func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// nullStr maps empty strings to NULL so optional columns stay queryable
// with IS NULL on both drivers.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// strOf unwraps a nullable text column.
func strOf(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}
