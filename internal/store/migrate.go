// Copyright 2025 James Ross
// Package store holds the Postgres schema migrations, row models and the
// JSONMap column type for Harmony's tables: queue_jobs/dead_letter (owned
// in SQL terms by internal/queue), artists, releases, audit events,
// watchlist entries, downloads, and ingest jobs/items. It has no
// repository helpers; the packages that use a table issue its SQL.
package store

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending migration embedded in the binary.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}
