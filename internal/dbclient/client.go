// Copyright 2025 James Ross
package dbclient

import (
	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// New returns a configured sqlx connection pool over Postgres, the
// relational-store analogue of the teacher's pooled Redis client.
func New(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	return db, nil
}
