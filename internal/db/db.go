package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crucial707/equipment-manager/internal/config"
	_ "github.com/lib/pq"
)

// Connect opens the Postgres pool described by cfg and verifies it with a ping.
// A failed ping is returned classified, so callers can tell bad credentials
// from an unreachable server.
func Connect(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	if cfg.DBConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Wrap("connect", fmt.Errorf("ping %s:%s/%s: %w", cfg.DBHost, cfg.DBPort, cfg.DBName, err))
	}

	return db, nil
}
