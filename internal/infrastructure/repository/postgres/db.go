package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// Advisory lock keys serializing bootstrap DDL across api and worker
// startups, one per schema area.
const (
	schemaLockPassages int64 = 2026082501
	schemaLockGraph    int64 = 2026082502
	schemaLockAnswers  int64 = 2026082503
	schemaLockAliases  int64 = 2026082504
)
