package runstore

import (
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Connect opens a *sqlx.DB against databaseURL through pgx's
// database/sql-compatible driver, pinging once to fail fast on bad
// credentials or an unreachable host. sqlx.DB needs a database/sql
// driver, not a native pgxpool.Pool, so this goes through
// jackc/pgx/v5/stdlib rather than pgxpool directly.
func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)
	return db, nil
}
