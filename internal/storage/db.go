package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const sqliteBusyTimeoutMs = 5000

// Open connects to the delivery database and checks it is reachable. SQLite allows a single writer, so its
// pool is limited to one connection and every connection waits on a locked database instead of failing.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	if isSQLite(driver) {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", driver, err)
	}

	if isSQLite(driver) {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

func isSQLite(driver string) bool {
	return driver == "sqlite" || driver == "sqlite3"
}

func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "busy_timeout") {
		dsn += fmt.Sprintf("%s_pragma=busy_timeout(%d)", sep, sqliteBusyTimeoutMs)
		sep = "&"
	}
	if !strings.Contains(dsn, "journal_mode") {
		dsn += sep + "_pragma=journal_mode(WAL)"
	}
	return dsn
}
