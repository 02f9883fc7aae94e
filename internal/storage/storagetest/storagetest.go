// Package storagetest provides a migrated SQLite database for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/0x0BSoD/feedRelay/internal/storage"
)

func NewDB(t testing.TB) *sqlx.DB {
	t.Helper()

	db, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "deliveries.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, storage.Migrate(db))

	return db
}

// Count returns the number of delivery records stored for the item.
func Count(t testing.TB, db *sqlx.DB, feedID, guid string) int {
	t.Helper()

	var n int
	err := db.Get(&n, db.Rebind(`SELECT COUNT(*) FROM deliveries WHERE feed_id = ? AND guid = ?`), feedID, guid)
	require.NoError(t, err)
	return n
}
