// Package testutil opens throwaway SQLite databases with the production schema.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/db"
	"github.com/jmehdipour/commerce-sync/migrations"
	"github.com/jmoiron/sqlx"
)

// NewDB returns a migrated SQLite database that is closed when t ends.
func NewDB(t testing.TB) *sqlx.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	dbx, err := db.NewMySQLConnection(dsn, db.MySQLOpts{Driver: "sqlite3"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = dbx.Close() })

	if _, err := dbx.Exec(migrations.SQLite); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return dbx
}

// SeedProduct inserts a product and returns its id.
func SeedProduct(t testing.TB, dbx *sqlx.DB, name string, price int64) int64 {
	t.Helper()

	res, err := dbx.ExecContext(context.Background(),
		`INSERT INTO products (name, price, created_at) VALUES (?, ?, ?)`,
		name, price, time.Now().UTC())
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("seed product id: %v", err)
	}
	return id
}

// CountRows counts rows in table matching where (may be empty).
func CountRows(t testing.TB, dbx *sqlx.DB, table, where string, args ...any) int {
	t.Helper()

	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	if err := dbx.Get(&n, q, args...); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
