// Package migrations embeds the schema for every supported store.
package migrations

import (
	_ "embed"
	"strings"
)

//go:embed 001_init.mysql.sql
var MySQL string

//go:embed 001_init.sqlite.sql
var SQLite string

//go:embed 001_init.clickhouse.sql
var ClickHouse string

// For returns the relational schema for a database/sql driver name.
func For(driver string) string {
	if driver == "sqlite3" {
		return SQLite
	}
	return MySQL
}

// Statements splits a script on ";" for drivers without multi-statement support.
func Statements(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
