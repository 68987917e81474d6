// Package sqlitedriver registers modernc.org/sqlite (a pure-Go, no-cgo
// SQLite implementation) under the database/sql driver name "sqlite3", so
// the rest of the module can open databases without requiring a C
// toolchain at build time.
//
// Import this package for its side effects only:
//
//	import _ "github.com/ai-counsel/counsel/internal/sqlitedriver"
package sqlitedriver

import (
	"database/sql"

	"modernc.org/sqlite"
)

func init() {
	sql.Register("sqlite3", &sqlite.Driver{})
}
