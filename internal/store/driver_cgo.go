//go:build cgosqlite

package store

import (
	_ "github.com/mattn/go-sqlite3" // CGO SQLite driver
)

// driverName selects the database/sql driver. Build with -tags
// cgosqlite for the CGO driver when native SQLite performance matters.
const driverName = "sqlite3"
