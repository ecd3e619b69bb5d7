//go:build !cgosqlite

package store

import (
	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// driverName selects the database/sql driver. The default build uses
// the pure Go driver so binaries cross-compile cleanly.
const driverName = "sqlite"
