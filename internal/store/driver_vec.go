//go:build sqlite_vec && cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// With the sqlite_vec tag the cgo driver carries the sqlite-vec extension,
// enabling vec0 virtual tables for ANN search.
const driverName = "sqlite3"
