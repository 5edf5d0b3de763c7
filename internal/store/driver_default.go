//go:build !(sqlite_vec && cgo)

package store

import (
	_ "modernc.org/sqlite"
)

// The pure-Go driver works everywhere without cgo. Semantic search runs
// in-process over stored embeddings.
const driverName = "sqlite"
