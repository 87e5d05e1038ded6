//go:build sqlite_vec
// +build sqlite_vec

package storage

// Compiled with CGO and the sqlite_vec tag. Vector search computes cosine
// distance in SQL through the sqlite-vec extension.
//
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
//
// The fts5 tag is required by mattn/go-sqlite3 for the code_entries_fts table.

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable reports whether vec_distance_cosine can be used
	VectorExtensionAvailable = true

	// BuildMode is reported in CorpusStatus.Backend
	BuildMode = "cgo"
)
