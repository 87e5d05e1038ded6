//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Default build. modernc.org/sqlite needs no C toolchain and ships FTS5;
// vector search loads the model's embeddings and ranks them in Go.
//
//   CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable reports whether vec_distance_cosine can be used
	VectorExtensionAvailable = false

	// BuildMode is reported in CorpusStatus.Backend
	BuildMode = "purego"
)
