// Package storage persists the regional code corpus and serves the lexical
// and vector passes of hybrid retrieval.
//
// Two backends implement Storage:
//   - SQLiteStorage: FTS5 with bm25 for lexical search. Vector search uses
//     sqlite-vec when built with the sqlite_vec tag and a pure Go cosine scan
//     otherwise.
//   - PostgresStorage: a generated tsvector column ranked with ts_rank_cd and
//     a pgvector column with an HNSW cosine index.
//
// # Schema
//
// One row per (code_system, country_code, code_value) in code_entries. Each
// row carries its display name, optional search text, the normalized text that
// was embedded, and the embedding with the model that produced it. Re-importing
// a row with a different display name clears both the normalized text and the
// embedding so the next job run picks it up.
//
// # Scanning
//
// Maintenance scans page with a keyset Cursor over (code_value, id):
//
//	cursor := storage.Cursor{}
//	for {
//	    page, err := store.ListNeedingEmbedding(ctx, filter, model, cursor, 100)
//	    if err != nil || len(page) == 0 {
//	        break
//	    }
//	    // ...
//	    cursor = storage.After(page[len(page)-1])
//	}
//
// Search results carry raw engine scores. LexicalResult.Relevance is positive
// and only comparable within one result set; VectorResult.Similarity is the
// cosine similarity in [-1, 1].
package storage
