// Package searcher resolves clinical entity text to ranked regional codes.
//
// A resolution runs two retrieval passes concurrently and blends them:
//   - Lexical: query terms against the corpus full-text index, relevance
//     normalized against the best hit of the batch into [0, 1]
//   - Vector: cosine similarity between the query embedding and corpus
//     embeddings of the same model, clamped to [0, 1]
//
// Candidates from both passes are unioned by (code system, country, code);
// a row found by one pass scores 0 for the other. The combined score is
//
//	combined = w_lex*lexical + w_vec*vector
//
// with a default blend of 0.3/0.7 and optional per entity type overrides.
//
// # Basic Usage
//
//	queries := searcher.NewQueryEmbedder(emb, 1000, nil, logger)
//	retriever := searcher.NewRetriever(store, queries, searcher.RetrieverConfig{}, logger)
//	s := searcher.NewSearcher(retriever, searcher.Config{}, logger)
//
//	resp, err := s.Resolve(ctx, searcher.ResolveRequest{
//	    EntityText: "Amoxicillin 500mg",
//	    EntityType: types.EntityMedication,
//	    Country:    "AU",
//	})
//	if resp.Best != nil {
//	    fmt.Println(resp.Best.CodeValue, resp.Confidence)
//	}
//
// # Degraded Retrieval
//
// When the query embedding cannot be produced within the embed timeout the
// vector pass is dropped and lexical scores carry the full weight. When the
// lexical pass fails the vector scores do. Only when both fail does Resolve
// report StatusRetrievalUnavailable, which is distinct from StatusNoMatch.
//
// # Selection
//
// Candidates below MinSimilarity are dropped, the rest are ordered by
// combined score, then vector score, then code value, and ranked from 1.
// Confidence is bucketed from the best combined score: high above 0.7,
// medium above 0.5, low otherwise.
package searcher
