// Package embedder generates vector embeddings through an external provider.
//
// The embedding service is assumed to be slow, rate limited and occasionally
// cold, so every provider call goes through a bounded retry loop with a fixed
// delay per failure class, and every returned vector is checked before anyone
// may store it.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider:  "http",
//	    URL:       "http://embeddings:8080/embed",
//	    Dimension: 768,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "amoxicillin",
//	})
//
// # Batch Processing
//
// GenerateBatch never fails because of one bad item. Each position carries
// either an embedding or an error:
//
//	stats := &embedder.CallStats{}
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: texts,
//	    Stats: stats,
//	})
//	for i, e := range resp.Embeddings {
//	    if resp.Errors[i] != nil {
//	        // mark row i failed, keep going
//	        continue
//	    }
//	    // persist e.Vector
//	}
//
// By default each text is a separate provider call, paced by CallInterval.
// With BatchRequests set, pending texts are sent together; a batch the provider
// rejects outright is retried one text at a time.
//
// # Failure Handling
//
// Classify sorts call errors into a FailureClass and RetryConfig gives the
// wait for each:
//
//	HTTP 503             ClassModelLoading  ModelLoadingDelay (5s)
//	HTTP 429             ClassRateLimited   RateLimitDelay (60s), counted in RateLimitHits
//	other 5xx, network   ClassTransient     TransientDelay (1s)
//	malformed, 4xx, ...  ClassPermanent     no retry
//
// After MaxAttempts (3) total attempts the item fails with ErrProviderFailed.
// Responses whose vectors have the wrong length fail with ErrDimensionMismatch;
// all-zero, NaN or infinite vectors fail with ErrInvalidVector.
//
// # Response Shapes
//
// Providers disagree on response layout. The parser recognizes a flat vector,
// one vector per input, token-level vectors (mean-pooled), and objects carrying
// "embedding", "embeddings" or OpenAI-style "data". Anything else is
// ErrMalformedResponse.
//
// # Providers
//
//   - http: any endpoint taking {"text": ...}, {"inputs": ...} or OpenAI bodies
//   - jina, openai: hosted presets of the http provider (API key required)
//   - local: offline hashed trigram vectors for development and tests
//
// # Caching
//
// Cache is an in-process LRU keyed by ComputeHash(model, text). RedisCache
// lets several resolver instances share query embeddings.
package embedder
