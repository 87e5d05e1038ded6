// Package indexer runs the offline corpus jobs that keep the code corpus
// searchable: CSV import, text normalization and embedding.
//
// # Basic Usage
//
//	idx := indexer.New(store, emb, logger)
//
//	stats, err := idx.EmbedCorpus(ctx, &indexer.Config{
//	    Filter:    storage.Filter{CountryCode: "AU"},
//	    BatchSize: 50,
//	})
//
//	fmt.Printf("embedded %d, failed %d, skipped %d in %v\n",
//	    stats.Succeeded, stats.Failed, stats.Skipped, stats.Elapsed)
//
// # Resumability
//
// EmbedCorpus only selects rows with no embedding, or one produced by a
// different model, and writes each row as soon as its vector arrives. A second
// run over an unchanged corpus makes no provider calls. Switching the
// configured model makes every row eligible again.
//
// # Dry Runs
//
// Config.DryRunLimit caps the rows processed and fills Statistics.Samples with
// display name / normalized text pairs for review before paying for a full run.
//
// # Concurrency
//
// Only one job runs per Indexer at a time (see JobLock). Within a job rows
// are processed batch by batch in code_value order. Config.Workers can split a
// batch across up to four concurrent provider calls; provider-side pacing still
// applies to every call.
package indexer
