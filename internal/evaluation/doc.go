// Package evaluation measures resolve quality against labeled queries.
//
// Cases are JSON objects naming a query and the code it should resolve to.
// Evaluate reports top-1 accuracy, recall@k, mean reciprocal rank and the
// precision of each confidence bucket. SweepWeights repeats the evaluation
// over a grid of lexical/vector blends to pick weights from data rather
// than by hand.
package evaluation
