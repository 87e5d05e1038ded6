package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/medcode-resolver/internal/searcher"
	"github.com/dshills/medcode-resolver/pkg/types"
)

// DefaultK is the cutoff for recall@k
const DefaultK = 5

var ErrNoCases = errors.New("no evaluation cases")

// Case is one labeled query
type Case struct {
	Query           string           `json:"query"`
	InterpretedText string           `json:"interpreted_text,omitempty"`
	EntityType      types.EntityType `json:"entity_type,omitempty"`
	Country         string           `json:"country,omitempty"`
	CodeSystem      string           `json:"code_system,omitempty"`
	ExpectedCode    string           `json:"expected_code"`
}

// Resolver is satisfied by *searcher.Searcher
type Resolver interface {
	Resolve(ctx context.Context, req searcher.ResolveRequest) (*searcher.ResolveResponse, error)
}

// LoadCases reads a JSON array of cases
func LoadCases(r io.Reader) ([]Case, error) {
	var cases []Case
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cases); err != nil {
		return nil, fmt.Errorf("decode cases: %w", err)
	}
	if len(cases) == 0 {
		return nil, ErrNoCases
	}
	for i, c := range cases {
		if strings.TrimSpace(c.Query) == "" {
			return nil, fmt.Errorf("case %d: query is required", i)
		}
		if strings.TrimSpace(c.ExpectedCode) == "" {
			return nil, fmt.Errorf("case %d: expected_code is required", i)
		}
		if c.EntityType != "" && !c.EntityType.Valid() {
			return nil, fmt.Errorf("case %d: %w %q", i, types.ErrInvalidEntityType, c.EntityType)
		}
	}
	return cases, nil
}

// LoadCasesFile reads cases from path
func LoadCasesFile(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cases: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadCases(f)
}

// Options configures an evaluation run
type Options struct {
	K             int               // recall@k cutoff (default 5)
	MinSimilarity float64           // Passed through to every resolve
	Weights       *searcher.Weights // nil uses the resolver's configured blend
	Logger        zerolog.Logger
}

// CaseResult is the outcome for one case
type CaseResult struct {
	Case       Case                `json:"case"`
	Status     types.ResolveStatus `json:"status"`
	Top1       string              `json:"top1,omitempty"`
	Score      float64             `json:"score"`
	Confidence types.Confidence    `json:"confidence"`
	Rank       int                 `json:"rank"` // Rank of the expected code, 0 when absent from the top k
}

// BucketStats measures precision of one confidence bucket
type BucketStats struct {
	Total     int     `json:"total"`
	Correct   int     `json:"correct"`
	Precision float64 `json:"precision"`
}

// Report aggregates a run
type Report struct {
	Weights      *searcher.Weights                 `json:"weights,omitempty"`
	K            int                               `json:"k"`
	Cases        int                               `json:"cases"`
	Top1Correct  int                               `json:"top1_correct"`
	FoundAtK     int                               `json:"found_at_k"`
	Unavailable  int                               `json:"unavailable"`
	Top1Accuracy float64                           `json:"top1_accuracy"`
	RecallAtK    float64                           `json:"recall_at_k"`
	MRR          float64                           `json:"mrr"`
	Buckets      map[types.Confidence]*BucketStats `json:"buckets"`
	Results      []CaseResult                      `json:"results,omitempty"`
}

// Evaluate resolves every case and scores the answers
func Evaluate(ctx context.Context, r Resolver, cases []Case, opts Options) (*Report, error) {
	if len(cases) == 0 {
		return nil, ErrNoCases
	}
	if opts.K <= 0 {
		opts.K = DefaultK
	}

	report := &Report{
		Weights: opts.Weights,
		K:       opts.K,
		Cases:   len(cases),
		Buckets: make(map[types.Confidence]*BucketStats),
		Results: make([]CaseResult, 0, len(cases)),
	}
	reciprocal := 0.0

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := r.Resolve(ctx, searcher.ResolveRequest{
			EntityText:      c.Query,
			InterpretedText: c.InterpretedText,
			EntityType:      c.EntityType,
			Country:         c.Country,
			CodeSystem:      c.CodeSystem,
			MaxCandidates:   opts.K,
			MinSimilarity:   opts.MinSimilarity,
			Weights:         opts.Weights,
		})
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", c.Query, err)
		}

		result := CaseResult{Case: c, Status: resp.Status, Confidence: resp.Confidence}
		if resp.Best != nil {
			result.Top1 = resp.Best.CodeValue
			result.Score = resp.Best.CombinedScore
		}
		for _, cand := range resp.Ranked {
			if cand.CodeValue == c.ExpectedCode {
				result.Rank = cand.Rank
				break
			}
		}
		report.Results = append(report.Results, result)

		if resp.Status == types.StatusRetrievalUnavailable {
			report.Unavailable++
		}
		if result.Rank == 1 {
			report.Top1Correct++
		}
		if result.Rank > 0 {
			report.FoundAtK++
			reciprocal += 1 / float64(result.Rank)
		} else {
			opts.Logger.Debug().
				Str("query", c.Query).
				Str("expected", c.ExpectedCode).
				Str("got", result.Top1).
				Msg("expected code not in top k")
		}

		if resp.Best != nil {
			bucket := report.Buckets[resp.Confidence]
			if bucket == nil {
				bucket = &BucketStats{}
				report.Buckets[resp.Confidence] = bucket
			}
			bucket.Total++
			if result.Rank == 1 {
				bucket.Correct++
			}
		}
	}

	n := float64(report.Cases)
	report.Top1Accuracy = float64(report.Top1Correct) / n
	report.RecallAtK = float64(report.FoundAtK) / n
	report.MRR = reciprocal / n
	for _, b := range report.Buckets {
		b.Precision = float64(b.Correct) / float64(b.Total)
	}
	return report, nil
}

// SweepPoint is one grid cell of a weight sweep
type SweepPoint struct {
	Weights      searcher.Weights `json:"weights"`
	Top1Accuracy float64          `json:"top1_accuracy"`
	RecallAtK    float64          `json:"recall_at_k"`
	MRR          float64          `json:"mrr"`
}

// SweepResult holds the grid and the winning blend
type SweepResult struct {
	Best       searcher.Weights `json:"best"`
	BestReport *Report          `json:"best_report"`
	Grid       []SweepPoint     `json:"grid"`
}

// SweepWeights evaluates w_lex from 0 to 1 in increments of step
// (w_vec = 1 - w_lex) and picks the blend with the best top-1 accuracy,
// then MRR. Ties keep the lower lexical weight.
func SweepWeights(ctx context.Context, r Resolver, cases []Case, step float64, opts Options) (*SweepResult, error) {
	if step <= 0 || step > 1 {
		return nil, fmt.Errorf("sweep step must be in (0, 1], got %v", step)
	}

	result := &SweepResult{}
	steps := int(math.Round(1 / step))
	for i := 0; i <= steps; i++ {
		lex := math.Min(1, math.Round(float64(i)*step*1000)/1000)
		w := searcher.Weights{Lexical: lex, Vector: math.Round((1-lex)*1000) / 1000}

		runOpts := opts
		runOpts.Weights = &w
		report, err := Evaluate(ctx, r, cases, runOpts)
		if err != nil {
			return nil, fmt.Errorf("weights %s: %w", w, err)
		}

		result.Grid = append(result.Grid, SweepPoint{
			Weights:      w,
			Top1Accuracy: report.Top1Accuracy,
			RecallAtK:    report.RecallAtK,
			MRR:          report.MRR,
		})
		if result.BestReport == nil || better(report, result.BestReport) {
			result.Best = w
			result.BestReport = report
		}
		opts.Logger.Info().
			Str("weights", w.String()).
			Float64("top1", report.Top1Accuracy).
			Float64("mrr", report.MRR).
			Msg("sweep point")
	}
	return result, nil
}

func better(a, b *Report) bool {
	if a.Top1Accuracy != b.Top1Accuracy {
		return a.Top1Accuracy > b.Top1Accuracy
	}
	return a.MRR > b.MRR
}
