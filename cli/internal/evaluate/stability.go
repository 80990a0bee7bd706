package evaluate

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"diffmage/cli/internal/ollama"
)

// DefaultVarianceThreshold is the largest score range across runs that still
// counts as stable.
const DefaultVarianceThreshold = 0.2

// Run is one evaluation within a stability test.
type Run struct {
	Result   Result        `json:"result"`
	Duration time.Duration `json:"duration"`
}

// StabilityResult reports how much the judge's scores vary across repeated
// runs on the same input.
type StabilityResult struct {
	Runs    []Run `json:"runs"`
	What    Stats `json:"what"`
	Why     Stats `json:"why"`
	Overall Stats `json:"overall"`
	// Duration summarizes per-run wall time in seconds.
	Duration Stats `json:"duration_seconds"`
	// MaxVariance is the largest score Range of What, Why and Overall.
	MaxVariance float64 `json:"max_variance"`
	Threshold   float64 `json:"variance_threshold"`
	Stable      bool    `json:"stable"`
}

// Stability evaluates the same message runs times. threshold <= 0 uses
// DefaultVarianceThreshold.
func (e *Evaluator) Stability(ctx context.Context, message, diffText string, runs int, threshold float64) (*StabilityResult, error) {
	if message == "" || diffText == "" {
		return nil, errors.New("stability test needs a message and a diff")
	}
	if runs < 1 {
		return nil, errors.Newf("stability test needs at least one run, got %d", runs)
	}
	if threshold <= 0 {
		threshold = DefaultVarianceThreshold
	}
	out := &StabilityResult{Threshold: threshold}
	var what, why, overall, secs []float64
	for i := 0; i < runs; i++ {
		start := time.Now()
		r, err := e.Evaluate(ctx, message, diffText)
		if err != nil {
			return nil, errors.Wrapf(err, "stability run %d", i+1)
		}
		d := time.Since(start)
		out.Runs = append(out.Runs, Run{Result: *r, Duration: d})
		what = append(what, r.What)
		why = append(why, r.Why)
		overall = append(overall, r.Overall())
		secs = append(secs, d.Seconds())
	}
	out.What, out.Why, out.Overall = Describe(what), Describe(why), Describe(overall)
	out.Duration = Describe(secs)
	out.MaxVariance = max(out.What.Range, out.Why.Range, out.Overall.Range)
	out.Stable = out.MaxVariance <= threshold
	return out, nil
}

// Throughput holds generation speed derived from the server's counters.
type Throughput struct {
	Model             string  `json:"model"`
	PromptEvalCount   int     `json:"prompt_eval_count"`
	EvalCount         int     `json:"eval_count"`
	EvalRateTPS       float64 `json:"eval_rate_tps"`
	PromptEvalRateTPS float64 `json:"prompt_eval_rate_tps"`
	LoadSeconds       float64 `json:"load_seconds"`
	TotalSeconds      float64 `json:"total_seconds"`
}

// MeasureThroughput converts a generation result into tokens-per-second rates.
// Rates are 0 when a duration or count is missing.
func MeasureThroughput(r *ollama.GenerateResult) Throughput {
	t := Throughput{
		Model:           r.Model,
		PromptEvalCount: r.PromptEvalCount,
		EvalCount:       r.EvalCount,
		LoadSeconds:     r.LoadDuration.Seconds(),
		TotalSeconds:    r.TotalDuration.Seconds(),
	}
	if r.EvalDuration > 0 && r.EvalCount > 0 {
		t.EvalRateTPS = float64(r.EvalCount) / r.EvalDuration.Seconds()
	}
	if r.PromptEvalDuration > 0 && r.PromptEvalCount > 0 {
		t.PromptEvalRateTPS = float64(r.PromptEvalCount) / r.PromptEvalDuration.Seconds()
	}
	return t
}
