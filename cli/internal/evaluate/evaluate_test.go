package evaluate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffmage/cli/internal/generate"
	"diffmage/cli/internal/ollama"
)

type judge struct {
	replies []string
	err     error
	calls   int
	lastOpt *ollama.GenerateOptions
	lastMsg string
}

func (j *judge) Generate(_ context.Context, model, _, user string, opts *ollama.GenerateOptions) (*ollama.GenerateResult, error) {
	j.calls++
	j.lastOpt, j.lastMsg = opts, user
	if j.err != nil {
		return nil, j.err
	}
	r := j.replies[(j.calls-1)%len(j.replies)]
	return &ollama.GenerateResult{Model: model, Response: r}, nil
}

const sampleDiff = "diff --git a/a.go b/a.go\n--- a/a.go\n+++ b/a.go\n@@ -1 +1 @@\n-x\n+y\n"

func TestResult_scores(t *testing.T) {
	t.Parallel()
	tests := []struct {
		what, why   float64
		wantOverall float64
		wantLevel   string
		wantHigh    bool
	}{
		{5, 5, 5, QualityExcellent, true},
		{5, 4, 4.5, QualityGood, true},
		{4, 3, 3.5, QualityGood, false},
		{3, 3, 3, QualityAverage, false},
		{2, 3, 2.5, QualityAverage, false},
		{2, 1, 1.5, QualityPoor, false},
		{1, 1.5, 1.25, QualityVeryPoor, false},
		{4.333, 4.333, 4.33, QualityGood, true},
	}
	for _, tt := range tests {
		r := Result{What: tt.what, Why: tt.why}
		assert.InDelta(t, tt.wantOverall, r.Overall(), 1e-9, "%v/%v", tt.what, tt.why)
		assert.Equal(t, tt.wantLevel, r.QualityLevel(), "%v/%v", tt.what, tt.why)
		assert.Equal(t, tt.wantHigh, r.IsHighQuality(), "%v/%v", tt.what, tt.why)
	}
}

func TestEvaluate_emptyInputsSkipModel(t *testing.T) {
	t.Parallel()
	j := &judge{}
	e := &Evaluator{Gen: j, Model: "judge"}
	for _, in := range [][2]string{{"  ", sampleDiff}, {"fix: x", "\n"}} {
		r, err := e.Evaluate(context.Background(), in[0], in[1])
		require.NoError(t, err)
		assert.Equal(t, 1.0, r.What)
		assert.Equal(t, 1.0, r.Why)
		assert.Equal(t, 1.0, r.Confidence)
		assert.Equal(t, "judge", r.Model)
	}
	assert.Zero(t, j.calls)
}

func TestEvaluate_callsJudge(t *testing.T) {
	t.Parallel()
	j := &judge{replies: []string{`{"reasoning":"Describes the change well but gives no reason.","what_score":4,"why_score":2,"confidence":0.8}`}}
	e := &Evaluator{Gen: j, Model: "judge", Options: ollama.GenerateOptions{Temperature: 0.1}}
	r, err := e.Evaluate(context.Background(), "fix: use y", sampleDiff)
	require.NoError(t, err)
	assert.Equal(t, Result{What: 4, Why: 2, Reasoning: "Describes the change well but gives no reason.", Confidence: 0.8, Model: "judge"}, *r)
	assert.Equal(t, "json", j.lastOpt.Format)
	assert.Equal(t, 0.1, j.lastOpt.Temperature)
	assert.Empty(t, e.Options.Format, "caller options are not modified")
	assert.Contains(t, j.lastMsg, "fix: use y")
	assert.Contains(t, j.lastMsg, "+y")
}

func TestEvaluate_truncatesDiff(t *testing.T) {
	t.Parallel()
	j := &judge{replies: []string{`{"reasoning":"long enough reasoning","what_score":3,"why_score":3,"confidence":0.5}`}}
	e := &Evaluator{Gen: j, Model: "judge", MaxDiffChars: 10}
	_, err := e.Evaluate(context.Background(), "fix: x", sampleDiff)
	require.NoError(t, err)
	assert.Contains(t, j.lastMsg, "[diff truncated]")
	assert.NotContains(t, j.lastMsg, "+y")
}

func TestEvaluate_modelFailure(t *testing.T) {
	t.Parallel()
	e := &Evaluator{Gen: &judge{err: errors.New("boom")}, Model: "judge"}
	_, err := e.Evaluate(context.Background(), "fix: x", sampleDiff)
	assert.True(t, errors.Is(err, generate.ErrLLMCallFailed))
}

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		reply   string
		want    Result
		wantErr bool
	}{
		{"plain", `{"reasoning":"clear and accurate","what_score":5,"why_score":4.5,"confidence":0.9}`,
			Result{What: 5, Why: 4.5, Reasoning: "clear and accurate", Confidence: 0.9}, false},
		{"fenced with prose", "Here you go:\n```json\n{\"reasoning\":\"clear and accurate\",\"what\":\"4\",\"why\":3,\"confidence\":1}\n```",
			Result{What: 4, Why: 3, Reasoning: "clear and accurate", Confidence: 1}, false},
		{"nested scores", `{"scores":{"what":2,"why":2},"reasoning":"vague message overall","confidence":0.4}`,
			Result{What: 2, Why: 2, Reasoning: "vague message overall", Confidence: 0.4}, false},
		{"not json", "I think it is good", Result{}, true},
		{"broken json", `{"what_score": 4,`, Result{}, true},
		{"missing why", `{"reasoning":"clear and accurate","what_score":4,"confidence":0.9}`, Result{}, true},
		{"score out of range", `{"reasoning":"clear and accurate","what_score":7,"why_score":4,"confidence":0.9}`, Result{}, true},
		{"confidence out of range", `{"reasoning":"clear and accurate","what_score":4,"why_score":4,"confidence":2}`, Result{}, true},
		{"short reasoning", `{"reasoning":"ok","what_score":4,"why_score":4,"confidence":0.5}`, Result{}, true},
		{"bool score", `{"reasoning":"clear and accurate","what_score":true,"why_score":4,"confidence":0.5}`, Result{}, true},
		{"text score", `{"reasoning":"clear and accurate","what_score":"high","why_score":4,"confidence":0.5}`, Result{}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidEvaluation), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestNewReport(t *testing.T) {
	t.Parallel()
	_, err := NewReport(nil)
	assert.ErrorIs(t, err, ErrNoResults)

	rep, err := NewReport([]Result{
		{What: 5, Why: 5, Confidence: 0.9, Model: "a"},
		{What: 4, Why: 3, Confidence: 0.5, Model: "b"},
		{What: 2, Why: 1, Confidence: 0.7, Model: "a"},
		{What: 3, Why: 4, Confidence: 0.6, Model: "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Total)
	assert.Equal(t, Stats{Mean: 3.5, Median: 3.5, Min: 2, Max: 5, Std: 1.29, Range: 3}, rep.What)
	// Overall values: 5, 3.5, 1.5, 3.5.
	assert.Equal(t, 3.38, rep.Overall.Mean)
	assert.Equal(t, 3.5, rep.Overall.Median)
	assert.InDelta(t, 0.675, rep.Confidence.Mean, 1e-9)
	assert.InDelta(t, 0.65, rep.Confidence.Median, 1e-9)
	assert.Equal(t, []Count{
		{QualityExcellent, 1}, {QualityGood, 2}, {QualityAverage, 0}, {QualityPoor, 1}, {QualityVeryPoor, 0},
	}, rep.Quality)
	assert.Equal(t, []Count{{"a", 2}, {"b", 1}, {"c", 1}}, rep.Models)
	assert.Equal(t, 1, rep.HighQuality)
	assert.Equal(t, 3, rep.LowQuality)
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Stats{}, Describe(nil))
	assert.Equal(t, Stats{Mean: 2, Median: 2, Min: 2, Max: 2}, Describe([]float64{2}))
	s := Describe([]float64{3, 1, 2})
	assert.Equal(t, 2.0, s.Median)
	assert.InDelta(t, 1.0, s.Std, 1e-9)
	assert.Equal(t, 2.0, s.Range)
}

func TestStability(t *testing.T) {
	t.Parallel()
	j := &judge{replies: []string{
		`{"reasoning":"accurate description","what_score":4,"why_score":3,"confidence":0.8}`,
		`{"reasoning":"accurate description","what_score":4,"why_score":3.5,"confidence":0.8}`,
		`{"reasoning":"accurate description","what_score":4,"why_score":3,"confidence":0.8}`,
	}}
	e := &Evaluator{Gen: j, Model: "judge"}
	res, err := e.Stability(context.Background(), "fix: x", sampleDiff, 3, 0)
	require.NoError(t, err)
	require.Len(t, res.Runs, 3)
	assert.Equal(t, 3, j.calls)
	assert.Equal(t, 0.0, res.What.Range)
	assert.Equal(t, 0.5, res.Why.Range)
	assert.Equal(t, 0.5, res.MaxVariance)
	assert.Equal(t, DefaultVarianceThreshold, res.Threshold)
	assert.False(t, res.Stable)

	res, err = e.Stability(context.Background(), "fix: x", sampleDiff, 3, 0.5)
	require.NoError(t, err)
	assert.True(t, res.Stable)

	_, err = e.Stability(context.Background(), "fix: x", sampleDiff, 0, 0)
	assert.Error(t, err)
	_, err = e.Stability(context.Background(), "", sampleDiff, 3, 0)
	assert.Error(t, err)
}

func TestMeasureThroughput(t *testing.T) {
	t.Parallel()
	tp := MeasureThroughput(&ollama.GenerateResult{
		Model:              "m",
		PromptEvalCount:    2847,
		PromptEvalDuration: 1500 * time.Millisecond,
		EvalCount:          312,
		EvalDuration:       8 * time.Second,
		LoadDuration:       1200 * time.Millisecond,
		TotalDuration:      10700 * time.Millisecond,
	})
	assert.InDelta(t, 39.0, tp.EvalRateTPS, 1e-9)
	assert.InDelta(t, 1898.0, tp.PromptEvalRateTPS, 1e-9)
	assert.InDelta(t, 10.7, tp.TotalSeconds, 1e-9)

	assert.Zero(t, MeasureThroughput(&ollama.GenerateResult{EvalCount: 5}).EvalRateTPS)
}

func TestJudgePrompt(t *testing.T) {
	t.Parallel()
	p := judgePrompt("  feat: x  ", sampleDiff, 1000)
	assert.Contains(t, p, "## Commit message\nfeat: x\n")
	assert.True(t, strings.HasSuffix(p, `"confidence": <0.0-1.0>}`))
}
