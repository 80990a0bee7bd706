// Package evaluate scores a commit message against the diff it describes,
// using the model as a judge on two axes: WHAT (does the message describe
// the change accurately) and WHY (does it explain purpose and impact).
package evaluate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"diffmage/cli/internal/generate"
	"diffmage/cli/internal/ollama"
)

// ErrInvalidEvaluation marks a judge reply that could not be parsed or whose
// values are out of range.
var ErrInvalidEvaluation = errors.New("invalid evaluation reply")

// Quality levels by overall score.
const (
	QualityExcellent = "Excellent"
	QualityGood      = "Good"
	QualityAverage   = "Average"
	QualityPoor      = "Poor"
	QualityVeryPoor  = "Very Poor"
)

// QualityLevels lists levels from best to worst.
var QualityLevels = []string{QualityExcellent, QualityGood, QualityAverage, QualityPoor, QualityVeryPoor}

// highQualityThreshold is exclusive: Overall must exceed it.
const highQualityThreshold = 3.5

// Result is one evaluation.
type Result struct {
	What       float64 `json:"what" validate:"min=1,max=5"`
	Why        float64 `json:"why" validate:"min=1,max=5"`
	Reasoning  string  `json:"reasoning" validate:"min=10"`
	Confidence float64 `json:"confidence" validate:"min=0,max=1"`
	Model      string  `json:"model"`
}

// Overall is the mean of What and Why rounded to two decimals.
func (r Result) Overall() float64 {
	return round2((r.What + r.Why) / 2)
}

// IsHighQuality reports Overall > 3.5.
func (r Result) IsHighQuality() bool {
	return r.Overall() > highQualityThreshold
}

// QualityLevel maps Overall to one of QualityLevels.
func (r Result) QualityLevel() string {
	o := r.Overall()
	switch {
	case o > 4.5:
		return QualityExcellent
	case o >= 3.5:
		return QualityGood
	case o >= 2.5:
		return QualityAverage
	case o >= 1.5:
		return QualityPoor
	default:
		return QualityVeryPoor
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Evaluator calls the judge model.
type Evaluator struct {
	Gen   generate.Generator
	Model string
	// Options are passed to every call. Format is forced to "json".
	Options ollama.GenerateOptions
	// MaxDiffChars truncates the diff shown to the judge; 0 means 16000.
	MaxDiffChars int
}

const defaultMaxDiffChars = 16000

// Evaluate scores message against diffText. An empty message or diff scores
// 1/1 with confidence 1 without calling the model.
func (e *Evaluator) Evaluate(ctx context.Context, message, diffText string) (*Result, error) {
	if strings.TrimSpace(message) == "" {
		return &Result{What: 1, Why: 1, Reasoning: "Empty commit message provides no information", Confidence: 1, Model: e.Model}, nil
	}
	if strings.TrimSpace(diffText) == "" {
		return &Result{What: 1, Why: 1, Reasoning: "No diff provided, so the commit content cannot be assessed", Confidence: 1, Model: e.Model}, nil
	}
	if e.Gen == nil {
		return nil, &generate.LLMCallFailedError{Model: e.Model, Cause: errors.New("no generator configured")}
	}
	opts := e.Options
	opts.Format = "json"
	out, err := e.Gen.Generate(ctx, e.Model, judgeSystemPrompt, judgePrompt(message, diffText, e.maxDiffChars()), &opts)
	if err != nil {
		return nil, &generate.LLMCallFailedError{Model: e.Model, Cause: err}
	}
	if out == nil {
		return nil, &generate.LLMCallFailedError{Model: e.Model, Cause: errors.New("generator returned no result")}
	}
	r, err := Parse(out.Response)
	if err != nil {
		return nil, err
	}
	r.Model = e.Model
	return r, nil
}

func (e *Evaluator) maxDiffChars() int {
	if e.MaxDiffChars > 0 {
		return e.MaxDiffChars
	}
	return defaultMaxDiffChars
}

// Parse reads a judge reply. The JSON object may be wrapped in prose or a
// code fence. Scores are read from what_score/why_score (or what/why, or
// scores.what/scores.why) and validated.
func Parse(reply string) (*Result, error) {
	obj := extractObject(reply)
	if obj == "" || !gjson.Valid(obj) {
		return nil, errors.Mark(errors.Newf("evaluation reply is not a JSON object: %q", snippet(reply)), ErrInvalidEvaluation)
	}
	r := &Result{}
	var err error
	if r.What, err = number(obj, "what_score", "what", "scores.what"); err != nil {
		return nil, err
	}
	if r.Why, err = number(obj, "why_score", "why", "scores.why"); err != nil {
		return nil, err
	}
	if r.Confidence, err = number(obj, "confidence"); err != nil {
		return nil, err
	}
	r.Reasoning = strings.TrimSpace(gjson.Get(obj, "reasoning").String())
	if err := validate.Struct(r); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "evaluation reply out of range"), ErrInvalidEvaluation)
	}
	return r, nil
}

// number returns the first of paths present in obj as a float. Numeric
// strings ("4", "4.5") are accepted.
func number(obj string, paths ...string) (float64, error) {
	for _, p := range paths {
		res := gjson.Get(obj, p)
		switch res.Type {
		case gjson.Number:
			return res.Float(), nil
		case gjson.String:
			var f float64
			if _, err := fmt.Sscanf(strings.TrimSpace(res.Str), "%g", &f); err == nil {
				return f, nil
			}
			return 0, errors.Mark(errors.Newf("evaluation field %s is not a number: %q", p, res.Str), ErrInvalidEvaluation)
		case gjson.Null, gjson.True, gjson.False, gjson.JSON:
			if res.Exists() {
				return 0, errors.Mark(errors.Newf("evaluation field %s is not a number: %s", p, res.Raw), ErrInvalidEvaluation)
			}
		}
	}
	return 0, errors.Mark(errors.Newf("evaluation reply has no %s", paths[0]), ErrInvalidEvaluation)
}

// extractObject returns the text from the first '{' to the last '}'.
func extractObject(s string) string {
	i := strings.IndexByte(s, '{')
	j := strings.LastIndexByte(s, '}')
	if i < 0 || j < i {
		return ""
	}
	return s[i : j+1]
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > 80 {
		return string([]rune(s)[:80]) + "..."
	}
	return s
}
