// Package generate runs the commit-message pipeline for one staged diff:
// parse, classify, aggregate, build the prompt, call the model once, and
// validate the reply. Every failure is returned as a *StageError wrapping the
// stage's typed error.
package generate

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"diffmage/cli/internal/aggregate"
	"diffmage/cli/internal/classify"
	"diffmage/cli/internal/commitmsg"
	"diffmage/cli/internal/convention"
	"diffmage/cli/internal/diff"
	"diffmage/cli/internal/logging"
	"diffmage/cli/internal/ollama"
	"diffmage/cli/internal/prompt"
	"diffmage/cli/internal/tokens"
)

// Generator is the model boundary. *ollama.Client implements it.
type Generator interface {
	Generate(ctx context.Context, model, system, user string, opts *ollama.GenerateOptions) (*ollama.GenerateResult, error)
}

// Request is one invocation of the pipeline.
type Request struct {
	// Diff is the staged unified diff.
	Diff   string
	Branch string
	// Convention is validated before anything else runs.
	Convention convention.Convention
	// Classify carries user rules. Roots default to Convention.ScopeRoots.
	Classify *classify.Options
	// Exclude drops matching files (see diff.Exclude) before classification.
	Exclude []string

	// System overrides prompt.DefaultSystemPrompt when non-empty.
	System string
	// Feedback is a corrective note from a rejected attempt (prompt.Feedback).
	Feedback string

	Model   string
	Options *ollama.GenerateOptions
	// Timeout bounds the model call; 0 means only ctx applies.
	Timeout time.Duration

	// ContextLimit (tokens) further caps the prompt budget and enables the
	// context warning; 0 disables both.
	ContextLimit  int
	WarnThreshold float64

	// RequestID tags log lines; a new UUID is used when empty.
	RequestID string
}

// Analysis is the model-independent part of a run.
type Analysis struct {
	Changes []diff.FileChange
	Classes []classify.Classification
	Summary *aggregate.Summary
	// Excluded counts files dropped by Request.Exclude.
	Excluded int
}

// Result is a completed (or partially completed) run. On a validation
// failure Run returns the Result with Message nil, so the caller can retry
// with prompt.Feedback(res.Reply, err).
type Result struct {
	RequestID string
	Analysis  *Analysis
	Prompt    *prompt.Prompt
	Reply     string
	LLM       *ollama.GenerateResult
	Message   *commitmsg.CommitMessage
	// Warnings are non-fatal notes, e.g. the prompt nearing the context limit.
	Warnings []string
	Duration time.Duration
}

// Analyze runs the parse, classify and aggregate stages.
func Analyze(req Request) (*Analysis, error) {
	if err := req.Convention.Validate(); err != nil {
		return nil, &StageError{Stage: StageConvention, Err: err}
	}
	changes, err := diff.Parse(req.Diff)
	if err != nil {
		return nil, &StageError{Stage: StageParse, Err: err}
	}
	total := len(changes)
	if len(req.Exclude) > 0 {
		changes = diff.Exclude(changes, req.Exclude)
	}
	if len(changes) == 0 {
		return nil, &StageError{Stage: StageParse, Err: ErrNothingStaged}
	}
	opts := classify.Options{Roots: req.Convention.ScopeRoots}
	if req.Classify != nil {
		opts.Rules = req.Classify.Rules
		if req.Classify.Roots != nil {
			opts.Roots = req.Classify.Roots
		}
	}
	classes := classify.All(changes, &opts)
	summary, err := aggregate.Summarize(changes, classes, aggregate.Options{
		HunkCap: req.Convention.RepresentativeHunkCap,
		Branch:  req.Branch,
	})
	if err != nil {
		return nil, &StageError{Stage: StageAggregate, Err: err}
	}
	return &Analysis{Changes: changes, Classes: classes, Summary: summary, Excluded: total - len(changes)}, nil
}

// BuildPrompt renders the prompt for a. When req.ContextLimit is set the
// character budget is the smaller of the convention budget and what fits in
// the context window.
func BuildPrompt(a *Analysis, req Request) (*prompt.Prompt, []string, error) {
	system := req.System
	if system == "" {
		system = prompt.DefaultSystemPrompt
	}
	conv := req.Convention
	if cb := tokens.CharBudget(req.ContextLimit, tokens.DefaultResponseReserve, len(system)); cb > 0 && cb < conv.PromptCharBudget {
		conv.PromptCharBudget = cb
	}
	p, err := prompt.Build(a.Summary, conv, &prompt.Options{System: system, Feedback: req.Feedback})
	if err != nil {
		return nil, nil, &StageError{Stage: StagePrompt, Err: err}
	}
	var warnings []string
	if w := tokens.WarnIfOver(p.Tokens, tokens.DefaultResponseReserve, req.ContextLimit, req.WarnThreshold); w != "" {
		warnings = append(warnings, w)
	}
	return p, warnings, nil
}

// Run executes the whole pipeline with a single model call. log may be nil.
func Run(ctx context.Context, gen Generator, req Request, log *zap.Logger) (*Result, error) {
	start := time.Now()
	res := &Result{RequestID: req.RequestID}
	if res.RequestID == "" {
		res.RequestID = uuid.NewString()
	}
	log = logging.OrNop(log).With(zap.String("request_id", res.RequestID))
	defer func() { res.Duration = time.Since(start) }()

	a, err := Analyze(req)
	if err != nil {
		log.Debug("analysis failed", zap.String("stage", Stage(err)), zap.Error(err))
		return nil, err
	}
	res.Analysis = a
	s := a.Summary
	log.Debug("analyzed",
		zap.Int("files", s.Files),
		zap.Int("excluded", a.Excluded),
		zap.Int("added", s.Added),
		zap.Int("removed", s.Removed),
		zap.Int("hunks", s.TotalHunks),
		zap.String("change_type", string(s.ChangeType)),
		zap.String("rule", s.Rule),
		zap.String("scope", s.DominantScope),
		zap.Int("source_files", s.Category(classify.CategorySource).Files),
		zap.Int("test_files", s.Category(classify.CategoryTest).Files),
	)
	for i, fc := range a.Changes {
		log.Debug("file", zap.Stringer("change", fc), zap.String("category", string(a.Classes[i].Category)), zap.String("scope", a.Classes[i].Scope))
	}

	p, warnings, err := BuildPrompt(a, req)
	if err != nil {
		log.Debug("prompt failed", zap.Error(err))
		return nil, err
	}
	res.Prompt, res.Warnings = p, warnings
	log.Debug("prompt built",
		zap.Int("chars", p.Chars),
		zap.Int("budget", p.Budget),
		zap.Int("tokens", p.Tokens),
		zap.Bool("truncated", p.Truncated),
		zap.Strings("dropped", p.Dropped),
		zap.String("fingerprint", p.Fingerprint),
	)
	for _, w := range warnings {
		log.Warn(w)
	}

	llm, err := call(ctx, gen, req, p)
	if err != nil {
		log.Debug("model call failed", zap.String("model", req.Model), zap.Error(err))
		return nil, err
	}
	res.LLM, res.Reply = llm, llm.Response
	log.Debug("model replied",
		zap.String("model", req.Model),
		zap.Int("reply_chars", len(llm.Response)),
		zap.Int("prompt_eval_count", llm.PromptEvalCount),
		zap.Int("eval_count", llm.EvalCount),
		zap.Duration("total_duration", llm.TotalDuration),
	)

	msg, err := commitmsg.Validate(llm.Response, req.Convention)
	if err != nil {
		log.Debug("reply rejected", zap.Error(err))
		return res, &StageError{Stage: StageValidate, Err: err}
	}
	res.Message = msg
	log.Debug("message accepted", zap.String("header", msg.Header()), zap.Strings("repairs", msg.Repairs))
	return res, nil
}

// call is the single suspend point of the pipeline.
func call(ctx context.Context, gen Generator, req Request, p *prompt.Prompt) (*ollama.GenerateResult, error) {
	if gen == nil {
		return nil, &StageError{Stage: StageLLM, Err: &LLMCallFailedError{Model: req.Model, Cause: errors.New("no generator configured")}}
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	out, err := gen.Generate(ctx, req.Model, p.System, p.Text, req.Options)
	if err == nil && out == nil {
		err = errors.New("generator returned no result")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = errors.WithSecondaryError(ctxErr, err)
		}
		return nil, &StageError{Stage: StageLLM, Err: &LLMCallFailedError{Model: req.Model, Cause: err}}
	}
	return out, nil
}
