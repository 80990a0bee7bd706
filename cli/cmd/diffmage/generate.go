package main

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"diffmage/cli/internal/commitmsg"
	"diffmage/cli/internal/erruser"
	"diffmage/cli/internal/evaluate"
	"diffmage/cli/internal/generate"
	"diffmage/cli/internal/history"
	"diffmage/cli/internal/prompt"
)

func (a *app) newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "generate",
		Aliases: []string{"gen"},
		Short:   "Generate a commit message for the staged changes",
		Args:    cobra.NoArgs,
		RunE:    a.runGenerate,
	}
	addInputFlags(cmd)
	cmd.Flags().Int("retries", 0, "Extra attempts after a rejected reply, with the rejection fed back (default from config)")
	cmd.Flags().Float64("temperature", 0, "Sampling temperature; overrides config")
	cmd.Flags().Bool("commit", false, "Create the commit with the generated message")
	cmd.Flags().Bool("no-history", false, "Do not record this generation in history")
	cmd.Flags().String("output", "text", "Output format: text or json")
	return cmd
}

// generateOutput is the JSON form of a generation.
type generateOutput struct {
	RequestID   string   `json:"request_id"`
	Model       string   `json:"model"`
	Message     string   `json:"message"`
	Header      string   `json:"header"`
	Type        string   `json:"type"`
	Scope       string   `json:"scope,omitempty"`
	Breaking    bool     `json:"breaking"`
	Repairs     []string `json:"repairs,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Attempts    int      `json:"attempts"`
	Fingerprint string   `json:"fingerprint"`
	Commit      string   `json:"commit,omitempty"`
}

func (a *app) runGenerate(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if output != "text" && output != "json" {
		return erruser.New("Invalid output format; use text or json.", nil)
	}
	doCommit, _ := cmd.Flags().GetBool("commit")
	w, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = w.log.Sync() }()
	if doCommit {
		if w.repo == nil {
			return erruser.WithHint(w.openErr, "--commit needs a repository.")
		}
		if d, _ := cmd.Flags().GetString("diff"); d != "" {
			return erruser.New("--commit records the staged changes and cannot be combined with --diff.", nil)
		}
		if r, _ := cmd.Flags().GetString("rev"); r != "" {
			return erruser.New("--commit cannot be combined with --rev.", nil)
		}
	}
	diffText, branch, err := a.readDiff(cmd, w)
	if err != nil {
		return err
	}
	req, err := w.request(diffText, branch)
	if err != nil {
		return err
	}

	res, attempts, err := generateWithRetries(cmd, w, req)
	if err != nil {
		return w.explain(err)
	}
	msg := res.Message
	if res.LLM != nil {
		tp := evaluate.MeasureThroughput(res.LLM)
		w.log.Debug("throughput",
			zap.String("request_id", res.RequestID),
			zap.Float64("eval_rate_tps", tp.EvalRateTPS),
			zap.Float64("prompt_eval_rate_tps", tp.PromptEvalRateTPS),
			zap.Float64("total_seconds", tp.TotalSeconds),
		)
	}

	var sha string
	if doCommit {
		sha, err = w.repo.Commit(msg.String())
		if err != nil {
			return err
		}
		w.log.Info("committed", zap.String("sha", sha), zap.String("header", msg.Header()))
	}
	w.record(newGenerationRecord(res, w.cfg.Model, attempts, sha))

	if output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(generateOutput{
			RequestID:   res.RequestID,
			Model:       w.cfg.Model,
			Message:     msg.String(),
			Header:      msg.Header(),
			Type:        msg.Type,
			Scope:       msg.Scope,
			Breaking:    msg.Breaking,
			Repairs:     msg.Repairs,
			Warnings:    res.Warnings,
			Attempts:    attempts,
			Fingerprint: res.Prompt.Fingerprint,
			Commit:      sha,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg.String())
	if sha != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Committed %s\n", shortSHA(sha))
	}
	return nil
}

// generateWithRetries runs the pipeline and, while the reply is rejected and
// retries remain, runs it again with the rejection as feedback.
func generateWithRetries(cmd *cobra.Command, w *workspace, req generate.Request) (*generate.Result, int, error) {
	client := w.client()
	for attempt := 1; ; attempt++ {
		res, err := generate.Run(cmd.Context(), client, req, w.log)
		if err == nil {
			return res, attempt, nil
		}
		if res == nil || !errors.Is(err, commitmsg.ErrInvalidCommitMessage) || attempt > w.cfg.Retries {
			return res, attempt, err
		}
		w.log.Info("reply rejected, retrying with feedback",
			zap.String("request_id", res.RequestID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		req.Feedback = prompt.Feedback(res.Reply, err)
	}
}

func newGenerationRecord(res *generate.Result, model string, attempts int, sha string) history.Record {
	rec := history.NewRecord(history.KindGeneration)
	rec.RequestID = res.RequestID
	rec.Model = model
	rec.Attempts = attempts
	rec.Committed = sha
	if res.Prompt != nil {
		rec.Fingerprint = res.Prompt.Fingerprint
	}
	if a := res.Analysis; a != nil && a.Summary != nil {
		s := a.Summary
		rec.Branch = s.Branch
		rec.Analysis = &history.Analysis{
			ChangeType: string(s.ChangeType),
			Scope:      s.DominantScope,
			Files:      s.Files,
			Added:      s.Added,
			Removed:    s.Removed,
			Hunks:      s.TotalHunks,
		}
	}
	if res.Message != nil {
		rec.Message = res.Message.String()
		rec.Repairs = res.Message.Repairs
	}
	if llm := res.LLM; llm != nil {
		rec.Usage = &history.Usage{
			PromptTokens:     llm.PromptEvalCount,
			CompletionTokens: llm.EvalCount,
			EvalDurationNs:   llm.EvalDuration.Nanoseconds(),
			TotalDurationNs:  llm.TotalDuration.Nanoseconds(),
		}
	}
	return rec
}

// record appends rec to history when enabled. Failures are logged, not
// returned: the message has already been produced.
func (w *workspace) record(rec history.Record) {
	if !w.cfg.HistoryEnabled || w.stateDir == "" {
		return
	}
	if err := history.Append(w.stateDir, rec, history.DefaultMaxRecords); err != nil {
		w.log.Warn("could not record history", zap.String("state_dir", w.stateDir), zap.Error(err))
	}
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
