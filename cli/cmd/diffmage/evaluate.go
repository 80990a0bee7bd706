package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"diffmage/cli/internal/erruser"
	"diffmage/cli/internal/evaluate"
	"diffmage/cli/internal/history"
	"diffmage/cli/internal/ollama"
)

func (a *app) newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a commit message against its diff with the model as judge",
		Long: "evaluate asks the model to score how well a commit message explains WHAT\n" +
			"changed and WHY, from 1 to 5. The message comes from --message,\n" +
			"--message-file, the commit named by --rev, or the last generated message in\n" +
			"history. The diff comes from --diff, --rev or the index.",
		Args: cobra.NoArgs,
		RunE: a.runEvaluate,
	}
	f := cmd.Flags()
	f.String("diff", "", "Read the diff from a file (- for stdin) instead of the index")
	f.String("rev", "", "Evaluate an existing commit: its message and its changes")
	f.String("message", "", "Commit message to evaluate")
	f.String("message-file", "", "Read the commit message from a file (- for stdin)")
	f.Int("runs", 1, "Evaluate this many times and report score stability")
	f.Float64("threshold", evaluate.DefaultVarianceThreshold, "Largest score range still counted as stable")
	f.Bool("no-history", false, "Do not record this evaluation in history")
	f.String("output", "text", "Output format: text or json")
	return cmd
}

func (a *app) runEvaluate(cmd *cobra.Command, args []string) error {
	fs := cmd.Flags()
	output, _ := fs.GetString("output")
	if output != "text" && output != "json" {
		return erruser.New("Invalid output format; use text or json.", nil)
	}
	runs, _ := fs.GetInt("runs")
	if runs < 1 {
		return erruser.New("--runs must be at least 1.", nil)
	}
	diffPath, _ := fs.GetString("diff")
	msgPath, _ := fs.GetString("message-file")
	if diffPath == "-" && msgPath == "-" {
		return erruser.New("Only one of --diff and --message-file can read stdin.", nil)
	}
	w, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = w.log.Sync() }()

	message, err := a.evaluatedMessage(cmd, w)
	if err != nil {
		return err
	}
	diffText, _, err := a.readDiff(cmd, w)
	if err != nil {
		return err
	}

	cfg := w.cfg
	ev := &evaluate.Evaluator{
		Gen:     w.client(),
		Model:   cfg.Model,
		Options: ollama.GenerateOptions{Temperature: cfg.Temperature, NumCtx: cfg.NumCtx},
	}
	ctx := cmd.Context()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout*time.Duration(runs))
		defer cancel()
	}

	out := cmd.OutOrStdout()
	if runs == 1 {
		res, err := ev.Evaluate(ctx, message, diffText)
		if err != nil {
			return w.explain(err)
		}
		w.record(newEvaluationRecord(message, cfg.Model, res))
		if output == "json" {
			return writeJSON(out, evaluationView(res))
		}
		return writeEvaluation(out, res)
	}

	threshold, _ := fs.GetFloat64("threshold")
	st, err := ev.Stability(ctx, message, diffText, runs, threshold)
	if err != nil {
		return w.explain(err)
	}
	for _, r := range st.Runs {
		res := r.Result
		w.record(newEvaluationRecord(message, cfg.Model, &res))
	}
	w.log.Debug("stability", zap.Int("runs", runs), zap.Float64("max_variance", st.MaxVariance), zap.Bool("stable", st.Stable))
	if output == "json" {
		return writeJSON(out, st)
	}
	return writeStability(out, st)
}

// evaluatedMessage picks the message from flags, the --rev commit, or the
// last generation in history.
func (a *app) evaluatedMessage(cmd *cobra.Command, w *workspace) (string, error) {
	fs := cmd.Flags()
	if m, _ := fs.GetString("message"); m != "" {
		return m, nil
	}
	if path, _ := fs.GetString("message-file"); path != "" {
		var data []byte
		var err error
		if path == "-" {
			data, err = io.ReadAll(a.stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return "", erruser.New("Could not read message "+path+".", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if rev, _ := fs.GetString("rev"); rev != "" {
		if w.repo == nil {
			return "", erruser.WithHint(w.openErr, "--rev needs a repository.")
		}
		return w.repo.CommitMessage(rev)
	}
	if w.stateDir != "" {
		recs, err := history.ReadRecords(w.stateDir)
		if err != nil {
			return "", err
		}
		if rec, ok := history.LastGeneration(recs); ok {
			w.log.Info("evaluating last generated message", zap.String("id", rec.ID), zap.Time("created_at", rec.CreatedAt))
			return rec.Message, nil
		}
	}
	return "", erruser.WithHint(erruser.New("No commit message to evaluate.", nil),
		"Pass --message, --message-file or --rev, or run diffmage generate first.")
}

func newEvaluationRecord(message, model string, res *evaluate.Result) history.Record {
	rec := history.NewRecord(history.KindEvaluation)
	rec.Model = model
	rec.Message = message
	rec.Evaluation = res
	return rec
}

// evaluationJSON adds the derived scores to a result.
type evaluationJSON struct {
	*evaluate.Result
	Overall     float64 `json:"overall"`
	Quality     string  `json:"quality"`
	HighQuality bool    `json:"high_quality"`
}

func evaluationView(res *evaluate.Result) evaluationJSON {
	return evaluationJSON{Result: res, Overall: res.Overall(), Quality: res.QualityLevel(), HighQuality: res.IsHighQuality()}
}

func writeEvaluation(out io.Writer, res *evaluate.Result) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "What:\t%.1f/5\n", res.What)
	fmt.Fprintf(tw, "Why:\t%.1f/5\n", res.Why)
	fmt.Fprintf(tw, "Overall:\t%.2f (%s)\n", res.Overall(), res.QualityLevel())
	fmt.Fprintf(tw, "Confidence:\t%.2f\n", res.Confidence)
	if res.Model != "" {
		fmt.Fprintf(tw, "Judge:\t%s\n", res.Model)
	}
	fmt.Fprintf(tw, "Reasoning:\t%s\n", res.Reasoning)
	return tw.Flush()
}

func writeStability(out io.Writer, st *evaluate.StabilityResult) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Runs:\t%d\n", len(st.Runs))
	fmt.Fprintln(tw, "\tMEAN\tMIN\tMAX\tRANGE")
	for _, row := range []struct {
		name string
		s    evaluate.Stats
	}{{"What", st.What}, {"Why", st.Why}, {"Overall", st.Overall}} {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2f\n", row.name, row.s.Mean, row.s.Min, row.s.Max, row.s.Range)
	}
	verdict := "stable"
	if !st.Stable {
		verdict = "unstable"
	}
	fmt.Fprintf(tw, "Variance:\t%.2f (threshold %.2f, %s)\n", st.MaxVariance, st.Threshold, verdict)
	fmt.Fprintf(tw, "Seconds per run:\t%.2f mean, %.2f max\n", st.Duration.Mean, st.Duration.Max)
	return tw.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
