package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"diffmage/cli/internal/erruser"
	"diffmage/cli/internal/evaluate"
	"diffmage/cli/internal/history"
)

func (a *app) newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the evaluations recorded in history",
		Args:  cobra.NoArgs,
		RunE:  a.runReport,
	}
	cmd.Flags().Int("last", 0, "Only the newest N history records (0 = all)")
	cmd.Flags().String("output", "text", "Output format: text or json")
	return cmd
}

func (a *app) runReport(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if output != "text" && output != "json" {
		return erruser.New("Invalid output format; use text or json.", nil)
	}
	w, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = w.log.Sync() }()
	if w.stateDir == "" {
		return erruser.WithHint(erruser.New("No history outside a repository.", w.openErr), "Pass --state-dir.")
	}
	recs, err := history.ReadRecords(w.stateDir)
	if err != nil {
		return err
	}
	last, _ := cmd.Flags().GetInt("last")
	rep, err := evaluate.NewReport(history.Evaluations(history.Newest(recs, last)))
	if err != nil {
		if errors.Is(err, evaluate.ErrNoResults) {
			return erruser.WithHint(erruser.New("No evaluations recorded yet.", err), "Run diffmage evaluate first.")
		}
		return err
	}
	if output == "json" {
		return writeJSON(cmd.OutOrStdout(), rep)
	}
	return writeReport(cmd.OutOrStdout(), rep)
}

func writeReport(out io.Writer, rep *evaluate.Report) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Evaluations:\t%d\n\n", rep.Total)
	fmt.Fprintln(tw, "SCORE\tMEAN\tMEDIAN\tMIN\tMAX\tSTD")
	for _, row := range []struct {
		name string
		s    evaluate.Stats
	}{{"what", rep.What}, {"why", rep.Why}, {"overall", rep.Overall}, {"confidence", rep.Confidence}} {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n", row.name, row.s.Mean, row.s.Median, row.s.Min, row.s.Max, row.s.Std)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "QUALITY\tCOUNT")
	for _, q := range rep.Quality {
		fmt.Fprintf(tw, "%s\t%d\n", q.Name, q.Count)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "MODEL\tCOUNT")
	for _, m := range rep.Models {
		fmt.Fprintf(tw, "%s\t%d\n", m.Name, m.Count)
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "High quality (> 3.5):\t%d\n", rep.HighQuality)
	fmt.Fprintf(tw, "Low quality:\t%d\n", rep.LowQuality)
	return tw.Flush()
}
