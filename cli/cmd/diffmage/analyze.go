package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"diffmage/cli/internal/erruser"
	"diffmage/cli/internal/generate"
)

func (a *app) newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Show how the staged changes are classified and summarized (no model call)",
		Args:  cobra.NoArgs,
		RunE:  a.runAnalyze,
	}
	addInputFlags(cmd)
	cmd.Flags().String("output", "summary", "Output format: summary, table or json")
	return cmd
}

func (a *app) runAnalyze(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	switch output {
	case "summary", "table", "json":
	default:
		return erruser.New("Invalid output format; use summary, table or json.", nil)
	}
	w, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = w.log.Sync() }()
	diffText, branch, err := a.readDiff(cmd, w)
	if err != nil {
		return err
	}
	req, err := w.request(diffText, branch)
	if err != nil {
		return err
	}
	an, err := generate.Analyze(req)
	if err != nil {
		return w.explain(err)
	}
	out := cmd.OutOrStdout()
	switch output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(newAnalysisView(an))
	case "table":
		return writeFileTable(out, an)
	default:
		return writeSummary(out, an)
	}
}

type fileView struct {
	Path       string `json:"path"`
	OldPath    string `json:"old_path,omitempty"`
	Kind       string `json:"kind"`
	Category   string `json:"category"`
	Scope      string `json:"scope,omitempty"`
	Confidence string `json:"confidence"`
	Rule       string `json:"rule,omitempty"`
	Added      int    `json:"added"`
	Removed    int    `json:"removed"`
	Binary     bool   `json:"binary,omitempty"`
}

type hunkView struct {
	ID       string `json:"id"`
	File     string `json:"file"`
	Header   string `json:"header"`
	Score    int    `json:"score"`
	Cosmetic bool   `json:"cosmetic,omitempty"`
	SameAs   string `json:"same_as,omitempty"`
}

type countView struct {
	Name  string `json:"name"`
	Files int    `json:"files"`
	Lines int    `json:"lines"`
}

// analysisView is the JSON form of an analysis.
type analysisView struct {
	ChangeType     string      `json:"change_type"`
	Rule           string      `json:"rule"`
	Scope          string      `json:"scope,omitempty"`
	Branch         string      `json:"branch,omitempty"`
	Files          int         `json:"files"`
	Excluded       int         `json:"excluded"`
	Added          int         `json:"added"`
	Removed        int         `json:"removed"`
	Hunks          int         `json:"hunks"`
	Categories     []countView `json:"categories"`
	Scopes         []countView `json:"scopes"`
	FileList       []fileView  `json:"file_list"`
	Representative []hunkView  `json:"representative_hunks"`
}

func newAnalysisView(an *generate.Analysis) analysisView {
	s := an.Summary
	v := analysisView{
		ChangeType: string(s.ChangeType),
		Rule:       s.Rule,
		Scope:      s.DominantScope,
		Branch:     s.Branch,
		Files:      s.Files,
		Excluded:   an.Excluded,
		Added:      s.Added,
		Removed:    s.Removed,
		Hunks:      s.TotalHunks,
		Categories: []countView{},
		Scopes:     []countView{},
	}
	for _, c := range s.Categories {
		v.Categories = append(v.Categories, countView{Name: string(c.Category), Files: c.Files, Lines: c.Added + c.Removed})
	}
	for _, sc := range s.Scopes {
		v.Scopes = append(v.Scopes, countView{Name: sc.Scope, Files: sc.Files, Lines: sc.Lines})
	}
	for i, fc := range an.Changes {
		cl := an.Classes[i]
		v.FileList = append(v.FileList, fileView{
			Path:       fc.Path(),
			OldPath:    renamedFrom(fc.OldPath, fc.NewPath),
			Kind:       string(fc.Kind),
			Category:   string(cl.Category),
			Scope:      cl.Scope,
			Confidence: string(cl.Confidence),
			Rule:       cl.Rule,
			Added:      fc.Added,
			Removed:    fc.Removed,
			Binary:     fc.Binary,
		})
	}
	for _, h := range s.Hunks {
		v.Representative = append(v.Representative, hunkView{
			ID:       h.ID,
			File:     h.File,
			Header:   h.Hunk.Header,
			Score:    h.Score,
			Cosmetic: h.Cosmetic,
			SameAs:   h.SameAs,
		})
	}
	return v
}

// renamedFrom returns oldPath when it differs from a non-empty newPath.
func renamedFrom(oldPath, newPath string) string {
	if newPath == "" || oldPath == newPath {
		return ""
	}
	return oldPath
}

func writeSummary(out io.Writer, an *generate.Analysis) error {
	s := an.Summary
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Type:\t%s (%s)\n", s.ChangeType, s.Rule)
	if s.DominantScope != "" {
		fmt.Fprintf(tw, "Scope:\t%s\n", s.DominantScope)
	}
	if s.Branch != "" {
		fmt.Fprintf(tw, "Branch:\t%s\n", s.Branch)
	}
	files := fmt.Sprintf("%d (+%d -%d, %d hunks)", s.Files, s.Added, s.Removed, s.TotalHunks)
	if an.Excluded > 0 {
		files += fmt.Sprintf(", %d excluded", an.Excluded)
	}
	fmt.Fprintf(tw, "Files:\t%s\n", files)
	cats := make([]string, 0, len(s.Categories))
	for _, c := range s.Categories {
		cats = append(cats, fmt.Sprintf("%s %d", c.Category, c.Files))
	}
	fmt.Fprintf(tw, "Categories:\t%s\n", strings.Join(cats, ", "))
	if len(s.Scopes) > 0 {
		scopes := make([]string, 0, len(s.Scopes))
		for _, sc := range s.Scopes {
			scopes = append(scopes, fmt.Sprintf("%s %d", sc.Scope, sc.Files))
		}
		fmt.Fprintf(tw, "Scopes:\t%s\n", strings.Join(scopes, ", "))
	}
	for i, h := range s.Hunks {
		label := ""
		if i == 0 {
			label = "Key hunks:"
		}
		fmt.Fprintf(tw, "%s\t%s %s (score %d)\n", label, h.File, h.Hunk.Header, h.Score)
	}
	return tw.Flush()
}

func writeFileTable(out io.Writer, an *generate.Analysis) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tKIND\tCATEGORY\tSCOPE\t+\t-")
	for i, fc := range an.Changes {
		cl := an.Classes[i]
		path := fc.Path()
		if from := renamedFrom(fc.OldPath, fc.NewPath); from != "" {
			path = from + " -> " + path
		}
		scope := cl.Scope
		if scope == "" {
			scope = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n", path, fc.Kind, cl.Category, scope, fc.Added, fc.Removed)
	}
	s := an.Summary
	fmt.Fprintf(tw, "\t\t\t\t%d\t%d\n", s.Added, s.Removed)
	return tw.Flush()
}
