package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"diffmage/cli/internal/generate"
)

func (a *app) newPromptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the prompt generate would send, without calling the model",
		Args:  cobra.NoArgs,
		RunE:  a.runPrompt,
	}
	addInputFlags(cmd)
	cmd.Flags().Bool("system", false, "Also print the system prompt")
	cmd.Flags().Bool("json", false, "Print the prompt and its metadata as JSON")
	return cmd
}

type promptView struct {
	System      string   `json:"system"`
	Prompt      string   `json:"prompt"`
	Budget      int      `json:"budget"`
	Chars       int      `json:"chars"`
	Tokens      int      `json:"estimated_tokens"`
	Truncated   bool     `json:"truncated"`
	Dropped     []string `json:"dropped,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	Warnings    []string `json:"warnings,omitempty"`
}

func (a *app) runPrompt(cmd *cobra.Command, args []string) error {
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
	p, warnings, err := generate.BuildPrompt(an, req)
	if err != nil {
		return w.explain(err)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(promptView{
			System:      p.System,
			Prompt:      p.Text,
			Budget:      p.Budget,
			Chars:       p.Chars,
			Tokens:      p.Tokens,
			Truncated:   p.Truncated,
			Dropped:     p.Dropped,
			Fingerprint: p.Fingerprint,
			Warnings:    warnings,
		})
	}
	if withSystem, _ := cmd.Flags().GetBool("system"); withSystem {
		fmt.Fprintf(out, "%s\n\n", p.System)
	}
	fmt.Fprintln(out, strings.TrimRight(p.Text, "\n"))

	errOut := cmd.ErrOrStderr()
	fmt.Fprintf(errOut, "prompt: %d/%d chars, ~%d tokens, fingerprint %s\n", p.Chars, p.Budget, p.Tokens, p.Fingerprint)
	if p.Truncated {
		fmt.Fprintf(errOut, "prompt: truncated, dropped %s\n", strings.Join(p.Dropped, ", "))
	}
	for _, wmsg := range warnings {
		fmt.Fprintf(errOut, "warning: %s\n", wmsg)
	}
	return nil
}
