package main

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"diffmage/cli/internal/ollama"
)

func (a *app) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Verify the environment (Git repository, Ollama, model)",
		Args:  cobra.NoArgs,
		RunE:  a.runDoctor,
	}
}

func (a *app) runDoctor(cmd *cobra.Command, args []string) error {
	w, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = w.log.Sync() }()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	cfg := w.cfg

	if w.repo != nil {
		branch, _ := w.repo.Branch()
		fmt.Fprintf(out, "Git: %s (%s)\n", w.root, branch)
		if !w.repo.HasCommits() {
			fmt.Fprintln(out, "Commits: none yet")
		}
		if clean, err := w.repo.IsClean(); err == nil {
			state := "uncommitted changes"
			if clean {
				state = "clean"
			}
			fmt.Fprintf(out, "Working tree: %s\n", state)
		}
	} else {
		fmt.Fprintf(out, "Git: not in a repository (%v)\n", w.openErr)
	}

	result, err := ollama.NewClient(cfg.OllamaBaseURL, nil).Check(cmd.Context(), cfg.Model)
	if err != nil {
		if errors.Is(err, ollama.ErrUnreachable) {
			fmt.Fprintf(errOut, "Ollama unreachable at %s. Is the server running? For local: ollama serve.\n", cfg.OllamaBaseURL)
			fmt.Fprintf(errOut, "Details: %v\n", err)
			return errExit(exitModel)
		}
		fmt.Fprintln(errOut, err.Error())
		return errExit(exitError)
	}
	fmt.Fprintf(out, "Ollama: OK (%s)\n", cfg.OllamaBaseURL)
	if !result.ModelPresent {
		fmt.Fprintf(errOut, "Model %q not found. Pull it with: ollama pull %s\n", cfg.Model, cfg.Model)
		if len(result.ModelNames) > 0 {
			fmt.Fprintf(errOut, "Installed: %s\n", strings.Join(result.ModelNames, ", "))
		}
		return errExit(exitModel)
	}
	fmt.Fprintf(out, "Model: %s\n", cfg.Model)
	return nil
}
