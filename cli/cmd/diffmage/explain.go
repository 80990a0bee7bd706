package main

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"diffmage/cli/internal/commitmsg"
	"diffmage/cli/internal/convention"
	"diffmage/cli/internal/diff"
	"diffmage/cli/internal/erruser"
	"diffmage/cli/internal/evaluate"
	"diffmage/cli/internal/generate"
	"diffmage/cli/internal/ollama"
	"diffmage/cli/internal/prompt"
)

// explain turns a pipeline or model error into a user-facing error with a
// hint. Errors that are already user-facing pass through. The cause stays
// reachable so exitCode still sees it.
func (w *workspace) explain(err error) error {
	if err == nil {
		return nil
	}
	var ue *erruser.Err
	if errors.As(err, &ue) {
		return err
	}
	cfg := w.cfg
	switch {
	case errors.Is(err, generate.ErrNothingStaged):
		return erruser.WithHint(erruser.New("No staged changes to describe.", err),
			"Stage files with git add, or pass --include-generated if only generated files changed.")
	case errors.Is(err, diff.ErrMalformedDiff):
		return erruser.New("The diff could not be parsed.", err)
	case errors.Is(err, convention.ErrInvalidConvention):
		return erruser.WithHint(erruser.New("Invalid commit convention.", err),
			"Check the [convention] table in .diffmage/config.toml and the convention flags.")
	case errors.Is(err, prompt.ErrBudgetExceeded):
		return erruser.WithHint(erruser.New("The change summary does not fit in the prompt budget.", err),
			"Raise prompt_char_budget in [convention] or context_limit.")
	case errors.Is(err, ollama.ErrModelNotFound):
		return erruser.WithHint(erruser.New(fmt.Sprintf("Model %q not found.", cfg.Model), err),
			"Pull it with: ollama pull "+cfg.Model)
	case errors.Is(err, ollama.ErrUnreachable):
		return erruser.WithHint(erruser.New("Ollama unreachable at "+cfg.OllamaBaseURL+".", err),
			"Is the server running? For local: ollama serve.")
	case errors.Is(err, generate.ErrLLMCallFailed):
		return erruser.WithHint(erruser.New("The model call failed.", err),
			fmt.Sprintf("Raise the timeout (now %s) with --timeout, or check the Ollama logs.", cfg.Timeout))
	case errors.Is(err, evaluate.ErrInvalidEvaluation):
		return erruser.WithHint(erruser.New("The judge's reply could not be read as scores.", err),
			"Run again, or use --trace to see the raw reply.")
	case errors.Is(err, commitmsg.ErrInvalidCommitMessage):
		return erruser.WithHint(erruser.New("The model's reply is not a valid commit message.", err),
			"Retry with --retries, try a larger model, or relax the convention.")
	}
	return err
}
