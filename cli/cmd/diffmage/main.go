package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"diffmage/cli/internal/commitmsg"
	"diffmage/cli/internal/erruser"
	"diffmage/cli/internal/generate"
	"diffmage/cli/internal/ollama"
	"diffmage/cli/internal/version"
)

// Exit codes.
const (
	exitOK = 0
	// exitError is any failure not listed below.
	exitError = 1
	// exitModel means Ollama was unreachable, the model is missing, or the
	// call failed or timed out.
	exitModel = 2
	// exitRejected means every reply was rejected by the validator.
	exitRejected = 3
)

// errExit is an error that carries an exit code for the CLI; the message has
// already been printed. Use errors.As to detect it.
type errExit int

func (e errExit) Error() string {
	return "exit " + strconv.Itoa(int(e))
}

// app holds the process surroundings so tests can run commands in-process.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// env is passed to config.Load; nil means os.Environ().
	env []string
	// dir is the working directory; empty means os.Getwd().
	dir string
}

func main() {
	os.Exit(Run())
}

// Run is the entry point for the CLI.
func Run() int {
	return runCLI(os.Args[1:])
}

func runCLI(args []string) int {
	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	return a.run(args)
}

func (a *app) run(args []string) int {
	rootCmd := a.rootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		var exitErr errExit
		if errors.As(err, &exitErr) {
			return int(exitErr)
		}
		a.printError(err)
		return exitCode(err)
	}
	return exitOK
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "diffmage",
		Short: "Write Conventional Commit messages for staged changes with a local model",
		Long: "diffmage reads the staged diff, classifies and summarizes the change, asks a\n" +
			"local Ollama model for a commit message and validates it against the\n" +
			"configured Conventional Commits convention.",
		Version: version.String(),
	}
	addGlobalFlags(rootCmd)
	rootCmd.AddCommand(a.newGenerateCmd())
	rootCmd.AddCommand(a.newAnalyzeCmd())
	rootCmd.AddCommand(a.newPromptCmd())
	rootCmd.AddCommand(a.newEvaluateCmd())
	rootCmd.AddCommand(a.newReportCmd())
	rootCmd.AddCommand(a.newDoctorCmd())
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.SetIn(a.stdin)
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)
	return rootCmd
}

// printError writes the user-facing message, then the cause and any hint.
func (a *app) printError(err error) {
	fmt.Fprintln(a.stderr, err)
	var ue *erruser.Err
	if errors.As(err, &ue) && ue.Err != nil {
		fmt.Fprintf(a.stderr, "Details: %v\n", ue.Err)
	}
	if h := erruser.Hint(err); h != "" {
		fmt.Fprintf(a.stderr, "Hint: %s\n", h)
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, ollama.ErrUnreachable),
		errors.Is(err, ollama.ErrModelNotFound),
		errors.Is(err, generate.ErrLLMCallFailed):
		return exitModel
	case errors.Is(err, commitmsg.ErrInvalidCommitMessage):
		return exitRejected
	default:
		return exitError
	}
}
