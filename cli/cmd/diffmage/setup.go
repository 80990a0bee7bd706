package main

import (
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"diffmage/cli/internal/classify"
	"diffmage/cli/internal/config"
	"diffmage/cli/internal/diff"
	"diffmage/cli/internal/erruser"
	"diffmage/cli/internal/generate"
	"diffmage/cli/internal/git"
	"diffmage/cli/internal/logging"
	"diffmage/cli/internal/ollama"
	"diffmage/cli/internal/prompt"
)

func addGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "Global config file (default $XDG_CONFIG_HOME/diffmage/config.toml)")
	f.String("model", "", "Ollama model; overrides config and DIFFMAGE_MODEL")
	f.String("ollama-base-url", "", "Ollama server URL; overrides config and DIFFMAGE_OLLAMA_BASE_URL")
	f.Duration("timeout", 0, "Bound on each model call, e.g. 90s")
	f.String("state-dir", "", "Directory for history and system_prompt.txt (default <repo>/.diffmage)")
	f.String("log-level", "", "Log level: debug, info, warn or error")
	f.Bool("log-json", false, "Write logs as JSON lines")
	f.Bool("trace", false, "Log every pipeline stage to stderr (same as --log-level=debug)")
}

// addInputFlags adds the flags that choose and shape the analyzed diff.
func addInputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("diff", "", "Read the diff from a file (- for stdin) instead of the index")
	f.String("rev", "", "Use the changes of an existing commit instead of the index")
	f.String("rules", "", "YAML classification rules file; overrides rules_file")
	f.Bool("include-generated", false, "Keep lockfiles, vendored and generated files")
	f.Int("max-header-length", 0, "Maximum header length in characters")
	f.StringSlice("types", nil, "Allowed commit types, comma separated")
	f.Bool("scope-required", false, "Reject headers without a scope")
	f.Bool("no-body", false, "Header only; drop any body the model writes")
	f.Int("prompt-budget", 0, "Prompt size budget in characters")
	f.Int("hunk-cap", 0, "Maximum representative hunks shown to the model")
}

// overridesFromFlags returns Overrides for every flag the user set, or nil.
func overridesFromFlags(cmd *cobra.Command) *config.Overrides {
	fs := cmd.Flags()
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}
	o := &config.Overrides{}
	set := false
	str := func(name string) *string {
		if !changed(name) {
			return nil
		}
		v, _ := fs.GetString(name)
		set = true
		return &v
	}
	num := func(name string) *int {
		if !changed(name) {
			return nil
		}
		v, _ := fs.GetInt(name)
		set = true
		return &v
	}
	o.Model = str("model")
	o.OllamaBaseURL = str("ollama-base-url")
	o.StateDir = str("state-dir")
	o.LogLevel = str("log-level")
	o.RulesFile = str("rules")
	o.MaxHeaderLength = num("max-header-length")
	o.PromptCharBudget = num("prompt-budget")
	o.HunkCap = num("hunk-cap")
	o.Retries = num("retries")
	if changed("timeout") {
		v, _ := fs.GetDuration("timeout")
		o.Timeout, set = &v, true
	}
	if changed("temperature") {
		v, _ := fs.GetFloat64("temperature")
		o.Temperature, set = &v, true
	}
	if changed("trace") {
		if v, _ := fs.GetBool("trace"); v {
			level := "debug"
			o.LogLevel, set = &level, true
		}
	}
	if changed("types") {
		o.AllowedTypes, _ = fs.GetStringSlice("types")
		set = true
	}
	negated := func(name string) *bool {
		if !changed(name) {
			return nil
		}
		v, _ := fs.GetBool(name)
		v = !v
		set = true
		return &v
	}
	o.ExcludeGenerated = negated("include-generated")
	o.BodyEnabled = negated("no-body")
	o.HistoryEnabled = negated("no-history")
	if changed("scope-required") {
		v, _ := fs.GetBool("scope-required")
		o.ScopeRequired, set = &v, true
	}
	if !set {
		return nil
	}
	return o
}

// workspace is the loaded repository, configuration and logger for one
// command.
type workspace struct {
	// repo is nil outside a repository; openErr says why.
	repo    *git.Repo
	openErr error
	root    string
	cfg     *config.Config
	log     *zap.Logger
	// stateDir is empty when there is neither a repository nor a
	// configured state_dir; history is then skipped.
	stateDir string
}

func (a *app) open(cmd *cobra.Command) (*workspace, error) {
	dir := a.dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, erruser.New("Could not determine current directory.", err)
		}
		dir = wd
	}
	w := &workspace{}
	if r, err := git.Open(dir); err == nil {
		w.repo, w.root = r, r.Root
	} else {
		w.openErr = err
	}
	globalPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cmd.Context(), config.LoadOptions{
		RepoRoot:         w.root,
		GlobalConfigPath: globalPath,
		Env:              a.env,
		Overrides:        overridesFromFlags(cmd),
	})
	if err != nil {
		return nil, err
	}
	w.cfg = cfg
	jsonLogs, _ := cmd.Flags().GetBool("log-json")
	w.log, err = logging.New(logging.Options{Level: cfg.LogLevel, JSON: jsonLogs, Out: a.stderr})
	if err != nil {
		return nil, erruser.WithHint(erruser.New("Invalid log level.", err), "Use debug, info, warn or error.")
	}
	if cfg.StateDir != "" || w.root != "" {
		w.stateDir = cfg.EffectiveStateDir(w.root)
	}
	return w, nil
}

// readDiff returns the diff selected by --diff, --rev or the index, and the
// current branch when known.
func (a *app) readDiff(cmd *cobra.Command, w *workspace) (text, branch string, err error) {
	if w.repo != nil {
		if b, err := w.repo.Branch(); err == nil {
			branch = b
		} else {
			w.log.Debug("branch unavailable", zap.Error(err))
		}
	}
	if path, _ := cmd.Flags().GetString("diff"); path != "" {
		var data []byte
		if path == "-" {
			data, err = io.ReadAll(a.stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return "", "", erruser.New("Could not read diff "+path+".", err)
		}
		return string(data), branch, nil
	}
	if w.repo == nil {
		return "", "", erruser.WithHint(w.openErr, "Run inside a repository or pass --diff.")
	}
	if rev, _ := cmd.Flags().GetString("rev"); rev != "" {
		text, err = w.repo.CommitDiff(rev)
		return text, branch, err
	}
	text, err = w.repo.StagedDiff()
	return text, branch, err
}

// request builds the pipeline request from the configuration.
func (w *workspace) request(diffText, branch string) (generate.Request, error) {
	cfg := w.cfg
	req := generate.Request{
		Diff:       diffText,
		Branch:     branch,
		Convention: cfg.Convention,
		Model:      cfg.Model,
		Options: &ollama.GenerateOptions{
			Temperature: cfg.Temperature,
			NumCtx:      cfg.NumCtx,
		},
		Timeout:       cfg.Timeout,
		ContextLimit:  cfg.ContextLimit,
		WarnThreshold: cfg.WarnThreshold,
	}
	if cfg.ExcludeGenerated {
		req.Exclude = diff.DefaultExcludePatterns
	}
	if path := cfg.EffectiveRulesFile(w.root); path != "" {
		opts, err := classify.LoadFile(path)
		if err != nil {
			return req, erruser.WithHint(erruser.New("Could not load classification rules.", err),
				"Check rules_file in .diffmage/config.toml or the --rules flag.")
		}
		req.Classify = opts
	}
	system, err := prompt.SystemPrompt(w.stateDir)
	if err != nil {
		return req, erruser.New("Could not read the system prompt override.", err)
	}
	req.System = system
	return req, nil
}

// client returns an Ollama client for model calls. Calls are bounded by the
// configured timeout through the context, not the HTTP client.
func (w *workspace) client() *ollama.Client {
	return ollama.NewClient(w.cfg.OllamaBaseURL, &http.Client{})
}
