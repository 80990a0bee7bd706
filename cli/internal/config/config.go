// Package config provides diffmage configuration with a defined load order:
// CLI flags > environment variables > repo config > global config > defaults.
//
// Paths:
//   - Repo: .diffmage/config.toml (relative to repo root)
//   - Global: XDG config dir, e.g. ~/.config/diffmage/config.toml (see os.UserConfigDir)
//
// Environment variables (override config files when set):
//   - DIFFMAGE_MODEL, DIFFMAGE_OLLAMA_BASE_URL, DIFFMAGE_TIMEOUT (Go duration or integer seconds),
//   - DIFFMAGE_TEMPERATURE, DIFFMAGE_NUM_CTX (Ollama runtime options; passed to /api/generate),
//   - DIFFMAGE_CONTEXT_LIMIT, DIFFMAGE_WARN_THRESHOLD, DIFFMAGE_STATE_DIR, DIFFMAGE_LOG_LEVEL,
//   - DIFFMAGE_HISTORY_ENABLED, DIFFMAGE_EXCLUDE_GENERATED (1/true/yes/on or 0/false/no/off),
//   - DIFFMAGE_RETRIES (extra model calls after a rejected reply),
//   - DIFFMAGE_MAX_HEADER_LENGTH, DIFFMAGE_ALLOWED_TYPES (comma list),
//     DIFFMAGE_PROMPT_CHAR_BUDGET, DIFFMAGE_HUNK_CAP (commit convention).
package config

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"diffmage/cli/internal/convention"
	"diffmage/cli/internal/erruser"
)

// Config holds all diffmage configuration. An empty StateDir means
// repoRoot/.diffmage.
type Config struct {
	Model         string        `toml:"model"`
	OllamaBaseURL string        `toml:"ollama_base_url"`
	Timeout       time.Duration `toml:"timeout"`
	// Temperature and NumCtx are passed to Ollama /api/generate options.
	Temperature float64 `toml:"temperature"`
	NumCtx      int     `toml:"num_ctx"`
	// ContextLimit is the model context in tokens; it caps the prompt budget
	// and drives the context warning. 0 disables both.
	ContextLimit  int     `toml:"context_limit"`
	WarnThreshold float64 `toml:"warn_threshold"`
	StateDir      string  `toml:"state_dir"`
	LogLevel      string  `toml:"log_level"`
	// HistoryEnabled appends each generation and evaluation to history.jsonl.
	HistoryEnabled bool `toml:"history_enabled"`
	// ExcludeGenerated drops lockfiles, vendored and generated files before analysis.
	ExcludeGenerated bool `toml:"exclude_generated"`
	// RulesFile is a YAML classification rule file; relative paths are
	// resolved against the repo root.
	RulesFile string `toml:"rules_file"`
	// Retries is how many more times generate asks the model after a
	// rejected reply, with the rejection fed back into the prompt.
	Retries    int                   `toml:"retries"`
	Convention convention.Convention `toml:"convention"`
}

// Overrides represents optional CLI flag overrides. Non-nil pointer means
// "override with this value".
type Overrides struct {
	Model            *string
	OllamaBaseURL    *string
	Timeout          *time.Duration
	Temperature      *float64
	NumCtx           *int
	ContextLimit     *int
	StateDir         *string
	LogLevel         *string
	HistoryEnabled   *bool
	ExcludeGenerated *bool
	RulesFile        *string
	Retries          *int
	MaxHeaderLength  *int
	AllowedTypes     []string
	ScopeRequired    *bool
	BodyEnabled      *bool
	PromptCharBudget *int
	HunkCap          *int
}

// LoadOptions configures Load. All fields are optional.
type LoadOptions struct {
	// RepoRoot is the repository root; if set, repo config is RepoRoot/.diffmage/config.toml.
	RepoRoot string
	// GlobalConfigPath is the global config file path; if empty, XDG path is used.
	GlobalConfigPath string
	// Env is the environment key=value slice; if nil, os.Environ() is used.
	Env []string
	// Overrides are applied last (highest precedence).
	Overrides *Overrides
}

const (
	_defaultModel         = "qwen2.5-coder:7b"
	_defaultOllamaBaseURL = "http://localhost:11434"
	_defaultTimeout       = 2 * time.Minute
	_defaultTemperature   = 0.2
	_defaultNumCtx        = 8192
	_defaultContextLimit  = 8192
	_defaultWarnThreshold = 0.9
	_defaultLogLevel      = "warn"
	_defaultRetries       = 1
	_maxRetries           = 5
)

// StateDirName is the per-repo directory for config, history and the
// system prompt override.
const StateDirName = ".diffmage"

// errIntOverflow is returned when an int64 value does not fit in int.
var errIntOverflow = errors.New("value out of range for int")

func int64ToInt(n int64) (int, error) {
	if n < int64(math.MinInt) || n > int64(math.MaxInt) {
		return 0, errIntOverflow
	}
	return int(n), nil
}

// DefaultConfig returns the default configuration (no I/O).
func DefaultConfig() Config {
	return Config{
		Model:            _defaultModel,
		OllamaBaseURL:    _defaultOllamaBaseURL,
		Timeout:          _defaultTimeout,
		Temperature:      _defaultTemperature,
		NumCtx:           _defaultNumCtx,
		ContextLimit:     _defaultContextLimit,
		WarnThreshold:    _defaultWarnThreshold,
		LogLevel:         _defaultLogLevel,
		HistoryEnabled:   true,
		ExcludeGenerated: true,
		Retries:          _defaultRetries,
		Convention:       convention.Default(),
	}
}

// EffectiveStateDir returns StateDir if set, otherwise repoRoot/.diffmage.
func (c Config) EffectiveStateDir(repoRoot string) string {
	if c.StateDir != "" {
		return c.StateDir
	}
	return filepath.Join(repoRoot, StateDirName)
}

// EffectiveRulesFile returns RulesFile resolved against repoRoot, or "".
func (c Config) EffectiveRulesFile(repoRoot string) string {
	if c.RulesFile == "" || filepath.IsAbs(c.RulesFile) || repoRoot == "" {
		return c.RulesFile
	}
	return filepath.Join(repoRoot, c.RulesFile)
}

// Load loads configuration with precedence: defaults < global file < repo file < env < overrides.
// Missing config files are ignored. Invalid TOML, invalid env values or an
// invalid resulting convention return an error.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	cfg := DefaultConfig()

	globalPath := opts.GlobalConfigPath
	if globalPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, erruser.New("Could not determine config directory.", err)
		}
		globalPath = filepath.Join(dir, "diffmage", "config.toml")
	}
	if err := mergeFile(&cfg, globalPath); err != nil {
		return nil, err
	}

	if opts.RepoRoot != "" {
		repoPath := filepath.Join(opts.RepoRoot, StateDirName, "config.toml")
		if err := mergeFile(&cfg, repoPath); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg, opts.Env); err != nil {
		return nil, err
	}

	applyOverrides(&cfg, opts.Overrides)
	if err := cfg.Convention.Validate(); err != nil {
		return nil, erruser.WithHint(
			erruser.New("Invalid commit convention in configuration.", err),
			"Check the [convention] table in .diffmage/config.toml and the DIFFMAGE_* variables.")
	}
	return &cfg, nil
}

type conventionFile struct {
	MaxHeaderLength       *int64    `toml:"max_header_length"`
	AllowedTypes          *[]string `toml:"allowed_types"`
	ScopeRequired         *bool     `toml:"scope_required"`
	BodyEnabled           *bool     `toml:"body_enabled"`
	PromptCharBudget      *int64    `toml:"prompt_char_budget"`
	RepresentativeHunkCap *int64    `toml:"representative_hunk_cap"`
	BodyWrapWidth         *int64    `toml:"body_wrap_width"`
	ScopeRoots            *[]string `toml:"scope_roots"`
}

// mergeFile reads path and merges into cfg. Only fields present in the file
// are applied. A missing file is skipped (no error).
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return erruser.New("Could not read configuration file.", err)
	}
	var file struct {
		Model            *string         `toml:"model"`
		OllamaBaseURL    *string         `toml:"ollama_base_url"`
		Timeout          *string         `toml:"timeout"`
		Temperature      *float64        `toml:"temperature"`
		NumCtx           *int64          `toml:"num_ctx"`
		ContextLimit     *int64          `toml:"context_limit"`
		WarnThreshold    *float64        `toml:"warn_threshold"`
		StateDir         *string         `toml:"state_dir"`
		LogLevel         *string         `toml:"log_level"`
		HistoryEnabled   *bool           `toml:"history_enabled"`
		ExcludeGenerated *bool           `toml:"exclude_generated"`
		RulesFile        *string         `toml:"rules_file"`
		Retries          *int64          `toml:"retries"`
		Convention       *conventionFile `toml:"convention"`
	}
	if _, err := toml.Decode(string(data), &file); err != nil {
		return erruser.New(fmt.Sprintf("Invalid configuration in %s.", path), err)
	}
	if file.Model != nil && *file.Model != "" {
		cfg.Model = *file.Model
	}
	if file.OllamaBaseURL != nil && *file.OllamaBaseURL != "" {
		cfg.OllamaBaseURL = *file.OllamaBaseURL
	}
	if file.Timeout != nil && *file.Timeout != "" {
		d, err := parseDuration(*file.Timeout)
		if err != nil {
			return erruser.New("Configuration timeout is invalid.", err)
		}
		cfg.Timeout = d
	}
	if file.Temperature != nil {
		if *file.Temperature < 0 || *file.Temperature > 2 {
			return erruser.New("Configuration temperature must be between 0 and 2.", nil)
		}
		cfg.Temperature = *file.Temperature
	}
	if err := fileInt(file.NumCtx, "num_ctx", 0, &cfg.NumCtx); err != nil {
		return err
	}
	if err := fileInt(file.ContextLimit, "context_limit", 0, &cfg.ContextLimit); err != nil {
		return err
	}
	if file.WarnThreshold != nil && *file.WarnThreshold >= 0 {
		cfg.WarnThreshold = *file.WarnThreshold
	}
	if file.StateDir != nil {
		cfg.StateDir = *file.StateDir
	}
	if file.LogLevel != nil && *file.LogLevel != "" {
		cfg.LogLevel = *file.LogLevel
	}
	if file.HistoryEnabled != nil {
		cfg.HistoryEnabled = *file.HistoryEnabled
	}
	if file.ExcludeGenerated != nil {
		cfg.ExcludeGenerated = *file.ExcludeGenerated
	}
	if file.RulesFile != nil {
		cfg.RulesFile = *file.RulesFile
	}
	if err := fileInt(file.Retries, "retries", 0, &cfg.Retries); err != nil {
		return err
	}
	if cfg.Retries > _maxRetries {
		return erruser.New(fmt.Sprintf("Configuration retries must be at most %d.", _maxRetries), nil)
	}
	if cf := file.Convention; cf != nil {
		c := &cfg.Convention
		if err := fileInt(cf.MaxHeaderLength, "convention.max_header_length", 1, &c.MaxHeaderLength); err != nil {
			return err
		}
		if cf.AllowedTypes != nil {
			c.AllowedTypes = normalizeTypes(*cf.AllowedTypes)
		}
		if cf.ScopeRequired != nil {
			c.ScopeRequired = *cf.ScopeRequired
		}
		if cf.BodyEnabled != nil {
			c.BodyEnabled = *cf.BodyEnabled
		}
		if err := fileInt(cf.PromptCharBudget, "convention.prompt_char_budget", 1, &c.PromptCharBudget); err != nil {
			return err
		}
		if err := fileInt(cf.RepresentativeHunkCap, "convention.representative_hunk_cap", 1, &c.RepresentativeHunkCap); err != nil {
			return err
		}
		if err := fileInt(cf.BodyWrapWidth, "convention.body_wrap_width", 1, &c.BodyWrapWidth); err != nil {
			return err
		}
		if cf.ScopeRoots != nil {
			c.ScopeRoots = append([]string{}, *cf.ScopeRoots...)
		}
	}
	return nil
}

// fileInt stores *v into dst when v is set. Values below minimum are errors.
func fileInt(v *int64, key string, minimum int64, dst *int) error {
	if v == nil {
		return nil
	}
	if *v < minimum {
		return erruser.New(fmt.Sprintf("Configuration %s must be at least %d.", key, minimum), nil)
	}
	n, err := int64ToInt(*v)
	if err != nil {
		return erruser.New(fmt.Sprintf("Configuration %s value out of range.", key), err)
	}
	*dst = n
	return nil
}

// normalizeTypes trims and lowercases header types and drops empty entries.
func normalizeTypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	return time.Duration(n) * time.Second, nil
}

// env key names for config
const (
	envModel            = "DIFFMAGE_MODEL"
	envOllamaBaseURL    = "DIFFMAGE_OLLAMA_BASE_URL"
	envTimeout          = "DIFFMAGE_TIMEOUT"
	envTemperature      = "DIFFMAGE_TEMPERATURE"
	envNumCtx           = "DIFFMAGE_NUM_CTX"
	envContextLimit     = "DIFFMAGE_CONTEXT_LIMIT"
	envWarnThreshold    = "DIFFMAGE_WARN_THRESHOLD"
	envStateDir         = "DIFFMAGE_STATE_DIR"
	envLogLevel         = "DIFFMAGE_LOG_LEVEL"
	envHistoryEnabled   = "DIFFMAGE_HISTORY_ENABLED"
	envExcludeGenerated = "DIFFMAGE_EXCLUDE_GENERATED"
	envRetries          = "DIFFMAGE_RETRIES"
	envMaxHeaderLength  = "DIFFMAGE_MAX_HEADER_LENGTH"
	envAllowedTypes     = "DIFFMAGE_ALLOWED_TYPES"
	envPromptCharBudget = "DIFFMAGE_PROMPT_CHAR_BUDGET"
	envHunkCap          = "DIFFMAGE_HUNK_CAP"
)

func applyEnv(cfg *Config, env []string) error {
	vals := make(map[string]string)
	for _, e := range env {
		idx := strings.Index(e, "=")
		if idx <= 0 {
			continue
		}
		vals[strings.TrimSpace(e[:idx])] = strings.TrimSpace(e[idx+1:])
	}
	if v := vals[envModel]; v != "" {
		cfg.Model = v
	}
	if v := vals[envOllamaBaseURL]; v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := vals[envTimeout]; v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return erruser.New(envTimeout+" must be a valid duration.", err)
		}
		cfg.Timeout = d
	}
	if v := vals[envTemperature]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return erruser.New(envTemperature+" must be a valid number.", err)
		}
		if f < 0 || f > 2 {
			return erruser.New(envTemperature+" must be between 0 and 2.", nil)
		}
		cfg.Temperature = f
	}
	if v := vals[envWarnThreshold]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return erruser.New(envWarnThreshold+" must be a valid number.", err)
		}
		cfg.WarnThreshold = f
	}
	if v, ok := vals[envStateDir]; ok {
		cfg.StateDir = v
	}
	if v := vals[envLogLevel]; v != "" {
		cfg.LogLevel = v
	}
	if v := vals[envAllowedTypes]; v != "" {
		cfg.Convention.AllowedTypes = normalizeTypes(strings.Split(v, ","))
	}
	for _, b := range []struct {
		key string
		dst *bool
	}{
		{envHistoryEnabled, &cfg.HistoryEnabled},
		{envExcludeGenerated, &cfg.ExcludeGenerated},
	} {
		if v := vals[b.key]; v != "" {
			parsed, err := parseBool(v)
			if err != nil {
				return erruser.New(b.key+" must be 1/true/yes/on or 0/false/no/off.", err)
			}
			*b.dst = parsed
		}
	}
	for _, n := range []struct {
		key     string
		minimum int64
		dst     *int
	}{
		{envNumCtx, 0, &cfg.NumCtx},
		{envContextLimit, 0, &cfg.ContextLimit},
		{envRetries, 0, &cfg.Retries},
		{envMaxHeaderLength, 1, &cfg.Convention.MaxHeaderLength},
		{envPromptCharBudget, 1, &cfg.Convention.PromptCharBudget},
		{envHunkCap, 1, &cfg.Convention.RepresentativeHunkCap},
	} {
		if err := envInt(vals, n.key, n.minimum, n.dst); err != nil {
			return err
		}
	}
	if vals[envRetries] != "" && cfg.Retries > _maxRetries {
		return erruser.New(fmt.Sprintf("%s must be at most %d.", envRetries, _maxRetries), nil)
	}
	return nil
}

func envInt(vals map[string]string, key string, minimum int64, dst *int) error {
	v := vals[key]
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return erruser.New(key+" must be a valid number.", err)
	}
	if n < minimum {
		return erruser.New(fmt.Sprintf("%s must be at least %d.", key, minimum), nil)
	}
	if *dst, err = int64ToInt(n); err != nil {
		return erruser.New(key+" value out of range.", err)
	}
	return nil
}

// parseBool parses common boolean env values: 1/true/yes/on = true, 0/false/no/off = false (case-insensitive).
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, errors.Newf("invalid boolean %q", s)
	}
}

func applyOverrides(cfg *Config, o *Overrides) {
	if o == nil {
		return
	}
	if o.Model != nil && *o.Model != "" {
		cfg.Model = *o.Model
	}
	if o.OllamaBaseURL != nil && *o.OllamaBaseURL != "" {
		cfg.OllamaBaseURL = *o.OllamaBaseURL
	}
	if o.Timeout != nil {
		cfg.Timeout = *o.Timeout
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.NumCtx != nil {
		cfg.NumCtx = max(*o.NumCtx, 0)
	}
	if o.ContextLimit != nil {
		cfg.ContextLimit = max(*o.ContextLimit, 0)
	}
	if o.StateDir != nil {
		cfg.StateDir = *o.StateDir
	}
	if o.LogLevel != nil && *o.LogLevel != "" {
		cfg.LogLevel = *o.LogLevel
	}
	if o.HistoryEnabled != nil {
		cfg.HistoryEnabled = *o.HistoryEnabled
	}
	if o.ExcludeGenerated != nil {
		cfg.ExcludeGenerated = *o.ExcludeGenerated
	}
	if o.RulesFile != nil {
		cfg.RulesFile = *o.RulesFile
	}
	if o.Retries != nil {
		cfg.Retries = min(max(*o.Retries, 0), _maxRetries)
	}
	c := &cfg.Convention
	if o.MaxHeaderLength != nil {
		c.MaxHeaderLength = *o.MaxHeaderLength
	}
	if o.AllowedTypes != nil {
		c.AllowedTypes = normalizeTypes(o.AllowedTypes)
	}
	if o.ScopeRequired != nil {
		c.ScopeRequired = *o.ScopeRequired
	}
	if o.BodyEnabled != nil {
		c.BodyEnabled = *o.BodyEnabled
	}
	if o.PromptCharBudget != nil {
		c.PromptCharBudget = *o.PromptCharBudget
	}
	if o.HunkCap != nil {
		c.RepresentativeHunkCap = *o.HunkCap
	}
}
