// Rule tables and YAML rule files.

package classify

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// MatchKind selects how a Rule's Pattern is compared to a path.
type MatchKind string

const (
	// MatchName compares the base name, case-insensitively.
	MatchName MatchKind = "name"
	// MatchDir matches when any directory segment equals Pattern (case-insensitive).
	MatchDir MatchKind = "dir"
	// MatchGlob matches the lowercased base name against a path.Match glob.
	MatchGlob MatchKind = "glob"
	// MatchPath matches the whole path: a Pattern ending in "/" is a directory
	// prefix (anywhere in the path), anything else is a path.Match glob.
	MatchPath MatchKind = "path"
	// MatchExt compares the file extension including the dot, case-insensitively.
	MatchExt MatchKind = "ext"
)

// Rule maps paths matching Pattern to Category. Confidence defaults to
// medium for extension rules and high for everything else.
type Rule struct {
	Name       string     `yaml:"name"`
	Category   Category   `yaml:"category"`
	Match      MatchKind  `yaml:"match"`
	Pattern    string     `yaml:"pattern"`
	Confidence Confidence `yaml:"confidence,omitempty"`
}

func (r Rule) confidence() Confidence {
	if r.Confidence != "" {
		return r.Confidence
	}
	if r.Match == MatchExt {
		return ConfidenceMedium
	}
	return ConfidenceHigh
}

// Matches reports whether the slash-separated path p matches the rule.
func (r Rule) Matches(p string) bool {
	base := path.Base(p)
	switch r.Match {
	case MatchName:
		return strings.EqualFold(base, r.Pattern)
	case MatchDir:
		segs := strings.Split(p, "/")
		for _, s := range segs[:len(segs)-1] {
			if strings.EqualFold(s, r.Pattern) {
				return true
			}
		}
		return false
	case MatchGlob:
		ok, err := path.Match(strings.ToLower(r.Pattern), strings.ToLower(base))
		return err == nil && ok
	case MatchPath:
		if strings.HasSuffix(r.Pattern, "/") {
			return strings.HasPrefix(p, r.Pattern) || strings.Contains(p, "/"+r.Pattern)
		}
		ok, err := path.Match(r.Pattern, p)
		return err == nil && ok
	case MatchExt:
		return strings.EqualFold(path.Ext(base), r.Pattern)
	}
	return false
}

// Validate checks that the rule can be evaluated.
func (r Rule) Validate() error {
	if !r.Category.Valid() {
		return fmt.Errorf("unknown category %q", r.Category)
	}
	if r.Pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	switch r.Match {
	case MatchName, MatchDir, MatchExt:
	case MatchGlob, MatchPath:
		if _, err := path.Match(r.Pattern, ""); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", r.Pattern, err)
		}
	default:
		return fmt.Errorf("unknown match kind %q", r.Match)
	}
	if r.Confidence != "" && !r.Confidence.Valid() {
		return fmt.Errorf("unknown confidence %q", r.Confidence)
	}
	return nil
}

func names(cat Category, kind MatchKind, conf Confidence, patterns ...string) []Rule {
	out := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, Rule{
			Name:       string(cat) + ":" + string(kind) + ":" + p,
			Category:   cat,
			Match:      kind,
			Pattern:    p,
			Confidence: conf,
		})
	}
	return out
}

func concat(groups ...[]Rule) []Rule {
	var out []Rule
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// DefaultRules is evaluated in order; the first match wins. Generated
// artifacts come first, then tests, exact config and build manifests,
// documentation, and finally extension-only rules.
var DefaultRules = concat(
	names(CategoryOther, MatchGlob, "", "*.pb.go", "*_generated.go", "*.min.js", "*.min.css", "*.map"),
	names(CategoryTest, MatchDir, "", "test", "tests", "__tests__", "spec", "testdata"),
	names(CategoryTest, MatchGlob, "", "test_*", "*_test.*", "*.test.*", "*_spec.*", "*.spec.*", "*_test", "*_spec"),
	names(CategoryConfig, MatchPath, "", ".github/workflows/", ".circleci/", ".gitlab/"),
	names(CategoryConfig, MatchName, "",
		".gitlab-ci.yml", ".travis.yml", "jenkinsfile", "azure-pipelines.yml", ".pre-commit-config.yaml",
		"dockerfile", "docker-compose.yml", "docker-compose.yaml", ".dockerignore",
		".env", ".env.local", ".env.example", ".gitignore", ".gitattributes", ".editorconfig",
		".golangci.yml", ".golangci.yaml", ".eslintrc", ".eslintrc.json", ".prettierrc", "tsconfig.json",
		"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "poetry.lock", "pipfile.lock", "cargo.lock", "gemfile.lock", "composer.lock", "uv.lock"),
	names(CategoryBuild, MatchName, "",
		"go.mod", "go.sum", "makefile", "gnumakefile", "package.json", "pyproject.toml", "setup.py", "setup.cfg",
		"requirements.txt", "pipfile", "cargo.toml", "pom.xml", "build.gradle", "build.gradle.kts",
		"settings.gradle", "cmakelists.txt", "gemfile", "composer.json", "justfile", "taskfile.yml", "build.zig"),
	names(CategoryDocs, MatchGlob, "", "readme*", "changelog*", "license*", "contributing*", "authors*", "notice*"),
	names(CategoryDocs, MatchDir, "", "docs", "doc", "documentation"),
	names(CategoryDocs, MatchExt, "", ".md", ".markdown", ".rst", ".txt", ".adoc", ".tex"),
	names(CategoryConfig, MatchExt, "", ".yml", ".yaml", ".json", ".toml", ".ini", ".conf", ".cfg", ".env", ".properties", ".xml"),
	names(CategorySource, MatchExt, "",
		".go", ".py", ".js", ".mjs", ".cjs", ".ts", ".jsx", ".tsx", ".java", ".kt", ".kts", ".scala",
		".c", ".h", ".cc", ".cpp", ".hpp", ".rb", ".erb", ".rs", ".php", ".cs", ".swift", ".m", ".mm",
		".sh", ".bash", ".zsh", ".lua", ".dart", ".ex", ".exs", ".erl", ".hs", ".clj", ".sql", ".vue", ".svelte",
		".html", ".css", ".scss", ".less", ".proto", ".zig"),
	names(CategoryOther, MatchExt, "",
		".png", ".jpg", ".jpeg", ".gif", ".ico", ".svg", ".webp", ".pdf", ".zip", ".tar", ".gz", ".tgz",
		".jar", ".war", ".so", ".dll", ".dylib", ".exe", ".bin", ".woff", ".woff2", ".ttf", ".otf", ".mp4", ".mp3", ".lock"),
)

// File is the YAML rule-file format:
//
//	scope_roots: [src, services]
//	rules:
//	  - name: migrations
//	    category: build
//	    match: path
//	    pattern: db/migrations/
type File struct {
	Roots []string `yaml:"scope_roots"`
	Rules []Rule   `yaml:"rules"`
}

// LoadFile reads a YAML rule file and returns Options whose rules are the
// file's rules followed by DefaultRules (file rules win). Roots come from
// the file when set, otherwise DefaultRoots. Every rule is validated.
func LoadFile(filename string) (*Options, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseFile(data)
}

// ParseFile is LoadFile for already-read YAML.
func ParseFile(data []byte) (*Options, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i, r := range f.Rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		if f.Rules[i].Name == "" {
			f.Rules[i].Name = fmt.Sprintf("custom:%d", i)
		}
	}
	opts := &Options{Rules: concat(f.Rules, DefaultRules)}
	if len(f.Roots) > 0 {
		opts.Roots = f.Roots
	}
	return opts, nil
}
