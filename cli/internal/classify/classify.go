// Package classify assigns each file change a category (source, test, docs,
// config, build, other), a scope derived from its path, and a confidence.
//
// Classification is driven by an ordered rule table evaluated top to bottom;
// the first matching rule wins. The table is plain data so it can be tested
// on its own and extended from a YAML file (see LoadFile). Classify never
// fails: unmatched text files are source/low and unmatched binary files are
// other/low.
package classify

import (
	"path"
	"strings"

	"diffmage/cli/internal/diff"
)

// Category is the kind of content a file holds.
type Category string

const (
	CategorySource Category = "source"
	CategoryTest   Category = "test"
	CategoryDocs   Category = "docs"
	CategoryConfig Category = "config"
	CategoryBuild  Category = "build"
	CategoryOther  Category = "other"
)

// Categories lists every category in reporting order.
var Categories = []Category{CategorySource, CategoryTest, CategoryDocs, CategoryConfig, CategoryBuild, CategoryOther}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Confidence is a coarse, heuristic certainty level (not a probability).
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Valid reports whether c is a known confidence level.
func (c Confidence) Valid() bool {
	return c == ConfidenceLow || c == ConfidenceMedium || c == ConfidenceHigh
}

// Classification is attached to one diff.FileChange.
type Classification struct {
	Category   Category
	Scope      string
	Confidence Confidence
	// Rule is the name of the matching rule; empty for the fallback.
	Rule string
}

// DefaultRoots are directory names skipped when inferring a scope, so
// "src/parser/x.go" and "internal/parser/x.go" both get scope "parser".
var DefaultRoots = []string{"src", "lib", "pkg", "internal", "cmd", "app", "packages", "cli"}

// Options configures classification. A nil *Options uses DefaultRules and DefaultRoots.
type Options struct {
	// Rules replaces DefaultRules when non-nil.
	Rules []Rule
	// Roots replaces DefaultRoots when non-nil.
	Roots []string
}

func (o *Options) rules() []Rule {
	if o == nil || o.Rules == nil {
		return DefaultRules
	}
	return o.Rules
}

func (o *Options) roots() []string {
	if o == nil || o.Roots == nil {
		return DefaultRoots
	}
	return o.Roots
}

// Classify returns the classification of fc. Renamed and copied files are
// classified by their new path.
func Classify(fc diff.FileChange, opts *Options) Classification {
	p := normalize(fc.Path())
	c := Classification{Scope: Scope(p, opts.roots())}
	for _, r := range opts.rules() {
		if r.Matches(p) {
			c.Category = r.Category
			c.Confidence = r.confidence()
			c.Rule = r.Name
			return c
		}
	}
	c.Confidence = ConfidenceLow
	if fc.Binary {
		c.Category = CategoryOther
	} else {
		c.Category = CategorySource
	}
	return c
}

// All classifies every change. The result is index-aligned with changes.
func All(changes []diff.FileChange, opts *Options) []Classification {
	out := make([]Classification, len(changes))
	for i, fc := range changes {
		out[i] = Classify(fc, opts)
	}
	return out
}

// Scope returns the first meaningful directory segment of p after leading
// root directories (and hidden directories such as .github) are skipped.
// Root-level files, and files directly under a root, have an empty scope.
func Scope(p string, roots []string) string {
	p = normalize(p)
	segs := strings.Split(p, "/")
	if len(segs) < 2 {
		return ""
	}
	dirs := segs[:len(segs)-1]
	for _, d := range dirs {
		if d == "" || d == "." || d == ".." || strings.HasPrefix(d, ".") {
			continue
		}
		if isRoot(d, roots) {
			continue
		}
		return d
	}
	return ""
}

func isRoot(seg string, roots []string) bool {
	for _, r := range roots {
		if strings.EqualFold(seg, r) {
			return true
		}
	}
	return false
}

func normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimPrefix(p, "./")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
