package commitmsg

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"

	"diffmage/cli/internal/convention"
)

// typeSynonyms maps common non-standard header types to Conventional
// Commits types. A mapping applies only when its target is allowed.
var typeSynonyms = map[string]string{
	"bugfix":        "fix",
	"bug":           "fix",
	"hotfix":        "fix",
	"fixes":         "fix",
	"fixed":         "fix",
	"feature":       "feat",
	"features":      "feat",
	"add":           "feat",
	"new":           "feat",
	"doc":           "docs",
	"documentation": "docs",
	"tests":         "test",
	"testing":       "test",
	"refactoring":   "refactor",
	"refactored":    "refactor",
	"performance":   "perf",
	"maintenance":   "chore",
	"deps":          "chore",
	"dependencies":  "chore",
	"cleanup":       "chore",
	"release":       "chore",
	"version":       "chore",
	"pipeline":      "ci",
	"format":        "style",
	"formatting":    "style",
	"packaging":     "build",
}

// maxSuggestDistance bounds the edit distance of a "did you mean" suggestion.
const maxSuggestDistance = 2

// resolveType returns the canonical allowed type for typ and the repair
// applied, or a type error.
func resolveType(typ string, conv convention.Convention) (string, string, *InvalidMessageError) {
	if canon, ok := conv.CanonicalType(typ); ok {
		if canon != typ {
			return canon, RepairTypeCase, nil
		}
		return canon, "", nil
	}
	folded := cases.Fold().String(typ)
	if target, ok := typeSynonyms[folded]; ok {
		if canon, ok := conv.CanonicalType(target); ok {
			return canon, RepairTypeSynonym + ":" + folded + "->" + canon, nil
		}
	}
	return "", "", &InvalidMessageError{
		Category:   CategoryType,
		Fragment:   typ,
		Expected:   "one of " + strings.Join(conv.AllowedTypes, ", "),
		Suggestion: suggestType(folded, conv.AllowedTypes),
	}
}

// suggestType returns the allowed type closest to typ: candidates are types
// within a small edit distance or that fuzzy-match typ in either direction
// ("ft" -> feat, "fixup" -> fix). Ties keep allowed order. "" when none.
func suggestType(typ string, allowed []string) string {
	best, bestDist := "", -1
	for _, a := range allowed {
		d := fuzzy.LevenshteinDistance(typ, a)
		if d > maxSuggestDistance && !fuzzy.MatchFold(typ, a) && !fuzzy.MatchFold(a, typ) {
			continue
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = a, d
		}
	}
	return best
}
