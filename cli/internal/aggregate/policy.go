package aggregate

import (
	"regexp"

	"diffmage/cli/internal/classify"
	"diffmage/cli/internal/diff"
)

// ChangeType is the heuristic overall type of a change set. The values match
// Conventional Commits types.
type ChangeType string

const (
	TypeFeat     ChangeType = "feat"
	TypeFix      ChangeType = "fix"
	TypeRefactor ChangeType = "refactor"
	TypeTest     ChangeType = "test"
	TypeDocs     ChangeType = "docs"
	TypeBuild    ChangeType = "build"
	TypeChore    ChangeType = "chore"
)

// Policy step names reported in Summary.Rule.
const (
	RuleEmpty       = "empty"
	RuleTestsOnly   = "tests-only"
	RuleNewTest     = "new-test"
	RuleDocsOnly    = "docs-only"
	RuleRemovalOnly = "removal-only"
	RuleNewCode     = "new-code"
	RuleConfigOnly  = "config-only"
	RuleSourceEdit  = "source-edit"
	RuleFallback    = "fallback"
)

var bugTermsRe = regexp.MustCompile(`(?i)\b(?:fix|fixes|fixed|bug|bugs|panic|crash|incorrect|wrong|issue|fail|failed|failure|exception|regression|broken|workaround)\b`)

// decideType applies the change-type policy. The steps are evaluated in this
// fixed order and the first that applies wins:
//
//  1. no source file changed and either every file is a test and some test
//     gained lines, or a test file was added: test
//  2. every file is documentation: docs
//  3. files were deleted and no line was added anywhere: chore
//  4. a source or test file was added and source is part of the change: feat
//  5. only config and build files: build if any build file, else chore
//  6. only source (and test) modifications, nothing added: fix when changed
//     lines use bug terminology, else refactor
//  7. anything else: chore
func decideType(recs []record) (ChangeType, string) {
	if len(recs) == 0 {
		return TypeChore, RuleEmpty
	}
	n := len(recs)
	var tests, docs, source, config, build, totalAdded int
	var testGrew, testAdded, deleted, added, newCode bool
	sourceOrTestOnly := true
	for _, r := range recs {
		fc, cat := r.change, r.class.Category
		totalAdded += fc.Added
		switch cat {
		case classify.CategoryTest:
			tests++
			if fc.Added > 0 || fc.Kind == diff.KindAdded {
				testGrew = true
			}
			if fc.Kind == diff.KindAdded {
				testAdded = true
			}
		case classify.CategoryDocs:
			docs++
		case classify.CategorySource:
			source++
		case classify.CategoryConfig:
			config++
		case classify.CategoryBuild:
			build++
		}
		if cat != classify.CategorySource && cat != classify.CategoryTest {
			sourceOrTestOnly = false
		}
		switch fc.Kind {
		case diff.KindDeleted:
			deleted = true
		case diff.KindAdded, diff.KindCopied:
			added = true
			if cat == classify.CategorySource || cat == classify.CategoryTest {
				newCode = true
			}
		}
	}

	switch {
	case tests == n && testGrew:
		return TypeTest, RuleTestsOnly
	case testAdded && source == 0:
		return TypeTest, RuleNewTest
	case docs == n:
		return TypeDocs, RuleDocsOnly
	case deleted && totalAdded == 0:
		return TypeChore, RuleRemovalOnly
	case newCode && source > 0:
		return TypeFeat, RuleNewCode
	case config+build == n:
		if build > 0 {
			return TypeBuild, RuleConfigOnly
		}
		return TypeChore, RuleConfigOnly
	case source > 0 && sourceOrTestOnly && !added && !deleted:
		if mentionsBug(recs) {
			return TypeFix, RuleSourceEdit
		}
		return TypeRefactor, RuleSourceEdit
	}
	return TypeChore, RuleFallback
}

func mentionsBug(recs []record) bool {
	for _, r := range recs {
		for _, h := range r.change.Hunks {
			for _, text := range h.ChangedLines() {
				if bugTermsRe.MatchString(text) {
					return true
				}
			}
		}
	}
	return false
}
