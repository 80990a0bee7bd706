package aggregate

import (
	"regexp"

	"diffmage/cli/internal/classify"
	"diffmage/cli/internal/diff"
	"diffmage/cli/internal/hunkid"
)

// categoryWeight multiplies the changed-line count of a hunk.
var categoryWeight = map[classify.Category]int{
	classify.CategorySource: 4,
	classify.CategoryConfig: 3,
	classify.CategoryBuild:  3,
	classify.CategoryTest:   2,
	classify.CategoryDocs:   1,
	classify.CategoryOther:  1,
}

const (
	keywordBonus    = 5
	maxKeywordBonus = 25
)

var definitionRe = regexp.MustCompile(
	`^\s*(?:export\s+)?(?:pub(?:\([a-z]+\))?\s+)?(?:async\s+)?(?:static\s+)?` +
		`(?:func|def|class|type|interface|struct|fn|function|const|var|let|impl|module|enum|trait)\b` +
		`|^\s*(?:public|private|protected)\s+\S`)

// Score returns the significance of h in the file at path with category cat:
// changed lines times the category weight, plus a bonus for each changed line
// that adds or removes a definition (capped), halved for cosmetic hunks.
func Score(path string, cat classify.Category, h diff.Hunk) (score int, cosmetic bool) {
	w, ok := categoryWeight[cat]
	if !ok {
		w = 1
	}
	score = h.Changed() * w

	bonus := 0
	for _, text := range h.ChangedLines() {
		if definitionRe.MatchString(text) {
			bonus += keywordBonus
			if bonus >= maxKeywordBonus {
				bonus = maxKeywordBonus
				break
			}
		}
	}
	score += bonus

	if hunkid.Cosmetic(path, h) {
		return score / 2, true
	}
	return score, false
}
