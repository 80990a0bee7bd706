package evaluate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const judgeSystemPrompt = `You review git commit messages. You compare a commit message with the diff it describes and grade it.
Reply with a single JSON object and nothing else.`

// judgePrompt asks for step-by-step reasoning before the scores.
func judgePrompt(message, diffText string, maxDiff int) string {
	if utf8.RuneCountInString(diffText) > maxDiff {
		diffText = string([]rune(diffText)[:maxDiff]) + "\n[diff truncated]"
	}
	var b strings.Builder
	b.WriteString("Grade the commit message below against the diff on two axes, each from 1 to 5.\n\n")
	b.WriteString("WHAT: does the message accurately and completely describe the code changes?\n")
	b.WriteString("5 = precise and complete, 3 = partly right or vague, 1 = wrong or missing.\n\n")
	b.WriteString("WHY: does the message explain the purpose, motivation or impact of the change?\n")
	b.WriteString("5 = clear rationale, 3 = implied or generic, 1 = none.\n\n")
	b.WriteString("Think through the diff first: list what changed, then check each claim in the message.\n\n")
	fmt.Fprintf(&b, "## Commit message\n%s\n\n", strings.TrimSpace(message))
	fmt.Fprintf(&b, "## Diff\n%s\n\n", strings.TrimRight(diffText, "\n"))
	b.WriteString(`Reply as JSON: {"reasoning": "<your analysis>", "what_score": <1-5>, "why_score": <1-5>, "confidence": <0.0-1.0>}`)
	return b.String()
}
