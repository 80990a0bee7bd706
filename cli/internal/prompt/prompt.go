// Package prompt renders an aggregate.Summary and a commit convention into
// the text sent to the model.
//
// Rendering is deterministic: the same summary, convention and options always
// produce byte-identical text. The user prompt is kept within the
// convention's character budget by dropping content in a fixed order: the
// Scopes, Categories and Files detail sections, then representative hunks
// from least to most significant. Hunks are dropped whole. When even the
// required sections do not fit, only the summary section is sent; when that
// does not fit either, Build returns a *BudgetExceededError.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"diffmage/cli/internal/aggregate"
	"diffmage/cli/internal/convention"
	"diffmage/cli/internal/hunkid"
	"diffmage/cli/internal/tokens"
)

const systemPromptFilename = "system_prompt.txt"

// DefaultSystemPrompt is used when no override file exists.
const DefaultSystemPrompt = `You write git commit messages in the Conventional Commits format from a summary of staged changes.
Output only the commit message, with no code fences, quotes, labels or explanation.
Format:
- First line: type(scope): subject. Use imperative mood ("add", not "added"), no trailing period.
- Then, if a body is requested, a blank line followed by short paragraphs or "- " bullets explaining what changed and why.
- Breaking changes: add "!" after the type or scope and a "BREAKING CHANGE: ..." footer.
Follow the convention section of the request exactly.`

// SystemPrompt returns stateDir/system_prompt.txt (trimmed) when it exists,
// otherwise DefaultSystemPrompt. A missing file is not an error; any other
// read error is returned.
func SystemPrompt(stateDir string) (string, error) {
	if stateDir == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(filepath.Join(stateDir, systemPromptFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSystemPrompt, nil
		}
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ErrBudgetExceeded is matched (errors.Is) by *BudgetExceededError.
var ErrBudgetExceeded = errors.New("prompt budget exceeded")

// BudgetExceededError reports that not even the bare summary fits.
type BudgetExceededError struct {
	// Required is the size in characters of the smallest prompt Build can send.
	Required int
	Budget   int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("prompt budget exceeded: minimal prompt needs %d characters, budget is %d", e.Required, e.Budget)
}

func (e *BudgetExceededError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// Prompt is the rendered request for the model.
type Prompt struct {
	System string
	Text   string
	// Budget is the character budget Text was fitted to.
	Budget int
	// Chars is the length of Text in characters (runes).
	Chars int
	// Tokens estimates System plus Text.
	Tokens    int
	Truncated bool
	// Dropped names what was removed to fit, in drop order, e.g.
	// "section:scopes" or "hunk:internal/diff/parse.go#2".
	Dropped []string
	// Fingerprint is a stable hash of System and Text.
	Fingerprint string
}

// Options adjusts Build.
type Options struct {
	// System replaces DefaultSystemPrompt when non-empty.
	System string
	// Feedback, when non-empty, is added as a required section before the
	// closing instruction. See Feedback.
	Feedback string
}

// Build renders s under conv. conv.PromptCharBudget bounds len(Text) in runes.
func Build(s *aggregate.Summary, conv convention.Convention, opts *Options) (*Prompt, error) {
	if s == nil {
		return nil, errors.New("prompt: nil summary")
	}
	if opts == nil {
		opts = &Options{}
	}
	system := opts.System
	if system == "" {
		system = DefaultSystemPrompt
	}
	budget := conv.PromptCharBudget

	d := newDocument(s, conv, opts.Feedback)
	var dropped []string
	text := d.render()
	for !fits(text, budget) {
		name, ok := d.dropNext()
		if !ok {
			break
		}
		dropped = append(dropped, name)
		text = d.render()
	}
	if !fits(text, budget) {
		dropped = append(dropped, d.required()...)
		text = d.bare()
		if !fits(text, budget) {
			return nil, &BudgetExceededError{Required: utf8.RuneCountInString(text), Budget: budget}
		}
	}
	return &Prompt{
		System:      system,
		Text:        text,
		Budget:      budget,
		Chars:       utf8.RuneCountInString(text),
		Tokens:      tokens.Estimate(system) + tokens.Estimate(text),
		Truncated:   len(dropped) > 0,
		Dropped:     dropped,
		Fingerprint: hunkid.Fingerprint(system, text),
	}, nil
}

func fits(text string, budget int) bool {
	return utf8.RuneCountInString(text) <= budget
}

const maxFeedbackReply = 600

// Feedback formats a corrective note for a retry after reply was rejected
// with err. Long replies are shortened on a rune boundary.
func Feedback(reply string, err error) string {
	var b strings.Builder
	b.WriteString("Your previous reply was rejected: ")
	if err != nil {
		b.WriteString(err.Error())
	} else {
		b.WriteString("unknown error")
	}
	reply = strings.TrimSpace(reply)
	if reply != "" {
		if utf8.RuneCountInString(reply) > maxFeedbackReply {
			reply = string([]rune(reply)[:maxFeedbackReply]) + " [...]"
		}
		b.WriteString("\nPrevious reply:\n")
		b.WriteString(reply)
	}
	b.WriteString("\nCorrect the problem and answer again.")
	return b.String()
}
