// Package commitmsg validates a model's reply against the Conventional
// Commits grammar and applies a fixed, bounded set of local repairs.
//
// Grammar:
//
//	message = *blank header [ blank body ] [ blank footers ]
//	header  = type [ "(" scope ")" | "[" scope "]" ] [ "!" ] ":" SP subject
//	footer  = token ": " value | "BREAKING CHANGE: " value | token " #" value
//
// Every repair in the table runs at most once, so Validate always ends with
// a message or an *InvalidMessageError. Repairs never remove words from the
// subject; an overlong header that punctuation trimming cannot fix is
// rejected.
package commitmsg

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCommitMessage is matched (errors.Is) by *InvalidMessageError.
var ErrInvalidCommitMessage = errors.New("invalid commit message")

// Category classifies a validation failure.
type Category string

const (
	CategoryLength Category = "length"
	CategoryType   Category = "type"
	CategoryFormat Category = "format"
)

// InvalidMessageError carries enough context to show the user or to feed
// back to the model on retry.
type InvalidMessageError struct {
	Category Category
	// Fragment is the offending text from the reply.
	Fragment string
	// Expected describes what the grammar wanted at that point.
	Expected string
	// Line is the 1-based line of the reply where Fragment starts.
	Line int
	// Suggestion is a close allowed value, if one was found.
	Suggestion string
}

func (e *InvalidMessageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid commit message (%s) at line %d: %q: expected %s", e.Category, e.Line, e.Fragment, e.Expected)
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "; did you mean %q?", e.Suggestion)
	}
	return b.String()
}

func (e *InvalidMessageError) Is(target error) bool {
	return target == ErrInvalidCommitMessage
}

// Footer is one trailer line such as "Refs: #12" or "BREAKING CHANGE: ...".
type Footer struct {
	Token string
	// Sep is ": " or " #".
	Sep   string
	Value string
}

func (f Footer) String() string {
	return f.Token + f.Sep + f.Value
}

// Breaking reports whether the footer announces a breaking change.
func (f Footer) Breaking() bool {
	return f.Token == "BREAKING CHANGE" || f.Token == "BREAKING-CHANGE"
}

// CommitMessage is a validated commit message.
type CommitMessage struct {
	Type     string
	Scope    string
	Breaking bool
	// BangInHeader is set when the header carries "!".
	BangInHeader bool
	Subject      string
	// Body holds paragraphs already wrapped to the convention's width.
	Body    []string
	Footers []Footer
	// Repairs names the repairs applied, in order.
	Repairs []string
}

// Header renders "type(scope)!: subject".
func (m *CommitMessage) Header() string {
	var b strings.Builder
	b.WriteString(m.Type)
	if m.Scope != "" {
		b.WriteString("(" + m.Scope + ")")
	}
	if m.BangInHeader {
		b.WriteByte('!')
	}
	b.WriteString(": ")
	b.WriteString(m.Subject)
	return b.String()
}

// String renders the full message: header, then body paragraphs and the
// footer block, each separated by a blank line.
func (m *CommitMessage) String() string {
	parts := []string{m.Header()}
	parts = append(parts, m.Body...)
	if len(m.Footers) > 0 {
		lines := make([]string, len(m.Footers))
		for i, f := range m.Footers {
			lines[i] = f.String()
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}
