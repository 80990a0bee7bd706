package commitmsg

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"diffmage/cli/internal/convention"
)

// Repair names recorded in CommitMessage.Repairs.
const (
	RepairLineEndings = "normalize-line-endings"
	RepairCodeFence   = "strip-code-fence"
	RepairLabel       = "drop-label"
	RepairQuotes      = "strip-quotes"
	RepairColonSpace  = "space-after-colon"
	RepairBrackets    = "scope-brackets"
	RepairTypeCase    = "type-case"
	RepairTypeSynonym = "type-synonym"
	RepairPunctuation = "trim-subject-punctuation"
	RepairBlankLine   = "insert-blank-line"
	RepairDropBody    = "drop-body"
)

var (
	headerRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*)(?:\(([^()]*)\)|\[([^\[\]]*)\])?(!)?:(\s*)(.*)$`)
	scopeRe  = regexp.MustCompile(`^[\w./-]+(?:, ?[\w./-]+)*$`)
	labelRe  = regexp.MustCompile(`(?i)^(?:here(?:\s+is|'s)\s+(?:the|a|your)\s+)?(?:suggested\s+|proposed\s+)?commit\s+message\s*:?\s*(.*)$`)
	fenceRe  = regexp.MustCompile("^```[\\w-]*\\s*$")
)

const headerGrammar = "type(scope): subject"

type line struct {
	n    int
	text string
}

// Validate parses reply under conv and returns the repaired message, or an
// *InvalidMessageError (category length, type or format).
func Validate(reply string, conv convention.Convention) (*CommitMessage, error) {
	m := &CommitMessage{}
	if strings.Contains(reply, "\r") {
		reply = strings.ReplaceAll(strings.ReplaceAll(reply, "\r\n", "\n"), "\r", "\n")
		m.Repairs = append(m.Repairs, RepairLineEndings)
	}
	var lines []line
	for i, t := range strings.Split(reply, "\n") {
		lines = append(lines, line{n: i + 1, text: strings.TrimRight(t, " \t")})
	}
	lines = trimBlank(lines)
	if len(lines) == 0 {
		return nil, &InvalidMessageError{Category: CategoryFormat, Line: 1, Expected: headerGrammar + " (reply is empty)"}
	}

	if fenceRe.MatchString(strings.TrimSpace(lines[0].text)) {
		lines = lines[1:]
		if k := len(lines) - 1; k >= 0 && strings.TrimSpace(lines[k].text) == "```" {
			lines = lines[:k]
		}
		lines = trimBlank(lines)
		m.Repairs = append(m.Repairs, RepairCodeFence)
	}
	if len(lines) > 0 {
		if sm := labelRe.FindStringSubmatch(strings.TrimSpace(lines[0].text)); sm != nil {
			if sm[1] == "" {
				lines = trimBlank(lines[1:])
			} else {
				lines[0].text = sm[1]
			}
			m.Repairs = append(m.Repairs, RepairLabel)
		}
	}
	if len(lines) == 0 {
		return nil, &InvalidMessageError{Category: CategoryFormat, Line: 1, Expected: headerGrammar + " (reply has no message)"}
	}
	if unquoted, ok := stripQuotes(lines); ok {
		lines = unquoted
		m.Repairs = append(m.Repairs, RepairQuotes)
	}

	head := lines[0]
	if err := parseHeader(m, head, conv); err != nil {
		return nil, err
	}
	if err := parseBody(m, lines[1:], conv); err != nil {
		return nil, err
	}
	if err := checkLength(m, head, conv); err != nil {
		return nil, err
	}
	return m, nil
}

func trimBlank(lines []line) []line {
	for len(lines) > 0 && strings.TrimSpace(lines[0].text) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1].text) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// stripQuotes removes a quote pair wrapping the whole message (or just the
// header when the message is one line).
func stripQuotes(lines []line) ([]line, bool) {
	first := strings.TrimSpace(lines[0].text)
	last := strings.TrimSpace(lines[len(lines)-1].text)
	if first == "" {
		return lines, false
	}
	q := first[0]
	if q != '"' && q != '\'' && q != '`' {
		return lines, false
	}
	if len(lines) == 1 && len(first) < 2 {
		return lines, false
	}
	if last[len(last)-1] != q {
		return lines, false
	}
	out := make([]line, len(lines))
	copy(out, lines)
	if len(out) == 1 {
		out[0].text = first[1 : len(first)-1]
	} else {
		out[0].text = first[1:]
		out[len(out)-1].text = last[:len(last)-1]
	}
	return out, true
}

func parseHeader(m *CommitMessage, head line, conv convention.Convention) error {
	text := strings.TrimSpace(head.text)
	sm := headerRe.FindStringSubmatch(text)
	if sm == nil {
		return &InvalidMessageError{Category: CategoryFormat, Fragment: text, Line: head.n, Expected: headerGrammar}
	}
	typ, paren, bracket, bang, space, subject := sm[1], sm[2], sm[3], sm[4], sm[5], sm[6]
	if space == "" && subject != "" {
		m.Repairs = append(m.Repairs, RepairColonSpace)
	}

	scope := paren
	if bracket != "" {
		scope = bracket
		m.Repairs = append(m.Repairs, RepairBrackets)
	}
	scope = strings.TrimSpace(scope)
	if scope != "" && !scopeRe.MatchString(scope) {
		return &InvalidMessageError{Category: CategoryFormat, Fragment: scope, Line: head.n, Expected: "a scope of letters, digits, '.', '/', '_' or '-'"}
	}
	if scope == "" && conv.ScopeRequired {
		return &InvalidMessageError{Category: CategoryFormat, Fragment: text, Line: head.n, Expected: "type(scope): subject with a scope"}
	}

	canon, repair, err := resolveType(typ, conv)
	if err != nil {
		err.Line = head.n
		return err
	}
	if repair != "" {
		m.Repairs = append(m.Repairs, repair)
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return &InvalidMessageError{Category: CategoryFormat, Fragment: text, Line: head.n, Expected: "a non-empty subject after \": \""}
	}
	m.Type = canon
	m.Scope = scope
	m.BangInHeader = bang == "!"
	m.Breaking = m.BangInHeader
	m.Subject = subject
	return nil
}

// checkLength enforces MaxHeaderLength, trying the punctuation repair once.
func checkLength(m *CommitMessage, head line, conv convention.Convention) error {
	limit := conv.MaxHeaderLength
	if utf8.RuneCountInString(m.Header()) <= limit {
		return nil
	}
	if trimmed := strings.TrimRight(m.Subject, " \t.!,;:"); trimmed != m.Subject && trimmed != "" {
		m.Subject = trimmed
		m.Repairs = append(m.Repairs, RepairPunctuation)
	}
	if n := utf8.RuneCountInString(m.Header()); n > limit {
		return &InvalidMessageError{
			Category: CategoryLength,
			Fragment: m.Header(),
			Line:     head.n,
			Expected: fmt.Sprintf("a header of at most %d characters (got %d)", limit, n),
		}
	}
	return nil
}
