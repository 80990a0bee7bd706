package diff

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedDiff is matched by errors.Is for every *MalformedDiffError.
var ErrMalformedDiff = errors.New("malformed diff")

// MalformedDiffError reports input that violates unified-diff grammar.
// Line is 1-based.
type MalformedDiffError struct {
	Line   int
	Text   string
	Reason string
}

func (e *MalformedDiffError) Error() string {
	return fmt.Sprintf("malformed diff at line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// Is reports whether target is ErrMalformedDiff.
func (e *MalformedDiffError) Is(target error) bool {
	return target == ErrMalformedDiff
}

const (
	diffGitPrefix = "diff --git "
	binaryMarker  = "Binary files "
	binaryPatch   = "GIT binary patch"
	devNull       = "/dev/null"
)

// hunkHeaderRegex matches @@ -oldStart[,oldCount] +newStart[,newCount] @@ [section]
var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@ ?(.*)$`)

// Parse parses unified-diff text and returns one FileChange per file, in
// input order. Text before the first file header is ignored. Empty input
// returns nil. A hunk header that does not match the @@ grammar, or a hunk
// body that disagrees with its header's line counts, returns a
// *MalformedDiffError; Parse never repairs input.
func Parse(text string) ([]FileChange, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	p := &parser{}
	for i, line := range strings.Split(text, "\n") {
		if err := p.feed(i+1, line); err != nil {
			return nil, err
		}
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return p.files, nil
}

type parser struct {
	files []FileChange
	cur   *FileChange
	hunk  *Hunk
	// hunkLine is the input line of the current hunk header.
	hunkLine      int
	remOld        int
	remNew        int
	inBinaryPatch bool
	sawPathLines  bool
}

func (p *parser) feed(n int, line string) error {
	if p.inHunkBody() {
		return p.bodyLine(n, line)
	}
	if strings.HasPrefix(line, diffGitPrefix) {
		p.startFile()
		p.cur.OldPath, p.cur.NewPath = parseDiffGitLine(line)
		return nil
	}
	if p.inBinaryPatch {
		return nil
	}
	if strings.HasPrefix(line, "--- ") && (p.cur == nil || p.hunk != nil || p.sawPathLines) {
		// Plain unified diff without a diff --git header.
		p.startFile()
	}
	if p.cur == nil {
		return nil
	}
	switch {
	case strings.HasPrefix(line, "@@"):
		return p.startHunk(n, line)
	case strings.HasPrefix(line, `\`):
		// "\ No newline at end of file"
		return nil
	case p.hunk != nil && line != "" && (line[0] == ' ' || line[0] == '+' || line[0] == '-'):
		return &MalformedDiffError{Line: n, Text: line, Reason: fmt.Sprintf("line outside hunk %q", p.hunk.Header)}
	}
	p.headerLine(line)
	return nil
}

func (p *parser) inHunkBody() bool {
	return p.hunk != nil && (p.remOld > 0 || p.remNew > 0)
}

func (p *parser) bodyLine(n int, line string) error {
	op := OpContext
	text := ""
	if line != "" {
		op = LineOp(line[0])
		text = line[1:]
	}
	switch op {
	case OpContext:
		if p.remOld == 0 || p.remNew == 0 {
			return p.countMismatch(n, line)
		}
		p.remOld--
		p.remNew--
	case OpRemove:
		if p.remOld == 0 {
			return p.countMismatch(n, line)
		}
		p.remOld--
		p.hunk.Removed++
	case OpAdd:
		if p.remNew == 0 {
			return p.countMismatch(n, line)
		}
		p.remNew--
		p.hunk.Added++
	case '\\':
		return nil
	default:
		return p.countMismatch(n, line)
	}
	p.hunk.Lines = append(p.hunk.Lines, Line{Op: op, Text: text})
	return nil
}

func (p *parser) countMismatch(n int, line string) error {
	return &MalformedDiffError{
		Line: n,
		Text: line,
		Reason: fmt.Sprintf("hunk %q (line %d) expects %d more old and %d more new lines",
			p.hunk.Header, p.hunkLine, p.remOld, p.remNew),
	}
}

func (p *parser) startHunk(n int, line string) error {
	m := hunkHeaderRegex.FindStringSubmatch(line)
	if m == nil {
		return &MalformedDiffError{Line: n, Text: line, Reason: "invalid hunk header, want @@ -a,b +c,d @@"}
	}
	if p.cur.Binary {
		return &MalformedDiffError{Line: n, Text: line, Reason: "hunk in binary file"}
	}
	p.closeHunk()
	h := Hunk{Header: line, Section: strings.TrimSpace(m[5])}
	h.OldStart, _ = strconv.Atoi(m[1])
	h.OldLines = atoiDefault(m[2], 1)
	h.NewStart, _ = strconv.Atoi(m[3])
	h.NewLines = atoiDefault(m[4], 1)
	p.hunk = &h
	p.hunkLine = n
	p.remOld, p.remNew = h.OldLines, h.NewLines
	return nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// headerLine handles extended header lines between the file header and the
// first hunk. Unknown lines (index, mode changes) are ignored.
func (p *parser) headerLine(line string) {
	fc := p.cur
	switch {
	case strings.HasPrefix(line, "--- "):
		p.sawPathLines = true
		path := parsePathLine(line, "--- ")
		if path == devNull {
			fc.OldPath = ""
			fc.Kind = KindAdded
		} else if fc.OldPath == "" && fc.Kind != KindAdded {
			fc.OldPath = path
		}
	case strings.HasPrefix(line, "+++ "):
		p.sawPathLines = true
		path := parsePathLine(line, "+++ ")
		if path == devNull {
			fc.NewPath = ""
			fc.Kind = KindDeleted
		} else if fc.NewPath == "" && fc.Kind != KindDeleted {
			fc.NewPath = path
		}
	case strings.HasPrefix(line, "new file mode"):
		fc.Kind = KindAdded
		fc.OldPath = ""
	case strings.HasPrefix(line, "deleted file mode"):
		fc.Kind = KindDeleted
		fc.NewPath = ""
	case strings.HasPrefix(line, "similarity index "):
		pct := strings.TrimSuffix(strings.TrimPrefix(line, "similarity index "), "%")
		fc.Similarity, _ = strconv.Atoi(strings.TrimSpace(pct))
	case strings.HasPrefix(line, "rename from "):
		fc.Kind = KindRenamed
		fc.OldPath = unquotePath(strings.TrimPrefix(line, "rename from "))
	case strings.HasPrefix(line, "rename to "):
		fc.Kind = KindRenamed
		fc.NewPath = unquotePath(strings.TrimPrefix(line, "rename to "))
	case strings.HasPrefix(line, "copy from "):
		fc.Kind = KindCopied
		fc.OldPath = unquotePath(strings.TrimPrefix(line, "copy from "))
	case strings.HasPrefix(line, "copy to "):
		fc.Kind = KindCopied
		fc.NewPath = unquotePath(strings.TrimPrefix(line, "copy to "))
	case strings.HasPrefix(line, binaryMarker):
		fc.Binary = true
		p.binaryPaths(line)
	case strings.HasPrefix(line, binaryPatch):
		fc.Binary = true
		p.inBinaryPatch = true
	}
}

// binaryPaths reads "Binary files a/x and b/x differ" for add/delete detection.
func (p *parser) binaryPaths(line string) {
	rest := strings.TrimSuffix(strings.TrimPrefix(line, binaryMarker), " differ")
	a, b, ok := strings.Cut(rest, " and ")
	if !ok {
		return
	}
	if a == devNull {
		p.cur.Kind = KindAdded
		p.cur.OldPath = ""
	}
	if b == devNull {
		p.cur.Kind = KindDeleted
		p.cur.NewPath = ""
	}
}

func (p *parser) startFile() {
	p.flushFile()
	p.cur = &FileChange{Index: len(p.files), Kind: KindModified}
	p.inBinaryPatch = false
	p.sawPathLines = false
}

func (p *parser) closeHunk() {
	if p.hunk == nil {
		return
	}
	p.cur.Hunks = append(p.cur.Hunks, *p.hunk)
	p.cur.Added += p.hunk.Added
	p.cur.Removed += p.hunk.Removed
	p.hunk = nil
}

func (p *parser) flushFile() {
	if p.cur == nil {
		return
	}
	p.closeHunk()
	if p.cur.Binary {
		p.cur.Hunks = nil
		p.cur.Added, p.cur.Removed = 0, 0
	}
	p.files = append(p.files, *p.cur)
	p.cur = nil
}

func (p *parser) finish() error {
	if p.inHunkBody() {
		return &MalformedDiffError{
			Line:   p.hunkLine,
			Text:   p.hunk.Header,
			Reason: fmt.Sprintf("hunk truncated, %d old and %d new lines missing", p.remOld, p.remNew),
		}
	}
	p.flushFile()
	return nil
}

// parseDiffGitLine splits "diff --git a/path b/path". Git quotes a path
// that contains special characters, C style ("a/x\ty"); quoted paths are
// unescaped. Unquoted paths containing spaces are split at the last " b/".
func parseDiffGitLine(line string) (a, b string) {
	rest := strings.TrimPrefix(line, diffGitPrefix)
	if strings.HasPrefix(rest, `"`) {
		first, tail, ok := cutQuoted(rest)
		if !ok {
			return "", ""
		}
		return trimDiffPath(first), trimDiffPath(unquotePath(strings.TrimSpace(tail)))
	}
	if strings.HasSuffix(rest, `"`) {
		if i := strings.LastIndex(rest, ` "`); i >= 0 {
			return trimDiffPath(rest[:i]), trimDiffPath(unquotePath(rest[i+1:]))
		}
	}
	if i := strings.LastIndex(rest, " b/"); i >= 0 {
		return trimDiffPath(rest[:i]), trimDiffPath(rest[i+1:])
	}
	parts := strings.Fields(rest)
	if len(parts) >= 2 {
		return trimDiffPath(parts[0]), trimDiffPath(parts[1])
	}
	return "", ""
}

// cutQuoted unescapes the quoted string at the start of s and returns it
// with the remainder of s.
func cutQuoted(s string) (unquoted, rest string, ok bool) {
	if !strings.HasPrefix(s, `"`) {
		return "", s, false
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			u, err := strconv.Unquote(s[:i+1])
			if err != nil {
				return "", s, false
			}
			return u, s[i+1:], true
		}
	}
	return "", s, false
}

// unquotePath unescapes a quoted path and returns any other path unchanged.
func unquotePath(s string) string {
	if u, _, ok := cutQuoted(s); ok {
		return u
	}
	return s
}

func trimDiffPath(s string) string {
	if len(s) >= 2 && (s[0] == 'a' || s[0] == 'b') && s[1] == '/' {
		return s[2:]
	}
	return s
}

func parsePathLine(line, prefix string) string {
	s := strings.TrimPrefix(line, prefix)
	if u, _, ok := cutQuoted(s); ok {
		return trimDiffPath(u)
	}
	// "--- a/path\t2024-01-01 ..." from diff -u carries a timestamp.
	if idx := strings.Index(s, "\t"); idx >= 0 {
		s = s[:idx]
	}
	return trimDiffPath(s)
}
