// Package minify renders diff hunks for prompts with less whitespace. For
// languages where indentation carries no meaning (Go, Rust, the C family,
// JavaScript and friends), each line's leading whitespace is dropped and
// runs of spaces or tabs are collapsed to one space. Other files, notably
// Python, YAML and Makefiles, are rendered verbatim.
package minify

import (
	"path/filepath"
	"strings"

	"diffmage/cli/internal/diff"
)

var braceLanguages = map[string]bool{
	".go": true, ".rs": true, ".c": true, ".h": true, ".cc": true, ".cpp": true,
	".hpp": true, ".cs": true, ".java": true, ".kt": true, ".kts": true, ".scala": true,
	".swift": true, ".js": true, ".mjs": true, ".cjs": true, ".jsx": true, ".ts": true,
	".tsx": true, ".php": true, ".dart": true, ".proto": true, ".zig": true,
	".css": true, ".scss": true, ".less": true, ".json": true,
}

// Supported reports whether hunks of the file at path are minified.
func Supported(path string) bool {
	return braceLanguages[strings.ToLower(filepath.Ext(path))]
}

// Hunk renders h as unified-diff text: the @@ header followed by one line per
// edit with its op prefix. When the file's language is Supported the line
// text is compacted; the op prefix is always kept.
func Hunk(path string, h diff.Hunk) string {
	if !Supported(path) {
		return h.Content()
	}
	var b strings.Builder
	b.WriteString(h.Header)
	for _, l := range h.Lines {
		b.WriteByte('\n')
		b.WriteByte(byte(l.Op))
		b.WriteString(Line(l.Text))
	}
	return b.String()
}

// Line trims leading whitespace and collapses runs of spaces and tabs.
// String and comment bodies are compacted too; the result is for reading,
// not for applying.
func Line(s string) string {
	return collapseSpaces(strings.TrimLeft(s, " \t"))
}

// collapseSpaces replaces runs of spaces (and tabs) with a single space.
// Does not modify newlines or other characters.
func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
			continue
		}
		wasSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
