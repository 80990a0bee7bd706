// Package diff turns unified-diff text (the output of git diff --cached) into
// an ordered list of per-file change records.
//
// # Order
// Records are returned in the order their file headers appear in the input.
// Each record carries its position in Index so later stages can resequence.
//
// # Binary files
// Binary files produce a record with Binary set and no hunks. Both the
// "Binary files ... differ" notice and "GIT binary patch" bodies are
// recognized; patch bodies are skipped.
//
// # Renames and copies
// Renames and copies are recognized only from explicit git headers
// (similarity index, rename from/to, copy from/to). A deleted file and an
// added file with identical content stay a delete plus an add.
//
// # Generated files
// Exclude drops records for generated or vendored files. Default patterns
// include: *.pb.go, *_generated.go, *.min.js, package-lock.json, go.sum, and
// paths under vendor/.
package diff

import (
	"path/filepath"
	"strconv"
	"strings"
)

// ChangeKind is the kind of change a file record describes.
type ChangeKind string

const (
	KindAdded    ChangeKind = "added"
	KindModified ChangeKind = "modified"
	KindDeleted  ChangeKind = "deleted"
	KindRenamed  ChangeKind = "renamed"
	KindCopied   ChangeKind = "copied"
)

// LineOp is the first character of a hunk body line.
type LineOp byte

const (
	OpContext LineOp = ' '
	OpAdd     LineOp = '+'
	OpRemove  LineOp = '-'
)

// Line is one line of a hunk body without its op prefix.
type Line struct {
	Op   LineOp
	Text string
}

// Hunk is one @@ block. Hunks are not modified after Parse returns them.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	// Section is the text after the closing @@, usually the enclosing
	// function or type as reported by git.
	Section string
	// Header is the @@ line as it appeared in the input.
	Header  string
	Lines   []Line
	Added   int
	Removed int
}

// Changed returns the number of added plus removed lines.
func (h Hunk) Changed() int {
	return h.Added + h.Removed
}

// Content renders the hunk back to unified-diff text (header and body).
func (h Hunk) Content() string {
	var b strings.Builder
	b.WriteString(h.Header)
	for _, l := range h.Lines {
		b.WriteByte('\n')
		b.WriteByte(byte(l.Op))
		b.WriteString(l.Text)
	}
	return b.String()
}

// ChangedLines returns the text of added and removed lines, in order.
func (h Hunk) ChangedLines() []string {
	out := make([]string, 0, h.Changed())
	for _, l := range h.Lines {
		if l.Op != OpContext {
			out = append(out, l.Text)
		}
	}
	return out
}

// FileChange is the change record for one file. OldPath is empty for added
// files and NewPath is empty for deleted files. Added and Removed always equal
// the sums over Hunks; a binary file has no hunks.
type FileChange struct {
	Index   int
	OldPath string
	NewPath string
	Kind    ChangeKind
	Hunks   []Hunk
	Added   int
	Removed int
	Binary  bool
	// Similarity is the percentage from a "similarity index" header, 0 when absent.
	Similarity int
}

// Path returns the path used to identify the file: NewPath, or OldPath for
// deleted files.
func (f FileChange) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// String renders a one-line description such as "renamed a.go -> b.go (+1/-0)".
func (f FileChange) String() string {
	path := f.Path()
	if (f.Kind == KindRenamed || f.Kind == KindCopied) && f.OldPath != "" && f.OldPath != f.NewPath {
		path = f.OldPath + " -> " + f.NewPath
	}
	if f.Binary {
		return string(f.Kind) + " " + path + " (binary)"
	}
	return string(f.Kind) + " " + path + " (+" + strconv.Itoa(f.Added) + "/-" + strconv.Itoa(f.Removed) + ")"
}

// DefaultExcludePatterns are used by Exclude when patterns is nil.
var DefaultExcludePatterns = []string{
	"*.pb.go",
	"*_generated.go",
	"*.min.js",
	"package-lock.json",
	"go.sum",
	"vendor/*",
	"vendor/**/*",
}

// Exclude returns the records whose path does not match any of the
// filepath.Match patterns. A nil patterns slice means DefaultExcludePatterns.
// Index values are left untouched so callers can still refer to the original
// position in the diff.
func Exclude(changes []FileChange, patterns []string) []FileChange {
	if patterns == nil {
		patterns = DefaultExcludePatterns
	}
	if len(patterns) == 0 {
		return changes
	}
	out := make([]FileChange, 0, len(changes))
	for _, fc := range changes {
		if !excluded(filepath.ToSlash(fc.Path()), patterns) {
			out = append(out, fc)
		}
	}
	return out
}

func excluded(path string, patterns []string) bool {
	for _, p := range patterns {
		// filepath.Match does not support **; vendor patterns are a prefix match.
		if strings.HasPrefix(p, "vendor") {
			if path == "vendor" || strings.HasPrefix(path, "vendor/") {
				return true
			}
			continue
		}
		if ok, err := filepath.Match(p, path); err == nil && ok {
			return true
		}
		if ok, _ := filepath.Match(p, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}
