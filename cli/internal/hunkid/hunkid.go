// Package hunkid provides deterministic hashes for diff hunks and prompts,
// and detects cosmetic hunks whose removed and added code differ only in
// comments or whitespace.
package hunkid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"

	"diffmage/cli/internal/diff"
)

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	slashCommentRe = regexp.MustCompile(`//[^\n]*`)
	hashCommentRe  = regexp.MustCompile(`#[^\n]*`)
	dashCommentRe  = regexp.MustCompile(`--[^\n]*`)
)

type stripper func(string) string

func stripSlash(s string) string {
	return slashCommentRe.ReplaceAllString(blockCommentRe.ReplaceAllString(s, " "), " ")
}

func stripHash(s string) string {
	return hashCommentRe.ReplaceAllString(s, " ")
}

func stripDash(s string) string {
	return dashCommentRe.ReplaceAllString(s, " ")
}

// strippers maps a lowercase extension to its comment stripper. Extensions
// not listed only get whitespace collapsed.
var strippers = map[string]stripper{
	".go": stripSlash, ".js": stripSlash, ".mjs": stripSlash, ".cjs": stripSlash,
	".ts": stripSlash, ".tsx": stripSlash, ".jsx": stripSlash, ".java": stripSlash,
	".kt": stripSlash, ".c": stripSlash, ".h": stripSlash, ".cc": stripSlash,
	".cpp": stripSlash, ".hpp": stripSlash, ".cs": stripSlash, ".rs": stripSlash,
	".swift": stripSlash, ".scala": stripSlash, ".dart": stripSlash, ".proto": stripSlash,
	".py": stripHash, ".pyw": stripHash, ".rb": stripHash, ".sh": stripHash,
	".bash": stripHash, ".zsh": stripHash, ".yml": stripHash, ".yaml": stripHash,
	".toml": stripHash, ".pl": stripHash, ".r": stripHash,
	".sql": stripDash, ".lua": stripDash, ".hs": stripDash,
}

// Strict returns a deterministic ID for a hunk from its path and content.
// CRLF is normalized to LF so line-ending differences do not change the ID.
func Strict(path, content string) string {
	return hash(path + ":" + normalizeCRLF(content))
}

// Semantic returns an ID that ignores comment and whitespace differences,
// using the comment syntax implied by the file extension.
func Semantic(path, content string) string {
	return hash(path + ":" + CodeOnly(path, normalizeCRLF(content)))
}

// CodeOnly strips comments (by extension) and collapses whitespace runs to a
// single space.
func CodeOnly(path, content string) string {
	if strip, ok := strippers[strings.ToLower(filepath.Ext(path))]; ok {
		content = strip(content)
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(content, " "))
}

// Cosmetic reports whether h changes only comments or whitespace in the file
// at path: the removed side and the added side are identical code once
// comments are stripped and whitespace is collapsed. A hunk with no changes
// is not cosmetic.
func Cosmetic(path string, h diff.Hunk) bool {
	if h.Changed() == 0 {
		return false
	}
	var removed, added []string
	for _, l := range h.Lines {
		switch l.Op {
		case diff.OpRemove:
			removed = append(removed, l.Text)
		case diff.OpAdd:
			added = append(added, l.Text)
		}
	}
	return CodeOnly(path, strings.Join(removed, "\n")) == CodeOnly(path, strings.Join(added, "\n"))
}

// Fingerprint hashes parts in order with a separator that cannot appear in
// text, so ("ab", "c") and ("a", "bc") differ.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeCRLF(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
