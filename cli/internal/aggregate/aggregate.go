// Package aggregate reduces classified file changes to one bounded Summary:
// an overall change-type guess, the dominant scope, line and file counts, and
// a capped list of representative hunks chosen by significance.
//
// Summarize is deterministic. Records are resequenced by diff.FileChange.Index
// before anything else, so callers may classify files in any order.
package aggregate

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"diffmage/cli/internal/classify"
	"diffmage/cli/internal/diff"
	"diffmage/cli/internal/hunkid"
)

// DefaultHunkCap is the representative-hunk cap used when Options.HunkCap is 0.
const DefaultHunkCap = 8

// ScoredHunk is a hunk together with the file it came from and its
// significance score.
type ScoredHunk struct {
	// ID identifies the hunk by path and content (hunkid.Strict).
	ID        string
	File      string
	FileIndex int
	HunkIndex int
	Category  classify.Category
	Score     int
	// Cosmetic is set when the hunk only changes comments or whitespace.
	Cosmetic bool
	// SameAs is the file of an earlier representative hunk that makes the
	// same edit, ignoring comments and whitespace; empty when none does.
	SameAs string
	Hunk   diff.Hunk
}

// CategoryCount totals files and lines for one category.
type CategoryCount struct {
	Category classify.Category
	Files    int
	Added    int
	Removed  int
}

// ScopeCount totals files and changed lines for one non-empty scope.
type ScopeCount struct {
	Scope string
	Files int
	Lines int
}

// FileEntry is the per-file line of a summary.
type FileEntry struct {
	Path     string
	OldPath  string
	Kind     diff.ChangeKind
	Category classify.Category
	Scope    string
	Added    int
	Removed  int
	Binary   bool
}

// Summary is the aggregate over all file changes of one staged diff. It is
// built once by Summarize and not modified afterwards.
type Summary struct {
	ChangeType ChangeType
	// Rule names the change-type policy step that decided ChangeType.
	Rule          string
	DominantScope string
	Branch        string
	Files         int
	Added         int
	Removed       int
	// TotalHunks counts every hunk in the diff; Hunks holds at most the cap.
	TotalHunks int
	// Hunks are the representative hunks in descending score order.
	Hunks []ScoredHunk
	// Categories lists only categories with at least one file, in
	// classify.Categories order.
	Categories []CategoryCount
	// Scopes lists non-empty scopes in order of first occurrence.
	Scopes   []ScopeCount
	FileList []FileEntry
}

// Options configures Summarize.
type Options struct {
	// HunkCap bounds len(Summary.Hunks). 0 means DefaultHunkCap.
	HunkCap int
	// Branch is copied into the summary when known.
	Branch string
}

type record struct {
	change diff.FileChange
	class  classify.Classification
}

// Summarize builds the Summary for changes and their index-aligned
// classifications. It fails only when the two slices differ in length or
// the cap is negative.
func Summarize(changes []diff.FileChange, classes []classify.Classification, opts Options) (*Summary, error) {
	if len(changes) != len(classes) {
		return nil, fmt.Errorf("aggregate: %d changes but %d classifications", len(changes), len(classes))
	}
	if opts.HunkCap < 0 {
		return nil, fmt.Errorf("aggregate: negative hunk cap %d", opts.HunkCap)
	}
	k := opts.HunkCap
	if k == 0 {
		k = DefaultHunkCap
	}

	recs := make([]record, len(changes))
	for i := range changes {
		recs[i] = record{change: changes[i], class: classes[i]}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].change.Index < recs[j].change.Index
	})

	s := &Summary{Branch: opts.Branch, Files: len(recs)}
	var all []ScoredHunk
	catTotals := make(map[classify.Category]*CategoryCount)
	scopeIdx := make(map[string]int)
	for _, r := range recs {
		fc, cl := r.change, r.class
		s.Added += fc.Added
		s.Removed += fc.Removed
		s.TotalHunks += len(fc.Hunks)
		s.FileList = append(s.FileList, FileEntry{
			Path:     fc.Path(),
			OldPath:  fc.OldPath,
			Kind:     fc.Kind,
			Category: cl.Category,
			Scope:    cl.Scope,
			Added:    fc.Added,
			Removed:  fc.Removed,
			Binary:   fc.Binary,
		})

		cc, ok := catTotals[cl.Category]
		if !ok {
			cc = &CategoryCount{Category: cl.Category}
			catTotals[cl.Category] = cc
		}
		cc.Files++
		cc.Added += fc.Added
		cc.Removed += fc.Removed

		if cl.Scope != "" {
			i, ok := scopeIdx[cl.Scope]
			if !ok {
				i = len(s.Scopes)
				scopeIdx[cl.Scope] = i
				s.Scopes = append(s.Scopes, ScopeCount{Scope: cl.Scope})
			}
			s.Scopes[i].Files++
			s.Scopes[i].Lines += fc.Added + fc.Removed
		}

		for hi, h := range fc.Hunks {
			score, cosmetic := Score(fc.Path(), cl.Category, h)
			all = append(all, ScoredHunk{
				ID:        hunkid.Strict(fc.Path(), h.Content()),
				File:      fc.Path(),
				FileIndex: fc.Index,
				HunkIndex: hi,
				Category:  cl.Category,
				Score:     score,
				Cosmetic:  cosmetic,
				Hunk:      h,
			})
		}
	}

	for _, c := range classify.Categories {
		if cc, ok := catTotals[c]; ok {
			s.Categories = append(s.Categories, *cc)
		}
	}
	s.DominantScope = dominantScope(s.Scopes)
	s.Hunks = topHunks(all, k)
	markRepeats(s.Hunks)
	s.ChangeType, s.Rule = decideType(recs)
	return s, nil
}

// topHunks returns the k highest-scoring hunks. all is in file-then-hunk
// order, and the stable sort keeps that order among equal scores.
func topHunks(all []ScoredHunk, k int) []ScoredHunk {
	sorted := make([]ScoredHunk, len(all))
	copy(sorted, all)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	if len(sorted) == 0 {
		return nil
	}
	return sorted
}

// markRepeats sets SameAs on every hunk whose edit already appeared earlier
// in hunks, in the same or another file with the same extension.
func markRepeats(hunks []ScoredHunk) {
	first := make(map[string]string, len(hunks))
	for i := range hunks {
		key := editKey(hunks[i].File, hunks[i].Hunk)
		if file, ok := first[key]; ok {
			hunks[i].SameAs = file
			continue
		}
		first[key] = hunks[i].File
	}
}

// editKey hashes the changed lines of h, without context or line numbers.
// It is keyed by extension, not path, so one edit repeated across files
// matches.
func editKey(path string, h diff.Hunk) string {
	var b strings.Builder
	for _, l := range h.Lines {
		if l.Op == diff.OpContext {
			continue
		}
		b.WriteByte(byte(l.Op))
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return hunkid.Semantic(filepath.Ext(path), b.String())
}

// dominantScope returns the scope with the most changed lines. scopes is in
// first-occurrence order, so a strict comparison keeps the earliest on ties.
func dominantScope(scopes []ScopeCount) string {
	best := -1
	for i, sc := range scopes {
		if best < 0 || sc.Lines > scopes[best].Lines {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return scopes[best].Scope
}

// Category returns the totals for c, or a zero CategoryCount when no file
// has that category.
func (s *Summary) Category(c classify.Category) CategoryCount {
	for _, cc := range s.Categories {
		if cc.Category == c {
			return cc
		}
	}
	return CategoryCount{Category: c}
}
