package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"diffmage/cli/internal/aggregate"
	"diffmage/cli/internal/convention"
	"diffmage/cli/internal/diff"
	"diffmage/cli/internal/minify"
)

const closingInstruction = "Write the commit message now. Output only the message."

// detail section names in drop order.
var detailOrder = []string{"scopes", "categories", "files"}

type document struct {
	s          *aggregate.Summary
	conv       convention.Convention
	showBranch bool
	convention string
	feedback   string
	details    map[string]string
	hunks      []string
	hunkNames  []string
	totalHunks int
	// shownHunks counts the leading entries of hunks still rendered.
	shownHunks int
	nextDetail int
}

func newDocument(s *aggregate.Summary, conv convention.Convention, feedback string) *document {
	d := &document{
		s:          s,
		conv:       conv,
		showBranch: s.Branch != "",
		convention: conventionSection(conv),
		feedback:   strings.TrimSpace(feedback),
		details: map[string]string{
			"files":      filesSection(s),
			"categories": categoriesSection(s),
			"scopes":     scopesSection(s),
		},
		totalHunks: s.TotalHunks,
	}
	for _, h := range s.Hunks {
		d.hunks = append(d.hunks, hunkBlock(h))
		d.hunkNames = append(d.hunkNames, "hunk:"+h.File+"#"+strconv.Itoa(h.HunkIndex))
	}
	d.shownHunks = len(d.hunks)
	return d
}

// dropNext removes the next droppable item and returns its name, or false
// when only required sections remain. The branch line goes last.
func (d *document) dropNext() (string, bool) {
	for d.nextDetail < len(detailOrder) {
		name := detailOrder[d.nextDetail]
		d.nextDetail++
		if d.details[name] != "" {
			d.details[name] = ""
			return "section:" + name, true
		}
	}
	if d.shownHunks > 0 {
		d.shownHunks--
		return d.hunkNames[d.shownHunks], true
	}
	if d.showBranch {
		d.showBranch = false
		return "field:branch", true
	}
	return "", false
}

// required names the sections given up when falling back to bare.
func (d *document) required() []string {
	out := []string{"section:convention"}
	if d.feedback != "" {
		out = append(out, "section:feedback")
	}
	return out
}

func (d *document) render() string {
	parts := []string{summarySection(d.s, d.conv, d.showBranch), d.convention}
	for i := len(detailOrder) - 1; i >= 0; i-- {
		if sec := d.details[detailOrder[i]]; sec != "" {
			parts = append(parts, sec)
		}
	}
	if d.shownHunks > 0 {
		parts = append(parts, d.changesSection())
	}
	if d.feedback != "" {
		parts = append(parts, "## Feedback\n"+d.feedback)
	}
	parts = append(parts, closingInstruction)
	return strings.Join(parts, "\n\n")
}

// bare is the smallest prompt: change type, scope and counts, then the
// closing instruction.
func (d *document) bare() string {
	return summarySection(d.s, d.conv, false) + "\n\n" + closingInstruction
}

func (d *document) changesSection() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Changes (%d of %d hunks, most significant first)", d.shownHunks, d.totalHunks)
	for _, h := range d.hunks[:d.shownHunks] {
		b.WriteString("\n")
		b.WriteString(h)
	}
	return b.String()
}

func summarySection(s *aggregate.Summary, conv convention.Convention, branch bool) string {
	var b strings.Builder
	b.WriteString("## Summary\n")
	if conv.Allows(string(s.ChangeType)) {
		fmt.Fprintf(&b, "Suggested type: %s\n", s.ChangeType)
	} else {
		fmt.Fprintf(&b, "Suggested type: %s (not allowed here; use the closest allowed type)\n", s.ChangeType)
	}
	if s.DominantScope != "" {
		fmt.Fprintf(&b, "Dominant scope: %s\n", s.DominantScope)
	} else {
		b.WriteString("Dominant scope: none\n")
	}
	if branch && s.Branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", s.Branch)
	}
	fmt.Fprintf(&b, "Files changed: %d\n", s.Files)
	fmt.Fprintf(&b, "Lines: +%d -%d", s.Added, s.Removed)
	return b.String()
}

func conventionSection(conv convention.Convention) string {
	var b strings.Builder
	b.WriteString("## Convention\n")
	fmt.Fprintf(&b, "Allowed types: %s\n", strings.Join(conv.AllowedTypes, ", "))
	fmt.Fprintf(&b, "Header: type(scope): subject, at most %d characters\n", conv.MaxHeaderLength)
	if conv.ScopeRequired {
		b.WriteString("Scope: required\n")
	} else {
		b.WriteString("Scope: optional\n")
	}
	if conv.BodyEnabled {
		fmt.Fprintf(&b, "Body: after a blank line, explain what and why, wrapped at %d columns", conv.BodyWrapWidth)
	} else {
		b.WriteString("Body: none, header line only")
	}
	return b.String()
}

func filesSection(s *aggregate.Summary) string {
	if len(s.FileList) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Files")
	for _, f := range s.FileList {
		path := f.Path
		if (f.Kind == diff.KindRenamed || f.Kind == diff.KindCopied) && f.OldPath != "" && f.OldPath != f.Path {
			path = f.OldPath + " -> " + f.Path
		}
		fmt.Fprintf(&b, "\n- %s %s %s", f.Kind, f.Category, path)
		if f.Binary {
			b.WriteString(" (binary)")
		} else {
			fmt.Fprintf(&b, " (+%d/-%d)", f.Added, f.Removed)
		}
	}
	return b.String()
}

func categoriesSection(s *aggregate.Summary) string {
	if len(s.Categories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Categories")
	for _, c := range s.Categories {
		fmt.Fprintf(&b, "\n- %s: %d %s (+%d/-%d)", c.Category, c.Files, plural(c.Files, "file", "files"), c.Added, c.Removed)
	}
	return b.String()
}

func scopesSection(s *aggregate.Summary) string {
	if len(s.Scopes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Scopes")
	for _, sc := range s.Scopes {
		fmt.Fprintf(&b, "\n- %s: %d %s, %d lines", sc.Scope, sc.Files, plural(sc.Files, "file", "files"), sc.Lines)
	}
	return b.String()
}

func hunkBlock(h aggregate.ScoredHunk) string {
	if h.SameAs != "" {
		return fmt.Sprintf("### %s (score %d)\n%s\n(same change as in %s)", h.File, h.Score, h.Hunk.Header, h.SameAs)
	}
	return fmt.Sprintf("### %s (score %d)\n%s", h.File, h.Score, minify.Hunk(h.File, h.Hunk))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
