package commitmsg

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"diffmage/cli/internal/convention"
)

var (
	footerRe = regexp.MustCompile(`^(BREAKING[ -]CHANGE|[A-Za-z][A-Za-z0-9-]*)(: | #)(\S.*)$`)
	bulletRe = regexp.MustCompile(`^(\s*(?:[-*+]|\d+[.)])\s+)(.*)$`)
)

// parseBody splits the lines after the header into body paragraphs and a
// trailing footer block.
func parseBody(m *CommitMessage, lines []line, conv convention.Convention) error {
	if len(lines) == 0 {
		return nil
	}
	if strings.TrimSpace(lines[0].text) != "" {
		m.Repairs = append(m.Repairs, RepairBlankLine)
	}
	paras := paragraphs(lines)
	if n := len(paras); n > 0 {
		if footers, ok := parseFooters(paras[n-1]); ok {
			m.Footers = footers
			paras = paras[:n-1]
			for _, f := range footers {
				if f.Breaking() {
					m.Breaking = true
				}
			}
		}
	}
	if len(paras) == 0 {
		return nil
	}
	if !conv.BodyEnabled {
		m.Repairs = append(m.Repairs, RepairDropBody)
		return nil
	}
	for _, p := range paras {
		m.Body = append(m.Body, reflow(p, conv.BodyWrapWidth))
	}
	return nil
}

func paragraphs(lines []line) [][]string {
	var out [][]string
	var cur []string
	for _, l := range lines {
		if strings.TrimSpace(l.text) == "" {
			if cur != nil {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, l.text)
	}
	if cur != nil {
		out = append(out, cur)
	}
	return out
}

// parseFooters succeeds when every line of para is a footer.
func parseFooters(para []string) ([]Footer, bool) {
	out := make([]Footer, 0, len(para))
	for _, l := range para {
		sm := footerRe.FindStringSubmatch(strings.TrimSpace(l))
		if sm == nil {
			return nil, false
		}
		out = append(out, Footer{Token: sm[1], Sep: sm[2], Value: sm[3]})
	}
	return out, true
}

// reflow rewraps a paragraph to width. Bullet items keep their marker
// verbatim and continuation lines are indented to the item text. Indented
// paragraphs (code) are kept as they are. Words are never split, so a word
// longer than width gets its own line.
func reflow(para []string, width int) string {
	if isCode(para) {
		return strings.Join(para, "\n")
	}
	var out []string
	var marker string
	var words []string
	flush := func() {
		if marker == "" && len(words) == 0 {
			return
		}
		out = append(out, wrap(marker, words, width)...)
		marker, words = "", nil
	}
	for _, l := range para {
		if sm := bulletRe.FindStringSubmatch(l); sm != nil {
			flush()
			marker = sm[1]
			words = strings.Fields(sm[2])
			continue
		}
		words = append(words, strings.Fields(l)...)
	}
	flush()
	return strings.Join(out, "\n")
}

func isCode(para []string) bool {
	for _, l := range para {
		if !strings.HasPrefix(l, "    ") && !strings.HasPrefix(l, "\t") {
			return false
		}
	}
	return true
}

func wrap(marker string, words []string, width int) []string {
	indent := strings.Repeat(" ", utf8.RuneCountInString(marker))
	var lines []string
	cur := marker
	curLen := utf8.RuneCountInString(marker)
	empty := true
	for _, w := range words {
		wl := utf8.RuneCountInString(w)
		if !empty && curLen+1+wl > width {
			lines = append(lines, cur)
			cur, curLen, empty = indent, len(indent), true
		}
		if !empty {
			cur += " "
			curLen++
		}
		cur += w
		curLen += wl
		empty = false
	}
	return append(lines, strings.TrimRight(cur, " "))
}
