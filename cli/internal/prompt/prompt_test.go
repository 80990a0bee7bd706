package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"diffmage/cli/internal/aggregate"
	"diffmage/cli/internal/classify"
	"diffmage/cli/internal/convention"
	"diffmage/cli/internal/diff"
)

// sampleDiff builds a diff with files*hunks hunks; hunk j of every file adds
// j+1 lines, so later hunks are more significant.
func sampleDiff(files, hunks int) string {
	var b strings.Builder
	for f := 0; f < files; f++ {
		path := fmt.Sprintf("internal/mod%d/file.go", f)
		fmt.Fprintf(&b, "diff --git a/%s b/%s\nindex 111..222 100644\n--- a/%s\n+++ b/%s\n", path, path, path, path)
		for h := 0; h < hunks; h++ {
			n := h + 1
			fmt.Fprintf(&b, "@@ -%d,1 +%d,%d @@ func f%d()\n", h*100+1, h*100+1, n+1, h)
			b.WriteString(" \tctx := 0\n")
			for i := 0; i < n; i++ {
				fmt.Fprintf(&b, "+\tvalue%d  =  %d\n", i, i)
			}
		}
	}
	return b.String()
}

func summaryFor(t *testing.T, text string, cap int) *aggregate.Summary {
	t.Helper()
	changes, err := diff.Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s, err := aggregate.Summarize(changes, classify.All(changes, nil), aggregate.Options{HunkCap: cap, Branch: "main"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	return s
}

func withBudget(budget int) convention.Convention {
	c := convention.Default()
	c.PromptCharBudget = budget
	return c
}

func TestBuild_deterministic(t *testing.T) {
	t.Parallel()
	text := sampleDiff(3, 4)
	a, err := Build(summaryFor(t, text, 5), convention.Default(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 5; i++ {
		b, err := Build(summaryFor(t, text, 5), convention.Default(), nil)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if a.Text != b.Text || a.Fingerprint != b.Fingerprint {
			t.Fatalf("run %d: prompt differs", i)
		}
	}
	if a.System != DefaultSystemPrompt {
		t.Errorf("System = %q, want default", a.System)
	}
	if a.Truncated || len(a.Dropped) != 0 {
		t.Errorf("unexpected truncation: %v", a.Dropped)
	}
	if a.Chars != utf8.RuneCountInString(a.Text) || a.Tokens == 0 {
		t.Errorf("metadata Chars=%d Tokens=%d", a.Chars, a.Tokens)
	}
}

func TestBuild_sectionOrder(t *testing.T) {
	t.Parallel()
	p, err := Build(summaryFor(t, sampleDiff(2, 2), 5), convention.Default(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	order := []string{"## Summary", "## Convention", "## Files", "## Categories", "## Scopes", "## Changes (4 of 4 hunks", closingInstruction}
	last := -1
	for _, marker := range order {
		i := strings.Index(p.Text, marker)
		if i < 0 {
			t.Fatalf("missing %q in:\n%s", marker, p.Text)
		}
		if i <= last {
			t.Errorf("%q out of order", marker)
		}
		last = i
	}
	for _, want := range []string{
		"Suggested type: refactor",
		"Dominant scope: mod0",
		"Branch: main",
		"Files changed: 2",
		"Lines: +6 -0",
		"Allowed types: feat, fix, docs",
		"at most 72 characters",
		"- modified source internal/mod0/file.go (+3/-0)",
		"- source: 2 files (+6/-0)",
		"- mod1: 1 file, 3 lines",
		"### internal/mod0/file.go (score 8)\n@@ -101,1 +101,3 @@ func f1()\n ctx := 0\n+value0 = 0",
	} {
		if !strings.Contains(p.Text, want) {
			t.Errorf("prompt missing %q:\n%s", want, p.Text)
		}
	}
}

func TestBuild_disallowedTypeHint(t *testing.T) {
	t.Parallel()
	c := convention.Default()
	c.AllowedTypes = []string{"feat", "fix", "chore"}
	p, err := Build(summaryFor(t, sampleDiff(1, 1), 5), c, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.Text, "Suggested type: refactor (not allowed here") {
		t.Errorf("expected disallowed hint:\n%s", p.Text)
	}
}

func TestBuild_budgetRespected(t *testing.T) {
	t.Parallel()
	s := summaryFor(t, sampleDiff(3, 10), 8)
	full, err := Build(s, withBudget(1<<20), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for budget := 1; budget <= full.Chars+10; budget += 7 {
		p, err := Build(s, withBudget(budget), nil)
		if err != nil {
			if !errors.Is(err, ErrBudgetExceeded) {
				t.Fatalf("budget %d: unexpected error %v", budget, err)
			}
			continue
		}
		if p.Chars > budget {
			t.Fatalf("budget %d: prompt has %d chars", budget, p.Chars)
		}
		if !strings.HasPrefix(p.Text, "## Summary\nSuggested type:") {
			t.Fatalf("budget %d: summary dropped", budget)
		}
		if p.Truncated != (p.Text != full.Text) {
			t.Fatalf("budget %d: Truncated=%v inconsistent", budget, p.Truncated)
		}
	}
}

func TestBuild_dropOrder(t *testing.T) {
	t.Parallel()
	s := summaryFor(t, sampleDiff(2, 3), 6)
	full, err := Build(s, withBudget(1<<20), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// Minimal prompt: no details, no hunks.
	minimal := strings.Join([]string{summarySection(s, convention.Default(), true), conventionSection(convention.Default()), closingInstruction}, "\n\n")
	p, err := Build(s, withBudget(utf8.RuneCountInString(minimal)), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Text != minimal {
		t.Fatalf("got:\n%s\nwant:\n%s", p.Text, minimal)
	}
	want := []string{"section:scopes", "section:categories", "section:files"}
	// Hunks are listed most significant first and dropped from the end.
	for i := len(s.Hunks) - 1; i >= 0; i-- {
		want = append(want, fmt.Sprintf("hunk:%s#%d", s.Hunks[i].File, s.Hunks[i].HunkIndex))
	}
	if strings.Join(p.Dropped, ",") != strings.Join(want, ",") {
		t.Errorf("Dropped = %v\nwant %v", p.Dropped, want)
	}

	// One character short of the full prompt drops only the scopes section.
	p, err = Build(s, withBudget(full.Chars-1), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(p.Dropped) != 1 || p.Dropped[0] != "section:scopes" {
		t.Errorf("Dropped = %v, want [section:scopes]", p.Dropped)
	}
	if !strings.Contains(p.Text, "## Changes (6 of 6 hunks") {
		t.Errorf("hunks should survive:\n%s", p.Text)
	}
}

func TestBuild_keepsMostSignificantHunks(t *testing.T) {
	t.Parallel()
	s := summaryFor(t, sampleDiff(1, 5), 5)
	// Size of the prompt after three detail sections and one hunk are gone.
	d := newDocument(s, convention.Default(), "")
	for i := 0; i < 4; i++ {
		if _, ok := d.dropNext(); !ok {
			t.Fatal("nothing left to drop")
		}
	}
	want := d.render()
	p, err := Build(s, withBudget(utf8.RuneCountInString(want)), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Text != want {
		t.Fatalf("got:\n%s\nwant:\n%s", p.Text, want)
	}
	if !strings.Contains(p.Text, "## Changes (4 of 5 hunks") {
		t.Fatalf("expected 4 of 5 hunks:\n%s", p.Text)
	}
	if strings.Contains(p.Text, "(score 4)") {
		t.Errorf("least significant hunk should be dropped first:\n%s", p.Text)
	}
	if !strings.Contains(p.Text, "(score 20)") {
		t.Errorf("most significant hunk should be kept:\n%s", p.Text)
	}
}

func TestBuild_bareSummary(t *testing.T) {
	t.Parallel()
	s := summaryFor(t, sampleDiff(1, 1), 5)
	bare := summarySection(s, convention.Default(), false) + "\n\n" + closingInstruction
	p, err := Build(s, withBudget(utf8.RuneCountInString(bare)), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Text != bare {
		t.Errorf("Text = %q, want bare summary %q", p.Text, bare)
	}
	if strings.Contains(p.Text, "Branch:") {
		t.Errorf("bare prompt should not name the branch:\n%s", p.Text)
	}
	n := len(p.Dropped)
	if !p.Truncated || n < 2 || p.Dropped[n-2] != "field:branch" || p.Dropped[n-1] != "section:convention" {
		t.Errorf("Dropped = %v", p.Dropped)
	}
}

func TestBuild_dropsBranchBeforeConvention(t *testing.T) {
	t.Parallel()
	s := summaryFor(t, sampleDiff(1, 1), 5)
	conv := convention.Default()
	want := strings.Join([]string{summarySection(s, conv, false), conventionSection(conv), closingInstruction}, "\n\n")
	p, err := Build(s, withBudget(utf8.RuneCountInString(want)), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Text != want {
		t.Fatalf("got:\n%s\nwant:\n%s", p.Text, want)
	}
	if p.Dropped[len(p.Dropped)-1] != "field:branch" {
		t.Errorf("Dropped = %v, want field:branch last", p.Dropped)
	}
}

func TestBuild_longBranchFitsBare(t *testing.T) {
	t.Parallel()
	changes, err := diff.Parse(sampleDiff(1, 1))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	branch := "feature/" + strings.Repeat("very-long-branch-name-", 12)
	s, err := aggregate.Summarize(changes, classify.All(changes, nil), aggregate.Options{HunkCap: 5, Branch: branch})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	p, err := Build(s, withBudget(200), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(p.Text, branch) {
		t.Errorf("branch should be dropped:\n%s", p.Text)
	}
	for _, want := range []string{"Suggested type:", "Dominant scope:", "Files changed: 1", "Lines: +", closingInstruction} {
		if !strings.Contains(p.Text, want) {
			t.Errorf("bare prompt missing %q:\n%s", want, p.Text)
		}
	}
	if p.Chars > 200 {
		t.Errorf("Chars = %d, over budget", p.Chars)
	}
}

func TestBuild_budgetExceeded(t *testing.T) {
	t.Parallel()
	s := summaryFor(t, sampleDiff(1, 1), 5)
	bare := utf8.RuneCountInString(summarySection(s, convention.Default(), false) + "\n\n" + closingInstruction)
	_, err := Build(s, withBudget(bare-1), nil)
	var be *BudgetExceededError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BudgetExceededError", err)
	}
	if be.Required != bare || be.Budget != bare-1 {
		t.Errorf("got Required=%d Budget=%d, want %d/%d", be.Required, be.Budget, bare, bare-1)
	}
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Error("errors.Is(err, ErrBudgetExceeded) = false")
	}
}

func TestBuild_repeatedEditRenderedOnce(t *testing.T) {
	t.Parallel()
	p, err := Build(summaryFor(t, sampleDiff(2, 1), 5), convention.Default(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "### internal/mod1/file.go (score 4)\n@@ -1,1 +1,2 @@ func f0()\n(same change as in internal/mod0/file.go)"
	if !strings.Contains(p.Text, want) {
		t.Errorf("prompt missing %q:\n%s", want, p.Text)
	}
	if n := strings.Count(p.Text, "+value0 = 0"); n != 1 {
		t.Errorf("repeated edit body rendered %d times, want 1", n)
	}
}

func TestBuild_nilSummary(t *testing.T) {
	t.Parallel()
	if _, err := Build(nil, convention.Default(), nil); err == nil {
		t.Error("expected error for nil summary")
	}
}

func TestBuild_feedbackAndSystemOverride(t *testing.T) {
	t.Parallel()
	s := summaryFor(t, sampleDiff(1, 2), 5)
	fb := Feedback("Bugfix stuff", errors.New("unknown type \"stuff\""))
	p, err := Build(s, convention.Default(), &Options{System: "custom", Feedback: fb})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.System != "custom" {
		t.Errorf("System = %q", p.System)
	}
	fi := strings.Index(p.Text, "## Feedback\nYour previous reply was rejected: unknown type")
	if fi < 0 || fi > strings.Index(p.Text, closingInstruction) || fi < strings.Index(p.Text, "## Changes") {
		t.Errorf("feedback section misplaced:\n%s", p.Text)
	}
	plain, _ := Build(s, convention.Default(), nil)
	if plain.Fingerprint == p.Fingerprint {
		t.Error("feedback should change the fingerprint")
	}
}

func TestFeedback(t *testing.T) {
	t.Parallel()
	got := Feedback("  fix: x  ", errors.New("too long"))
	want := "Your previous reply was rejected: too long\nPrevious reply:\nfix: x\nCorrect the problem and answer again."
	if got != want {
		t.Errorf("Feedback = %q, want %q", got, want)
	}
	long := Feedback(strings.Repeat("é", 2*maxFeedbackReply), nil)
	if !strings.Contains(long, "unknown error") || !strings.Contains(long, " [...]") {
		t.Errorf("Feedback long reply = %q", long)
	}
	if !utf8.ValidString(long) {
		t.Error("Feedback cut inside a rune")
	}
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()
	got, err := SystemPrompt("")
	if err != nil || got != DefaultSystemPrompt {
		t.Fatalf("SystemPrompt(\"\") = %q, %v", got, err)
	}

	dir := t.TempDir()
	got, err = SystemPrompt(dir)
	if err != nil || got != DefaultSystemPrompt {
		t.Fatalf("absent file: %q, %v", got, err)
	}

	if err := os.WriteFile(filepath.Join(dir, systemPromptFilename), []byte("  be brief\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = SystemPrompt(dir)
	if err != nil || got != "be brief" {
		t.Fatalf("override: %q, %v", got, err)
	}

	bad := t.TempDir()
	if err := os.Mkdir(filepath.Join(bad, systemPromptFilename), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := SystemPrompt(bad); err == nil {
		t.Error("expected read error when the prompt path is a directory")
	}
}

func TestDefaultSystemPrompt_describesFormat(t *testing.T) {
	t.Parallel()
	for _, want := range []string{"Conventional Commits", "type(scope): subject", "BREAKING CHANGE", "imperative"} {
		if !strings.Contains(DefaultSystemPrompt, want) {
			t.Errorf("DefaultSystemPrompt missing %q", want)
		}
	}
}
