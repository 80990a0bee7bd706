package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffmage/cli/internal/commitmsg"
	"diffmage/cli/internal/evaluate"
	"diffmage/cli/internal/generate"
	"diffmage/cli/internal/history"
	"diffmage/cli/internal/ollama"
)

const cacheDiff = `diff --git a/internal/cache/lru.go b/internal/cache/lru.go
new file mode 100644
index 0000000..1111111
--- /dev/null
+++ b/internal/cache/lru.go
@@ -0,0 +1,3 @@
+package cache
+
+func New(size int) *Cache { return &Cache{size: size} }
`

// fakeOllama serves /api/tags and /api/generate. Generate replies are taken
// from replies in order; the last one repeats.
type fakeOllama struct {
	mu      sync.Mutex
	replies []string
	status  int
	models  []string
	prompts []string
	formats []string
}

func (f *fakeOllama) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			var body struct {
				Models []map[string]string `json:"models"`
			}
			body.Models = []map[string]string{}
			for _, m := range f.models {
				body.Models = append(body.Models, map[string]string{"name": m})
			}
			_ = json.NewEncoder(w).Encode(body)
		case "/api/generate":
			var req struct {
				Prompt string `json:"prompt"`
				Format string `json:"format"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.mu.Lock()
			f.prompts = append(f.prompts, req.Prompt)
			f.formats = append(f.formats, req.Format)
			reply := f.replies[min(len(f.prompts), len(f.replies))-1]
			f.mu.Unlock()
			if f.status != 0 {
				w.WriteHeader(f.status)
				_, _ = w.Write([]byte(`{"error":"model \"m\" not found, try pulling it first"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model": "m", "response": reply, "done": true,
				"prompt_eval_count": 100, "eval_count": 10, "eval_duration": 500000000, "total_duration": 1000000000,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeOllama) requestFormats() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.formats...)
}

func (f *fakeOllama) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// testApp runs commands in dir with no DIFFMAGE_* environment and no global
// config file.
type testApp struct {
	app
	out, errOut *bytes.Buffer
	globalCfg   string
}

func newTestApp(t *testing.T, dir string) *testApp {
	t.Helper()
	ta := &testApp{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}, globalCfg: filepath.Join(t.TempDir(), "config.toml")}
	ta.app = app{stdin: strings.NewReader(""), stdout: ta.out, stderr: ta.errOut, env: []string{}, dir: dir}
	return ta
}

func (ta *testApp) run(args ...string) int {
	ta.out.Reset()
	ta.errOut.Reset()
	return ta.app.run(append([]string{"--config=" + ta.globalCfg}, args...))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// stagedRepo returns a repository on branch main with internal/cache/lru.go staged.
func stagedRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-q", "-b", "main")
	runGit(t, dir, "config", "user.email", "test@diffmage.local")
	runGit(t, dir, "config", "user.name", "Test")
	writeFile(t, dir, "README.md", "cache\n")
	runGit(t, dir, "add", "README.md")
	runGit(t, dir, "commit", "-q", "-m", "docs: add readme")
	writeFile(t, dir, "internal/cache/lru.go", "package cache\n\nfunc New(size int) *Cache { return &Cache{size: size} }\n")
	runGit(t, dir, "add", "internal/cache/lru.go")
	return dir
}

func TestRunCLI_help(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, t.TempDir())
	require.Equal(t, exitOK, ta.run("--help"))
	for _, c := range []string{"generate", "analyze", "prompt", "evaluate", "report", "doctor"} {
		assert.Contains(t, ta.out.String(), c)
	}
}

func TestAnalyze_outputs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	diffPath := writeFile(t, dir, "change.diff", cacheDiff)
	tests := []struct {
		output string
		want   []string
	}{
		{"summary", []string{"Type:", "feat", "Scope:", "cache", "Files:", "1 (+3 -0, 1 hunks)"}},
		{"table", []string{"FILE", "internal/cache/lru.go", "added", "source", "cache"}},
		{"json", []string{`"change_type": "feat"`, `"scope": "cache"`, `"path": "internal/cache/lru.go"`}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.output, func(t *testing.T) {
			t.Parallel()
			ta := newTestApp(t, dir)
			require.Equal(t, exitOK, ta.run("analyze", "--diff", diffPath, "--output", tt.output), ta.errOut.String())
			for _, w := range tt.want {
				assert.Contains(t, ta.out.String(), w)
			}
		})
	}
}

func TestAnalyze_jsonDecodes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ta := newTestApp(t, dir)
	ta.stdin = strings.NewReader(cacheDiff)
	require.Equal(t, exitOK, ta.run("analyze", "--diff", "-", "--output", "json"), ta.errOut.String())
	var v analysisView
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &v))
	assert.Equal(t, 1, v.Files)
	assert.Equal(t, 3, v.Added)
	require.Len(t, v.FileList, 1)
	assert.Equal(t, "added", v.FileList[0].Kind)
	require.Len(t, v.Representative, 1)
	assert.Equal(t, "@@ -0,0 +1,3 @@", v.Representative[0].Header)
	assert.Len(t, v.Representative[0].ID, 64)
}

func TestAnalyze_errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tests := []struct {
		name     string
		args     []string
		wantCode int
		want     []string
	}{
		{"bad output", []string{"analyze", "--output", "xml"}, exitError, []string{"Invalid output format"}},
		{"outside repo", []string{"analyze"}, exitError, []string{"not inside a Git repository", "Hint: Run inside a repository or pass --diff."}},
		{"missing diff file", []string{"analyze", "--diff", filepath.Join(dir, "nope.diff")}, exitError, []string{"Could not read diff", "Details:"}},
		{"malformed", []string{"analyze", "--diff", writeFile(t, dir, "bad.diff", "diff --git a/x b/x\n@@ nonsense @@\n")}, exitError, []string{"could not be parsed"}},
		{"bad convention", []string{"analyze", "--diff", writeFile(t, dir, "ok.diff", cacheDiff), "--max-header-length", "5"}, exitError, []string{"Invalid commit convention", "Hint:"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ta := newTestApp(t, dir)
			assert.Equal(t, tt.wantCode, ta.run(tt.args...))
			for _, w := range tt.want {
				assert.Contains(t, ta.errOut.String(), w)
			}
		})
	}
}

func TestPrompt_json(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	diffPath := writeFile(t, dir, "change.diff", cacheDiff)
	ta := newTestApp(t, dir)
	require.Equal(t, exitOK, ta.run("prompt", "--diff", diffPath, "--json"), ta.errOut.String())
	var v promptView
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &v))
	assert.Contains(t, v.Prompt, "internal/cache/lru.go")
	assert.NotEmpty(t, v.System)
	assert.LessOrEqual(t, v.Chars, v.Budget)
	assert.Len(t, v.Fingerprint, 64)
	assert.False(t, v.Truncated)
}

func TestPrompt_text(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	diffPath := writeFile(t, dir, "change.diff", cacheDiff)
	ta := newTestApp(t, dir)
	require.Equal(t, exitOK, ta.run("prompt", "--diff", diffPath), ta.errOut.String())
	assert.Contains(t, ta.out.String(), "internal/cache/lru.go")
	assert.Contains(t, ta.errOut.String(), "prompt: ")
	assert.Contains(t, ta.errOut.String(), "fingerprint")
}

func TestGenerate_commitAndHistory(t *testing.T) {
	t.Parallel()
	repo := stagedRepo(t)
	fake := &fakeOllama{replies: []string{"```\nfeat(cache): add LRU cache\n```"}}
	srv := fake.server(t)
	ta := newTestApp(t, filepath.Join(repo, "internal"))

	code := ta.run("generate", "--commit", "--ollama-base-url", srv.URL, "--model", "m")
	require.Equal(t, exitOK, code, ta.errOut.String())
	assert.Equal(t, "feat(cache): add LRU cache\n", ta.out.String())
	assert.Contains(t, ta.errOut.String(), "Committed ")
	assert.Equal(t, "feat(cache): add LRU cache", runGit(t, repo, "log", "-1", "--format=%B"))

	require.Len(t, fake.calls(), 1)
	assert.Contains(t, fake.calls()[0], "main")

	recs, err := history.ReadRecords(filepath.Join(repo, ".diffmage"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, history.KindGeneration, rec.Kind)
	assert.Equal(t, "m", rec.Model)
	assert.Equal(t, "main", rec.Branch)
	assert.Equal(t, runGit(t, repo, "rev-parse", "HEAD"), rec.Committed)
	assert.Equal(t, []string{commitmsg.RepairCodeFence}, rec.Repairs)
	require.NotNil(t, rec.Analysis)
	assert.Equal(t, "feat", rec.Analysis.ChangeType)
	require.NotNil(t, rec.Usage)
	assert.Equal(t, 10, rec.Usage.CompletionTokens)
}

func TestGenerate_retryWithFeedback(t *testing.T) {
	t.Parallel()
	repo := stagedRepo(t)
	fake := &fakeOllama{replies: []string{"Added an LRU cache", "feat(cache): add LRU cache"}}
	srv := fake.server(t)
	ta := newTestApp(t, repo)

	code := ta.run("generate", "--ollama-base-url", srv.URL, "--retries", "1", "--no-history", "--output", "json")
	require.Equal(t, exitOK, code, ta.errOut.String())
	var out generateOutput
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &out))
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, "feat(cache): add LRU cache", out.Header)
	assert.Equal(t, "cache", out.Scope)

	calls := fake.calls()
	require.Len(t, calls, 2)
	assert.NotContains(t, calls[0], "Your previous reply was rejected")
	assert.Contains(t, calls[1], "Your previous reply was rejected")
	assert.Contains(t, calls[1], "Added an LRU cache")

	_, err := os.Stat(filepath.Join(repo, ".diffmage", "history.jsonl"))
	assert.True(t, os.IsNotExist(err), "--no-history should skip the history file")
}

func TestGenerate_failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		fake     *fakeOllama
		args     []string
		wantCode int
		want     []string
	}{
		{
			"rejected",
			&fakeOllama{replies: []string{"Added an LRU cache"}},
			[]string{"--retries", "0"},
			exitRejected,
			[]string{"not a valid commit message", "Hint: Retry with --retries"},
		},
		{
			"model not found",
			&fakeOllama{replies: []string{""}, status: http.StatusNotFound},
			[]string{"--model", "m"},
			exitModel,
			[]string{`Model "m" not found.`, "Hint: Pull it with: ollama pull m"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := stagedRepo(t)
			srv := tt.fake.server(t)
			ta := newTestApp(t, repo)
			args := append([]string{"generate", "--ollama-base-url", srv.URL}, tt.args...)
			assert.Equal(t, tt.wantCode, ta.run(args...))
			for _, w := range tt.want {
				assert.Contains(t, ta.errOut.String(), w)
			}
			assert.Empty(t, ta.out.String())
			assert.Equal(t, "docs: add readme", runGit(t, repo, "log", "-1", "--format=%B"))
		})
	}
}

func TestGenerate_unreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	ta := newTestApp(t, stagedRepo(t))
	assert.Equal(t, exitModel, ta.run("generate", "--ollama-base-url", url))
	assert.Contains(t, ta.errOut.String(), "Ollama unreachable at "+url)
	assert.Contains(t, ta.errOut.String(), "Hint: Is the server running?")
}

func TestGenerate_nothingStaged(t *testing.T) {
	t.Parallel()
	repo := stagedRepo(t)
	runGit(t, repo, "reset", "-q")
	ta := newTestApp(t, repo)
	assert.Equal(t, exitError, ta.run("generate", "--ollama-base-url", "http://127.0.0.1:1"))
	assert.Contains(t, ta.errOut.String(), "No staged changes to describe.")
	assert.Contains(t, ta.errOut.String(), "Hint: Stage files with git add")
}

func TestGenerate_commitConflicts(t *testing.T) {
	t.Parallel()
	repo := stagedRepo(t)
	diffPath := writeFile(t, t.TempDir(), "x.diff", cacheDiff)
	ta := newTestApp(t, repo)
	assert.Equal(t, exitError, ta.run("generate", "--commit", "--diff", diffPath))
	assert.Contains(t, ta.errOut.String(), "cannot be combined with --diff")
}

func TestEvaluateAndReport(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	diffPath := writeFile(t, dir, "change.diff", cacheDiff)
	fake := &fakeOllama{replies: []string{
		"Here you go:\n```json\n" + `{"what_score": 4, "why_score": 3, "reasoning": "Says what changed, little on why.", "confidence": 0.8}` + "\n```",
	}}
	srv := fake.server(t)
	ta := newTestApp(t, dir)
	common := []string{"--diff", diffPath, "--ollama-base-url", srv.URL, "--model", "judge", "--state-dir", stateDir}

	args := append([]string{"evaluate", "--message", "feat(cache): add LRU cache", "--output", "json"}, common...)
	require.Equal(t, exitOK, ta.run(args...), ta.errOut.String())
	var got evaluationJSON
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &got))
	assert.Equal(t, 4.0, got.What)
	assert.Equal(t, 3.5, got.Overall)
	assert.Equal(t, evaluate.QualityGood, got.Quality)
	assert.False(t, got.HighQuality)
	assert.Equal(t, "judge", got.Model)
	assert.Equal(t, []string{"json"}, fake.requestFormats())

	args = append([]string{"evaluate", "--message", "feat(cache): add LRU cache", "--runs", "2"}, common...)
	require.Equal(t, exitOK, ta.run(args...), ta.errOut.String())
	assert.Contains(t, ta.out.String(), "Runs:")
	assert.Contains(t, ta.out.String(), "stable")

	require.Equal(t, exitOK, ta.run("report", "--state-dir", stateDir, "--output", "json"), ta.errOut.String())
	var rep evaluate.Report
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &rep))
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 3.5, rep.Overall.Mean)
	require.Len(t, rep.Models, 1)
	assert.Equal(t, evaluate.Count{Name: "judge", Count: 3}, rep.Models[0])

	require.Equal(t, exitOK, ta.run("report", "--state-dir", stateDir, "--last", "1"), ta.errOut.String())
	assert.Contains(t, ta.out.String(), "Evaluations:")
	assert.Contains(t, ta.out.String(), "MODEL")
}

func TestEvaluate_lastGeneration(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	rec := history.NewRecord(history.KindGeneration)
	rec.Message = "fix(cache): bound size"
	require.NoError(t, history.Append(stateDir, rec, 0))
	fake := &fakeOllama{replies: []string{`{"what": 5, "why": 5, "reasoning": "Precise and motivated message.", "confidence": 1}`}}
	srv := fake.server(t)
	ta := newTestApp(t, dir)

	args := []string{"evaluate", "--diff", writeFile(t, dir, "c.diff", cacheDiff), "--ollama-base-url", srv.URL, "--state-dir", stateDir}
	require.Equal(t, exitOK, ta.run(args...), ta.errOut.String())
	require.Len(t, fake.calls(), 1)
	assert.Contains(t, fake.calls()[0], "fix(cache): bound size")
	assert.Contains(t, ta.out.String(), "Excellent")
}

func TestEvaluate_noMessage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ta := newTestApp(t, dir)
	assert.Equal(t, exitError, ta.run("evaluate", "--diff", writeFile(t, dir, "c.diff", cacheDiff), "--state-dir", filepath.Join(dir, "s")))
	assert.Contains(t, ta.errOut.String(), "No commit message to evaluate.")
}

func TestEvaluate_rev(t *testing.T) {
	t.Parallel()
	repo := stagedRepo(t)
	runGit(t, repo, "commit", "-q", "-m", "feat(cache): add LRU cache")
	fake := &fakeOllama{replies: []string{`{"what_score": 4, "why_score": 2, "reasoning": "What is clear, why is missing.", "confidence": 0.7}`}}
	srv := fake.server(t)
	ta := newTestApp(t, repo)
	require.Equal(t, exitOK, ta.run("evaluate", "--rev", "HEAD", "--ollama-base-url", srv.URL), ta.errOut.String())
	calls := fake.calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "feat(cache): add LRU cache")
	assert.Contains(t, calls[0], "+package cache")
}

func TestReport_noEvaluations(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ta := newTestApp(t, dir)
	assert.Equal(t, exitError, ta.run("report", "--state-dir", dir))
	assert.Contains(t, ta.errOut.String(), "No evaluations recorded yet.")
	assert.Contains(t, ta.errOut.String(), "Hint: Run diffmage evaluate first.")
}

func TestDoctor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		models   []string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{"model present", []string{"other", "m"}, exitOK, "Model: m", ""},
		{"model missing", []string{"other"}, exitModel, "Ollama: OK", "ollama pull m"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := (&fakeOllama{models: tt.models}).server(t)
			ta := newTestApp(t, stagedRepo(t))
			assert.Equal(t, tt.wantCode, ta.run("doctor", "--ollama-base-url", srv.URL, "--model", "m"))
			assert.Contains(t, ta.out.String(), "Git: ")
			assert.Contains(t, ta.out.String(), "(main)")
			assert.Contains(t, ta.out.String(), "Working tree: uncommitted changes")
			assert.NotContains(t, ta.out.String(), "Commits: none yet")
			assert.Contains(t, ta.out.String(), tt.wantOut)
			assert.Contains(t, ta.errOut.String(), tt.wantErr)
		})
	}
}

func TestDoctor_freshRepository(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	runGit(t, dir, "init", "-q", "-b", "trunk")
	srv := (&fakeOllama{models: []string{"m"}}).server(t)
	ta := newTestApp(t, dir)
	require.Equal(t, exitOK, ta.run("doctor", "--ollama-base-url", srv.URL, "--model", "m"), ta.errOut.String())
	assert.Contains(t, ta.out.String(), "(trunk)")
	assert.Contains(t, ta.out.String(), "Commits: none yet")
	assert.Contains(t, ta.out.String(), "Working tree: clean")
}

func TestTraceLogsStages(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ta := newTestApp(t, dir)
	require.Equal(t, exitOK, ta.run("analyze", "--diff", writeFile(t, dir, "c.diff", cacheDiff), "--trace"))
	assert.NotEmpty(t, ta.out.String())

	fake := &fakeOllama{replies: []string{"feat(cache): add LRU cache"}}
	srv := fake.server(t)
	require.Equal(t, exitOK, ta.run("generate", "--diff", filepath.Join(dir, "c.diff"), "--ollama-base-url", srv.URL,
		"--trace", "--log-json", "--no-history"), ta.errOut.String())
	logs := ta.errOut.String()
	assert.Contains(t, logs, `"msg":"analyzed"`)
	assert.Contains(t, logs, `"msg":"message accepted"`)
	assert.Contains(t, logs, `"msg":"throughput"`)
	assert.Contains(t, logs, `"request_id"`)
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain", errors.New("boom"), exitError},
		{"unreachable", errors.Mark(errors.New("dial tcp"), ollama.ErrUnreachable), exitModel},
		{"model missing", errors.Wrap(errors.Mark(errors.New("404"), ollama.ErrModelNotFound), "generate"), exitModel},
		{"llm failed", &generate.StageError{Stage: generate.StageLLM, Err: &generate.LLMCallFailedError{Model: "m", Cause: errors.New("eof")}}, exitModel},
		{"rejected", &generate.StageError{Stage: generate.StageValidate, Err: &commitmsg.InvalidMessageError{Fragment: "nope", Expected: "type"}}, exitRejected},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}

	ta := newTestApp(t, t.TempDir())
	assert.Equal(t, exitError, ta.run("no-such-command"))
}
