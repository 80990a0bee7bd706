// Package git finds the repository and branch for the working directory,
// reads the staged diff and records commits.
package git

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"diffmage/cli/internal/erruser"
)

// DetachedHead is reported by Branch when HEAD does not point at a branch.
const DetachedHead = "HEAD"

// Repo is an opened repository.
type Repo struct {
	// Root is the absolute path of the working tree.
	Root string
	repo *gogit.Repository
}

// Open finds the repository containing dir, walking up parent directories.
func Open(dir string) (*Repo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", dir)
	}
	r, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, erruser.New("This directory is not inside a Git repository.", err)
		}
		return nil, erruser.New("Could not open the Git repository.", err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return nil, erruser.New("Bare repositories have no staged changes.", err)
	}
	return &Repo{Root: wt.Filesystem.Root(), repo: r}, nil
}

// RepoRoot returns the absolute path of the repository root containing dir.
func RepoRoot(dir string) (string, error) {
	r, err := Open(dir)
	if err != nil {
		return "", err
	}
	return r.Root, nil
}

// Branch returns the short name of the current branch, DetachedHead when
// HEAD points at a commit, and the unborn branch name in a fresh repository.
func (r *Repo) Branch() (string, error) {
	head, err := r.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", errors.Wrap(err, "read HEAD")
	}
	if head.Type() == plumbing.SymbolicReference {
		target := head.Target()
		if target.IsBranch() {
			return target.Short(), nil
		}
	}
	return DetachedHead, nil
}

// HasCommits reports whether HEAD resolves to a commit.
func (r *Repo) HasCommits() bool {
	_, err := r.repo.Head()
	return err == nil
}

// StagedDiff returns the unified diff of the index against HEAD, as the git
// CLI prints it. Renames are detected so moves show up as rename headers.
func (r *Repo) StagedDiff() (string, error) {
	out, err := r.git(nil, "diff", "--cached", "--no-color", "--no-ext-diff", "-M")
	if err != nil {
		return "", erruser.New("Could not read staged changes.", err)
	}
	return out, nil
}

// IsClean reports whether the working tree has no uncommitted changes.
func (r *Repo) IsClean() (bool, error) {
	out, err := r.git(nil, "status", "--porcelain")
	if err != nil {
		return false, erruser.New("Could not check working tree status.", err)
	}
	return strings.TrimSpace(out) == "", nil
}

// Commit records the staged changes with message and returns the new
// commit's SHA. The message is passed on stdin so it is taken verbatim.
func (r *Repo) Commit(message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", erruser.New("Refusing to commit with an empty message.", nil)
	}
	if _, err := r.git(strings.NewReader(message), "commit", "--cleanup=verbatim", "-F", "-"); err != nil {
		return "", erruser.New("git commit failed.", err)
	}
	sha, err := r.git(nil, "rev-parse", "HEAD")
	if err != nil {
		return "", erruser.New("Could not read the new commit.", err)
	}
	return strings.TrimSpace(sha), nil
}

// Resolve returns the full SHA of the commit rev names (e.g. HEAD~1, a tag).
func (r *Repo) Resolve(rev string) (string, error) {
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", erruser.New("Invalid ref or commit: "+rev, err)
	}
	return h.String(), nil
}

// CommitMessage returns the message of the commit rev names, trimmed.
func (r *Repo) CommitMessage(rev string) (string, error) {
	sha, err := r.Resolve(rev)
	if err != nil {
		return "", err
	}
	c, err := r.repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return "", erruser.New("Could not read commit "+rev+".", err)
	}
	return strings.TrimSpace(c.Message), nil
}

// CommitDiff returns the diff a commit introduced against its first parent,
// in the same format as StagedDiff.
func (r *Repo) CommitDiff(rev string) (string, error) {
	sha, err := r.Resolve(rev)
	if err != nil {
		return "", err
	}
	out, err := r.git(nil, "show", "--format=", "--no-color", "--no-ext-diff", "-M", sha)
	if err != nil {
		return "", erruser.New("Could not read the diff of "+rev+".", err)
	}
	return out, nil
}

func (r *Repo) git(stdin *strings.Reader, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Root
	cmd.Env = minimalEnv()
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", errors.Wrapf(err, "git %s: %s", args[0], msg)
		}
		return "", errors.Wrapf(err, "git %s", args[0])
	}
	return stdout.String(), nil
}

// minimalEnv is the environment for git subprocesses: no prompts, no pager,
// and HOME so the user's identity config is found.
func minimalEnv() []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_PAGER=cat",
	}
	if home := os.Getenv("HOME"); home != "" {
		env = append(env, "HOME="+home)
	} else if runtime.GOOS == "windows" {
		if profile := os.Getenv("USERPROFILE"); profile != "" {
			env = append(env, "HOME="+profile)
		}
	}
	for _, k := range []string{"GIT_AUTHOR_NAME", "GIT_AUTHOR_EMAIL", "GIT_COMMITTER_NAME", "GIT_COMMITTER_EMAIL"} {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}
