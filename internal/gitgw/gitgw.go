// Package gitgw wraps working-tree git operations: stage, commit, tag,
// branch, status; it has no diff operation. Every public commit is atomic with respect to the working
// tree, and the gateway refuses to run against a tree that looks like
// GAO-Dev's own source, so the tool can never accidentally operate on
// itself. Every operation shells out to the git binary rather than
// linking a git library.
package gitgw

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gao-dev/gaodev/internal/model"
)

// Gateway wraps a single working tree.
type Gateway struct {
	workspace string
}

// sourceMarkers are files/paths whose presence means "this is GAO-Dev's own
// repository", per the precondition check (E001).
var sourceMarkers = []string{
	".gaodev-source",
	"internal/coordinator",
	"internal/orchestrator",
}

// Open returns a Gateway for workspace after checking it is not GAO-Dev's
// own source tree.
func Open(workspace string) (*Gateway, error) {
	for _, marker := range sourceMarkers {
		if _, err := os.Stat(filepath.Join(workspace, marker)); err == nil {
			return nil, model.ErrSourceTreeDetected
		}
	}
	return &Gateway{workspace: workspace}, nil
}

func (g *Gateway) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.workspace
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Stage adds specific paths to the index.
func (g *Gateway) Stage(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := g.run(append([]string{"add", "--"}, paths...)...)
	return err
}

// StageAll adds every modified/untracked path under the workspace.
func (g *Gateway) StageAll() error {
	_, err := g.run("add", "-A")
	return err
}

// commitGrammar is the bit-exact Conventional Commits grammar required by
// the external-interfaces contract.
var commitGrammar = regexp.MustCompile(`^(feat|fix|docs|refactor|test|chore|perf)\(([^)]+)\): (.+)$`)

// ValidateMessage reports whether a commit message's first line satisfies
// the required grammar.
func ValidateMessage(message string) error {
	firstLine := strings.SplitN(message, "\n", 2)[0]
	if !commitGrammar.MatchString(firstLine) {
		return model.DataInvariant("E014", fmt.Sprintf("commit message %q does not match Conventional Commits grammar", firstLine), nil)
	}
	return nil
}

// CoAuthor is rendered as a "Co-Authored-By" trailer line.
type CoAuthor struct {
	Name  string
	Email string
}

// Commit creates a commit with the given message, author identity, and
// optional co-author trailers. Returns the new commit's SHA. Empty
// commits are allowed: a state mutation that changed no files still gets
// its paired commit so every mutation stays one-to-one with git history.
func (g *Gateway) Commit(message, authorName, authorEmail string, coAuthors []CoAuthor) (string, error) {
	if err := ValidateMessage(message); err != nil {
		return "", err
	}
	full := message
	if len(coAuthors) > 0 {
		var trailers []string
		for _, c := range coAuthors {
			trailers = append(trailers, fmt.Sprintf("Co-Authored-By: %s <%s>", c.Name, c.Email))
		}
		full = full + "\n\n" + strings.Join(trailers, "\n")
	}

	args := []string{"commit", "--allow-empty", "-m", full}
	if authorName != "" {
		args = append(args, "--author", fmt.Sprintf("%s <%s>", authorName, authorEmail))
	}
	if _, err := g.run(args...); err != nil {
		return "", model.Transient("E029", "commit working tree", err)
	}
	return g.run("rev-parse", "HEAD")
}

// Tag creates a lightweight tag pointing at sha.
func (g *Gateway) Tag(name, sha string) error {
	_, err := g.run("tag", name, sha)
	return err
}

// DeleteTag removes a tag.
func (g *Gateway) DeleteTag(name string) error {
	_, err := g.run("tag", "-d", name)
	return err
}

// CurrentBranch returns the checked-out branch name.
func (g *Gateway) CurrentBranch() (string, error) {
	return g.run("rev-parse", "--abbrev-ref", "HEAD")
}

// CreateBranch creates and checks out a new branch from the current HEAD.
func (g *Gateway) CreateBranch(name string) error {
	_, err := g.run("checkout", "-b", name)
	return err
}

// Checkout switches to an existing ref.
func (g *Gateway) Checkout(ref string) error {
	_, err := g.run("checkout", ref)
	return err
}

// IsClean reports whether the working tree has no pending changes.
func (g *Gateway) IsClean() (bool, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// FileStatus is one line of `git status --porcelain` output.
type FileStatus struct {
	Code string
	Path string
}

// Status returns the working tree's file-level status.
func (g *Gateway) Status() ([]FileStatus, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var statuses []FileStatus
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		statuses = append(statuses, FileStatus{Code: strings.TrimSpace(line[:2]), Path: line[3:]})
	}
	return statuses, nil
}

// ResetHard resets the working tree to ref, used by the coordinator's
// compensation path to undo a commit whose paired SQL write never landed.
func (g *Gateway) ResetHard(ref string) error {
	_, err := g.run("reset", "--hard", ref)
	return err
}

// EnsureIgnored appends pattern to the workspace .gitignore unless a line
// already matches it, keeping orchestrator state (the state database,
// lock file, and logs) out of the user's git history.
func (g *Gateway) EnsureIgnored(pattern string) error {
	path := filepath.Join(g.workspace, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read .gitignore: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append to .gitignore: %w", err)
	}
	defer f.Close()
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	_, err = f.WriteString(pattern + "\n")
	return err
}
