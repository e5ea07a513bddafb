package gitgw

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/gao-dev/gaodev/internal/model"
)

// BranchExists reports whether a local branch exists.
func (g *Gateway) BranchExists(branch string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = g.workspace
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("check branch %s exists: %w", branch, err)
}

// EnsureFeatureBranch creates feat/<epic>.<story> if it doesn't exist yet,
// otherwise checks it out, scoping the branch to the story a workflow step
// is operating on.
func (g *Gateway) EnsureFeatureBranch(epicNum, storyNum int, base string) error {
	name := fmt.Sprintf("feat/%d.%d", epicNum, storyNum)
	exists, err := g.BranchExists(name)
	if err != nil {
		return err
	}
	if exists {
		_, err := g.run("checkout", name)
		return err
	}
	_, err = g.run("checkout", "-b", name, base)
	return err
}

// MergeBranchIntoBase checks out base and merges featureBranch into it with
// a no-fast-forward merge commit. Returns ErrMergeConflict if the merge
// could not be completed automatically.
func (g *Gateway) MergeBranchIntoBase(featureBranch, base string) error {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "main"
	}
	if _, err := g.run("checkout", base); err != nil {
		return fmt.Errorf("checkout base branch %s: %w", base, err)
	}

	cmd := exec.Command("git", "merge", "--no-ff", "--no-edit", featureBranch)
	cmd.Dir = g.workspace
	out, err := cmd.CombinedOutput()
	if err != nil {
		text := strings.ToLower(strings.TrimSpace(string(out)))
		if strings.Contains(text, "conflict") {
			return model.ErrMergeConflict
		}
		return fmt.Errorf("merge %s into %s: %w (%s)", featureBranch, base, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// DeleteBranch removes a local branch after a successful merge.
func (g *Gateway) DeleteBranch(branch string) error {
	_, err := g.run("branch", "-d", branch)
	return err
}
