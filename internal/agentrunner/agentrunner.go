// Package agentrunner implements the AgentRunner boundary: the component
// that actually invokes a coding agent for a workflow step or a ceremony
// and reports back what changed. Two backends are provided — cli
// (subprocess) and docker (container) — selected at startup by
// config.AgentRunner.Backend and never mixed within a run.
package agentrunner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gao-dev/gaodev/internal/model"
)

// StepRequest is what the Orchestrator hands an AgentRunner for a single
// workflow step.
type StepRequest struct {
	Step           model.WorkflowStep
	Project        string
	EpicNum        int
	StoryNum       *int
	FeatureName    string
	Role           string
	PromptTemplate string
	Prompt         string
	WorkDir        string
}

// StepResult is what a step execution reports back: the artifacts it
// produced, its outcome, free-form diagnostics for the transcript log,
// and whatever token/cost usage the backend could measure (the cli and
// docker backends report none; an SDK-backed runner fills it in).
type StepResult struct {
	Artifacts   []model.Artifact
	Outcome     model.Outcome
	Diagnostics string
	Cost        model.AgentCost
}

// changedFiles diffs the working tree against HEAD (tracked modifications
// and untracked files alike) and reads each back into a model.Artifact:
// whatever the agent touched becomes the step's reported output.
func changedFiles(workDir string) ([]model.Artifact, error) {
	cmd := exec.Command("git", "status", "--porcelain", "--no-renames")
	cmd.Dir = workDir
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("agentrunner: git status: %w", err)
	}

	var artifacts []model.Artifact
	for _, line := range strings.Split(out.String(), "\n") {
		if len(line) < 4 {
			continue
		}
		status := line[:2]
		path := strings.TrimSpace(line[3:])
		if status == " D" || status == "D " {
			continue
		}
		// Orchestrator state is never an agent artifact, even when the
		// workspace .gitignore is missing or stale.
		if path == ".gao-dev" || strings.HasPrefix(path, ".gao-dev/") {
			continue
		}
		full := filepath.Join(workDir, path)
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		artifacts = append(artifacts, model.Artifact{Path: path, Bytes: data})
	}
	return artifacts, nil
}

// outcomeFromExitCode maps a process/container exit code to the
// three-state Outcome an AgentRunner reports: 0 is success, a non-zero
// exit that still produced changed files is partial (the agent got
// somewhere before failing), and a non-zero exit with nothing changed is
// a clean failure.
func outcomeFromExitCode(code int, artifacts []model.Artifact) model.Outcome {
	if code == 0 {
		return model.OutcomeSuccess
	}
	if len(artifacts) > 0 {
		return model.OutcomePartial
	}
	return model.OutcomeFailed
}

func ctxErrToOutcome(ctx context.Context) (model.Outcome, bool) {
	if ctx.Err() == context.DeadlineExceeded {
		return model.OutcomeFailed, true
	}
	if ctx.Err() == context.Canceled {
		return model.OutcomePartial, true
	}
	return "", false
}
