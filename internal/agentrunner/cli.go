package agentrunner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/gao-dev/gaodev/internal/ceremony"
)

// openclawShellScript is the prompt-delivery wrapper: the prompt is
// written to a temp file and passed as --message, since piping it over
// stdin can silently fail when the openclaw gateway falls back to
// embedded mode.
func openclawShellScript() string {
	return `msg=$(cat "$1")
agent="$2"
session_id="cli-$$-$(date +%s)"
openclaw agent --agent "$agent" --session-id "$session_id" --message "$msg"`
}

// CLIRunner is the subprocess AgentRunner backend: it shells out to the
// openclaw CLI once per step or ceremony and blocks until it exits, since
// executing a step is a blocking call by design.
type CLIRunner struct {
	Agent string // openclaw agent profile name, e.g. "dev" or "architect"
}

// NewCLIRunner constructs a CLIRunner bound to a single openclaw agent
// profile; callers that need per-role agents construct one CLIRunner per
// role (see internal/workflow.AgentProfile).
func NewCLIRunner(agent string) *CLIRunner {
	return &CLIRunner{Agent: agent}
}

// Execute runs a single workflow step by invoking the CLI with the
// step's assembled prompt and reporting whatever files changed in the
// working tree afterward as the step's artifacts.
func (r *CLIRunner) Execute(ctx context.Context, req StepRequest) (StepResult, error) {
	diagnostics, exitCode, runErr := r.run(ctx, req.Prompt, req.WorkDir)
	if runErr != nil {
		if outcome, ok := ctxErrToOutcome(ctx); ok {
			return StepResult{Diagnostics: diagnostics, Outcome: outcome}, nil
		}
		return StepResult{}, fmt.Errorf("agentrunner: cli execute step %s: %w", req.Step.Name, runErr)
	}

	artifacts, err := changedFiles(req.WorkDir)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Artifacts: artifacts, Outcome: outcomeFromExitCode(exitCode, artifacts), Diagnostics: diagnostics}, nil
}

// ExecuteCeremony runs a ceremony by invoking the CLI with a prompt built
// from the ceremony context, returning the raw transcript for
// internal/ceremony to parse.
func (r *CLIRunner) ExecuteCeremony(ctx context.Context, req ceremony.Request) (ceremony.Result, error) {
	started := time.Now()
	prompt := ceremonyPrompt(req)

	transcript, _, runErr := r.run(ctx, prompt, "")
	if runErr != nil {
		if _, ok := ctxErrToOutcome(ctx); ok {
			return ceremony.Result{Transcript: transcript, DurationMS: time.Since(started).Milliseconds()}, nil
		}
		return ceremony.Result{}, fmt.Errorf("agentrunner: cli execute %s ceremony: %w", req.Type, runErr)
	}
	return ceremony.Result{
		Transcript:   transcript,
		DurationMS:   time.Since(started).Milliseconds(),
		Participants: []string{r.Agent},
	}, nil
}

// run writes prompt to a temp file and blocks on the openclaw CLI for at
// most ctx's deadline, returning combined stdout/stderr and the exit code.
func (r *CLIRunner) run(ctx context.Context, prompt, workDir string) (output string, exitCode int, err error) {
	tmp, err := os.CreateTemp("", "gaodev-prompt-*.txt")
	if err != nil {
		return "", -1, fmt.Errorf("create prompt file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(prompt); err != nil {
		tmp.Close()
		return "", -1, fmt.Errorf("write prompt file: %w", err)
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, "sh", "-c", openclawShellScript(), "_", tmp.Name(), r.Agent)
	if workDir != "" {
		cmd.Dir = workDir
	}
	out, runErr := cmd.CombinedOutput()
	code := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
		runErr = nil
	} else if runErr != nil {
		code = -1
	}
	return string(out), code, runErr
}

func ceremonyPrompt(req ceremony.Request) string {
	prompt := fmt.Sprintf("Hold a %s ceremony for epic %d of project %s (%s).\n\n", req.Type, req.EpicNum, req.Project, req.FeatureName)
	if len(req.OpenActionItems) > 0 {
		prompt += "Open action items:\n"
		for _, a := range req.OpenActionItems {
			prompt += fmt.Sprintf("- [%s] %s\n", a.Priority, a.Description)
		}
		prompt += "\n"
	}
	if len(req.TopLearnings) > 0 {
		prompt += "Relevant learnings:\n"
		for _, l := range req.TopLearnings {
			prompt += fmt.Sprintf("- [%s] %s\n", l.Category, l.Text)
		}
		prompt += "\n"
	}
	prompt += "Respond with a # Summary section, a # Action Items section " +
		"(bullets of the form `[P1] description | why: ...`), and a # Learnings " +
		"section (bullets of the form `[category] tags: a,b | relevance: 0.8 — lesson text`)."
	return prompt
}
