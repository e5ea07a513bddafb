// Command gaodev is the thin CLI wiring for the GAO-Dev orchestration
// core: it loads configuration, opens the instance lock, the Store, and
// the GitGateway, assembles the C1-C9 component graph, and drives one
// plan run per invocation. The interactive/web interface, the AI-agent
// SDK, and distribution/packaging are external collaborators — this
// binary exists only to demonstrate how the pieces compose.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tclient "go.temporal.io/sdk/client"

	"github.com/gao-dev/gaodev/internal/agentrunner"
	"github.com/gao-dev/gaodev/internal/ceremony"
	"github.com/gao-dev/gaodev/internal/config"
	"github.com/gao-dev/gaodev/internal/coordinator"
	"github.com/gao-dev/gaodev/internal/gitgw"
	"github.com/gao-dev/gaodev/internal/learning"
	"github.com/gao-dev/gaodev/internal/lock"
	"github.com/gao-dev/gaodev/internal/model"
	"github.com/gao-dev/gaodev/internal/orchestrator"
	"github.com/gao-dev/gaodev/internal/safety"
	"github.com/gao-dev/gaodev/internal/store"
	"github.com/gao-dev/gaodev/internal/temporalflow"
	"github.com/gao-dev/gaodev/internal/workflow"
)

func configureLogger(logLevel string, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "gaodev.toml", "path to config file")
	workspace := flag.String("workspace", ".", "path to the project working tree")
	epicNum := flag.Int("epic", 1, "epic number to run")
	feature := flag.String("feature", "", "feature name for the epic")
	scaleLevel := flag.Int("scale", 2, "scale level 0-4")
	once := flag.Bool("once", false, "run a single plan then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gaodev: load config: %v\n", err)
		os.Exit(1)
	}
	logger := configureLogger(cfg.General.LogLevel, cfg.General.Dev)
	slog.SetDefault(logger)
	logger.Info("gaodev starting", "config", *configPath, "workspace", *workspace)

	heldLock, err := lock.Acquire(cfg.General.LockFile)
	if err != nil {
		logger.Error("failed to acquire instance lock", "error", err)
		os.Exit(1)
	}
	defer heldLock.Release()

	git, err := gitgw.Open(*workspace)
	if err != nil {
		logger.Error("git gateway refused to open", "error", err)
		os.Exit(1)
	}
	if err := git.EnsureIgnored(".gao-dev/"); err != nil {
		logger.Error("failed to ignore the state directory", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.General.StateDB)
	if err != nil {
		logger.Error("failed to open state database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	project := cfg.General.Project
	if project == "" {
		project = "default"
	}

	coord := coordinator.New(st, git, *workspace, project, coordinator.Identity{
		Name:  "gao-dev",
		Email: "gao-dev@localhost",
	})

	if orphans, err := coord.Reconcile(); err != nil {
		logger.Error("failed to reconcile orphaned ceremony rows", "error", err)
		os.Exit(1)
	} else if orphans > 0 {
		logger.Warn("reconciled orphaned ceremony rows left by an interrupted shutdown", "count", orphans)
	}

	guard := safety.New(st, project, cfg.Safety)
	learnSvc := learning.New(st, project)

	var runner orchestrator.StepRunner
	var ceremonyRunner ceremony.Runner
	switch cfg.AgentRunner.Backend {
	case "docker":
		dr, err := agentrunner.NewDockerRunner(cfg.AgentRunner.DockerImage, cfg.AgentRunner.Agent)
		if err != nil {
			logger.Error("failed to construct docker agent runner", "error", err)
			os.Exit(1)
		}
		runner, ceremonyRunner = dr, dr
	default:
		cr := agentrunner.NewCLIRunner(cfg.AgentRunner.Agent)
		runner, ceremonyRunner = cr, cr
	}

	ceremonyOrch := ceremony.New(st, coord, guard, learnSvc, ceremonyRunner, project)
	ceremonyOrch.SetDeadline(cfg.AgentRunner.CeremonyDeadline.Duration)

	var profile *workflow.AgentProfile
	if catalog, err := workflow.LoadCatalog(cfg.Workflows); err != nil {
		logger.Warn("workflow catalog unavailable; continuing without agent profiles", "error", err)
	} else {
		profile = catalog.Resolve("story", nil)
	}

	scored, err := learnSvc.Select(learning.Query{ScaleLevel: *scaleLevel, ProjectType: project, Now: time.Now()})
	if err != nil {
		logger.Error("failed to select learnings", "error", err)
		os.Exit(1)
	}
	topLearnings := make([]model.Learning, 0, len(scored))
	for i, s := range scored {
		if i >= workflow.LearningTopK {
			break
		}
		topLearnings = append(topLearnings, s.Learning)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch cfg.Orchestrator.Backend {
	case "temporal":
		tc, err := tclient.Dial(tclient.Options{HostPort: cfg.Orchestrator.TemporalHostPort})
		if err != nil {
			logger.Error("failed to dial temporal", "error", err)
			os.Exit(1)
		}
		defer tc.Close()

		w := temporalflow.NewWorker(tc, cfg.Orchestrator.TemporalTaskQueue, &temporalflow.Activities{
			Runner: runner, Ceremony: ceremonyOrch, Coord: coord, WorkDir: *workspace,
		})
		if err := w.Start(); err != nil {
			logger.Error("failed to start temporal worker", "error", err)
			os.Exit(1)
		}
		defer w.Stop()

		run, err := tc.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
			ID:        fmt.Sprintf("gaodev-plan-%s-%d", project, *epicNum),
			TaskQueue: cfg.Orchestrator.TemporalTaskQueue,
		}, temporalflow.RunPlanWorkflow, temporalflow.PlanRequest{
			Project: project, EpicNum: *epicNum, FeatureName: *feature,
			ScaleLevel: *scaleLevel, Learnings: topLearnings,
		})
		if err != nil {
			logger.Error("failed to start plan workflow", "error", err)
			os.Exit(1)
		}
		var result temporalflow.PlanResult
		if err := run.Get(ctx, &result); err != nil {
			logger.Error("plan workflow failed", "error", err)
			os.Exit(1)
		}
		logger.Info("plan run finished", "aborted", result.Aborted, "steps", len(result.Steps))
	default:
		orch := orchestrator.New(runner, ceremonyOrch, coord, st, project, time.Now)
		status, err := orch.Run(ctx, orchestrator.Request{
			EpicNum: *epicNum, FeatureName: *feature, ScaleLevel: *scaleLevel,
			Learnings: topLearnings, Profile: profile, WorkDir: *workspace,
		})
		if err != nil {
			logger.Error("plan run failed", "error", err)
			os.Exit(1)
		}
		logger.Info("plan run finished", "aborted", status.Aborted, "steps", len(status.Steps))
	}

	if *once {
		return
	}

	if n, err := coord.ExpireStaleActionItems(time.Now()); err != nil {
		logger.Error("failed to expire stale action items", "error", err)
	} else if n > 0 {
		logger.Info("expired stale action items", "count", n)
	}
}
