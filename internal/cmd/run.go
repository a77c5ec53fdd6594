package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chopstack/chopstack/internal/agent"
	"github.com/chopstack/chopstack/internal/bus"
	"github.com/chopstack/chopstack/internal/config"
	"github.com/chopstack/chopstack/internal/engine"
	"github.com/chopstack/chopstack/internal/filelock"
	"github.com/chopstack/chopstack/internal/gates"
	"github.com/chopstack/chopstack/internal/history"
	"github.com/chopstack/chopstack/internal/logger"
	"github.com/chopstack/chopstack/internal/models"
	"github.com/chopstack/chopstack/internal/orchestrator"
	"github.com/chopstack/chopstack/internal/parser"
	"github.com/chopstack/chopstack/internal/vcs"
)

// runFlags holds the run command's flag values.
type runFlags struct {
	maxConcurrency  int
	trunkRef        string
	vcsMode         string
	agentCommand    string
	taskTimeout     time.Duration
	continueOnError bool
	dryRun          bool
	submit          bool
	draft           bool
	skipGates       bool
	quiet           bool
	verbose         bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <plan-file>",
		Short: "Execute a plan",
		Long: `Run validates the plan, creates one git worktree per task, executes
independent tasks concurrently layer by layer, and assembles the
resulting commits into a branch stack on the trunk.

The exit code is 0 when every task succeeded and 1 otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, args[0], flags)
		},
	}

	cmd.Flags().IntVarP(&flags.maxConcurrency, "max-concurrency", "c", 0, "max concurrent tasks per layer (0 = layer width)")
	cmd.Flags().StringVar(&flags.trunkRef, "trunk", "", "integration ref the first layer bases on")
	cmd.Flags().StringVar(&flags.vcsMode, "vcs-mode", "", "stack assembly mode: merge-commit or stacked")
	cmd.Flags().StringVar(&flags.agentCommand, "agent", "", "coding-agent command line")
	cmd.Flags().DurationVar(&flags.taskTimeout, "task-timeout", 0, "wall-clock limit per task (0 = none)")
	cmd.Flags().BoolVar(&flags.continueOnError, "continue-on-error", false, "keep executing unaffected tasks after a failure")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "validate and print the schedule without executing")
	cmd.Flags().BoolVar(&flags.submit, "submit", false, "open reviews for the assembled stack")
	cmd.Flags().BoolVar(&flags.draft, "draft", false, "open reviews as drafts")
	cmd.Flags().BoolVar(&flags.skipGates, "skip-gates", false, "skip plan quality gates")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "only errors and task outcomes")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "stream agent and VCS events")

	return cmd
}

func runPlan(cmd *cobra.Command, planPath string, flags *runFlags) error {
	repoRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine working directory: %w", err)
	}

	cfg, err := config.LoadConfigFromDir(repoRoot)
	if err != nil {
		return err
	}
	mergeRunFlags(cmd, cfg, flags)
	if err := cfg.Validate(); err != nil {
		return err
	}

	console := logger.NewConsoleLogger(os.Stderr, cfg.LogLevel)

	plan, warnings, err := parser.ParsePlanFile(planPath)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		console.Warn("%s", w)
	}

	if !flags.skipGates {
		issues := gates.CheckPlan(plan)
		for _, issue := range issues {
			if issue.Severity == gates.SeverityCritical {
				console.Error("%s", issue)
			} else {
				console.Warn("%s", issue)
			}
		}
		if gates.HasBlocking(issues) {
			return fmt.Errorf("plan failed quality gates; fix the issues above or pass --skip-gates")
		}
	}

	lock, err := filelock.NewRunLock(repoRoot)
	if err != nil {
		return err
	}
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.New()
	renderer := bus.NewRenderer(os.Stdout, renderMode(flags))
	renderer.Attach(events)

	fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer fileLog.Close()
	fileLog.Attach(events)

	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}
	if err := backend.Initialize(ctx, repoRoot, cfg.TrunkRef); err != nil {
		return err
	}

	gitOps, ok := backend.(vcs.WorktreeGit)
	if !ok {
		return fmt.Errorf("backend %s does not support worktrees", backend.Name())
	}
	worktrees := vcs.NewWorktreeManager(gitOps, cfg.BranchPrefix, cfg.ShadowPath)
	vcsEngine := vcs.NewEngine(backend, worktrees, events, cfg.ConflictStrategy, cfg.BranchPrefix, repoRoot)

	adapter := agent.NewClaudeAdapter(cfg.AgentCommand)
	if !flags.dryRun && !adapter.IsAvailable() {
		return fmt.Errorf("agent command %q not found on PATH", cfg.AgentCommand)
	}

	runner := orchestrator.New(adapter, events, cfg.TaskTimeout, cfg.InactivityTimeout)
	eng := engine.New(vcsEngine, runner, events)

	startedAt := time.Now()
	result, err := eng.Execute(ctx, plan, engine.Options{
		Mode:             plan.Mode,
		TrunkRef:         cfg.TrunkRef,
		MaxConcurrency:   cfg.MaxConcurrency,
		ContinueOnError:  flags.continueOnError,
		DryRun:           flags.dryRun,
		CleanupOnSuccess: cfg.CleanupOnSuccess,
		CleanupOnFailure: cfg.CleanupOnFailure,
		SubmitStack:      cfg.Submit.Enabled,
		Draft:            cfg.Submit.Draft,
		AutoMerge:        cfg.Submit.AutoMerge,
	})
	if err != nil {
		return err
	}

	if !flags.dryRun {
		recordHistory(ctx, console, cfg, fileLog.JobID(), plan, result, startedAt)
	}
	printSummary(console, result)

	if result.Failed() > 0 {
		return fmt.Errorf("%d of %d tasks failed", result.Failed(), len(result.Tasks))
	}
	return nil
}

// mergeRunFlags applies only the flags the user actually set.
func mergeRunFlags(cmd *cobra.Command, cfg *config.Config, flags *runFlags) {
	var maxConcurrency *int
	var trunkRef, vcsMode, agentCommand *string
	var taskTimeout *time.Duration
	var submit *bool

	if cmd.Flags().Changed("max-concurrency") {
		maxConcurrency = &flags.maxConcurrency
	}
	if cmd.Flags().Changed("trunk") {
		trunkRef = &flags.trunkRef
	}
	if cmd.Flags().Changed("vcs-mode") {
		vcsMode = &flags.vcsMode
	}
	if cmd.Flags().Changed("agent") {
		agentCommand = &flags.agentCommand
	}
	if cmd.Flags().Changed("task-timeout") {
		taskTimeout = &flags.taskTimeout
	}
	if cmd.Flags().Changed("submit") {
		submit = &flags.submit
	}
	cfg.MergeWithFlags(maxConcurrency, trunkRef, vcsMode, agentCommand, taskTimeout, submit)

	if cmd.Flags().Changed("draft") {
		cfg.Submit.Draft = flags.draft
	}
	if flags.verbose {
		cfg.LogLevel = "debug"
	}
}

func renderMode(flags *runFlags) bus.RenderMode {
	switch {
	case flags.verbose:
		return bus.RenderVerbose
	case flags.quiet:
		return bus.RenderQuiet
	default:
		return bus.RenderNormal
	}
}

func buildBackend(cfg *config.Config) (vcs.Backend, error) {
	switch cfg.VCSMode {
	case "stacked":
		backend := vcs.NewStackedBackend(cfg.StackingCLI)
		if !backend.IsAvailable() {
			return nil, fmt.Errorf("stacking CLI %q not found on PATH", cfg.StackingCLI)
		}
		return backend, nil
	case "merge-commit":
		return vcs.NewGitBackend(), nil
	default:
		return nil, fmt.Errorf("invalid vcs_mode %q", cfg.VCSMode)
	}
}

// recordHistory persists the run outcome. History failures never fail
// the run.
func recordHistory(ctx context.Context, console *logger.ConsoleLogger, cfg *config.Config, jobID string, plan *models.Plan, result *models.ExecutionResult, startedAt time.Time) {
	store, err := history.NewStore(cfg.HistoryDBPath)
	if err != nil {
		console.Warn("failed to open history database: %v", err)
		return
	}
	defer store.Close()

	run := history.RunFromResult(jobID, plan, result, cfg.VCSMode, cfg.TrunkRef, startedAt)
	if err := store.RecordRun(ctx, run); err != nil {
		console.Warn("failed to record run history: %v", err)
	}
}

func printSummary(console *logger.ConsoleLogger, result *models.ExecutionResult) {
	console.Info("run finished in %s: %d succeeded, %d failed, %d skipped",
		result.TotalDuration.Round(time.Second), result.Succeeded(), result.Failed(), result.Skipped())
	for _, branch := range result.Branches {
		console.Info("branch: %s", branch)
	}
	for _, url := range result.PRURLs {
		console.Success("review: %s", url)
	}
}
