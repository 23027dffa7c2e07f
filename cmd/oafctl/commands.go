package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rflorenc/oafctl/internal/config"
	"github.com/rflorenc/oafctl/internal/logging"
	"github.com/rflorenc/oafctl/internal/models"
	"github.com/rflorenc/oafctl/internal/platform"
	"github.com/rflorenc/oafctl/internal/reconcile"
	"github.com/rflorenc/oafctl/internal/setup"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1 // usage or configuration error, failed setup step
	exitUnavailable = 2 // the framework never became available
)

// app holds what every subcommand needs once configuration is resolved.
type app struct {
	loader *config.Loader
	out    io.Writer
	errOut io.Writer

	cfg     *config.Config
	log     *zap.SugaredLogger
	client  *platform.Client
	metrics *reconcile.Metrics
	run     *models.Run
	print   models.Printer
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := a.loader.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	a.client = platform.NewClient(cfg.BaseURL, cfg.Timeout)
	a.metrics = reconcile.NewMetrics()
	a.run = models.NewRun(cmd.Name(), a.client.BaseURL())
	a.print = terminalPrinter(a.out, a.run)
	a.log.Debugw("configuration loaded",
		"base_url", cfg.BaseURL, "retry_attempts", cfg.Retry.Attempts, "retry_delay", cfg.Retry.Delay,
		"gate_attempts", cfg.Gate.Attempts, "gate_delay", cfg.Gate.Delay, "concurrency", cfg.Concurrency)
	return nil
}

// gate blocks until the framework answers its health endpoint.
func (a *app) gate(ctx context.Context) error {
	a.print(models.LevelHeading, "Checking service at "+a.client.BaseURL())
	g := reconcile.NewGate(a.client, a.cfg.Gate.Path, a.cfg.Gate.Attempts, a.cfg.Gate.Delay).
		WithLogger(a.log).
		WithMetrics(a.metrics).
		OnAttempt(func(attempt, max int, err error) {
			a.print(models.LevelWarn, fmt.Sprintf("Service not ready (attempt %d/%d): %v", attempt, max, err))
		})
	h, err := g.WaitUntilAvailable(ctx)
	if err != nil {
		a.print(models.LevelFail, fmt.Sprintf("Service at %s is not available", a.client.BaseURL()))
		return err
	}

	if h.Version != "" {
		a.print(models.LevelOK, fmt.Sprintf("Service available (version %s)", h.Version))
	} else {
		a.print(models.LevelOK, "Service available")
	}
	return nil
}

func (a *app) deleter() *reconcile.Deleter {
	return reconcile.NewDeleter(a.client,
		reconcile.WithAttempts(a.cfg.Retry.Attempts),
		reconcile.WithDelay(a.cfg.Retry.Delay),
		reconcile.WithNotFoundIsSuccess(a.cfg.NotFoundIsSuccess),
		reconcile.WithLogger(a.log),
		reconcile.WithMetrics(a.metrics),
		reconcile.WithAttemptObserver(func(rt models.ResourceType, id string, attempt, max int, o models.Outcome, err error) {
			if o == models.FailedRetryable {
				a.print(models.LevelWarn, fmt.Sprintf("Retrying %s (%d/%d): %v", id, attempt+1, max, err))
			}
		}),
	)
}

func (a *app) reconciler() *reconcile.Reconciler {
	return reconcile.NewReconciler(a.client, a.deleter(), reconcile.Options{
		Concurrency: a.cfg.Concurrency,
		DryRun:      a.cfg.DryRun,
		Log:         a.log,
		Metrics:     a.metrics,
		Printer:     a.print,
	})
}

func (a *app) installer() *setup.Installer {
	return setup.New(a.client, a.deleter(), setup.Options{
		Endpoints: a.cfg.Endpoints,
		Log:       a.log,
		Printer:   a.print,
	})
}

// finish records the outcome on the run and writes the optional exports.
func (a *app) finish(report *models.Report, err error) {
	if a.run == nil {
		return
	}
	if err != nil {
		a.run.Fail(err.Error())
	} else {
		a.run.Complete(report)
	}
	if a.cfg.ReportFile != "" {
		if werr := a.run.WriteFile(a.cfg.ReportFile); werr != nil {
			a.log.Errorw("writing run record", "path", a.cfg.ReportFile, "error", werr)
		}
	}
	if a.cfg.MetricsFile != "" {
		if werr := a.metrics.WriteFile(a.cfg.MetricsFile); werr != nil {
			a.log.Errorw("writing metrics", "path", a.cfg.MetricsFile, "error", werr)
		}
	}
	a.log.Sync()
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	a := &app{out: out, errOut: errOut}
	var report *models.Report

	root := newRootCmd(a, &report)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	a.finish(report, err)

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, reconcile.ErrServiceUnavailable):
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return exitUnavailable
	default:
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return exitError
	}
}

func newRootCmd(a *app, report **models.Report) *cobra.Command {
	root := &cobra.Command{
		Use:   "oafctl",
		Short: "Reconcile an Open Agentic Framework instance to a known state",
		Long: `oafctl removes agents, workflows, scheduled tasks and memory from an
Open Agentic Framework instance, verifies that nothing is left, and installs
the PURL analysis workflow bundle.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsConfig(cmd) {
				return nil
			}
			return a.init(cmd)
		},
	}
	a.loader = config.NewLoader(root.PersistentFlags())

	root.AddCommand(
		cleanupCmd(a, report),
		classCmd(a, report, models.Agent, "agents", "Delete all agents"),
		classCmd(a, report, models.Workflow, "workflows", "Delete all workflows"),
		classCmd(a, report, models.ScheduledTask, "schedules", "Delete all scheduled tasks"),
		classCmd(a, report, models.MemoryStore, "memory", "Clear the memory store"),
		verifyCmd(a, report),
		setupCmd(a),
		cleanCmd(a, report),
		warmupCmd(a),
		testCmd(a),
	)
	return root
}

// needsConfig is false for cobra's built-in help and completion commands,
// which must work even when the environment holds invalid settings.
func needsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion":
			return false
		}
	}
	return true
}

func cleanupCmd(a *app, report **models.Report) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every agent, workflow and scheduled task and clear memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.gate(cmd.Context()); err != nil {
				return err
			}
			*report = a.reconciler().Reconcile(cmd.Context(), a.cfg.Endpoints.Registry())
			renderSummary(a.out, *report)
			return cmd.Context().Err()
		},
	}
}

func classCmd(a *app, report **models.Report, class models.ResourceClass, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.cfg.Endpoints.Lookup(class)
			if err != nil {
				return err
			}
			if err := a.gate(cmd.Context()); err != nil {
				return err
			}
			*report = a.reconciler().Reconcile(cmd.Context(), []models.ResourceType{rt})
			renderSummary(a.out, *report)
			return cmd.Context().Err()
		},
	}
}

func verifyCmd(a *app, report **models.Report) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "List what is left without deleting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.print(models.LevelHeading, "Verifying "+a.client.BaseURL())
			*report = a.reconciler().Verify(cmd.Context(), a.cfg.Endpoints.Registry())
			renderSummary(a.out, *report)
			return nil
		},
	}
}

func setupCmd(a *app) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the PURL analysis agents and workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.gate(cmd.Context()); err != nil {
				return err
			}
			sum, err := a.installer().Setup(cmd.Context(), setup.PURLBundle(model))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "\n  Setup: %d created, %d already present, %d failed\n", sum.Created, sum.Existing, sum.Failed)
			if !sum.OK() {
				return fmt.Errorf("could not create: %v", sum.FailedNames)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Ollama model for the bundle's agents (framework default if empty)")
	return cmd
}

func cleanCmd(a *app, report **models.Report) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete the PURL analysis workflow and agents only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.gate(cmd.Context()); err != nil {
				return err
			}
			*report = a.installer().Clean(cmd.Context(), setup.PURLBundle(""))
			renderSummary(a.out, *report)
			return cmd.Context().Err()
		},
	}
}

func warmupCmd(a *app) *cobra.Command {
	var purl string
	cmd := &cobra.Command{
		Use:   "warmup",
		Short: "Execute the bundle workflow once so the models are loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.gate(cmd.Context()); err != nil {
				return err
			}
			if failed := a.installer().Warmup(cmd.Context(), setup.PURLBundle(""), purl); failed > 0 {
				a.print(models.LevelWarn, fmt.Sprintf("%d warmup executions failed", failed))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&purl, "purl", setup.DefaultWarmupPURL, "Package URL used for the warmup run")
	return cmd
}

func testCmd(a *app) *cobra.Command {
	var workflow string
	cmd := &cobra.Command{
		Use:   "test [purl]",
		Short: "Analyze a package URL with the bundle workflow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			purl := setup.DefaultTestPURL
			if len(args) == 1 {
				purl = args[0]
			}
			if err := a.gate(cmd.Context()); err != nil {
				return err
			}
			body, err := a.installer().Test(cmd.Context(), workflow, purl)
			if err != nil {
				return err
			}
			var pretty bytes.Buffer
			if json.Indent(&pretty, body, "", "  ") != nil {
				pretty.Reset()
				pretty.Write(body)
			}
			fmt.Fprintf(a.out, "\n%s\n", pretty.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&workflow, "workflow", setup.WorkflowName, "Workflow to execute")
	return cmd
}
