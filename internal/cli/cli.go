// Package cli implements jobctl, a command line tool that enqueues jobs or runs them inline with tracing.
//
//	jobctl enqueue -f jobs.yaml   # publish each job to RabbitMQ
//	jobctl run -f jobs.yaml       # run each job in-process, one trace per job
//	jobctl handlers               # list built-in job handlers
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/jobtrace/internal/bootstrap"
	"github.com/cuongbtq/jobtrace/internal/config"
	"github.com/cuongbtq/jobtrace/internal/jobtrace"
	"github.com/cuongbtq/jobtrace/internal/queue"
	"github.com/cuongbtq/jobtrace/internal/worker"
	"github.com/cuongbtq/jobtrace/shared/logger"
	"github.com/cuongbtq/jobtrace/shared/postgresql"
)

// Version is set at build time
var Version = "dev"

type options struct {
	configFile string
	jobFile    string
}

// BuildCLI returns the jobctl root command
func BuildCLI() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "jobctl",
		Short: "jobctl enqueues jobs or runs them inline with tracing",
		Long: `jobctl reads jobs from a YAML file and either publishes them to RabbitMQ
for the worker service, or runs them in-process with job tracing enabled.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("JOBCTL_CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/worker-service/config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", defaultConfig, "config file path")

	rootCmd.AddCommand(buildEnqueueCommand(opts))
	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildHandlersCommand())

	return rootCmd
}

func buildEnqueueCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish jobs from a file to RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.jobFile, "file", "f", "", "job file (YAML)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func buildRunCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run jobs from a file inline, recording one trace per job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.jobFile, "file", "f", "", "job file (YAML)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func buildHandlersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "handlers",
		Short: "List the built-in job handlers",
		Run: func(cmd *cobra.Command, args []string) {
			registry := queue.NewRegistry()
			worker.RegisterDemoHandlers(registry)
			for _, name := range registry.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func loadConfig(path string) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateTracingConfig(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.Logger(&cfg.Logging, "jobctl")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, appLogger, nil
}

func enqueue(cmd *cobra.Command, opts *options) error {
	specs, err := loadJobFile(opts.jobFile)
	if err != nil {
		return err
	}

	cfg, appLogger, err := loadConfig(opts.configFile)
	if err != nil {
		return err
	}
	defer appLogger.Close()

	rabbitClient, err := bootstrap.RabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return enqueueJobs(ctx, rabbitClient, specs, cmd.OutOrStdout())
}

func run(cmd *cobra.Command, opts *options) error {
	specs, err := loadJobFile(opts.jobFile)
	if err != nil {
		return err
	}

	cfg, appLogger, err := loadConfig(opts.configFile)
	if err != nil {
		return err
	}
	defer appLogger.Close()

	// Inline mode: the correlator never flushes, the run flushes once at the end
	cfg.Tracing.Mode = jobtrace.ModeInline.String()

	var dbClient *postgresql.Client
	if bootstrap.NeedsDatabase(cfg) {
		dbClient, err = bootstrap.PostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		if err := bootstrap.Migrate(cmd.Context(), &cfg.Database, dbClient, appLogger.Logger); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	tracingPipeline, err := bootstrap.NewTracing(cfg, jobtrace.ModeInline, dbClient, nil, appLogger.Component("tracing"))
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := queue.NewRegistry()
	worker.RegisterDemoHandlers(registry)

	dispatcher := queue.NewDispatcher(appLogger.Logger)
	var session *jobtrace.Session
	if tracingPipeline.Factory != nil {
		session = tracingPipeline.Factory.Open(dispatcher)
	}
	runner := queue.NewSyncRunner(registry, dispatcher, appLogger.Logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed, err := runJobs(ctx, runner, specs, cmd.OutOrStdout())

	if session != nil {
		session.Agent.Flush()
	}
	tracingPipeline.Close()

	if err != nil {
		return err
	}

	appLogger.Info("Inline run finished",
		slog.Int("jobs", len(specs)),
		slog.Int("failed", failed),
	)

	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(specs))
	}
	return nil
}

// Execute runs the root command with a background context
func Execute() error {
	return BuildCLI().ExecuteContext(context.Background())
}
