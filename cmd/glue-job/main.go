// Command glue-job creates, starts, stops and inspects the raw data ETL
// Glue job. Without a subcommand it creates the job and starts one run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/config"
	"github.com/gurre/segspeed/jobs"
	"github.com/gurre/segspeed/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	cfgPath string
	debug   bool
	cfg     *config.Config
	logger  *zap.Logger
	clients *aws.Clients
	ctl     *jobs.Controller
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default()}

	var region, endpoint, jobName string

	root := &cobra.Command{
		Use:   "glue-job",
		Short: "Control the raw data ETL Glue job",
		Long: `glue-job manages the Glue job that transforms raw segment readings.

Without a subcommand the job is created and one run is started, which
is what a fresh LocalStack deployment needs.`,
		Example: `  # Create the job and start a run against LocalStack
  glue-job --endpoint=http://localhost:4566

  # Start a run and wait for it to finish
  glue-job start --wait

  # Print the output of a run
  glue-job logs jr_0123456789abcdef`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("region") {
				cfg.AWS.Region = region
			}
			if flags.Changed("endpoint") {
				cfg.AWS.Endpoint = endpoint
			}
			if flags.Changed("job") {
				cfg.Job.Name = jobName
			}
			if err := cfg.Job.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			a.cfg = cfg

			a.logger, err = logging.New(a.debug || cfg.Debug)
			if err != nil {
				return err
			}

			awsCfg, err := aws.LoadConfig(cmd.Context(), cfg.AWS.Region, cfg.AWS.Endpoint)
			if err != nil {
				return err
			}
			a.clients = aws.NewClients(awsCfg)
			a.ctl = jobs.NewController(a.clients.Glue, a.clients.Logs,
				jobs.WithLogger(a.logger),
				jobs.WithPollInterval(cfg.Job.PollInterval),
				jobs.WithLogGroup(cfg.Job.LogGroup))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.createAndStart(cmd.Context(), false)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "YAML configuration file")
	pf.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	pf.StringVar(&region, "region", "", "AWS region")
	pf.StringVar(&endpoint, "endpoint", "", "Custom AWS endpoint, e.g. http://localhost:4566")
	pf.StringVar(&jobName, "job", "", "Glue job name (default raw-data-etl)")

	root.AddCommand(
		a.createCmd(),
		a.startCmd(),
		a.stopCmd(),
		a.statusCmd(),
		a.logsCmd(),
		a.runCmd(),
	)
	return root
}

func (a *app) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create the Glue job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.create(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Created Glue job: %s\n", name)
			return nil
		},
	}
}

func (a *app) startCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a run of the Glue job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID, err := a.ctl.Start(ctx, a.cfg.Job.Name)
			if err != nil {
				return err
			}
			fmt.Printf("Started Glue job run with ID: %s\n", runID)
			if !wait {
				return nil
			}
			return a.wait(ctx, runID)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the run leaves RUNNING")
	return cmd
}

func (a *app) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop RUN_ID",
		Short: "Stop a run of the Glue job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ctl.Stop(cmd.Context(), a.cfg.Job.Name, args[0]); err != nil {
				return err
			}
			fmt.Printf("Stopped Glue job run with ID: %s\n", args[0])
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status RUN_ID",
		Short: "Print the state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := a.ctl.Status(cmd.Context(), a.cfg.Job.Name, args[0])
			if err != nil {
				return err
			}
			fmt.Println(state)
			return nil
		},
	}
}

func (a *app) logsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs RUN_ID",
		Short: "Print the output of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := a.ctl.Logs(cmd.Context(), a.cfg.Job.Name, args[0])
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create the job and start a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.createAndStart(cmd.Context(), wait)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the run leaves RUNNING")
	return cmd
}

func (a *app) create(ctx context.Context) (string, error) {
	role, err := jobs.ResolveRoleARN(ctx, a.clients.IAM, a.cfg.Job.Role)
	if err != nil {
		return "", err
	}
	return a.ctl.Create(ctx, a.cfg.Job.Name, a.cfg.Job.ScriptLocation, role)
}

func (a *app) createAndStart(ctx context.Context, wait bool) error {
	name, err := a.create(ctx)
	if err != nil {
		return err
	}
	runID, err := a.ctl.Start(ctx, name)
	if err != nil {
		return err
	}
	fmt.Printf("Started Glue job run with ID: %s\n", runID)
	if wait {
		return a.wait(ctx, runID)
	}
	return nil
}

func (a *app) wait(ctx context.Context, runID string) error {
	state, err := a.ctl.Wait(ctx, a.cfg.Job.Name, runID)
	if err != nil {
		return err
	}
	fmt.Printf("Glue job run with ID: %s finished with status: %s\n", runID, state)
	return nil
}
