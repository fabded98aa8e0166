// Package jobs controls the Glue job that runs the raw data ETL script:
// creating it, starting and stopping runs, polling their state and
// reading their CloudWatch output.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/benbjohnson/clock"
	"github.com/gurre/segspeed/aws"
	"go.uber.org/zap"
)

// CommandName is the Glue command type of the job.
const CommandName = "pythonshell"

// DefaultLogGroup is where Glue writes the output of job runs.
const DefaultLogGroup = "/aws-glue/jobs/output"

// DefaultPollInterval is the wait between status polls.
const DefaultPollInterval = 4 * time.Second

// StateRunning is the only state Wait keeps polling on.
const StateRunning = string(types.JobRunStateRunning)

// Controller drives one Glue job.
type Controller struct {
	glue     aws.GlueClient
	logs     aws.LogsClient
	clock    clock.Clock
	logger   *zap.Logger
	poll     time.Duration
	logGroup string
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock Wait sleeps on.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

// WithPollInterval sets the wait between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(ctl *Controller) { ctl.poll = d }
}

// WithLogGroup sets the log group Logs reads from.
func WithLogGroup(group string) Option {
	return func(ctl *Controller) { ctl.logGroup = group }
}

// NewController creates a Controller. logs may be nil when Logs is not
// used.
func NewController(glueClient aws.GlueClient, logs aws.LogsClient, opts ...Option) *Controller {
	ctl := &Controller{
		glue:     glueClient,
		logs:     logs,
		clock:    clock.New(),
		logger:   zap.NewNop(),
		poll:     DefaultPollInterval,
		logGroup: DefaultLogGroup,
	}
	for _, opt := range opts {
		opt(ctl)
	}
	return ctl
}

// Create registers a job running the script at scriptLocation under
// roleARN and returns the job name Glue assigned.
func (c *Controller) Create(ctx context.Context, name, scriptLocation, roleARN string) (string, error) {
	out, err := c.glue.CreateJob(ctx, &glue.CreateJobInput{
		Name: sdkaws.String(name),
		Role: sdkaws.String(roleARN),
		Command: &types.JobCommand{
			Name:           sdkaws.String(CommandName),
			ScriptLocation: sdkaws.String(scriptLocation),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create job %s: %w", name, err)
	}
	c.logger.Info("job created", zap.String("job", name), zap.String("script", scriptLocation))
	return sdkaws.ToString(out.Name), nil
}

// Start starts a run of job name and returns its run id.
func (c *Controller) Start(ctx context.Context, name string) (string, error) {
	out, err := c.glue.StartJobRun(ctx, &glue.StartJobRunInput{
		JobName: sdkaws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start job %s: %w", name, err)
	}
	runID := sdkaws.ToString(out.JobRunId)
	c.logger.Info("job run started", zap.String("job", name), zap.String("run", runID))
	return runID, nil
}

// Stop stops a run. Per-run failures reported by Glue are returned as an
// error.
func (c *Controller) Stop(ctx context.Context, name, runID string) error {
	out, err := c.glue.BatchStopJobRun(ctx, &glue.BatchStopJobRunInput{
		JobName:   sdkaws.String(name),
		JobRunIds: []string{runID},
	})
	if err != nil {
		return fmt.Errorf("failed to stop run %s of job %s: %w", runID, name, err)
	}
	if len(out.Errors) > 0 {
		e := out.Errors[0]
		msg := "unknown error"
		if e.ErrorDetail != nil {
			msg = sdkaws.ToString(e.ErrorDetail.ErrorCode) + ": " + sdkaws.ToString(e.ErrorDetail.ErrorMessage)
		}
		return fmt.Errorf("failed to stop run %s of job %s: %s", runID, name, msg)
	}
	c.logger.Info("job run stopped", zap.String("job", name), zap.String("run", runID))
	return nil
}

// Status returns the state of a run, e.g. RUNNING or SUCCEEDED.
func (c *Controller) Status(ctx context.Context, name, runID string) (string, error) {
	out, err := c.glue.GetJobRun(ctx, &glue.GetJobRunInput{
		JobName: sdkaws.String(name),
		RunId:   sdkaws.String(runID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get run %s of job %s: %w", runID, name, err)
	}
	if out.JobRun == nil {
		return "", fmt.Errorf("run %s of job %s not found", runID, name)
	}
	return string(out.JobRun.JobRunState), nil
}

// Wait polls the run until it leaves RUNNING and returns that state. The
// state is returned as-is; a FAILED run is not an error.
func (c *Controller) Wait(ctx context.Context, name, runID string) (string, error) {
	for {
		state, err := c.Status(ctx, name, runID)
		if err != nil {
			return "", err
		}
		if state != StateRunning {
			c.logger.Info("job run finished",
				zap.String("job", name), zap.String("run", runID), zap.String("state", state))
			return state, nil
		}
		c.logger.Info("job run still running", zap.String("job", name), zap.String("run", runID))

		timer := c.clock.Timer(c.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// Logs returns the messages of the run's log stream, oldest first. Glue
// names the stream after the run id.
func (c *Controller) Logs(ctx context.Context, name, runID string) ([]string, error) {
	if c.logs == nil {
		return nil, fmt.Errorf("no CloudWatch Logs client configured")
	}

	input := &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  sdkaws.String(c.logGroup),
		LogStreamName: sdkaws.String(runID),
		StartFromHead: sdkaws.Bool(true),
	}

	var lines []string
	for {
		out, err := c.logs.GetLogEvents(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to read logs of run %s of job %s: %w", runID, name, err)
		}
		for _, ev := range out.Events {
			lines = append(lines, strings.TrimRight(sdkaws.ToString(ev.Message), "\n"))
		}

		// The forward token repeats once the end of the stream is reached.
		next := sdkaws.ToString(out.NextForwardToken)
		if next == "" || next == sdkaws.ToString(input.NextToken) {
			return lines, nil
		}
		input.NextToken = sdkaws.String(next)
	}
}

// ResolveRoleARN returns role unchanged when it already is an ARN and
// otherwise looks the role up by name.
func ResolveRoleARN(ctx context.Context, client aws.IAMClient, role string) (string, error) {
	if strings.HasPrefix(role, "arn:") {
		return role, nil
	}
	out, err := client.GetRole(ctx, &iam.GetRoleInput{RoleName: sdkaws.String(role)})
	if err != nil {
		return "", fmt.Errorf("failed to get role %s: %w", role, err)
	}
	if out.Role == nil || out.Role.Arn == nil {
		return "", fmt.Errorf("role %s has no ARN", role)
	}
	return sdkaws.ToString(out.Role.Arn), nil
}
