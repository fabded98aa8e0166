package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
)

// GlueClient is an in-memory implementation of aws.GlueClient. Each run
// walks through States, one step per GetJobRun call, and stays in the
// last one.
type GlueClient struct {
	mu     sync.Mutex
	jobs   map[string]*glue.CreateJobInput
	runs   map[string]*glueRun
	nextID int

	// States every new run goes through. Defaults to RUNNING, SUCCEEDED.
	States []gluetypes.JobRunState
}

type glueRun struct {
	job    string
	step   int
	states []gluetypes.JobRunState
}

// NewGlueClient creates a mock without jobs.
func NewGlueClient() *GlueClient {
	return &GlueClient{
		jobs:   make(map[string]*glue.CreateJobInput),
		runs:   make(map[string]*glueRun),
		States: []gluetypes.JobRunState{gluetypes.JobRunStateRunning, gluetypes.JobRunStateSucceeded},
	}
}

// Job returns the input a job was created with.
func (m *GlueClient) Job(name string) (*glue.CreateJobInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	return job, ok
}

// CreateJob registers a job.
func (m *GlueClient) CreateJob(ctx context.Context, params *glue.CreateJobInput, optFns ...func(*glue.Options)) (*glue.CreateJobOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := aws.ToString(params.Name)
	if _, ok := m.jobs[name]; ok {
		return nil, &gluetypes.AlreadyExistsException{Message: aws.String("Job already exists: " + name)}
	}
	m.jobs[name] = params
	return &glue.CreateJobOutput{Name: params.Name}, nil
}

// StartJobRun starts a run of an existing job.
func (m *GlueClient) StartJobRun(ctx context.Context, params *glue.StartJobRunInput, optFns ...func(*glue.Options)) (*glue.StartJobRunOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := aws.ToString(params.JobName)
	if _, ok := m.jobs[name]; !ok {
		return nil, &gluetypes.EntityNotFoundException{Message: aws.String("Job not found: " + name)}
	}
	m.nextID++
	id := fmt.Sprintf("jr_%064d", m.nextID)
	m.runs[id] = &glueRun{job: name, states: append([]gluetypes.JobRunState(nil), m.States...)}
	return &glue.StartJobRunOutput{JobRunId: aws.String(id)}, nil
}

// GetJobRun returns the current state of a run and advances it.
func (m *GlueClient) GetJobRun(ctx context.Context, params *glue.GetJobRunInput, optFns ...func(*glue.Options)) (*glue.GetJobRunOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, err := m.run(aws.ToString(params.JobName), aws.ToString(params.RunId))
	if err != nil {
		return nil, err
	}
	state := run.states[run.step]
	if run.step < len(run.states)-1 {
		run.step++
	}
	return &glue.GetJobRunOutput{
		JobRun: &gluetypes.JobRun{
			Id:          params.RunId,
			JobName:     params.JobName,
			JobRunState: state,
		},
	}, nil
}

// BatchStopJobRun moves runs to STOPPED. Unknown run ids are reported as
// errors in the output, not as a failed call.
func (m *GlueClient) BatchStopJobRun(ctx context.Context, params *glue.BatchStopJobRunInput, optFns ...func(*glue.Options)) (*glue.BatchStopJobRunOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := &glue.BatchStopJobRunOutput{}
	for _, id := range params.JobRunIds {
		run, err := m.run(aws.ToString(params.JobName), id)
		if err != nil {
			out.Errors = append(out.Errors, gluetypes.BatchStopJobRunError{
				JobName:  params.JobName,
				JobRunId: aws.String(id),
				ErrorDetail: &gluetypes.ErrorDetail{
					ErrorCode:    aws.String("EntityNotFoundException"),
					ErrorMessage: aws.String(err.Error()),
				},
			})
			continue
		}
		run.states = []gluetypes.JobRunState{gluetypes.JobRunStateStopped}
		run.step = 0
		out.SuccessfulSubmissions = append(out.SuccessfulSubmissions, gluetypes.BatchStopJobRunSuccessfulSubmission{
			JobName:  params.JobName,
			JobRunId: aws.String(id),
		})
	}
	return out, nil
}

func (m *GlueClient) run(job, id string) (*glueRun, error) {
	run, ok := m.runs[id]
	if !ok || run.job != job {
		return nil, &gluetypes.EntityNotFoundException{Message: aws.String("Job run not found: " + id)}
	}
	return run, nil
}

// LogsClient is an in-memory implementation of aws.LogsClient. Streams
// are served PageSize events at a time; the last page repeats its token.
type LogsClient struct {
	mu       sync.Mutex
	streams  map[string][]string
	PageSize int
}

// NewLogsClient creates a mock without streams.
func NewLogsClient() *LogsClient {
	return &LogsClient{streams: make(map[string][]string), PageSize: 2}
}

// Append adds messages to group/stream.
func (m *LogsClient) Append(group, stream string, messages ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := group + "/" + stream
	m.streams[key] = append(m.streams[key], messages...)
}

// GetLogEvents pages through a stream from its head.
func (m *LogsClient) GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := aws.ToString(params.LogGroupName) + "/" + aws.ToString(params.LogStreamName)
	messages, ok := m.streams[key]
	if !ok {
		return nil, &cwtypes.ResourceNotFoundException{Message: aws.String("The specified log stream does not exist.")}
	}

	start := 0
	if tok := aws.ToString(params.NextToken); tok != "" {
		if _, err := fmt.Sscanf(strings.TrimPrefix(tok, "f/"), "%d", &start); err != nil {
			return nil, fmt.Errorf("invalid token %q", tok)
		}
	}
	end := min(start+m.PageSize, len(messages))

	out := &cloudwatchlogs.GetLogEventsOutput{
		NextForwardToken: aws.String(fmt.Sprintf("f/%d", end)),
	}
	for i := start; i < end; i++ {
		out.Events = append(out.Events, cwtypes.OutputLogEvent{
			Message:   aws.String(messages[i] + "\n"),
			Timestamp: aws.Int64(int64(i)),
		})
	}
	return out, nil
}
