// Package config holds the settings shared by the segspeed binaries.
// Values are layered: defaults from Default, then an optional YAML file,
// then SEGSPEED_* environment variables (see Load). Command line flags
// are applied on top by each binary before calling the section's
// Validate.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gurre/segspeed/partition"
)

// Config is the full configuration tree.
type Config struct {
	Debug       bool   `koanf:"debug"`
	MetricsAddr string `koanf:"metrics_addr"` // listen address for /metrics, empty disables

	AWS       AWS       `koanf:"aws"`
	Simulator Simulator `koanf:"simulator"`
	Sinks     Sinks     `koanf:"sinks"`
	Job       Job       `koanf:"job"`
	ETL       ETL       `koanf:"etl"`
}

// AWS selects the region and, for LocalStack, a custom endpoint.
type AWS struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"`
}

// Simulator configures the telemetry loop.
type Simulator struct {
	Interval float64 `koanf:"interval"`  // seconds between ticks
	Format   string  `koanf:"format"`    // json or text
	Seed     uint64  `koanf:"seed"`      // 0 picks a random seed
	MaxTicks int     `koanf:"max_ticks"` // 0 runs until interrupted
}

// Sinks selects where readings are written besides stdout. Every field is
// optional.
type Sinks struct {
	DynamoDBTable string `koanf:"dynamodb_table"`
	KinesisStream string `koanf:"kinesis_stream"`
	S3URI         string `koanf:"s3_uri"`
	CSVBatchSize  int    `koanf:"csv_batch_size"`
	PostgresDSN   string `koanf:"postgres_dsn"`

	// Data API target, resolved by name.
	Cluster  string `koanf:"cluster"`
	Secret   string `koanf:"secret"`
	Database string `koanf:"database"`
	Table    string `koanf:"table"`
}

// Job configures the Glue job controller.
type Job struct {
	Name           string        `koanf:"name"`
	ScriptLocation string        `koanf:"script_location"`
	Role           string        `koanf:"role"` // ARN or IAM role name
	PollInterval   time.Duration `koanf:"poll_interval"`
	LogGroup       string        `koanf:"log_group"`
}

// ETL configures the transform job.
type ETL struct {
	SourceURI       string        `koanf:"source_uri"`
	TargetURI       string        `koanf:"target_uri"`
	CheckpointURI   string        `koanf:"checkpoint_uri"` // s3://, file path or empty for memory
	MaxWorkers      int           `koanf:"max_workers"`
	BatchSize       int           `koanf:"batch_size"`
	CheckpointEvery int           `koanf:"checkpoint_every"` // batches between checkpoints
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		AWS: AWS{Region: "us-east-1"},
		Simulator: Simulator{
			Interval: 5,
			Format:   "json",
		},
		Sinks: Sinks{
			CSVBatchSize: 1000,
			Database:     "test",
			Table:        "street_segment_speeds",
		},
		Job: Job{
			Name:           "raw-data-etl",
			ScriptLocation: "s3://raw-data/scripts/raw_data_etl.py",
			Role:           "arn:aws:iam::000000000000:role/glue-role",
			PollInterval:   4 * time.Second,
			LogGroup:       "/aws-glue/jobs/output",
		},
		ETL: ETL{
			MaxWorkers:      4,
			BatchSize:       25,
			CheckpointEvery: 10,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// ParseInterval parses a tick interval given in seconds, e.g. "5" or
// "0.25".
func ParseInterval(s string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time interval %q: must be a positive number of seconds", s)
	}
	return IntervalFromSeconds(secs)
}

// IntervalFromSeconds converts secs to a Duration. It must be positive,
// finite and at least one nanosecond.
func IntervalFromSeconds(secs float64) (time.Duration, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, fmt.Errorf("invalid time interval %v: must be a positive number of seconds", secs)
	}
	if secs > math.MaxInt64/float64(time.Second) {
		return 0, fmt.Errorf("invalid time interval %v: too large", secs)
	}
	d := time.Duration(math.Round(secs * float64(time.Second)))
	if d <= 0 {
		return 0, fmt.Errorf("invalid time interval %v: below one nanosecond", secs)
	}
	return d, nil
}

// Validate checks the simulator section.
func (s *Simulator) Validate() error {
	if _, err := IntervalFromSeconds(s.Interval); err != nil {
		return err
	}
	if s.Format != "json" && s.Format != "text" {
		return fmt.Errorf("format must be json or text")
	}
	if s.MaxTicks < 0 {
		return fmt.Errorf("max ticks must not be negative")
	}
	return nil
}

// IntervalDuration returns the validated interval.
func (s *Simulator) IntervalDuration() time.Duration {
	d, _ := IntervalFromSeconds(s.Interval)
	return d
}

// Validate checks the sinks section.
func (s *Sinks) Validate() error {
	if s.S3URI != "" {
		if _, err := partition.ParseS3URI(s.S3URI); err != nil {
			return fmt.Errorf("sinks: %w", err)
		}
	}
	if s.CSVBatchSize < 1 {
		return fmt.Errorf("csv batch size must be at least 1")
	}
	if (s.Cluster == "") != (s.Secret == "") {
		return fmt.Errorf("cluster and secret must be set together")
	}
	if s.Cluster != "" && s.Database == "" {
		return fmt.Errorf("database is required with a cluster")
	}
	if (s.Cluster != "" || s.PostgresDSN != "") && s.Table == "" {
		return fmt.Errorf("table is required for relational sinks")
	}
	return nil
}

// Validate checks the job section.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if !strings.HasPrefix(j.ScriptLocation, "s3://") {
		return fmt.Errorf("script location must start with s3://")
	}
	if j.Role == "" {
		return fmt.Errorf("role is required")
	}
	if j.PollInterval < time.Second {
		return fmt.Errorf("poll interval must be at least 1 second")
	}
	if j.LogGroup == "" {
		return fmt.Errorf("log group is required")
	}
	return nil
}

// Validate checks the ETL section.
func (e *ETL) Validate() error {
	if e.SourceURI == "" {
		return fmt.Errorf("source S3 URI is required")
	}
	if _, err := partition.ParseS3URI(e.SourceURI); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if e.TargetURI == "" {
		return fmt.Errorf("target S3 URI is required")
	}
	if _, err := partition.ParseS3URI(e.TargetURI); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if e.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be at least 1")
	}
	if e.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if e.CheckpointEvery < 1 {
		return fmt.Errorf("checkpoint interval must be at least 1 batch")
	}
	if e.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second")
	}
	return nil
}
