package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	testCases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"5", 5 * time.Second, false},
		{"0.25", 250 * time.Millisecond, false},
		{" 2 ", 2 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{"1.001", 1001 * time.Millisecond, false},
		{"2.005", 2005 * time.Millisecond, false},
		{"0.1", 100 * time.Millisecond, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"NaN", 0, true},
		{"Inf", 0, true},
		{"1e-12", 0, true},
		{"1e300", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseInterval(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestIntervalFromSecondsRejectsNaN(t *testing.T) {
	if _, err := IntervalFromSeconds(math.NaN()); err == nil {
		t.Error("expected error for NaN")
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Simulator.Validate(); err != nil {
		t.Errorf("simulator: %v", err)
	}
	if err := cfg.Sinks.Validate(); err != nil {
		t.Errorf("sinks: %v", err)
	}
	if err := cfg.Job.Validate(); err != nil {
		t.Errorf("job: %v", err)
	}
	if got := cfg.Simulator.IntervalDuration(); got != 5*time.Second {
		t.Errorf("expected default interval 5s, got %v", got)
	}
}

func TestSimulatorValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Simulator)
	}{
		{"zero interval", func(s *Simulator) { s.Interval = 0 }},
		{"negative interval", func(s *Simulator) { s.Interval = -3 }},
		{"unknown format", func(s *Simulator) { s.Format = "xml" }},
		{"negative ticks", func(s *Simulator) { s.MaxTicks = -1 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := Default().Simulator
			tc.modify(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSinksValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Sinks)
	}{
		{"bad s3 uri", func(s *Sinks) { s.S3URI = "http://bucket/key" }},
		{"cluster without secret", func(s *Sinks) { s.Cluster = "db1" }},
		{"secret without cluster", func(s *Sinks) { s.Secret = "dbpass" }},
		{"no database", func(s *Sinks) { s.Cluster, s.Secret, s.Database = "db1", "dbpass", "" }},
		{"no table", func(s *Sinks) { s.PostgresDSN, s.Table = "postgres://localhost/test", "" }},
		{"zero csv batch", func(s *Sinks) { s.CSVBatchSize = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := Default().Sinks
			tc.modify(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestJobValidate(t *testing.T) {
	j := Default().Job
	j.ScriptLocation = "/local/script.py"
	if err := j.Validate(); err == nil {
		t.Error("expected error for non-S3 script location")
	}

	j = Default().Job
	j.PollInterval = 10 * time.Millisecond
	if err := j.Validate(); err == nil {
		t.Error("expected error for short poll interval")
	}
}

func validETL() ETL {
	e := Default().ETL
	e.SourceURI = "s3://raw-data/data/"
	e.TargetURI = "s3://processed-data/data/"
	return e
}

func TestETLValidate(t *testing.T) {
	e := validETL()
	if err := e.Validate(); err != nil {
		t.Fatalf("expected valid ETL config, got %v", err)
	}

	testCases := []struct {
		name   string
		modify func(*ETL)
	}{
		{"missing source", func(e *ETL) { e.SourceURI = "" }},
		{"bad source", func(e *ETL) { e.SourceURI = "raw-data/data" }},
		{"missing target", func(e *ETL) { e.TargetURI = "" }},
		{"zero workers", func(e *ETL) { e.MaxWorkers = 0 }},
		{"zero batch", func(e *ETL) { e.BatchSize = 0 }},
		{"zero checkpoint interval", func(e *ETL) { e.CheckpointEvery = 0 }},
		{"short shutdown", func(e *ETL) { e.ShutdownTimeout = time.Millisecond }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := validETL()
			tc.modify(&e)
			if err := e.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segspeed.yaml")
	yaml := `
simulator:
  interval: 2.5
  format: text
job:
  name: nightly-etl
  poll_interval: 10s
sinks:
  dynamodb_table: readings
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv("SEGSPEED_AWS__REGION", "eu-west-1")
	t.Setenv("SEGSPEED_SIMULATOR__FORMAT", "json")
	t.Setenv("SEGSPEED_METRICS_ADDR", ":9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Simulator.Interval != 2.5 {
		t.Errorf("expected interval from file, got %v", cfg.Simulator.Interval)
	}
	if cfg.Simulator.Format != "json" {
		t.Errorf("expected env to override file, got %s", cfg.Simulator.Format)
	}
	if cfg.Job.Name != "nightly-etl" || cfg.Job.PollInterval != 10*time.Second {
		t.Errorf("unexpected job section %+v", cfg.Job)
	}
	if cfg.Job.ScriptLocation != "s3://raw-data/scripts/raw_data_etl.py" {
		t.Errorf("expected default script location to survive, got %s", cfg.Job.ScriptLocation)
	}
	if cfg.AWS.Region != "eu-west-1" {
		t.Errorf("expected region from env, got %s", cfg.AWS.Region)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected metrics addr from env, got %s", cfg.MetricsAddr)
	}
	if cfg.Sinks.DynamoDBTable != "readings" {
		t.Errorf("expected table from file, got %s", cfg.Sinks.DynamoDBTable)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Job.Name != "raw-data-etl" {
		t.Errorf("expected default job name, got %s", cfg.Job.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
