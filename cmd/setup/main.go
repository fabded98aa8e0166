// Command setup provisions the pipeline on AWS or LocalStack: the raw,
// transformed and lambda buckets, the ETL script, the Glue job, the
// readings stream, the readings table and, when a cluster or DSN is
// configured, the relational readings table. Re-running it leaves
// existing resources alone.
//
// Usage:
//
//	setup -endpoint http://localhost:4566 -script etl/raw_data_etl.py \
//	    -lambda-zip preprocessing.zip -lambda-zip dynamo_getter.zip
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/config"
	"github.com/gurre/segspeed/jobs"
	"github.com/gurre/segspeed/logging"
	"github.com/gurre/segspeed/partition"
	"github.com/gurre/segspeed/provision"
	"github.com/gurre/segspeed/sinks"
	"go.uber.org/zap"
)

const (
	defaultBuckets = "raw-data,transformed-data,lambda-bucket"
	defaultTable   = "street_segment_speeds"
	defaultStream  = "segment-speeds"
)

// Config holds the command-line configuration for setup.
type Config struct {
	ConfigPath   string
	Buckets      string
	Script       string
	LambdaBucket string
	LambdaZips   []string
	Table        string
	Stream       string
	Shards       int
	Region       string
	Endpoint     string
	Debug        bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := Config{}

	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	fs.StringVar(&cfg.ConfigPath, "config", "", "YAML configuration file")
	fs.StringVar(&cfg.Buckets, "buckets", defaultBuckets, "Comma separated buckets to create")
	fs.StringVar(&cfg.Script, "script", "", "Local ETL script uploaded to the job's script location")
	fs.StringVar(&cfg.LambdaBucket, "lambda-bucket", "lambda-bucket", "Bucket receiving Lambda deployment packages")
	fs.Func("lambda-zip", "Lambda deployment package to upload (repeatable)", func(s string) error {
		cfg.LambdaZips = append(cfg.LambdaZips, s)
		return nil
	})
	fs.StringVar(&cfg.Table, "table", "", "DynamoDB readings table (default from config, then "+defaultTable+")")
	fs.StringVar(&cfg.Stream, "stream", "", "Kinesis readings stream (default from config, then "+defaultStream+")")
	fs.IntVar(&cfg.Shards, "shards", 1, "Shards of a new stream")
	fs.StringVar(&cfg.Region, "region", "", "AWS region")
	fs.StringVar(&cfg.Endpoint, "endpoint", "", "Custom AWS endpoint, e.g. http://localhost:4566")
	fs.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	settings, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return err
	}
	if cfg.Region != "" {
		settings.AWS.Region = cfg.Region
	}
	if cfg.Endpoint != "" {
		settings.AWS.Endpoint = cfg.Endpoint
	}
	if err := settings.Job.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Debug || settings.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := aws.LoadConfig(ctx, settings.AWS.Region, settings.AWS.Endpoint)
	if err != nil {
		return err
	}
	clients := aws.NewClients(awsCfg)

	roleARN, err := jobs.ResolveRoleARN(ctx, clients.IAM, settings.Job.Role)
	if err != nil {
		return err
	}

	plan, err := buildPlan(cfg, settings, roleARN)
	if err != nil {
		return err
	}

	ctl := jobs.NewController(clients.Glue, clients.Logs, jobs.WithLogger(logger))
	p := provision.New(clients.S3, clients.DynamoDB, clients.Kinesis, ctl,
		provision.WithLogger(logger),
		provision.WithRegion(settings.AWS.Region))

	res, err := p.Apply(ctx, plan)
	if res != nil {
		for _, r := range res.Created {
			fmt.Printf("Created %s\n", r)
		}
		for _, r := range res.Existing {
			fmt.Printf("Using existing %s\n", r)
		}
	}
	if err != nil {
		return err
	}

	// Opening the relational sinks creates their table.
	relational := settings.Sinks
	relational.DynamoDBTable, relational.KinesisStream, relational.S3URI = "", "", ""
	if relational.Cluster != "" || relational.PostgresDSN != "" {
		if err := relational.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		set, err := sinks.Open(ctx, relational, clients, logger)
		if err != nil {
			return err
		}
		set.Close()
		logger.Info("relational table ready", zap.Strings("sinks", set.Names()), zap.String("table", relational.Table))
		fmt.Printf("Ensured table %s in %s\n", relational.Table, strings.Join(set.Names(), ", "))
	}
	return nil
}

// buildPlan turns flags and settings into a provisioning plan. Local files
// are read here so a missing file fails before anything is created.
func buildPlan(cfg Config, settings *config.Config, roleARN string) (provision.Plan, error) {
	plan := provision.Plan{
		JobName:        settings.Job.Name,
		ScriptLocation: settings.Job.ScriptLocation,
		RoleARN:        roleARN,
		Table:          firstNonEmpty(cfg.Table, settings.Sinks.DynamoDBTable, defaultTable),
		Stream:         firstNonEmpty(cfg.Stream, settings.Sinks.KinesisStream, defaultStream),
		StreamShards:   int32(cfg.Shards),
	}
	for _, b := range strings.Split(cfg.Buckets, ",") {
		if b = strings.TrimSpace(b); b != "" {
			plan.Buckets = append(plan.Buckets, b)
		}
	}

	if cfg.Script != "" {
		body, err := os.ReadFile(cfg.Script)
		if err != nil {
			return plan, fmt.Errorf("failed to read script: %w", err)
		}
		plan.Objects = append(plan.Objects, provision.Object{
			URI:         settings.Job.ScriptLocation,
			Body:        body,
			ContentType: "text/x-python",
		})
	}
	for _, zip := range cfg.LambdaZips {
		body, err := os.ReadFile(zip)
		if err != nil {
			return plan, fmt.Errorf("failed to read lambda package: %w", err)
		}
		loc := partition.Location{Bucket: cfg.LambdaBucket}.Join(filepath.Base(zip))
		plan.Objects = append(plan.Objects, provision.Object{
			URI:         loc.String(),
			Body:        body,
			ContentType: "application/zip",
		})
	}
	return plan, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
