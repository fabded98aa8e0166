// Command etl-transform reads raw reading CSV files from S3, casts and
// cleans every row and writes the result as partitioned CSV batches to
// the processed bucket, optionally also into the street_segment_speeds
// table. Progress is checkpointed so an interrupted run resumes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gurre/s3streamer"
	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/checkpoint"
	"github.com/gurre/segspeed/config"
	"github.com/gurre/segspeed/coordinator"
	"github.com/gurre/segspeed/etl"
	"github.com/gurre/segspeed/logging"
	"github.com/gurre/segspeed/partition"
	"github.com/gurre/segspeed/sinks"
	"github.com/gurre/segspeed/writer"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("etl-transform", flag.ExitOnError)

	cfgPath := fs.String("config", "", "YAML configuration file")
	debug := fs.Bool("debug", false, "Enable debug logging")
	region := fs.String("region", "", "AWS region")
	endpoint := fs.String("endpoint", "", "Custom AWS endpoint, e.g. http://localhost:4566")
	source := fs.String("source", "", "S3 URI of the raw readings (s3://bucket/prefix)")
	target := fs.String("target", "", "S3 URI for the processed readings (s3://bucket/prefix)")
	resume := fs.String("resume", "", "Checkpoint location: s3:// URI or file path (default in memory)")
	workers := fs.Int("workers", 0, "Number of concurrent workers")
	batchSize := fs.Int("batch", 0, "Readings per write batch")
	jobName := fs.String("job", coordinator.DefaultJobName, "Job name recorded in checkpoints")
	cluster := fs.String("cluster", "", "Aurora cluster to also insert readings into (Data API)")
	secret := fs.String("secret", "", "Secret holding the cluster credentials")
	database := fs.String("database", "", "Database on the cluster")
	postgresDSN := fs.String("postgres", "", "PostgreSQL DSN to also insert readings into")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "debug":
			cfg.Debug = *debug
		case "region":
			cfg.AWS.Region = *region
		case "endpoint":
			cfg.AWS.Endpoint = *endpoint
		case "source":
			cfg.ETL.SourceURI = *source
		case "target":
			cfg.ETL.TargetURI = *target
		case "resume":
			cfg.ETL.CheckpointURI = *resume
		case "workers":
			cfg.ETL.MaxWorkers = *workers
		case "batch":
			cfg.ETL.BatchSize = *batchSize
		case "cluster":
			cfg.Sinks.Cluster = *cluster
		case "secret":
			cfg.Sinks.Secret = *secret
		case "database":
			cfg.Sinks.Database = *database
		case "postgres":
			cfg.Sinks.PostgresDSN = *postgresDSN
		}
	})

	if err := cfg.ETL.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Only the relational sinks apply here; the target bucket is always
	// written.
	relational := config.Sinks{
		CSVBatchSize: cfg.Sinks.CSVBatchSize,
		PostgresDSN:  cfg.Sinks.PostgresDSN,
		Cluster:      cfg.Sinks.Cluster,
		Secret:       cfg.Sinks.Secret,
		Database:     cfg.Sinks.Database,
		Table:        cfg.Sinks.Table,
	}
	if err := relational.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := aws.LoadConfig(ctx, cfg.AWS.Region, cfg.AWS.Endpoint)
	if err != nil {
		return err
	}
	clients := aws.NewClients(awsCfg)

	targetLoc, err := partition.ParseS3URI(cfg.ETL.TargetURI)
	if err != nil {
		return err
	}

	set, err := sinks.Open(ctx, relational, clients, logger)
	if err != nil {
		return err
	}
	defer set.Close()
	set.Add("target", writer.NewCSVWriter(clients.S3, targetLoc, cfg.Sinks.CSVBatchSize))

	store, err := checkpoint.Open(clients.S3, cfg.ETL.CheckpointURI)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	coord := coordinator.NewCoordinator(
		cfg.ETL,
		partition.NewS3Lister(clients.S3, ".csv"),
		s3streamer.NewS3Streamer(clients.S3),
		func() etl.Decoder { return etl.NewCSVDecoder() },
		set.Writer(),
		store,
		coordinator.WithLogger(logger),
		coordinator.WithJobName(*jobName),
	)

	logger.Info("starting transform",
		zap.String("source", cfg.ETL.SourceURI),
		zap.String("target", cfg.ETL.TargetURI),
		zap.Strings("sinks", set.Names()))
	if err := coord.Run(ctx); err != nil {
		return fmt.Errorf("transform failed: %w", err)
	}

	fmt.Println(coord.Report())
	return nil
}
