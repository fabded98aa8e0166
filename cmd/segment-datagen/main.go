// Command segment-datagen fills the street_segment_speeds DynamoDB table
// with simulated readings. Ticks are generated back to back without
// waiting for the interval, so a fixed seed always yields the same rows.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/logging"
	"github.com/gurre/segspeed/metrics"
	"github.com/gurre/segspeed/segment"
	"github.com/gurre/segspeed/simulator"
	"github.com/gurre/segspeed/writer"
	"go.uber.org/zap"
)

// Config holds the command-line configuration for the generator.
type Config struct {
	TableName string
	Ticks     int
	Seed      uint64
	Interval  time.Duration
	Create    bool
	Region    string
	Endpoint  string
	Debug     bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := Config{}

	fs := flag.NewFlagSet("segment-datagen", flag.ExitOnError)
	fs.StringVar(&cfg.TableName, "table", "street_segment_speeds", "DynamoDB table name")
	fs.IntVar(&cfg.Ticks, "ticks", 10, "Number of ticks; each writes one reading per segment")
	fs.Uint64Var(&cfg.Seed, "seed", 1, "Random seed")
	fs.DurationVar(&cfg.Interval, "interval", simulator.DefaultInterval, "Simulated time between ticks")
	fs.BoolVar(&cfg.Create, "create", false, "Create the table if it does not exist")
	fs.StringVar(&cfg.Region, "region", "", "AWS region")
	fs.StringVar(&cfg.Endpoint, "endpoint", "", "Custom AWS endpoint, e.g. http://localhost:4566")
	fs.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if cfg.Ticks < 1 {
		return fmt.Errorf("ticks must be at least 1")
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := aws.LoadConfig(ctx, cfg.Region, cfg.Endpoint)
	if err != nil {
		return err
	}
	clients := aws.NewClients(awsCfg)

	if cfg.Create {
		fmt.Println("Waiting for table to become active...")
		created, err := writer.CreateTable(ctx, clients.DynamoDB, cfg.TableName, 5*time.Minute)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Created table: %s\n", cfg.TableName)
		} else {
			fmt.Printf("Using existing table: %s\n", cfg.TableName)
		}
	}

	fmt.Printf("Using seed: %d\n", cfg.Seed)
	m := metrics.NewMetrics()
	sim, err := simulator.New(segment.Seed(),
		simulator.WithSeed(cfg.Seed),
		simulator.WithInterval(cfg.Interval),
		simulator.WithWriter(writer.NewDynamoDBWriter(clients.DynamoDB, cfg.TableName, writer.MaxDynamoDBBatch)),
		simulator.WithMetrics(m),
		simulator.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	for i := 0; i < cfg.Ticks; i++ {
		if err := sim.Tick(ctx); err != nil {
			return fmt.Errorf("tick %d failed: %w", i+1, err)
		}
		logger.Debug("tick written", zap.Int("tick", i+1))
	}

	report := m.GenerateReport()
	fmt.Printf("Items added: %d\n", report.Readings)
	fmt.Printf("\nTable: %s\n", cfg.TableName)
	return nil
}
