// Command segment-sim emits simulated speed readings for the seeded
// street segments, one line per segment every interval seconds, until it
// is interrupted.
//
// Usage:
//
//	segment-sim [flags] [interval]
//
// The interval defaults to 5 seconds and may be fractional.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/config"
	"github.com/gurre/segspeed/logging"
	"github.com/gurre/segspeed/metrics"
	"github.com/gurre/segspeed/segment"
	"github.com/gurre/segspeed/simulator"
	"github.com/gurre/segspeed/sinks"
	"github.com/gurre/segspeed/writer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errUsage marks a flag error the flag package has already printed.
var errUsage = errors.New("usage")

// run executes the command and returns the process exit status.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := simulate(ctx, args, stdout, stderr)
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func simulate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("segment-sim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: segment-sim [flags] [interval seconds]\n")
		fs.PrintDefaults()
	}

	cfgPath := fs.String("config", "", "YAML configuration file")
	debug := fs.Bool("debug", false, "Enable debug logging")
	format := fs.String("format", "", "Output format: json or text")
	seed := fs.Uint64("seed", 0, "Random seed (0 picks one)")
	ticks := fs.Int("ticks", 0, "Stop after this many ticks (0 runs until interrupted)")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	region := fs.String("region", "", "AWS region")
	endpoint := fs.String("endpoint", "", "Custom AWS endpoint, e.g. http://localhost:4566")
	table := fs.String("dynamodb-table", "", "Also write readings to this DynamoDB table")
	stream := fs.String("kinesis-stream", "", "Also put readings on this Kinesis stream")
	s3URI := fs.String("s3-uri", "", "Also write CSV batches under this S3 URI")

	flagArgs, numeric, ok := splitInterval(fs, args)
	if err := fs.Parse(flagArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	positional := fs.Args()
	if ok {
		positional = append(positional, numeric)
	}
	if len(positional) > 1 {
		return fmt.Errorf("expected at most one argument (interval), got %d", len(positional))
	}

	var interval time.Duration
	if len(positional) == 1 {
		d, err := config.ParseInterval(positional[0])
		if err != nil {
			return err
		}
		interval = d
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if interval > 0 {
		// Validated as seconds; the Duration itself is used for ticking.
		cfg.Simulator.Interval = interval.Seconds()
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "debug":
			cfg.Debug = *debug
		case "format":
			cfg.Simulator.Format = *format
		case "seed":
			cfg.Simulator.Seed = *seed
		case "ticks":
			cfg.Simulator.MaxTicks = *ticks
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "region":
			cfg.AWS.Region = *region
		case "endpoint":
			cfg.AWS.Endpoint = *endpoint
		case "dynamodb-table":
			cfg.Sinks.DynamoDBTable = *table
		case "kinesis-stream":
			cfg.Sinks.KinesisStream = *stream
		case "s3-uri":
			cfg.Sinks.S3URI = *s3URI
		}
	})

	if err := cfg.Simulator.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Sinks.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if interval == 0 {
		interval = cfg.Simulator.IntervalDuration()
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	lines, err := writer.NewLineWriter(stdout, cfg.Simulator.Format)
	if err != nil {
		return err
	}
	set, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer set.Close()

	m := metrics.NewMetrics()
	if cfg.MetricsAddr != "" {
		srv, err := serveMetrics(cfg.MetricsAddr, m, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// stdout first so a failing sink never hides the readings.
	all := sinks.Set{}
	all.Add("stdout", lines)
	if set.Len() > 0 {
		all.Add("sinks", set.Writer())
	}

	opts := []simulator.Option{
		simulator.WithInterval(interval),
		simulator.WithWriter(all.Writer()),
		simulator.WithMetrics(m),
		simulator.WithLogger(logger),
		simulator.WithMaxTicks(cfg.Simulator.MaxTicks),
	}
	if cfg.Simulator.Seed != 0 {
		opts = append(opts, simulator.WithSeed(cfg.Simulator.Seed))
	}

	sim, err := simulator.New(segment.Seed(), opts...)
	if err != nil {
		return err
	}

	err = sim.Run(ctx)
	logger.Info("simulator stopped", zap.Stringer("report", m.GenerateReport()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// splitInterval takes a trailing numeric argument such as "-3" out of args
// so the flag package does not read it as an undefined flag. A number that
// is the value of the preceding flag stays in place.
func splitInterval(fs *flag.FlagSet, args []string) ([]string, string, bool) {
	n := len(args)
	if n == 0 {
		return args, "", false
	}
	last := args[n-1]
	if !strings.HasPrefix(last, "-") {
		return args, "", false
	}
	if _, err := strconv.ParseFloat(last, 64); err != nil {
		return args, "", false
	}
	if n > 1 && takesValue(fs, args[n-2]) {
		return args, "", false
	}
	return args[:n-1], last, true
}

// takesValue reports whether arg is a non-boolean flag written without
// "=value".
func takesValue(fs *flag.FlagSet, arg string) bool {
	name := strings.TrimLeft(arg, "-")
	if name == arg || name == "" || strings.Contains(name, "=") {
		return false
	}
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	if b, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && b.IsBoolFlag() {
		return false
	}
	return true
}

// openSinks opens the optional AWS sinks. No AWS configuration is loaded
// when none is selected.
func openSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sinks.Set, error) {
	s := cfg.Sinks
	if s.DynamoDBTable == "" && s.KinesisStream == "" && s.S3URI == "" && s.Cluster == "" && s.PostgresDSN == "" {
		return &sinks.Set{}, nil
	}
	awsCfg, err := aws.LoadConfig(ctx, cfg.AWS.Region, cfg.AWS.Endpoint)
	if err != nil {
		return nil, err
	}
	return sinks.Open(ctx, s, aws.NewClients(awsCfg), logger)
}

func serveMetrics(addr string, m *metrics.Metrics, logger *zap.Logger) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv, nil
}
