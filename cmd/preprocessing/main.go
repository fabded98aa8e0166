// Command preprocessing is the Lambda function attached to the readings
// Kinesis stream. It stores every reading in DynamoDB and collects them
// into CSV batch files in the raw bucket.
//
// Configuration comes from SEGSPEED_ environment variables, e.g.
// SEGSPEED_SINKS__DYNAMODB_TABLE and SEGSPEED_SINKS__S3_URI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/config"
	"github.com/gurre/segspeed/logging"
	"github.com/gurre/segspeed/partition"
	"github.com/gurre/segspeed/preprocess"
	"github.com/gurre/segspeed/writer"
)

const (
	defaultTable = "street_segment_speeds"
	defaultS3URI = "s3://raw-data/data/"
)

func main() {
	h, err := newHandler()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(h.Handle)
}

func newHandler() (*preprocess.Handler, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	if cfg.Sinks.DynamoDBTable == "" {
		cfg.Sinks.DynamoDBTable = defaultTable
	}
	if cfg.Sinks.S3URI == "" {
		cfg.Sinks.S3URI = defaultS3URI
	}
	if err := cfg.Sinks.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return nil, err
	}

	awsCfg, err := aws.LoadConfig(context.Background(), cfg.AWS.Region, cfg.AWS.Endpoint)
	if err != nil {
		return nil, err
	}
	clients := aws.NewClients(awsCfg)

	loc, err := partition.ParseS3URI(cfg.Sinks.S3URI)
	if err != nil {
		return nil, err
	}

	return preprocess.NewHandler(
		writer.NewDynamoDBWriter(clients.DynamoDB, cfg.Sinks.DynamoDBTable, writer.MaxDynamoDBBatch),
		writer.NewCSVWriter(clients.S3, loc, cfg.Sinks.CSVBatchSize),
		preprocess.WithLogger(logger.Named("preprocessing")),
	), nil
}
