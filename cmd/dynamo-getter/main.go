// Command dynamo-getter is the Lambda function behind the
// GET /dynamo-getter?id=<id> API Gateway route. It answers with the
// reading stored under id in the readings table.
//
// Configuration comes from SEGSPEED_ environment variables, e.g.
// SEGSPEED_SINKS__DYNAMODB_TABLE and SEGSPEED_AWS__ENDPOINT.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/config"
	"github.com/gurre/segspeed/logging"
	"github.com/gurre/segspeed/lookup"
)

const defaultTable = "street_segment_speeds"

func main() {
	h, err := newHandler()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(h.Handle)
}

func newHandler() (*lookup.Handler, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	table := cfg.Sinks.DynamoDBTable
	if table == "" {
		table = defaultTable
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

	return lookup.NewHandler(clients.DynamoDB, table, lookup.WithLogger(logger.Named("dynamo-getter"))), nil
}
