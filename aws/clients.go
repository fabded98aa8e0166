package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// LoadConfig loads the default AWS configuration for region. A non-empty
// endpoint (e.g. http://localhost:4566 for LocalStack) overrides the
// endpoint of every service.
func LoadConfig(ctx context.Context, region, endpoint string) (sdkaws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return sdkaws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if endpoint != "" {
		cfg.BaseEndpoint = sdkaws.String(endpoint)
	}
	return cfg, nil
}

// Clients bundles the SDK clients built from one configuration.
type Clients struct {
	S3             *s3.Client
	DynamoDB       *dynamodb.Client
	Glue           *glue.Client
	Logs           *cloudwatchlogs.Client
	IAM            *iam.Client
	Kinesis        *kinesis.Client
	RDSData        *rdsdata.Client
	RDS            *rds.Client
	SecretsManager *secretsmanager.Client
}

// NewClients builds every client from cfg. S3 uses path-style addressing
// when a custom endpoint is set, which LocalStack requires.
func NewClients(cfg sdkaws.Config) *Clients {
	pathStyle := cfg.BaseEndpoint != nil
	return &Clients{
		S3: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = pathStyle
		}),
		DynamoDB:       dynamodb.NewFromConfig(cfg),
		Glue:           glue.NewFromConfig(cfg),
		Logs:           cloudwatchlogs.NewFromConfig(cfg),
		IAM:            iam.NewFromConfig(cfg),
		Kinesis:        kinesis.NewFromConfig(cfg),
		RDSData:        rdsdata.NewFromConfig(cfg),
		RDS:            rds.NewFromConfig(cfg),
		SecretsManager: secretsmanager.NewFromConfig(cfg),
	}
}
