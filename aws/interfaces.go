// Package aws declares the narrow AWS service interfaces the pipeline
// depends on and builds SDK clients for them. Every interface is
// satisfied by the corresponding aws-sdk-go-v2 client and by the fakes in
// integration/mock.
package aws

import (
	"context"

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

// S3Client covers object reads, writes and prefix listing.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3BucketClient creates buckets.
type S3BucketClient interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// DynamoDBClient covers batch writes of readings.
type DynamoDBClient interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoDBReader looks up single items.
type DynamoDBReader interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoDBTableClient covers table provisioning.
type DynamoDBTableClient interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// GlueClient covers the job lifecycle.
type GlueClient interface {
	CreateJob(ctx context.Context, params *glue.CreateJobInput, optFns ...func(*glue.Options)) (*glue.CreateJobOutput, error)
	StartJobRun(ctx context.Context, params *glue.StartJobRunInput, optFns ...func(*glue.Options)) (*glue.StartJobRunOutput, error)
	BatchStopJobRun(ctx context.Context, params *glue.BatchStopJobRunInput, optFns ...func(*glue.Options)) (*glue.BatchStopJobRunOutput, error)
	GetJobRun(ctx context.Context, params *glue.GetJobRunInput, optFns ...func(*glue.Options)) (*glue.GetJobRunOutput, error)
}

// LogsClient reads job run output from CloudWatch Logs.
type LogsClient interface {
	GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// IAMClient resolves role ARNs.
type IAMClient interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
}

// KinesisClient puts readings on a stream.
type KinesisClient interface {
	PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
}

// KinesisStreamClient creates streams and waits for them to become active.
type KinesisStreamClient interface {
	CreateStream(ctx context.Context, params *kinesis.CreateStreamInput, optFns ...func(*kinesis.Options)) (*kinesis.CreateStreamOutput, error)
	DescribeStream(ctx context.Context, params *kinesis.DescribeStreamInput, optFns ...func(*kinesis.Options)) (*kinesis.DescribeStreamOutput, error)
}

// RDSDataClient runs statements through the RDS Data API.
type RDSDataClient interface {
	ExecuteStatement(ctx context.Context, params *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
	BatchExecuteStatement(ctx context.Context, params *rdsdata.BatchExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.BatchExecuteStatementOutput, error)
}

// RDSClient looks up database clusters.
type RDSClient interface {
	DescribeDBClusters(ctx context.Context, params *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
}

// SecretsClient looks up secrets.
type SecretsClient interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// Compile-time checks that the SDK clients satisfy the interfaces
var (
	_ S3Client            = (*s3.Client)(nil)
	_ S3BucketClient      = (*s3.Client)(nil)
	_ DynamoDBClient      = (*dynamodb.Client)(nil)
	_ DynamoDBReader      = (*dynamodb.Client)(nil)
	_ DynamoDBTableClient = (*dynamodb.Client)(nil)
	_ GlueClient          = (*glue.Client)(nil)
	_ LogsClient          = (*cloudwatchlogs.Client)(nil)
	_ IAMClient           = (*iam.Client)(nil)
	_ KinesisClient       = (*kinesis.Client)(nil)
	_ KinesisStreamClient = (*kinesis.Client)(nil)
	_ RDSDataClient       = (*rdsdata.Client)(nil)
	_ RDSClient           = (*rds.Client)(nil)
	_ SecretsClient       = (*secretsmanager.Client)(nil)
)
