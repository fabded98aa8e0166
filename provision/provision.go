// Package provision creates the AWS resources the pipeline runs on: the
// buckets, the ETL script object, the Glue job, the readings stream and
// the readings table. Every step accepts a resource that already exists,
// so provisioning a LocalStack environment can be repeated.
package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/jobs"
	"github.com/gurre/segspeed/logging"
	"github.com/gurre/segspeed/partition"
	"github.com/gurre/segspeed/writer"
	"go.uber.org/zap"
)

// DefaultMaxWait bounds the wait for the table and the stream to become
// active.
const DefaultMaxWait = 5 * time.Minute

// Object is a file uploaded during provisioning.
type Object struct {
	URI         string // s3://bucket/key
	Body        []byte
	ContentType string
}

// Plan lists the resources to create. Empty names skip their step.
type Plan struct {
	Buckets        []string
	Objects        []Object
	JobName        string
	ScriptLocation string
	RoleARN        string
	Stream         string
	StreamShards   int32
	Table          string
}

// Validate checks that every named resource is complete.
func (p *Plan) Validate() error {
	for _, b := range p.Buckets {
		if b == "" {
			return fmt.Errorf("bucket name must not be empty")
		}
	}
	for _, o := range p.Objects {
		loc, err := partition.ParseS3URI(o.URI)
		if err != nil {
			return fmt.Errorf("object: %w", err)
		}
		if loc.Key == "" {
			return fmt.Errorf("object %s has no key", o.URI)
		}
	}
	if p.JobName != "" && (p.ScriptLocation == "" || p.RoleARN == "") {
		return fmt.Errorf("job %s needs a script location and a role", p.JobName)
	}
	if p.Stream != "" && p.StreamShards < 1 {
		return fmt.Errorf("stream %s needs at least one shard", p.Stream)
	}
	return nil
}

// Result names the resources by what happened to them, e.g.
// "bucket raw-data" or "table street_segment_speeds".
type Result struct {
	Created  []string
	Existing []string
}

func (r *Result) record(created bool, kind, name string) {
	entry := kind + " " + name
	if created {
		r.Created = append(r.Created, entry)
		return
	}
	r.Existing = append(r.Existing, entry)
}

// S3Client creates buckets and uploads objects.
type S3Client interface {
	aws.S3BucketClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Provisioner applies a Plan.
type Provisioner struct {
	s3      S3Client
	tables  aws.DynamoDBTableClient
	streams aws.KinesisStreamClient
	jobs    *jobs.Controller
	region  string
	maxWait time.Duration
	logger  *zap.Logger
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provisioner) { p.logger = logging.OrNop(l) }
}

// WithRegion sets the bucket location constraint. us-east-1 and the empty
// region need none.
func WithRegion(region string) Option {
	return func(p *Provisioner) { p.region = region }
}

// WithMaxWait bounds the wait for the table and the stream.
func WithMaxWait(d time.Duration) Option {
	return func(p *Provisioner) { p.maxWait = d }
}

// New returns a Provisioner. The Glue job is created through ctl.
func New(s3Client S3Client, tables aws.DynamoDBTableClient, streams aws.KinesisStreamClient, ctl *jobs.Controller, opts ...Option) *Provisioner {
	p := &Provisioner{
		s3:      s3Client,
		tables:  tables,
		streams: streams,
		jobs:    ctl,
		maxWait: DefaultMaxWait,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply creates the resources in plan in dependency order: buckets, then
// the objects in them, the job whose script was just uploaded, the stream
// and the table. It stops at the first failure; the result lists what was
// done up to then.
func (p *Provisioner) Apply(ctx context.Context, plan Plan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	res := &Result{}

	for _, b := range plan.Buckets {
		created, err := p.createBucket(ctx, b)
		if err != nil {
			return res, err
		}
		res.record(created, "bucket", b)
	}

	for _, o := range plan.Objects {
		if err := p.upload(ctx, o); err != nil {
			return res, err
		}
		res.record(true, "object", o.URI)
	}

	if plan.JobName != "" {
		created, err := p.createJob(ctx, plan)
		if err != nil {
			return res, err
		}
		res.record(created, "job", plan.JobName)
	}

	if plan.Stream != "" {
		created, err := p.createStream(ctx, plan.Stream, plan.StreamShards)
		if err != nil {
			return res, err
		}
		res.record(created, "stream", plan.Stream)
	}

	if plan.Table != "" {
		created, err := writer.CreateTable(ctx, p.tables, plan.Table, p.maxWait)
		if err != nil {
			return res, err
		}
		p.logger.Info("table ready", zap.String("table", plan.Table), zap.Bool("created", created))
		res.record(created, "table", plan.Table)
	}

	return res, nil
}

func (p *Provisioner) createBucket(ctx context.Context, name string) (bool, error) {
	input := &s3.CreateBucketInput{Bucket: sdkaws.String(name)}
	if p.region != "" && p.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.region),
		}
	}

	_, err := p.s3.CreateBucket(ctx, input)
	var owned *s3types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		p.logger.Debug("bucket exists", zap.String("bucket", name))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create bucket %s: %w", name, err)
	}
	p.logger.Info("bucket created", zap.String("bucket", name))
	return true, nil
}

func (p *Provisioner) upload(ctx context.Context, o Object) error {
	loc, err := partition.ParseS3URI(o.URI)
	if err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket: sdkaws.String(loc.Bucket),
		Key:    sdkaws.String(loc.Key),
		Body:   bytes.NewReader(o.Body),
	}
	if o.ContentType != "" {
		input.ContentType = sdkaws.String(o.ContentType)
	}
	if _, err := p.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %s: %w", o.URI, err)
	}
	p.logger.Info("object uploaded", zap.String("uri", o.URI), zap.Int("bytes", len(o.Body)))
	return nil
}

func (p *Provisioner) createJob(ctx context.Context, plan Plan) (bool, error) {
	_, err := p.jobs.Create(ctx, plan.JobName, plan.ScriptLocation, plan.RoleARN)
	var exists *gluetypes.AlreadyExistsException
	if errors.As(err, &exists) {
		p.logger.Debug("job exists", zap.String("job", plan.JobName))
		return false, nil
	}
	return err == nil, err
}

func (p *Provisioner) createStream(ctx context.Context, name string, shards int32) (bool, error) {
	created := true
	_, err := p.streams.CreateStream(ctx, &kinesis.CreateStreamInput{
		StreamName: sdkaws.String(name),
		ShardCount: sdkaws.Int32(shards),
	})
	var inUse *kinesistypes.ResourceInUseException
	switch {
	case errors.As(err, &inUse):
		created = false
	case err != nil:
		return false, fmt.Errorf("failed to create stream %s: %w", name, err)
	}

	waiter := kinesis.NewStreamExistsWaiter(p.streams)
	if err := waiter.Wait(ctx, &kinesis.DescribeStreamInput{
		StreamName: sdkaws.String(name),
	}, p.maxWait); err != nil {
		return created, fmt.Errorf("failed to wait for stream %s: %w", name, err)
	}
	p.logger.Info("stream ready", zap.String("stream", name), zap.Bool("created", created))
	return created, nil
}
