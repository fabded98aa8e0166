package provision

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type bucketStore struct {
	buckets     []string
	constraints []s3types.BucketLocationConstraint
	objects     map[string]string
	existing    map[string]bool
	failPut     error
}

func (b *bucketStore) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	name := sdkaws.ToString(params.Bucket)
	if b.existing[name] {
		return nil, &s3types.BucketAlreadyOwnedByYou{Message: sdkaws.String("owned")}
	}
	b.buckets = append(b.buckets, name)
	var constraint s3types.BucketLocationConstraint
	if params.CreateBucketConfiguration != nil {
		constraint = params.CreateBucketConfiguration.LocationConstraint
	}
	b.constraints = append(b.constraints, constraint)
	return &s3.CreateBucketOutput{}, nil
}

func (b *bucketStore) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if b.failPut != nil {
		return nil, b.failPut
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if b.objects == nil {
		b.objects = make(map[string]string)
	}
	b.objects[sdkaws.ToString(params.Bucket)+"/"+sdkaws.ToString(params.Key)] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
		ok   bool
	}{
		{name: "empty", plan: Plan{}, ok: true},
		{name: "empty bucket name", plan: Plan{Buckets: []string{""}}},
		{name: "object without key", plan: Plan{Objects: []Object{{URI: "s3://raw-data"}}}},
		{name: "object not on s3", plan: Plan{Objects: []Object{{URI: "/tmp/x.py"}}}},
		{name: "job without role", plan: Plan{JobName: "etl", ScriptLocation: "s3://raw-data/x.py"}},
		{name: "stream without shards", plan: Plan{Stream: "readings"}},
		{name: "complete", plan: Plan{
			Buckets:        []string{"raw-data"},
			Objects:        []Object{{URI: "s3://raw-data/scripts/x.py"}},
			JobName:        "etl",
			ScriptLocation: "s3://raw-data/scripts/x.py",
			RoleARN:        "arn:aws:iam::000000000000:role/glue-role",
			Stream:         "readings",
			StreamShards:   1,
			Table:          "street_segment_speeds",
		}, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestApplyBucketsAndObjects(t *testing.T) {
	store := &bucketStore{existing: map[string]bool{"raw-data": true}}
	p := New(store, nil, nil, nil, WithRegion("eu-west-1"))

	res, err := p.Apply(context.Background(), Plan{
		Buckets: []string{"raw-data", "transformed-data"},
		Objects: []Object{{URI: "s3://raw-data/scripts/raw_data_etl.py", Body: []byte("print(1)\n")}},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if !reflect.DeepEqual(store.buckets, []string{"transformed-data"}) {
		t.Errorf("expected only transformed-data to be created, got %v", store.buckets)
	}
	if store.constraints[0] != "eu-west-1" {
		t.Errorf("expected eu-west-1 location constraint, got %q", store.constraints[0])
	}
	if got := store.objects["raw-data/scripts/raw_data_etl.py"]; got != "print(1)\n" {
		t.Errorf("unexpected script body %q", got)
	}

	wantCreated := []string{"bucket transformed-data", "object s3://raw-data/scripts/raw_data_etl.py"}
	if !reflect.DeepEqual(res.Created, wantCreated) {
		t.Errorf("expected created %v, got %v", wantCreated, res.Created)
	}
	if !reflect.DeepEqual(res.Existing, []string{"bucket raw-data"}) {
		t.Errorf("expected raw-data to exist, got %v", res.Existing)
	}
}

func TestApplyNoConstraintInUSEast1(t *testing.T) {
	store := &bucketStore{}
	if _, err := New(store, nil, nil, nil, WithRegion("us-east-1")).Apply(context.Background(), Plan{Buckets: []string{"b"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if store.constraints[0] != "" {
		t.Errorf("expected no location constraint, got %q", store.constraints[0])
	}
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	store := &bucketStore{failPut: errors.New("access denied")}
	res, err := New(store, nil, nil, nil).Apply(context.Background(), Plan{
		Buckets: []string{"raw-data"},
		Objects: []Object{{URI: "s3://raw-data/scripts/x.py"}},
		Table:   "never-reached",
	})
	if err == nil {
		t.Fatal("expected upload error")
	}
	if !reflect.DeepEqual(res.Created, []string{"bucket raw-data"}) {
		t.Errorf("expected only the bucket to be recorded, got %v", res.Created)
	}
}
