package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is an in-memory implementation of aws.S3Client and of the
// client s3streamer needs. Objects are stored under "bucket/key".
type S3Client struct {
	mu sync.RWMutex
	// Maps bucket/key to file content
	Files map[string][]byte
	// Maps bucket/key to metadata
	Metadata map[string]map[string]string
	// Maps bucket/key to ETags
	ETags map[string]*string
	// Puts records every PutObject key in call order.
	Puts []string
	// Buckets holds the names passed to CreateBucket.
	Buckets map[string]bool
}

// NewS3Client creates an empty mock S3 client.
func NewS3Client() *S3Client {
	return &S3Client{
		Files:    make(map[string][]byte),
		Metadata: make(map[string]map[string]string),
		ETags:    make(map[string]*string),
		Buckets:  make(map[string]bool),
	}
}

// AddFile stores content under bucket/key.
func (m *S3Client) AddFile(bucket, key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addFile(bucket, key, content, "text/csv")
}

func (m *S3Client) addFile(bucket, key string, content []byte, contentType string) {
	bucketKey := bucket + "/" + key
	m.Files[bucketKey] = content
	m.Metadata[bucketKey] = map[string]string{"Content-Type": contentType}
	m.ETags[bucketKey] = aws.String(fmt.Sprintf("\"%x\"", len(content)))
}

// File returns the content stored under bucket/key.
func (m *S3Client) File(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.Files[bucket+"/"+key]
	return data, ok
}

// Keys lists the keys in bucket under prefix, sorted.
func (m *S3Client) Keys(bucket, prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for bk := range m.Files {
		b, k, ok := strings.Cut(bk, "/")
		if ok && b == bucket && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *S3Client) lookup(bucket, key string) ([]byte, string, error) {
	bucketKey := bucket + "/" + key
	content, ok := m.Files[bucketKey]
	if !ok {
		return nil, bucketKey, &types.NoSuchKey{
			Message: aws.String(fmt.Sprintf("The specified key does not exist: %s", key)),
		}
	}
	return content, bucketKey, nil
}

// GetObject returns the object, honouring a "bytes=start-[end]" range.
func (m *S3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, bucketKey, err := m.lookup(aws.ToString(params.Bucket), aws.ToString(params.Key))
	if err != nil {
		return nil, err
	}

	body := content
	if start, end, ok := parseRange(aws.ToString(params.Range), int64(len(content))); ok {
		body = content[start : end+1]
	}
	contentLength := int64(len(body))

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		Metadata:      m.Metadata[bucketKey],
		ETag:          m.ETags[bucketKey],
		ContentLength: &contentLength,
	}, nil
}

// parseRange parses a single "bytes=start-end" or "bytes=start-" range.
// Unparseable or unsatisfiable ranges select the whole object.
func parseRange(header string, size int64) (int64, int64, bool) {
	rng, ok := strings.CutPrefix(header, "bytes=")
	if !ok || size == 0 {
		return 0, 0, false
	}
	from, to, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(from, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end := size - 1
	if to != "" {
		if end, err = strconv.ParseInt(to, 10, 64); err != nil || end < start {
			return 0, 0, false
		}
		end = min(end, size-1)
	}
	return start, end, true
}

// PutObject stores the body.
func (m *S3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, key := aws.ToString(params.Bucket), aws.ToString(params.Key)
	m.addFile(bucket, key, data, aws.ToString(params.ContentType))
	m.Puts = append(m.Puts, key)

	return &s3.PutObjectOutput{ETag: m.ETags[bucket+"/"+key]}, nil
}

// HeadObject returns the size and ETag of an object.
func (m *S3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, bucketKey, err := m.lookup(aws.ToString(params.Bucket), aws.ToString(params.Key))
	if err != nil {
		return nil, err
	}
	contentLength := int64(len(content))

	return &s3.HeadObjectOutput{
		ETag:          m.ETags[bucketKey],
		Metadata:      m.Metadata[bucketKey],
		ContentLength: &contentLength,
	}, nil
}

// ListObjectsV2 lists keys under the prefix in one page.
func (m *S3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	bucket := aws.ToString(params.Bucket)
	keys := m.Keys(bucket, aws.ToString(params.Prefix))

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := &s3.ListObjectsV2Output{
		Name:        params.Bucket,
		Prefix:      params.Prefix,
		KeyCount:    aws.Int32(int32(len(keys))),
		IsTruncated: aws.Bool(false),
	}
	for _, k := range keys {
		size := int64(len(m.Files[bucket+"/"+k]))
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(size),
			ETag: m.ETags[bucket+"/"+k],
		})
	}
	return out, nil
}

// CreateBucket records the bucket. A second call for the same name fails
// with BucketAlreadyOwnedByYou.
func (m *S3Client) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := aws.ToString(params.Bucket)
	if m.Buckets[name] {
		return nil, &types.BucketAlreadyOwnedByYou{Message: aws.String("Your previous request to create the named bucket succeeded and you already own it.")}
	}
	m.Buckets[name] = true
	return &s3.CreateBucketOutput{Location: aws.String("/" + name)}, nil
}

// CreateMultipartUpload is a stub implementation for the s3streamer.S3Client interface
func (m *S3Client) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, fmt.Errorf("CreateMultipartUpload not implemented in mock")
}

// UploadPart is a stub implementation for the s3streamer.S3Client interface
func (m *S3Client) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, fmt.Errorf("UploadPart not implemented in mock")
}

// CompleteMultipartUpload is a stub implementation for the s3streamer.S3Client interface
func (m *S3Client) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, fmt.Errorf("CompleteMultipartUpload not implemented in mock")
}

// AbortMultipartUpload is a stub implementation for the s3streamer.S3Client interface
func (m *S3Client) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, fmt.Errorf("AbortMultipartUpload not implemented in mock")
}
