// Package partition handles S3 locations of reading files: parsing
// s3:// URIs, building Hive style year=/month=/day= prefixes and listing
// the CSV objects under a prefix.
package partition

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3URIPattern is compiled once at package level to avoid recompilation per call.
var s3URIPattern = regexp.MustCompile(`^s3://([^/]+)/?(.*)$`)

// Location is a bucket and key (or key prefix).
type Location struct {
	Bucket string
	Key    string
}

// ParseS3URI splits s3://bucket/key into its parts. The key may be empty.
func ParseS3URI(uri string) (Location, error) {
	matches := s3URIPattern.FindStringSubmatch(uri)
	if len(matches) != 3 {
		return Location{}, fmt.Errorf("invalid S3 URI format: %s (must be s3://bucket/key)", uri)
	}
	return Location{Bucket: matches[1], Key: matches[2]}, nil
}

// String renders the location as an s3:// URI.
func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// Join appends elem to the key, inserting a slash when needed.
func (l Location) Join(elem string) Location {
	key := l.Key
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return Location{Bucket: l.Bucket, Key: key + strings.TrimPrefix(elem, "/")}
}

// Path returns the day partition prefix for t, e.g.
// "year=2023/month=05/day=28/".
func Path(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("year=%04d/month=%02d/day=%02d/", u.Year(), int(u.Month()), u.Day())
}

// BatchKey names a batch file covering the ids first..last.
func BatchKey(t time.Time, first, last string) string {
	return Path(t) + fmt.Sprintf("batch-from-%s-to-%s.csv", first, last)
}

// Object is one listed data file.
type Object struct {
	Key  string
	Size int64
}

// Lister lists objects under a prefix.
type Lister interface {
	List(ctx context.Context, loc Location) ([]Object, error)
}

// S3Lister lists objects with ListObjectsV2.
type S3Lister struct {
	client s3.ListObjectsV2APIClient
	suffix string
}

// NewS3Lister returns a lister that keeps keys ending in suffix (e.g.
// ".csv"); an empty suffix keeps everything.
func NewS3Lister(client s3.ListObjectsV2APIClient, suffix string) *S3Lister {
	return &S3Lister{client: client, suffix: suffix}
}

// List returns every matching object under loc, sorted by key so a
// checkpointed run can skip files it already finished.
func (l *S3Lister) List(ctx context.Context, loc Location) ([]Object, error) {
	p := s3.NewListObjectsV2Paginator(l.client, &s3.ListObjectsV2Input{
		Bucket: sdkaws.String(loc.Bucket),
		Prefix: sdkaws.String(loc.Key),
	})

	var objects []Object
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", loc.Bucket, loc.Key, err)
		}
		for _, obj := range page.Contents {
			key := sdkaws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") || !strings.HasSuffix(key, l.suffix) {
				continue
			}
			objects = append(objects, Object{Key: key, Size: sdkaws.ToInt64(obj.Size)})
		}
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}
