// Package checkpoint persists the progress of an ETL run so an
// interrupted transform can resume where it stopped instead of
// re-reading every source file.
package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	json "github.com/goccy/go-json"
	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/partition"
)

// CompletedOffset marks LastFile as fully processed. It differs from 0,
// which means "start of file".
const CompletedOffset = int64(-1)

// State is the progress of one ETL job.
// Example:
//
//	state, err := store.Load(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("resuming %s at offset %d\n", state.LastFile, state.LastByteOffset)
type State struct {
	JobName        string `json:"jobName"`        // Job the progress belongs to
	LastFile       string `json:"lastFile"`       // Source key processed last
	LastByteOffset int64  `json:"lastByteOffset"` // Position within LastFile, or CompletedOffset
}

// Completed reports whether key is at or before the last fully processed
// file. Source files are processed in key order.
func (s State) Completed(key string) bool {
	if s.LastFile == "" {
		return false
	}
	if key < s.LastFile {
		return true
	}
	return key == s.LastFile && s.LastByteOffset == CompletedOffset
}

// ResumeOffset returns where processing of key should start.
func (s State) ResumeOffset(key string) int64 {
	if key != s.LastFile || s.LastByteOffset == CompletedOffset {
		return 0
	}
	return s.LastByteOffset
}

// Store loads and saves State.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

// Open picks a store for uri: s3:// URIs use S3, file:// URIs and plain
// paths use the local filesystem and an empty uri keeps state in memory.
func Open(client aws.S3Client, uri string) (Store, error) {
	switch {
	case uri == "":
		return NewMemoryStore(), nil
	case strings.HasPrefix(uri, "s3://"):
		return NewS3Store(client, uri)
	case strings.HasPrefix(uri, "file://"):
		return NewFileStore(uri)
	default:
		abs, err := filepath.Abs(uri)
		if err != nil {
			return nil, fmt.Errorf("invalid checkpoint path: %w", err)
		}
		return NewFileStore("file://" + filepath.ToSlash(abs))
	}
}

// S3Store keeps the checkpoint in one S3 object.
type S3Store struct {
	client aws.S3Client
	loc    partition.Location
}

// NewS3Store creates a store for the object at uri (s3://bucket/key).
func NewS3Store(client aws.S3Client, uri string) (*S3Store, error) {
	loc, err := partition.ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	if loc.Key == "" || strings.HasSuffix(loc.Key, "/") {
		return nil, fmt.Errorf("checkpoint URI must name an object: %s", uri)
	}
	return &S3Store{client: client, loc: loc}, nil
}

// Load returns the saved state, or an empty state when nothing was saved.
func (s *S3Store) Load(ctx context.Context) (State, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: sdkaws.String(s.loc.Bucket),
		Key:    sdkaws.String(s.loc.Key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return State{}, nil
		}
		// Some S3-compatible stores answer NotFound instead.
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to get checkpoint %s: %w", s.loc, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var state State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return State{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return state, nil
}

// Save overwrites the checkpoint object.
func (s *S3Store) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      sdkaws.String(s.loc.Bucket),
		Key:         sdkaws.String(s.loc.Key),
		Body:        bytes.NewReader(data),
		ContentType: sdkaws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", s.loc, err)
	}
	return nil
}

// FileStore keeps the checkpoint in a local JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a store for a file:// URI. The path must be
// absolute; its directory is created if missing.
func NewFileStore(uri string) (*FileStore, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid file URI: %w", err)
	}
	if u.Scheme != "file" {
		return nil, fmt.Errorf("invalid file URI scheme: %s", u.Scheme)
	}

	cleanPath := filepath.Clean(u.Path)
	if !filepath.IsAbs(cleanPath) {
		return nil, fmt.Errorf("checkpoint path must be absolute: %s", cleanPath)
	}
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &FileStore{path: cleanPath}, nil
}

// Load returns the saved state, or an empty state when the file does not
// exist.
func (f *FileStore) Load(ctx context.Context) (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return state, nil
}

// Save writes the state to a temporary file and renames it into place.
func (f *FileStore) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}
