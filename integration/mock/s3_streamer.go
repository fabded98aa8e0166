package mock

import (
	"bytes"
	"context"
	"fmt"
)

// Stream is a line streamer over the stored objects. The offset handed to
// fn is the byte position just past the line, so passing it back as
// offset resumes with the next line.
func (m *S3Client) Stream(ctx context.Context, bucket, key string, offset int64, fn func([]byte, int64) error) error {
	content, ok := m.File(bucket, key)
	if !ok {
		return fmt.Errorf("mock S3: key not found: %s/%s", bucket, key)
	}
	if offset < 0 || offset > int64(len(content)) {
		return fmt.Errorf("mock S3: offset %d outside %s/%s", offset, bucket, key)
	}

	rest := content[offset:]
	pos := offset
	for len(rest) > 0 {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i+1]
		}
		rest = rest[len(line):]
		pos += int64(len(line))

		if err := fn(bytes.TrimRight(line, "\r\n"), pos); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}
