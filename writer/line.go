package writer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/gurre/segspeed/segment"
)

// Line formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// UnavailableNotice is printed for a segment without data.
const UnavailableNotice = "Speed information not available for segment: %s"

// LineWriter prints one line per reading to an io.Writer, as JSON or as
// a human readable sentence.
type LineWriter struct {
	mu     sync.Mutex
	out    *bufio.Writer
	format string
}

// NewLineWriter returns a LineWriter for format (FormatJSON or FormatText).
func NewLineWriter(out io.Writer, format string) (*LineWriter, error) {
	if format != FormatJSON && format != FormatText {
		return nil, fmt.Errorf("unknown output format %q (use %s or %s)", format, FormatJSON, FormatText)
	}
	return &LineWriter{out: bufio.NewWriter(out), format: format}, nil
}

// WriteBatch writes one line per reading and flushes, so every tick is
// visible immediately.
func (w *LineWriter) WriteBatch(ctx context.Context, readings []segment.Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range readings {
		if err := w.writeLine(r); err != nil {
			return err
		}
	}
	return w.out.Flush()
}

func (w *LineWriter) writeLine(r segment.Reading) error {
	if w.format == FormatText {
		_, err := fmt.Fprintf(w.out,
			"%s segment %s (%s -> %s, way %d): %.3f mph (stddev %.3f)\n",
			r.UTCTimestamp, r.SegmentID, r.StartJunctionID, r.EndJunctionID,
			r.OSMWayID, r.SpeedMphMean, r.SpeedMphStddev)
		return err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}
	data = append(data, '\n')
	_, err = w.out.Write(data)
	return err
}

// ReportUnavailable prints the unavailable notice for segmentID.
func (w *LineWriter) ReportUnavailable(ctx context.Context, segmentID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.out, UnavailableNotice+"\n", segmentID); err != nil {
		return err
	}
	return w.out.Flush()
}

// Flush implements Writer
func (w *LineWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Flush()
}
