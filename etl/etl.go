// Package etl decodes raw reading files into clean segment readings. It
// casts every column to its type, re-derives the calendar columns from
// utc_timestamp and assigns ids to readings that lack one.
package etl

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gurre/segspeed/segment"
)

// ErrCorrupt is returned for a line that cannot be decoded. Callers count
// and skip such lines.
var ErrCorrupt = errors.New("corrupt line")

// ErrSkip is returned for lines that carry no reading, such as a header
// row or a blank line.
var ErrSkip = errors.New("skip line")

// Decoder turns one line into a reading.
type Decoder interface {
	Decode(line []byte) (segment.Reading, error)
}

// required lists the columns a CSV header must contain. The calendar
// columns are derived and may be absent, as may id and segment_id.
var required = []string{
	"utc_timestamp",
	"start_junction_id", "end_junction_id",
	"osm_way_id", "osm_start_node_id", "osm_end_node_id",
	"speed_mph_mean", "speed_mph_stddev",
}

// CSVDecoder decodes CSV rows. Columns are matched by the file's header
// row; until a header is seen the segment.CSVHeader order is assumed. A
// CSVDecoder holds per-file state and must not be shared between files.
type CSVDecoder struct {
	index map[string]int // column name -> position in the row
	width int
	newID func() string
}

// NewCSVDecoder returns a decoder expecting segment.CSVHeader columns.
func NewCSVDecoder() *CSVDecoder {
	d := &CSVDecoder{newID: uuid.NewString}
	d.setColumns(segment.CSVHeader)
	return d
}

func (d *CSVDecoder) setColumns(cols []string) {
	d.index = make(map[string]int, len(cols))
	for i, c := range cols {
		d.index[strings.TrimSpace(c)] = i
	}
	d.width = len(cols)
}

// Decode implements Decoder.
func (d *CSVDecoder) Decode(line []byte) (segment.Reading, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return segment.Reading{}, ErrSkip
	}

	rec, err := csv.NewReader(bytes.NewReader(line)).Read()
	if err != nil {
		return segment.Reading{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if isHeader(rec) {
		for _, col := range required {
			if !contains(rec, col) {
				return segment.Reading{}, fmt.Errorf("header is missing column %s", col)
			}
		}
		d.setColumns(rec)
		return segment.Reading{}, ErrSkip
	}

	if len(rec) != d.width {
		return segment.Reading{}, fmt.Errorf("%w: expected %d columns, got %d", ErrCorrupt, d.width, len(rec))
	}

	// Rearrange into canonical order so segment.ParseCSVRecord can cast it.
	canonical := make([]string, len(segment.CSVHeader))
	for i, col := range segment.CSVHeader {
		if pos, ok := d.index[col]; ok {
			canonical[i] = rec[pos]
		} else if i >= 2 && i <= 5 {
			canonical[i] = "0" // calendar columns, re-derived below
		}
	}

	r, err := segment.ParseCSVRecord(canonical)
	if err != nil {
		return segment.Reading{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := normalize(&r, d.newID); err != nil {
		return segment.Reading{}, err
	}
	return r, nil
}

// JSONDecoder decodes one JSON reading per line, the format readings
// travel in on the Kinesis stream.
type JSONDecoder struct {
	newID func() string
}

// NewJSONDecoder returns a JSONDecoder.
func NewJSONDecoder() *JSONDecoder {
	return &JSONDecoder{newID: uuid.NewString}
}

// Decode implements Decoder.
func (d *JSONDecoder) Decode(line []byte) (segment.Reading, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return segment.Reading{}, ErrSkip
	}

	var r segment.Reading
	if err := json.Unmarshal(line, &r); err != nil {
		return segment.Reading{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := normalize(&r, d.newID); err != nil {
		return segment.Reading{}, err
	}
	return r, nil
}

// normalize re-derives the calendar columns and fills in a missing id.
func normalize(r *segment.Reading, newID func() string) error {
	ts, err := segment.ParseTimestamp(r.UTCTimestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	r.SetTimestamp(ts)
	if r.ID == "" {
		r.ID = newID()
	}
	return nil
}

func isHeader(rec []string) bool {
	return contains(rec, "utc_timestamp") && contains(rec, "speed_mph_mean")
}

func contains(rec []string, col string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) == col {
			return true
		}
	}
	return false
}
