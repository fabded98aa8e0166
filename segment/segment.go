// Package segment defines street segments, their time-varying speed
// statistics and the reading record emitted for them. The same record is
// stored in DynamoDB, written as CSV to S3 and inserted into the
// street_segment_speeds table.
package segment

import (
	"fmt"
	"time"
)

// TimestampLayout is the layout of utc_timestamp values, millisecond
// precision with a literal Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Topology holds the static references of a segment. It never changes
// during a run.
type Topology struct {
	StartJunctionID string `json:"start_junction_id" dynamodbav:"start_junction_id"`
	EndJunctionID   string `json:"end_junction_id" dynamodbav:"end_junction_id"`
	OSMWayID        int64  `json:"osm_way_id" dynamodbav:"osm_way_id"`
	OSMStartNodeID  int64  `json:"osm_start_node_id" dynamodbav:"osm_start_node_id"`
	OSMEndNodeID    int64  `json:"osm_end_node_id" dynamodbav:"osm_end_node_id"`
}

// Segment is a street edge with static topology and evolving speed
// statistics. SpeedMean is the base mean used for every reading;
// SpeedStddev and Timestamp are overwritten on every reading.
type Segment struct {
	ID          string
	Topology    Topology
	SpeedMean   float64
	SpeedStddev float64
	Timestamp   time.Time
}

// Reading is one emitted snapshot of a segment.
type Reading struct {
	ID             string  `json:"id,omitempty" dynamodbav:"id"`
	SegmentID      string  `json:"segment_id" dynamodbav:"segment_id"`
	Year           int     `json:"year" dynamodbav:"year"`
	Month          int     `json:"month" dynamodbav:"month"`
	Day            int     `json:"day" dynamodbav:"day"`
	Hour           int     `json:"hour" dynamodbav:"hour"`
	UTCTimestamp   string  `json:"utc_timestamp" dynamodbav:"utc_timestamp"`
	Topology               // flattened into the record
	SpeedMphMean   float64 `json:"speed_mph_mean" dynamodbav:"speed_mph_mean"`
	SpeedMphStddev float64 `json:"speed_mph_stddev" dynamodbav:"speed_mph_stddev"`
}

// Calendar holds the calendar fields derived from a timestamp.
type Calendar struct {
	Year  int
	Month int
	Day   int
	Hour  int
}

// CalendarOf derives year, month, day and hour from t in UTC.
func CalendarOf(t time.Time) Calendar {
	u := t.UTC()
	return Calendar{
		Year:  u.Year(),
		Month: int(u.Month()),
		Day:   u.Day(),
		Hour:  u.Hour(),
	}
}

// FormatTimestamp renders t as a utc_timestamp value.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a utc_timestamp value. RFC 3339 values without
// millisecond precision are accepted as well.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid utc_timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// SetTimestamp sets UTCTimestamp and the derived calendar fields from t.
func (r *Reading) SetTimestamp(t time.Time) {
	c := CalendarOf(t)
	r.UTCTimestamp = FormatTimestamp(t)
	r.Year = c.Year
	r.Month = c.Month
	r.Day = c.Day
	r.Hour = c.Hour
}

// Time returns the parsed UTCTimestamp.
func (r Reading) Time() (time.Time, error) {
	return ParseTimestamp(r.UTCTimestamp)
}

// Snapshot builds a reading for s with the given speed. The stddev and
// timestamp are taken from the segment as it currently is.
func (s *Segment) Snapshot(speed float64) Reading {
	r := Reading{
		SegmentID:      s.ID,
		Topology:       s.Topology,
		SpeedMphMean:   speed,
		SpeedMphStddev: s.SpeedStddev,
	}
	r.SetTimestamp(s.Timestamp)
	return r
}
