package etl

import (
	"errors"
	"strings"
	"testing"

	"github.com/gurre/segspeed/segment"
)

func fixedID() string { return "generated" }

func csvLine(rec []string) []byte {
	return []byte(strings.Join(rec, ","))
}

func TestCSVDecoderCanonicalColumns(t *testing.T) {
	d := NewCSVDecoder()
	d.newID = fixedID

	if _, err := d.Decode(csvLine(segment.CSVHeader)); !errors.Is(err, ErrSkip) {
		t.Fatalf("expected header to be skipped, got %v", err)
	}

	want := segment.SampleReading()
	want.ID = "r-1"
	got, err := d.Decode(csvLine(want.CSVRecord()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	// hour is re-derived from the timestamp (09:00), not taken from the row
	want.Hour = 9
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestCSVDecoderLegacyHeader(t *testing.T) {
	// Files written before segment_id existed.
	header := "id,year,month,day,hour,utc_timestamp,start_junction_id,end_junction_id,osm_way_id,osm_start_node_id,osm_end_node_id,speed_mph_mean,speed_mph_stddev"
	row := ",2023,5,28,0,2023-05-28T13:45:10.000Z,j1,j2,40722998,62385707,4927951349,23.5,3.25"

	d := NewCSVDecoder()
	d.newID = fixedID
	if _, err := d.Decode([]byte(header)); !errors.Is(err, ErrSkip) {
		t.Fatalf("expected header to be skipped, got %v", err)
	}

	got, err := d.Decode([]byte(row))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != "generated" {
		t.Errorf("expected generated id, got %q", got.ID)
	}
	if got.SegmentID != "" {
		t.Errorf("expected empty segment id, got %q", got.SegmentID)
	}
	if got.Year != 2023 || got.Month != 5 || got.Day != 28 || got.Hour != 13 {
		t.Errorf("unexpected calendar %d-%d-%d %d", got.Year, got.Month, got.Day, got.Hour)
	}
	if got.OSMEndNodeID != 4927951349 || got.SpeedMphMean != 23.5 || got.SpeedMphStddev != 3.25 {
		t.Errorf("unexpected values %+v", got)
	}
}

func TestCSVDecoderReorderedHeader(t *testing.T) {
	d := NewCSVDecoder()
	header := "speed_mph_stddev,speed_mph_mean,utc_timestamp,start_junction_id,end_junction_id,osm_way_id,osm_start_node_id,osm_end_node_id,segment_id"
	if _, err := d.Decode([]byte(header)); !errors.Is(err, ErrSkip) {
		t.Fatalf("expected header to be skipped, got %v", err)
	}

	got, err := d.Decode([]byte("1.5,30,2020-01-01T23:59:59Z,a,b,1,2,3,seg"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SpeedMphStddev != 1.5 || got.SpeedMphMean != 30 || got.SegmentID != "seg" {
		t.Errorf("columns not mapped by header: %+v", got)
	}
	if got.UTCTimestamp != "2020-01-01T23:59:59.000Z" || got.Hour != 23 {
		t.Errorf("expected normalized timestamp, got %s hour %d", got.UTCTimestamp, got.Hour)
	}
}

func TestCSVDecoderHeaderMissingColumn(t *testing.T) {
	d := NewCSVDecoder()
	_, err := d.Decode([]byte("id,utc_timestamp,speed_mph_mean"))
	if err == nil || errors.Is(err, ErrSkip) || errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected a header error, got %v", err)
	}
}

func TestCSVDecoderCorruptRows(t *testing.T) {
	good := segment.SampleReading().CSVRecord()

	testCases := []struct {
		name   string
		modify func([]string) []string
	}{
		{"too few columns", func(r []string) []string { return r[:5] }},
		{"bad year", func(r []string) []string { r[2] = "twenty"; return r }},
		{"bad timestamp", func(r []string) []string { r[6] = "yesterday"; return r }},
		{"bad way id", func(r []string) []string { r[9] = "1.5"; return r }},
		{"bad speed", func(r []string) []string { r[12] = "fast"; return r }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := tc.modify(append([]string(nil), good...))
			_, err := NewCSVDecoder().Decode(csvLine(rec))
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestCSVDecoderBlankLine(t *testing.T) {
	if _, err := NewCSVDecoder().Decode([]byte("  ")); !errors.Is(err, ErrSkip) {
		t.Errorf("expected ErrSkip, got %v", err)
	}
}

func TestJSONDecoder(t *testing.T) {
	d := NewJSONDecoder()
	d.newID = fixedID

	line := `{"segment_id":"s1","year":1999,"month":1,"day":1,"hour":0,"utc_timestamp":"2020-01-01T09:00:05.000Z","start_junction_id":"a","end_junction_id":"b","osm_way_id":1,"osm_start_node_id":2,"osm_end_node_id":3,"speed_mph_mean":26.1,"speed_mph_stddev":4.4}`
	got, err := d.Decode([]byte(line))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != "generated" || got.SegmentID != "s1" {
		t.Errorf("unexpected ids %q %q", got.ID, got.SegmentID)
	}
	if got.Year != 2020 || got.Hour != 9 {
		t.Errorf("expected calendar re-derived from timestamp, got %d hour %d", got.Year, got.Hour)
	}
	if got.StartJunctionID != "a" || got.OSMEndNodeID != 3 {
		t.Errorf("topology not decoded: %+v", got.Topology)
	}

	if _, err := d.Decode([]byte("{not json")); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
	if _, err := d.Decode([]byte(`{"utc_timestamp":""}`)); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt for missing timestamp, got %v", err)
	}
}

func BenchmarkCSVDecode(b *testing.B) {
	line := csvLine(segment.SampleReading().CSVRecord())
	d := NewCSVDecoder()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = d.Decode(line)
	}
}
