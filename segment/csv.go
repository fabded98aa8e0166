package segment

import (
	"fmt"
	"strconv"
)

// CSVHeader is the column order used for every CSV file of readings.
var CSVHeader = []string{
	"id", "segment_id", "year", "month", "day", "hour", "utc_timestamp",
	"start_junction_id", "end_junction_id", "osm_way_id",
	"osm_start_node_id", "osm_end_node_id", "speed_mph_mean", "speed_mph_stddev",
}

// CSVRecord renders r in CSVHeader order.
func (r Reading) CSVRecord() []string {
	return []string{
		r.ID,
		r.SegmentID,
		strconv.Itoa(r.Year),
		strconv.Itoa(r.Month),
		strconv.Itoa(r.Day),
		strconv.Itoa(r.Hour),
		r.UTCTimestamp,
		r.StartJunctionID,
		r.EndJunctionID,
		strconv.FormatInt(r.OSMWayID, 10),
		strconv.FormatInt(r.OSMStartNodeID, 10),
		strconv.FormatInt(r.OSMEndNodeID, 10),
		strconv.FormatFloat(r.SpeedMphMean, 'f', -1, 64),
		strconv.FormatFloat(r.SpeedMphStddev, 'f', -1, 64),
	}
}

// IsCSVHeader reports whether rec is the header row.
func IsCSVHeader(rec []string) bool {
	return len(rec) > 0 && rec[0] == CSVHeader[0] && (len(rec) < 2 || rec[1] == CSVHeader[1])
}

// ParseCSVRecord casts a CSVHeader ordered row into a Reading. Empty
// numeric cells are rejected.
func ParseCSVRecord(rec []string) (Reading, error) {
	if len(rec) != len(CSVHeader) {
		return Reading{}, fmt.Errorf("expected %d columns, got %d", len(CSVHeader), len(rec))
	}

	var (
		r   Reading
		err error
	)
	r.ID = rec[0]
	r.SegmentID = rec[1]
	if r.Year, err = atoi(rec, 2); err != nil {
		return Reading{}, err
	}
	if r.Month, err = atoi(rec, 3); err != nil {
		return Reading{}, err
	}
	if r.Day, err = atoi(rec, 4); err != nil {
		return Reading{}, err
	}
	if r.Hour, err = atoi(rec, 5); err != nil {
		return Reading{}, err
	}
	r.UTCTimestamp = rec[6]
	r.StartJunctionID = rec[7]
	r.EndJunctionID = rec[8]
	if r.OSMWayID, err = parseInt64(rec, 9); err != nil {
		return Reading{}, err
	}
	if r.OSMStartNodeID, err = parseInt64(rec, 10); err != nil {
		return Reading{}, err
	}
	if r.OSMEndNodeID, err = parseInt64(rec, 11); err != nil {
		return Reading{}, err
	}
	if r.SpeedMphMean, err = parseFloat(rec, 12); err != nil {
		return Reading{}, err
	}
	if r.SpeedMphStddev, err = parseFloat(rec, 13); err != nil {
		return Reading{}, err
	}
	return r, nil
}

func atoi(rec []string, i int) (int, error) {
	v, err := strconv.Atoi(rec[i])
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", CSVHeader[i], err)
	}
	return v, nil
}

func parseInt64(rec []string, i int) (int64, error) {
	v, err := strconv.ParseInt(rec[i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", CSVHeader[i], err)
	}
	return v, nil
}

func parseFloat(rec []string, i int) (float64, error) {
	v, err := strconv.ParseFloat(rec[i], 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", CSVHeader[i], err)
	}
	return v, nil
}
