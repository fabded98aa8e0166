package writer

import (
	"fmt"
	"strings"

	"github.com/gurre/segspeed/segment"
)

// DefaultTableName is the table readings land in, in DynamoDB and in SQL.
const DefaultTableName = "street_segment_speeds"

// sqlColumns is the insert column order; it matches segment.CSVHeader.
var sqlColumns = segment.CSVHeader

// CreateTableSQL returns the DDL for the readings table.
func CreateTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(64) PRIMARY KEY,
	segment_id VARCHAR(200),
	year INT,
	month INT,
	day INT,
	hour INT,
	utc_timestamp VARCHAR(100),
	start_junction_id VARCHAR(200),
	end_junction_id VARCHAR(200),
	osm_way_id BIGINT,
	osm_start_node_id BIGINT,
	osm_end_node_id BIGINT,
	speed_mph_mean FLOAT,
	speed_mph_stddev FLOAT
)`, table)
}

// insertSQL builds a parameterized INSERT using placeholder(i) for the
// i-th column (0-based).
func insertSQL(table string, placeholder func(i int, col string) string) string {
	ph := make([]string, len(sqlColumns))
	for i, col := range sqlColumns {
		ph[i] = placeholder(i, col)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(sqlColumns, ", "), strings.Join(ph, ", "))
}

// sqlValues returns the reading's values in sqlColumns order.
func sqlValues(r segment.Reading) []any {
	return []any{
		r.ID,
		r.SegmentID,
		r.Year,
		r.Month,
		r.Day,
		r.Hour,
		r.UTCTimestamp,
		r.StartJunctionID,
		r.EndJunctionID,
		r.OSMWayID,
		r.OSMStartNodeID,
		r.OSMEndNodeID,
		r.SpeedMphMean,
		r.SpeedMphStddev,
	}
}
