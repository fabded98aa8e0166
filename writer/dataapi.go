package writer

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/google/uuid"
	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/segment"
)

// DataAPITarget identifies an Aurora cluster reachable through the RDS
// Data API.
type DataAPITarget struct {
	ClusterARN string
	SecretARN  string
	Database   string
}

// Validate checks that every field is set.
func (t DataAPITarget) Validate() error {
	if t.ClusterARN == "" {
		return fmt.Errorf("cluster ARN is required")
	}
	if t.SecretARN == "" {
		return fmt.Errorf("secret ARN is required")
	}
	if t.Database == "" {
		return fmt.Errorf("database is required")
	}
	return nil
}

// ResolveDataAPITarget looks up the ARN of cluster and of the secret
// holding its credentials.
func ResolveDataAPITarget(ctx context.Context, rdsClient aws.RDSClient, secrets aws.SecretsClient, cluster, secret, database string) (DataAPITarget, error) {
	out, err := rdsClient.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
		DBClusterIdentifier: sdkaws.String(cluster),
	})
	if err != nil {
		return DataAPITarget{}, fmt.Errorf("failed to describe cluster %s: %w", cluster, err)
	}
	if len(out.DBClusters) == 0 {
		return DataAPITarget{}, fmt.Errorf("cluster %s not found", cluster)
	}

	sec, err := secrets.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: sdkaws.String(secret),
	})
	if err != nil {
		return DataAPITarget{}, fmt.Errorf("failed to describe secret %s: %w", secret, err)
	}

	t := DataAPITarget{
		ClusterARN: sdkaws.ToString(out.DBClusters[0].DBClusterArn),
		SecretARN:  sdkaws.ToString(sec.ARN),
		Database:   database,
	}
	return t, t.Validate()
}

// DataAPIWriter inserts readings through BatchExecuteStatement.
type DataAPIWriter struct {
	client aws.RDSDataClient
	target DataAPITarget
	table  string
	insert string
}

// NewDataAPIWriter creates a DataAPIWriter inserting into table.
func NewDataAPIWriter(client aws.RDSDataClient, target DataAPITarget, table string) *DataAPIWriter {
	return &DataAPIWriter{
		client: client,
		target: target,
		table:  table,
		insert: insertSQL(table, func(_ int, col string) string { return ":" + col }),
	}
}

// EnsureTable creates the readings table if it does not exist.
func (w *DataAPIWriter) EnsureTable(ctx context.Context) error {
	_, err := w.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
		ResourceArn: sdkaws.String(w.target.ClusterARN),
		SecretArn:   sdkaws.String(w.target.SecretARN),
		Database:    sdkaws.String(w.target.Database),
		Sql:         sdkaws.String(CreateTableSQL(w.table)),
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", w.table, err)
	}
	return nil
}

// WriteBatch inserts readings in one request.
func (w *DataAPIWriter) WriteBatch(ctx context.Context, readings []segment.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	sets := make([][]types.SqlParameter, 0, len(readings))
	for _, r := range readings {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		sets = append(sets, sqlParameters(r))
	}

	_, err := w.client.BatchExecuteStatement(ctx, &rdsdata.BatchExecuteStatementInput{
		ResourceArn:   sdkaws.String(w.target.ClusterARN),
		SecretArn:     sdkaws.String(w.target.SecretARN),
		Database:      sdkaws.String(w.target.Database),
		Sql:           sdkaws.String(w.insert),
		ParameterSets: sets,
	})
	if err != nil {
		return fmt.Errorf("failed to insert %d readings into %s: %w", len(readings), w.table, err)
	}
	return nil
}

// Flush is a no-op.
func (w *DataAPIWriter) Flush(ctx context.Context) error {
	return nil
}

func sqlParameters(r segment.Reading) []types.SqlParameter {
	values := sqlValues(r)
	params := make([]types.SqlParameter, len(sqlColumns))
	for i, col := range sqlColumns {
		var field types.Field
		switch v := values[i].(type) {
		case string:
			field = &types.FieldMemberStringValue{Value: v}
		case int:
			field = &types.FieldMemberLongValue{Value: int64(v)}
		case int64:
			field = &types.FieldMemberLongValue{Value: v}
		case float64:
			field = &types.FieldMemberDoubleValue{Value: v}
		default:
			field = &types.FieldMemberIsNull{Value: true}
		}
		params[i] = types.SqlParameter{Name: sdkaws.String(col), Value: field}
	}
	return params
}
