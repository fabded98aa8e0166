package writer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/gurre/segspeed/segment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgConn is the part of a pgx connection or pool the writer uses.
// *pgxpool.Pool and *pgx.Conn both satisfy it.
type PgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresWriter inserts readings over a direct PostgreSQL connection.
type PostgresWriter struct {
	conn   PgConn
	table  string
	insert string
}

// NewPostgresWriter creates a PostgresWriter inserting into table.
func NewPostgresWriter(conn PgConn, table string) *PostgresWriter {
	return &PostgresWriter{
		conn:   conn,
		table:  table,
		insert: insertSQL(table, func(i int, _ string) string { return fmt.Sprintf("$%d", i+1) }),
	}
}

// EnsureTable creates the readings table if it does not exist.
func (w *PostgresWriter) EnsureTable(ctx context.Context) error {
	if _, err := w.conn.Exec(ctx, CreateTableSQL(w.table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", w.table, err)
	}
	return nil
}

// WriteBatch queues one INSERT per reading and sends them as a batch.
func (w *PostgresWriter) WriteBatch(ctx context.Context, readings []segment.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, r := range readings {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		b.Queue(w.insert, sqlValues(r)...)
	}

	results := w.conn.SendBatch(ctx, b)
	defer results.Close()

	for range readings {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert reading into %s: %w", w.table, err)
		}
	}
	return results.Close()
}

// Flush is a no-op.
func (w *PostgresWriter) Flush(ctx context.Context) error {
	return nil
}
