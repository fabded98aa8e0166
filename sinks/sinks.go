// Package sinks opens the writers selected by a config.Sinks section.
package sinks

import (
	"context"
	"fmt"

	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/config"
	"github.com/gurre/segspeed/partition"
	"github.com/gurre/segspeed/writer"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Set holds the opened writers and whatever must be closed with them.
type Set struct {
	writers []writer.Writer
	names   []string
	closers []func()
}

// Open builds a writer for every configured sink. Relational sinks get
// their table created when missing.
func Open(ctx context.Context, cfg config.Sinks, clients *aws.Clients, logger *zap.Logger) (*Set, error) {
	s := &Set{}

	if cfg.DynamoDBTable != "" {
		s.Add("dynamodb", writer.NewDynamoDBWriter(clients.DynamoDB, cfg.DynamoDBTable, writer.MaxDynamoDBBatch))
	}
	if cfg.KinesisStream != "" {
		s.Add("kinesis", writer.NewKinesisWriter(clients.Kinesis, cfg.KinesisStream))
	}
	if cfg.S3URI != "" {
		loc, err := partition.ParseS3URI(cfg.S3URI)
		if err != nil {
			return nil, err
		}
		s.Add("s3", writer.NewCSVWriter(clients.S3, loc, cfg.CSVBatchSize))
	}

	if cfg.Cluster != "" {
		target, err := writer.ResolveDataAPITarget(ctx, clients.RDS, clients.SecretsManager, cfg.Cluster, cfg.Secret, cfg.Database)
		if err != nil {
			return nil, err
		}
		w := writer.NewDataAPIWriter(clients.RDSData, target, cfg.Table)
		if err := w.EnsureTable(ctx); err != nil {
			return nil, err
		}
		s.Add("data-api", w)
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		w := writer.NewPostgresWriter(pool, cfg.Table)
		if err := w.EnsureTable(ctx); err != nil {
			s.Close()
			return nil, err
		}
		s.Add("postgres", w)
	}

	if logger != nil {
		logger.Debug("sinks opened", zap.Strings("sinks", s.names))
	}
	return s, nil
}

// Add appends a writer under name. Writers opened elsewhere, e.g. stdout,
// join the set the same way.
func (s *Set) Add(name string, w writer.Writer) {
	s.names = append(s.names, name)
	s.writers = append(s.writers, w)
}

// Names lists the opened sinks in the order they are written to.
func (s *Set) Names() []string {
	return s.names
}

// Len returns the number of writers.
func (s *Set) Len() int {
	return len(s.writers)
}

// Writer returns one writer fanning out to every sink.
func (s *Set) Writer() writer.Writer {
	if len(s.writers) == 1 {
		return s.writers[0]
	}
	return writer.NewMultiWriter(s.writers...)
}

// Close releases connections held by the sinks.
func (s *Set) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
