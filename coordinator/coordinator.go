// Package coordinator runs the raw-data ETL: it lists the raw reading
// files, streams them through a pool of workers that decode and clean each
// line, writes the readings to the configured sinks and checkpoints the
// progress so an interrupted run can resume.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gurre/s3streamer"
	"github.com/gurre/segspeed/checkpoint"
	"github.com/gurre/segspeed/config"
	"github.com/gurre/segspeed/etl"
	"github.com/gurre/segspeed/logging"
	"github.com/gurre/segspeed/metrics"
	"github.com/gurre/segspeed/partition"
	"github.com/gurre/segspeed/segment"
	"github.com/gurre/segspeed/writer"
	"go.uber.org/zap"
)

// DefaultJobName is recorded in checkpoints when no job name is set.
const DefaultJobName = "raw-data-etl"

// maxStreamRetries bounds how often a single file is re-streamed after a
// read or write failure.
const maxStreamRetries = 3

// WorkerStatus tracks the progress of one worker for progress reports.
// Fields are ordered largest-to-smallest for memory alignment.
type WorkerStatus struct {
	LastErrorTime time.Time
	StartTime     time.Time
	LastActive    time.Time
	LastError     error
	CurrentFile   string
	ItemsWritten  int64
	BatchesCount  int64
	ID            int
}

// DecoderFactory returns a fresh decoder for one source file.
type DecoderFactory func() etl.Decoder

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics records counters into m instead of a private Metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger used for progress and errors.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrNop(l) }
}

// WithClock replaces the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithJobName sets the job name stored in checkpoints.
func WithJobName(name string) Option {
	return func(c *Coordinator) { c.jobName = name }
}

// WithProgressInterval sets how often progress is logged. Zero disables
// progress reports.
func WithProgressInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.progressEvery = d }
}

// Coordinator manages the worker pool, checkpoints and progress reporting
// of one ETL run.
type Coordinator struct {
	cfg           config.ETL
	source        partition.Location
	lister        partition.Lister
	streamer      s3streamer.Streamer
	newDecoder    DecoderFactory
	writer        writer.Writer
	store         checkpoint.Store
	metrics       *metrics.Metrics
	logger        *zap.Logger
	clock         clock.Clock
	jobName       string
	progressEvery time.Duration

	workerStatus map[int]*WorkerStatus
	statusMu     sync.RWMutex

	// ckptMu serializes checkpoint saves so the stored state never moves
	// backwards.
	ckptMu   sync.Mutex
	progress *progress
}

// NewCoordinator creates a Coordinator for the source and settings in cfg.
func NewCoordinator(
	cfg config.ETL,
	lister partition.Lister,
	streamer s3streamer.Streamer,
	newDecoder DecoderFactory,
	w writer.Writer,
	store checkpoint.Store,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		cfg:           cfg,
		lister:        lister,
		streamer:      streamer,
		newDecoder:    newDecoder,
		writer:        w,
		store:         store,
		metrics:       metrics.NewMetrics(),
		logger:        zap.NewNop(),
		clock:         clock.New(),
		jobName:       DefaultJobName,
		progressEvery: 5 * time.Second,
		workerStatus:  make(map[int]*WorkerStatus),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.MaxWorkers <= 0 {
		c.cfg.MaxWorkers = 1
	}
	if c.cfg.BatchSize <= 0 {
		c.cfg.BatchSize = 25
	}
	if c.cfg.CheckpointEvery <= 0 {
		c.cfg.CheckpointEvery = 10
	}
	return c
}

// Report returns the counters collected so far.
func (c *Coordinator) Report() metrics.Report {
	return c.metrics.GenerateReport()
}

// Run lists the source files, skips those a previous run completed and
// processes the rest. It returns once every file is written and the sinks
// are flushed, or with the first worker error.
func (c *Coordinator) Run(ctx context.Context) error {
	src, err := partition.ParseS3URI(c.cfg.SourceURI)
	if err != nil {
		return fmt.Errorf("invalid source URI: %w", err)
	}
	c.source = src

	objects, err := c.lister.List(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to list source files: %w", err)
	}

	state, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if state.JobName != "" && state.JobName != c.jobName {
		c.logger.Warn("checkpoint belongs to another job",
			zap.String("checkpoint_job", state.JobName),
			zap.String("job", c.jobName))
	}

	type task struct {
		key    string
		offset int64
	}
	var pending []task
	for _, obj := range objects {
		if state.Completed(obj.Key) {
			continue
		}
		pending = append(pending, task{key: obj.Key, offset: state.ResumeOffset(obj.Key)})
	}
	c.logger.Info("starting etl",
		zap.String("source", src.String()),
		zap.Int("files", len(objects)),
		zap.Int("pending", len(pending)),
		zap.Int("workers", c.cfg.MaxWorkers))

	keys := make([]string, len(pending))
	for i, t := range pending {
		keys[i] = t.key
	}
	c.progress = newProgress(keys)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.progressEvery > 0 {
		go c.reportProgress(runCtx)
	}

	tasks := make(chan task)
	results := make(chan error, c.cfg.MaxWorkers)
	var wg sync.WaitGroup

	for i := 0; i < c.cfg.MaxWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.initWorker(workerID)
			for t := range tasks {
				if err := c.processFile(runCtx, workerID, t.key, t.offset); err != nil {
					// Workers stopped by another worker's failure stay quiet.
					if !errors.Is(err, context.Canceled) || runCtx.Err() == nil {
						results <- fmt.Errorf("worker %d failed: %w", workerID, err)
					}
					cancel()
					return
				}
			}
		}(i)
	}

	go func() {
		defer close(tasks)
		for _, t := range pending {
			select {
			case tasks <- t:
			case <-runCtx.Done():
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-c.clock.After(c.shutdownTimeout()):
			return fmt.Errorf("workers did not stop within %s: %w", c.shutdownTimeout(), ctx.Err())
		}
		return ctx.Err()
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	close(results)
	var errs []error
	for err := range results {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := c.writer.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	c.logger.Info("etl finished", zap.Stringer("report", c.metrics.GenerateReport()))
	return nil
}

func (c *Coordinator) shutdownTimeout() time.Duration {
	if c.cfg.ShutdownTimeout <= 0 {
		return 30 * time.Second
	}
	return c.cfg.ShutdownTimeout
}

// processFile streams one file from offset, retrying from the last written
// position when streaming or writing fails.
func (c *Coordinator) processFile(ctx context.Context, id int, key string, offset int64) error {
	c.updateWorkerStatus(id, func(s *WorkerStatus) {
		s.CurrentFile = key
	})

	dec := c.newDecoder()
	batch := make([]segment.Reading, 0, c.cfg.BatchSize)
	written := offset // position just past the last written line
	var batchesSinceCheckpoint int

	var streamErr error
	for retry := 0; retry < maxStreamRetries; retry++ {
		if retry > 0 {
			select {
			case <-c.clock.After(time.Duration(1<<uint(retry)) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		batch = batch[:0]
		var current int64
		streamErr = c.streamer.Stream(ctx, c.source.Bucket, key, written, func(line []byte, byteOffset int64) error {
			current = byteOffset

			r, err := dec.Decode(line)
			switch {
			case errors.Is(err, etl.ErrSkip):
				return nil
			case errors.Is(err, etl.ErrCorrupt):
				c.metrics.RecordCorrupt()
				c.logger.Debug("skipping corrupt line",
					zap.String("file", key), zap.Int64("offset", byteOffset), zap.Error(err))
				return nil
			case err != nil:
				return err
			}

			batch = append(batch, r)

			if len(batch) >= c.cfg.BatchSize {
				if err := c.writeBatch(ctx, id, batch); err != nil {
					return err
				}
				batch = batch[:0]
				written = current

				batchesSinceCheckpoint++
				if batchesSinceCheckpoint >= c.cfg.CheckpointEvery {
					batchesSinceCheckpoint = 0
					if err := c.checkpointPartial(ctx, key, written); err != nil {
						return err
					}
				}
			}
			return nil
		})

		if streamErr == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.recordError(id, streamErr)
		c.logger.Warn("file processing failed",
			zap.String("file", key), zap.Int("attempt", retry+1), zap.Error(streamErr))
	}

	if streamErr != nil {
		return fmt.Errorf("failed to process file %s after %d attempts: %w", key, maxStreamRetries, streamErr)
	}

	if len(batch) > 0 {
		if err := c.writeBatch(ctx, id, batch); err != nil {
			return err
		}
	}

	if err := c.checkpointComplete(ctx, key); err != nil {
		c.recordError(id, err)
		return err
	}
	c.logger.Debug("file completed", zap.String("file", key))
	return nil
}

// writeBatch writes a batch and records it. Items count once written, so
// lines replayed by a retry are not counted twice.
func (c *Coordinator) writeBatch(ctx context.Context, id int, batch []segment.Reading) error {
	start := c.clock.Now()
	if err := c.writer.WriteBatch(ctx, batch); err != nil {
		c.recordError(id, err)
		return err
	}
	c.metrics.RecordProcessingTime(c.clock.Since(start))
	c.metrics.RecordBatchWritten()
	for range batch {
		c.metrics.RecordProcessed()
	}

	c.updateWorkerStatus(id, func(s *WorkerStatus) {
		s.ItemsWritten += int64(len(batch))
		s.BatchesCount++
	})
	return nil
}

// checkpointPartial saves a mid-file position. Only the first unfinished
// file may be checkpointed mid-way; positions in later files are dropped
// because the stored state would skip the files before them.
func (c *Coordinator) checkpointPartial(ctx context.Context, key string, offset int64) error {
	c.ckptMu.Lock()
	defer c.ckptMu.Unlock()

	if !c.progress.isFirstPending(key) {
		return nil
	}
	return c.save(ctx, checkpoint.State{JobName: c.jobName, LastFile: key, LastByteOffset: offset})
}

// checkpointComplete marks key done and saves the furthest contiguous run
// of completed files.
func (c *Coordinator) checkpointComplete(ctx context.Context, key string) error {
	c.ckptMu.Lock()
	defer c.ckptMu.Unlock()

	last, advanced := c.progress.complete(key)
	if !advanced {
		return nil
	}
	return c.save(ctx, checkpoint.State{JobName: c.jobName, LastFile: last, LastByteOffset: checkpoint.CompletedOffset})
}

// save flushes buffered readings before recording progress past them.
func (c *Coordinator) save(ctx context.Context, state checkpoint.State) error {
	if err := c.writer.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush before checkpoint: %w", err)
	}
	if err := c.store.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", state.LastFile, err)
	}
	return nil
}

func (c *Coordinator) initWorker(id int) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	now := c.clock.Now()
	c.workerStatus[id] = &WorkerStatus{
		ID:         id,
		StartTime:  now,
		LastActive: now,
	}
}

func (c *Coordinator) updateWorkerStatus(id int, fn func(*WorkerStatus)) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	if status, ok := c.workerStatus[id]; ok {
		fn(status)
		status.LastActive = c.clock.Now()
	}
}

// Progress sums the worker counters.
func (c *Coordinator) Progress() (items, batches int64, active int) {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	now := c.clock.Now()
	for _, status := range c.workerStatus {
		if now.Sub(status.LastActive) < 2*c.progressEvery {
			active++
		}
		items += status.ItemsWritten
		batches += status.BatchesCount
	}
	return items, batches, active
}

func (c *Coordinator) reportProgress(ctx context.Context) {
	ticker := c.clock.Ticker(c.progressEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			items, batches, active := c.Progress()
			c.logger.Info("progress",
				zap.Int64("items", items),
				zap.Int64("batches", batches),
				zap.Int("active_workers", active))
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) recordError(id int, err error) {
	c.metrics.RecordError()
	c.updateWorkerStatus(id, func(s *WorkerStatus) {
		s.LastError = err
		s.LastErrorTime = c.clock.Now()
	})
}

// progress tracks which of the pending files are done. Files complete out
// of order; next is the first file that is not.
type progress struct {
	keys []string
	done map[string]bool
	next int
}

func newProgress(keys []string) *progress {
	return &progress{keys: keys, done: make(map[string]bool, len(keys))}
}

func (p *progress) isFirstPending(key string) bool {
	return p.next < len(p.keys) && p.keys[p.next] == key
}

// complete marks key done and reports the last file of the completed
// prefix when the prefix grew.
func (p *progress) complete(key string) (string, bool) {
	p.done[key] = true
	start := p.next
	for p.next < len(p.keys) && p.done[p.keys[p.next]] {
		p.next++
	}
	if p.next == start {
		return "", false
	}
	return p.keys[p.next-1], true
}
