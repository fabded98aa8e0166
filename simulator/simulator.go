// Package simulator produces synthetic speed telemetry for a fixed set of
// street segments. Every tick it draws one reading per segment, perturbing
// the speed around the segment's base mean and letting the standard
// deviation drift, and hands the batch to a writer.
//
// The simulator is single-goroutine: segment state is owned by the
// Simulator and never shared, so there is no locking. Run is cancelled
// through its context at tick boundaries.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gurre/segspeed/logging"
	"github.com/gurre/segspeed/metrics"
	"github.com/gurre/segspeed/segment"
	"github.com/gurre/segspeed/writer"
	"go.uber.org/zap"
)

// Jitter bounds. Speed is base mean plus U(SpeedJitterMin, SpeedJitterMax)
// times the current stddev; stddev is multiplied by
// U(StddevDriftMin, StddevDriftMax) on every reading.
const (
	SpeedJitterMin = -1.0
	SpeedJitterMax = 1.0
	StddevDriftMin = 0.9
	StddevDriftMax = 1.1
)

// DefaultInterval is the tick interval used when none is configured.
const DefaultInterval = 5 * time.Second

// ErrUnavailable is returned by NextReading for an unknown segment.
var ErrUnavailable = errors.New("speed information not available")

// ErrInvalidInterval is returned by New for a non-positive interval.
var ErrInvalidInterval = errors.New("invalid time interval: must be a positive number of seconds")

// Rand is the random source. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Simulator owns a segment.State and advances it one reading at a time.
type Simulator struct {
	state    *segment.State
	ids      []string
	interval time.Duration
	rng      Rand
	clock    clock.Clock
	writer   writer.Writer
	metrics  *metrics.Metrics
	logger   *zap.Logger
	maxTicks int
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithInterval sets the tick interval. It is also the amount every
// reading advances a segment's timestamp by.
func WithInterval(d time.Duration) Option {
	return func(s *Simulator) { s.interval = d }
}

// WithRand sets the random source.
func WithRand(r Rand) Option {
	return func(s *Simulator) { s.rng = r }
}

// WithSeed uses a PCG source seeded with seed.
func WithSeed(seed uint64) Option {
	return func(s *Simulator) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithClock sets the clock used to wait between ticks.
func WithClock(c clock.Clock) Option {
	return func(s *Simulator) { s.clock = c }
}

// WithWriter sets where each tick's readings go.
func WithWriter(w writer.Writer) Option {
	return func(s *Simulator) { s.writer = w }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Simulator) { s.metrics = m }
}

// WithLogger sets the logger. A nil logger discards.
func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) { s.logger = logging.OrNop(l) }
}

// WithSegments overrides the ids visited on every tick. Ids absent from
// the state are reported as unavailable each tick.
func WithSegments(ids ...string) Option {
	return func(s *Simulator) { s.ids = append([]string(nil), ids...) }
}

// WithMaxTicks stops Run after n ticks. Zero means no limit.
func WithMaxTicks(n int) Option {
	return func(s *Simulator) { s.maxTicks = n }
}

// New creates a Simulator over state. Without options it ticks every
// DefaultInterval, visits the state's own ids and discards readings.
func New(state *segment.State, opts ...Option) (*Simulator, error) {
	if state == nil {
		return nil, fmt.Errorf("segment state is required")
	}
	s := &Simulator{
		state:    state,
		ids:      state.IDs(),
		interval: DefaultInterval,
		clock:    clock.New(),
		writer:   writer.Discard,
		metrics:  metrics.NewMetrics(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if s.maxTicks < 0 {
		return nil, fmt.Errorf("max ticks must not be negative")
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s, nil
}

// Interval returns the configured tick interval.
func (s *Simulator) Interval() time.Duration {
	return s.interval
}

// uniform draws from [lo, hi).
func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.rng.Float64()
}

// NextReading draws the next reading for id and advances that segment:
// the stored stddev is multiplied by a drift factor and the timestamp
// moves forward by one interval. The returned speed is computed from the
// stddev as it was before the drift, the returned stddev is the drifted
// one. Unknown ids yield ErrUnavailable and leave all state untouched.
func (s *Simulator) NextReading(id string) (segment.Reading, error) {
	seg, ok := s.state.Get(id)
	if !ok {
		return segment.Reading{}, fmt.Errorf("%w for segment %s", ErrUnavailable, id)
	}

	speed := seg.SpeedMean + s.uniform(SpeedJitterMin, SpeedJitterMax)*seg.SpeedStddev

	seg.SpeedStddev *= s.uniform(StddevDriftMin, StddevDriftMax)
	seg.Timestamp = seg.Timestamp.Add(s.interval)

	return seg.Snapshot(speed), nil
}

// Tick draws one reading for every configured segment and writes them in
// segment order. Each reading gets its id here so every sink behind the
// writer stores the same one. An unknown segment is reported at its place
// in the order: the readings drawn before it are written first.
func (s *Simulator) Tick(ctx context.Context) error {
	readings := make([]segment.Reading, 0, len(s.ids))

	for _, id := range s.ids {
		r, err := s.NextReading(id)
		if errors.Is(err, ErrUnavailable) {
			if err := s.write(ctx, readings); err != nil {
				return err
			}
			readings = nil

			s.metrics.RecordUnavailable()
			if err := s.reportUnavailable(ctx, id); err != nil {
				s.metrics.RecordError()
				return fmt.Errorf("failed to report unavailable segment: %w", err)
			}
			continue
		}
		if err != nil {
			return err
		}
		r.ID = uuid.NewString()
		readings = append(readings, r)
	}

	if err := s.write(ctx, readings); err != nil {
		return err
	}
	s.metrics.RecordTick()
	return nil
}

// write hands a non-empty batch to the writer. The writer may keep the
// slice, so callers must not reuse it.
func (s *Simulator) write(ctx context.Context, readings []segment.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	start := s.clock.Now()
	if err := s.writer.WriteBatch(ctx, readings); err != nil {
		s.metrics.RecordError()
		return fmt.Errorf("failed to write readings: %w", err)
	}
	s.metrics.RecordProcessingTime(s.clock.Since(start))
	s.metrics.RecordBatchWritten()
	for range readings {
		s.metrics.RecordReading()
	}
	return nil
}

func (s *Simulator) reportUnavailable(ctx context.Context, id string) error {
	if r, ok := s.writer.(writer.UnavailableReporter); ok {
		return r.ReportUnavailable(ctx, id)
	}
	s.logger.Warn("speed information not available", zap.String("segment", id))
	return nil
}

// Run ticks until ctx is cancelled, the writer fails or the tick limit is
// reached. Cancellation is checked before every tick and interrupts the
// wait between ticks. The writer is flushed on return.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("simulator started",
		zap.Int("segments", len(s.ids)),
		zap.Duration("interval", s.interval))

	err := s.loop(ctx)

	flushCtx := context.WithoutCancel(ctx)
	if ferr := s.writer.Flush(flushCtx); ferr != nil && err == nil {
		err = fmt.Errorf("failed to flush writer: %w", ferr)
	}
	return err
}

func (s *Simulator) loop(ctx context.Context) error {
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.maxTicks > 0 && n >= s.maxTicks {
			return nil
		}

		if err := s.Tick(ctx); err != nil {
			return err
		}

		if s.maxTicks > 0 && n+1 >= s.maxTicks {
			return nil
		}

		timer := s.clock.Timer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
