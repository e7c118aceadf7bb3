package runlog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edge-warmer/internal/metrics"
)

const defaultSinkTimeout = 20 * time.Second

// sheetZone is the fixed offset used to name each run's sheet.
var sheetZone = time.FixedZone("UTC+8", 8*60*60)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Config controls a Logger.
//   - RunID: identifier stamped on every row.
//   - SinkTimeout: per-sink bound on Flush (default 20s).
//   - Clock: time source for the start and finish stamps.
//   - Logger: diagnostic logger for delivery failures.
type Config struct {
	RunID       string
	SinkTimeout time.Duration
	Clock       Clock
	Logger      *zap.Logger
}

// Logger is the in-memory run log. It is safe for concurrent use.
type Logger struct {
	runID       string
	sinks       []Sink
	clock       Clock
	sinkTimeout time.Duration
	logger      *zap.Logger

	mu         sync.Mutex
	startedAt  time.Time
	finishedAt time.Time
	rows       []Row
	flushed    bool
}

// New starts a run log at the current time. Nil sinks are ignored.
func New(cfg Config, sinks ...Sink) *Logger {
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	active := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return &Logger{
		runID:       cfg.RunID,
		sinks:       active,
		clock:       cfg.Clock,
		sinkTimeout: cfg.SinkTimeout,
		logger:      cfg.Logger,
		startedAt:   cfg.Clock.Now(),
	}
}

// RunID returns the run identifier.
func (l *Logger) RunID() string {
	return l.runID
}

// StartedAt returns the run start time.
func (l *Logger) StartedAt() time.Time {
	return l.startedAt
}

// Log appends one row. The row carries the finish time current at append
// time, which is zero until Finalize runs.
func (l *Logger) Log(f Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, Row{
		RunID:      l.runID,
		StartedAt:  l.startedAt,
		FinishedAt: l.finishedAt,
		Fields:     f,
	})
}

// Finalize sets the run finish time and stamps it onto every row appended so
// far. Only the first call has an effect.
func (l *Logger) Finalize() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.finishedAt.IsZero() {
		return l.finishedAt
	}
	l.finishedAt = l.clock.Now()
	for i := range l.rows {
		l.rows[i].FinishedAt = l.finishedAt
	}
	errs := 0
	for _, r := range l.rows {
		if r.Error {
			errs++
		}
	}
	l.logger.Info("run finalized",
		zap.String("run_id", l.runID),
		zap.Int("rows", len(l.rows)),
		zap.Int("error_rows", errs),
		zap.Duration("elapsed", l.finishedAt.Sub(l.startedAt)),
	)
	return l.finishedAt
}

// Rows returns a copy of the rows appended so far.
func (l *Logger) Rows() []Row {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Row(nil), l.rows...)
}

// SheetName names the run's sheet after its start time in UTC+8.
func (l *Logger) SheetName() string {
	return SheetName(l.startedAt)
}

// SheetName formats t as YYYY-MM-DD_HH-MM-SS_UTC+8.
func SheetName(t time.Time) string {
	return t.In(sheetZone).Format("2006-01-02_15-04-05") + "_" + sheetZone.String()
}

// Flush delivers the rows to every sink. It does nothing without sinks or
// rows, never returns an error, and only the first call delivers.
func (l *Logger) Flush(ctx context.Context) {
	l.mu.Lock()
	if l.flushed {
		l.mu.Unlock()
		return
	}
	l.flushed = true
	batch := Batch{SheetName: SheetName(l.startedAt), Rows: append([]Row(nil), l.rows...)}
	l.mu.Unlock()

	if len(l.sinks) == 0 {
		l.logger.Debug("no run log sink configured; skipping flush")
		return
	}
	if len(batch.Rows) == 0 {
		l.logger.Debug("run log is empty; skipping flush")
		return
	}

	for _, sink := range l.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, l.sinkTimeout)
		err := sink.Consume(sinkCtx, batch)
		cancel()
		if err != nil {
			metrics.ObserveFlush(sink.Name(), "failed")
			l.logger.Warn("run log delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("sheet", batch.SheetName),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveFlush(sink.Name(), "delivered")
		l.logger.Info("run log delivered",
			zap.String("sink", sink.Name()),
			zap.String("sheet", batch.SheetName),
			zap.Int("rows", len(batch.Rows)),
		)
	}
}
