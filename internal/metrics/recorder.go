// Package metrics records per-operation store measurements.
//
// Each call appends one pipe-delimited line to an entity-specific log file:
//
//	timestamp|entity|operation|total_ms|rows|ms_per_row|rows_per_sec|bytes|ms_per_kb|mb_per_sec|bytes_per_row
//
// Writes are buffered and best-effort: the recorder never blocks the
// pipeline and never retries on I/O failure. The same measurements also
// feed OpenTelemetry instruments so runs can export to OTLP when telemetry
// is enabled.
package metrics

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rxops/rxsim/internal/telemetry"
)

const timestampLayout = "2006-01-02T15:04:05.000"

// Recorder appends operation measurements to per-entity log files.
// A nil *Recorder is valid and records nothing, so callers need no guards.
type Recorder struct {
	dir string

	mu     sync.Mutex
	files  map[string]*bufio.Writer
	closed []*os.File
	warned bool

	rows    metric.Int64Counter
	bytes   metric.Int64Counter
	elapsed metric.Float64Histogram
}

// NewRecorder creates a Recorder writing under dir, creating it if needed.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create metrics directory: %w", err)
	}
	meter := telemetry.Meter("")
	rows, err := meter.Int64Counter("rxsim.store.rows",
		metric.WithDescription("Rows written or read per store operation"))
	if err != nil {
		return nil, err
	}
	bytes, err := meter.Int64Counter("rxsim.store.bytes",
		metric.WithDescription("Approximate bytes moved per store operation"))
	if err != nil {
		return nil, err
	}
	elapsed, err := meter.Float64Histogram("rxsim.store.operation.ms",
		metric.WithDescription("Store operation wall-clock milliseconds"))
	if err != nil {
		return nil, err
	}
	return &Recorder{
		dir:     dir,
		files:   map[string]*bufio.Writer{},
		rows:    rows,
		bytes:   bytes,
		elapsed: elapsed,
	}, nil
}

// Record logs one operation. rowCount and byteCount of zero are fine; the
// derived-rate columns guard their divisions.
func (r *Recorder) Record(entity, op string, took time.Duration, rowCount int, byteCount int64) {
	if r == nil {
		return
	}
	ms := float64(took.Microseconds()) / 1000

	attrs := metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", op),
	)
	ctx := context.Background()
	r.rows.Add(ctx, int64(rowCount), attrs)
	r.bytes.Add(ctx, byteCount, attrs)
	r.elapsed.Record(ctx, ms, attrs)

	line := formatLine(time.Now(), entity, op, ms, rowCount, byteCount)

	r.mu.Lock()
	defer r.mu.Unlock()
	w, err := r.writer(entity)
	if err != nil {
		r.warnOnce(err)
		return
	}
	if _, err := w.WriteString(line); err != nil {
		r.warnOnce(err)
	}
}

// formatLine renders the pipe-delimited record, newline-terminated.
func formatLine(now time.Time, entity, op string, ms float64, rows int, bytes int64) string {
	var msPerRow, rowsPerSec, msPerKB, mbPerSec, bytesPerRow float64
	if rows > 0 {
		msPerRow = ms / float64(rows)
		bytesPerRow = float64(bytes) / float64(rows)
	}
	if ms > 0 {
		rowsPerSec = float64(rows) / (ms / 1000)
		mbPerSec = float64(bytes) / (1024 * 1024) / (ms / 1000)
	}
	if bytes > 0 {
		msPerKB = ms / (float64(bytes) / 1024)
	}
	return fmt.Sprintf("%s|%s|%s|%.3f|%d|%.4f|%.1f|%d|%.4f|%.3f|%.1f\n",
		now.Format(timestampLayout), entity, op,
		ms, rows, msPerRow, rowsPerSec, bytes, msPerKB, mbPerSec, bytesPerRow)
}

// writer returns the buffered writer for entity, opening the append-only
// log file on first use.
func (r *Recorder) writer(entity string) (*bufio.Writer, error) {
	if w, ok := r.files[entity]; ok {
		return w, nil
	}
	path := filepath.Join(r.dir, entity+".metrics.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // path built from fixed dir + entity name
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	r.files[entity] = w
	r.closed = append(r.closed, f)
	return w, nil
}

func (r *Recorder) warnOnce(err error) {
	if r.warned {
		return
	}
	r.warned = true
	fmt.Fprintf(os.Stderr, "Warning: metrics logging disabled: %v\n", err)
}

// Close flushes and closes every open log file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, w := range r.files {
		if err := w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, f := range r.closed {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.files = map[string]*bufio.Writer{}
	r.closed = nil
	return firstErr
}
