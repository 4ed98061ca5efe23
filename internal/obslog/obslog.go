// Package obslog implements MAOC's append-only structured logging: a
// non-blocking enqueue from the hook critical path, drained by a single
// background worker into per-stream JSONL files under O_APPEND.
//
// The write discipline is the same one the append-only index files in
// this codebase's storage layer use — open with O_APPEND, write one
// complete JSON document plus a newline, fsync — generalized here to run
// off a queue instead of inline on the caller's goroutine, since a hook
// invocation cannot afford to block on disk I/O.
package obslog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Stream names one of the four append-only logs MAOC maintains.
type Stream string

const (
	StreamSecurity    Stream = "security"
	StreamLifecycle   Stream = "lifecycle"
	StreamPerformance Stream = "performance"
	StreamAudit       Stream = "audit"
)

var allStreams = []Stream{StreamSecurity, StreamLifecycle, StreamPerformance, StreamAudit}

const (
	// MaxRecordBytes bounds a single log line so O_APPEND writes stay
	// atomic with respect to the OS's write(2) size guarantee.
	MaxRecordBytes = 4096

	// DefaultQueueCapacity is the default bounded-channel size.
	DefaultQueueCapacity = 1024

	// DefaultTeardownDeadline bounds how long Close waits for the
	// worker to drain before giving up.
	DefaultTeardownDeadline = 200 * time.Millisecond

	// dropFlushInterval is how often accumulated drop counts are
	// flushed as their own record.
	dropFlushInterval = 1 * time.Second
)

type entry struct {
	stream Stream
	fields map[string]interface{}
}

// Logger is MAOC's AsyncLogger. Construct with New, enqueue with Log,
// and always call Close before process exit.
type Logger struct {
	queue   chan entry
	done    chan struct{}
	wg      sync.WaitGroup
	writers map[Stream]*streamWriter
	drops   map[Stream]*int64
}

type streamWriter struct {
	mu     sync.Mutex
	file   *os.File
	logger zerolog.Logger
}

// New opens one append-mode file per stream under logsDir and starts the
// background drain worker. capacity <= 0 uses DefaultQueueCapacity.
func New(logsDir string, capacity int) (*Logger, error) {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if err := os.MkdirAll(logsDir, 0o700); err != nil {
		return nil, fmt.Errorf("obslog: create logs dir: %w", err)
	}

	l := &Logger{
		queue:   make(chan entry, capacity),
		done:    make(chan struct{}),
		writers: make(map[Stream]*streamWriter, len(allStreams)),
		drops:   make(map[Stream]*int64, len(allStreams)),
	}

	for _, s := range allStreams {
		path := filepath.Join(logsDir, string(s)+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			l.closeFiles()
			return nil, fmt.Errorf("obslog: open %s: %w", path, err)
		}
		sw := &streamWriter{file: f}
		sw.logger = zerolog.New(sw).With().Timestamp().Logger()
		l.writers[s] = sw
		var zero int64
		l.drops[s] = &zero
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Write implements io.Writer so zerolog can hand us already-encoded
// lines; it serializes concurrent writers to the same underlying file
// and fsyncs so the record is durable before returning, matching the
// append-then-sync discipline used elsewhere in this codebase.
func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	return n, w.file.Sync()
}

// Log enqueues record onto stream's queue without blocking. If the
// queue is full the record is dropped and stream's drop counter is
// incremented; the caller never observes the drop directly, per the
// "never blocks the hook critical path" invariant.
func (l *Logger) Log(stream Stream, record map[string]interface{}) {
	if _, ok := l.writers[stream]; !ok {
		return
	}
	select {
	case l.queue <- entry{stream: stream, fields: record}:
	default:
		atomic.AddInt64(l.drops[stream], 1)
	}
}

func (l *Logger) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(dropFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-l.queue:
			if !ok {
				l.drainRemaining()
				return
			}
			l.write(e)
		case <-ticker.C:
			l.flushDrops()
		case <-l.done:
			l.drainRemaining()
			return
		}
	}
}

func (l *Logger) drainRemaining() {
	for {
		select {
		case e := <-l.queue:
			l.write(e)
		default:
			l.flushDrops()
			return
		}
	}
}

func (l *Logger) flushDrops() {
	for s, counter := range l.drops {
		n := atomic.SwapInt64(counter, 0)
		if n == 0 {
			continue
		}
		l.write(entry{stream: s, fields: map[string]interface{}{
			"kind":    "dropped_records",
			"count":   n,
		}})
	}
}

func (l *Logger) write(e entry) {
	sw, ok := l.writers[e.stream]
	if !ok {
		return
	}
	fields := boundRecord(e.fields)
	evt := sw.logger.Log()
	evt.Fields(fields)
	evt.Msg("")
}

// boundRecord truncates a record that would exceed MaxRecordBytes once
// marshaled, replacing it with a minimal stand-in that carries
// "truncated": true rather than splitting a write across two lines.
func boundRecord(fields map[string]interface{}) map[string]interface{} {
	data, err := json.Marshal(fields)
	if err == nil && len(data) <= MaxRecordBytes {
		return fields
	}
	kind, _ := fields["kind"].(string)
	return map[string]interface{}{
		"kind":      kind,
		"truncated": true,
	}
}

// Close signals the worker to drain and stop, waiting up to
// DefaultTeardownDeadline (or until ctx is done, if sooner) before
// giving up and closing the underlying files regardless.
func (l *Logger) Close(ctx context.Context) error {
	close(l.done)

	waitDone := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(waitDone)
	}()

	deadline := DefaultTeardownDeadline
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var teardownErr error
	select {
	case <-waitDone:
	case <-timer.C:
		teardownErr = ErrTeardownDeadline
	case <-ctx.Done():
		teardownErr = ctx.Err()
	}

	l.closeFiles()
	return teardownErr
}

func (l *Logger) closeFiles() {
	for _, sw := range l.writers {
		sw.mu.Lock()
		_ = sw.file.Close()
		sw.mu.Unlock()
	}
}
