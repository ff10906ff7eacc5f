// Package audit records every API operation (capture, compare, check,
// approve) in an audit_log table, synchronously or through a batching
// background writer.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/visreg/dbopen"
	"github.com/hazyhaar/visreg/idgen"
	"github.com/hazyhaar/visreg/kit"
)

// Schema is the audit_log DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    entry_id      TEXT PRIMARY KEY,
    timestamp     INTEGER NOT NULL,
    action        TEXT NOT NULL,
    transport     TEXT NOT NULL,
    trace_id      TEXT NOT NULL DEFAULT '',
    parameters    TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action, timestamp DESC);
`

const (
	batchSize     = 32
	flushInterval = 50 * time.Millisecond
	// maxParams caps stored parameters; inline rasters are not audit data.
	maxParams = 4096
)

// Entry is one audited operation.
type Entry struct {
	EntryID    string
	Timestamp  int64 // unix ms
	Action     string
	Transport  string
	TraceID    string
	Parameters string
	Status     string // success | error
	Error      string
	DurationMs int64
}

// SQLiteLogger writes entries to audit_log.
type SQLiteLogger struct {
	db     *sql.DB
	ids    idgen.Generator
	logger *slog.Logger

	mu     sync.RWMutex // guards closed and sends on ch
	closed bool
	ch     chan *Entry
	done   chan struct{}
}

// Option configures a SQLiteLogger.
type Option func(*SQLiteLogger)

// WithIDGenerator overrides entry id generation.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *SQLiteLogger) { l.ids = gen }
}

// WithLogger sets the logger used for write failures.
func WithLogger(lg *slog.Logger) Option {
	return func(l *SQLiteLogger) { l.logger = lg }
}

// NewSQLiteLogger starts the async writer. Call Init before logging and
// Close to flush.
func NewSQLiteLogger(db *sql.DB, opts ...Option) *SQLiteLogger {
	l := &SQLiteLogger{
		db:     db,
		ids:    idgen.Audit,
		logger: slog.Default(),
		ch:     make(chan *Entry, 256),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.writer()
	return l
}

// Init creates the audit_log table.
func (l *SQLiteLogger) Init() error {
	if _, err := l.db.Exec(Schema); err != nil {
		return fmt.Errorf("audit: init: %w", err)
	}
	return nil
}

// Log writes e synchronously after filling defaults.
func (l *SQLiteLogger) Log(ctx context.Context, e *Entry) error {
	l.fill(e)
	return dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		return insert(ctx, tx, e)
	})
}

// LogAsync queues e for the batch writer. When the queue is full the
// entry is written synchronously. Entries logged after Close are dropped.
func (l *SQLiteLogger) LogAsync(e *Entry) {
	l.fill(e)
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		l.logger.Debug("audit: entry after close dropped", "action", e.Action)
		return
	}
	select {
	case l.ch <- e:
		l.mu.RUnlock()
		return
	default:
	}
	l.mu.RUnlock()
	if err := l.Log(context.Background(), e); err != nil {
		l.logger.Warn("audit: write failed", "action", e.Action, "error", err)
	}
}

// Close flushes queued entries and stops the writer.
func (l *SQLiteLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()
	<-l.done
	return nil
}

func (l *SQLiteLogger) fill(e *Entry) {
	if e.EntryID == "" {
		e.EntryID = l.ids()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.Transport == "" {
		e.Transport = "http"
	}
	if e.Status == "" {
		e.Status = "success"
		if e.Error != "" {
			e.Status = "error"
		}
	}
	if len(e.Parameters) > maxParams {
		cut := maxParams
		for cut > 0 && !utf8.RuneStart(e.Parameters[cut]) {
			cut--
		}
		e.Parameters = e.Parameters[:cut]
	}
}

func (l *SQLiteLogger) writer() {
	defer close(l.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Entry, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		err := dbopen.RunTx(context.Background(), l.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				if err := insert(context.Background(), tx, e); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			l.logger.Warn("audit: batch write failed", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-l.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func insert(ctx context.Context, tx *sql.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log
			(entry_id, timestamp, action, transport, trace_id, parameters, status, error_message, duration_ms)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp, e.Action, e.Transport, e.TraceID, e.Parameters, e.Status, e.Error, e.DurationMs)
	return err
}

// Middleware audits every call of an endpoint asynchronously.
func Middleware(l *SQLiteLogger, action string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			e := &Entry{
				Action:     action,
				Transport:  kit.GetTransport(ctx),
				TraceID:    kit.GetTraceID(ctx),
				DurationMs: time.Since(start).Milliseconds(),
			}
			if req != nil {
				if b, merr := json.Marshal(req); merr == nil {
					e.Parameters = string(b)
				}
			}
			if err != nil {
				e.Error = err.Error()
			}
			l.LogAsync(e)
			return resp, err
		}
	}
}
