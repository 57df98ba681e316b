// Package eventlog implements the durable, append-only sequence of trace
// events that underlies the Agent Trace & Artifact Store. Every event is
// keyed by (trace_id, seq); seq is assigned by the log itself and is a
// strict total order of durable persistence within a trace.
//
// The log is backed by an embedded SQLite database (modernc.org/sqlite, a
// pure-Go driver) accessed through database/sql. Parallelism is realized at
// the worker level, not the write level: every append is a single short
// transaction, and the log internally retries on transient SQLITE_BUSY
// contention with bounded, jittered backoff so callers never see spurious
// failures under concurrent load.
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

// Sentinel errors for the EventLog error taxonomy.
var (
	// ErrStorageIO is returned when the underlying database I/O fails.
	ErrStorageIO = errors.New("event log storage I/O error")

	// ErrStorageBusy is returned when the engine reports contention beyond
	// the internal retry ceiling. Callers may retry the append.
	ErrStorageBusy = errors.New("event log is busy")
)

const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS trace_events (
	trace_id       TEXT    NOT NULL,
	seq            INTEGER NOT NULL,
	event_id       TEXT    NOT NULL,
	span_id        TEXT,
	event_type     TEXT    NOT NULL,
	timestamp      TEXT    NOT NULL,
	schema_version INTEGER NOT NULL,
	payload        TEXT    NOT NULL,
	PRIMARY KEY (trace_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_trace_events_span ON trace_events(trace_id, span_id);
CREATE INDEX IF NOT EXISTS idx_trace_events_type ON trace_events(event_type);
`

// EventType discriminates a TraceEvent's payload. The set is closed:
// unrecognized event types encountered on read are a Corrupted-class error
// at the TraceStore layer.
type EventType string

const (
	SpanStart   EventType = "SpanStart"
	SpanEnd     EventType = "SpanEnd"
	SpanLink    EventType = "SpanLink"
	Provenance  EventType = "Provenance"
	ArtifactRef EventType = "ArtifactRef"
)

// TraceEvent is the only durable unit in the system. Events are immutable
// once written; all higher-level state (spans, provenance, summaries) is
// derived by folding sequences of events.
type TraceEvent struct {
	EventID       string
	TraceID       string
	Seq           int64
	SpanID        string // empty when the event type has no owning span
	EventType     EventType
	Timestamp     time.Time
	SchemaVersion int
	Payload       []byte // raw JSON, shape determined by EventType
}

// AppendInput is the data a caller supplies to Append; Seq is assigned by
// the log and returned.
type AppendInput struct {
	EventID   string
	TraceID   string
	SpanID    string
	EventType EventType
	Timestamp time.Time
	Payload   []byte
}

// Log is the append-only EventLog. It is safe for concurrent use by
// multiple goroutines.
type Log struct {
	db         *sql.DB
	maxRetries int
}

// Option configures a Log at Open time.
type Option func(*Log)

// WithMaxRetries overrides the number of internal busy-retries performed
// before Append surfaces ErrStorageBusy. Default is 8.
func WithMaxRetries(n int) Option {
	return func(l *Log) { l.maxRetries = n }
}

// Open opens (creating if necessary) the SQLite-backed event log at path.
func Open(path string, opts ...Option) (*Log, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(ErrStorageIO, "failed to open event log database", goerr.V("path", path))
	}

	// A single connection avoids SQLITE_BUSY storms under concurrent
	// appends. Readers share that same connection, so a Query or
	// EventsForSpan call waits for any in-flight append (and vice versa);
	// reads do not run on separate snapshots.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(ErrStorageIO, "failed to initialize event log schema", goerr.V("path", path))
	}

	l := &Log{db: db, maxRetries: 8}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	if err := l.db.Close(); err != nil {
		return goerr.Wrap(ErrStorageIO, "failed to close event log")
	}
	return nil
}

// Append assigns Seq as 1+max(seq) for the trace within a short
// transaction and inserts the event. It retries internally with bounded,
// jittered backoff on retryable SQLITE_BUSY conflicts before surfacing
// ErrStorageBusy.
func (l *Log) Append(ctx context.Context, in AppendInput) (seq int64, err error) {
	logger := ctxlog.From(ctx)

	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		seq, err = l.appendOnce(ctx, in)
		if err == nil {
			return seq, nil
		}
		if !isBusy(err) {
			return 0, err
		}
		logger.Debug("event log busy, retrying", "attempt", attempt, "trace_id", in.TraceID)
		backoff := time.Duration(1<<uint(attempt)) * time.Millisecond
		jitter := time.Duration(rand.Int63n(int64(backoff/2 + 1)))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return 0, goerr.Wrap(ctx.Err(), "append cancelled while waiting for busy retry")
		}
	}

	return 0, goerr.Wrap(ErrStorageBusy, "event log append exceeded retry ceiling", goerr.V("trace_id", in.TraceID), goerr.V("retries", l.maxRetries))
}

func (l *Log) appendOnce(ctx context.Context, in AppendInput) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return 0, err
		}
		return 0, goerr.Wrap(ErrStorageIO, "failed to begin append transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM trace_events WHERE trace_id = ?`, in.TraceID,
	).Scan(&maxSeq); err != nil {
		if isBusy(err) {
			return 0, err
		}
		return 0, goerr.Wrap(ErrStorageIO, "failed to read current max seq", goerr.V("trace_id", in.TraceID))
	}

	seq := int64(0)
	if maxSeq.Valid {
		seq = maxSeq.Int64 + 1
	}

	var spanID any
	if in.SpanID != "" {
		spanID = in.SpanID
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trace_events (trace_id, seq, event_id, span_id, event_type, timestamp, schema_version, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.TraceID, seq, in.EventID, spanID, string(in.EventType), in.Timestamp.UTC().Format(time.RFC3339Nano), schemaVersion, string(in.Payload),
	); err != nil {
		if isBusy(err) {
			return 0, err
		}
		return 0, goerr.Wrap(ErrStorageIO, "failed to insert event", goerr.V("trace_id", in.TraceID), goerr.V("event_id", in.EventID))
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return 0, err
		}
		return 0, goerr.Wrap(ErrStorageIO, "failed to commit append transaction")
	}

	return seq, nil
}

// QueryOptions narrows a Query call.
type QueryOptions struct {
	SinceSeq  *int64
	EventType *EventType
}

// Query returns all events for trace_id in seq order, optionally filtered
// by a minimum seq (exclusive floor) and/or event type.
func (l *Log) Query(ctx context.Context, traceID string, opts QueryOptions) ([]TraceEvent, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT trace_id, seq, event_id, span_id, event_type, timestamp, schema_version, payload
		FROM trace_events WHERE trace_id = ?`)
	args := []any{traceID}

	if opts.SinceSeq != nil {
		sb.WriteString(` AND seq > ?`)
		args = append(args, *opts.SinceSeq)
	}
	if opts.EventType != nil {
		sb.WriteString(` AND event_type = ?`)
		args = append(args, string(*opts.EventType))
	}
	sb.WriteString(` ORDER BY seq ASC`)

	rows, err := l.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, goerr.Wrap(ErrStorageIO, "failed to query events", goerr.V("trace_id", traceID))
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// EventsForSpan returns all events touching span_id within trace_id, in seq
// order, using the (trace_id, span_id) secondary index.
func (l *Log) EventsForSpan(ctx context.Context, traceID, spanID string) ([]TraceEvent, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT trace_id, seq, event_id, span_id, event_type, timestamp, schema_version, payload
		 FROM trace_events WHERE trace_id = ? AND span_id = ? ORDER BY seq ASC`,
		traceID, spanID,
	)
	if err != nil {
		return nil, goerr.Wrap(ErrStorageIO, "failed to query events for span", goerr.V("trace_id", traceID), goerr.V("span_id", spanID))
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]TraceEvent, error) {
	var events []TraceEvent
	for rows.Next() {
		var (
			e         TraceEvent
			spanID    sql.NullString
			eventType string
			ts        string
			payload   string
		)
		if err := rows.Scan(&e.TraceID, &e.Seq, &e.EventID, &spanID, &eventType, &ts, &e.SchemaVersion, &payload); err != nil {
			return nil, goerr.Wrap(ErrStorageIO, "failed to scan event row")
		}
		e.SpanID = spanID.String
		e.EventType = EventType(eventType)
		e.Payload = []byte(payload)

		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, goerr.Wrap(ErrStorageIO, "failed to parse event timestamp", goerr.V("raw", ts))
		}
		e.Timestamp = parsed

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(ErrStorageIO, "failed to iterate event rows")
	}
	return events, nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
