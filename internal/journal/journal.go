// Package journal persists tracker events and greeting outcomes to SQLite so
// a run can be reviewed afterwards.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/greeter/internal/event"
)

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	subject TEXT,
	confidence REAL,
	region TEXT,
	cycle INTEGER NOT NULL,
	at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject);

CREATE TABLE IF NOT EXISTS greetings (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	subject TEXT NOT NULL,
	confidence REAL,
	text TEXT,
	gesture_accepted INTEGER NOT NULL,
	speech_error TEXT,
	initial_latency_ms INTEGER NOT NULL,
	total_latency_ms INTEGER NOT NULL,
	at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_greetings_subject ON greetings(subject);
CREATE INDEX IF NOT EXISTS idx_greetings_session ON greetings(session_id);
`

// Greeting is one greeting outcome as stored.
type Greeting struct {
	SessionID       string
	Subject         string
	Confidence      float64
	Text            string
	GestureAccepted bool
	SpeechError     string
	InitialLatency  time.Duration
	TotalLatency    time.Duration
	At              time.Time
}

// SubjectSummary aggregates the greetings of one subject.
type SubjectSummary struct {
	Subject        string
	Greetings      int
	Sessions       int
	SpeechFailures int
	AvgLatency     time.Duration
	LastGreeted    time.Time
}

// Journal is a SQLite-backed event journal. It is safe for concurrent use.
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens or creates the journal at path. Parent directories are created
// as needed.
func Open(path string) (*Journal, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal tables: %w", err)
	}
	return &Journal{db: db, path: path}, nil
}

// Path returns the journal location.
func (j *Journal) Path() string { return j.path }

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordEvent appends e.
func (j *Journal) RecordEvent(ctx context.Context, e event.Event) error {
	var region sql.NullString
	if e.Region != nil {
		b, err := json.Marshal(e.Region)
		if err != nil {
			return fmt.Errorf("encode region: %w", err)
		}
		region = sql.NullString{String: string(b), Valid: true}
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (id, kind, subject, confidence, region, cycle, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), e.Kind.String(), e.Subject, e.Confidence, region, int64(e.Cycle), e.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("record %s event: %w", e.Kind, err)
	}
	return nil
}

// HandleEvent records e with a background context. It is an event.Handler.
func (j *Journal) HandleEvent(e event.Event) error {
	return j.RecordEvent(context.Background(), e)
}

// RecordGreeting appends g.
func (j *Journal) RecordGreeting(ctx context.Context, g Greeting) error {
	var speechErr sql.NullString
	if g.SpeechError != "" {
		speechErr = sql.NullString{String: g.SpeechError, Valid: true}
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO greetings (id, session_id, subject, confidence, text, gesture_accepted, speech_error,
			initial_latency_ms, total_latency_ms, at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), g.SessionID, g.Subject, g.Confidence, g.Text, g.GestureAccepted, speechErr,
		g.InitialLatency.Milliseconds(), g.TotalLatency.Milliseconds(), g.At.UnixNano())
	if err != nil {
		return fmt.Errorf("record greeting for %s: %w", g.Subject, err)
	}
	return nil
}

// RecentEvents returns up to n of the latest events, oldest first. n <= 0
// returns everything.
func (j *Journal) RecentEvents(ctx context.Context, n int) ([]event.Event, error) {
	limit := n
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT kind, subject, confidence, region, cycle, at FROM events ORDER BY at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			kind    string
			subject sql.NullString
			conf    sql.NullFloat64
			region  sql.NullString
			cycle   int64
			at      int64
		)
		if err := rows.Scan(&kind, &subject, &conf, &region, &cycle, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		k, err := event.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		e := event.Event{
			Kind:       k,
			Timestamp:  time.Unix(0, at),
			Subject:    subject.String,
			Confidence: conf.Float64,
			Cycle:      uint64(cycle),
		}
		if region.Valid {
			var r event.Region
			if err := json.Unmarshal([]byte(region.String), &r); err != nil {
				return nil, fmt.Errorf("decode region: %w", err)
			}
			e.Region = &r
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// GreetingSummary aggregates greetings per subject, most greeted first.
func (j *Journal) GreetingSummary(ctx context.Context) ([]SubjectSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT subject,
			COUNT(*),
			COUNT(DISTINCT session_id),
			SUM(CASE WHEN speech_error IS NOT NULL THEN 1 ELSE 0 END),
			AVG(total_latency_ms),
			MAX(at)
		FROM greetings
		GROUP BY subject
		ORDER BY COUNT(*) DESC, subject ASC`)
	if err != nil {
		return nil, fmt.Errorf("query greeting summary: %w", err)
	}
	defer rows.Close()

	var out []SubjectSummary
	for rows.Next() {
		var (
			s     SubjectSummary
			avgMs float64
			last  int64
		)
		if err := rows.Scan(&s.Subject, &s.Greetings, &s.Sessions, &s.SpeechFailures, &avgMs, &last); err != nil {
			return nil, fmt.Errorf("scan greeting summary: %w", err)
		}
		s.AvgLatency = time.Duration(avgMs * float64(time.Millisecond))
		s.LastGreeted = time.Unix(0, last)
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountEvents returns the number of journaled events per kind.
func (j *Journal) CountEvents(ctx context.Context) (map[event.Kind]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := make(map[event.Kind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		k, err := event.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}
