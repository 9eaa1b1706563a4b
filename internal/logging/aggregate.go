package logging

// This file contains utilities for reading back greeter's JSON logs,
// filtering them, summarizing a run, and exporting entries.

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"
)

// LogEntry represents a parsed log entry with the well-known fields lifted out.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	SessionID string         `json:"session_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Event     string         `json:"event,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter defines criteria for filtering log entries. Zero-valued fields
// do not filter. Criteria combine with AND.
type LogFilter struct {
	// Level keeps entries at or above this level.
	Level     string
	StartTime time.Time
	EndTime   time.Time
	SessionID string
	Component string
	Subject   string
	Event     string
	// MessageContains keeps entries whose message contains this substring.
	MessageContains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// AggregateLogs reads the active log file in dir together with any rotated
// backups (plain or gzipped) and returns all entries sorted by timestamp.
// Lines that are not valid JSON are skipped.
func AggregateLogs(dir string) ([]LogEntry, error) {
	active := filepath.Join(dir, LogFileName)
	if _, err := os.Stat(active); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file found in %s: %w", dir, err)
		}
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	backups, err := filepath.Glob(active + ".*")
	if err != nil {
		return nil, fmt.Errorf("failed to list rotated logs: %w", err)
	}

	var entries []LogEntry
	for _, path := range append(backups, active) {
		got, err := readLogFile(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, got...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func readLogFile(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed log %s: %w", path, err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return ReadLogEntries(r)
}

// ReadLogEntries parses JSON log lines from r in order, skipping blank and
// malformed lines.
func ReadLogEntries(r io.Reader) ([]LogEntry, error) {
	scanner := bufio.NewScanner(r)
	const maxLine = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var entries []LogEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log: %w", err)
	}
	return entries, nil
}

func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{Attrs: make(map[string]any)}
	take := func(key string) string {
		s, _ := raw[key].(string)
		delete(raw, key)
		return s
	}

	if t, err := time.Parse(time.RFC3339Nano, take("time")); err == nil {
		entry.Timestamp = t
	}
	entry.Level = take("level")
	entry.Message = take("msg")
	entry.SessionID = take(KeySession)
	entry.Component = take(KeyComponent)
	entry.Subject = take(KeySubject)
	entry.Event = take(KeyEvent)

	for k, v := range raw {
		entry.Attrs[k] = v
	}
	return entry, nil
}

// FilterLogs returns the entries matching filter.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	if filter == (LogFilter{}) {
		return entries
	}
	var out []LogEntry
	for _, e := range entries {
		if matchesFilter(e, filter) {
			out = append(out, e)
		}
	}
	return out
}

func matchesFilter(e LogEntry, f LogFilter) bool {
	if f.Level != "" {
		want, okW := levelOrder[ParseLevel(f.Level)]
		got, okG := levelOrder[e.Level]
		if okW && okG && got < want {
			return false
		}
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains) {
		return false
	}
	return true
}

// MetricSummary aggregates one numeric attribute across entries.
type MetricSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Report summarizes a run's log.
type Report struct {
	Total        int                      `json:"total_entries"`
	Start        time.Time                `json:"start_time"`
	End          time.Time                `json:"end_time"`
	Duration     time.Duration            `json:"duration"`
	ByLevel      map[string]int           `json:"by_level"`
	ByComponent  map[string]int           `json:"by_component"`
	ByEvent      map[string]int           `json:"by_event"`
	Metrics      map[string]MetricSummary `json:"metrics"`
	RecentErrors []LogEntry               `json:"recent_errors,omitempty"`
}

// maxRecentErrors bounds Report.RecentErrors.
const maxRecentErrors = 10

// Summarize builds a Report from entries. Numeric attributes whose key ends
// in "_ms" are treated as latency metrics.
func Summarize(entries []LogEntry) Report {
	rep := Report{
		Total:       len(entries),
		ByLevel:     make(map[string]int),
		ByComponent: make(map[string]int),
		ByEvent:     make(map[string]int),
		Metrics:     make(map[string]MetricSummary),
	}
	samples := make(map[string][]float64)

	for _, e := range entries {
		if !e.Timestamp.IsZero() {
			if rep.Start.IsZero() || e.Timestamp.Before(rep.Start) {
				rep.Start = e.Timestamp
			}
			if e.Timestamp.After(rep.End) {
				rep.End = e.Timestamp
			}
		}
		rep.ByLevel[e.Level]++
		if e.Component != "" {
			rep.ByComponent[e.Component]++
		}
		if e.Event != "" {
			rep.ByEvent[e.Event]++
		}
		if e.Level == LevelError {
			rep.RecentErrors = append(rep.RecentErrors, e)
		}
		for k, v := range e.Attrs {
			f, ok := v.(float64)
			if ok && strings.HasSuffix(k, "_ms") {
				samples[k] = append(samples[k], f)
			}
		}
	}

	if len(rep.RecentErrors) > maxRecentErrors {
		rep.RecentErrors = rep.RecentErrors[len(rep.RecentErrors)-maxRecentErrors:]
	}
	if !rep.Start.IsZero() {
		rep.Duration = rep.End.Sub(rep.Start)
	}
	for k, vs := range samples {
		rep.Metrics[k] = summarizeMetric(vs)
	}
	return rep
}

func summarizeMetric(vs []float64) MetricSummary {
	sorted := slices.Clone(vs)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return MetricSummary{
		Count:  n,
		Mean:   sum / float64(n),
		Median: median,
		Min:    sorted[0],
		Max:    sorted[n-1],
	}
}

// ExportLogEntries writes entries to w in the given format.
// Supported formats: "json", "text", "csv".
func ExportLogEntries(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "text", "":
		return exportText(w, entries)
	case "csv":
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s (supported: json, text, csv)", format)
	}
}

// FormatEntry renders a single entry as one human-readable line.
func FormatEntry(e LogEntry) string {
	parts := []string{
		e.Timestamp.Format("2006-01-02 15:04:05.000"),
		fmt.Sprintf("%-5s", e.Level),
	}
	if e.Component != "" {
		parts = append(parts, "["+e.Component+"]")
	}
	parts = append(parts, e.Message)

	var ctx []string
	if e.Subject != "" {
		ctx = append(ctx, "subject="+e.Subject)
	}
	if e.Event != "" {
		ctx = append(ctx, "event="+e.Event)
	}
	if len(ctx) > 0 {
		parts = append(parts, "("+strings.Join(ctx, ", ")+")")
	}
	if len(e.Attrs) > 0 {
		if b, err := json.Marshal(e.Attrs); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, " ")
}

func exportText(w io.Writer, entries []LogEntry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, FormatEntry(e)); err != nil {
			return fmt.Errorf("failed to write text entry: %w", err)
		}
	}
	return nil
}

func exportCSV(w io.Writer, entries []LogEntry) error {
	cw := csv.NewWriter(w)
	header := []string{"timestamp", "level", "message", "session_id", "component", "subject", "event", "attrs"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		attrs := ""
		if len(e.Attrs) > 0 {
			if b, err := json.Marshal(e.Attrs); err == nil {
				attrs = string(b)
			}
		}
		record := []string{
			e.Timestamp.Format(time.RFC3339Nano),
			e.Level,
			e.Message,
			e.SessionID,
			e.Component,
			e.Subject,
			e.Event,
			attrs,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
