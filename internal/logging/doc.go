// Package logging provides structured logging for greeter.
//
// This package wraps Go's log/slog to write JSON lines that can be read back
// after a run by `greeter logs`. Every component receives a [*Logger] at
// construction and derives a child tagged with its own name.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/greeter", "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithSession(sessionID).WithComponent("coordinator")
//	log.WithSubject("Alice").Info("greeting delivered", "total_ms", 412.0)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"greeting delivered","session_id":"...","component":"coordinator","subject":"Alice","total_ms":412}
//
// # Rotation
//
// [RotatingWriter] rotates greeter.log by size into greeter.log.1 (newest)
// through greeter.log.N, optionally gzipped.
//
// # Aggregation
//
// [AggregateLogs] reads the active file plus all backups, [FilterLogs]
// narrows them, [Summarize] produces a [Report] (level, component and event
// counts plus latency statistics for every numeric "_ms" attribute), and
// [ExportLogEntries] writes JSON, text or CSV.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] over a
// bytes.Buffer to assert on emitted entries.
package logging
