// Package logging provides leveled key=value console output for the bus.
// The queue store is the durable record; this package exists for real-time
// monitoring of workers, the reaper, and dead-letter traffic.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Logger writes structured log lines to a single writer.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// New creates a new Logger writing to stdout at INFO.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger scoped to the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as sorted key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a line: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Bus event helpers ---
// Called by the bus, worker loop, and reaper around state transitions.

// MessageSent logs acceptance of a message.
func (l *Logger) MessageSent(id, source, target string, msgType string) {
	l.Debug("message_sent", map[string]interface{}{
		"id":     id,
		"source": source,
		"target": target,
		"type":   msgType,
	})
}

// MessageClaimed logs a successful claim.
func (l *Logger) MessageClaimed(id, agent string, attempt int) {
	l.Debug("message_claimed", map[string]interface{}{
		"id":      id,
		"agent":   agent,
		"attempt": attempt,
	})
}

// MessageCompleted logs a completion.
func (l *Logger) MessageCompleted(id, agent string, duration time.Duration) {
	l.Debug("message_completed", map[string]interface{}{
		"id":       id,
		"agent":    agent,
		"duration": duration.String(),
	})
}

// MessageFailed logs a failure and the retry decision.
func (l *Logger) MessageFailed(id, agent string, attempt int, retryIn time.Duration, err error) {
	fields := map[string]interface{}{
		"id":      id,
		"agent":   agent,
		"attempt": attempt,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if retryIn > 0 {
		fields["retry_in"] = retryIn.String()
	}
	l.Warn("message_failed", fields)
}

// DeadLettered logs a message exhausting its attempt budget.
func (l *Logger) DeadLettered(id, agent string, attempts int, err string) {
	l.Error("message_dead_lettered", map[string]interface{}{
		"id":       id,
		"agent":    agent,
		"attempts": attempts,
		"error":    err,
	})
}

// ReapSweep logs a reaper pass that reclaimed stuck messages.
func (l *Logger) ReapSweep(reclaimed int, cutoff time.Time) {
	if reclaimed == 0 {
		return
	}
	l.Warn("reap_sweep", map[string]interface{}{
		"reclaimed": reclaimed,
		"cutoff":    cutoff.UTC().Format(time.RFC3339),
	})
}

// WorkerStarted logs a worker loop starting.
func (l *Logger) WorkerStarted(agent string, pollInterval time.Duration) {
	l.Info("worker_started", map[string]interface{}{
		"agent":         agent,
		"poll_interval": pollInterval.String(),
	})
}

// WorkerStopped logs a worker loop stopping.
func (l *Logger) WorkerStopped(agent string, processed, failed int) {
	l.Info("worker_stopped", map[string]interface{}{
		"agent":     agent,
		"processed": processed,
		"failed":    failed,
	})
}
