// Package logger provides logging implementations for the aegis orchestrator.
//
// Loggers record task lifecycle events, optimization signals and batch
// summaries. Implementations are thread-safe and filter by level.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/aegis/internal/learning"
	"github.com/harrison/aegis/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs to a writer with [HH:MM:SS] timestamps.
// Color output is enabled automatically for os.Stdout/os.Stderr TTYs.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive); anything else means info.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal reports whether w is a color-capable terminal.
// NO_COLOR is honored through color.NoColor.
func isTerminal(w io.Writer) bool {
	if w == nil {
		return false
	}
	f, ok := w.(*os.File)
	if !ok || color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	if cl.colorOutput {
		fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, colorLevel(level), message)
		return
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, level, message)
}

func colorLevel(level string) string {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	}
	return level
}

// LogTaskQueued logs a newly submitted task at DEBUG level.
// Format: "[HH:MM:SS] Task <id> (<type>) queued at <PRIORITY>"
func (cl *ConsoleLogger) LogTaskQueued(task models.Task) {
	if cl.writer == nil || !cl.shouldLog("debug") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	fmt.Fprintf(cl.writer, "[%s] Task %s (%s) queued at %s\n", timestamp(), task.ID, task.Type, task.Priority)
}

// LogTaskResult logs a terminal task at DEBUG level, or at ERROR level for failures.
// Format: "[HH:MM:SS] Task <id> (<type>): <status>[ - <kind>: <error>]"
func (cl *ConsoleLogger) LogTaskResult(task models.Task) error {
	if cl.writer == nil {
		return nil
	}
	level := "debug"
	if task.Status == models.StatusFailed {
		level = "error"
	}
	if !cl.shouldLog(level) {
		return nil
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	status := string(task.Status)
	if cl.colorOutput {
		status = colorStatus(task.Status)
	}
	message := fmt.Sprintf("[%s] Task %s (%s): %s", timestamp(), task.ID, task.Type, status)
	if task.Status == models.StatusFailed {
		message += fmt.Sprintf(" - %s: %s", task.ErrorKind, task.Error)
	}
	_, err := fmt.Fprintln(cl.writer, message)
	return err
}

func colorStatus(status models.TaskStatus) string {
	switch status {
	case models.StatusCompleted:
		return color.New(color.FgGreen).Sprint("COMPLETED")
	case models.StatusFailed:
		return color.New(color.FgRed).Sprint("FAILED")
	case models.StatusCancelled:
		return color.New(color.FgYellow).Sprint("CANCELLED")
	}
	return string(status)
}

// LogOptimization logs an optimization event at WARN level.
// Format: "[HH:MM:SS] [WARN] Optimization for <type>: <reason> (n=<samples>, success=<rate>, avg=<d>)"
func (cl *ConsoleLogger) LogOptimization(ev learning.OptimizationEvent) {
	cl.LogWarn(formatOptimization(ev))
}

func formatOptimization(ev learning.OptimizationEvent) string {
	return fmt.Sprintf("Optimization for %s: %s -> %s (n=%d, success=%.0f%%, avg=%s)",
		ev.TaskType, ev.Reason, ev.AppliedStrategy, ev.SampleCount, ev.SuccessRate*100, formatDuration(ev.AvgExecTime))
}

// LogSummary logs a batch summary at INFO level.
func (cl *ConsoleLogger) LogSummary(summary models.Summary) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var sb strings.Builder

	header := "=== Execution Summary ==="
	completed := fmt.Sprintf("Completed: %d", summary.Completed)
	failed := fmt.Sprintf("Failed: %d", summary.Failed)
	cancelled := fmt.Sprintf("Cancelled: %d", summary.Cancelled)
	if cl.colorOutput {
		header = color.New(color.Bold).Sprint(header)
		completed = color.New(color.FgGreen).Sprint(completed)
		if summary.Failed > 0 {
			failed = color.New(color.FgRed).Sprint(failed)
		}
		if summary.Cancelled > 0 {
			cancelled = color.New(color.FgYellow).Sprint(cancelled)
		}
	}

	fmt.Fprintf(&sb, "[%s] %s\n", ts, header)
	fmt.Fprintf(&sb, "[%s] Total tasks: %d\n", ts, summary.Total)
	fmt.Fprintf(&sb, "[%s] %s\n", ts, completed)
	fmt.Fprintf(&sb, "[%s] %s\n", ts, failed)
	fmt.Fprintf(&sb, "[%s] %s\n", ts, cancelled)
	fmt.Fprintf(&sb, "[%s] Duration: %s\n", ts, formatDuration(summary.Duration))

	if len(summary.Failures) > 0 {
		fmt.Fprintf(&sb, "[%s] Failed tasks:\n", ts)
		for _, task := range summary.Failures {
			name := task.Type
			if cl.colorOutput {
				name = color.New(color.FgRed).Sprint(name)
			}
			fmt.Fprintf(&sb, "[%s]   - %s %s: %s\n", ts, task.ID, name, task.Error)
		}
	}

	cl.writer.Write([]byte(sb.String()))
}

// LogProgress logs how many of tasks have reached a terminal state.
// Format: "[HH:MM:SS] Progress: [===x      ] 4/10 (40%) - Avg: 3s/task"
func (cl *ConsoleLogger) LogProgress(tasks []models.Task) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	pb := NewProgressBar(len(tasks), 10, cl.colorOutput)
	var total time.Duration
	timed := 0
	for _, task := range tasks {
		pb.Add(task.Status)
		if task.Status.IsTerminal() && task.StartedAt != nil && task.FinishedAt != nil {
			total += task.FinishedAt.Sub(*task.StartedAt)
			timed++
		}
	}

	avg := ""
	if timed > 0 {
		avg = fmt.Sprintf(" - Avg: %s/task", formatDuration(total/time.Duration(timed)))
	}
	fmt.Fprintf(cl.writer, "[%s] Progress: %s%s\n", timestamp(), pb.Render(), avg)
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "250ms", "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		minutes := (d % time.Hour) / time.Minute
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case d >= time.Minute:
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	case d >= time.Second:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}

// NoOpLogger discards all log messages.
// Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogTrace(string)                            {}
func (n *NoOpLogger) LogDebug(string)                            {}
func (n *NoOpLogger) LogInfo(string)                             {}
func (n *NoOpLogger) LogWarn(string)                             {}
func (n *NoOpLogger) LogError(string)                            {}
func (n *NoOpLogger) LogTaskQueued(models.Task)                  {}
func (n *NoOpLogger) LogTaskResult(models.Task) error            { return nil }
func (n *NoOpLogger) LogOptimization(learning.OptimizationEvent) {}
func (n *NoOpLogger) LogSummary(models.Summary)                  {}
func (n *NoOpLogger) LogProgress([]models.Task)                  {}
