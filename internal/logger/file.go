package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/harrison/aegis/internal/learning"
	"github.com/harrison/aegis/internal/models"
)

// Rotation limits for run logs
const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 5
	defaultMaxAgeDays = 28
)

// FileLogger writes a per-run log file under logDir, rotated by size, and
// keeps a latest.log symlink pointing at the current run.
type FileLogger struct {
	logDir   string
	runFile  string
	out      *lumberjack.Logger
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a FileLogger in logDir with level "info".
func NewFileLogger(logDir string) (*FileLogger, error) {
	return NewFileLoggerWithLevel(logDir, "info")
}

// NewFileLoggerWithLevel creates a FileLogger in logDir with a custom level.
func NewFileLoggerWithLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	out := &lumberjack.Logger{
		Filename:   runFile,
		MaxSize:    defaultMaxSizeMB,
		MaxBackups: defaultMaxBackups,
		MaxAge:     defaultMaxAgeDays,
		Compress:   true,
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runFile:  runFile,
		out:      out,
		logLevel: normalizeLogLevel(logLevel),
	}
	fl.write("=== Aegis Run Log ===\n")
	fl.write(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))
	return fl, nil
}

// RunFile returns the path of the current run log
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}
	fl.write(fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), level, message))
}

// LogTaskQueued records a submitted task
func (fl *FileLogger) LogTaskQueued(task models.Task) {
	fl.LogDebug(fmt.Sprintf("Task %s (%s) queued at %s", task.ID, task.Type, task.Priority))
}

// LogTaskResult records every terminal task regardless of level, with timing
func (fl *FileLogger) LogTaskResult(task models.Task) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] Task %s (%s): %s", time.Now().Format("2006-01-02 15:04:05"), task.ID, task.Type, task.Status)
	if task.AgentID != "" {
		fmt.Fprintf(&sb, " agent=%s", task.AgentID)
	}
	if task.Attempts > 1 {
		fmt.Fprintf(&sb, " attempts=%d", task.Attempts)
	}
	if task.StartedAt != nil && task.FinishedAt != nil {
		fmt.Fprintf(&sb, " duration=%s", task.FinishedAt.Sub(*task.StartedAt))
	}
	if task.Error != "" {
		fmt.Fprintf(&sb, " error_kind=%s error=%q", task.ErrorKind, task.Error)
	}
	sb.WriteString("\n")
	return fl.write(sb.String())
}

// LogOptimization records an optimization event
func (fl *FileLogger) LogOptimization(ev learning.OptimizationEvent) {
	fl.LogWarn(formatOptimization(ev))
}

// LogSummary records a batch summary
func (fl *FileLogger) LogSummary(summary models.Summary) {
	var sb strings.Builder
	sb.WriteString("\n=== Execution Summary ===\n")
	fmt.Fprintf(&sb, "Total tasks: %d\n", summary.Total)
	fmt.Fprintf(&sb, "Completed: %d\n", summary.Completed)
	fmt.Fprintf(&sb, "Failed: %d\n", summary.Failed)
	fmt.Fprintf(&sb, "Cancelled: %d\n", summary.Cancelled)
	fmt.Fprintf(&sb, "Duration: %s\n", summary.Duration)
	for _, task := range summary.Failures {
		fmt.Fprintf(&sb, "  - %s %s: %s\n", task.ID, task.Type, task.Error)
	}
	fl.write(sb.String())
}

// LogProgress is not recorded in run logs; terminal results already are.
func (fl *FileLogger) LogProgress([]models.Task) {}

// Close flushes and closes the run log.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.out == nil {
		return nil
	}
	err := fl.out.Close()
	fl.out = nil
	return err
}

func (fl *FileLogger) write(message string) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.out == nil {
		return nil
	}
	_, err := fl.out.Write([]byte(message))
	return err
}
