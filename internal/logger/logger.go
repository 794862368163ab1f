package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"detectserver/internal/config"

	"github.com/lmittmann/tint"
	"github.com/samber/lo"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file names served by the /logs endpoints.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to rotated files and the console.
type Logger struct {
	console    *slog.Logger
	infoLog    *slog.Logger
	warningLog *slog.Logger
	errorLog   *slog.Logger
	files      []*lumberjack.Logger
	logDir     string
	mu         sync.Mutex
}

// NewLogger creates a Logger writing to stderr and to the configured log directory.
func NewLogger(cfg *config.Config) (*Logger, error) {
	return New(cfg.LogDirectory, os.Stderr)
}

// New creates a Logger with an explicit console writer. An empty logDir disables log files.
func New(logDir string, console io.Writer) (*Logger, error) {
	l := &Logger{
		logDir: logDir,
		console: slog.New(tint.NewHandler(console, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.DateTime,
		})),
	}

	if logDir == "" {
		discard := slog.New(slog.NewTextHandler(io.Discard, nil))
		l.infoLog, l.warningLog, l.errorLog = discard, discard, discard
		return l, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l.infoLog = l.fileLogger(InfoFile)
	l.warningLog = l.fileLogger(WarningFile)
	l.errorLog = l.fileLogger(ErrorFile)
	return l, nil
}

// NewNop returns a Logger that drops everything. Used by tests and the offline CLI.
func NewNop() *Logger {
	l, _ := New("", io.Discard)
	return l
}

// fileLogger opens a size-rotated log file for one level.
func (l *Logger) fileLogger(name string) *slog.Logger {
	file := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, name),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28,
	}
	l.files = append(l.files, file)
	return slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.log(l.infoLog, slog.LevelInfo, format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.log(l.warningLog, slog.LevelWarn, format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.log(l.errorLog, slog.LevelError, format, v...)
}

func (l *Logger) log(file *slog.Logger, level slog.Level, format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)

	l.mu.Lock()
	defer l.mu.Unlock()
	ctx := context.Background()
	l.console.Log(ctx, level, msg)
	file.Log(ctx, level, msg)
}

// Dir returns the directory holding the log files.
func (l *Logger) Dir() string {
	return l.logDir
}

// CleanLogs empties the specified log file. The file is rotated through
// lumberjack so its size accounting restarts at zero, and the rotated
// backups of that level are removed with it.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return nil
	}

	name := filepath.Base(fileName)
	l.mu.Lock()
	err := l.cleanLocked(name)
	l.mu.Unlock()
	if err != nil {
		l.Error("Error clearing log file %s: %v", name, err)
		return err
	}

	l.Info("Log file %s has been cleared", name)
	return nil
}

func (l *Logger) cleanLocked(name string) error {
	path := filepath.Join(l.logDir, name)
	file, ok := lo.Find(l.files, func(f *lumberjack.Logger) bool { return f.Filename == path })
	if !ok {
		return fmt.Errorf("unknown log file %s", name)
	}
	if err := file.Rotate(); err != nil {
		return fmt.Errorf("failed to rotate %s: %w", name, err)
	}

	ext := filepath.Ext(name)
	backups, err := filepath.Glob(filepath.Join(l.logDir, strings.TrimSuffix(name, ext)+"-*"+ext))
	if err != nil {
		return err
	}
	for _, backup := range backups {
		if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Close flushes and closes the log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
