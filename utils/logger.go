package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger provides leveled printf-style logging for every stage of the
// pipeline. Console output is colored; the optional run log file is not.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	err   io.Writer
	file  *os.File
	debug bool
}

// NewLogger creates a Logger writing to stdout/stderr.
func NewLogger() *Logger {
	return &Logger{out: os.Stdout, err: os.Stderr}
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	return &Logger{out: io.Discard, err: io.Discard}
}

// SetDebug toggles DEBUG output.
func (l *Logger) SetDebug(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = on
}

// OpenRunLog mirrors every subsequent line into logs/pipeline_<timestamp>.log
// under dir and returns the file path.
func (l *Logger) OpenRunLog(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("logger: create log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("pipeline_%s.log", time.Now().Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("logger: create log file %q: %w", path, err)
	}

	l.mu.Lock()
	l.file = f
	l.mu.Unlock()
	return path, nil
}

// Close closes the run log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Writer returns the console writer, for libraries that log on their own.
func (l *Logger) Writer() io.Writer {
	return l.out
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) write(w io.Writer, level, color, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ts := l.timestamp()

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(w, "[%s] \033[%sm%-5s\033[0m %s\n", ts, color, level, msg)
	if l.file != nil {
		fmt.Fprintf(l.file, "[%s] %-5s %s\n", ts, level, msg)
	}
}

func (l *Logger) Info(format string, args ...any) {
	l.write(l.out, "INFO", "32", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.write(l.out, "WARN", "33", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.write(l.err, "ERROR", "31", format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.mu.Lock()
	on := l.debug
	l.mu.Unlock()
	if !on {
		return
	}
	l.write(l.out, "DEBUG", "36", format, args...)
}
