// Package logger writes a per-day session log file alongside the standard
// process log. The file is the human-readable record an operator reads back
// after the session; structured metrics live in monitoring.
package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level tags a session log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelOrder Level = "ORDER"
	LevelRisk  Level = "RISK"
)

// SessionLogger appends timestamped entries to logs/session_<date>.log.
type SessionLogger struct {
	mu      sync.Mutex
	file    *os.File
	logger  *log.Logger
	logPath string
	now     func() time.Time
}

// NewSessionLogger opens (or creates) today's session log under dir.
func NewSessionLogger(dir string) (*SessionLogger, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(dir, fmt.Sprintf("session_%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}

	l := &SessionLogger{
		file:    file,
		logger:  log.New(file, "", 0),
		logPath: logPath,
		now:     time.Now,
	}
	l.writeHeader()
	return l, nil
}

func (l *SessionLogger) writeHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("================================================================")
	l.logger.Printf("SESSION STARTED %s", l.now().Format("2006-01-02 15:04:05"))
	l.logger.Printf("================================================================")
}

// Log writes one tagged entry.
func (l *SessionLogger) Log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("[%s] [%s] %s",
		l.now().Format("2006-01-02 15:04:05"), level, fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *SessionLogger) Info(format string, args ...interface{}) {
	l.Log(LevelInfo, format, args...)
}

// Warn logs a warning.
func (l *SessionLogger) Warn(format string, args ...interface{}) {
	l.Log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *SessionLogger) Error(format string, args ...interface{}) {
	l.Log(LevelError, format, args...)
}

// Order logs an order lifecycle event.
func (l *SessionLogger) Order(format string, args ...interface{}) {
	l.Log(LevelOrder, format, args...)
}

// Risk logs a risk state change such as a breaker or drawdown transition.
func (l *SessionLogger) Risk(format string, args ...interface{}) {
	l.Log(LevelRisk, format, args...)
}

// LogExecution records a confirmed order placement.
func (l *SessionLogger) LogExecution(symbol, side string, quantity int, price float64, brokerOrderID string) {
	l.Order("%s %s x%d @ %.2f placed, broker id %s", side, symbol, quantity, price, brokerOrderID)
}

// LogTradeResult records a realized trade outcome.
func (l *SessionLogger) LogTradeResult(orderID string, pnl float64) {
	if pnl < 0 {
		l.Order("trade %s closed at a loss of %.2f", orderID, -pnl)
		return
	}
	l.Order("trade %s closed with profit %.2f", orderID, pnl)
}

// Path returns the session log file path.
func (l *SessionLogger) Path() string {
	return l.logPath
}

// Close writes the session footer and closes the file.
func (l *SessionLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	l.logger.Printf("================================================================")
	l.logger.Printf("SESSION ENDED %s", l.now().Format("2006-01-02 15:04:05"))
	l.logger.Printf("================================================================")
	err := l.file.Close()
	l.file = nil
	return err
}
