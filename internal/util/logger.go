package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const LOG_BUFFER_SIZE = 1000

var ErrLogNotInitialized = errors.New("log object is not initialized yet")

const (
	LOG_LEVEL_ERROR = iota + 1
	LOG_LEVEL_WARN
	LOG_LEVEL_INFO
	LOG_LEVEL_DEBUG
)

type LoggerOptions struct {
	Dir      string
	FileName string
	Level    string
	Rewrite  bool
	Stderr   bool
}

// MetricsLogger queues leveled messages on a buffered channel that a single
// goroutine drains into zap, so request paths never block on file I/O unless
// the buffer is full. The zero value is usable and drops every event.
type MetricsLogger struct {
	mu        sync.RWMutex
	logBuffer chan LeveledLogger
	handle    *os.File
	wg        sync.WaitGroup
	active    bool
	zapLogger *zap.Logger
}

type LeveledLogger struct {
	level  int
	logMsg string
}

func (m *MetricsLogger) Init(opts LoggerOptions) error {
	if err := CheckAndCreateLogFolder(opts.Dir); err != nil {
		return err
	}

	flags := os.O_RDWR | os.O_CREATE | os.O_APPEND
	if opts.Rewrite {
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	}
	handle, err := os.OpenFile(filepath.Join(opts.Dir, opts.FileName), flags, 0666)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handle = handle
	m.logBuffer = make(chan LeveledLogger, LOG_BUFFER_SIZE)
	m.zapLogger = newZapLogger(handle, ParseLogLevel(opts.Level), opts.Stderr)

	m.wg.Add(1)
	go m.logWritter()

	m.active = true
	return nil
}

func newZapLogger(handle *os.File, level int, mirror bool) *zap.Logger {
	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(config)

	zapLevel := ZapLevel(level)
	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(handle), zapLevel)}
	if mirror {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zapLevel))
	}
	return zap.New(zapcore.NewTee(cores...))
}

// ParseLogLevel maps a config string to one of the LOG_LEVEL constants.
// Unknown values fall back to info.
func ParseLogLevel(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return LOG_LEVEL_ERROR
	case "warn", "warning":
		return LOG_LEVEL_WARN
	case "debug":
		return LOG_LEVEL_DEBUG
	default:
		return LOG_LEVEL_INFO
	}
}

func ZapLevel(level int) zapcore.Level {
	switch level {
	case LOG_LEVEL_ERROR:
		return zapcore.ErrorLevel
	case LOG_LEVEL_WARN:
		return zapcore.WarnLevel
	case LOG_LEVEL_DEBUG:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func (m *MetricsLogger) logWritter() {
	defer m.wg.Done()
	for logdata := range m.logBuffer {
		switch logdata.level {
		case LOG_LEVEL_ERROR:
			m.zapLogger.Error(logdata.logMsg)
		case LOG_LEVEL_WARN:
			m.zapLogger.Warn(logdata.logMsg)
		case LOG_LEVEL_DEBUG:
			m.zapLogger.Debug(logdata.logMsg)
		default:
			m.zapLogger.Info(logdata.logMsg)
		}
	}
}

// LogEvent accepts an optional leading LOG_LEVEL constant followed by values
// that are joined with spaces.
func (m *MetricsLogger) LogEvent(v ...interface{}) error {
	if m == nil {
		return ErrLogNotInitialized
	}

	level := LOG_LEVEL_INFO
	if len(v) > 1 {
		if l, ok := v[0].(int); ok && l >= LOG_LEVEL_ERROR && l <= LOG_LEVEL_DEBUG {
			level = l
			v = v[1:]
		}
	}
	msg := strings.TrimSuffix(fmt.Sprintln(v...), "\n")

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active {
		return ErrLogNotInitialized
	}
	m.logBuffer <- LeveledLogger{level, msg}
	return nil
}

func (m *MetricsLogger) DeInit() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	close(m.logBuffer)
	m.mu.Unlock()

	m.wg.Wait()
	_ = m.zapLogger.Sync()
	m.handle.Close()
}

func CheckAndCreateLogFolder(folderNameWithPath string) error {
	if _, err := os.Stat(folderNameWithPath); os.IsNotExist(err) {
		if err := os.MkdirAll(folderNameWithPath, 0755); err != nil {
			return fmt.Errorf("creating folder %s: %w", folderNameWithPath, err)
		}
	}
	return nil
}
