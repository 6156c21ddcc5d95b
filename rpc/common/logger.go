package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

var (
	// dragonboatLoggers are the package loggers of the raft library
	dragonboatLoggers = []string{"raft", "raftdb", "rsm", "transport", "dragonboat", "grpc", "util", "logdb", "config"}

	// ddocLoggers are the package loggers of dDoc
	ddocLoggers = []string{"catalog", "query", "repl", "role", "store", "rpc", "transport/rpc"}

	// logOutput is where loggers created by CreateLogger write to
	logOutput io.Writer = os.Stdout

	// dragonboat panics if the factory is set twice
	installFactory sync.Once
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboat's logger.ILogger)
// --------------------------------------------------------------------------

// ddocLogger prints "LEVEL | package | message" lines
type ddocLogger struct {
	name   string
	level  atomic.Int32
	logger *log.Logger
}

func (l *ddocLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *ddocLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *ddocLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log("DEBUG", format, args...)
	}
}

func (l *ddocLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log("INFO", format, args...)
	}
}

func (l *ddocLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.log("WARN", format, args...)
	}
}

func (l *ddocLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.log("ERROR", format, args...)
	}
}

// Panicf logs the message and panics regardless of the level.
func (l *ddocLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.log("PANIC", "%s", msg)
	panic(msg)
}

func (l *ddocLogger) log(levelStr string, format string, args ...interface{}) {
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, fmt.Sprintf(format, args...))
}

// CreateLogger is the logger factory installed by InitLoggers.
func CreateLogger(pkgName string) logger.ILogger {
	l := &ddocLogger{
		name:   pkgName,
		logger: log.New(logOutput, "", log.Ldate|log.Ltime),
	}
	l.level.Store(int32(logger.INFO))
	return l
}

// --------------------------------------------------------------------------
// Levels
// --------------------------------------------------------------------------

// ParseLogLevel converts debug, info, warn or error to a logger.LogLevel.
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "", "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level %q, must be one of debug, info, warn, error", level)
	}
}

// InitLoggers installs CreateLogger as the dragonboat logger factory (once per
// process) and sets the configured level on the raft and dDoc loggers. The raft loggers are
// capped at warn unless debug logging is enabled, since they are chatty.
func InitLoggers(config ServerConfig) error {
	level, err := ParseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}

	installFactory.Do(func() { logger.SetLoggerFactory(CreateLogger) })

	raftLevel := level
	if raftLevel == logger.INFO {
		raftLevel = logger.WARNING
	}
	for _, name := range dragonboatLoggers {
		logger.GetLogger(name).SetLevel(raftLevel)
	}
	for _, name := range ddocLoggers {
		logger.GetLogger(name).SetLevel(level)
	}
	return nil
}
