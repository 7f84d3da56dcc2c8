package lib

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LogDirectory = "logs"
	LogFileName  = "log"
)

/*
	Leveled, colored logging for the node.
	Output goes to a configured writer, or (if none) to stdout plus an auto-rotating log file in the data directory.
	Components receive a 'named' child logger so each line carries the module that produced it.
*/

func init() {
	color.NoColor = false
}

// LoggerI defines the interface for various logging levels and formatted output
type LoggerI interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	Print(msg string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Printf(format string, args ...interface{})
	// Named() returns a child logger that prefixes every line with the module name
	Named(module string) LoggerI
}

const (
	DebugLevel int32 = -4
	InfoLevel  int32 = 0
	WarnLevel  int32 = 4
	ErrorLevel int32 = 8

	Reset = iota
	RED
	GREEN
	YELLOW
	BLUE
	GRAY
	CYAN
)

var (
	_ LoggerI = &Logger{}
)

// LoggerConfig holds configuration settings for the logger, including logging level and output writer
type LoggerConfig struct {
	Level int32 `json:"level"`
	Out   io.Writer
}

// Logger is the concrete implementation of LoggerI
type Logger struct {
	config LoggerConfig
	module string
	mu     *sync.Mutex // serializes writes between the parent and named children
}

// Debug() logs a message at the Debug level with blue color
func (l *Logger) Debug(msg string) { l.log(DebugLevel, BLUE, "DEBUG", msg) }

// Info() logs a message at the Info level with green color
func (l *Logger) Info(msg string) { l.log(InfoLevel, GREEN, "INFO", msg) }

// Warn() logs a message at the Warn level with yellow color
func (l *Logger) Warn(msg string) { l.log(WarnLevel, YELLOW, "WARN", msg) }

// Error() logs a message at the Error level with red color
func (l *Logger) Error(msg string) { l.log(ErrorLevel, RED, "ERROR", msg) }

// Print() logs a message without any specific log level or color
func (l *Logger) Print(msg string) { l.write(msg) }

// Fatal() logs an error message and terminates the program
func (l *Logger) Fatal(msg string) {
	l.write(colorString(RED, l.prefix("FATAL")+msg))
	os.Exit(1)
}

// Debugf() logs a formatted message at the Debug level
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, BLUE, "DEBUG", fmt.Sprintf(format, args...))
}

// Infof() logs a formatted message at the Info level
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, GREEN, "INFO", fmt.Sprintf(format, args...))
}

// Warnf() logs a formatted message at the Warn level
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, YELLOW, "WARN", fmt.Sprintf(format, args...))
}

// Errorf() logs a formatted message at the Error level
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, RED, "ERROR", fmt.Sprintf(format, args...))
}

// Fatalf() logs a formatted error message and terminates the program
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.Fatal(fmt.Sprintf(format, args...))
}

// Printf() logs a formatted message without any specific log level or color
func (l *Logger) Printf(format string, args ...interface{}) {
	l.write(fmt.Sprintf(format, args...))
}

// Named() returns a child logger sharing the output and level of the parent
func (l *Logger) Named(module string) LoggerI {
	if l.module != "" {
		module = l.module + "." + module
	}
	return &Logger{config: l.config, module: module, mu: l.mu}
}

// log() filters by level, then colors and writes the message
func (l *Logger) log(level int32, c int, tag, msg string) {
	if l.config.Level > level {
		return
	}
	l.write(colorString(c, l.prefix(tag)+msg))
}

// prefix() builds the level tag and optional module segment of a line
func (l *Logger) prefix(tag string) string {
	if l.module == "" {
		return tag + ": "
	}
	return tag + ": " + cString(CYAN, "["+l.module+"] ")
}

// write() outputs the log message with a timestamp to the configured writer
func (l *Logger) write(msg string) {
	timeColored := colorString(GRAY, time.Now().Format(time.StampMilli))
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.config.Out.Write([]byte(fmt.Sprintf("%s %s\n", timeColored, msg))); err != nil {
		fmt.Println(newLogError(err))
	}
}

// NewLogger() creates a new Logger instance with the specified configuration and optional data directory path
func NewLogger(config LoggerConfig, dataDirPath ...string) LoggerI {
	if config.Out == nil {
		dir := DefaultDataDirPath()
		if len(dataDirPath) != 0 && dataDirPath[0] != "" {
			dir = dataDirPath[0]
		}
		logPath := filepath.Join(dir, LogDirectory, LogFileName)
		if _, err := os.Stat(logPath); errors.Is(err, os.ErrNotExist) {
			if err = os.MkdirAll(filepath.Join(dir, LogDirectory), os.ModePerm); err != nil {
				panic(err)
			}
		}
		logFile := &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    1, // megabyte
			MaxBackups: 1500,
			MaxAge:     14, // days
			Compress:   true,
		}
		config.Out = io.MultiWriter(os.Stdout, logFile)
	}
	return &Logger{config: config, mu: &sync.Mutex{}}
}

// NewDefaultLogger() creates a Logger with default settings, logging at the Debug level to stdout
func NewDefaultLogger() LoggerI {
	return NewLogger(LoggerConfig{
		Level: DebugLevel,
		Out:   os.Stdout,
	})
}

// NewNullLogger() creates a Logger that discards all log output
func NewNullLogger() LoggerI {
	return NewLogger(LoggerConfig{
		Level: DebugLevel,
		Out:   io.Discard,
	})
}

// colorString() returns a string with color applied, preserving line breaks
func colorString(c int, msg string) string {
	parts := strings.Split(msg, "\n")
	for i, part := range parts {
		parts[i] = cString(c, part)
	}
	return strings.Join(parts, "\n")
}

// cString() returns a string with a specific color applied
func cString(c int, msg string) string {
	switch c {
	case BLUE:
		return color.BlueString(msg)
	case RED:
		return color.RedString(msg)
	case YELLOW:
		return color.YellowString(msg)
	case GREEN:
		return color.GreenString(msg)
	case GRAY:
		return color.HiBlackString(msg)
	case CYAN:
		return color.CyanString(msg)
	default:
		return color.WhiteString(msg)
	}
}
