// Package logger provides the structured logger shared by every component.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggingConfig controls level, encoding and destination of log output.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"TRIBUTE_LOG_LEVEL"`
	Format     string `yaml:"format" env:"TRIBUTE_LOG_FORMAT"`
	Output     string `yaml:"output" env:"TRIBUTE_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"TRIBUTE_LOG_FILE_PREFIX"`
}

// Logger is a logrus entry carrying the component name of its owner.
type Logger struct {
	*logrus.Entry
}

// New builds a root logger from configuration.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	base.SetOutput(outputFor(cfg))
	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level text logger tagged with the component name.
func NewDefault(name string) *Logger {
	return New(LoggingConfig{Level: "info", Format: "text"}).Named(name)
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Entry: logrus.NewEntry(base)}
}

// Named returns a child logger for a sub-component.
func (l *Logger) Named(name string) *Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &Logger{Entry: l.Entry.WithField("component", name)}
}

func outputFor(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		return os.Stderr
	case "file":
		return fileWriter(cfg.FilePrefix)
	case "both":
		return io.MultiWriter(os.Stdout, fileWriter(cfg.FilePrefix))
	default:
		return os.Stdout
	}
}

func fileWriter(prefix string) io.Writer {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "tribute"
	}
	return &lumberjack.Logger{
		Filename:   prefix + ".log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
}
