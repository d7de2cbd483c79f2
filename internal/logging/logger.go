// Package logging provides structured logging for the budget client.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields carries structured context attached to a log entry.
type Fields map[string]interface{}

var (
	// global logger instance
	global *logrus.Logger
	once   sync.Once
)

// Init initializes the global logger. The level string follows logrus
// conventions ("debug", "info", "warn", "error"); unknown values fall
// back to info.
func Init(out io.Writer, level string) {
	once.Do(func() {
		global = logrus.New()
		global.SetOutput(out)
		global.SetFormatter(&logrus.JSONFormatter{})

		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		global.SetLevel(lvl)
	})
}

// Get returns the global logger instance.
func Get() *logrus.Logger {
	if global == nil {
		Init(os.Stdout, "info")
	}
	return global
}

// Debug logs a debug message.
func Debug(message string, fields Fields) {
	Get().WithFields(logrus.Fields(fields)).Debug(message)
}

// Info logs an info message.
func Info(message string, fields Fields) {
	Get().WithFields(logrus.Fields(fields)).Info(message)
}

// Warn logs a warning message.
func Warn(message string, fields Fields) {
	Get().WithFields(logrus.Fields(fields)).Warn(message)
}

// Error logs an error message with the error attached.
func Error(message string, err error, fields Fields) {
	entry := Get().WithFields(logrus.Fields(fields))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}
