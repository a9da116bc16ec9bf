package utils

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// NewLogger creates a text logger writing to out at the given level.
func NewLogger(level log.Level, out io.Writer) *log.Logger {
	return &log.Logger{
		Out:   out,
		Level: level,
		Hooks: make(log.LevelHooks),
		Formatter: &log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		},
	}
}

// ParseLevel parses a level name, falling back to info on bad input.
func ParseLevel(name string) (log.Level, error) {
	level, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel, err
	}
	return level, nil
}

// Discard returns a logger that drops everything, for tests and library
// callers that do not pass one.
func Discard() *log.Logger {
	return NewLogger(log.PanicLevel, io.Discard)
}
