package ssw

import (
	"os"

	"github.com/charmbracelet/log"
)

// defaultLogger is used whenever a Decoder is constructed without
// WithLogger, writing to stderr at the spec-mandated default threshold
// WARN (spec §6: "default threshold WARN").
func defaultLogger() *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{Level: log.WarnLevel})
	return l
}

// levelFromString maps a spec §6 loglevel string to a charmbracelet/log
// level, matching §6's ordering DEBUG < INFO < WARN < ERROR < FATAL.
func levelFromString(s string) (log.Level, bool) {
	switch s {
	case "DEBUG":
		return log.DebugLevel, true
	case "INFO":
		return log.InfoLevel, true
	case "WARN":
		return log.WarnLevel, true
	case "ERROR":
		return log.ErrorLevel, true
	case "FATAL":
		return log.FatalLevel, true
	default:
		return log.WarnLevel, false
	}
}
