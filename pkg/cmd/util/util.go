package util

import (
	"io"

	"github.com/mpapenbr/forza-session-recorder/log"
	"github.com/mpapenbr/forza-session-recorder/pkg/config"
)

func ParseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

// SetupLogger creates the logger configured by the log flags and installs it
// as default logger.
// With filter rules the level is left to the rules, --verbose forces debug.
func SetupLogger(w io.Writer) (*log.Logger, error) {
	opts := []log.Option{log.WithCaller(true), log.AddCallerSkip(1)}
	var level log.Level
	switch config.LogFormat {
	case "json":
		level = ParseLogLevel(config.LogLevel, log.InfoLevel)
	default:
		level = ParseLogLevel(config.LogLevel, log.DebugLevel)
	}
	if config.Verbose {
		level = log.DebugLevel
	}
	if config.LogFilter != "" {
		filterOpt, err := log.WithFilterRules(config.LogFilter)
		if err != nil {
			return nil, err
		}
		opts = append(opts, filterOpt)
		level = log.DebugLevel
	}

	var logger *log.Logger
	switch config.LogFormat {
	case "json":
		logger = log.New(w, level, opts...)
	default:
		logger = log.DevLogger(w, level, opts...)
	}
	log.ResetDefault(logger)
	return logger, nil
}
