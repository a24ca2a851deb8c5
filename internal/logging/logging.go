// Package logging provides structured logging setup for the bot.
package logging

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tg_user_directory_bot/internal/config"
)

const serviceName = "user-directory-bot"

// Fields is a shorthand alias for structured log fields.
type Fields = logrus.Fields

var baseLogger *logrus.Entry

// Setup configures the global logger from the runtime configuration: log level,
// environment-specific formatting, and the default service fields.
func Setup(cfg config.Config) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	baseLogger = newEntry(level, cfg.AppEnv)
	return baseLogger, nil
}

// Logger returns the configured base logger. Before Setup runs it falls back to
// info-level defaults, which covers early boot errors.
func Logger() *logrus.Entry {
	if baseLogger == nil {
		baseLogger = newEntry(logrus.InfoLevel, config.DefaultAppEnv)
	}

	return baseLogger
}

func newEntry(level logrus.Level, appEnv string) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatterForEnv(appEnv))

	return logger.WithFields(logrus.Fields{
		"service": serviceName,
		"env":     appEnv,
	})
}

func formatterForEnv(appEnv string) logrus.Formatter {
	fieldMap := logrus.FieldMap{
		logrus.FieldKeyTime:  "ts",
		logrus.FieldKeyMsg:   "msg",
		logrus.FieldKeyLevel: "level",
	}

	// Development gets human-readable text; everything else ships JSON.
	if appEnv == config.EnvDevelopment {
		return &logrus.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        time.RFC3339Nano,
			FieldMap:               fieldMap,
			DisableLevelTruncation: true,
		}
	}

	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        fieldMap,
	}
}

// resetLogger clears the cached logger; used in tests.
func resetLogger() {
	baseLogger = nil
}
