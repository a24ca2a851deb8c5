package logging

import (
	"testing"

	"github.com/sirupsen/logrus"

	"tg_user_directory_bot/internal/config"
)

func TestSetupUsesJSONFormatterInProduction(t *testing.T) {
	resetLogger()

	entry, err := Setup(config.Config{AppEnv: config.EnvProduction, LogLevel: "info"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jsonFormatter, ok := entry.Logger.Formatter.(*logrus.JSONFormatter)
	if !ok {
		t.Fatalf("expected JSON formatter, got %T", entry.Logger.Formatter)
	}

	if jsonFormatter.FieldMap[logrus.FieldKeyTime] != "ts" {
		t.Fatalf("expected ts field for timestamps, got %q", jsonFormatter.FieldMap[logrus.FieldKeyTime])
	}
	if entry.Data["service"] != serviceName {
		t.Fatalf("expected service field, got %v", entry.Data["service"])
	}
	if entry.Data["env"] != config.EnvProduction {
		t.Fatalf("expected env field to be %q, got %v", config.EnvProduction, entry.Data["env"])
	}
}

func TestSetupUsesTextFormatterInDevelopment(t *testing.T) {
	resetLogger()

	entry, err := Setup(config.Config{AppEnv: config.EnvDevelopment, LogLevel: "debug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := entry.Logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("expected Text formatter, got %T", entry.Logger.Formatter)
	}
	if entry.Logger.Level != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", entry.Logger.Level)
	}
}

func TestSetupRejectsInvalidLogLevel(t *testing.T) {
	resetLogger()

	if _, err := Setup(config.Config{AppEnv: config.EnvDevelopment, LogLevel: "loud"}); err == nil {
		t.Fatalf("expected error for invalid log level")
	}

	if baseLogger != nil {
		t.Fatalf("base logger should remain unset after failure")
	}
}

func TestLoggerFallsBackBeforeSetup(t *testing.T) {
	resetLogger()

	entry := Logger()
	if entry == nil {
		t.Fatalf("expected fallback logger")
	}

	if entry.Logger.Level != logrus.InfoLevel {
		t.Fatalf("expected info level fallback, got %s", entry.Logger.Level)
	}
	if entry.Data["env"] != config.DefaultAppEnv {
		t.Fatalf("expected default env field, got %v", entry.Data["env"])
	}

	if Logger() != entry {
		t.Fatalf("expected fallback logger to be cached")
	}
}
