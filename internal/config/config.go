// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken = "TELEGRAM_TOKEN"
	KeyBotAdmin      = "BOT_ADMIN"
	KeyMongoURI      = "MONGO_URI"
	KeyMongoDB       = "MONGO_DB"
	KeyAppEnv        = "APP_ENV"
	KeyLogLevel      = "LOG_LEVEL"
	KeyHTTPPort      = "HTTP_PORT"
	KeySessionTTL    = "SESSION_TTL"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv     = EnvProduction
	DefaultLogLevel   = "info"
	DefaultHTTPPort   = 8080
	DefaultSessionTTL = 30 * time.Minute

	// Recommended database names by environment.
	DefaultMongoDBProd = "user_directory"
	DefaultMongoDBDev  = "user_directory_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyBotAdmin,
		Example:     "123456789",
		Description: "Telegram user_id promoted to the admin role at startup.",
		Notes:       "The account must already be registered; the promotion never creates records.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeySessionTTL,
		Example:     "30m",
		Default:     DefaultSessionTTL.String(),
		Description: "Idle time after which an abandoned registration dialogue is evicted.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken string
	BotAdminID    int64
	MongoURI      string
	MongoDB       string
	AppEnv        string
	LogLevel      string
	HTTPPort      int
	SessionTTL    time.Duration
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:        firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken: strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		MongoURI:      strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:       strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:      firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:      DefaultHTTPPort,
		SessionTTL:    DefaultSessionTTL,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	if adminRaw := strings.TrimSpace(os.Getenv(KeyBotAdmin)); adminRaw != "" {
		adminID, parseErr := strconv.ParseInt(adminRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyBotAdmin, parseErr)
		}
		cfg.BotAdminID = adminID
	}

	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}

	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	sessionTTLRaw := strings.TrimSpace(os.Getenv(KeySessionTTL))
	if sessionTTLRaw != "" {
		ttl, parseErr := time.ParseDuration(sessionTTLRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeySessionTTL, parseErr)
		}
		if ttl <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeySessionTTL)
		}
		cfg.SessionTTL = ttl
	}

	return cfg, nil
}

// FormatRedacted renders the resolved configuration with secrets masked,
// for the -config-only startup check.
func FormatRedacted(cfg Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s=%s\n", KeyTelegramToken, redact(cfg.TelegramToken))
	if cfg.BotAdminID != 0 {
		fmt.Fprintf(&b, "%s=%d\n", KeyBotAdmin, cfg.BotAdminID)
	}
	fmt.Fprintf(&b, "%s=%s\n", KeyMongoURI, redact(cfg.MongoURI))
	fmt.Fprintf(&b, "%s=%s\n", KeyMongoDB, cfg.MongoDB)
	fmt.Fprintf(&b, "%s=%s\n", KeyAppEnv, cfg.AppEnv)
	fmt.Fprintf(&b, "%s=%s\n", KeyLogLevel, cfg.LogLevel)
	fmt.Fprintf(&b, "%s=%d\n", KeyHTTPPort, cfg.HTTPPort)
	fmt.Fprintf(&b, "%s=%s", KeySessionTTL, cfg.SessionTTL)

	return b.String()
}

func redact(value string) string {
	if value == "" {
		return ""
	}

	return "***"
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
