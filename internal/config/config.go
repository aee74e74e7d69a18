package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/carlosapgomes/eqmd-sub012/internal/platform/auth"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	AdminToken  string `mapstructure:"ADMIN_TOKEN"`

	MatrixHomeserverURL string        `mapstructure:"MATRIX_HOMESERVER_URL"`
	MatrixAccessToken   string        `mapstructure:"MATRIX_ACCESS_TOKEN"`
	MatrixUserID        string        `mapstructure:"MATRIX_USER_ID"`
	MatrixSyncTimeout   time.Duration `mapstructure:"MATRIX_SYNC_TIMEOUT"`

	DirectoryBaseURL string        `mapstructure:"DIRECTORY_BASE_URL"`
	DirectoryTimeout time.Duration `mapstructure:"DIRECTORY_TIMEOUT"`

	TokenMode         string        `mapstructure:"TOKEN_MODE"`
	TokenIssuer       string        `mapstructure:"TOKEN_ISSUER"`
	TokenAudience     string        `mapstructure:"TOKEN_AUDIENCE"`
	TokenSigningKey   string        `mapstructure:"TOKEN_SIGNING_KEY"`
	TokenEndpoint     string        `mapstructure:"TOKEN_ENDPOINT"`
	BotClientID       string        `mapstructure:"BOT_CLIENT_ID"`
	BotKeyID          string        `mapstructure:"BOT_KEY_ID"`
	BotPrivateKeyFile string        `mapstructure:"BOT_PRIVATE_KEY_FILE"`
	BotMaxScopes      string        `mapstructure:"BOT_MAX_SCOPES"`
	TokenLifetime     time.Duration `mapstructure:"TOKEN_LIFETIME"`
	RetryBackoff      time.Duration `mapstructure:"RETRY_BACKOFF"`

	AuditDir           string `mapstructure:"AUDIT_DIR"`
	AuditRetentionDays int    `mapstructure:"AUDIT_RETENTION_DAYS"`
	Timezone           string `mapstructure:"TIMEZONE"`

	SelectionTTL       time.Duration `mapstructure:"SELECTION_TTL"`
	SweepInterval      time.Duration `mapstructure:"SWEEP_INTERVAL"`
	DenialPolicy       string        `mapstructure:"DENIAL_POLICY"`
	RateLimitPerMinute int           `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
}

var defaults = map[string]interface{}{
	"PORT":                  "8000",
	"ENV":                   "development",
	"DB_MAX_CONNS":          10,
	"DB_MIN_CONNS":          2,
	"STORE_DRIVER":          "postgres",
	"MATRIX_SYNC_TIMEOUT":   "30s",
	"DIRECTORY_TIMEOUT":     "10s",
	"TOKEN_MODE":            "local",
	"TOKEN_ISSUER":          "eqmd-bot",
	"TOKEN_AUDIENCE":        "eqmd-directory",
	"BOT_CLIENT_ID":         "eqmd-bot",
	"BOT_MAX_SCOPES":        "patient:search,patient:read",
	"TOKEN_LIFETIME":        "5m",
	"RETRY_BACKOFF":         "250ms",
	"AUDIT_DIR":             "./audit",
	"AUDIT_RETENTION_DAYS":  60,
	"TIMEZONE":              "America/Sao_Paulo",
	"SELECTION_TTL":         "5m",
	"SWEEP_INTERVAL":        "1m",
	"DENIAL_POLICY":         "distinct",
	"RATE_LIMIT_PER_MINUTE": 30,
	"RATE_LIMIT_BURST":      10,
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "STORE_DRIVER", "ADMIN_TOKEN",
	"MATRIX_HOMESERVER_URL", "MATRIX_ACCESS_TOKEN", "MATRIX_USER_ID", "MATRIX_SYNC_TIMEOUT",
	"DIRECTORY_BASE_URL", "DIRECTORY_TIMEOUT",
	"TOKEN_MODE", "TOKEN_ISSUER", "TOKEN_AUDIENCE", "TOKEN_SIGNING_KEY", "TOKEN_ENDPOINT",
	"BOT_CLIENT_ID", "BOT_KEY_ID", "BOT_PRIVATE_KEY_FILE", "BOT_MAX_SCOPES", "TOKEN_LIFETIME", "RETRY_BACKOFF",
	"AUDIT_DIR", "AUDIT_RETENTION_DAYS", "TIMEZONE",
	"SELECTION_TTL", "SWEEP_INTERVAL", "DENIAL_POLICY", "RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_BURST",
}

// Load reads .env (optional) and the environment. It does not validate;
// call Validate or ValidateBot depending on what the command needs.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesPostgres reports whether bindings and rooms live in Postgres.
func (c *Config) UsesPostgres() bool {
	return c.StoreDriver == "postgres"
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is \"postgres\"")
		}
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be \"postgres\" or \"memory\", got %q", c.StoreDriver)
	}
	if c.IsProduction() && c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required in production")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.AuditRetentionDays <= 0 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be positive, got %d", c.AuditRetentionDays)
	}
	return nil
}

// ValidateBot checks the additional settings needed to run the bot.
func (c *Config) ValidateBot() error {
	if err := c.Validate(); err != nil {
		return err
	}
	for key, val := range map[string]string{
		"MATRIX_HOMESERVER_URL": c.MatrixHomeserverURL,
		"MATRIX_ACCESS_TOKEN":   c.MatrixAccessToken,
		"MATRIX_USER_ID":        c.MatrixUserID,
		"DIRECTORY_BASE_URL":    c.DirectoryBaseURL,
	} {
		if val == "" {
			return fmt.Errorf("%s is required", key)
		}
	}

	if c.TokenLifetime <= 0 || c.TokenLifetime > auth.MaxTokenLifetime {
		return fmt.Errorf("TOKEN_LIFETIME must be within (0, %s], got %s", auth.MaxTokenLifetime, c.TokenLifetime)
	}
	if _, err := c.MaxScopes(); err != nil {
		return err
	}

	switch c.TokenMode {
	case "local":
		if _, err := c.SigningKey(); err != nil {
			return err
		}
	case "idp":
		if c.TokenEndpoint == "" || c.BotClientID == "" || c.BotPrivateKeyFile == "" {
			return fmt.Errorf("TOKEN_ENDPOINT, BOT_CLIENT_ID and BOT_PRIVATE_KEY_FILE are required when TOKEN_MODE is \"idp\"")
		}
	default:
		return fmt.Errorf("TOKEN_MODE must be \"local\" or \"idp\", got %q", c.TokenMode)
	}

	switch strings.ToLower(c.DenialPolicy) {
	case "distinct", "uniform":
	default:
		return fmt.Errorf("DENIAL_POLICY must be \"distinct\" or \"uniform\", got %q", c.DenialPolicy)
	}
	if c.SelectionTTL <= 0 {
		return fmt.Errorf("SELECTION_TTL must be positive, got %s", c.SelectionTTL)
	}
	return nil
}

// Location loads TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// MaxScopes parses BOT_MAX_SCOPES.
func (c *Config) MaxScopes() (auth.CapabilitySet, error) {
	set, err := auth.ParseCapabilities(c.BotMaxScopes)
	if err != nil {
		return 0, fmt.Errorf("BOT_MAX_SCOPES: %w", err)
	}
	if set.Empty() {
		return 0, fmt.Errorf("BOT_MAX_SCOPES must name at least one scope")
	}
	return set, nil
}

// SigningKey decodes TOKEN_SIGNING_KEY.
func (c *Config) SigningKey() ([]byte, error) {
	if c.TokenSigningKey == "" {
		return nil, fmt.Errorf("TOKEN_SIGNING_KEY is required when TOKEN_MODE is \"local\"")
	}
	key, err := hex.DecodeString(c.TokenSigningKey)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_SIGNING_KEY is not valid hex: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("TOKEN_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}
