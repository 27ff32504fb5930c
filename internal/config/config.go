package config

import (
	"fmt"
	"log"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/digiscribe/internal/domain/coding"
	"github.com/ehr/digiscribe/internal/domain/lexicon"
	"github.com/ehr/digiscribe/internal/domain/taxonomy"
)

// Auth modes.
const (
	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	AuthMode       string        `mapstructure:"AUTH_MODE"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	BatchBodyLimit string        `mapstructure:"BATCH_BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TLSEnabled     bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string        `mapstructure:"TLS_KEY_FILE"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	TaxonomySource         string   `mapstructure:"TAXONOMY_SOURCE"`
	TaxonomyTable          string   `mapstructure:"TAXONOMY_TABLE"`
	MaxPhraseLength        int      `mapstructure:"MAX_PHRASE_LENGTH"`
	StopWords              []string `mapstructure:"STOP_WORDS"`
	MinConfidenceThreshold float64  `mapstructure:"MIN_CONFIDENCE_THRESHOLD"`
	MaxResults             int      `mapstructure:"MAX_RESULTS"`
	IndexDescriptions      bool     `mapstructure:"INDEX_DESCRIPTIONS"`
	BatchWorkers           int      `mapstructure:"BATCH_WORKERS"`
	BatchMaxNotes          int      `mapstructure:"BATCH_MAX_NOTES"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"AUTH_SIGNING_KEY", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
	"BATCH_BODY_LIMIT", "REQUEST_TIMEOUT", "TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "TAXONOMY_SOURCE", "TAXONOMY_TABLE",
	"MAX_PHRASE_LENGTH", "STOP_WORDS", "MIN_CONFIDENCE_THRESHOLD", "MAX_RESULTS",
	"INDEX_DESCRIPTIONS", "BATCH_WORKERS", "BATCH_MAX_NOTES",
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("BATCH_BODY_LIMIT", "10M")
	v.SetDefault("REQUEST_TIMEOUT", "10s")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("TAXONOMY_SOURCE", taxonomy.SourceBuiltin)
	v.SetDefault("TAXONOMY_TABLE", taxonomy.DefaultTable)
	v.SetDefault("MAX_PHRASE_LENGTH", lexicon.DefaultMaxPhraseLength)
	v.SetDefault("STOP_WORDS", "")
	v.SetDefault("MIN_CONFIDENCE_THRESHOLD", 0)
	v.SetDefault("MAX_RESULTS", 0)
	v.SetDefault("INDEX_DESCRIPTIONS", true)
	v.SetDefault("BATCH_WORKERS", runtime.NumCPU())
	v.SetDefault("BATCH_MAX_NOTES", coding.DefaultMaxBatchNotes)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.StopWords = splitList(v.GetString("STOP_WORDS"))

	if cfg.IsDev() && cfg.ResolvedAuthMode() == AuthModeDevelopment {
		log.Println("WARNING: ENV=development with development auth: every request is treated as admin.")
		log.Println("WARNING: Set ENV=production and configure AUTH_JWKS_URL or AUTH_SIGNING_KEY before exposing the service.")
	}

	return cfg, nil
}

// splitList splits a comma-separated value, dropping blanks. An empty value
// yields nil.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE, or infers it: development auth under
// ENV=development, bearer tokens otherwise.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// UsesDatabase reports whether the taxonomy is read from Postgres.
func (c *Config) UsesDatabase() bool {
	return taxonomy.IsDatabaseSource(c.TaxonomySource)
}

// TaxonomyDatabaseURL returns the DSN to read the taxonomy from.
func (c *Config) TaxonomyDatabaseURL() string {
	return taxonomy.DatabaseURL(c.TaxonomySource, c.DatabaseURL)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case AuthModeJWT:
		if c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when AUTH_MODE is %q", AuthModeJWT)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeDevelopment, AuthModeJWT, mode)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) are inconsistent", c.DBMinConns, c.DBMaxConns)
	}
	if c.BatchWorkers < 0 || c.BatchMaxNotes < 0 {
		return fmt.Errorf("BATCH_WORKERS and BATCH_MAX_NOTES must not be negative")
	}

	if c.UsesDatabase() {
		if c.TaxonomyDatabaseURL() == "" {
			return fmt.Errorf("DATABASE_URL is required when TAXONOMY_SOURCE is %q", c.TaxonomySource)
		}
		if err := taxonomy.ValidateTable(c.TaxonomyTable); err != nil {
			return err
		}
	} else if _, err := taxonomy.OpenFile(c.TaxonomySource); err != nil {
		return fmt.Errorf("TAXONOMY_SOURCE: %w", err)
	}

	if err := c.EngineOptions().Validate(); err != nil {
		return fmt.Errorf("engine defaults: %w", err)
	}
	return nil
}

// EngineOptions maps the configuration to the coding engine's defaults.
func (c *Config) EngineOptions() coding.Options {
	return coding.Options{
		MaxPhraseLength:        c.MaxPhraseLength,
		StopWords:              c.StopWords,
		MinConfidenceThreshold: c.MinConfidenceThreshold,
		MaxResults:             c.MaxResults,
		TaxonomySource:         c.TaxonomySource,
	}
}
