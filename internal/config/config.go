// Package config loads the gateway's YAML configuration file and applies
// environment-variable overrides, matching the teacher's sdk_config.go
// tag conventions and cmd/server/main.go's .env bootstrap.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// OAuthConfig holds the PKCE callback listener's port range and the
// device-code poll loop's timing, per §4.4/§6.6.
type OAuthConfig struct {
	// CallbackPortStart is the first port the local callback listener tries.
	CallbackPortStart int `yaml:"callback-port-start,omitempty" json:"callback-port-start,omitempty"`

	// CallbackPortEnd is the last port the local callback listener tries.
	CallbackPortEnd int `yaml:"callback-port-end,omitempty" json:"callback-port-end,omitempty"`

	// AuthTimeout bounds how long the acquirer waits for the browser
	// round-trip (or device-code poll loop) to complete.
	AuthTimeout time.Duration `yaml:"auth-timeout,omitempty" json:"auth-timeout,omitempty"`

	// PollInterval is loaded from configuration but is not read by the
	// device-code flow, which polls at the interval the authorization
	// server returns.
	PollInterval time.Duration `yaml:"poll-interval,omitempty" json:"poll-interval,omitempty"`
}

// Config is the application's configuration, loaded from a YAML file with
// environment-variable overrides for secrets and the database DSN.
type Config struct {
	// KiroRegion is the region the login commands use for newly acquired
	// credentials. The upstream client does not read it: a record that
	// carries no region falls back to credential.DefaultRegion.
	KiroRegion string `yaml:"kiro_region,omitempty" json:"kiro_region,omitempty"`

	// RefreshToken is loaded from configuration; no code path builds a
	// single-credential record from it.
	RefreshToken string `yaml:"refresh_token,omitempty" json:"refresh_token,omitempty"`

	// ProfileARN is loaded from configuration; outbound request bodies take
	// the profile ARN from the credential record, not from this field.
	ProfileARN string `yaml:"profile_arn,omitempty" json:"profile_arn,omitempty"`

	// KiroCredsFile is loaded from configuration; no code path reads the
	// file it names.
	KiroCredsFile string `yaml:"kiro_creds_file,omitempty" json:"kiro_creds_file,omitempty"`

	// FirstTokenTimeout bounds how long the watchdog (C8) waits for the
	// first streamed byte before retrying. Zero selects the §4.8 default.
	FirstTokenTimeout time.Duration `yaml:"first_token_timeout,omitempty" json:"first_token_timeout,omitempty"`

	// FirstTokenMaxRetries bounds the watchdog's retry budget. Zero
	// selects the §4.8 default.
	FirstTokenMaxRetries int `yaml:"first_token_max_retries,omitempty" json:"first_token_max_retries,omitempty"`

	// StreamingReadTimeout bounds each subsequent read once streaming has
	// started. Zero selects the §4.8 default. Must exceed FirstTokenTimeout.
	StreamingReadTimeout time.Duration `yaml:"streaming_read_timeout,omitempty" json:"streaming_read_timeout,omitempty"`

	// OAuth groups the PKCE callback listener and device-code poll timing.
	OAuth OAuthConfig `yaml:"oauth,omitempty" json:"oauth,omitempty"`

	// DatabaseURL selects the relational credential store backend when
	// present; an empty value selects the file-backed store (§4.1).
	DatabaseURL string `yaml:"-" json:"-"`
}

const (
	defaultFirstTokenTimeout    = 15 * time.Second
	defaultFirstTokenMaxRetries = 3
	defaultStreamingReadTimeout = 300 * time.Second
	defaultCallbackPortStart    = 12809
	defaultCallbackPortEnd      = 12819
	defaultAuthTimeout          = 5 * time.Minute
	defaultPollInterval         = 5 * time.Second
)

// Default returns a Config populated with SPEC_FULL §4.8/§4.4's documented
// defaults, before a YAML file or environment overrides are applied.
func Default() *Config {
	return &Config{
		KiroRegion:           "us-east-1",
		FirstTokenTimeout:    defaultFirstTokenTimeout,
		FirstTokenMaxRetries: defaultFirstTokenMaxRetries,
		StreamingReadTimeout: defaultStreamingReadTimeout,
		OAuth: OAuthConfig{
			CallbackPortStart: defaultCallbackPortStart,
			CallbackPortEnd:   defaultCallbackPortEnd,
			AuthTimeout:       defaultAuthTimeout,
			PollInterval:      defaultPollInterval,
		},
	}
}

// Load reads the YAML configuration file at path (if it exists), applies
// .env and process environment overrides, and fills in documented
// defaults for anything left unset. A missing path is not an error — the
// gateway can run entirely off environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		case os.IsNotExist(err):
			log.Debugf("config: %s not found, relying on environment", path)
		default:
			return nil, err
		}
	}

	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !os.IsNotExist(errLoad) {
			log.WithError(errLoad).Warn("config: failed to load .env file")
		}
	}

	applyEnvOverrides(cfg)

	if cfg.StreamingReadTimeout <= cfg.FirstTokenTimeout {
		cfg.StreamingReadTimeout = defaultStreamingReadTimeout
	}

	return cfg, nil
}

// lookupEnv checks each key in order, case-sensitively, returning the
// first non-blank value found. Mirrors the teacher's own multi-alias env
// lookup helper in cmd/server/main.go.
func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("DATABASE_URL", "database_url"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := lookupEnv("KIRO_REGION", "kiro_region"); ok {
		cfg.KiroRegion = v
	}
	if v, ok := lookupEnv("REFRESH_TOKEN", "refresh_token"); ok {
		cfg.RefreshToken = v
	}
	if v, ok := lookupEnv("PROFILE_ARN", "profile_arn"); ok {
		cfg.ProfileARN = v
	}
	if v, ok := lookupEnv("KIRO_CREDS_FILE", "kiro_creds_file"); ok {
		cfg.KiroCredsFile = v
	}
	if v, ok := lookupEnv("FIRST_TOKEN_TIMEOUT", "first_token_timeout"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FirstTokenTimeout = d
		}
	}
	if v, ok := lookupEnv("FIRST_TOKEN_MAX_RETRIES", "first_token_max_retries"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FirstTokenMaxRetries = n
		}
	}
	if v, ok := lookupEnv("STREAMING_READ_TIMEOUT", "streaming_read_timeout"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StreamingReadTimeout = d
		}
	}
}
