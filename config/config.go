// Package config - wallet configuration
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alwitt/cardvault/auth"
	"github.com/alwitt/cardvault/cache"
	"github.com/alwitt/cardvault/encryption"
	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/ratelimit"
	"github.com/alwitt/cardvault/secret"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefix of every environment override
const EnvPrefix = "CARDVAULT_"

// StoreConfig record store settings
type StoreConfig struct {
	// Driver store driver
	Driver models.StoreDriverENUMType `yaml:"driver" validate:"required,store_driver"`
	// DSN sqlite DB file, or Postgres DSN
	DSN string `yaml:"dsn" validate:"required"`
}

// Argon2Config Argon2id settings of the v3 scheme
type Argon2Config struct {
	Time      uint32 `yaml:"time" validate:"gte=1"`
	MemoryKiB uint32 `yaml:"memory_kib" validate:"gte=1024"`
	Threads   uint8  `yaml:"threads" validate:"gte=1"`
}

// CodecConfig field codec settings
type CodecConfig struct {
	// Scheme scheme used for new cipher text
	Scheme models.EncryptionSchemeENUMType `yaml:"scheme" validate:"required,codec_scheme"`
	// PBKDF2Iterations v2 scheme iteration count. Must match across every deployment
	// reading the same records.
	PBKDF2Iterations int          `yaml:"pbkdf2_iterations" validate:"gte=1000"`
	Argon2           Argon2Config `yaml:"argon2"`
}

// LockoutConfig lockout policy settings
type LockoutConfig struct {
	MaxAttempts uint          `yaml:"max_attempts" validate:"gte=1"`
	Duration    time.Duration `yaml:"duration" validate:"gte=1ms"`
}

// AuthConfig authentication settings
type AuthConfig struct {
	MinSentenceLength  int           `yaml:"min_sentence_length" validate:"gte=1"`
	MinAttemptInterval time.Duration `yaml:"min_attempt_interval" validate:"gte=0"`
	InactivityTimeout  time.Duration `yaml:"inactivity_timeout" validate:"gte=1ms"`
	Lockout            LockoutConfig `yaml:"lockout"`
}

// SecretsConfig secret buffer settings
type SecretsConfig struct {
	// FailsafeTimeout every secret buffer is zeroed after this long
	FailsafeTimeout time.Duration `yaml:"failsafe_timeout" validate:"gte=1ms"`
}

// PartialCacheConfig partial tier settings
type PartialCacheConfig struct {
	SoftTTL     time.Duration `yaml:"soft_ttl" validate:"gte=0"`
	Concurrency int           `yaml:"concurrency" validate:"gte=1"`
}

// RevealCacheConfig reveal tier settings
type RevealCacheConfig struct {
	AutoHide        time.Duration `yaml:"auto_hide" validate:"gte=1ms"`
	BatchTTL        time.Duration `yaml:"batch_ttl" validate:"gte=0"`
	InactivityClear time.Duration `yaml:"inactivity_clear" validate:"gte=1ms"`
	Concurrency     int           `yaml:"concurrency" validate:"gte=1"`
}

// CacheConfig decryption cache settings
type CacheConfig struct {
	Partial PartialCacheConfig `yaml:"partial"`
	Reveal  RevealCacheConfig  `yaml:"reveal"`
}

// Config wallet configuration
type Config struct {
	// LogLevel apex log level
	LogLevel string `yaml:"log_level" validate:"required,oneof=debug info warn error fatal"`

	Store   StoreConfig   `yaml:"store"`
	Codec   CodecConfig   `yaml:"codec"`
	Auth    AuthConfig    `yaml:"auth"`
	Secrets SecretsConfig `yaml:"secrets"`
	Cache   CacheConfig   `yaml:"cache"`

	// RateLimits call budget per action category. Categories not listed keep their default.
	RateLimits map[ratelimit.ActionCategory]ratelimit.Budget `yaml:"rate_limits" validate:"dive"`
}

// DefaultConfig the default wallet configuration
func DefaultConfig() Config {
	argon2 := encryption.DefaultArgon2Params()
	authParams := auth.DefaultAuthenticatorParams()
	lockout := auth.DefaultLockoutParams()
	partial := cache.DefaultPartialParams()
	reveal := cache.DefaultRevealParams()
	return Config{
		LogLevel: "info",
		Store: StoreConfig{
			Driver: models.StoreDriverSqlite,
			DSN:    "cardvault.db",
		},
		Codec: CodecConfig{
			Scheme:           models.EncryptionSchemeCBC,
			PBKDF2Iterations: encryption.DefaultPBKDF2Iterations,
			Argon2: Argon2Config{
				Time: argon2.Time, MemoryKiB: argon2.MemoryKiB, Threads: argon2.Threads,
			},
		},
		Auth: AuthConfig{
			MinSentenceLength:  authParams.MinSentenceLength,
			MinAttemptInterval: authParams.MinAttemptInterval,
			InactivityTimeout:  authParams.InactivityTimeout,
			Lockout: LockoutConfig{
				MaxAttempts: lockout.MaxAttempts, Duration: lockout.Duration,
			},
		},
		Secrets: SecretsConfig{FailsafeTimeout: secret.DefaultFailsafeTimeout},
		Cache: CacheConfig{
			Partial: PartialCacheConfig{SoftTTL: partial.SoftTTL, Concurrency: partial.Concurrency},
			Reveal: RevealCacheConfig{
				AutoHide:        reveal.AutoHide,
				BatchTTL:        reveal.BatchTTL,
				InactivityClear: reveal.InactivityClear,
				Concurrency:     reveal.Concurrency,
			},
		},
		RateLimits: ratelimit.DefaultBudgets(),
	}
}

/*
LoadConfig build the configuration from defaults, an optional YAML file, an optional
.env file, and the CARDVAULT_* environment variables, in that order of precedence

	@param configFile string - YAML config file, skipped if empty
	@param envFile string - .env file, skipped if empty
	@returns the validated configuration
*/
func LoadConfig(configFile string, envFile string) (Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		content, err := os.ReadFile(configFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file '%s' [%w]", configFile, err)
		}
		// Keys absent from the file keep their default
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file '%s' [%w]", configFile, err)
		}
		log.WithField("file", configFile).Debug("Loaded config file")
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("failed to load env file '%s' [%w]", envFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv apply the CARDVAULT_* environment overrides
func (c *Config) applyEnv() error {
	lookup := func(name string) (string, bool) {
		value, ok := os.LookupEnv(EnvPrefix + name)
		return value, ok && value != ""
	}
	parseDuration := func(name string, dst *time.Duration) error {
		if value, ok := lookup(name); ok {
			parsed, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("env %s%s is not a duration [%w]", EnvPrefix, name, err)
			}
			*dst = parsed
		}
		return nil
	}

	if value, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = value
	}
	if value, ok := lookup("STORE_DRIVER"); ok {
		c.Store.Driver = models.StoreDriverENUMType(value)
	}
	if value, ok := lookup("STORE_DSN"); ok {
		c.Store.DSN = value
	}
	if value, ok := lookup("CODEC_SCHEME"); ok {
		c.Codec.Scheme = models.EncryptionSchemeENUMType(value)
	}
	if value, ok := lookup("PBKDF2_ITERATIONS"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("env %sPBKDF2_ITERATIONS is not an integer [%w]", EnvPrefix, err)
		}
		c.Codec.PBKDF2Iterations = parsed
	}
	if value, ok := lookup("LOCKOUT_MAX_ATTEMPTS"); ok {
		parsed, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("env %sLOCKOUT_MAX_ATTEMPTS is not an integer [%w]", EnvPrefix, err)
		}
		c.Auth.Lockout.MaxAttempts = uint(parsed)
	}
	if err := parseDuration("LOCKOUT_DURATION", &c.Auth.Lockout.Duration); err != nil {
		return err
	}
	if err := parseDuration("MIN_ATTEMPT_INTERVAL", &c.Auth.MinAttemptInterval); err != nil {
		return err
	}
	if err := parseDuration("INACTIVITY_TIMEOUT", &c.Auth.InactivityTimeout); err != nil {
		return err
	}
	return parseDuration("FAILSAFE_TIMEOUT", &c.Secrets.FailsafeTimeout)
}

// Validate check the configuration
func (c Config) Validate() error {
	validate := validator.New()
	if err := models.RegisterWithValidator(validate); err != nil {
		return fmt.Errorf("failed to register custom validators [%w]", err)
	}
	if err := validate.Struct(&c); err != nil {
		return fmt.Errorf("invalid config [%w]", err)
	}
	return nil
}

// ApplyLogLevel set the apex log level from the configuration
func (c Config) ApplyLogLevel() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("unknown log level '%s' [%w]", c.LogLevel, err)
	}
	log.SetLevel(level)
	return nil
}

// CodecParams the field codec parameters
func (c Config) CodecParams(secrets *secret.Registry) encryption.CodecParams {
	return encryption.CodecParams{
		Scheme:           c.Codec.Scheme,
		PBKDF2Iterations: c.Codec.PBKDF2Iterations,
		Argon2: encryption.Argon2Params{
			Time:      c.Codec.Argon2.Time,
			MemoryKiB: c.Codec.Argon2.MemoryKiB,
			Threads:   c.Codec.Argon2.Threads,
		},
		Secrets: secrets,
	}
}

// AuthenticatorParams the authenticator parameters
func (c Config) AuthenticatorParams() auth.AuthenticatorParams {
	return auth.AuthenticatorParams{
		MinSentenceLength:  c.Auth.MinSentenceLength,
		MinAttemptInterval: c.Auth.MinAttemptInterval,
		InactivityTimeout:  c.Auth.InactivityTimeout,
	}
}

// LockoutParams the lockout policy
func (c Config) LockoutParams() auth.LockoutParams {
	return auth.LockoutParams{
		MaxAttempts: c.Auth.Lockout.MaxAttempts, Duration: c.Auth.Lockout.Duration,
	}
}

// PartialParams the partial tier parameters
func (c Config) PartialParams() cache.PartialParams {
	return cache.PartialParams{
		SoftTTL: c.Cache.Partial.SoftTTL, Concurrency: c.Cache.Partial.Concurrency,
	}
}

// RevealParams the reveal tier parameters
func (c Config) RevealParams() cache.RevealParams {
	return cache.RevealParams{
		AutoHide:        c.Cache.Reveal.AutoHide,
		BatchTTL:        c.Cache.Reveal.BatchTTL,
		InactivityClear: c.Cache.Reveal.InactivityClear,
		Concurrency:     c.Cache.Reveal.Concurrency,
	}
}
