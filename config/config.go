// Package config loads service configuration from a YAML file and SEALEDVWAP_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cloudx-io/sealedvwap/assets"
)

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Engine EngineConfig `mapstructure:"engine"`
	Assets AssetsConfig `mapstructure:"assets"`
	FHE    FHEConfig    `mapstructure:"fhe"`
	Oracle OracleConfig `mapstructure:"oracle"`
	Keeper KeeperConfig `mapstructure:"keeper"`
	Events EventsConfig `mapstructure:"events"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type EngineConfig struct {
	EscrowAccount string `mapstructure:"escrow_account"`
	// PublicFinalizeAfter lets anyone request, settle or reclaim once this long has
	// passed since the window closed. Zero keeps those seller-only.
	PublicFinalizeAfter time.Duration `mapstructure:"public_finalize_after"`
}

type AssetsConfig struct {
	Driver   string                `mapstructure:"driver"` // memory | postgres
	Postgres assets.PostgresConfig `mapstructure:"postgres"`
	Registry []AssetConfig         `mapstructure:"registry"`
	Mints    []MintConfig          `mapstructure:"mints"`
}

// AssetConfig sets an asset's display precision. Viper folds map keys to lower case,
// so symbols are listed as values.
type AssetConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Decimals int32  `mapstructure:"decimals"`
}

// Decimals returns the display precision by asset symbol.
func (c AssetsConfig) Decimals() map[string]int32 {
	out := make(map[string]int32, len(c.Registry))
	for _, a := range c.Registry {
		out[a.Symbol] = a.Decimals
	}
	return out
}

// MintConfig credits an account at startup. Intended for local development.
type MintConfig struct {
	Account string `mapstructure:"account"`
	Asset   string `mapstructure:"asset"`
	Amount  uint64 `mapstructure:"amount"`
}

type FHEConfig struct {
	// KeyFile holds the capability's key material. Empty generates ephemeral keys,
	// which only a local oracle can decrypt under.
	KeyFile string `mapstructure:"key_file"`
}

type OracleConfig struct {
	Mode      string        `mapstructure:"mode"` // local | remote
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Address   string        `mapstructure:"address"` // host:port or vsock://cid:port
	Timeout   time.Duration `mapstructure:"timeout"`
	// AttestationPolicy names a policy file (see validation.LoadAttestationPolicy) and
	// enables attestation checks on the remote oracle's signing key.
	AttestationPolicy string `mapstructure:"attestation_policy"`
	// PublicKey pins the remote oracle's signing key (PEM). Empty trusts the key it serves.
	PublicKey string `mapstructure:"public_key"`
}

type KeeperConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	Account  string `mapstructure:"account"`
}

type EventsConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Load reads path (unless envOnly) over the defaults, then applies SEALEDVWAP_*
// environment overrides, e.g. SEALEDVWAP_HTTP_ADDR for http.addr.
func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEALEDVWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.jwt_secret", "")
	v.SetDefault("http.token_ttl", "24h")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "15s")
	v.SetDefault("engine.escrow_account", "auction-escrow")
	v.SetDefault("engine.public_finalize_after", "0s")
	v.SetDefault("assets.driver", "memory")
	v.SetDefault("assets.postgres.host", "localhost")
	v.SetDefault("assets.postgres.port", 5432)
	v.SetDefault("assets.postgres.user", "postgres")
	v.SetDefault("assets.postgres.password", "")
	v.SetDefault("assets.postgres.database", "sealedvwap")
	v.SetDefault("assets.postgres.sslmode", "disable")
	v.SetDefault("assets.postgres.max_open_conns", 10)
	v.SetDefault("fhe.key_file", "")
	v.SetDefault("oracle.mode", "local")
	v.SetDefault("oracle.workers", 2)
	v.SetDefault("oracle.queue_size", 256)
	v.SetDefault("oracle.address", "")
	v.SetDefault("oracle.timeout", "30s")
	v.SetDefault("oracle.attestation_policy", "")
	v.SetDefault("oracle.public_key", "")
	v.SetDefault("keeper.enabled", true)
	v.SetDefault("keeper.schedule", "*/10 * * * * *")
	v.SetDefault("keeper.account", "")
	v.SetDefault("events.redis.enabled", false)
	v.SetDefault("events.redis.addr", "localhost:6379")
	v.SetDefault("events.redis.password", "")
	v.SetDefault("events.redis.db", 0)
	v.SetDefault("events.redis.channel", "sealedvwap:events")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports every inconsistency in cfg.
func (c Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if len(c.HTTP.JWTSecret) < 32 {
		errs = append(errs, errors.New("http.jwt_secret must be at least 32 bytes"))
	}
	if c.HTTP.TokenTTL <= 0 {
		errs = append(errs, errors.New("http.token_ttl must be positive"))
	}
	if c.Engine.EscrowAccount == "" {
		errs = append(errs, errors.New("engine.escrow_account is required"))
	}
	if c.Engine.PublicFinalizeAfter < 0 {
		errs = append(errs, errors.New("engine.public_finalize_after must not be negative"))
	}

	switch c.Assets.Driver {
	case "memory":
	case "postgres":
		if c.Assets.Postgres.Host == "" || c.Assets.Postgres.Database == "" {
			errs = append(errs, errors.New("assets.postgres.host and assets.postgres.database are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("assets.driver %q: want memory or postgres", c.Assets.Driver))
	}
	for i, a := range c.Assets.Registry {
		if a.Symbol == "" {
			errs = append(errs, fmt.Errorf("assets.registry[%d]: symbol is required", i))
		}
		if a.Decimals < 0 || a.Decimals > 36 {
			errs = append(errs, fmt.Errorf("assets.registry[%d]: decimals %d: want 0..36", i, a.Decimals))
		}
	}
	for i, m := range c.Assets.Mints {
		if m.Account == "" || m.Asset == "" {
			errs = append(errs, fmt.Errorf("assets.mints[%d]: account and asset are required", i))
		}
	}

	switch c.Oracle.Mode {
	case "local":
		if c.Oracle.Workers < 1 {
			errs = append(errs, errors.New("oracle.workers must be at least 1"))
		}
	case "remote":
		if c.Oracle.Address == "" {
			errs = append(errs, errors.New("oracle.address is required in remote mode"))
		}
		if c.FHE.KeyFile == "" {
			errs = append(errs, errors.New("fhe.key_file is required in remote mode"))
		}
		if c.Oracle.Timeout <= 0 {
			errs = append(errs, errors.New("oracle.timeout must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("oracle.mode %q: want local or remote", c.Oracle.Mode))
	}
	if c.Oracle.QueueSize < 1 {
		errs = append(errs, errors.New("oracle.queue_size must be at least 1"))
	}

	if c.Keeper.Enabled && c.Keeper.Schedule == "" {
		errs = append(errs, errors.New("keeper.schedule is required when the keeper is enabled"))
	}
	if c.Events.Redis.Enabled && c.Events.Redis.Addr == "" {
		errs = append(errs, errors.New("events.redis.addr is required when redis events are enabled"))
	}

	return errors.Join(errs...)
}
