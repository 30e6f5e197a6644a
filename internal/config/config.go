// Package config provides configuration loading for the vesting server.
//
// Values are resolved in order, later sources winning:
//   - built-in defaults
//   - a YAML file (--config flag or VESTING_CONFIG)
//   - a .env file in the working directory (never overrides the real environment)
//   - environment variables
//   - command-line flags that were explicitly set
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"solana-token-vesting/internal/custody"
	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/solana"
)

// DefaultProgramID is the vesting program address used for PDA derivation
// when none is configured.
const DefaultProgramID = "6FuQ5pZHttiDZCnMXbjR1SGtM7UGRp33jrEGXJtgxg4d"

// Storage modes.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Clock sources.
const (
	ClockSystem  = "system"
	ClockCluster = "cluster"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Vesting VestingConfig `yaml:"vesting"`
	Clock   ClockConfig   `yaml:"clock"`
	Auth    AuthConfig    `yaml:"auth"`
	Feed    FeedConfig    `yaml:"feed"`

	// DevMode enables the mint management routes.
	DevMode bool `yaml:"dev_mode"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects and configures the persistence backends.
type StorageConfig struct {
	// Mode is "memory" or "postgres". Postgres mode also requires ClickHouse
	// for the event store unless ClickHouseDSN is empty.
	Mode          string `yaml:"mode"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`

	// Migrate applies embedded migrations on startup.
	Migrate bool `yaml:"migrate"`
}

// VestingConfig configures the engine.
type VestingConfig struct {
	ProgramID          string `yaml:"program_id"`
	CustodyScope       string `yaml:"custody_scope"`
	DefaultShape       string `yaml:"default_shape"`
	MaxConflictRetries int    `yaml:"max_conflict_retries"`
}

// ClockConfig selects the time source for entitlement.
type ClockConfig struct {
	Source      string        `yaml:"source"`
	RPCEndpoint string        `yaml:"rpc_endpoint"`
	Commitment  string        `yaml:"commitment"`
	RPCTimeout  time.Duration `yaml:"rpc_timeout"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	// MaxTokenAge rejects tokens issued longer ago than this.
	MaxTokenAge time.Duration `yaml:"max_token_age"`
	// Audience, when set, must appear in the token's aud claim.
	Audience string `yaml:"audience"`
}

// FeedConfig configures the websocket event feed.
type FeedConfig struct {
	ClientBuffer int           `yaml:"client_buffer"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// Default returns the default configuration: an in-memory single-process
// deployment on the system clock.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Mode:    StorageMemory,
			Migrate: true,
		},
		Vesting: VestingConfig{
			ProgramID:          DefaultProgramID,
			CustodyScope:       string(custody.ScopeMint),
			DefaultShape:       string(domain.ShapeSteppedWeekly),
			MaxConflictRetries: 3,
		},
		Clock: ClockConfig{
			Source:     ClockSystem,
			Commitment: solana.DefaultCommitment,
			RPCTimeout: solana.DefaultTimeout,
		},
		Auth: AuthConfig{
			MaxTokenAge: 5 * time.Minute,
		},
		Feed: FeedConfig{
			ClientBuffer: 256,
			PingInterval: 30 * time.Second,
		},
	}
}

// LoadFile decodes a YAML file over cfg. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadEnvFile copies KEY=VALUE lines from path into the process environment.
// Variables already set are left alone. A missing file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"`)

		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables looked up with lookup
// (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("VESTING_LISTEN_ADDR", &c.Server.ListenAddr)
	str("VESTING_STORAGE", &c.Storage.Mode)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("CLICKHOUSE_DSN", &c.Storage.ClickHouseDSN)
	str("VESTING_PROGRAM_ID", &c.Vesting.ProgramID)
	str("VESTING_CUSTODY_SCOPE", &c.Vesting.CustodyScope)
	str("VESTING_DEFAULT_SHAPE", &c.Vesting.DefaultShape)
	str("VESTING_CLOCK", &c.Clock.Source)
	str("SOLANA_RPC_ENDPOINT", &c.Clock.RPCEndpoint)
	str("SOLANA_COMMITMENT", &c.Clock.Commitment)
	str("VESTING_AUTH_AUDIENCE", &c.Auth.Audience)

	if v, ok := lookup("VESTING_DEV_MODE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("VESTING_DEV_MODE: %w", err)
		}
		c.DevMode = b
	}
	if v, ok := lookup("VESTING_MIGRATE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("VESTING_MIGRATE: %w", err)
		}
		c.Storage.Migrate = b
	}
	if v, ok := lookup("VESTING_MAX_TOKEN_AGE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VESTING_MAX_TOKEN_AGE: %w", err)
		}
		c.Auth.MaxTokenAge = d
	}
	return nil
}

// RegisterFlags defines the server's command-line flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to YAML config file (env: VESTING_CONFIG)")
	fs.String("listen", "", "HTTP listen address")
	fs.String("storage", "", "Storage mode: memory or postgres")
	fs.String("postgres-dsn", "", "PostgreSQL connection string")
	fs.String("clickhouse-dsn", "", "ClickHouse connection string")
	fs.String("program-id", "", "Vesting program id used for PDA derivation")
	fs.String("custody-scope", "", "Custody scope: mint or receiver")
	fs.String("default-shape", "", "Default schedule shape: STEPPED_WEEKLY or CONTINUOUS_LINEAR")
	fs.String("clock", "", "Clock source: system or cluster")
	fs.String("rpc", "", "Solana RPC endpoint for the cluster clock")
	fs.Bool("dev", false, "Enable dev routes for mint management")
	fs.Bool("migrate", true, "Apply migrations on startup")
}

// ApplyFlags copies explicitly set flags from fs over cfg.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	strs := map[string]*string{
		"listen":         &c.Server.ListenAddr,
		"storage":        &c.Storage.Mode,
		"postgres-dsn":   &c.Storage.PostgresDSN,
		"clickhouse-dsn": &c.Storage.ClickHouseDSN,
		"program-id":     &c.Vesting.ProgramID,
		"custody-scope":  &c.Vesting.CustodyScope,
		"default-shape":  &c.Vesting.DefaultShape,
		"clock":          &c.Clock.Source,
		"rpc":            &c.Clock.RPCEndpoint,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	bools := map[string]*bool{
		"dev":     &c.DevMode,
		"migrate": &c.Storage.Migrate,
	}
	for name, dst := range bools {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetBool(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}

// Load resolves the configuration from all sources. fs must have been
// populated by RegisterFlags and parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv("VESTING_CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres storage requires postgres_dsn", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage mode %q", ErrInvalidConfig, c.Storage.Mode)
	}

	if _, err := solana.ParsePublicKey(c.Vesting.ProgramID); err != nil {
		return fmt.Errorf("%w: program_id: %v", ErrInvalidConfig, err)
	}
	if !custody.Scope(c.Vesting.CustodyScope).IsValid() {
		return fmt.Errorf("%w: unknown custody scope %q", ErrInvalidConfig, c.Vesting.CustodyScope)
	}
	if !domain.ScheduleShape(c.Vesting.DefaultShape).IsValid() {
		return fmt.Errorf("%w: unknown schedule shape %q", ErrInvalidConfig, c.Vesting.DefaultShape)
	}
	if c.Vesting.MaxConflictRetries < 0 {
		return fmt.Errorf("%w: max_conflict_retries must not be negative", ErrInvalidConfig)
	}

	switch c.Clock.Source {
	case ClockSystem:
	case ClockCluster:
		if c.Clock.RPCEndpoint == "" {
			return fmt.Errorf("%w: cluster clock requires rpc_endpoint", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown clock source %q", ErrInvalidConfig, c.Clock.Source)
	}

	if c.Auth.MaxTokenAge <= 0 {
		return fmt.Errorf("%w: max_token_age must be positive", ErrInvalidConfig)
	}
	if c.Feed.ClientBuffer <= 0 {
		return fmt.Errorf("%w: feed client_buffer must be positive", ErrInvalidConfig)
	}
	return nil
}
