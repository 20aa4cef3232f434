// Package config loads runtime configuration: defaults, then an optional YAML
// file, then a .env file, then TRIBUTE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/tribute_layer/internal/app/services/scoring"
	"github.com/R3E-Network/tribute_layer/pkg/logger"
)

// DefaultPath is read when no config path is given. It may be absent.
const DefaultPath = "config/tribute.yaml"

type Config struct {
	Server      ServerConfig         `yaml:"server"`
	Database    DatabaseConfig       `yaml:"database"`
	Redis       RedisConfig          `yaml:"redis"`
	Logging     logger.LoggingConfig `yaml:"logging"`
	Heat        HeatConfig           `yaml:"heat"`
	Scoring     ScoringConfig        `yaml:"scoring"`
	Leaderboard LeaderboardConfig    `yaml:"leaderboard"`
	Lifecycle   LifecycleConfig      `yaml:"lifecycle"`
	Ledger      LedgerConfig         `yaml:"ledger"`
	Content     ContentConfig        `yaml:"content"`
	Wallet      WalletConfig         `yaml:"wallet"`
	Kafka       KafkaConfig          `yaml:"kafka"`
	Admin       AdminConfig          `yaml:"admin"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"TRIBUTE_SERVER_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"TRIBUTE_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"TRIBUTE_SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"TRIBUTE_SERVER_SHUTDOWN_TIMEOUT"`
	// RateLimit is requests per second per caller; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" env:"TRIBUTE_SERVER_RATE_LIMIT"`
	Burst     int     `yaml:"burst" env:"TRIBUTE_SERVER_BURST"`
}

// DatabaseConfig selects postgres when DSN is set; otherwise state is kept in
// memory.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" env:"TRIBUTE_DATABASE_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"TRIBUTE_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"TRIBUTE_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"TRIBUTE_DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool          `yaml:"migrate_on_start" env:"TRIBUTE_DATABASE_MIGRATE_ON_START"`
}

// RedisConfig enables the redis snapshot store when Addr is set.
type RedisConfig struct {
	Addr        string        `yaml:"addr" env:"TRIBUTE_REDIS_ADDR"`
	Password    string        `yaml:"password" env:"TRIBUTE_REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"TRIBUTE_REDIS_DB"`
	SnapshotKey string        `yaml:"snapshot_key" env:"TRIBUTE_REDIS_SNAPSHOT_KEY"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env:"TRIBUTE_REDIS_SNAPSHOT_TTL"`
}

type HeatConfig struct {
	Window   time.Duration      `yaml:"window" env:"TRIBUTE_HEAT_WINDOW"`
	MaxDelta float64            `yaml:"max_delta" env:"TRIBUTE_HEAT_MAX_DELTA"`
	Weights  map[string]float64 `yaml:"weights"`
}

type ScoringConfig struct {
	Alpha    float64       `yaml:"alpha" env:"TRIBUTE_SCORING_ALPHA"`
	X0       float64       `yaml:"x0" env:"TRIBUTE_SCORING_X0"`
	K        float64       `yaml:"k" env:"TRIBUTE_SCORING_K"`
	U        float64       `yaml:"u" env:"TRIBUTE_SCORING_U"`
	PBase    float64       `yaml:"p_base" env:"TRIBUTE_SCORING_P_BASE"`
	Span     time.Duration `yaml:"span" env:"TRIBUTE_SCORING_SPAN"`
	Lookback time.Duration `yaml:"lookback" env:"TRIBUTE_SCORING_LOOKBACK"`
}

type LeaderboardConfig struct {
	MaxCandidates    int    `yaml:"max_candidates" env:"TRIBUTE_LEADERBOARD_MAX_CANDIDATES"`
	SnapshotSchedule string `yaml:"snapshot_schedule" env:"TRIBUTE_LEADERBOARD_SNAPSHOT_SCHEDULE"`
}

type LifecycleConfig struct {
	BatchLimit           int           `yaml:"batch_limit" env:"TRIBUTE_LIFECYCLE_BATCH_LIMIT"`
	Concurrency          int           `yaml:"concurrency" env:"TRIBUTE_LIFECYCLE_CONCURRENCY"`
	StuckAfter           time.Duration `yaml:"stuck_after" env:"TRIBUTE_LIFECYCLE_STUCK_AFTER"`
	FeeBase              int64         `yaml:"fee_base" env:"TRIBUTE_LIFECYCLE_FEE_BASE"`
	FeePerByte           int64         `yaml:"fee_per_byte" env:"TRIBUTE_LIFECYCLE_FEE_PER_BYTE"`
	ReserveFees          bool          `yaml:"reserve_fees" env:"TRIBUTE_LIFECYCLE_RESERVE_FEES"`
	ExecutionSchedule    string        `yaml:"execution_schedule" env:"TRIBUTE_LIFECYCLE_EXECUTION_SCHEDULE"`
	ConfirmationSchedule string        `yaml:"confirmation_schedule" env:"TRIBUTE_LIFECYCLE_CONFIRMATION_SCHEDULE"`
	TickTimeout          time.Duration `yaml:"tick_timeout" env:"TRIBUTE_LIFECYCLE_TICK_TIMEOUT"`
}

// LedgerConfig selects the ledger client. Mode "simulator" keeps everything
// in process; "http" talks to the gateway at BaseURL.
type LedgerConfig struct {
	Mode               string        `yaml:"mode" env:"TRIBUTE_LEDGER_MODE"`
	BaseURL            string        `yaml:"base_url" env:"TRIBUTE_LEDGER_BASE_URL"`
	APIKey             string        `yaml:"api_key" env:"TRIBUTE_LEDGER_API_KEY"`
	Timeout            time.Duration `yaml:"timeout" env:"TRIBUTE_LEDGER_TIMEOUT"`
	MaxRetries         int           `yaml:"max_retries" env:"TRIBUTE_LEDGER_MAX_RETRIES"`
	Backoff            time.Duration `yaml:"backoff" env:"TRIBUTE_LEDGER_BACKOFF"`
	MaxBackoff         time.Duration `yaml:"max_backoff" env:"TRIBUTE_LEDGER_MAX_BACKOFF"`
	RateLimit          float64       `yaml:"rate_limit" env:"TRIBUTE_LEDGER_RATE_LIMIT"`
	Burst              int           `yaml:"burst" env:"TRIBUTE_LEDGER_BURST"`
	MinConfirmations   int           `yaml:"min_confirmations" env:"TRIBUTE_LEDGER_MIN_CONFIRMATIONS"`
	PermanentRefPrefix string        `yaml:"permanent_ref_prefix" env:"TRIBUTE_LEDGER_PERMANENT_REF_PREFIX"`
	SimulatorFinality  time.Duration `yaml:"simulator_finality" env:"TRIBUTE_LEDGER_SIMULATOR_FINALITY"`
}

// ContentConfig points at the content directory. Empty BaseURL uses the
// in-memory registry.
type ContentConfig struct {
	BaseURL string        `yaml:"base_url" env:"TRIBUTE_CONTENT_BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"TRIBUTE_CONTENT_API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"TRIBUTE_CONTENT_TIMEOUT"`
}

// WalletConfig points at the wallet API that holds balances and fee
// reservations. Empty BaseURL keeps balances in process.
type WalletConfig struct {
	BaseURL string        `yaml:"base_url" env:"TRIBUTE_WALLET_BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"TRIBUTE_WALLET_API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"TRIBUTE_WALLET_TIMEOUT"`
}

// KafkaConfig enables reference-update publishing when Brokers is set.
type KafkaConfig struct {
	Brokers string `yaml:"brokers" env:"TRIBUTE_KAFKA_BROKERS"`
	Topic   string `yaml:"topic" env:"TRIBUTE_KAFKA_TOPIC"`
}

// AdminConfig guards the operator endpoints. With neither set they are
// refused.
type AdminConfig struct {
	Token     string `yaml:"token" env:"TRIBUTE_ADMIN_TOKEN"`
	JWTSecret string `yaml:"jwt_secret" env:"TRIBUTE_ADMIN_JWT_SECRET"`
}

const (
	LedgerModeSimulator = "simulator"
	LedgerModeHTTP      = "http"
)

// Default returns the built-in configuration.
func Default() *Config {
	p := scoring.DefaultParams()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			RateLimit:       50,
			Burst:           100,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			SnapshotKey: "tribute:leaderboard:snapshot",
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout", FilePrefix: "tribute"},
		Heat: HeatConfig{
			Window:   60 * time.Second,
			MaxDelta: 1000,
		},
		Scoring: ScoringConfig{
			Alpha:    p.Alpha,
			X0:       p.X0,
			K:        p.K,
			U:        p.U,
			PBase:    p.PBase,
			Span:     p.Span,
			Lookback: p.Lookback,
		},
		Leaderboard: LeaderboardConfig{
			MaxCandidates:    1000,
			SnapshotSchedule: "@hourly",
		},
		Lifecycle: LifecycleConfig{
			BatchLimit:           100,
			Concurrency:          8,
			StuckAfter:           24 * time.Hour,
			FeeBase:              100_000,
			FeePerByte:           1_000,
			ExecutionSchedule:    "* * * * *",
			ConfirmationSchedule: "*/2 * * * *",
			TickTimeout:          5 * time.Minute,
		},
		Ledger: LedgerConfig{
			Mode:               LedgerModeSimulator,
			Timeout:            15 * time.Second,
			MaxRetries:         2,
			Backoff:            200 * time.Millisecond,
			MaxBackoff:         5 * time.Second,
			RateLimit:          20,
			Burst:              5,
			MinConfirmations:   1,
			PermanentRefPrefix: "ar://",
			SimulatorFinality:  30 * time.Second,
		},
		Content: ContentConfig{Timeout: 10 * time.Second},
		Wallet:  WalletConfig{Timeout: 10 * time.Second},
		Kafka:   KafkaConfig{Topic: "tribute.reference-updates"},
	}
}

// Load builds the configuration. A missing file is only tolerated for
// DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ScoringParams converts the scoring section.
func (c *Config) ScoringParams() scoring.Params {
	return scoring.Params{
		Alpha:    c.Scoring.Alpha,
		X0:       c.Scoring.X0,
		K:        c.Scoring.K,
		U:        c.Scoring.U,
		PBase:    c.Scoring.PBase,
		Span:     c.Scoring.Span,
		Lookback: c.Scoring.Lookback,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("config: server.addr is required")
	}
	if c.Server.RateLimit < 0 {
		return errors.New("config: server.rate_limit must not be negative")
	}
	if c.Heat.Window <= 0 {
		return errors.New("config: heat.window must be positive")
	}
	if c.Heat.MaxDelta <= 0 {
		return errors.New("config: heat.max_delta must be positive")
	}
	for kind, w := range c.Heat.Weights {
		if w <= 0 || w > c.Heat.MaxDelta {
			return fmt.Errorf("config: heat.weights.%s must be within (0, max_delta]", kind)
		}
	}
	if err := c.ScoringParams().Validate(); err != nil {
		return fmt.Errorf("config: scoring: %w", err)
	}
	if c.Leaderboard.MaxCandidates <= 0 {
		return errors.New("config: leaderboard.max_candidates must be positive")
	}
	if c.Lifecycle.BatchLimit <= 0 || c.Lifecycle.Concurrency <= 0 {
		return errors.New("config: lifecycle.batch_limit and lifecycle.concurrency must be positive")
	}
	if c.Lifecycle.StuckAfter < 0 {
		return errors.New("config: lifecycle.stuck_after must not be negative")
	}
	if c.Lifecycle.FeeBase < 0 || c.Lifecycle.FeePerByte < 0 {
		return errors.New("config: lifecycle fees must not be negative")
	}
	schedules := map[string]string{
		"leaderboard.snapshot_schedule":   c.Leaderboard.SnapshotSchedule,
		"lifecycle.execution_schedule":    c.Lifecycle.ExecutionSchedule,
		"lifecycle.confirmation_schedule": c.Lifecycle.ConfirmationSchedule,
	}
	for name, expr := range schedules {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	switch strings.ToLower(c.Ledger.Mode) {
	case LedgerModeSimulator:
	case LedgerModeHTTP:
		if strings.TrimSpace(c.Ledger.BaseURL) == "" {
			return errors.New("config: ledger.base_url is required in http mode")
		}
	default:
		return fmt.Errorf("config: unknown ledger.mode %q", c.Ledger.Mode)
	}
	if c.Ledger.Timeout <= 0 {
		return errors.New("config: ledger.timeout must be positive")
	}
	if c.Ledger.MaxRetries < 0 {
		return errors.New("config: ledger.max_retries must not be negative")
	}
	return nil
}

// Fallback names a collaborator that runs in process because no backend is
// configured for it.
type Fallback struct {
	Setting string
	Usage   string
	// Stateful fallbacks lose their state when the process exits.
	Stateful bool
}

// InProcessFallbacks lists the collaborators that fall back to in-process
// implementations.
func (c *Config) InProcessFallbacks() []Fallback {
	var out []Fallback
	if !strings.EqualFold(c.Ledger.Mode, LedgerModeHTTP) {
		out = append(out, Fallback{Setting: "ledger.mode", Usage: "ledger simulator", Stateful: true})
	}
	if strings.TrimSpace(c.Wallet.BaseURL) == "" {
		out = append(out, Fallback{Setting: "wallet.base_url", Usage: "in-memory wallets", Stateful: true})
	}
	if strings.TrimSpace(c.Kafka.Brokers) == "" {
		out = append(out, Fallback{Setting: "kafka.brokers", Usage: "in-memory reference recorder", Stateful: true})
	}
	if strings.TrimSpace(c.Content.BaseURL) == "" {
		out = append(out, Fallback{Setting: "content.base_url", Usage: "empty content registry"})
	}
	return out
}

// CheckDurable fails when a database is configured but a stateful
// collaborator would still live in process. Ticks may run in separate
// processes, so such state would be lost between them.
func (c *Config) CheckDurable() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return nil
	}
	var missing []string
	for _, f := range c.InProcessFallbacks() {
		if f.Stateful {
			missing = append(missing, f.Setting)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: database.dsn is set but %s still run in process", strings.Join(missing, ", "))
	}
	return nil
}
