package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Markets     MarketsConfig     `mapstructure:"markets"`
	Belief      BeliefConfig      `mapstructure:"belief"`
	Decision    DecisionConfig    `mapstructure:"decision"`
	Safety      SafetyConfig      `mapstructure:"safety"`
	Paper       PaperConfig       `mapstructure:"paper"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Memory      MemoryConfig      `mapstructure:"memory"`
	Connectors  ConnectorsConfig  `mapstructure:"connectors"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Vault       VaultConfig       `mapstructure:"vault"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
	AuditPath   string `mapstructure:"audit_path"`
}

// MarketsConfig bounds the tracked market universe
type MarketsConfig struct {
	MaxMarkets        int     `mapstructure:"max_markets"`         // 300
	MinLiquidityUSD   float64 `mapstructure:"min_liquidity_usd"`   // 10000
	PollIntervalMS    int     `mapstructure:"poll_interval_ms"`    // 60000
	CleanupIntervalMS int     `mapstructure:"cleanup_interval_ms"` // 60000
	ResolutionCheckMS int     `mapstructure:"resolution_check_ms"` // 300000
}

// BeliefConfig bounds per-market belief state
type BeliefConfig struct {
	MaxSignalHistory    int `mapstructure:"max_signal_history"`   // 15
	MaxUnknowns         int `mapstructure:"max_unknowns"`         // 3
	SpeculativeLookback int `mapstructure:"speculative_lookback"` // 10
}

// DecisionConfig holds trade eligibility thresholds
type DecisionConfig struct {
	MinConfidence   float64            `mapstructure:"min_confidence"`    // 65
	MaxWidth        float64            `mapstructure:"max_width"`         // 25
	MinEdge         map[string]float64 `mapstructure:"min_edge"`          // per category, pct points
	EdgeAdjustLimit float64            `mapstructure:"edge_adjust_limit"` // +5 over baseline
	CoverageTarget  float64            `mapstructure:"coverage_target"`   // 0.80
}

// SafetyConfig holds execution-side limits
type SafetyConfig struct {
	MaxPositionSizeUSD float64 `mapstructure:"max_position_size_usd"` // 100
	DailyLossLimitUSD  float64 `mapstructure:"daily_loss_limit_usd"`  // 50
	MaxOpenPositions   int     `mapstructure:"max_open_positions"`    // 5
}

// PaperConfig holds virtual position tracking settings
type PaperConfig struct {
	VirtualCapitalUSD float64 `mapstructure:"virtual_capital_usd"` // 10000
	StorePath         string  `mapstructure:"store_path"`
	RetentionDays     int     `mapstructure:"retention_days"`
	PersistRetries    int     `mapstructure:"persist_retries"`
	PersistBackoffMS  int     `mapstructure:"persist_backoff_ms"`
}

// CalibrationConfig bounds the calibration window
type CalibrationConfig struct {
	WindowSize    int `mapstructure:"window_size"`    // 200
	MinRecords    int `mapstructure:"min_records"`    // 20
	DensityWindow int `mapstructure:"density_window"` // 10
}

// MemoryConfig holds memory-pressure policy parameters
type MemoryConfig struct {
	CriticalMB         int     `mapstructure:"critical_mb"`         // 120
	EmergencyMB        int     `mapstructure:"emergency_mb"`        // 140
	AggressiveFraction float64 `mapstructure:"aggressive_fraction"` // 0.8
	EmergencyFraction  float64 `mapstructure:"emergency_fraction"`  // 0.4
}

// ConnectorsConfig holds external source settings
type ConnectorsConfig struct {
	TimeoutMS          int    `mapstructure:"timeout_ms"`            // 10000
	MinFetchIntervalMS int    `mapstructure:"min_fetch_interval_ms"` // 300000 per RSS source
	ReplayPath         string `mapstructure:"replay_path"`           // recorded session file
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the snapshot mirror
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains feed bus settings
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig contains operator notification settings
type TelegramConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BotToken   string `mapstructure:"bot_token"`
	ChatID     int64  `mapstructure:"chat_id"`
	RatePerMin int    `mapstructure:"rate_per_min"` // 10
}

// VaultConfig contains secret-store settings
type VaultConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Path    string `mapstructure:"path"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("EDGEWATCH")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "edgewatch")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")
	v.SetDefault("app.audit_path", "./data/audit.log")

	v.SetDefault("markets.max_markets", 300)
	v.SetDefault("markets.min_liquidity_usd", 10000.0)
	v.SetDefault("markets.poll_interval_ms", 60000)
	v.SetDefault("markets.cleanup_interval_ms", 60000)
	v.SetDefault("markets.resolution_check_ms", 300000)

	v.SetDefault("belief.max_signal_history", 15)
	v.SetDefault("belief.max_unknowns", 3)
	v.SetDefault("belief.speculative_lookback", 10)

	v.SetDefault("decision.min_confidence", 65.0)
	v.SetDefault("decision.max_width", 25.0)
	v.SetDefault("decision.min_edge", DefaultMinEdge())
	v.SetDefault("decision.edge_adjust_limit", 5.0)
	v.SetDefault("decision.coverage_target", 0.80)

	v.SetDefault("safety.max_position_size_usd", 100.0)
	v.SetDefault("safety.daily_loss_limit_usd", 50.0)
	v.SetDefault("safety.max_open_positions", 5)

	v.SetDefault("paper.virtual_capital_usd", 10000.0)
	v.SetDefault("paper.store_path", "./data/paper_positions.json")
	v.SetDefault("paper.retention_days", 30)
	v.SetDefault("paper.persist_retries", 3)
	v.SetDefault("paper.persist_backoff_ms", 500)

	v.SetDefault("calibration.window_size", 200)
	v.SetDefault("calibration.min_records", 20)
	v.SetDefault("calibration.density_window", 10)

	v.SetDefault("memory.critical_mb", 120)
	v.SetDefault("memory.emergency_mb", 140)
	v.SetDefault("memory.aggressive_fraction", 0.8)
	v.SetDefault("memory.emergency_fraction", 0.4)

	v.SetDefault("connectors.timeout_ms", 10000)
	v.SetDefault("connectors.min_fetch_interval_ms", 300000)
	v.SetDefault("connectors.replay_path", "")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "edgewatch")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.rate_per_min", 10)

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.path", "secret/data/edgewatch")

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// DefaultMinEdge returns the fixed per-category minimum edge table
// in percentage points.
func DefaultMinEdge() map[string]float64 {
	return map[string]float64{
		"politics":      12,
		"crypto":        15,
		"sports":        10,
		"economics":     12,
		"entertainment": 18,
		"weather":       8,
		"technology":    15,
		"world":         20,
		"other":         25,
	}
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PollInterval returns the market poll interval as a time.Duration
func (c *MarketsConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// CleanupInterval returns the market cleanup interval as a time.Duration
func (c *MarketsConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMS) * time.Millisecond
}

// ResolutionCheckInterval returns the resolution poll interval as a time.Duration
func (c *MarketsConfig) ResolutionCheckInterval() time.Duration {
	return time.Duration(c.ResolutionCheckMS) * time.Millisecond
}

// Timeout returns the connector call timeout as a time.Duration
func (c *ConnectorsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// MinFetchInterval returns the per-source minimum fetch interval
func (c *ConnectorsConfig) MinFetchInterval() time.Duration {
	return time.Duration(c.MinFetchIntervalMS) * time.Millisecond
}

// PersistBackoff returns the paper store retry backoff
func (c *PaperConfig) PersistBackoff() time.Duration {
	return time.Duration(c.PersistBackoffMS) * time.Millisecond
}

// Retention returns the paper position retention window
func (c *PaperConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
