package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord        DiscordConfig        `yaml:"discord"`
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	API            APIConfig            `yaml:"api"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Game           GameConfig           `yaml:"game"`
	Tournament     TournamentConfig     `yaml:"tournament"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Token             string   `yaml:"token"`
	GuildID           string   `yaml:"guild_id"`
	AnnounceChannelID string   `yaml:"announce_channel_id"`
	AdminRoleIDs      []string `yaml:"admin_role_ids"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // "postgres" or "sqlite"
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	DBName     string `yaml:"dbname"`
	SSLMode    string `yaml:"sslmode"`
	Path       string `yaml:"path"` // sqlite only
	MaxRetries int    `yaml:"max_retries"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// APIConfig holds read API settings.
type APIConfig struct {
	UsersCacheTTL  time.Duration `yaml:"users_cache_ttl"`
	StatsCacheTTL  time.Duration `yaml:"stats_cache_ttl"`
	CacheSize      int           `yaml:"cache_size"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	// OTLPEndpoint is the collector address. Empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// Level parses LogLevel.
func (t TelemetryConfig) Level() (slog.Level, error) {
	var l slog.Level
	if t.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	err := l.UnmarshalText([]byte(t.LogLevel))
	return l, err
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// GameConfig holds cash game settings.
type GameConfig struct {
	// ChipCount is the number of chips handed out per buy-in.
	ChipCount int64 `yaml:"chip_count"`
	// ChipValue is the price of one buy-in.
	ChipValue decimal.Decimal `yaml:"chip_value"`
	// Timezone is the IANA zone used to bucket actions into calendar days.
	Timezone      string `yaml:"timezone"`
	RecentGames   int    `yaml:"recent_games"`
	RecentActions int    `yaml:"recent_actions"`
}

// ChipStep returns the number of chips worth one currency unit. Cash-outs
// must be a multiple of it.
func (g GameConfig) ChipStep() int64 {
	if g.ChipValue.Sign() <= 0 {
		return 0
	}
	return decimal.NewFromInt(g.ChipCount).Div(g.ChipValue).IntPart()
}

// Location returns the configured display timezone.
func (g GameConfig) Location() (*time.Location, error) {
	return time.LoadLocation(g.Timezone)
}

// TournamentConfig holds tournament settings.
type TournamentConfig struct {
	// MaxTableSize is the largest field seated at a single table.
	MaxTableSize int `yaml:"max_table_size"`
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:     "postgres",
			Host:       "localhost",
			Port:       5432,
			SSLMode:    "disable",
			Path:       "pokerbot.db",
			MaxRetries: 3,
		},
		API: APIConfig{
			UsersCacheTTL:  30 * time.Minute,
			StatsCacheTTL:  10 * time.Minute,
			CacheSize:      500,
			AllowedOrigins: []string{"*"},
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "pokerbot",
			ServiceVersion: "0.1.0",
			LogLevel:       "info",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "pokerbot-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Game: GameConfig{
			ChipCount:     1000,
			ChipValue:     decimal.NewFromInt(20),
			Timezone:      "UTC",
			RecentGames:   3,
			RecentActions: 20,
		},
		Tournament: TournamentConfig{
			MaxTableSize: 9,
		},
	}
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"sqlite\"", c.Database.Driver)
	}
	if c.Database.MaxRetries < 1 {
		return fmt.Errorf("database.max_retries must be at least 1, got %d", c.Database.MaxRetries)
	}
	if _, err := c.Telemetry.Level(); err != nil {
		return fmt.Errorf("telemetry.log_level: %w", err)
	}
	if c.Game.ChipCount <= 0 {
		return fmt.Errorf("game.chip_count must be positive, got %d", c.Game.ChipCount)
	}
	if c.Game.ChipValue.Sign() <= 0 {
		return fmt.Errorf("game.chip_value must be positive, got %s", c.Game.ChipValue)
	}
	step := decimal.NewFromInt(c.Game.ChipCount).Div(c.Game.ChipValue)
	if !step.IsInteger() || step.Sign() <= 0 {
		return fmt.Errorf("game.chip_count / game.chip_value must be a whole number of chips, got %s", step)
	}
	if _, err := c.Game.Location(); err != nil {
		return fmt.Errorf("game.timezone: %w", err)
	}
	if c.Tournament.MaxTableSize < 2 {
		return fmt.Errorf("tournament.max_table_size must be at least 2, got %d", c.Tournament.MaxTableSize)
	}
	return nil
}
