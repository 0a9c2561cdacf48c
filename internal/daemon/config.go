// Package daemon manages the Tandem daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/tandem-app/tandem/internal/domain"
)

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all daemon configuration.
type Config struct {
	Partnership   PartnershipConfig           `toml:"partnership"`
	API           APIConfig                   `toml:"api"`
	Store         StoreConfig                 `toml:"store"`
	Engine        EngineConfig                `toml:"engine"`
	Notifications domain.NotificationSettings `toml:"notifications"`
	Redis         RedisConfig                 `toml:"redis"`
	Logging       LoggingConfig               `toml:"logging"`
	Telemetry     TelemetryConfig             `toml:"telemetry"`
}

// PartnershipConfig names the partnership this device serves.
type PartnershipConfig struct {
	ID       string   `toml:"id"`
	Partners []string `toml:"partners"`
	Local    string   `toml:"local"` // partner using this device
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StoreConfig selects the state store.
type StoreConfig struct {
	Backend string `toml:"backend"` // sqlite | redis | postgres | memory
	Dir     string `toml:"dir"`     // sqlite data directory
	DSN     string `toml:"dsn"`     // postgres connection string
}

// EngineConfig tunes the engagement engine.
type EngineConfig struct {
	DailyChallengeCount int    `toml:"daily_challenge_count"`
	WeeklyGoal          int    `toml:"weekly_goal"`
	Timezone            string `toml:"timezone"` // IANA name; empty = local
}

// RedisConfig controls the shared store, change bus and delivery sink.
type RedisConfig struct {
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	Prefix        string `toml:"prefix"`
	ChangeChannel string `toml:"change_channel"`
	AlertChannel  string `toml:"alert_channel"`
	Subscribe     bool   `toml:"subscribe"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Mode  string `toml:"mode"` // dev | prod
	Level string `toml:"level"`
}

// TelemetryConfig controls the Prometheus endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := tandemHome()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7420,
		},
		Store: StoreConfig{
			Backend: BackendSQLite,
			Dir:     homeDir,
		},
		Engine: EngineConfig{
			DailyChallengeCount: 3,
			WeeklyGoal:          5,
		},
		Notifications: domain.DefaultNotificationSettings(),
		Redis: RedisConfig{
			Prefix:        "tandem:",
			ChangeChannel: "tandem:changes",
			AlertChannel:  "tandem:alerts",
		},
		Logging: LoggingConfig{
			Mode:  "dev",
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from $TANDEM_HOME/config.toml, falling back to
// defaults, then applies .env and TANDEM_* environment overrides.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	path := filepath.Join(tandemHome(), "config.toml")

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// SaveConfig writes the config to $TANDEM_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(tandemHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("store backend redis requires redis.addr")
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store backend postgres requires store.dsn")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Engine.DailyChallengeCount < 0 {
		return fmt.Errorf("engine.daily_challenge_count must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if err := c.Notifications.Validate(); err != nil {
		return err
	}
	if c.Partnership.Local != "" && len(c.Partnership.Partners) > 0 && !contains(c.Partnership.Partners, c.Partnership.Local) {
		return fmt.Errorf("partnership.local %q is not one of partnership.partners", c.Partnership.Local)
	}
	return nil
}

// Location resolves the engine timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Engine.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return nil, fmt.Errorf("engine.timezone: %w", err)
	}
	return loc, nil
}

// applyEnv overrides config fields from TANDEM_* variables.
func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"TANDEM_PARTNERSHIP_ID": &cfg.Partnership.ID,
		"TANDEM_LOCAL_PARTNER":  &cfg.Partnership.Local,
		"TANDEM_API_HOST":       &cfg.API.Host,
		"TANDEM_STORE_BACKEND":  &cfg.Store.Backend,
		"TANDEM_STORE_DIR":      &cfg.Store.Dir,
		"TANDEM_POSTGRES_DSN":   &cfg.Store.DSN,
		"TANDEM_REDIS_ADDR":     &cfg.Redis.Addr,
		"TANDEM_REDIS_PASSWORD": &cfg.Redis.Password,
		"TANDEM_TIMEZONE":       &cfg.Engine.Timezone,
		"TANDEM_LOG_MODE":       &cfg.Logging.Mode,
		"TANDEM_LOG_LEVEL":      &cfg.Logging.Level,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TANDEM_API_PORT":              &cfg.API.Port,
		"TANDEM_DAILY_CHALLENGE_COUNT": &cfg.Engine.DailyChallengeCount,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("TANDEM_PARTNERS"); ok {
		cfg.Partnership.Partners = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// tandemHome returns the Tandem data directory.
func tandemHome() string {
	if env := os.Getenv("TANDEM_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tandem")
}

// TandemHome is exported for use by other packages.
func TandemHome() string {
	return tandemHome()
}
