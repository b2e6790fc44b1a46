package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Bus          BusConfig          `yaml:"bus"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`
	Backpressure BackpressureConfig `yaml:"backpressure"`
	Tick         TickConfig         `yaml:"tick"`
	Movement     MovementConfig     `yaml:"movement"`
	Combat       CombatConfig       `yaml:"combat"`
	World        WorldConfig        `yaml:"world"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP/WebSocket transport settings
type ServerConfig struct {
	ListenAddr  string        `yaml:"listen_addr"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	MaxPayload  int64         `yaml:"max_payload"`
	Benchmark   bool          `yaml:"benchmark"`
	MetricsPath string        `yaml:"metrics_path"`
	// Upgrades allowed per second from a single IP, with a burst of the same size.
	UpgradesPerIP float64 `yaml:"upgrades_per_ip"`
	MaxSessions   int     `yaml:"max_sessions"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
	Timeout       time.Duration `yaml:"timeout"`
}

// BusConfig selects the NATS server used for broadcast channels.
// An empty URL starts an embedded in-process server.
type BusConfig struct {
	URL string `yaml:"url"`
}

// RateLimitConfig holds per-session packet rate limits
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// BackpressureConfig holds send-queue retry settings
type BackpressureConfig struct {
	Ceiling     int64         `yaml:"ceiling"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// TickConfig holds scheduler periods and thresholds
type TickConfig struct {
	HighFrequency     time.Duration `yaml:"high_frequency"`
	Fixed             time.Duration `yaml:"fixed"`
	World             time.Duration `yaml:"world"`
	Save              time.Duration `yaml:"save"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	PvPTimeout        time.Duration `yaml:"pvp_timeout"`
	RegenPercent      float64       `yaml:"regen_percent"`
}

// MovementConfig holds movement loop settings
type MovementConfig struct {
	Speed           float64       `yaml:"speed"` // pixels per second
	FrameTime       time.Duration `yaml:"frame_time"`
	MountMultiplier float64       `yaml:"mount_multiplier"`
	PlayerWidth     float64       `yaml:"player_width"`
	PlayerHeight    float64       `yaml:"player_height"`
}

// CombatConfig holds spell resolution tuning
type CombatConfig struct {
	CritChance     float64       `yaml:"crit_chance"`
	CritMultiplier float64       `yaml:"crit_multiplier"`
	TravelSpeed    float64       `yaml:"travel_speed"` // pixels per second
	MaxTravelDelay time.Duration `yaml:"max_travel_delay"`
	LevelScaling   float64       `yaml:"level_scaling"`
	XPPerLevel     int           `yaml:"xp_per_level"`
}

// WorldConfig holds world identity and client quirks
type WorldConfig struct {
	Name                 string        `yaml:"name"`
	DefaultMap           string        `yaml:"default_map"`
	Languages            []string      `yaml:"languages"`
	DelayedCountAgents   []string      `yaml:"delayed_count_agents"`
	ConnectionCountDelay time.Duration `yaml:"connection_count_delay"`
}

// LoggingConfig holds slog handler settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.MaxPayload == 0 {
		cfg.Server.MaxPayload = 64 * 1024
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Server.UpgradesPerIP == 0 {
		cfg.Server.UpgradesPerIP = 5
	}
	if cfg.Server.MaxSessions == 0 {
		cfg.Server.MaxSessions = 2000
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "realm.db"
	}

	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}
	if cfg.Auth.Timeout == 0 {
		cfg.Auth.Timeout = 10 * time.Second
	}

	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 100
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Second
	}
	if cfg.RateLimit.Cooldown == 0 {
		cfg.RateLimit.Cooldown = 5 * time.Second
	}

	if cfg.Backpressure.Ceiling == 0 {
		cfg.Backpressure.Ceiling = 16 * 1024 * 1024
	}
	if cfg.Backpressure.BaseDelay == 0 {
		cfg.Backpressure.BaseDelay = 50 * time.Millisecond
	}
	if cfg.Backpressure.MaxDelay == 0 {
		cfg.Backpressure.MaxDelay = 500 * time.Millisecond
	}
	if cfg.Backpressure.MaxAttempts == 0 {
		cfg.Backpressure.MaxAttempts = 20
	}

	if cfg.Tick.HighFrequency == 0 {
		cfg.Tick.HighFrequency = time.Second / 60
	}
	if cfg.Tick.Fixed == 0 {
		cfg.Tick.Fixed = 100 * time.Millisecond
	}
	if cfg.Tick.World == 0 {
		cfg.Tick.World = time.Second
	}
	if cfg.Tick.Save == 0 {
		cfg.Tick.Save = 60 * time.Second
	}
	if cfg.Tick.InactivityTimeout == 0 {
		cfg.Tick.InactivityTimeout = 30 * time.Second
	}
	if cfg.Tick.PvPTimeout == 0 {
		cfg.Tick.PvPTimeout = 5 * time.Second
	}
	if cfg.Tick.RegenPercent == 0 {
		cfg.Tick.RegenPercent = 0.01
	}

	if cfg.Movement.Speed == 0 {
		cfg.Movement.Speed = 150
	}
	if cfg.Movement.FrameTime == 0 {
		cfg.Movement.FrameTime = time.Second / 60
	}
	if cfg.Movement.MountMultiplier == 0 {
		cfg.Movement.MountMultiplier = 1.35
	}
	if cfg.Movement.PlayerWidth == 0 {
		cfg.Movement.PlayerWidth = 16
	}
	if cfg.Movement.PlayerHeight == 0 {
		cfg.Movement.PlayerHeight = 24
	}

	if cfg.Combat.CritChance == 0 {
		cfg.Combat.CritChance = 0.1
	}
	if cfg.Combat.CritMultiplier == 0 {
		cfg.Combat.CritMultiplier = 1.5
	}
	if cfg.Combat.TravelSpeed == 0 {
		cfg.Combat.TravelSpeed = 400
	}
	if cfg.Combat.MaxTravelDelay == 0 {
		cfg.Combat.MaxTravelDelay = 1500 * time.Millisecond
	}
	if cfg.Combat.LevelScaling == 0 {
		cfg.Combat.LevelScaling = 0.05
	}
	if cfg.Combat.XPPerLevel == 0 {
		cfg.Combat.XPPerLevel = 10
	}

	if cfg.World.Name == "" {
		cfg.World.Name = "main"
	}
	if cfg.World.DefaultMap == "" {
		cfg.World.DefaultMap = "main"
	}
	if len(cfg.World.Languages) == 0 {
		cfg.World.Languages = []string{"en", "es", "fr", "de", "pt", "ja"}
	}
	if cfg.World.ConnectionCountDelay == 0 {
		cfg.World.ConnectionCountDelay = 500 * time.Millisecond
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
