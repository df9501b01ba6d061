package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Operating modes, one proximity session each
const (
	ModeDevice   = "device"   // continuous platform watch
	ModePolling  = "polling"  // single-shot reads on a fixed cadence
	ModeControls = "controls" // keyboard-driven simulated movement
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Game    GameConfig    `mapstructure:"game"`
	Display DisplayConfig `mapstructure:"display"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	Environment     string        `mapstructure:"environment"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MetricsEnabled  bool          `mapstructure:"metrics_enabled"`
	HealthCheckPath string        `mapstructure:"health_check_path"`
	RefreshRate     float64       `mapstructure:"refresh_rate"`  // game.Refresh calls per second
	RefreshBurst    int           `mapstructure:"refresh_burst"` // burst for the same limiter
}

// RedisConfig holds the Redis-backed location capability configuration.
// An empty URL disables it; device and polling sessions then report an unknown position.
type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	DB         int           `mapstructure:"db"` // -1 keeps the database named in the URL
	CurrentKey string        `mapstructure:"current_key"`
	FixTopic   string        `mapstructure:"fix_topic"`
	FixTTL     time.Duration `mapstructure:"fix_ttl"` // 0 keeps the current fix until replaced
}

// GameConfig holds the proximity rules
type GameConfig struct {
	Modes               []string      `mapstructure:"modes"`
	RandomLocationCount int           `mapstructure:"random_location_count"`
	BaseDistance        float64       `mapstructure:"base_distance"` // meters
	Jitter              float64       `mapstructure:"jitter"`        // meters either side of base
	InRangeDistance     float64       `mapstructure:"in_range_distance"`
	RefreshInterval     time.Duration `mapstructure:"refresh_interval"` // 0 disables cadence refreshes
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	RefreshOnPoll       bool          `mapstructure:"refresh_on_poll"`
	Speed               float64       `mapstructure:"speed"`      // simulated units, see position.SimulatedSource
	FrameRate           int           `mapstructure:"frame_rate"` // simulated frames per second
}

// DisplayConfig holds what the map collaborator needs besides positions
type DisplayConfig struct {
	Zoom              int        `mapstructure:"zoom"`
	TileURL           string     `mapstructure:"tile_url"`
	Attribution       string     `mapstructure:"attribution"`
	OverlayColor      string     `mapstructure:"overlay_color"`
	PlayerIcon        IconConfig `mapstructure:"player_icon"`
	TargetIcon        IconConfig `mapstructure:"target_icon"`
	PlayerPopup       string     `mapstructure:"player_popup"`
	TargetPopupFormat string     `mapstructure:"target_popup_format"`
}

// IconConfig describes one marker image
type IconConfig struct {
	URL          string `mapstructure:"url"`
	ShadowURL    string `mapstructure:"shadow_url"`
	Size         [2]int `mapstructure:"size"`
	Anchor       [2]int `mapstructure:"anchor"`
	PopupAnchor  [2]int `mapstructure:"popup_anchor"`
	ShadowSize   [2]int `mapstructure:"shadow_size"`
	ShadowAnchor [2]int `mapstructure:"shadow_anchor"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
	Encoding    string `mapstructure:"encoding"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/proximity")
	return load(v)
}

// LoadFile loads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, continue with env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.health_check_path", "/health")
	v.SetDefault("server.refresh_rate", 2.0)
	v.SetDefault("server.refresh_burst", 5)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.db", -1)
	v.SetDefault("redis.current_key", "location:current")
	v.SetDefault("redis.fix_topic", "location.fixes")
	v.SetDefault("redis.fix_ttl", "0s")

	v.SetDefault("game.modes", []string{ModePolling, ModeControls})
	v.SetDefault("game.random_location_count", 3)
	v.SetDefault("game.base_distance", 275.0)
	v.SetDefault("game.jitter", 25.0)
	v.SetDefault("game.in_range_distance", 75.0)
	v.SetDefault("game.refresh_interval", "0s")
	v.SetDefault("game.poll_interval", "1s")
	v.SetDefault("game.refresh_on_poll", false)
	v.SetDefault("game.speed", 5.0)
	v.SetDefault("game.frame_rate", 60)

	v.SetDefault("display.zoom", 16)
	v.SetDefault("display.tile_url", "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png")
	v.SetDefault("display.attribution", `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`)
	v.SetDefault("display.overlay_color", "orange")
	v.SetDefault("display.player_popup", "You're here!")
	v.SetDefault("display.target_popup_format", "Location %d")
	for _, icon := range []string{"player_icon", "target_icon"} {
		v.SetDefault("display."+icon+".url", "/assets/placeholder-marker.png")
		v.SetDefault("display."+icon+".shadow_url", "/assets/marker-shadow.png")
		v.SetDefault("display."+icon+".size", [2]int{32, 32})
		v.SetDefault("display."+icon+".anchor", [2]int{16, 32})
		v.SetDefault("display."+icon+".popup_anchor", [2]int{0, -32})
		v.SetDefault("display."+icon+".shadow_size", [2]int{32, 32})
		v.SetDefault("display."+icon+".shadow_anchor", [2]int{8, 32})
	}

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")
	v.SetDefault("log.encoding", "console")
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if cfg.Server.RefreshRate <= 0 || cfg.Server.RefreshBurst < 1 {
		return fmt.Errorf("refresh rate and burst must be positive")
	}

	if cfg.Redis.DB < -1 || cfg.Redis.FixTTL < 0 {
		return fmt.Errorf("redis db must be -1 or a database number and fix ttl non-negative")
	}

	if len(cfg.Game.Modes) == 0 {
		return fmt.Errorf("at least one game mode must be enabled")
	}
	for _, mode := range cfg.Game.Modes {
		if !contains([]string{ModeDevice, ModePolling, ModeControls}, mode) {
			return fmt.Errorf("unknown game mode: %s", mode)
		}
	}

	if cfg.Game.RandomLocationCount < 1 {
		return fmt.Errorf("random location count must be at least 1")
	}

	if cfg.Game.BaseDistance <= 0 || cfg.Game.Jitter < 0 {
		return fmt.Errorf("base distance must be positive and jitter non-negative")
	}

	// DestinationInRange rejects min > max; catch it here instead of at the first refresh
	if cfg.Game.Jitter > cfg.Game.BaseDistance {
		return fmt.Errorf("jitter %.1f exceeds base distance %.1f", cfg.Game.Jitter, cfg.Game.BaseDistance)
	}

	if cfg.Game.InRangeDistance < 0 {
		return fmt.Errorf("in-range distance cannot be negative")
	}

	if cfg.Game.RefreshInterval < 0 {
		return fmt.Errorf("refresh interval cannot be negative")
	}

	if cfg.Game.PollInterval < 10*time.Millisecond {
		return fmt.Errorf("poll interval must be at least 10ms")
	}

	if cfg.Game.Speed < 0 {
		return fmt.Errorf("speed cannot be negative")
	}

	if cfg.Game.FrameRate < 1 || cfg.Game.FrameRate > 240 {
		return fmt.Errorf("frame rate must be between 1 and 240")
	}

	if cfg.Display.Zoom < 0 || cfg.Display.Zoom > 22 {
		return fmt.Errorf("zoom must be between 0 and 22")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, cfg.Log.Level) {
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}

	validEncodings := []string{"json", "console"}
	if !contains(validEncodings, cfg.Log.Encoding) {
		return fmt.Errorf("invalid log encoding: %s", cfg.Log.Encoding)
	}

	return nil
}

// GetServerAddr returns the server address in host:port format
func (s *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction returns true if the environment is production
func (s *ServerConfig) IsProduction() bool {
	return strings.ToLower(s.Environment) == "production"
}

// Enabled reports whether the Redis location capability is configured
func (r *RedisConfig) Enabled() bool {
	return r.URL != ""
}

// MinDistance is the closest a generated target may land
func (g *GameConfig) MinDistance() float64 {
	return g.BaseDistance - g.Jitter
}

// MaxDistance is the farthest a generated target may land
func (g *GameConfig) MaxDistance() float64 {
	return g.BaseDistance + g.Jitter
}

// FrameInterval is the simulated animation frame period
func (g *GameConfig) FrameInterval() time.Duration {
	return time.Second / time.Duration(g.FrameRate)
}

// HasMode reports whether the mode is enabled
func (g *GameConfig) HasMode(mode string) bool {
	return contains(g.Modes, mode)
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
