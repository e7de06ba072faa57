package dlnad

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	embeddedmqtt "github.com/mikey-austin/plex_dlna/internal/modules/embedded_mqtt"
)

const (
	DefaultListen       = ":32488"
	DefaultFriendlyName = "Plex DLNA"
	DefaultMaxAge       = 1800
)

// Config is the top-level configuration for plexdlnad.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Plex     PlexConfig     `toml:"plex"`
	Podcasts PodcastsConfig `toml:"podcasts"`
	SSDP     SSDPConfig     `toml:"ssdp"`
	Stream   StreamConfig   `toml:"stream"`
	Events   EventsConfig   `toml:"events"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// ServerConfig defines the HTTP server and device identity.
type ServerConfig struct {
	Listen            string `toml:"listen"`
	FriendlyName      string `toml:"friendly_name"`
	UUID              string `toml:"uuid"`
	HostIP            string `toml:"host_ip"`
	BaseURL           string `toml:"base_url"`
	StatePath         string `toml:"state_path"`
	ShutdownTimeoutMS int64  `toml:"shutdown_timeout_ms"`
	LogLevel          string `toml:"log_level"`
	LogFormat         string `toml:"log_format"`
	LogOutput         string `toml:"log_output"`
	LogSource         bool   `toml:"log_source"`
	LogUTC            bool   `toml:"log_utc"`
	LogColor          bool   `toml:"log_color"`
}

// PlexConfig configures the Plex catalog.
type PlexConfig struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	Token         string `toml:"token"`
	Title         string `toml:"title"`
	ClientID      string `toml:"client_id"`
	TimeoutMS     int64  `toml:"timeout_ms"`
	MaxConcurrent int    `toml:"max_concurrent"`
	CacheSizeMB   int    `toml:"cache_size_mb"`
	CacheTTLMS    int64  `toml:"cache_ttl_ms"`
	CacheCompress bool   `toml:"cache_compress"`
	ArtSize       int    `toml:"art_size"`
}

// PodcastsConfig configures the RSS podcast catalog.
type PodcastsConfig struct {
	Enabled           bool     `toml:"enabled"`
	Title             string   `toml:"title"`
	Feeds             []string `toml:"feeds"`
	RefreshMinutes    int      `toml:"refresh_minutes"`
	CacheDir          string   `toml:"cache_dir"`
	TimeoutMS         int64    `toml:"timeout_ms"`
	UserAgent         string   `toml:"user_agent"`
	ReverseSortByDate bool     `toml:"reverse_sort_by_date"`
}

// SSDPConfig configures network presence.
type SSDPConfig struct {
	Enabled        bool `toml:"enabled"`
	MaxAge         int  `toml:"max_age"`
	AliveIntervalS int  `toml:"alive_interval_s"`
}

// StreamConfig configures the stream proxy.
type StreamConfig struct {
	HeaderTimeoutMS  int64 `toml:"header_timeout_ms"`
	IdleTimeoutMS    int64 `toml:"idle_timeout_ms"`
	BufferKB         int   `toml:"buffer_kb"`
	CatalogTimeoutMS int64 `toml:"catalog_timeout_ms"`
}

// EventsConfig configures MQTT event publishing.
type EventsConfig struct {
	Enabled   bool               `toml:"enabled"`
	Broker    string             `toml:"broker"`
	TopicBase string             `toml:"topic_base"`
	ClientID  string             `toml:"client_id"`
	QueueSize int                `toml:"queue_size"`
	TLS       TLSConfig          `toml:"tls"`
	Auth      AuthConfig         `toml:"auth"`
	Embedded  EmbeddedMQTTConfig `toml:"embedded"`
}

// TLSConfig holds TLS paths for MQTT.
type TLSConfig struct {
	CA   string `toml:"ca"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// AuthConfig holds MQTT auth credentials.
type AuthConfig struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// TLSEnabled reports whether the embedded broker serves TLS.
func (c EmbeddedMQTTConfig) TLSEnabled() bool {
	return c.TLSCert != "" || c.TLSKey != "" || c.TLSCA != ""
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.Plex.Enabled = true
	cfg.SSDP.Enabled = true
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Server.Listen) == "" {
		c.Server.Listen = DefaultListen
	}
	if strings.TrimSpace(c.Server.FriendlyName) == "" {
		c.Server.FriendlyName = DefaultFriendlyName
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}
	if c.SSDP.MaxAge <= 0 {
		c.SSDP.MaxAge = DefaultMaxAge
	}
	if c.Events.Enabled && c.Events.Broker == "" && c.Events.Embedded.Enabled {
		listen := c.Events.Embedded.Listen
		if listen == "" {
			listen = "127.0.0.1:1883"
		}
		c.Events.Broker = embeddedmqtt.BrokerURL(listen, c.Events.Embedded.TLSEnabled())
	}
}

// Validate checks the settings needed to start.
func (c Config) Validate() error {
	if !c.Plex.Enabled && !c.Podcasts.Enabled {
		return errors.New("no catalog enabled: enable [plex] or [podcasts]")
	}
	if c.Plex.Enabled && strings.TrimSpace(c.Plex.URL) == "" {
		return errors.New("plex url required (set [plex] url or PLEX_URL)")
	}
	if c.Podcasts.Enabled && len(c.Podcasts.Feeds) == 0 {
		return errors.New("podcasts enabled without feeds")
	}
	if c.Events.Enabled && c.Events.Broker == "" {
		return errors.New("events enabled without broker or embedded broker")
	}
	return nil
}

// LoadConfig loads a config file from path. Sections left out of the file
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	cfg := Config{}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, err
	}
	if !md.IsDefined("plex", "enabled") {
		cfg.Plex.Enabled = md.IsDefined("plex") || !md.IsDefined("podcasts")
	}
	if !md.IsDefined("ssdp", "enabled") {
		cfg.SSDP.Enabled = true
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyEnv loads envFiles (missing files are skipped) and applies
// environment overrides. Variables already set in the process win over
// file values.
func ApplyEnv(cfg *Config, envFiles ...string) error {
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return err
		}
	}
	cfg.Plex.URL = GetEnv("PLEX_URL", cfg.Plex.URL)
	cfg.Plex.Token = GetEnv("PLEX_TOKEN", cfg.Plex.Token)
	cfg.Server.FriendlyName = GetEnv("PLEXDLNA_FRIENDLY_NAME", cfg.Server.FriendlyName)
	cfg.Server.Listen = GetEnv("PLEXDLNA_LISTEN", cfg.Server.Listen)
	cfg.Server.LogLevel = GetEnv("PLEXDLNA_LOG_LEVEL", cfg.Server.LogLevel)
	return nil
}

// GetEnv returns the value of key, or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "plexdlna", "plexdlnad.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "plexdlna", "plexdlnad.toml"), nil
}
