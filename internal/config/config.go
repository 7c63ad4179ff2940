package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as "5s" or "10m" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the edisco configuration file.
type Config struct {
	Server ServerConfig `toml:"server"`
	Dash   DashConfig   `toml:"dash"`
}

// ServerConfig configures `edisco serve`.
type ServerConfig struct {
	Listen    string   `toml:"listen"`
	Wiki      string   `toml:"wiki"`       // e.g. "he.wikipedia.org"
	APIURL    string   `toml:"api_url"`    // action API endpoint
	RestURL   string   `toml:"rest_url"`   // Wikimedia REST base
	StreamURL string   `toml:"stream_url"` // EventStreams recentchange
	UserAgent string   `toml:"user_agent"`
	Timeout   Duration `toml:"timeout"`
	RateLimit float64  `toml:"rate_limit"` // upstream requests per second
	Burst     int      `toml:"burst"`
	Cache     string   `toml:"cache"` // "memory" or "redis"
	RedisAddr string   `toml:"redis_addr"`
	DBPath    string   `toml:"db_path"`
	EventLog  string   `toml:"event_log"`
	LogLevel  string   `toml:"log_level"`
}

// DashConfig configures `edisco dash`.
type DashConfig struct {
	ServerURL      string   `toml:"server_url"`
	ReconnectDelay Duration `toml:"reconnect_delay"`
	Debounce       Duration `toml:"debounce"`
	FetchTimeout   Duration `toml:"fetch_timeout"`
	LiveMerge      Duration `toml:"live_merge"`
	Top            Duration `toml:"top"`
	TopViewed      Duration `toml:"top_viewed"`
	Talk           Duration `toml:"talk"`
	NewArticles    Duration `toml:"new_articles"`
	DBPath         string   `toml:"db_path"`
	LogDir         string   `toml:"log_dir"`
	EventLog       string   `toml:"event_log"`
	LogLevel       string   `toml:"log_level"`
}

// Dir is the per-user state directory, ~/.edisco.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".edisco"
	}
	return filepath.Join(home, ".edisco")
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	dir := Dir()
	return &Config{
		Server: ServerConfig{
			Listen:    ":8000",
			Wiki:      "he.wikipedia.org",
			APIURL:    "https://he.wikipedia.org/w/api.php",
			RestURL:   "https://wikimedia.org/api/rest_v1",
			StreamURL: "https://stream.wikimedia.org/v2/stream/recentchange",
			UserAgent: "Edisco/1.0 (https://github.com/abelbrown/edisco)",
			Timeout:   Duration{30 * time.Second},
			RateLimit: 20,
			Burst:     10,
			Cache:     "memory",
			DBPath:    filepath.Join(dir, "server.db"),
			LogLevel:  "info",
		},
		Dash: DashConfig{
			ServerURL:      "http://localhost:8000",
			ReconnectDelay: Duration{5 * time.Second},
			Debounce:       Duration{500 * time.Millisecond},
			FetchTimeout:   Duration{30 * time.Second},
			LiveMerge:      Duration{60 * time.Second},
			Top:            Duration{30 * time.Second},
			TopViewed:      Duration{10 * time.Minute},
			Talk:           Duration{60 * time.Second},
			NewArticles:    Duration{60 * time.Second},
			DBPath:         filepath.Join(dir, "dash.db"),
			LogDir:         filepath.Join(dir, "logs"),
			EventLog:       "events.jsonl",
			LogLevel:       "debug",
		},
	}
}

// Path resolves the config file: explicit, then $EDISCO_CONFIG, then
// ~/.edisco/config.toml.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("EDISCO_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.toml")
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("EDISCO_SERVER_URL"); v != "" {
		c.Dash.ServerURL = v
	}
	if v := os.Getenv("EDISCO_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("EDISCO_REDIS_ADDR"); v != "" {
		c.Server.RedisAddr = v
		c.Server.Cache = "redis"
	}
}

func validateConfig(c *Config) error {
	defaults := DefaultConfig()

	if c.Server.Listen == "" {
		c.Server.Listen = defaults.Server.Listen
	}
	if c.Server.UserAgent == "" {
		c.Server.UserAgent = defaults.Server.UserAgent
	}
	if c.Server.Timeout.Duration <= 0 {
		c.Server.Timeout = defaults.Server.Timeout
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive, got %v", c.Server.RateLimit)
	}
	if c.Server.Burst <= 0 {
		c.Server.Burst = 1
	}
	for name, u := range map[string]string{"api_url": c.Server.APIURL, "rest_url": c.Server.RestURL, "stream_url": c.Server.StreamURL} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must be an http(s) URL, got %q", name, u)
		}
	}

	switch c.Server.Cache {
	case "memory":
	case "redis":
		if c.Server.RedisAddr == "" {
			return fmt.Errorf("cache = \"redis\" requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Server.Cache)
	}

	if !strings.HasPrefix(c.Dash.ServerURL, "http://") && !strings.HasPrefix(c.Dash.ServerURL, "https://") {
		return fmt.Errorf("server_url must be an http(s) URL, got %q", c.Dash.ServerURL)
	}

	for _, d := range []*Duration{
		&c.Dash.ReconnectDelay, &c.Dash.Debounce, &c.Dash.FetchTimeout,
		&c.Dash.LiveMerge, &c.Dash.Top, &c.Dash.TopViewed, &c.Dash.Talk, &c.Dash.NewArticles,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("durations must not be negative, got %s", d.Duration)
		}
	}
	return nil
}

// StreamURL returns the dashboard's websocket endpoint for server_url.
func (d DashConfig) StreamURL() string {
	u := strings.TrimRight(d.ServerURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/live"
}
