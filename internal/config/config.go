package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultAddr          = ":8080"
	DefaultRelayURL      = "ws://localhost:8080/ws"
	DefaultRetryInterval = 2 * time.Second
	DefaultMaxRetries    = 3
	DefaultSTUN          = "stun:stun.l.google.com:19302"
	DefaultEnvFile       = ".env"
)

// Config holds application configuration
type Config struct {
	// Addr is where `relay` listens.
	Addr           string
	AllowedOrigins []string

	// RelayURL is the websocket endpoint participants dial.
	RelayURL string

	RetryInterval time.Duration
	MaxRetries    int

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Media sources; empty means synthetic audio and no video.
	AudioFile string
	VideoFile string

	Logging Logging
}

type Logging struct {
	Env       string `yaml:"env"`     // dev|prod
	Backend   string `yaml:"backend"` // std|zap
	Level     string `yaml:"level"`
	AddSource bool   `yaml:"addSource"`
}

// Options for loading config with CLI flag overrides. Zero values mean the
// flag was not given.
type Options struct {
	ConfigPath string
	EnvFile    string

	Addr          string
	RelayURL      string
	RetryInterval time.Duration
	MaxRetries    *int

	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	AudioFile string
	VideoFile string
}

// fileConfig is the YAML shape. Durations are strings ("2s").
type fileConfig struct {
	Relay struct {
		Addr           string   `yaml:"addr"`
		URL            string   `yaml:"url"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"relay"`
	Session struct {
		RetryInterval string `yaml:"retryInterval"`
		MaxRetries    *int   `yaml:"maxRetries"`
	} `yaml:"session"`
	ICE struct {
		STUN       string `yaml:"stun"`
		TURN       string `yaml:"turn"`
		TURNUser   string `yaml:"turnUser"`
		TURNPass   string `yaml:"turnPass"`
		ForceRelay bool   `yaml:"forceRelay"`
	} `yaml:"ice"`
	Media struct {
		Audio string `yaml:"audio"`
		Video string `yaml:"video"`
	} `yaml:"media"`
	Logging Logging `yaml:"logging"`
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables, including a .env file if present
// 3. YAML file named by Options.ConfigPath or CONFIG_PATH
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := defaults()

	path := opts.ConfigPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyOptions(opts)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Addr:           DefaultAddr,
		AllowedOrigins: []string{"*"},
		RelayURL:       DefaultRelayURL,
		RetryInterval:  DefaultRetryInterval,
		MaxRetries:     DefaultMaxRetries,
		STUNServer:     DefaultSTUN,
		Logging: Logging{
			Env:   "dev",
			Level: "error",
		},
	}
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.Addr, f.Relay.Addr)
	setString(&c.RelayURL, f.Relay.URL)
	if len(f.Relay.AllowedOrigins) > 0 {
		c.AllowedOrigins = f.Relay.AllowedOrigins
	}
	if f.Session.RetryInterval != "" {
		c.RetryInterval = parseDurationOr(c.RetryInterval, f.Session.RetryInterval)
	}
	if f.Session.MaxRetries != nil {
		c.MaxRetries = *f.Session.MaxRetries
	}
	setString(&c.STUNServer, f.ICE.STUN)
	setString(&c.TURNServer, f.ICE.TURN)
	setString(&c.TURNUser, f.ICE.TURNUser)
	setString(&c.TURNPass, f.ICE.TURNPass)
	c.ForceRelay = c.ForceRelay || f.ICE.ForceRelay
	setString(&c.AudioFile, f.Media.Audio)
	setString(&c.VideoFile, f.Media.Video)
	setString(&c.Logging.Env, f.Logging.Env)
	setString(&c.Logging.Backend, f.Logging.Backend)
	setString(&c.Logging.Level, f.Logging.Level)
	c.Logging.AddSource = c.Logging.AddSource || f.Logging.AddSource
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Addr, os.Getenv("RELAY_ADDR"))
	setString(&c.RelayURL, os.Getenv("RELAY_URL"))
	if v := os.Getenv("RELAY_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("RETRY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RETRY_INTERVAL: %w", err)
		}
		c.RetryInterval = d
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_RETRIES: %w", err)
		}
		c.MaxRetries = n
	}
	setString(&c.STUNServer, os.Getenv("STUN_SERVER"))
	setString(&c.TURNServer, os.Getenv("TURN_SERVER"))
	setString(&c.TURNUser, os.Getenv("TURN_USERNAME"))
	setString(&c.TURNPass, os.Getenv("TURN_PASSWORD"))
	if v := os.Getenv("FORCE_RELAY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FORCE_RELAY: %w", err)
		}
		c.ForceRelay = b
	}
	setString(&c.AudioFile, os.Getenv("AUDIO_FILE"))
	setString(&c.VideoFile, os.Getenv("VIDEO_FILE"))
	setString(&c.Logging.Env, os.Getenv("APP_ENV"))
	setString(&c.Logging.Backend, os.Getenv("LOG_BACKEND"))
	setString(&c.Logging.Level, os.Getenv("LOG_LEVEL"))
	return nil
}

func (c *Config) applyOptions(opts Options) {
	setString(&c.Addr, opts.Addr)
	setString(&c.RelayURL, opts.RelayURL)
	if opts.RetryInterval != 0 {
		c.RetryInterval = opts.RetryInterval
	}
	if opts.MaxRetries != nil {
		c.MaxRetries = *opts.MaxRetries
	}
	setString(&c.STUNServer, opts.STUNServer)
	setString(&c.TURNServer, opts.TURNServer)
	setString(&c.TURNUser, opts.TURNUser)
	setString(&c.TURNPass, opts.TURNPass)
	c.ForceRelay = c.ForceRelay || opts.ForceRelay
	setString(&c.AudioFile, opts.AudioFile)
	setString(&c.VideoFile, opts.VideoFile)
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("relay addr is required")
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %s", c.RetryInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	u, err := url.Parse(c.RelayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("relay url must be ws:// or wss://, got %q", c.RelayURL)
	}
	if c.ForceRelay && c.TURNServer == "" {
		return errors.New("cannot force relay mode without TURN server configured")
	}
	return nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// RelayHTTPURL is the relay's plain HTTP base derived from RelayURL.
func (c *Config) RelayHTTPURL() string {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws")
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
