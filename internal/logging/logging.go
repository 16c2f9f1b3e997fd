package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Backend string

const (
	BackendStd Backend = "std" // text handler
	BackendZap Backend = "zap" // JSON through slog-zap
)

type Env string

const (
	EnvDev  Env = "dev"
	EnvProd Env = "prod"
)

// Config describes how the process logs.
type Config struct {
	Service    string
	Version    string
	InstanceID string

	Env     Env
	Backend Backend // default: std for dev, zap for prod
	Level   string  // dev|debug|info|warn|error|prod; LOG_LEVEL wins when set

	AddSource bool

	// Zap sampling
	SampleInitial    int
	SampleThereafter int

	// Output defaults to stderr so terminal UIs on stdout stay clean.
	Output io.Writer
}

// Init installs the default slog logger.
func Init(cfg Config) *slog.Logger {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "razmik"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	cfg.InstanceID = ensureInstanceID(cfg.InstanceID)

	if cfg.Backend == "" {
		if cfg.Env == EnvProd {
			cfg.Backend = BackendZap
		} else {
			cfg.Backend = BackendStd
		}
	}

	level := ParseLevel(cfg.Level)
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l)
	}

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg, level)
	default:
		h = newStdHandler(cfg, level)
	}

	logger := slog.New(h.WithAttrs(commonAttrs(cfg)))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps the LOG_LEVEL vocabulary to a slog level. Anything
// unrecognised means errors only.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// DetectEnv reads APP_ENV.
func DetectEnv() Env {
	return ParseEnv(os.Getenv("APP_ENV"))
}

// ParseEnv folds deployment names onto dev and prod.
func ParseEnv(s string) Env {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "production", "stage", "staging":
		return EnvProd
	default:
		return EnvDev
	}
}
