package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	defaultSocketURL  = "wss://api.lanyard.rest/socket"
	defaultListenAddr = ":3000"
	defaultThrottle   = "1s"
	defaultStateDir   = "/tmp/synest"
)

// Environment variables read at startup
const (
	EnvConfigFile = "SYNEST_CONFIG"
	EnvUserID     = "SYNEST_USER_ID"
	EnvSocketURL  = "SYNEST_SOCKET_URL"
	EnvListenAddr = "SYNEST_LISTEN_ADDR"
	EnvThrottle   = "SYNEST_THROTTLE"
	EnvStateDir   = "SYNEST_STATE_DIR"
	EnvColor      = "SYNEST_COLOR"
)

// Settings is the raw configuration as read from file, env and flags
type Settings struct {
	UserID     string `toml:"user_id" validate:"required,numeric,min=15,max=21"`
	SocketURL  string `toml:"socket_url" validate:"required,url"`
	ListenAddr string `toml:"listen_addr" validate:"required"`
	Throttle   string `toml:"throttle" validate:"required"`
	StateDir   string `toml:"state_dir" validate:"required"`
	Color      *bool  `toml:"color"`
}

// Overrides carries command line values; empty fields are ignored
type Overrides struct {
	ConfigFile string
	UserID     string
	ListenAddr string
	StateDir   string
}

// AppConfig holds application configuration
type AppConfig struct {
	logger     *zap.Logger
	userID     string
	socketURL  string
	listenAddr string
	throttle   time.Duration
	stateDir   string
	color      bool
}

// NewAppConfig builds the configuration. Later sources win:
// defaults, TOML file, environment, command line.
func NewAppConfig(logger *zap.Logger, ov Overrides) (*AppConfig, error) {
	s := Settings{
		SocketURL:  defaultSocketURL,
		ListenAddr: defaultListenAddr,
		Throttle:   defaultThrottle,
		StateDir:   defaultStateDir,
	}

	path := firstSet(ov.ConfigFile, os.Getenv(EnvConfigFile))
	if path != "" {
		if _, err := toml.DecodeFile(path, &s); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		logger.Debug("Config file loaded", zap.String("path", path))
	}

	if err := applyEnv(&s); err != nil {
		return nil, err
	}

	s.UserID = firstSet(ov.UserID, s.UserID)
	s.ListenAddr = firstSet(ov.ListenAddr, s.ListenAddr)
	s.StateDir = firstSet(ov.StateDir, s.StateDir)

	cfg, err := FromSettings(s)
	if err != nil {
		return nil, err
	}
	cfg.logger = logger

	logger.Info("Configuration loaded",
		zap.String("user", cfg.userID),
		zap.String("socket", cfg.socketURL),
		zap.String("listen", cfg.listenAddr),
		zap.Duration("throttle", cfg.throttle),
		zap.String("stateDir", cfg.stateDir),
		zap.Bool("color", cfg.color))

	return cfg, nil
}

// FromSettings validates raw settings and converts them
func FromSettings(s Settings) (*AppConfig, error) {
	if err := validator.New().Struct(s); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	throttle, err := time.ParseDuration(s.Throttle)
	if err != nil {
		return nil, fmt.Errorf("invalid throttle %q: %w", s.Throttle, err)
	}
	if throttle < 0 {
		return nil, fmt.Errorf("invalid throttle %q: must not be negative", s.Throttle)
	}

	color := true
	if s.Color != nil {
		color = *s.Color
	}

	return &AppConfig{
		logger:     zap.NewNop(),
		userID:     s.UserID,
		socketURL:  s.SocketURL,
		listenAddr: s.ListenAddr,
		throttle:   throttle,
		stateDir:   expandPath(s.StateDir),
		color:      color,
	}, nil
}

func applyEnv(s *Settings) error {
	s.UserID = firstSet(os.Getenv(EnvUserID), s.UserID)
	s.SocketURL = firstSet(os.Getenv(EnvSocketURL), s.SocketURL)
	s.ListenAddr = firstSet(os.Getenv(EnvListenAddr), s.ListenAddr)
	s.Throttle = firstSet(os.Getenv(EnvThrottle), s.Throttle)
	s.StateDir = firstSet(os.Getenv(EnvStateDir), s.StateDir)

	if v := os.Getenv(EnvColor); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvColor, v, err)
		}
		s.Color = &b
	}
	return nil
}

// expandPath resolves environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetUserID returns the snowflake whose presence is displayed
func (c *AppConfig) GetUserID() string {
	return c.userID
}

// GetSocketURL returns the presence relay websocket endpoint
func (c *AppConfig) GetSocketURL() string {
	return c.socketURL
}

// GetListenAddr returns the overlay HTTP address
func (c *AppConfig) GetListenAddr() string {
	return c.listenAddr
}

// GetThrottle returns the minimum spacing between applied snapshots
func (c *AppConfig) GetThrottle() time.Duration {
	return c.throttle
}

// GetStateDir returns where the banner flag is stored
func (c *AppConfig) GetStateDir() string {
	return c.stateDir
}

// GetColorEnabled reports whether album art colors are extracted
func (c *AppConfig) GetColorEnabled() bool {
	return c.color
}
