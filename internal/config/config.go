package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/bhandras/chatsync/internal/storage"
	"github.com/joho/godotenv"
)

// Config is the runtime configuration of a chatsync client.
type Config struct {
	// ServerURL is the base URL of the chat server's event channel.
	ServerURL string `env:"CHATSYNC_SERVER_URL,default=http://localhost:3000"`
	// SocketPath is the Socket.IO endpoint path.
	SocketPath string `env:"CHATSYNC_SOCKET_PATH,default=/socket.io/"`
	// APIURL is the base URL of the HTTP auth API. Defaults to ServerURL + /api.
	APIURL string `env:"CHATSYNC_API_URL"`

	// Home is the directory where chatsync keeps local state.
	Home string `env:"CHATSYNC_HOME_DIR"`
	// StoreBackend selects the credential store (bolt|file).
	StoreBackend string `env:"CHATSYNC_STORE,default=bolt"`

	// CloudName and UploadPreset configure media uploads.
	CloudName    string `env:"CHATSYNC_CLOUDINARY_CLOUD_NAME"`
	UploadPreset string `env:"CHATSYNC_CLOUDINARY_UPLOAD_PRESET"`

	// ConnectTimeout bounds the channel handshake.
	ConnectTimeout time.Duration `env:"CHATSYNC_CONNECT_TIMEOUT,default=15s"`
	// SendTimeout bounds how long a send waits for the server's answer.
	SendTimeout time.Duration `env:"CHATSYNC_SEND_TIMEOUT,default=30s"`

	// LogLevel is trace|debug|info|warn|error.
	LogLevel string `env:"CHATSYNC_LOG_LEVEL,default=info"`
	// LogJSON switches log output to JSON lines.
	LogJSON bool `env:"CHATSYNC_LOG_JSON,default=false"`
}

// Load reads an optional .env file, then the environment, and fills in
// derived defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return FromEnvSet(es)
}

// FromEnvSet builds a Config from es.
func FromEnvSet(es env.EnvSet) (*Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.Home = filepath.Join(homeDir, ".chatsync")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = strings.TrimRight(cfg.ServerURL, "/") + "/api"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"CHATSYNC_SERVER_URL": c.ServerURL, "CHATSYNC_API_URL": c.APIURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q", name, raw)
		}
	}
	switch c.StoreBackend {
	case storage.BackendBolt, storage.BackendFile:
	default:
		return fmt.Errorf("invalid CHATSYNC_STORE %q (expected bolt or file)", c.StoreBackend)
	}
	if c.ConnectTimeout <= 0 || c.SendTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// Save creates the home directory.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.Home, 0700); err != nil {
		return fmt.Errorf("failed to create chatsync home: %w", err)
	}
	return nil
}

// UploadsEnabled reports whether media uploads are configured.
func (c *Config) UploadsEnabled() bool {
	return c.CloudName != "" && c.UploadPreset != ""
}
