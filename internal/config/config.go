package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nebula/termhost/internal/storage"
	"github.com/spf13/viper"
)

// Config holds all configuration values
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Storage   StorageConfig   `mapstructure:"storage" json:"storage"`
	Terminal  TerminalConfig  `mapstructure:"terminal" json:"terminal"`
	WebSocket WebSocketConfig `mapstructure:"websocket" json:"websocket"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" json:"host"`
	Port            int           `mapstructure:"port" json:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// StorageConfig holds storage configuration. The database location itself is
// chosen before config is loaded (TERMHOST_STORAGE_PATH).
type StorageConfig struct {
	JournalRetention time.Duration `mapstructure:"journal_retention" json:"journal_retention"`
}

// TerminalConfig holds terminal configuration
type TerminalConfig struct {
	DefaultShell   string `mapstructure:"default_shell" json:"default_shell"`
	ReadBufferSize int    `mapstructure:"read_buffer_size" json:"read_buffer_size"`
	MaxSessions    int    `mapstructure:"max_sessions" json:"max_sessions"`
	Term           string `mapstructure:"term" json:"term"`
	KillTree       bool   `mapstructure:"kill_tree" json:"kill_tree"`
}

// WebSocketConfig holds event stream configuration
type WebSocketConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer" json:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval" json:"ping_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level" json:"level"`
	Development bool   `mapstructure:"development" json:"development"`
}

// Manager manages configuration with hot reload support
type Manager struct {
	config  *Config
	storage *storage.Storage
	viper   *viper.Viper
	mu      sync.RWMutex

	onReload []func(*Config)
}

// NewManager loads configuration from configPath. A missing file is not an
// error; defaults and TERMHOST_* environment variables still apply. store may
// be nil.
func NewManager(configPath string, store *storage.Storage) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TERMHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
		fileLoaded = false
	}

	m := &Manager{
		config:  &Config{},
		storage: store,
		viper:   v,
	}

	if err := v.Unmarshal(m.config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	m.applyStorageOverrides()

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			m.reload()
		})
		v.WatchConfig()
	}

	return m, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("storage.journal_retention", "168h")

	v.SetDefault("terminal.default_shell", "")
	v.SetDefault("terminal.read_buffer_size", 8192)
	v.SetDefault("terminal.max_sessions", 0)
	v.SetDefault("terminal.term", "xterm-256color")
	v.SetDefault("terminal.kill_tree", true)

	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.ping_interval", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// reload re-reads the unmarshalled config and notifies listeners.
func (m *Manager) reload() {
	m.mu.Lock()
	newConfig := &Config{}
	if err := m.viper.Unmarshal(newConfig); err != nil {
		m.mu.Unlock()
		return
	}
	m.config = newConfig
	m.applyStorageOverrides()
	listeners := append([]func(*Config){}, m.onReload...)
	cfg := m.config
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

// Reload forces a configuration reload
func (m *Manager) Reload() error {
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	m.reload()
	return nil
}

// OnReload registers a callback for configuration changes
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// applyStorageOverrides applies terminal overrides saved in storage. Callers
// hold m.mu for writing or own m.config exclusively.
func (m *Manager) applyStorageOverrides() {
	if m.storage == nil {
		return
	}

	var shell string
	if err := m.storage.GetJSON(storage.BucketConfig, "terminal.default_shell", &shell); err == nil {
		m.config.Terminal.DefaultShell = shell
	}

	var maxSessions int
	if err := m.storage.GetJSON(storage.BucketConfig, "terminal.max_sessions", &maxSessions); err == nil && maxSessions >= 0 {
		m.config.Terminal.MaxSessions = maxSessions
	}
}

// SetOverride sets a configuration override in storage
func (m *Manager) SetOverride(key string, value interface{}) error {
	if m.storage == nil {
		return fmt.Errorf("storage not available")
	}
	return m.storage.SetJSON(storage.BucketConfig, key, value)
}

// GetOverride gets a configuration override from storage
func (m *Manager) GetOverride(key string, value interface{}) error {
	if m.storage == nil {
		return fmt.Errorf("storage not available")
	}
	return m.storage.GetJSON(storage.BucketConfig, key, value)
}

// Address returns the server address string
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
