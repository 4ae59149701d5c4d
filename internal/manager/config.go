package manager

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
)

type EwwSettings struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Daemon starts `eww daemon` alongside wmlink.
	Daemon bool `mapstructure:"daemon" yaml:"daemon"`
	// Variables renames the published variables, e.g. WORKSPACES: ws.
	Variables map[string]string `mapstructure:"variables" yaml:"variables"`
}

type Settings struct {
	Compositor string `mapstructure:"compositor" yaml:"compositor"`
	Socket     string `mapstructure:"socket" yaml:"socket"`
	Log        struct {
		Level string `mapstructure:"level" yaml:"level"`
	} `mapstructure:"log" yaml:"log"`
	Sinks struct {
		Eww  EwwSettings `mapstructure:"eww" yaml:"eww"`
		Dbus struct {
			Enabled bool `mapstructure:"enabled" yaml:"enabled"`
		} `mapstructure:"dbus" yaml:"dbus"`
	} `mapstructure:"sinks" yaml:"sinks"`
	Workspaces struct {
		Filter     string   `mapstructure:"filter" yaml:"filter"`
		Persistent []string `mapstructure:"persistent" yaml:"persistent"`
	} `mapstructure:"workspaces" yaml:"workspaces"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
}

// DefaultSettings is what an empty config file means.
func DefaultSettings() Settings {
	var s Settings
	s.Compositor = "auto"
	s.Log.Level = "info"
	s.Sinks.Eww.Enabled = true
	s.Sinks.Eww.Variables = map[string]string{}
	s.Workspaces.Persistent = []string{}
	s.RetryInterval = 2 * time.Second
	return s
}

func setDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("compositor", d.Compositor)
	v.SetDefault("socket", d.Socket)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("sinks.eww.enabled", d.Sinks.Eww.Enabled)
	v.SetDefault("sinks.eww.daemon", d.Sinks.Eww.Daemon)
	v.SetDefault("sinks.eww.variables", d.Sinks.Eww.Variables)
	v.SetDefault("sinks.dbus.enabled", d.Sinks.Dbus.Enabled)
	v.SetDefault("workspaces.filter", d.Workspaces.Filter)
	v.SetDefault("workspaces.persistent", d.Workspaces.Persistent)
	v.SetDefault("retry_interval", d.RetryInterval)
}

// ConfigDir is $XDG_CONFIG_HOME/wmlink.
func ConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "wmlink")
}

// DefaultConfigPath returns config.jsonc when it exists and config.yaml
// otherwise.
func DefaultConfigPath() string {
	dir := ConfigDir()
	for _, name := range []string{"config.jsonc", "config.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return filepath.Join(dir, name)
		}
	}
	return filepath.Join(dir, "config.yaml")
}

type ConfigManager struct {
	mu        sync.Mutex
	once      sync.Once
	path      string
	v         *viper.Viper
	err       error
	overrides map[string]any
}

// Config is the process-wide configuration.
var Config = NewConfigManager("")

// NewConfigManager reads path, or DefaultConfigPath when path is empty.
func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path}
}

func (c *ConfigManager) Path() string {
	if c.path == "" {
		return DefaultConfigPath()
	}
	return c.path
}

// SetPath points the manager at another file. It only has an effect before
// the first Load.
func (c *ConfigManager) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// Set pins key to value above the file and the environment, so reloads
// keep it. Command line flags use it.
func (c *ConfigManager) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overrides == nil {
		c.overrides = make(map[string]any)
	}
	c.overrides[key] = value
	if c.v != nil {
		c.v.Set(key, value)
	}
}

func isJSONC(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonc", ".json":
		return true
	}
	return false
}

// read (re)loads the file into c.v. A missing file leaves the defaults.
func (c *ConfigManager) read() error {
	path := c.Path()
	if !isJSONC(path) {
		err := c.v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.v.ReadConfig(bytes.NewReader(jsonc.ToJSON(data)))
}

func (c *ConfigManager) Load() (Settings, error) {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.v = viper.New()
		setDefaults(c.v)
		c.v.SetEnvPrefix("WMLINK")
		c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		c.v.AutomaticEnv()
		for k, v := range c.overrides {
			c.v.Set(k, v)
		}

		path := c.Path()
		c.v.SetConfigFile(path)
		if isJSONC(path) {
			c.v.SetConfigType("json")
		} else {
			c.v.SetConfigType("yaml")
		}
		if err := c.read(); err != nil {
			c.err = fmt.Errorf("failed to read config %s: %w", path, err)
		}
	})
	if c.err != nil {
		return Settings{}, c.err
	}
	return c.Settings()
}

// Settings decodes the current configuration.
func (c *ConfigManager) Settings() (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.v == nil {
		return Settings{}, errors.New("config not loaded")
	}
	var s Settings
	if err := c.v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if s.RetryInterval <= 0 {
		s.RetryInterval = DefaultSettings().RetryInterval
	}
	return s, nil
}

// Reload rereads the file.
func (c *ConfigManager) Reload() (Settings, error) {
	if _, err := c.Load(); err != nil {
		return Settings{}, err
	}
	c.mu.Lock()
	err := c.read()
	c.mu.Unlock()
	if err != nil {
		return Settings{}, fmt.Errorf("failed to reload config: %w", err)
	}
	return c.Settings()
}

// Watch calls onChange with the new settings whenever the file is written.
// Broken edits are logged and ignored.
func (c *ConfigManager) Watch(onChange func(Settings)) {
	c.v.OnConfigChange(func(e fsnotify.Event) {
		s, err := c.Reload()
		if err != nil {
			slog.Warn("ignoring config change", "file", e.Name, "err", err)
			return
		}
		onChange(s)
	})
	c.v.WatchConfig()
}
