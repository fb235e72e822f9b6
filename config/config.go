package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/flock"
	"github.com/spf13/viper"
)

const (
	DefaultPort         = "127.0.0.1:9740"
	DefaultMonitorsFile = "/etc/slm/monitors.conf"
)

type Config struct {
	ConfigPath    string
	MonitorsFile  string        `mapstructure:"monitors_file" validate:"required"`
	LogFile       string        `mapstructure:"log_file"`
	ErrorFile     string        `mapstructure:"error_file"`
	PidFilePath   string        `mapstructure:"pid_file_path" validate:"required"`
	Port          string        `mapstructure:"port" validate:"omitempty,hostname_port"`
	OsquerySocket string        `mapstructure:"osquery_socket"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"min=10ms"`
	WatchConfig   bool          `mapstructure:"watch_config"`
	LogLevel      string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	DevMode       bool          `mapstructure:"dev_mode"`

	mutex    sync.RWMutex
	pidLock  *flock.Flock
	settings *viper.Viper
}

var (
	appConfig     = &Config{}
	configRWMutex sync.RWMutex

	ErrAlreadyRunning = errors.New("daemon already running")
	ErrNotRunning     = errors.New("daemon not running")
)

func GetConfig() *Config {
	configRWMutex.RLock()
	defer configRWMutex.RUnlock()
	return appConfig
}

// SetDefaults registers the default value of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("monitors_file", DefaultMonitorsFile)
	v.SetDefault("log_file", "")
	v.SetDefault("error_file", "")
	v.SetDefault("pid_file_path", filepath.Join(os.TempDir(), "slm.pid"))
	v.SetDefault("port", DefaultPort)
	v.SetDefault("osquery_socket", "")
	v.SetDefault("poll_interval", "500ms")
	v.SetDefault("watch_config", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("dev_mode", false)
}

// InitConfig reads config.yaml (or configFile when set) into v, applies SLM_*
// environment overrides and validates the result. The loaded config becomes
// the one GetConfig returns.
func InitConfig(v *viper.Viper, validate *validator.Validate, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.slm")
		v.AddConfigPath("/etc/slm")
	}

	v.SetEnvPrefix("slm")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{settings: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.ConfigPath = v.ConfigFileUsed()

	configRWMutex.Lock()
	appConfig = cfg
	configRWMutex.Unlock()

	return cfg, nil
}

// Set updates one setting and persists it to the config file in use, or to
// ./config.yaml when no file was found.
func (c *Config) Set(key, value string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.settings == nil {
		return errors.New("config not initialised")
	}

	c.settings.Set(key, value)
	if c.ConfigPath == "" {
		if err := c.settings.SafeWriteConfigAs("config.yaml"); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		return nil
	}
	if err := c.settings.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Settings returns every resolved setting, defaults included.
func (c *Config) Settings() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.settings == nil {
		return map[string]interface{}{}
	}
	return c.settings.AllSettings()
}

// LockPidFile takes an exclusive flock on the pid file and writes pid into
// it. The lock is held until RemovePidFile.
func (c *Config) LockPidFile(pid int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.PidFilePath == "" {
		c.PidFilePath = filepath.Join(os.TempDir(), "slm.pid")
	}

	if err := os.MkdirAll(filepath.Dir(c.PidFilePath), 0o750); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	lock := flock.New(c.PidFilePath, flock.SetFlag(os.O_CREATE|os.O_RDWR), flock.SetPermissions(0o644))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock PID file: %w", err)
	}
	if !locked {
		lock.Close()
		return fmt.Errorf("%w: %s is locked", ErrAlreadyRunning, c.PidFilePath)
	}

	if err := os.WriteFile(c.PidFilePath, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		lock.Unlock()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	c.pidLock = lock
	return nil
}

func (c *Config) ReadPidFile() (int, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.PidFilePath == "" {
		return 0, fmt.Errorf("PID file path not set")
	}

	content, err := os.ReadFile(c.PidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	text := strings.TrimSpace(string(content))
	if text == "" {
		return 0, ErrNotRunning
	}

	pid, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// RemovePidFile deletes the pid file and releases the lock taken by
// LockPidFile, if any.
func (c *Config) RemovePidFile() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.PidFilePath == "" {
		return nil
	}

	err := os.Remove(c.PidFilePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	if c.pidLock != nil {
		if err := c.pidLock.Unlock(); err != nil {
			return fmt.Errorf("failed to unlock PID file: %w", err)
		}
		c.pidLock = nil
	}
	return nil
}
