// Package config resolves server settings from defaults, shelf.toml, a .env
// file and SHELF_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// FileName is the config file looked up in the working directory.
	FileName = "shelf.toml"

	// EnvPrefix prefixes every environment override: SHELF_SERVER_PORT, ...
	EnvPrefix = "SHELF"
)

// Config is the resolved configuration.
type Config struct {
	Server ServerConfig
	Data   DataConfig
	Watch  WatchConfig
	Log    LogConfig
	Index  IndexConfig
	API    APIConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int
}

// DataConfig says where the project document lives.
type DataConfig struct {
	Dir string
}

// WatchConfig tunes the folder watcher.
type WatchConfig struct {
	Debounce       time.Duration
	Grace          time.Duration
	RescanInterval time.Duration
}

// LogConfig controls log output. An empty File logs to stderr only.
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// IndexConfig toggles the prompt search index.
type IndexConfig struct {
	Enabled bool
}

// APIConfig holds HTTP API limits.
type APIConfig struct {
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int
}

// ProjectsFile returns the path of the JSON project document.
func (c *Config) ProjectsFile() string {
	return filepath.Join(c.Data.Dir, "projects.json")
}

// IndexFile returns the path of the search index database.
func (c *Config) IndexFile() string {
	return filepath.Join(c.Data.Dir, "index.db")
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 3001},
		Data:   DataConfig{Dir: "./data"},
		Watch: WatchConfig{
			Debounce:       50 * time.Millisecond,
			Grace:          100 * time.Millisecond,
			RescanInterval: 30 * time.Second,
		},
		Log:   LogConfig{MaxSizeMB: 10, MaxBackups: 3},
		Index: IndexConfig{Enabled: true},
		API:   APIConfig{RateLimit: 120},
	}
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("data.dir", d.Data.Dir)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.grace", d.Watch.Grace)
	v.SetDefault("watch.rescan_interval", d.Watch.RescanInterval)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("index.enabled", d.Index.Enabled)
	v.SetDefault("api.rate_limit", d.API.RateLimit)
}

// Setup prepares v: defaults, environment binding and the config file.
//
// cfgFile is an explicit config path; when empty, shelf.toml is looked up in
// the working directory and its absence is not an error. envFile is loaded
// into the process environment first when it exists; variables already set
// win over it. Returns the config file used, if any.
func Setup(v *viper.Viper, cfgFile, envFile string) (string, error) {
	SetDefaults(v)

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// FromViper builds a Config from the values resolved by v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Port: v.GetInt("server.port")},
		Data:   DataConfig{Dir: v.GetString("data.dir")},
		Watch: WatchConfig{
			Debounce:       v.GetDuration("watch.debounce"),
			Grace:          v.GetDuration("watch.grace"),
			RescanInterval: v.GetDuration("watch.rescan_interval"),
		},
		Log: LogConfig{
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
		},
		Index: IndexConfig{Enabled: v.GetBool("index.enabled")},
		API:   APIConfig{RateLimit: v.GetInt("api.rate_limit")},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the Config has usable values.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535 (got %d)", c.Server.Port)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Watch.Debounce <= 0 {
		return fmt.Errorf("watch.debounce must be positive (got %s)", c.Watch.Debounce)
	}
	if c.Watch.Grace < 0 {
		return fmt.Errorf("watch.grace must not be negative (got %s)", c.Watch.Grace)
	}
	if c.Watch.RescanInterval < 0 {
		return fmt.Errorf("watch.rescan_interval must not be negative (got %s)", c.Watch.RescanInterval)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative (got %d)", c.API.RateLimit)
	}
	return nil
}

// fileConfig is the on-disk TOML layout. Durations are written as Go
// duration strings ("50ms") so the file stays readable.
type fileConfig struct {
	Server struct {
		Port int `toml:"port"`
	} `toml:"server"`
	Data struct {
		Dir string `toml:"dir"`
	} `toml:"data"`
	Watch struct {
		Debounce       string `toml:"debounce"`
		Grace          string `toml:"grace"`
		RescanInterval string `toml:"rescan_interval"`
	} `toml:"watch"`
	Log struct {
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
	} `toml:"log"`
	Index struct {
		Enabled bool `toml:"enabled"`
	} `toml:"index"`
	API struct {
		RateLimit int `toml:"rate_limit"`
	} `toml:"api"`
}

func toFile(c *Config) *fileConfig {
	var f fileConfig
	f.Server.Port = c.Server.Port
	f.Data.Dir = c.Data.Dir
	f.Watch.Debounce = c.Watch.Debounce.String()
	f.Watch.Grace = c.Watch.Grace.String()
	f.Watch.RescanInterval = c.Watch.RescanInterval.String()
	f.Log.File = c.Log.File
	f.Log.MaxSizeMB = c.Log.MaxSizeMB
	f.Log.MaxBackups = c.Log.MaxBackups
	f.Index.Enabled = c.Index.Enabled
	f.API.RateLimit = c.API.RateLimit
	return &f
}

func fromFile(f *fileConfig) (*Config, error) {
	parse := func(key, s string) (time.Duration, error) {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}

	c := &Config{
		Server: ServerConfig{Port: f.Server.Port},
		Data:   DataConfig{Dir: f.Data.Dir},
		Log: LogConfig{
			File:       f.Log.File,
			MaxSizeMB:  f.Log.MaxSizeMB,
			MaxBackups: f.Log.MaxBackups,
		},
		Index: IndexConfig{Enabled: f.Index.Enabled},
		API:   APIConfig{RateLimit: f.API.RateLimit},
	}
	var err error
	if c.Watch.Debounce, err = parse("watch.debounce", f.Watch.Debounce); err != nil {
		return nil, err
	}
	if c.Watch.Grace, err = parse("watch.grace", f.Watch.Grace); err != nil {
		return nil, err
	}
	if c.Watch.RescanInterval, err = parse("watch.rescan_interval", f.Watch.RescanInterval); err != nil {
		return nil, err
	}
	return c, nil
}

// Manager handles reading and writing configuration files.
type Manager struct{}

// Read decodes a complete Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var f fileConfig
	if _, err := toml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return fromFile(&f)
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(toFile(cfg)); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
