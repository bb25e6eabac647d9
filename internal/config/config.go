package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Sync      Sync      `yaml:"sync"`
	Mirror    Mirror    `yaml:"mirror"`
	Storage   Storage   `yaml:"storage"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Log       Log       `yaml:"log"`
	Auth      Auth      `yaml:"auth"`
}

type Server struct {
	Port      int    `yaml:"port"`
	URLPrefix string `yaml:"url_prefix"` // path prefix the gateway is mounted under, e.g. "/npm"
}

type Sync struct {
	Interval time.Duration `yaml:"interval"`
}

// Mirror is an optional git repository holding the package storage directory.
type Mirror struct {
	URL string `yaml:"url"`
	LFS bool   `yaml:"lfs"`
}

type Storage struct {
	Path string `yaml:"path"`
}

type RateLimit struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type Log struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Filename   string `yaml:"filename"`    // log file path
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // number of backups
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`    // compress rotated files
}

type Auth struct {
	// Users maps a user name to a bcrypt password hash.
	Users    map[string]string `yaml:"users"`
	Packages []PackageRule     `yaml:"packages"`
}

// PackageRule grants access to packages whose name matches Pattern.
// Rules are evaluated in order; first match wins.
type PackageRule struct {
	Pattern string   `yaml:"pattern"`
	Access  []string `yaml:"access"`
}

var (
	config  *Config
	loadErr error
	once    sync.Once
)

// DefaultPath is the config file read when none is given on the command line
const DefaultPath = "config/config.yaml"

// LoadFromFile loads the configuration from the specified file.
// The file is read once per process; later calls return the same result.
func LoadFromFile(path string) (*Config, error) {
	once.Do(func() {
		config, loadErr = Parse(path)
	})
	return config, loadErr
}

// Parse reads and decodes a config file without touching the process-wide copy.
func Parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := ensureDirs(cfg.Storage.Path); err != nil {
		return nil, fmt.Errorf("failed to create storage directories: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 4873
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data"
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 10 * time.Minute
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
	if c.Log.Filename == "" {
		c.Log.Filename = filepath.Join(c.Storage.Path, "logs", "registry.log")
	}
	if len(c.Auth.Packages) == 0 {
		c.Auth.Packages = []PackageRule{{Pattern: "**", Access: []string{"$all"}}}
	}
}

// PackagesDir is where package documents and tarballs live on disk.
func (c *Config) PackagesDir() string {
	return filepath.Join(c.Storage.Path, "packages")
}

// ensureDirs creates necessary directories if they don't exist
func ensureDirs(basePath string) error {
	dirs := []string{
		filepath.Join(basePath, "packages"),
		filepath.Join(basePath, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
