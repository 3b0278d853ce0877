// Package config loads the broker's YAML configuration. Modeled on the
// teacher's loadNotificationConfig: a missing or malformed file is never
// fatal, only logged, and the broker falls back to built-in defaults.
package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the broker's full runtime configuration.
type Config struct {
	ListenAddr      string         `yaml:"listen_addr"`
	AdminAddr       string         `yaml:"admin_addr"`
	DBPath          string         `yaml:"db_path"`
	AllowlistPath   string         `yaml:"allowlist_path"`
	WriterQueueSize int            `yaml:"writer_queue_size"`
	EmbedderWorkers int            `yaml:"embedder_workers"`
	EmbedDimension  int            `yaml:"embed_dimension"`
	JobQueue        JobQueueConfig `yaml:"job_queue"`
	ShutdownToken   string         `yaml:"shutdown_token"`
}

// JobQueueConfig configures the embedded NATS instance backing the
// embedder's fire-and-forget job transport.
type JobQueueConfig struct {
	Port      int    `yaml:"port"`
	DataDir   string `yaml:"data_dir"`
	JetStream bool   `yaml:"jetstream"`
}

// Defaults returns the broker's built-in configuration, used both as the
// zero-config starting point and as the fallback when a config file is
// missing or malformed.
func Defaults() Config {
	return Config{
		ListenAddr:      ":8787",
		AdminAddr:       "127.0.0.1:8788",
		DBPath:          "contextbroker.db",
		AllowlistPath:   "",
		WriterQueueSize: 256,
		EmbedderWorkers: 2,
		EmbedDimension:  128,
		JobQueue: JobQueueConfig{
			Port:      -1,
			DataDir:   "",
			JetStream: false,
		},
		ShutdownToken: "",
	}
}

// Load reads configPath and merges it over Defaults(). A missing file logs
// and returns the defaults unchanged; a malformed file logs and does the
// same — the broker always starts with a usable configuration.
func Load(configPath string) Config {
	cfg := Defaults()
	if configPath == "" {
		return cfg
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("[CONFIG] config not found at %s, using defaults: %v", configPath, err)
		return cfg
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Printf("[CONFIG] failed to parse %s, using defaults: %v", configPath, err)
		return Defaults()
	}

	cfg.applyBounds()
	return cfg
}

// applyBounds clamps fields that must stay within sane operating ranges
// regardless of what the operator wrote in the file.
func (c *Config) applyBounds() {
	if c.WriterQueueSize <= 0 {
		c.WriterQueueSize = Defaults().WriterQueueSize
	}
	if c.EmbedderWorkers < 2 {
		c.EmbedderWorkers = 2
	}
	if c.EmbedderWorkers > 4 {
		c.EmbedderWorkers = 4
	}
	if c.EmbedDimension <= 0 {
		c.EmbedDimension = Defaults().EmbedDimension
	}
}
