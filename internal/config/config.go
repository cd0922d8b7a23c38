package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Battle struct {
		GuildMaxHP   int    `yaml:"guild_max_hp"`
		MaxAttempts  int    `yaml:"max_attempts"`
		TickInterval string `yaml:"tick_interval"`
		// AnswerRate and AnswerBurst bound answers per websocket connection.
		AnswerRate  float64 `yaml:"answer_rate"`
		AnswerBurst int     `yaml:"answer_burst"`
	} `yaml:"battle"`
	Log LogConfig `yaml:"log"`
	// Rosters maps class id to enrolled student ids. Used only when no
	// Postgres URL is configured.
	Rosters map[string][]string `yaml:"rosters"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// IntOr returns v, or fallback when v is not positive.
func IntOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
