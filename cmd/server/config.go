package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration file. Every value has a default and
// can be overridden by environment variables.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Match struct {
		RoundMinutes int `yaml:"round_minutes"`
		ChatLimit    int `yaml:"chat_limit"`
	} `yaml:"match"`
	Judge struct {
		TestTimeoutMS int `yaml:"test_timeout_ms"`
	} `yaml:"judge"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Match.RoundMinutes = 20
	cfg.Match.ChatLimit = 400
	cfg.Judge.TestTimeoutMS = 1000
	return &cfg
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Match.RoundMinutes = getEnvAsInt("ROUND_MINUTES", cfg.Match.RoundMinutes)
	cfg.Match.ChatLimit = getEnvAsInt("CHAT_LIMIT", cfg.Match.ChatLimit)
	cfg.Judge.TestTimeoutMS = getEnvAsInt("JUDGE_TEST_TIMEOUT_MS", cfg.Judge.TestTimeoutMS)
	return cfg, nil
}

func (c *Config) roundDuration() time.Duration {
	return time.Duration(c.Match.RoundMinutes) * time.Minute
}

func (c *Config) judgeTestTimeout() time.Duration {
	return time.Duration(c.Judge.TestTimeoutMS) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
