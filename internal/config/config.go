package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the file-based configuration, overridable per field through the
// environment (env wins).
type Config struct {
	Server struct {
		Port    string `yaml:"port"`
		NATSURL string `yaml:"nats_url"`
	} `yaml:"server"`

	Client struct {
		ChannelEndpoint string `yaml:"channel_endpoint"`
		EventURL        string `yaml:"event_url"`
		PollIntervalSec int    `yaml:"poll_interval_sec"`
		Nickname        string `yaml:"nickname"`
	} `yaml:"client"`

	// Event describes the demo broadcast the server announces, relative to
	// server start.
	Event struct {
		ID          int64  `yaml:"id"`
		Title       string `yaml:"title"`
		VideoURI    string `yaml:"video_uri"`
		StartInSec  int    `yaml:"start_in_sec"`
		DurationSec int    `yaml:"duration_sec"`
	} `yaml:"event"`
}

// Load reads the config file at path. A missing file is not an error; env
// overrides still apply over the zero config.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus env only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Client.PollIntervalSec <= 0 {
		c.Client.PollIntervalSec = 5
	}
	if c.Client.Nickname == "" {
		c.Client.Nickname = "viewer"
	}
	if c.Event.ID == 0 {
		c.Event.ID = 1
	}
	if c.Event.DurationSec <= 0 {
		c.Event.DurationSec = 3600
	}
}

func (c *Config) applyEnv() {
	c.Server.Port = GetEnv("CINELIVE_PORT", c.Server.Port)
	c.Server.NATSURL = GetEnv("NATS_URL", c.Server.NATSURL)
	c.Client.ChannelEndpoint = GetEnv("CINELIVE_CHANNEL_ENDPOINT", c.Client.ChannelEndpoint)
	c.Client.EventURL = GetEnv("CINELIVE_EVENT_URL", c.Client.EventURL)
	c.Client.PollIntervalSec = GetEnvAsInt("CINELIVE_POLL_INTERVAL_SEC", c.Client.PollIntervalSec)
	c.Client.Nickname = GetEnv("CINELIVE_NICKNAME", c.Client.Nickname)
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
