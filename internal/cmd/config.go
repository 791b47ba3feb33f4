package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		// BaseURL is the room service's HTTP endpoint.
		BaseURL string `yaml:"base_url"`
		// WsURL overrides the realtime endpoint; derived from BaseURL
		// when empty.
		WsURL string `yaml:"ws_url"`
	} `yaml:"server"`
}

const defaultBaseURL = "http://localhost:3000"

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

func (c *Config) resolve() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = getEnv("BUZZROOM_SERVER_URL", defaultBaseURL)
	}
	if c.Server.WsURL == "" {
		c.Server.WsURL = getEnv("BUZZROOM_WS_URL", deriveWsURL(c.Server.BaseURL))
	}
}

func deriveWsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
