// Package config handles voxd configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./voxd.yaml, ~/.config/voxd/voxd.yaml, /etc/voxd/voxd.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"voxd.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "voxd", "voxd.yaml"))
	}

	paths = append(paths, "/etc/voxd/voxd.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all voxd configuration.
type Config struct {
	Listen      ListenConfig    `yaml:"listen"`
	CORSOrigin  string          `yaml:"cors_origin"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Backends    BackendsConfig  `yaml:"backends"`
	Model       string          `yaml:"model"`
	PersonaFile string          `yaml:"persona_file"`
	MemoryFile  string          `yaml:"memory_file"`
	ArchiveDB   string          `yaml:"archive_db"`
	History     HistoryConfig   `yaml:"history"`
	Services    []ServiceConfig `yaml:"services"`
	MQTT        MQTTConfig      `yaml:"mqtt"`
	LogLevel    string          `yaml:"log_level"`
}

// ListenConfig defines the gateway server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// RateLimitConfig defines the fixed-window rate limiter applied to
// gateway API routes.
type RateLimitConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	MaxRequests   int `yaml:"max_requests"`
}

// BackendsConfig holds the base URLs of the three model-serving backends.
type BackendsConfig struct {
	GenerateURL string `yaml:"generate_url"`
	TTSURL      string `yaml:"tts_url"`
	WhisperURL  string `yaml:"whisper_url"`
}

// HistoryConfig bounds the persisted conversation history.
type HistoryConfig struct {
	// MaxEntries caps the stored history; the oldest entry is evicted
	// once the cap is reached.
	MaxEntries int `yaml:"max_entries"`
	// ContextEntries is how many trailing entries are rendered into
	// each generation prompt.
	ContextEntries int `yaml:"context_entries"`
}

// ServiceConfig describes one supervised backend process.
type ServiceConfig struct {
	Name    string   `yaml:"name"`
	Port    int      `yaml:"port"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// MQTTConfig defines the optional status announcer connection.
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Broker     string `yaml:"broker"` // e.g. mqtt://broker.local:1883
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration usable for local development with
// no config file at all: Ollama, a Coqui-style TTS server, and a
// whisper server on their conventional local ports.
func Default() *Config {
	return &Config{
		Listen:     ListenConfig{Port: 3000},
		CORSOrigin: "*",
		RateLimit: RateLimitConfig{
			WindowSeconds: 60,
			MaxRequests:   120,
		},
		Backends: BackendsConfig{
			GenerateURL: "http://localhost:11434",
			TTSURL:      "http://localhost:5002",
			WhisperURL:  "http://localhost:9000",
		},
		Model:      "llama3",
		MemoryFile: "voxd-memory.json",
		History: HistoryConfig{
			MaxEntries:     200,
			ContextEntries: 20,
		},
	}
}
