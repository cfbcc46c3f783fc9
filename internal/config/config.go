package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	Tmux     TmuxConfig     `yaml:"tmux"`
	Listener ListenerConfig `yaml:"listener"`
	Notify   NotifyConfig   `yaml:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Storage  StorageConfig  `yaml:"storage"`
	Debug    bool           `yaml:"debug"`
}

type TmuxConfig struct {
	Bin          string `yaml:"bin"`
	Socket       string `yaml:"socket"`
	EnterDelayMs int    `yaml:"enter_delay_ms"`
	CaptureLines int    `yaml:"capture_lines"`
}

type ListenerConfig struct {
	RefreshIntervalMs int `yaml:"refresh_interval_ms"`
	DedupCapacity     int `yaml:"dedup_capacity"`
}

type NotifyConfig struct {
	TypingTimeoutMs int  `yaml:"typing_timeout_ms"`
	ToolUse         bool `yaml:"tool_use"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type StorageConfig struct {
	StateDir string `yaml:"state_dir"`
}

// DefaultDir is the per-user directory holding the settings, credentials
// and session records. JACKPOINT_HOME overrides it.
func DefaultDir() string {
	if dir := os.Getenv("JACKPOINT_HOME"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "jackpoint")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "jackpoint")
}

// DefaultPath returns the settings file location inside DefaultDir.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load reads the YAML settings at path. A missing file yields defaults.
func Load(path string) (*Settings, error) {
	// booleans that default to true are set before decoding
	cfg := Settings{Notify: NotifyConfig{ToolUse: true}}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Tmux.Bin == "" {
		cfg.Tmux.Bin = "tmux"
	}
	if cfg.Tmux.EnterDelayMs == 0 {
		cfg.Tmux.EnterDelayMs = 150
	}
	if cfg.Tmux.CaptureLines == 0 {
		cfg.Tmux.CaptureLines = 50
	}
	if cfg.Listener.RefreshIntervalMs == 0 {
		cfg.Listener.RefreshIntervalMs = 10000
	}
	if cfg.Listener.DedupCapacity == 0 {
		cfg.Listener.DedupCapacity = 1000
	}
	if cfg.Notify.TypingTimeoutMs == 0 {
		cfg.Notify.TypingTimeoutMs = 120000
	}
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = DefaultDir()
	}

	if v := os.Getenv("JACKPOINT_DEBUG"); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		cfg.Debug = true
	}
	if socket := os.Getenv("JACKPOINT_TMUX_SOCKET"); socket != "" {
		cfg.Tmux.Socket = socket
	}

	return &cfg, nil
}
