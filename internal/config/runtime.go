package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotclaw/host/internal/mcp"
)

// HomeDir returns the daemon's home directory: DOTCLAW_HOME if set,
// otherwise ~/.dotclaw.
func HomeDir() string {
	if override := os.Getenv("DOTCLAW_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".dotclaw")
}

// RuntimeConfig is config/runtime.json: top-level process settings that
// don't belong to any one subsystem's own config file.
type RuntimeConfig struct {
	HomeDir          string   `json:"home_dir"`
	LogLevel         string   `json:"log_level"`
	TelegramToken    string   `json:"telegram_token"`
	TelegramUserIDs  []int64  `json:"telegram_allowed_user_ids"`
	DiscordToken     string   `json:"discord_token"`
	DiscordGuildID   string   `json:"discord_guild_id"`
	AnthropicAPIKey  string   `json:"anthropic_api_key"`
	OpenAIAPIKey     string   `json:"openai_api_key"`
	Groups           []string `json:"groups"`
	RateLimitPerMin  int      `json:"rate_limit_per_minute"`
	RateLimitBurst   int      `json:"rate_limit_burst"`
	LaneCapacity     int      `json:"lane_capacity"`
	OTelExporter     string   `json:"otel_exporter"`
	OTelEndpoint     string   `json:"otel_endpoint"`
}

// MountAllowlistConfig is config/mount-allowlist.json: host paths the
// sandbox orchestrator may bind-mount into a group's container.
type MountAllowlistConfig struct {
	Paths []string `json:"paths"`
}

func homeJoin(homeDir, name string) string {
	return filepath.Join(homeDir, "config", name)
}

func loadJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// LoadRuntimeConfig reads config/runtime.json, applying defaults for any
// field left zero-valued so a fresh home directory boots with sane
// interactive-lane/rate-limit behavior.
func LoadRuntimeConfig(homeDir string) (RuntimeConfig, error) {
	cfg := RuntimeConfig{
		HomeDir:         homeDir,
		LogLevel:        "info",
		RateLimitPerMin: 20,
		RateLimitBurst:  5,
		LaneCapacity:    4,
		OTelExporter:    "none",
		Groups:          []string{"main"},
	}
	if err := loadJSONFile(homeJoin(homeDir, "runtime.json"), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadMountAllowlist reads config/mount-allowlist.json.
func LoadMountAllowlist(homeDir string) (MountAllowlistConfig, error) {
	var cfg MountAllowlistConfig
	err := loadJSONFile(homeJoin(homeDir, "mount-allowlist.json"), &cfg)
	return cfg, err
}

// LoadToolPolicy reads config/tool-policy.json into a generic map, since
// the IPC set_tool_policy action and sandbox requests both pass tool
// policy through as an opaque map[string]any.
func LoadToolPolicy(homeDir string) (map[string]any, error) {
	policy := map[string]any{}
	err := loadJSONFile(homeJoin(homeDir, "tool-policy.json"), &policy)
	return policy, err
}

// LoadBehaviorConfig reads config/behavior.json into a generic map.
func LoadBehaviorConfig(homeDir string) (map[string]any, error) {
	behavior := map[string]any{}
	err := loadJSONFile(homeJoin(homeDir, "behavior.json"), &behavior)
	return behavior, err
}

// LoadMCPServers reads config/mcp-config.json, a {"servers": [...]} document
// listing the MCP servers a group's sandboxed run may connect to.
func LoadMCPServers(homeDir string) ([]mcp.ServerConfig, error) {
	var doc struct {
		Servers []mcp.ServerConfig `json:"servers"`
	}
	if err := loadJSONFile(homeJoin(homeDir, "mcp-config.json"), &doc); err != nil {
		return nil, err
	}
	return doc.Servers, nil
}

// EnsureHomeLayout creates the config/ and data/ subdirectories (and the
// per-group data/ipc/<group> namespace) a fresh home directory needs
// before any store is opened.
func EnsureHomeLayout(homeDir string, groupNames []string) error {
	dirs := []string{
		filepath.Join(homeDir, "config"),
		filepath.Join(homeDir, "data"),
	}
	for _, g := range groupNames {
		dirs = append(dirs, filepath.Join(homeDir, "data", "ipc", g))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", d, err)
		}
	}
	return nil
}
