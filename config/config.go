// Package config loads and overlays the proxy's configuration object: the
// JSON document a deployment supplies plus the environment variables that
// are allowed to override it at process start. Grounded in the teacher's
// config.LoadConfig/SaveConfig layering, adapted from the VPN/TUN settings
// tree to the external interface's configuration table.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	commonnet "proxycore/common/net"
)

// Config is the configuration object recognized by the proxy: upstream
// target, local listener, authentication material, and the module set to
// bring up after import.
type Config struct {
	ProxyPort     int              `json:"proxy_port"`
	ServerAddress string           `json:"server_address"`
	ServerPort    int              `json:"server_port"`
	Version       string           `json:"version"`
	MOTD          string           `json:"motd"`

	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	ClientToken string `json:"client_token,omitempty"`
	Session     string `json:"session,omitempty"`

	ModulesDir    string                 `json:"modules_dir,omitempty"`
	Modules       []string               `json:"modules,omitempty"`
	ModuleConfig  map[string]interface{} `json:"module_config,omitempty"`
	CommandPrefix string                 `json:"command_prefix"`

	LogLevel        string   `json:"log_level,omitempty"`
	LogDisableColor bool     `json:"log_disable_color,omitempty"`
	Debug           bool     `json:"debug,omitempty"`
	DebugTypes      []string `json:"debug_types,omitempty"`

	AdminListen string `json:"admin_listen,omitempty"`
}

// DefaultConfig returns the configuration a fresh deployment starts from.
func DefaultConfig() *Config {
	return &Config{
		ProxyPort:     25565,
		ServerAddress: "127.0.0.1",
		ServerPort:    25565,
		Version:       "1.16.1",
		MOTD:          "A Proxy Server",
		CommandPrefix: "/p:",
		LogLevel:      "INFO",
	}
}

// Load reads a configuration document from filename and applies the
// environment overlay on top of it.
func Load(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", filename, err)
	}
	defer file.Close()

	cfg := DefaultConfig()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", filename, err)
	}

	if cfg.ModulesDir != "" {
		abs, err := filepath.Abs(cfg.ModulesDir)
		if err != nil {
			return nil, fmt.Errorf("config: resolve modules_dir: %w", err)
		}
		cfg.ModulesDir = abs
	}

	cfg.Overlay(os.Environ())
	return cfg, nil
}

// Save writes cfg to filename as indented JSON.
func Save(filename string, cfg *Config) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", filename, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", filename, err)
	}
	return nil
}

// Overlay applies the recognized environment variables on top of a
// JSON-loaded config, in the form "KEY=value" as os.Environ returns them.
// LOG_LEVEL and LOG_DISABLE_COLOR set LogLevel and LogDisableColor;
// PROXY_DEBUG and PROXY_DEBUG_TYPES set Debug and DebugTypes. Only LogLevel
// is passed on to the logger by cmd/proxycore; the other three fields are
// not read outside this package.
func (c *Config) Overlay(environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	if v, ok := env["LOG_LEVEL"]; ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := env["LOG_DISABLE_COLOR"]; ok {
		c.LogDisableColor = v == "1"
	}
	if v, ok := env["PROXY_DEBUG"]; ok {
		c.Debug = v == "1"
	}
	if v, ok := env["PROXY_DEBUG_TYPES"]; ok {
		if v == "" {
			c.DebugTypes = nil
		} else {
			parts := strings.Split(v, ",")
			types := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					types = append(types, p)
				}
			}
			c.DebugTypes = types
		}
	}
}

// UpstreamAddr returns the upstream host:port this proxy connects to.
func (c *Config) UpstreamAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerAddress, c.ServerPort)
}

// UpstreamDestination returns the upstream target as a typed Destination,
// for callers that want the network/host/port split instead of a bare
// "host:port" string.
func (c *Config) UpstreamDestination() commonnet.Destination {
	return commonnet.TCPDestination(c.ServerAddress, uint16(c.ServerPort))
}

// ListenAddr returns the local address the proxy listens on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.ProxyPort)
}
