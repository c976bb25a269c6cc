// Package config loads the bridge configuration. The resulting Config value
// is immutable for the process lifetime and shared read-only across every
// handler goroutine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSharedSecret is the placeholder shipped in the example config. The
// server refuses to treat it as a real credential silently; startup emits a
// loud warning when it is still in place.
const DefaultSharedSecret = "CHANGE-ME-TO-A-STRONG-SECRET"

// File mirrors the YAML config file. Zero values fall back to defaults.
type File struct {
	BindAddress          string   `yaml:"bindAddress" json:"bindAddress" jsonschema:"description=Address the HTTP API binds to. Keep it on localhost."`
	Port                 int      `yaml:"port" json:"port" jsonschema:"description=TCP port for the HTTP API."`
	SharedSecret         string   `yaml:"sharedSecret" json:"sharedSecret" jsonschema:"description=Shared secret the panel presents in X-Panel-Secret."`
	AllowedCommands      []string `yaml:"allowedCommands" json:"allowedCommands" jsonschema:"description=Case-insensitive command prefixes the panel may execute."`
	EnableInventoryView  *bool    `yaml:"enableInventoryView" json:"enableInventoryView,omitempty"`
	EnableEnderChestView *bool    `yaml:"enableEnderChestView" json:"enableEnderChestView,omitempty"`
	AuditLog             string   `yaml:"auditLog" json:"auditLog" jsonschema:"description=Path of the append-only audit log file."`
	WhitelistDB          string   `yaml:"whitelistDB" json:"whitelistDB" jsonschema:"description=Path of the sqlite whitelist store."`
	EventLog             string   `yaml:"eventLog" json:"eventLog,omitempty" jsonschema:"description=Optional NDJSON event log path."`
	ServerName           string   `yaml:"serverName" json:"serverName,omitempty"`
	MOTD                 string   `yaml:"motd" json:"motd,omitempty"`
	MaxActors            int      `yaml:"maxActors" json:"maxActors,omitempty"`
	TickRate             int      `yaml:"tickRate" json:"tickRate,omitempty"`
	Seed                 string   `yaml:"seed" json:"seed,omitempty"`
	SpawnActors          []string `yaml:"spawnActors" json:"spawnActors,omitempty" jsonschema:"description=Actor names seeded into the world at startup."`
}

// Config is the resolved, immutable process configuration.
type Config struct {
	BindAddress          string
	Port                 int
	SharedSecret         string
	AllowedCommands      []string
	EnableInventoryView  bool
	EnableEnderChestView bool
	AuditLog             string
	WhitelistDB          string
	EventLog             string
	ServerName           string
	MOTD                 string
	MaxActors            int
	TickRate             int
	Seed                 string
	SpawnActors          []string
}

// Addr renders the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

func defaults() Config {
	return Config{
		BindAddress:          "127.0.0.1",
		Port:                 8765,
		SharedSecret:         DefaultSharedSecret,
		EnableInventoryView:  true,
		EnableEnderChestView: true,
		AuditLog:             "panel-audit.log",
		WhitelistDB:          "whitelist.db",
		ServerName:           "emberfall",
		MOTD:                 "An Emberfall server",
		MaxActors:            32,
		TickRate:             15,
		Seed:                 "emberfall",
	}
}

// Load resolves the configuration from an optional YAML file plus environment
// overrides. It returns the config and a list of operator warnings that the
// caller should surface once at startup.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, nil, fmt.Errorf("read config %s: %w", path, err)
		}
		var file File
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		applyFile(&cfg, file)
	}

	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, nil, err
	}

	return cfg, warnings(cfg), nil
}

func applyFile(cfg *Config, file File) {
	if file.BindAddress != "" {
		cfg.BindAddress = file.BindAddress
	}
	if file.Port > 0 {
		cfg.Port = file.Port
	}
	if file.SharedSecret != "" {
		cfg.SharedSecret = file.SharedSecret
	}
	if file.AllowedCommands != nil {
		cfg.AllowedCommands = append([]string(nil), file.AllowedCommands...)
	}
	if file.EnableInventoryView != nil {
		cfg.EnableInventoryView = *file.EnableInventoryView
	}
	if file.EnableEnderChestView != nil {
		cfg.EnableEnderChestView = *file.EnableEnderChestView
	}
	if file.AuditLog != "" {
		cfg.AuditLog = file.AuditLog
	}
	if file.WhitelistDB != "" {
		cfg.WhitelistDB = file.WhitelistDB
	}
	if file.EventLog != "" {
		cfg.EventLog = file.EventLog
	}
	if file.ServerName != "" {
		cfg.ServerName = file.ServerName
	}
	if file.MOTD != "" {
		cfg.MOTD = file.MOTD
	}
	if file.MaxActors > 0 {
		cfg.MaxActors = file.MaxActors
	}
	if file.TickRate > 0 {
		cfg.TickRate = file.TickRate
	}
	if file.Seed != "" {
		cfg.Seed = file.Seed
	}
	if file.SpawnActors != nil {
		cfg.SpawnActors = append([]string(nil), file.SpawnActors...)
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("EMBERFALL_BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("EMBERFALL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	if v := os.Getenv("EMBERFALL_SHARED_SECRET"); v != "" {
		cfg.SharedSecret = v
	}
	if v := os.Getenv("EMBERFALL_ALLOWED_COMMANDS"); v != "" {
		parts := strings.Split(v, ",")
		allowed := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				allowed = append(allowed, trimmed)
			}
		}
		cfg.AllowedCommands = allowed
	}
	if v := os.Getenv("EMBERFALL_AUDIT_LOG"); v != "" {
		cfg.AuditLog = v
	}
	if v := os.Getenv("EMBERFALL_WHITELIST_DB"); v != "" {
		cfg.WhitelistDB = v
	}
}

func validate(cfg Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", cfg.Port)
	}
	if cfg.TickRate < 1 || cfg.TickRate > 200 {
		return fmt.Errorf("config: tickRate %d out of range", cfg.TickRate)
	}
	if cfg.SharedSecret == "" {
		return fmt.Errorf("config: sharedSecret must not be empty")
	}
	return nil
}

func warnings(cfg Config) []string {
	var warns []string
	if cfg.BindAddress != "127.0.0.1" && cfg.BindAddress != "localhost" && cfg.BindAddress != "::1" {
		warns = append(warns, fmt.Sprintf("bindAddress %q is not localhost; the panel API should never face the public internet, use a reverse proxy", cfg.BindAddress))
	}
	if cfg.SharedSecret == DefaultSharedSecret {
		warns = append(warns, "sharedSecret is still the default placeholder; change it before exposing the bridge")
	}
	if len(cfg.AllowedCommands) == 0 {
		warns = append(warns, "allowedCommands is empty; every /api/command request will be denied")
	}
	return warns
}
