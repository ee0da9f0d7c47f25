package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server       ServerConfig       `toml:"server"`
	HTTP         HTTPConfig         `toml:"http"`
	Discovery    DiscoveryConfig    `toml:"discovery"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Data         DataConfig         `toml:"data"`
	Logging      LoggingConfig      `toml:"logging"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	Host      string `toml:"host"`   // address advertised to clients and match servers
	Secret    string `toml:"secret"` // shared secret for match-server calls and commit signing
	StartTime int64  // set at boot, not from config
}

type HTTPConfig struct {
	BindAddress  string        `toml:"bind_address"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

type DiscoveryConfig struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
}

type OrchestratorConfig struct {
	Executable       string        `toml:"executable"`   // match-server binary
	ProjectPath      string        `toml:"project_path"` // optional engine project path
	MinPool          int           `toml:"min_pool"`     // minimum Starting+Ready servers
	PortBase         int           `toml:"port_base"`
	PortCount        int           `toml:"port_count"`
	MaxPlayers       int           `toml:"max_players"`
	Tick             time.Duration `toml:"tick"`
	HeartbeatTimeout time.Duration `toml:"heartbeat_timeout"`
}

type DataConfig struct {
	Items      string `toml:"items"`
	Traders    string `toml:"traders"`
	Characters string `toml:"characters"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Load reads the TOML config, applies environment overrides, and stamps the
// boot time. Env vars win over file values so deployments can inject the
// secret without touching config files.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if v := os.Getenv("BACKEND_SECRET"); v != "" {
		cfg.Server.Secret = v
	}
	if v := os.Getenv("BACKEND_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BACKEND_HTTP_BIND"); v != "" {
		cfg.HTTP.BindAddress = v
	}
	if v := os.Getenv("MATCH_SERVER_EXECUTABLE"); v != "" {
		cfg.Orchestrator.Executable = v
	}
	if v := os.Getenv("MIN_SERVER_POOL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.MinPool = n
		}
	}

	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name:   "Deadhold Backend",
			Host:   "127.0.0.1",
			Secret: "dev-secret-change-me",
		},
		HTTP: HTTPConfig{
			BindAddress:  "0.0.0.0:8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 45 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Enabled:     true,
			BindAddress: "0.0.0.0:8081",
		},
		Orchestrator: OrchestratorConfig{
			Executable:       "./match_server",
			MinPool:          0,
			PortBase:         27015,
			PortCount:        100,
			MaxPlayers:       8,
			Tick:             5 * time.Second,
			HeartbeatTimeout: 6 * time.Second, // three missed 2s beats
		},
		Data: DataConfig{
			Items:      "data/yaml/item_list.yaml",
			Traders:    "data/yaml/trader_list.yaml",
			Characters: "data/yaml/character_seed.yaml",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
