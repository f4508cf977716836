// Package config loads the daemon configuration from a yaml file, applies
// CHATSYNC_* environment overrides, and parses command-line flags.
// Precedence is flags over env over file.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
		PushURL string `yaml:"push_url"`
	} `yaml:"server"`
	Client struct {
		UserID   string `yaml:"user_id"`
		PageSize int    `yaml:"page_size"`
	} `yaml:"client"`
	Cache struct {
		Enabled          bool   `yaml:"enabled"`
		Path             string `yaml:"path"`
		SweepCron        string `yaml:"sweep_cron"`
		MaxConversations int    `yaml:"max_conversations"`
	} `yaml:"cache"`
	Debug struct {
		Addr string `yaml:"addr"`
	} `yaml:"debug"`
	Logging struct {
		Level string `yaml:"level"`
		Sink  string `yaml:"sink"`
	} `yaml:"logging"`
}

// DebugAddr returns the debug listener address, defaulting the port.
func (c *Config) DebugAddr() string {
	if c.Debug.Addr == "" {
		return "127.0.0.1:7077"
	}
	return c.Debug.Addr
}

// CachePath returns the warm-start cache path, defaulted.
func (c *Config) CachePath() string {
	if c.Cache.Path == "" {
		return "./.chatsync-cache"
	}
	return c.Cache.Path
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, cachePath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", "127.0.0.1:7077", "debug HTTP listen address")
	cachePtr := flag.String("cache", "./.chatsync-cache", "warm-start cache path")
	cfgPtr := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *cachePtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies environment overrides onto the provided cfg and
// reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	if v := os.Getenv("CHATSYNC_API_BASE"); v != "" {
		envUsed = true
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_TOKEN"); v != "" {
		envUsed = true
		cfg.Server.Token = v
	}
	if v := os.Getenv("CHATSYNC_PUSH_URL"); v != "" {
		envUsed = true
		cfg.Server.PushURL = v
	}
	if v := os.Getenv("CHATSYNC_USER_ID"); v != "" {
		envUsed = true
		cfg.Client.UserID = v
	}
	if v := os.Getenv("CHATSYNC_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Client.PageSize = n
		}
	}
	if v := os.Getenv("CHATSYNC_CACHE_ENABLED"); v != "" {
		envUsed = true
		vl := strings.ToLower(strings.TrimSpace(v))
		cfg.Cache.Enabled = vl == "1" || vl == "true" || vl == "yes"
	}
	if v := os.Getenv("CHATSYNC_CACHE_PATH"); v != "" {
		envUsed = true
		cfg.Cache.Path = v
	}
	if v := os.Getenv("CHATSYNC_CACHE_SWEEP_CRON"); v != "" {
		envUsed = true
		cfg.Cache.SweepCron = v
	}
	if v := os.Getenv("CHATSYNC_CACHE_MAX_CONVERSATIONS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Cache.MaxConversations = n
		}
	}
	if v := os.Getenv("CHATSYNC_DEBUG_ADDR"); v != "" {
		envUsed = true
		cfg.Debug.Addr = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHATSYNC_LOG_SINK"); v != "" {
		envUsed = true
		cfg.Logging.Sink = v
	}
	return envUsed
}

// LoadEffective loads config from the given path and applies environment
// overrides. A missing file is not fatal; env and flags may carry the
// whole configuration.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the environment variable `CHATSYNC_CONFIG` when the flag was
// not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Server.Token == "" {
		return fmt.Errorf("server.token is required")
	}
	if c.Server.PushURL == "" {
		return fmt.Errorf("server.push_url is required")
	}
	if c.Client.UserID == "" {
		return fmt.Errorf("client.user_id is required")
	}
	return nil
}
