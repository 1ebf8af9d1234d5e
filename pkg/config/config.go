package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the merged view of flags, env and config file
// that the rest of the process consumes.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "env", or "config"
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `CHATRELAY_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATRELAY_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// Load reads and parses the YAML config file at path.
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

// LoadEnvOverrides applies environment overrides onto the provided cfg and
// reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if v := os.Getenv("CHATRELAY_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	} else {
		if host := os.Getenv("CHATRELAY_ADDRESS"); host != "" {
			envUsed = true
			cfg.Server.Address = host
		}
		if port := os.Getenv("CHATRELAY_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = pi
			}
		}
	}

	if v := os.Getenv("CHATRELAY_DB_PATH"); v != "" {
		envUsed = true
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("CHATRELAY_SELF_ID"); v != "" {
		envUsed = true
		cfg.Relay.SelfID = v
	}
	if v := os.Getenv("CHATRELAY_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("CHATRELAY_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("CHATRELAY_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("CHATRELAY_SEED_DIR"); v != "" {
		envUsed = true
		cfg.Ingest.SeedDir = v
	}
	if v := os.Getenv("CHATRELAY_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if c := os.Getenv("CHATRELAY_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("CHATRELAY_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}

	return envUsed
}

// LoadEffective loads the config file (missing file is not fatal), applies
// env overrides, then lets explicitly set flags win. The returned result is
// what the rest of the process should consume.
func LoadEffective(flags Flags) (EffectiveConfigResult, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	source := "config"
	if err != nil {
		cfg = &Config{}
		source = ""
	}
	if LoadEnvOverrides(cfg) {
		source = "env"
	}

	addr := cfg.Addr()
	if flags.Set["addr"] {
		addr = flags.Addr
		source = "flags"
	}
	dbPath := cfg.Server.DBPath
	if dbPath == "" || flags.Set["db"] {
		dbPath = flags.DB
		if flags.Set["db"] {
			source = "flags"
		}
	}
	if source == "" {
		source = "defaults"
	}
	return EffectiveConfigResult{Config: cfg, Addr: addr, DBPath: dbPath, Source: source}, nil
}
