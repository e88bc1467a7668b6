// Package config loads the process configuration, grounded on the
// teacher's internal/config/node package: a plain struct populated from a
// YAML file with environment-variable overrides, no dynamic reload.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every named external-interface parameter plus the
// ambient process settings (logging, gas defaults, buffer sizes) the
// rest of the process reads at startup.
type Config struct {
	BitcoinRPCURL      string `yaml:"bitcoin_rpc_url"`
	BitcoinRPCUser     string `yaml:"bitcoin_rpc_user"`
	BitcoinRPCPassword string `yaml:"bitcoin_rpc_password"`
	ZMQAddress         string `yaml:"zmq_address"`
	APIPort            int    `yaml:"api_port"`
	DataDir            string `yaml:"data_dir"`
	StartingHeight     uint64 `yaml:"starting_block_height"`
	LogFormat          string `yaml:"log_format"`
	LogLevel           string `yaml:"log_level"`

	GasDefaultLimit        uint64 `yaml:"gas_default_limit"`
	IssuanceAmount         uint64 `yaml:"issuance_amount"`
	RegistryCacheCapacity  int    `yaml:"registry_cache_capacity"`
	ViewPoolSize           int    `yaml:"view_pool_size"`
	ResultSubscriberBuffer int    `yaml:"result_subscriber_buffer"`
	ZMQReconnectBackoffMS  int    `yaml:"zmq_reconnect_backoff_ms"`
	RPCBackoffMinMS        int    `yaml:"rpc_backoff_min_ms"`
	RPCBackoffMaxMS        int    `yaml:"rpc_backoff_max_ms"`
}

// Defaults returns a Config with every ambient default filled in;
// callers overlay file/env values on top of it.
func Defaults() Config {
	return Config{
		APIPort:                8080,
		DataDir:                "./data",
		LogFormat:              "plain",
		LogLevel:               "info",
		GasDefaultLimit:        10_000_000,
		IssuanceAmount:         1000,
		RegistryCacheCapacity:  64,
		ViewPoolSize:           runtime.NumCPU(),
		ResultSubscriberBuffer: 100,
		ZMQReconnectBackoffMS:  10_000,
		RPCBackoffMinMS:        500,
		RPCBackoffMaxMS:        10_000,
	}
}

// Load reads a YAML file at path (if it exists), applies it over the
// defaults, then applies environment-variable overrides. godotenv loads a
// local .env file first (if present) so KONTOR_* variables can be set
// without exporting them in the shell during local development.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	u64 := func(key string, dst *uint64) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	i := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("KONTOR_BITCOIN_RPC_URL", &cfg.BitcoinRPCURL)
	str("KONTOR_BITCOIN_RPC_USER", &cfg.BitcoinRPCUser)
	str("KONTOR_BITCOIN_RPC_PASSWORD", &cfg.BitcoinRPCPassword)
	str("KONTOR_ZMQ_ADDRESS", &cfg.ZMQAddress)
	str("KONTOR_DATA_DIR", &cfg.DataDir)
	str("KONTOR_LOG_FORMAT", &cfg.LogFormat)
	str("KONTOR_LOG_LEVEL", &cfg.LogLevel)
	i("KONTOR_API_PORT", &cfg.APIPort)
	u64("KONTOR_STARTING_BLOCK_HEIGHT", &cfg.StartingHeight)
}
