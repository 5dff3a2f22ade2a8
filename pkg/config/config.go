// Package config provides a reusable loader for the bridge's configuration
// files and environment variables.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/vudo/enr-bridge/core"
	"github.com/vudo/enr-bridge/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig core.Config

func applyDefaults(v *viper.Viper) {
	bridge := core.DefaultBridgeConfig()
	v.SetDefault("network.listen_addr", "/ip4/0.0.0.0/tcp/0")
	v.SetDefault("network.bootstrap_peers", []string{})
	v.SetDefault("network.discovery_tag", "enr-bridge")
	v.SetDefault("bridge.initial_node_credits", bridge.InitialNodeCredits)
	v.SetDefault("bridge.entropy_tax_rate", bridge.EntropyTaxRate)
	v.SetDefault("bridge.max_gradient_age_ms", bridge.MaxGradientAgeMS)
	v.SetDefault("bridge.election_timeout_ms", bridge.ElectionTimeoutMS)
	v.SetDefault("bridge.candidacy_window_ms", bridge.CandidacyWindowMS)
	v.SetDefault("bridge.septal_open_on_failures", bridge.SeptalOpenOnFailures)
	v.SetDefault("bridge.septal_open_ttl_ms", bridge.SeptalOpenTTLMS)
	v.SetDefault("bridge.septal_half_open_success", bridge.SeptalHalfOpenSuccess)
	v.SetDefault("bridge.replay_window", bridge.ReplayWindow)
	v.SetDefault("bridge.max_future_skew_ms", bridge.MaxFutureSkewMS)
	v.SetDefault("bridge.probe_wait_ms", bridge.ProbeWaitMS)
	v.SetDefault("logging.level", "info")
}

// Load reads configuration files and merges any environment-specific
// overrides (env, e.g. "dev", "prod") plus process environment variables.
// The resulting configuration is stored in AppConfig and returned.
func Load(env string) (*core.Config, error) {
	_ = godotenv.Load() // optional .env, missing file is not an error

	v := viper.New()
	applyDefaults(v)
	v.SetConfigName("default")
	v.AddConfigPath("cmd/bridge/config")
	v.AddConfigPath("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	v.SetEnvPrefix("ENR")
	v.AutomaticEnv()

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ENR_ENV environment variable.
func LoadFromEnv() (*core.Config, error) {
	return Load(utils.EnvOrDefault("ENR_ENV", ""))
}
