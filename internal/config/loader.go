package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".omniroute"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for omniroute settings.
const envPrefix = "OMNIROUTE"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("sampling.strategy", DefaultSamplingStrategy)
	viperCfg.SetDefault("sampling.rate", DefaultSamplingRate)

	viperCfg.SetDefault("batch.size", DefaultBatchSize)
	viperCfg.SetDefault("batch.timeout_ms", DefaultBatchTimeoutMS)

	viperCfg.SetDefault("aggregate.interval_ms", DefaultAggregateIntervalMS)

	viperCfg.SetDefault("scoring.min_samples", DefaultScoringMinSamples)
	viperCfg.SetDefault("scoring.confidence_interval", DefaultConfidenceInterval)
	viperCfg.SetDefault("scoring.recalc_interval_h", DefaultRecalcIntervalH)
	viperCfg.SetDefault("scoring.cache_ttl_h", DefaultCacheTTLH)

	viperCfg.SetDefault("cost.default_strategy", DefaultCostStrategy)

	viperCfg.SetDefault("sla.max_latency_ms", DefaultMaxLatencyMS)
	viperCfg.SetDefault("sla.min_success_rate", DefaultMinSuccessRate)

	viperCfg.SetDefault("alerts.success_rate_threshold", DefaultSuccessRateThreshold)
	viperCfg.SetDefault("alerts.fallback_rate_threshold", DefaultFallbackRate)
	viperCfg.SetDefault("alerts.latency_p95_threshold_ms", DefaultLatencyP95MS)
	viperCfg.SetDefault("alerts.cost_spike_multiplier", DefaultCostSpikeMultiplier)
	viperCfg.SetDefault("alerts.evaluation_interval_s", DefaultEvaluationIntervalS)

	viperCfg.SetDefault("features.prometheus_metrics_enabled", true)
	viperCfg.SetDefault("features.learning_system_enabled", true)

	viperCfg.SetDefault("server.addr", DefaultServerAddr)

	viperCfg.SetDefault("telemetry.service_name", DefaultServiceName)
	viperCfg.SetDefault("telemetry.log_level", DefaultLogLevel)

	viperCfg.SetDefault("sink.kind", DefaultSinkKind)
	viperCfg.SetDefault("sink.path", DefaultSinkPath)
}
