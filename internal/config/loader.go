package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = "parstat"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for parstat settings.
const envPrefix = "PARSTAT"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// searchPaths are the directories searched for parstat.yaml when no path is given.
var searchPaths = []string{".", "./config", "/etc/parstat"}

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, parstat.yaml is searched in the working directory, ./config and
// /etc/parstat. Missing config file is not an error; defaults are used.
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

		for _, p := range searchPaths {
			viperCfg.AddConfigPath(p)
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
	viperCfg.SetDefault("estimator", "")
	viperCfg.SetDefault("requests", [][]string{})
	viperCfg.SetDefault("workers", DefaultWorkers)

	viperCfg.SetDefault("phases.learn", true)
	viperCfg.SetDefault("phases.derive", true)
	viperCfg.SetDefault("phases.assess", true)
	viperCfg.SetDefault("phases.test", true)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.sample_ratio", 0.0)
	viperCfg.SetDefault("telemetry.metrics_addr", "")

	viperCfg.SetDefault("store.dir", DefaultStoreDir)

	viperCfg.SetDefault("descriptive.unbiased", DefaultDescriptiveUnbiased)
	viperCfg.SetDefault("descriptive.g1_skewness", DefaultDescriptiveG1Skewness)
	viperCfg.SetDefault("descriptive.g2_kurtosis", DefaultDescriptiveG2Kurtosis)
	viperCfg.SetDefault("descriptive.signed_deviations", DefaultDescriptiveSignedDeviations)

	viperCfg.SetDefault("order.number_of_intervals", DefaultOrderNumberOfIntervals)
	viperCfg.SetDefault("order.quantile_definition", DefaultOrderQuantileDefinition)
	viperCfg.SetDefault("order.quantize", DefaultOrderQuantize)
	viperCfg.SetDefault("order.maximum_histogram_size", DefaultOrderMaximumHistogramSize)

	viperCfg.SetDefault("pca.normalization_scheme", DefaultPCANormalizationScheme)
	viperCfg.SetDefault("pca.specified_normalization", "")
	viperCfg.SetDefault("pca.basis_scheme", DefaultPCABasisScheme)
	viperCfg.SetDefault("pca.fixed_basis_size", DefaultPCAFixedBasisSize)
	viperCfg.SetDefault("pca.fixed_basis_energy", DefaultPCAFixedBasisEnergy)

	viperCfg.SetDefault("autocorrelative.slice_cardinality", DefaultAutoCorrelativeSliceCardinality)
	viperCfg.SetDefault("autocorrelative.time_lags", DefaultAutoCorrelativeTimeLags)
}
