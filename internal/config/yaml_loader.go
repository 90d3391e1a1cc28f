package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

var defaultConfigPaths = []string{"./configs", "../configs", "../../configs"}

// loadYAMLConfig loads operational configuration from YAML files based on the environment.
// It first loads defaults.yaml, then overlays environment-specific configuration
// (local.yaml, nonprod.yaml, or prod.yaml). A missing defaults.yaml is reported
// as viper.ConfigFileNotFoundError so callers can fall back to built-in values.
func loadYAMLConfig(env Environment, extraDir string) (*viper.Viper, error) {
	paths := defaultConfigPaths
	if extraDir != "" {
		paths = append([]string{extraDir}, paths...)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("defaults")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read defaults config: %w", err)
	}

	var envConfigFile string
	switch env {
	case NonProd:
		envConfigFile = "nonprod"
	case Prod:
		envConfigFile = "prod"
	case Local:
		fallthrough
	default:
		envConfigFile = "local"
	}

	envViper := viper.New()
	envViper.SetConfigType("yaml")
	envViper.SetConfigName(envConfigFile)
	for _, p := range paths {
		envViper.AddConfigPath(p)
	}

	if err := envViper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read %s config: %w", envConfigFile, err)
		}
	}

	if err := v.MergeConfigMap(envViper.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to merge environment config: %w", err)
	}

	return v, nil
}

// loadRateLimitRoutes reads ratelimit.routes from the YAML configuration.
// Without any YAML file the built-in table is returned.
func loadRateLimitRoutes(env Environment, extraDir string) ([]RouteLimit, error) {
	v, err := loadYAMLConfig(env, extraDir)
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return DefaultRateLimitRoutes(), nil
		}
		return nil, err
	}

	if !v.IsSet("ratelimit.routes") {
		return DefaultRateLimitRoutes(), nil
	}

	var routes []RouteLimit
	if err := v.UnmarshalKey("ratelimit.routes", &routes); err != nil {
		return nil, fmt.Errorf("failed to decode rate limit routes: %w", err)
	}

	return routes, nil
}
