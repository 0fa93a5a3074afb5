package config

import (
	"os"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
	environmentTest        = "test"
)

const (
	// EnvironmentDevelopment is the default environment identifier.
	EnvironmentDevelopment = environmentDevelopment
	// EnvironmentProduction is the production environment identifier.
	EnvironmentProduction = environmentProduction
	// EnvironmentStaging is the staging environment identifier.
	EnvironmentStaging = environmentStaging
	// EnvironmentTest selects the coarse test discretization.
	EnvironmentTest = environmentTest
)

const defaultConfigPath = "config/config.yml"

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
	environmentTest:       "config/config.test.yml",
}

var environmentAliases = map[string]string{
	"prod":    environmentProduction,
	"stag":    environmentStaging,
	"testing": environmentTest,
}

// getAppEnvironment reads APP_ENV and defaults to development.
func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// resolveEnvSpecificPath swaps the default config path for the current
// environment's file when the caller did not ask for a specific one.
// The environment file is only used when it exists.
func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path == "" {
		path = defaultPath
	}

	envPath, ok := envPaths[getAppEnvironment()]
	if !ok || path != defaultPath {
		return path
	}
	if _, err := os.Stat(envPath); err != nil {
		return path
	}
	return envPath
}

// AppEnvironment exposes the normalised APP_ENV value.
func AppEnvironment() string {
	return getAppEnvironment()
}

// IsProductionLike reports whether env should refuse the in-memory store and
// other development shortcuts.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}
