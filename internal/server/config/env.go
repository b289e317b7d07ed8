package config

import (
	"github.com/caarlos0/env/v11"
)

// parseEnv overlays values from the process environment. Unset variables
// leave the current value alone.
func parseEnv(config *Config) {
	if err := parseEnvFrom(config, nil); err != nil {
		panic(err)
	}
}

// parseEnvFrom reads from environ instead of the process environment when
// environ is non-nil.
func parseEnvFrom(config *Config, environ map[string]string) error {
	return env.ParseWithOptions(config, env.Options{Environment: environ})
}
