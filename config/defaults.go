package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "emisor.db")

	// Data directory defaults
	v.SetDefault("data.dir", "data")

	// Issuer API defaults
	v.SetDefault("issuer.base_url", "")
	v.SetDefault("issuer.timeout_seconds", 60)
	v.SetDefault("issuer.requests_per_minute", 30)

	// Coordination window defaults mirror the production container:
	// 5 minute bounded wait, checked every 30 seconds, 10 minute join window.
	v.SetDefault("coordinator.wait_timeout_seconds", 300)
	v.SetDefault("coordinator.check_interval_seconds", 30)
	v.SetDefault("coordinator.join_window_seconds", 600)

	// Watcher defaults
	v.SetDefault("watcher.inbox_dir", "inbox")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("issuer.username", "EMISOR_ISSUER_USERNAME")
	v.BindEnv("issuer.password", "EMISOR_ISSUER_PASSWORD")
}
