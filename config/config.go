// Package config loads emisor configuration from TOML files and the
// environment via Viper.
package config

// Config represents the core emisor configuration
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Data        DataConfig        `mapstructure:"data"`
	Issuer      IssuerConfig      `mapstructure:"issuer"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Watcher     WatcherConfig     `mapstructure:"watcher"`
}

// DatabaseConfig configures the SQLite coordination database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DataConfig configures on-disk state shared with the report collaborator
type DataConfig struct {
	Dir string `mapstructure:"dir"` // root for outcome partitions and the report outbox
}

// IssuerConfig configures access to the remote policy-issuance API
type IssuerConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`     // transport-level timeout per call
	RequestsPerMinute int    `mapstructure:"requests_per_minute"` // issuance API politeness limit
}

// CoordinatorConfig configures the dual-pipeline coordination window
type CoordinatorConfig struct {
	WaitTimeoutSeconds   int `mapstructure:"wait_timeout_seconds"`   // bounded wait for the counterpart pipeline
	CheckIntervalSeconds int `mapstructure:"check_interval_seconds"` // monitor re-check cadence
	JoinWindowSeconds    int `mapstructure:"join_window_seconds"`    // max age of an open session to join
}

// WatcherConfig configures the drop-directory trigger adapter
type WatcherConfig struct {
	InboxDir string `mapstructure:"inbox_dir"` // normalized batch files land here
}
