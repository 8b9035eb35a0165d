package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBridgeURL         = "ws://127.0.0.1:17001/ws"
	DefaultCommandTimeout    = 5 * time.Second
	DefaultLoginTimeout      = 30 * time.Second
	DefaultPingInterval      = 15 * time.Second
	DefaultPingTimeout       = 60 * time.Second
	DefaultReconnectBaseWait = 1 * time.Second
	DefaultReconnectMaxWait  = 60 * time.Second
	DefaultBridgeBufferSize  = 10000
	DefaultWaitTimeout       = 30 * time.Second
	DefaultOrderTimeout      = 30 * time.Second
	DefaultPollInterval      = 3 * time.Second
	DefaultPollConcurrency   = 8
	DefaultPollTimeout       = 5 * time.Second
	DefaultPollMaxRetries    = 2
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultBatchSize         = 1000
	DefaultFlushInterval     = 1 * time.Second
	DefaultArchiveBuffer     = 10000
	DefaultKafkaTopic        = "ctpbridge.fills"
	DefaultProfilingAppName  = "ctpbridge"
	DefaultHealthPort        = 8080
	DefaultLogLevel          = "info"
)

func (c *Config) applyDefaults() {
	// Bridge defaults
	if c.Bridge.URL == "" {
		c.Bridge.URL = DefaultBridgeURL
	}
	if c.Bridge.CommandTimeout == 0 {
		c.Bridge.CommandTimeout = DefaultCommandTimeout
	}
	if c.Bridge.LoginTimeout == 0 {
		c.Bridge.LoginTimeout = DefaultLoginTimeout
	}
	if c.Bridge.PingInterval == 0 {
		c.Bridge.PingInterval = DefaultPingInterval
	}
	if c.Bridge.PingTimeout == 0 {
		c.Bridge.PingTimeout = DefaultPingTimeout
	}
	if c.Bridge.ReconnectBaseWait == 0 {
		c.Bridge.ReconnectBaseWait = DefaultReconnectBaseWait
	}
	if c.Bridge.ReconnectMaxWait == 0 {
		c.Bridge.ReconnectMaxWait = DefaultReconnectMaxWait
	}
	if c.Bridge.BufferSize == 0 {
		c.Bridge.BufferSize = DefaultBridgeBufferSize
	}

	// Session defaults
	if c.Session.WaitTimeout == 0 {
		c.Session.WaitTimeout = DefaultWaitTimeout
	}
	if c.Session.OrderTimeout == 0 {
		c.Session.OrderTimeout = DefaultOrderTimeout
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}
	if c.Poller.MaxRetries == 0 {
		c.Poller.MaxRetries = DefaultPollMaxRetries
	}

	// Database defaults only matter when the archive is enabled.
	if c.Database.Timescale.Enabled() {
		applyDBDefaults(&c.Database.Timescale)
	}

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultArchiveBuffer
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Profiling.AppName == "" {
		c.Profiling.AppName = DefaultProfilingAppName
	}
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
