package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.ConnectInfo.FrontMarketData == "" && c.ConnectInfo.FrontTrading == "" {
		return errors.New("connect_info.front_hq_address or connect_info.front_trade_address is required")
	}

	if c.UserAccess.BrokerID == "" {
		return errors.New("user_access.BrokerID is required")
	}
	if c.UserAccess.UserID == "" {
		return errors.New("user_access.UserID is required")
	}
	if c.ConnectInfo.FrontTrading != "" && c.UserAccess.Password == "" {
		return errors.New("user_access.Password is required for trading")
	}

	if err := validateURL("bridge.url", c.Bridge.URL, "ws", "wss"); err != nil {
		return err
	}
	if (c.Bridge.KeyID == "") != (c.Bridge.PrivateKeyPath == "") {
		return errors.New("bridge.key_id and bridge.private_key_path must be set together")
	}
	if c.Bridge.ReconnectMaxWait < c.Bridge.ReconnectBaseWait {
		return fmt.Errorf("bridge.reconnect_max_wait (%v) cannot be less than reconnect_base_wait (%v)",
			c.Bridge.ReconnectMaxWait, c.Bridge.ReconnectBaseWait)
	}
	if c.Bridge.BufferSize < 1 {
		return errors.New("bridge.buffer_size must be >= 1")
	}

	for i, u := range c.ConnectInfo.Level1QuoteURLs {
		if err := validateURL(fmt.Sprintf("connect_info.level1_hq_services[%d]", i), u, "http", "https"); err != nil {
			return err
		}
	}
	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Database.Timescale.Enabled() {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required")
	}
	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return errors.New("profiling.server_address is required")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL, got %q", field, strings.Join(schemes, "/"), raw)
}

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}
