package config

import "time"

// Config is the root configuration for a ctpbridge instance.
type Config struct {
	ClientAccess ClientAccess    `yaml:"client_access"`
	UserAccess   UserAccess      `yaml:"user_access"`
	ConnectInfo  ConnectInfo     `yaml:"connect_info"`
	Bridge       BridgeConfig    `yaml:"bridge"`
	Session      SessionConfig   `yaml:"session"`
	Poller       PollerConfig    `yaml:"poller"`
	Database     DatabaseConfig  `yaml:"database"`
	Archive      ArchiveConfig   `yaml:"archive"`
	Kafka        KafkaConfig     `yaml:"kafka"`
	Profiling    ProfilingConfig `yaml:"profiling"`
	Health       HealthConfig    `yaml:"health"`
	Logging      LoggingConfig   `yaml:"logging"`
}

// ClientAccess is the terminal authentication sent before a trading login.
type ClientAccess struct {
	BrokerID        string `yaml:"BrokerID"`
	UserID          string `yaml:"UserID"`
	UserProductInfo string `yaml:"UserProductInfo"`
	AuthCode        string `yaml:"AuthCode"`
	AppID           string `yaml:"AppID"`
}

// UserAccess is the user login request.
type UserAccess struct {
	TradingDay           string `yaml:"TradingDay"`
	BrokerID             string `yaml:"BrokerID"`
	UserID               string `yaml:"UserID"`
	Password             string `yaml:"Password"`
	UserProductInfo      string `yaml:"UserProductInfo"`
	InterfaceProductInfo string `yaml:"InterfaceProductInfo"`
	ProtocolInfo         string `yaml:"ProtocolInfo"`
	MacAddress           string `yaml:"MacAddress"`
	OneTimePassword      string `yaml:"OneTimePassword"`
	Reserve1             string `yaml:"reserve1"`
	LoginRemark          string `yaml:"LoginRemark"`
	ClientIPPort         int    `yaml:"ClientIPPort"`
	ClientIPAddress      string `yaml:"ClientIPAddress"`
}

// ConnectInfo holds gateway front addresses.
type ConnectInfo struct {
	FrontMarketData string   `yaml:"front_hq_address"`
	FrontTrading    string   `yaml:"front_trade_address"`
	Level1QuoteURLs []string `yaml:"level1_hq_services"` // Optional HTTP level-1 quote services
}

// BridgeConfig holds the gateway sidecar connection settings.
type BridgeConfig struct {
	URL               string        `yaml:"url"`
	KeyID             string        `yaml:"key_id"`           // Handshake signing key id
	PrivateKeyPath    string        `yaml:"private_key_path"` // RSA private key PEM; empty = unsigned
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	LoginTimeout      time.Duration `yaml:"login_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	ReconnectBaseWait time.Duration `yaml:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `yaml:"reconnect_max_wait"`
	BufferSize        int           `yaml:"buffer_size"`
}

// SessionConfig holds synchronous call settings.
type SessionConfig struct {
	WaitTimeout   time.Duration `yaml:"wait_timeout"`    // Default deadline for WaitForData
	OrderTimeout  time.Duration `yaml:"order_timeout"`   // Default deadline for PlaceOrder
	OrderRefStart uint64        `yaml:"order_ref_start"` // First order ref is start+1
}

// PollerConfig holds level-1 quote poller settings.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// DatabaseConfig holds the TimescaleDB connection for the tick archive.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// ArchiveConfig holds tick archive writer settings.
type ArchiveConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// KafkaConfig holds the settlement publisher settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether Kafka publishing is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// ProfilingConfig holds continuous profiling settings.
type ProfilingConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServerAddress string            `yaml:"server_address"`
	AppName       string            `yaml:"app_name"`
	Tags          map[string]string `yaml:"tags"`
}

// HealthConfig holds the health server settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
