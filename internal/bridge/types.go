package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/ctpbridge/internal/auth"
	"github.com/rickgao/ctpbridge/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrTimeout         = errors.New("command timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrLoginFailed     = errors.New("login failed")

	// ErrOutcomeUnknown wraps failures after a command was written to the
	// sidecar. The command may still take effect.
	ErrOutcomeUnknown = errors.New("command outcome unknown")
)

// Commands sent to the sidecar.
const (
	CmdLogin       = "login"
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdInsertOrder = "insert_order"
)

// Message types received from the sidecar.
const (
	TypeOK           = "ok"
	TypeError        = "error"
	TypeTick         = "tick"
	TypeFill         = "fill"
	TypeOrderStatus  = "order_status"
	TypeLogin        = "login"
	TypeDisconnected = "disconnected"
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// Command is a request to the sidecar.
type Command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params any    `json:"params"`
}

// Envelope is any message from the sidecar. Responses carry the command id;
// pushed events have id 0 and name their front.
type Envelope struct {
	ID    int64           `json:"id,omitempty"`
	Type  string          `json:"type"`
	Front string          `json:"front,omitempty"`
	Msg   json.RawMessage `json:"msg"`
}

// StatusMsg is the body of "ok" and "error" responses.
type StatusMsg struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// LoginParams are the credentials for one front.
type LoginParams struct {
	Front                string `json:"front"`
	Address              string `json:"address"`
	TradingDay           string `json:"trading_day,omitempty"`
	BrokerID             string `json:"broker_id"`
	UserID               string `json:"user_id"`
	Password             string `json:"password"`
	UserProductInfo      string `json:"user_product_info,omitempty"`
	InterfaceProductInfo string `json:"interface_product_info,omitempty"`
	ProtocolInfo         string `json:"protocol_info,omitempty"`
	MacAddress           string `json:"mac_address,omitempty"`
	OneTimePassword      string `json:"one_time_password,omitempty"`
	LoginRemark          string `json:"login_remark,omitempty"`
	ClientIPAddress      string `json:"client_ip_address,omitempty"`
	ClientIPPort         int    `json:"client_ip_port,omitempty"`

	// Client authentication, trading front only.
	AppID    string `json:"app_id,omitempty"`
	AuthCode string `json:"auth_code,omitempty"`
}

// SubscribeParams name the instruments of a subscribe/unsubscribe command.
type SubscribeParams struct {
	Instruments []string `json:"instruments"`
}

// InsertOrderParams is an order submission.
type InsertOrderParams struct {
	OrderRef string `json:"order_ref"`
	model.OrderRequest
}

// LoginMsg is the body of a pushed login event.
type LoginMsg struct {
	TradingDay  string `json:"trading_day"`
	MaxOrderRef string `json:"max_order_ref,omitempty"`
	ErrorID     int    `json:"error_id"`
	ErrorMsg    string `json:"error_msg,omitempty"`
}

// DisconnectedMsg is the body of a pushed disconnected event.
type DisconnectedMsg struct {
	Reason  int    `json:"reason"`
	Message string `json:"message,omitempty"`
}

// ClientConfig configures the WebSocket client.
type ClientConfig struct {
	URL              string
	Credentials      *auth.Credentials // nil = unsigned handshake
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration // Max time without ping/pong before the connection is stale
	WriteTimeout     time.Duration
	BufferSize       int
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       10000,
	}
}

// Config configures a Bridge.
type Config struct {
	Client ClientConfig

	MarketData LoginParams // Front "md"
	Trading    LoginParams // Front "td"

	CommandTimeout    time.Duration
	LoginTimeout      time.Duration
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration

	// OnReconnect runs after a reconnect and successful re-login.
	OnReconnect func(ctx context.Context)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Client:            DefaultClientConfig(),
		CommandTimeout:    5 * time.Second,
		LoginTimeout:      30 * time.Second,
		ReconnectBaseWait: time.Second,
		ReconnectMaxWait:  60 * time.Second,
	}
}
