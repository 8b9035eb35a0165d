package bridge

import (
	"fmt"

	"github.com/rickgao/ctpbridge/internal/auth"
	"github.com/rickgao/ctpbridge/internal/config"
	"github.com/rickgao/ctpbridge/internal/gateway"
)

// ConfigFrom builds a bridge config from the loaded file. Handshake
// credentials are loaded when a private key path is set.
func ConfigFrom(cfg *config.Config) (Config, error) {
	out := DefaultConfig()

	out.Client.URL = cfg.Bridge.URL
	out.Client.PingInterval = cfg.Bridge.PingInterval
	out.Client.PingTimeout = cfg.Bridge.PingTimeout
	out.Client.BufferSize = cfg.Bridge.BufferSize
	if cfg.Bridge.PrivateKeyPath != "" {
		creds, err := auth.LoadCredentials(cfg.Bridge.KeyID, cfg.Bridge.PrivateKeyPath)
		if err != nil {
			return Config{}, fmt.Errorf("bridge credentials: %w", err)
		}
		out.Client.Credentials = creds
	}

	out.CommandTimeout = cfg.Bridge.CommandTimeout
	out.LoginTimeout = cfg.Bridge.LoginTimeout
	out.ReconnectBaseWait = cfg.Bridge.ReconnectBaseWait
	out.ReconnectMaxWait = cfg.Bridge.ReconnectMaxWait

	out.MarketData = loginParams(gateway.FrontMarketData, cfg.ConnectInfo.FrontMarketData, cfg.UserAccess)
	out.Trading = loginParams(gateway.FrontTrading, cfg.ConnectInfo.FrontTrading, cfg.UserAccess)
	out.Trading.AppID = cfg.ClientAccess.AppID
	out.Trading.AuthCode = cfg.ClientAccess.AuthCode
	if cfg.ClientAccess.UserProductInfo != "" {
		out.Trading.UserProductInfo = cfg.ClientAccess.UserProductInfo
	}

	return out, nil
}

func loginParams(front gateway.Front, address string, u config.UserAccess) LoginParams {
	return LoginParams{
		Front:                string(front),
		Address:              address,
		TradingDay:           u.TradingDay,
		BrokerID:             u.BrokerID,
		UserID:               u.UserID,
		Password:             u.Password,
		UserProductInfo:      u.UserProductInfo,
		InterfaceProductInfo: u.InterfaceProductInfo,
		ProtocolInfo:         u.ProtocolInfo,
		MacAddress:           u.MacAddress,
		OneTimePassword:      u.OneTimePassword,
		LoginRemark:          u.LoginRemark,
		ClientIPAddress:      u.ClientIPAddress,
		ClientIPPort:         u.ClientIPPort,
	}
}
