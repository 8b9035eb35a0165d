package bridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/ctpbridge/internal/config"
)

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctpbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))
	cfg, err := config.LoadWithDefaults(path)
	require.NoError(t, err)
	return cfg
}

func TestConfigFrom(t *testing.T) {
	cfg := loadConfig(t, `
client_access:
  BrokerID: "9999"
  UserID: "000001"
  AppID: simnow_client_test
  AuthCode: "0000000000000000"
user_access:
  BrokerID: "9999"
  UserID: "000001"
  Password: secret
connect_info:
  front_hq_address: tcp://180.168.146.187:10211
  front_trade_address: tcp://180.168.146.187:10201
bridge:
  command_timeout: 2s
`)

	out, err := ConfigFrom(cfg)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultBridgeURL, out.Client.URL)
	assert.Nil(t, out.Client.Credentials)
	assert.Equal(t, 2*time.Second, out.CommandTimeout)

	assert.Equal(t, "md", out.MarketData.Front)
	assert.Equal(t, "tcp://180.168.146.187:10211", out.MarketData.Address)
	assert.Equal(t, "secret", out.MarketData.Password)
	assert.Empty(t, out.MarketData.AppID)

	assert.Equal(t, "td", out.Trading.Front)
	assert.Equal(t, "tcp://180.168.146.187:10201", out.Trading.Address)
	assert.Equal(t, "simnow_client_test", out.Trading.AppID)
	assert.Equal(t, "0000000000000000", out.Trading.AuthCode)
}

func TestConfigFrom_BadKeyPath(t *testing.T) {
	cfg := loadConfig(t, `
bridge:
  key_id: k1
  private_key_path: /nonexistent/key.pem
`)

	_, err := ConfigFrom(cfg)
	assert.Error(t, err)
}
