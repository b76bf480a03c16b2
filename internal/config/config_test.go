package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)

	assert.Equal(t, "kucoin", cfg.Exchange.Name)
	assert.Equal(t, "BTC", cfg.Exchange.Denomination)
	assert.Equal(t, "BTC", cfg.Exchange.QuoteAsset)
	assert.Equal(t, 0.1, cfg.Trading.BalanceFraction)
	assert.Equal(t, 0.1, cfg.Trading.TakeProfitFraction)
	assert.Equal(t, 10, cfg.Trading.InitialAccountHealth)
	assert.Equal(t, 3, cfg.Trading.InitialOrderHealth)
	assert.Equal(t, "order", cfg.Trading.QuantitySource)
	assert.Equal(t, 50*time.Millisecond, cfg.Settlement.RetryInterval)
	assert.Equal(t, 0, cfg.Settlement.MaxRounds)
	assert.Equal(t, 600*time.Second, cfg.Refresh.Interval)
	assert.Equal(t, 200, cfg.Queue.Capacity)
	assert.Equal(t, []string{"stdout"}, cfg.Logging.OutputPaths)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
exchange:
  quote_asset: USDT
trading:
  balance_fraction: 0.25
settlement:
  retry_interval: 100ms
  max_rounds: 40
refresh:
  interval: 10m
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "USDT", cfg.Exchange.QuoteAsset)
	assert.Equal(t, "USDT", cfg.Exchange.Denomination)
	assert.Equal(t, 0.25, cfg.Trading.BalanceFraction)
	assert.Equal(t, 100*time.Millisecond, cfg.Settlement.RetryInterval)
	assert.Equal(t, 40, cfg.Settlement.MaxRounds)
	assert.Equal(t, 10*time.Minute, cfg.Refresh.Interval)
	assert.Equal(t, "kucoin", cfg.Exchange.Name)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  capacity: 5\n"), 0o600))
	t.Setenv("MINT_QUEUE_CAPACITY", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Queue.Capacity)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)

	cfg.Trading.BalanceFraction = 1.5
	cfg.Trading.QuantitySource = "wallet"
	cfg.Settlement.MaxRounds = -1
	cfg.Queue.Capacity = 0
	cfg.Exchange.Denomination = "USDT"

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	for _, field := range []string{
		"trading.balance_fraction",
		"trading.quantity_source",
		"settlement.max_rounds",
		"queue.capacity",
		"exchange.denomination",
	} {
		assert.Contains(t, err.Error(), field)
	}
}
