package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("INTERNAL_API_TOKEN", "secret")
	t.Setenv("WS_ORIGIN", "*")
}

func TestLoadReportsAllMissingKeys(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("INTERNAL_API_TOKEN", "")
	t.Setenv("WS_ORIGIN", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_ADDR,INTERNAL_API_TOKEN,WS_ORIGIN")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	c, err := Load()
	require.NoError(t, err)
	assert.Empty(t, c.DBDSN)
	assert.Equal(t, time.Second, c.ScanInterval)
	assert.Equal(t, 30*time.Second, c.PriceMaxAge)
	assert.True(t, c.Ledger.FaucetEnabled)
	assert.True(t, c.Ledger.FaucetAmount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 24*time.Hour, c.Ledger.FaucetCooldown)
	assert.True(t, c.Orders.LiquidationBuffer.Equal(decimal.NewFromInt(1)))
	assert.True(t, c.Orders.LiquidationFeeRate.IsZero())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SCAN_INTERVAL", "5ms")
	t.Setenv("LIQUIDATION_FEE_RATE", "0.01")
	t.Setenv("LIQUIDATION_BUFFER", "0.8")
	t.Setenv("FAUCET_ENABLED", "false")
	t.Setenv("WITHDRAW_FEE", "2")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, c.ScanInterval, "interval is clamped")
	assert.True(t, c.Orders.LiquidationFeeRate.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, c.Orders.LiquidationBuffer.Equal(decimal.RequireFromString("0.8")))
	assert.False(t, c.Ledger.FaucetEnabled)
	assert.True(t, c.Ledger.WithdrawFee.Equal(decimal.NewFromInt(2)))
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"SCAN_INTERVAL":        "soon",
		"LIQUIDATION_BUFFER":   "1.5",
		"LIQUIDATION_FEE_RATE": "-0.1",
		"FAUCET_AMOUNT":        "lots",
		"REDIS_DB":             "x",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_ADDR=:9999\nJOURNAL_PATH=/tmp/j.db\n"), 0o600))
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("JOURNAL_PATH", "")
	require.NoError(t, os.Unsetenv("JOURNAL_PATH"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, ":8080", os.Getenv("HTTP_ADDR"))
	assert.Equal(t, "/tmp/j.db", os.Getenv("JOURNAL_PATH"))
}
