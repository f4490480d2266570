package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"perp-ledger/internal/ledger"
	"perp-ledger/internal/liquidation"
	"perp-ledger/internal/orders"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr        string
	DBDSN           string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	InternalToken   string
	WebSocketOrigin string
	LogLevel        string
	LogFormat       string
	PairsFile       string
	StrictPairs     bool
	JournalPath     string
	ScanInterval    time.Duration
	PriceMaxAge     time.Duration
	PriceHistory    int
	RateLimit       float64
	RateBurst       int

	Ledger ledger.Config
	Orders orders.Config
}

// LoadDotEnv reads .env files into the environment. Variables that are
// already set win; missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

func Load() (Config, error) {
	c := Config{
		Ledger: ledger.DefaultConfig(),
		Orders: orders.DefaultConfig(),
	}
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	if c.WebSocketOrigin == "" {
		missing = append(missing, "WS_ORIGIN")
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}

	c.DBDSN = os.Getenv("DB_DSN")
	c.RedisAddr = os.Getenv("REDIS_ADDR")
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	c.PairsFile = os.Getenv("PAIRS_FILE")
	c.JournalPath = os.Getenv("JOURNAL_PATH")
	c.LogLevel = envOr("LOG_LEVEL", "info")
	c.LogFormat = envOr("LOG_FORMAT", "text")

	var err error
	if c.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return c, err
	}
	if c.StrictPairs, err = boolEnv("STRICT_PAIRS", false); err != nil {
		return c, err
	}
	if c.ScanInterval, err = durationEnv("SCAN_INTERVAL", liquidation.DefaultInterval); err != nil {
		return c, err
	}
	c.ScanInterval = liquidation.ClampInterval(c.ScanInterval)
	if c.PriceMaxAge, err = durationEnv("PRICE_MAX_AGE", 30*time.Second); err != nil {
		return c, err
	}
	if c.PriceHistory, err = intEnv("PRICE_HISTORY", 500); err != nil {
		return c, err
	}
	if c.RateBurst, err = intEnv("RATE_BURST", 40); err != nil {
		return c, err
	}
	rate, err := decimalEnv("RATE_LIMIT", decimal.NewFromInt(20))
	if err != nil {
		return c, err
	}
	c.RateLimit = rate.InexactFloat64()

	if c.Ledger.FaucetEnabled, err = boolEnv("FAUCET_ENABLED", c.Ledger.FaucetEnabled); err != nil {
		return c, err
	}
	if c.Ledger.FaucetAmount, err = decimalEnv("FAUCET_AMOUNT", c.Ledger.FaucetAmount); err != nil {
		return c, err
	}
	if c.Ledger.FaucetCooldown, err = durationEnv("FAUCET_COOLDOWN", c.Ledger.FaucetCooldown); err != nil {
		return c, err
	}
	if c.Ledger.MinWithdraw, err = decimalEnv("MIN_WITHDRAW_AMOUNT", c.Ledger.MinWithdraw); err != nil {
		return c, err
	}
	if c.Ledger.WithdrawFee, err = decimalEnv("WITHDRAW_FEE", c.Ledger.WithdrawFee); err != nil {
		return c, err
	}
	if c.Orders.LiquidationFeeRate, err = decimalEnv("LIQUIDATION_FEE_RATE", c.Orders.LiquidationFeeRate); err != nil {
		return c, err
	}
	if c.Orders.LiquidationBuffer, err = decimalEnv("LIQUIDATION_BUFFER", c.Orders.LiquidationBuffer); err != nil {
		return c, err
	}
	if c.Orders.PriceTimeout, err = durationEnv("PRICE_TIMEOUT", c.Orders.PriceTimeout); err != nil {
		return c, err
	}
	return c, c.validate()
}

func (c Config) validate() error {
	if c.Ledger.FaucetAmount.IsNegative() || c.Ledger.MinWithdraw.IsNegative() || c.Ledger.WithdrawFee.IsNegative() {
		return errors.New("faucet and withdraw amounts must not be negative")
	}
	if c.Orders.LiquidationFeeRate.IsNegative() || c.Orders.LiquidationFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("invalid LIQUIDATION_FEE_RATE: use a fraction in [0, 1)")
	}
	if !c.Orders.LiquidationBuffer.IsPositive() || c.Orders.LiquidationBuffer.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("invalid LIQUIDATION_BUFFER: use a fraction in (0, 1]")
	}
	if c.PriceMaxAge < 0 {
		return errors.New("invalid PRICE_MAX_AGE")
	}
	if c.PriceHistory < 1 {
		return errors.New("invalid PRICE_HISTORY")
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		return errors.New("invalid RATE_LIMIT or RATE_BURST")
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func decimalEnv(key string, def decimal.Decimal) (decimal.Decimal, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
