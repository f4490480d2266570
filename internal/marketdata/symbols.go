package marketdata

import "strings"

var symbolAliases = map[string]string{
	"USDT/TON": "TONUSDT",
	"USDT/BTC": "BTCUSDT",
	"USDT/ETH": "ETHUSDT",
}

// NormalizeSymbol maps display forms such as "USDT/BTC" or "btc/usdt" onto
// the canonical "BTCUSDT".
func NormalizeSymbol(raw string) string {
	u := strings.ToUpper(strings.TrimSpace(raw))
	if alias, ok := symbolAliases[u]; ok {
		return alias
	}
	u = strings.ReplaceAll(u, "/", "")
	return strings.ReplaceAll(u, "-", "")
}
