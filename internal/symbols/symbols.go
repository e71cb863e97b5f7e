// Package symbols normalizes requested tickers to exchange-canonical
// ones and resolves canonical timeframe intervals.
package symbols

import "strings"

// aliases maps requested tickers to the names the exchange actually
// trades. MATIC rebranded to POL; XBT and BCC are historical synonyms.
var aliases = map[string]string{
	"MATICUSDT": "POLUSDT",
	"XBTUSDT":   "BTCUSDT",
	"BCCUSDT":   "BCHUSDT",
}

// Normalize uppercases the requested ticker, strips whitespace and
// applies the alias table. Unknown inputs pass through uppercased.
func Normalize(requested string) string {
	up := strings.ToUpper(strings.TrimSpace(requested))
	up = strings.ReplaceAll(up, " ", "")
	if canon, ok := aliases[up]; ok {
		return canon
	}
	return up
}

// Canonical timeframes in minutes: 15, 60, 240, 1440.
var intervalMinutes = map[string]int{
	"15":   15,
	"60":   60,
	"240":  240,
	"1440": 1440,
}

// Intervals returns the canonical interval list in ascending order.
func Intervals() []string {
	return []string{"15", "60", "240", "1440"}
}

// CanonicalInterval resolves an interval string to its canonical form.
// Returns "" when the interval is not one of the canonical values.
func CanonicalInterval(s string) string {
	t := strings.TrimSpace(strings.Trim(s, `"`))
	t = strings.TrimSuffix(strings.ToLower(t), "m")
	if _, ok := intervalMinutes[t]; ok {
		return t
	}
	return ""
}

// Minutes returns the bar width in minutes for a canonical interval.
// Unknown intervals default to 15, matching the base timeframe.
func Minutes(interval string) int {
	if m, ok := intervalMinutes[interval]; ok {
		return m
	}
	return 15
}

// FrameMS returns the bar width in milliseconds for a canonical
// interval: minutes x 60_000.
func FrameMS(interval string) int64 {
	return int64(Minutes(interval)) * 60_000
}
