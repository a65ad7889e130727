// Package marketdata holds bar sources and helpers shared by the backtest and
// live paths.
package marketdata

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe describes a kline interval.
type Timeframe struct {
	Key      string
	Duration time.Duration
}

var supportedTimeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute},
	"3m":  {Key: "3m", Duration: 3 * time.Minute},
	"5m":  {Key: "5m", Duration: 5 * time.Minute},
	"15m": {Key: "15m", Duration: 15 * time.Minute},
	"30m": {Key: "30m", Duration: 30 * time.Minute},
	"1h":  {Key: "1h", Duration: time.Hour},
	"2h":  {Key: "2h", Duration: 2 * time.Hour},
	"4h":  {Key: "4h", Duration: 4 * time.Hour},
	"6h":  {Key: "6h", Duration: 6 * time.Hour},
	"8h":  {Key: "8h", Duration: 8 * time.Hour},
	"12h": {Key: "12h", Duration: 12 * time.Hour},
	"1d":  {Key: "1d", Duration: 24 * time.Hour},
	"3d":  {Key: "3d", Duration: 72 * time.Hour},
	"1w":  {Key: "1w", Duration: 7 * 24 * time.Hour},
}

const year = 365 * 24 * time.Hour

// ParseTimeframe returns the timeframe for a Binance interval string.
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe: %q", input)
	}
	return tf, nil
}

// SupportedTimeframes returns all keys ordered by duration.
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return supportedTimeframes[keys[i]].Duration < supportedTimeframes[keys[j]].Duration
	})
	return keys
}

// PeriodsPerYear is the annualization factor for returns sampled at this
// interval, e.g. 525600 for one-minute bars.
func (tf Timeframe) PeriodsPerYear() float64 {
	if tf.Duration <= 0 {
		return 0
	}
	return float64(year) / float64(tf.Duration)
}

// PeriodsPerYear parses interval and returns its annualization factor.
// Unknown intervals fall back to daily bars.
func PeriodsPerYear(interval string) float64 {
	tf, err := ParseTimeframe(interval)
	if err != nil {
		return 365
	}
	return tf.PeriodsPerYear()
}
