package marketdata

import "binance-trader/internal/models"

// ClosedOnly returns the bars whose interval has finished. Order is kept.
func ClosedOnly(bars []models.Bar) []models.Bar {
	out := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		if b.IsClosed {
			out = append(out, b)
		}
	}
	return out
}

// SortedByOpenTime reports whether bars are strictly increasing in open time.
func SortedByOpenTime(bars []models.Bar) bool {
	for i := 1; i < len(bars); i++ {
		if !bars[i].OpenTime.After(bars[i-1].OpenTime) {
			return false
		}
	}
	return true
}
