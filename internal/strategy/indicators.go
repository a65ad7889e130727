package strategy

// sma is the mean of the last period values ending at index.
func sma(values []float64, index, period int) float64 {
	if period <= 0 || index < period-1 {
		return 0
	}
	var sum float64
	for i := index - period + 1; i <= index; i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// rsi over the period changes ending at index.
func rsi(values []float64, index, period int) float64 {
	if index < period {
		return 50
	}

	var gains, losses float64
	for i := index - period + 1; i <= index; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ema is an exponential moving average updated one value at a time.
type ema struct {
	period int
	k      float64
	value  float64
	seed   []float64
}

func newEMA(period int) *ema {
	return &ema{period: period, k: 2.0 / float64(period+1)}
}

// update folds v in and reports whether the average is warmed up. The first
// period values seed it with their simple mean.
func (e *ema) update(v float64) bool {
	if len(e.seed) < e.period {
		e.seed = append(e.seed, v)
		if len(e.seed) < e.period {
			return false
		}
		e.value = sma(e.seed, e.period-1, e.period)
		return true
	}
	e.value = (v-e.value)*e.k + e.value
	return true
}
