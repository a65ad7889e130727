package marketdata

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-trader/internal/models"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1M ")
	require.NoError(t, err)
	assert.Equal(t, "1m", tf.Key)
	assert.Equal(t, time.Minute, tf.Duration)
	assert.InDelta(t, 525600, tf.PeriodsPerYear(), 1e-9)

	_, err = ParseTimeframe("7m")
	assert.Error(t, err)
}

func TestPeriodsPerYear(t *testing.T) {
	assert.InDelta(t, 8760, PeriodsPerYear("1h"), 1e-9)
	assert.InDelta(t, 365, PeriodsPerYear("1d"), 1e-9)
	assert.InDelta(t, 365, PeriodsPerYear("bogus"), 1e-9)
}

func TestSupportedTimeframes_OrderedByDuration(t *testing.T) {
	keys := SupportedTimeframes()
	require.NotEmpty(t, keys)
	assert.Equal(t, "1m", keys[0])
	assert.Equal(t, "1w", keys[len(keys)-1])
}

func TestClosedOnly(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []models.Bar{
		{OpenTime: base, Close: 1, IsClosed: true},
		{OpenTime: base.Add(time.Minute), Close: 2, IsClosed: false},
		{OpenTime: base.Add(2 * time.Minute), Close: 3, IsClosed: true},
	}
	got := ClosedOnly(bars)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Close)
	assert.Equal(t, 3.0, got[1].Close)
}

func TestReadCSV_RejectsUnorderedRows(t *testing.T) {
	data := "open_time,open,high,low,close,volume,close_time,is_closed\n" +
		"120000,1,1,1,1,1,179999,true\n" +
		"60000,1,1,1,1,1,119999,true\n"
	_, err := ReadCSV(strings.NewReader(data), "BTCUSDT", "1m")
	assert.Error(t, err)
}

func TestReadCSV_DatetimeColumnsAndClosedFlag(t *testing.T) {
	data := "open_time,open,high,low,close,volume,close_time,quote_volume,trades\n" +
		"2024-01-01 00:00:00,1,2,0.5,1.5,10,2024-01-01 00:14:59.999,15,3\n" +
		"2024-01-01 00:15:00,1.5,2,1,1.8,11,2024-01-01 00:29:59.999,20,4\n"
	bars, err := ReadCSV(strings.NewReader(data), "BTCUSDT", "15m")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC), bars[1].OpenTime)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 14, 59, 999000000, time.UTC), bars[0].CloseTime)
	assert.True(t, bars[0].IsClosed)
	assert.Len(t, ClosedOnly(bars), 2)

	data = "open_time,open,high,low,close,volume,close_time,is_closed\n" +
		"60000,1,1,1,1,1,119999,false\n" +
		"120000,1,1,1,1,1,179999,\n"
	bars, err = ReadCSV(strings.NewReader(data), "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.False(t, bars[0].IsClosed)
	assert.True(t, bars[1].IsClosed)

	_, err = ReadCSV(strings.NewReader("open_time,close_time\nyesterday,0\n"), "BTCUSDT", "1m")
	assert.Error(t, err)
}

// Property: writing bars to CSV and reading them back preserves every field.
func TestProperty_CSVRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("CSV round-trip preserves bars", prop.ForAll(
		func(closes []float64) bool {
			if len(closes) == 0 {
				return true
			}
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			bars := make([]models.Bar, len(closes))
			for i, c := range closes {
				open := base.Add(time.Duration(i) * time.Minute)
				bars[i] = models.Bar{
					Symbol: "BTCUSDT", Interval: "1m",
					OpenTime: open, Open: c, High: c * 1.01, Low: c * 0.99, Close: c,
					Volume: 10, CloseTime: open.Add(time.Minute - time.Millisecond), IsClosed: true,
				}
			}

			var buf bytes.Buffer
			if err := WriteCSV(&buf, bars); err != nil {
				return false
			}
			got, err := ReadCSV(&buf, "BTCUSDT", "1m")
			if err != nil || len(got) != len(bars) {
				return false
			}
			for i := range bars {
				if !got[i].OpenTime.Equal(bars[i].OpenTime) || !got[i].CloseTime.Equal(bars[i].CloseTime) {
					return false
				}
				if math.Abs(got[i].Close-bars[i].Close) > 1e-9 || got[i].IsClosed != bars[i].IsClosed {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(1, 100000)),
	))

	properties.TestingRun(t)
}
