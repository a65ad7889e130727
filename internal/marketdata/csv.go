package marketdata

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"binance-trader/internal/models"
)

// csvBar is the on-disk row layout. It accepts the Binance kline columns
// (open_time ... close_time, then quote_volume, trades and the taker
// columns, which are ignored). Times are unix milliseconds or UTC
// timestamps like "2024-01-01 00:14:59.999". A missing or empty is_closed
// column means the row is a finished historical kline.
type csvBar struct {
	OpenTime  string  `csv:"open_time"`
	Open      float64 `csv:"open"`
	High      float64 `csv:"high"`
	Low       float64 `csv:"low"`
	Close     float64 `csv:"close"`
	Volume    float64 `csv:"volume"`
	CloseTime string  `csv:"close_time"`
	IsClosed  string  `csv:"is_closed"`
}

const csvTimeLayout = "2006-01-02 15:04:05.999999999"

func parseCSVTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(csvTimeLayout, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", v)
	}
	return t.UTC(), nil
}

func parseClosed(v string) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return true, nil
	}
	return strconv.ParseBool(v)
}

// ReadCSV decodes bars from r and stamps them with symbol and interval.
// Rows must be in chronological order.
func ReadCSV(r io.Reader, symbol, interval string) ([]models.Bar, error) {
	var rows []*csvBar
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("decoding bars: %w", err)
	}

	bars := make([]models.Bar, 0, len(rows))
	for i, row := range rows {
		openTime, err := parseCSVTime(row.OpenTime)
		if err != nil {
			return nil, fmt.Errorf("row %d open_time: %w", i+1, err)
		}
		closeTime, err := parseCSVTime(row.CloseTime)
		if err != nil {
			return nil, fmt.Errorf("row %d close_time: %w", i+1, err)
		}
		closed, err := parseClosed(row.IsClosed)
		if err != nil {
			return nil, fmt.Errorf("row %d is_closed: %w", i+1, err)
		}
		bars = append(bars, models.Bar{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  openTime,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
			CloseTime: closeTime,
			IsClosed:  closed,
		})
	}
	if !SortedByOpenTime(bars) {
		return nil, fmt.Errorf("bars are not in chronological order")
	}
	return bars, nil
}

// ReadCSVFile opens path and decodes it with ReadCSV.
func ReadCSVFile(path, symbol, interval string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f, symbol, interval)
}

// WriteCSV encodes bars to w with a header row.
func WriteCSV(w io.Writer, bars []models.Bar) error {
	rows := make([]*csvBar, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, &csvBar{
			OpenTime:  strconv.FormatInt(b.OpenTime.UnixMilli(), 10),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			CloseTime: strconv.FormatInt(b.CloseTime.UnixMilli(), 10),
			IsClosed:  strconv.FormatBool(b.IsClosed),
		})
	}
	return gocsv.Marshal(&rows, w)
}

// WriteCSVFile creates path, and its directory, and writes bars to it.
func WriteCSVFile(path string, bars []models.Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, bars); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
