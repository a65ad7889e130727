package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"

	apperrors "binance-trader/internal/errors"
	"binance-trader/internal/logging"
	"binance-trader/internal/models"
	"binance-trader/pkg/utils"
)

const maxKlinesPerRequest = 1000

var testnetOnce sync.Once

// BinanceConfig configures the spot client.
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
	// AllowOrders must be set before SubmitOrder reaches the exchange.
	AllowOrders bool
	BaseURL     string // overrides the REST endpoint, mainly for tests
}

type klineServeFunc func(symbol, interval string, handler binance.WsKlineHandler, errHandler binance.ErrHandler) (chan struct{}, chan struct{}, error)

// BinanceClient implements MarketData, BarStreamer and OrderPlacer on the
// Binance spot API.
type BinanceClient struct {
	client      *binance.Client
	allowOrders bool
	retry       utils.RetryConfig
	serve       klineServeFunc
	logger      zerolog.Logger
}

// NewBinanceClient creates a spot client.
func NewBinanceClient(cfg BinanceConfig, logger zerolog.Logger) *BinanceClient {
	if cfg.Testnet {
		testnetOnce.Do(func() { binance.UseTestnet = true })
	}
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	return &BinanceClient{
		client:      client,
		allowOrders: cfg.AllowOrders,
		retry:       utils.DefaultRetryConfig(),
		serve:       binance.WsKlineServe,
		logger:      logger,
	}
}

// GetPrice returns the latest traded price of symbol.
func (b *BinanceClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	start := time.Now()
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	logging.LogAPICall(b.logger, "GET", "/api/v3/ticker/price", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperrors.ErrPriceUnavailable, err)
	}
	for _, p := range prices {
		if p != nil && strings.EqualFold(p.Symbol, symbol) {
			price := parseFloat(p.Price)
			if price <= 0 {
				break
			}
			return price, nil
		}
	}
	return 0, fmt.Errorf("%w: no price for %s", apperrors.ErrPriceUnavailable, symbol)
}

// GetHistorical pages through klines between req.From and req.To. The bar
// still forming at request time is returned with IsClosed false.
func (b *BinanceClient) GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Bar, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	limit := req.Limit
	if limit <= 0 || limit > maxKlinesPerRequest {
		limit = maxKlinesPerRequest
	}
	to := req.To
	if to.IsZero() {
		to = time.Now()
	}

	var out []models.Bar
	from := req.From
	now := time.Now().UnixMilli()
	for {
		svc := b.client.NewKlinesService().Symbol(symbol).Interval(req.Interval).Limit(limit).EndTime(to.UnixMilli())
		if !from.IsZero() {
			svc = svc.StartTime(from.UnixMilli())
		}

		start := time.Now()
		klines, err := utils.RetryWithResult(ctx, b.retry, func() ([]*binance.Kline, error) {
			return svc.Do(ctx)
		})
		logging.LogAPICall(b.logger, "GET", "/api/v3/klines", time.Since(start), err)
		if err != nil {
			return nil, apperrors.NewDataError("klines", symbol, "fetching klines failed", err)
		}

		for _, k := range klines {
			if bar, ok := convertKline(symbol, req.Interval, k, now); ok {
				out = append(out, bar)
			}
		}

		if len(klines) < limit || from.IsZero() {
			break
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.OpenTime + 1)
		if !from.Before(to) {
			break
		}
	}

	return out, nil
}

// SubmitOrder places a spot market order. Quantities are sent with four
// decimals.
func (b *BinanceClient) SubmitOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64) (string, error) {
	if !b.allowOrders {
		return "", apperrors.ErrRealTradingLocked
	}

	sideType := binance.SideTypeBuy
	if side == models.OrderSideSell {
		sideType = binance.SideTypeSell
	}

	start := time.Now()
	resp, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(sideType).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(quantity, 'f', 4, 64)).
		Do(ctx)
	logging.LogAPICall(b.logger, "POST", "/api/v3/order", time.Since(start), err)
	if err != nil {
		return "", apperrors.NewOrderError("", symbol, string(side), "create order failed", err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// StreamBars subscribes to the kline stream and reconnects with backoff
// until ctx is done. Sends block, so a slow consumer delays the stream
// instead of losing bars.
func (b *BinanceClient) StreamBars(ctx context.Context, symbol, interval string) (<-chan models.Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol and interval are required")
	}

	out := make(chan models.Bar, 256)
	go func() {
		defer close(out)
		b.runKlineLoop(ctx, symbol, interval, out)
	}()
	return out, nil
}

func (b *BinanceClient) runKlineLoop(ctx context.Context, symbol, interval string, out chan<- models.Bar) {
	logger := logging.WithSymbol(b.logger, symbol)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		handler := func(ev *binance.WsKlineEvent) {
			bar, ok := convertKlineEvent(ev)
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
			case out <- bar:
			}
		}
		errHandler := func(err error) {
			if err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Kline stream error")
			}
		}

		doneC, stopC, err := b.serve(strings.ToLower(symbol), interval, handler, errHandler)
		if err != nil {
			logger.Error().Err(err).Int("attempt", attempt).Msg("Kline stream connect failed")
		} else {
			attempt = 0
			logger.Info().Str("interval", interval).Msg("Kline stream connected")
			select {
			case <-ctx.Done():
				close(stopC)
				<-doneC
				return
			case <-doneC:
			}
			logger.Warn().Msg("Kline stream disconnected")
		}

		delay := utils.CalculateBackoff(attempt, time.Second, 30*time.Second, 2)
		attempt++
		if !utils.SleepContext(ctx, delay) {
			return
		}
	}
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

// convertKline maps a REST kline. A kline whose close time is still in the
// future (relative to nowMillis) is not closed.
func convertKline(symbol, interval string, k *binance.Kline, nowMillis int64) (models.Bar, bool) {
	if k == nil {
		return models.Bar{}, false
	}
	bar := models.Bar{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      parseFloat(k.Open),
		High:      parseFloat(k.High),
		Low:       parseFloat(k.Low),
		Close:     parseFloat(k.Close),
		Volume:    parseFloat(k.Volume),
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		IsClosed:  k.CloseTime < nowMillis,
	}
	if bar.Close <= 0 {
		return models.Bar{}, false
	}
	return bar, true
}

func convertKlineEvent(ev *binance.WsKlineEvent) (models.Bar, bool) {
	if ev == nil {
		return models.Bar{}, false
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	interval := strings.ToLower(strings.TrimSpace(ev.Kline.Interval))
	if symbol == "" || interval == "" {
		return models.Bar{}, false
	}
	bar := models.Bar{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.UnixMilli(ev.Kline.StartTime).UTC(),
		Open:      parseFloat(ev.Kline.Open),
		High:      parseFloat(ev.Kline.High),
		Low:       parseFloat(ev.Kline.Low),
		Close:     parseFloat(ev.Kline.Close),
		Volume:    parseFloat(ev.Kline.Volume),
		CloseTime: time.UnixMilli(ev.Kline.EndTime).UTC(),
		IsClosed:  ev.Kline.IsFinal,
	}
	if bar.Close <= 0 {
		return models.Bar{}, false
	}
	return bar, true
}
