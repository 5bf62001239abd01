package repository

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"golang-backtest/config"
	"golang-backtest/internal/dto"
	"golang-backtest/internal/series"
	"golang-backtest/pkg/cache"
	"golang-backtest/pkg/httpclient"
	"golang-backtest/pkg/logger"
)

// minCachedRows guards against a truncated CSV shadowing the live source.
const minCachedRows = 100

type PriceRepository interface {
	GetDaily(ctx context.Context, param dto.GetPriceParam) (*series.Series, error)
}

// priceRepository loads daily OHLCV bars from the Yahoo chart API with a
// local CSV file as offline fallback. A fresh download refreshes the CSV, so
// air-gapped runs keep working from the last good snapshot.
type priceRepository struct {
	httpClient     httpclient.HTTPClient
	cfg            *config.Config
	log            *logger.Logger
	cache          cache.Cache
	requestLimiter *rate.Limiter
}

func NewPriceRepository(cfg *config.Config, memCache cache.Cache, log *logger.Logger) PriceRepository {
	secondsPerRequest := time.Minute / time.Duration(cfg.MarketData.MaxRequestPerMinute)
	requestLimiter := rate.NewLimiter(rate.Every(secondsPerRequest), 1)

	return &priceRepository{
		httpClient:     httpclient.New(log, cfg.MarketData.BaseURL, cfg.MarketData.Timeout, ""),
		cfg:            cfg,
		log:            log,
		cache:          memCache,
		requestLimiter: requestLimiter,
	}
}

func (r *priceRepository) GetDaily(ctx context.Context, param dto.GetPriceParam) (*series.Series, error) {
	key := "prices:" + param.Symbol
	if v, ok := r.cache.Get(key); ok {
		if s, ok := v.(*series.Series); ok {
			return s, nil
		}
	}

	if s, err := r.loadCSV(param.Symbol); err == nil && s.Len() > minCachedRows {
		r.log.InfoContext(ctx, "Loaded price series from CSV cache",
			logger.StringField("symbol", param.Symbol),
			logger.StringField("path", r.cfg.MarketData.CSVPath),
			logger.IntField("bars", s.Len()),
		)
		r.cache.Set(key, s, r.cfg.MarketData.CacheTTL)
		return s, nil
	}

	s, err := r.fetchChart(ctx, param)
	if err != nil {
		r.log.WarnContext(ctx, "Chart API failed, trying CSV fallback",
			logger.StringField("symbol", param.Symbol),
			logger.ErrorField(err),
		)
		s, csvErr := r.loadCSV(param.Symbol)
		if csvErr != nil {
			return nil, fmt.Errorf("chart api failed: %w (csv fallback: %v)", err, csvErr)
		}
		r.cache.Set(key, s, r.cfg.MarketData.CacheTTL)
		return s, nil
	}

	r.writeCSV(ctx, s)
	r.cache.Set(key, s, r.cfg.MarketData.CacheTTL)
	return s, nil
}

func (r *priceRepository) fetchChart(ctx context.Context, param dto.GetPriceParam) (*series.Series, error) {
	if r.requestLimiter.Tokens() < 1 {
		r.log.WarnContext(ctx, "Chart API request throttled",
			logger.IntField("max_request_per_minute", r.cfg.MarketData.MaxRequestPerMinute),
		)
	}
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	end := param.End
	if end.IsZero() {
		end = time.Now()
	}
	queryParams := map[string]string{
		"period1":              fmt.Sprintf("%d", param.Start.Unix()),
		"period2":              fmt.Sprintf("%d", end.Unix()),
		"interval":             "1d",
		"includePrePost":       "false",
		"events":               "div,split",
		"includeAdjustedClose": "true",
	}
	headers := map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-US,en;q=0.9",
		"Referer":         "https://finance.yahoo.com/",
	}

	var chartResp dto.ChartResponse
	resp, err := r.httpClient.Get(ctx, "/"+param.Symbol, queryParams, headers, &chartResp)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chart data: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		r.log.ErrorContext(ctx, "Chart API returned non-OK status",
			logger.IntField("status_code", resp.StatusCode),
			logger.StringField("body", string(resp.Body)))
		return nil, fmt.Errorf("chart api returned status: %d", resp.StatusCode)
	}
	if chartResp.Chart.Error != nil {
		return nil, fmt.Errorf("chart api error: %v", chartResp.Chart.Error)
	}
	if len(chartResp.Chart.Result) == 0 {
		return nil, fmt.Errorf("no data returned for symbol: %s", param.Symbol)
	}

	result := chartResp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no quote data for symbol: %s", param.Symbol)
	}
	quote := result.Indicators.Quote[0]

	var adjClose []float64
	if len(result.Indicators.AdjClose) > 0 {
		adjClose = result.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]series.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) ||
			i >= len(quote.Close) || i >= len(quote.Volume) {
			continue
		}
		if quote.Open[i] == 0 || quote.High[i] == 0 || quote.Low[i] == 0 || quote.Close[i] == 0 {
			continue
		}

		// Scale the whole bar by the split/dividend adjustment so returns
		// match the adjusted close everywhere.
		factor := 1.0
		if i < len(adjClose) && adjClose[i] != 0 {
			factor = adjClose[i] / quote.Close[i]
		}

		t := time.Unix(ts, 0).UTC()
		bars = append(bars, series.Bar{
			Date:   time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
			Open:   quote.Open[i] * factor,
			High:   quote.High[i] * factor,
			Low:    quote.Low[i] * factor,
			Close:  quote.Close[i] * factor,
			Volume: quote.Volume[i],
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no valid OHLCV bars for symbol: %s", param.Symbol)
	}

	s := series.New(param.Symbol, bars).Clean()
	r.log.InfoContext(ctx, "Downloaded price series",
		logger.StringField("symbol", param.Symbol),
		logger.IntField("bars", s.Len()),
	)
	return s, nil
}

func (r *priceRepository) loadCSV(symbol string) (*series.Series, error) {
	path := r.cfg.MarketData.CSVPath
	if path == "" {
		return nil, fmt.Errorf("no csv path configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("csv has no data rows")
	}

	// Header names are matched loosely; the date sits in the first column.
	idx := map[string]int{}
	for i, col := range records[0] {
		cl := strings.ToLower(strings.TrimSpace(col))
		switch {
		case strings.Contains(cl, "open"):
			idx["open"] = i
		case strings.Contains(cl, "high"):
			idx["high"] = i
		case strings.Contains(cl, "low"):
			idx["low"] = i
		case strings.Contains(cl, "close"):
			idx["close"] = i
		case strings.Contains(cl, "vol"):
			idx["volume"] = i
		}
	}
	for _, need := range []string{"open", "high", "low", "close", "volume"} {
		if _, ok := idx[need]; !ok {
			return nil, fmt.Errorf("missing column %s in csv", need)
		}
	}

	bars := make([]series.Bar, 0, len(records)-1)
	for _, rec := range records[1:] {
		date, err := time.Parse("2006-01-02", strings.SplitN(rec[0], " ", 2)[0])
		if err != nil {
			continue
		}
		bar := series.Bar{Date: date}
		if bar.Open, err = strconv.ParseFloat(rec[idx["open"]], 64); err != nil {
			continue
		}
		if bar.High, err = strconv.ParseFloat(rec[idx["high"]], 64); err != nil {
			continue
		}
		if bar.Low, err = strconv.ParseFloat(rec[idx["low"]], 64); err != nil {
			continue
		}
		if bar.Close, err = strconv.ParseFloat(rec[idx["close"]], 64); err != nil {
			continue
		}
		if bar.Volume, err = strconv.ParseFloat(rec[idx["volume"]], 64); err != nil {
			continue
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("csv contained no parseable bars")
	}
	return series.New(symbol, bars).Clean(), nil
}

// writeCSV refreshes the offline snapshot. Failures only cost the fallback,
// so they are logged and swallowed.
func (r *priceRepository) writeCSV(ctx context.Context, s *series.Series) {
	path := r.cfg.MarketData.CSVPath
	if path == "" {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		r.log.WarnContext(ctx, "Failed to write CSV cache", logger.ErrorField(err))
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"Date", "Open", "High", "Low", "Close", "Volume"})
	for _, bar := range s.Bars {
		_ = w.Write([]string{
			bar.Date.Format("2006-01-02"),
			strconv.FormatFloat(bar.Open, 'f', -1, 64),
			strconv.FormatFloat(bar.High, 'f', -1, 64),
			strconv.FormatFloat(bar.Low, 'f', -1, 64),
			strconv.FormatFloat(bar.Close, 'f', -1, 64),
			strconv.FormatFloat(bar.Volume, 'f', -1, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		r.log.WarnContext(ctx, "Failed to flush CSV cache", logger.ErrorField(err))
	}
}
