package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"setup-maturity/internal/market"
)

const klinesPath = "/api/v3/klines"

// HTTPOptions parameterise the kline client.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// SymbolMap translates instrument names to exchange symbols.
	SymbolMap map[string]string
}

// HTTPSource fetches candles from a Binance-compatible klines endpoint.
type HTTPSource struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewHTTPSource constructs a kline client.
func NewHTTPSource(opts HTTPOptions, logger zerolog.Logger) *HTTPSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	return &HTTPSource{
		opts:    opts,
		logger:  logger.With().Str("component", "kline_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

func (h *HTTPSource) symbol(instrument string) string {
	if s, ok := h.opts.SymbolMap[strings.ToUpper(instrument)]; ok {
		return s
	}
	return strings.ToUpper(strings.TrimSpace(instrument))
}

// Fetch requests candles opening after the cursor and keeps only closed ones.
func (h *HTTPSource) Fetch(ctx context.Context, instrument string, tf market.Timeframe, after time.Time, limit int) ([]market.Bar, error) {
	params := url.Values{}
	params.Set("symbol", h.symbol(instrument))
	params.Set("interval", string(tf))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(min(limit, 1000)))
	}
	if !after.IsZero() {
		params.Set("startTime", strconv.FormatInt(after.Add(time.Millisecond).UnixMilli(), 10))
	}

	endpoint := h.baseURL + klinesPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "setupscore/1.0")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read klines: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	bars, err := decodeKlines(payload, tf)
	if err != nil {
		return nil, err
	}
	bars = closedOnly(bars, tf, h.now().UTC())
	h.logger.Debug().Str("instrument", instrument).Str("tf", string(tf)).Int("bars", len(bars)).Msg("klines fetched")
	return bars, nil
}

// decodeKlines reads [openTimeMs, open, high, low, close, volume, ...] rows.
func decodeKlines(payload []byte, tf market.Timeframe) ([]market.Bar, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}
	bars := make([]market.Bar, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d: %d fields, want at least 6", i, len(row))
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		vals := make([]float64, 5)
		for j := range vals {
			d, err := decimalField(row[j+1])
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			vals[j] = d.InexactFloat64()
		}
		bars = append(bars, market.Bar{
			Time:      time.UnixMilli(openMs).UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			Timeframe: tf,
		})
	}
	return bars, nil
}

// decimalField accepts both quoted and bare numbers.
func decimalField(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}
	return decimal.NewFromString(strings.TrimSpace(string(raw)))
}

type errorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("kline api error (%d): %s", status, apiErr.Msg)
	}
	if len(payload) > 0 {
		return fmt.Errorf("kline api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("kline api error (%d)", status)
}

var _ Source = (*HTTPSource)(nil)
