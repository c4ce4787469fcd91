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

	"structure-signals/internal/market"
)

const timeSeriesPath = "/time_series"

var datetimeLayouts = []string{"2006-01-02 15:04:05", "2006-01-02"}

// TwelveDataOptions parameterise the Twelve Data client.
type TwelveDataOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
	StaleBars int
	Now       func() time.Time
}

// TwelveData fetches candles from the Twelve Data time_series endpoint.
type TwelveData struct {
	opts    TwelveDataOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewTwelveData constructs a Twelve Data client.
func NewTwelveData(opts TwelveDataOptions, logger zerolog.Logger) *TwelveData {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twelvedata.com"
	}

	return &TwelveData{
		opts:    opts,
		logger:  logger.With().Str("component", "twelvedata").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Latest returns the newest candle after checking it is fresh.
func (t *TwelveData) Latest(ctx context.Context, instrument string, tf market.Timeframe) (market.Candle, error) {
	candles, err := t.timeSeries(ctx, instrument, tf, 1)
	if err != nil {
		return market.Candle{}, err
	}
	last := candles[len(candles)-1]
	if err := CheckFresh(last, tf, t.opts.StaleBars, t.opts.Now()); err != nil {
		return market.Candle{}, err
	}
	return last, nil
}

// Window returns the last n candles oldest first.
func (t *TwelveData) Window(ctx context.Context, instrument string, tf market.Timeframe, n int) (market.Window, error) {
	if n <= 0 {
		return market.Window{}, fmt.Errorf("window size must be positive")
	}
	candles, err := t.timeSeries(ctx, instrument, tf, n)
	if err != nil {
		return market.Window{}, err
	}
	if err := CheckFresh(candles[len(candles)-1], tf, t.opts.StaleBars, t.opts.Now()); err != nil {
		return market.Window{}, err
	}
	return market.NewWindow(instrument, tf, candles), nil
}

func (t *TwelveData) timeSeries(ctx context.Context, instrument string, tf market.Timeframe, n int) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("symbol", instrument)
	q.Set("interval", tf.String())
	q.Set("outputsize", strconv.Itoa(n))
	q.Set("timezone", "UTC")
	if t.opts.APIKey != "" {
		q.Set("apikey", t.opts.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+timeSeriesPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(t.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "structsig/1.0")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var ts timeSeriesResponse
	if err := json.Unmarshal(payload, &ts); err != nil {
		return nil, fmt.Errorf("%w: decode time series: %v", ErrUnavailable, err)
	}
	if strings.EqualFold(ts.Status, "error") {
		status := ts.Code
		if status == 0 {
			status = http.StatusBadGateway
		}
		return nil, &APIError{Status: status, Message: ts.Message}
	}
	if len(ts.Values) == 0 {
		return nil, fmt.Errorf("%w: empty time series for %s %s", ErrUnavailable, instrument, tf)
	}

	// values arrive newest first
	candles := make([]market.Candle, len(ts.Values))
	for i, v := range ts.Values {
		at, err := parseDatetime(v.Datetime)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		candles[len(ts.Values)-1-i] = market.Candle{
			Time:  at,
			Open:  float64(v.Open),
			High:  float64(v.High),
			Low:   float64(v.Low),
			Close: float64(v.Close),
		}
	}

	t.logger.Debug().
		Str("instrument", instrument).
		Str("timeframe", tf.String()).
		Int("candles", len(candles)).
		Msg("fetched time series")
	return candles, nil
}

func parseDatetime(s string) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if at, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return at, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse datetime %q", s)
}

// price decodes the string encoded numbers Twelve Data returns.
type price float64

func (p *price) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse price %q: %w", s, err)
	}
	*p = price(v)
	return nil
}

type timeSeriesResponse struct {
	Meta struct {
		Symbol   string `json:"symbol"`
		Interval string `json:"interval"`
	} `json:"meta"`
	Values []struct {
		Datetime string `json:"datetime"`
		Open     price  `json:"open"`
		High     price  `json:"high"`
		Low      price  `json:"low"`
		Close    price  `json:"close"`
	} `json:"values"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return &APIError{Status: status, Message: apiErr.Message}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(payload))}
}

var _ Feed = (*TwelveData)(nil)
