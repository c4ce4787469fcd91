package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"structure-signals/internal/market"
)

var now = time.Date(2024, 3, 4, 9, 12, 0, 0, time.UTC)

func timeSeriesHandler(t *testing.T, values []map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/time_series" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("timezone") != "UTC" || r.URL.Query().Get("apikey") != "k" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"meta":   map[string]string{"symbol": r.URL.Query().Get("symbol"), "interval": r.URL.Query().Get("interval")},
			"values": values,
			"status": "ok",
		})
	}
}

func newClient(url string) *TwelveData {
	return NewTwelveData(TwelveDataOptions{
		BaseURL:   url,
		APIKey:    "k",
		Timeout:   time.Second,
		StaleBars: 3,
		Now:       func() time.Time { return now },
	}, zerolog.Nop())
}

func TestTwelveDataWindowOrdersOldestFirst(t *testing.T) {
	srv := httptest.NewServer(timeSeriesHandler(t, []map[string]string{
		{"datetime": "2024-03-04 09:05:00", "open": "1.1002", "high": "1.1010", "low": "1.1000", "close": "1.1008"},
		{"datetime": "2024-03-04 09:00:00", "open": "1.0995", "high": "1.1004", "low": "1.0990", "close": "1.1002"},
	}))
	defer srv.Close()

	w, err := newClient(srv.URL).Window(context.Background(), "EUR/USD", market.M5, 2)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if w.Len() != 2 || w.Instrument() != "EUR/USD" || w.Timeframe() != market.M5 {
		t.Fatalf("unexpected window %d %s %s", w.Len(), w.Instrument(), w.Timeframe())
	}
	if !w.At(0).Time.Before(w.At(1).Time) {
		t.Fatal("candles must be ordered oldest first")
	}
	if w.At(1).Close != 1.1008 || w.At(0).Low != 1.0990 {
		t.Fatalf("prices not parsed: %+v %+v", w.At(0), w.At(1))
	}
}

func TestTwelveDataLatestStale(t *testing.T) {
	srv := httptest.NewServer(timeSeriesHandler(t, []map[string]string{
		{"datetime": "2024-03-04 08:00:00", "open": "1.1", "high": "1.1", "low": "1.1", "close": "1.1"},
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Latest(context.Background(), "EUR/USD", market.M5)
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestTwelveDataStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "code": 400, "message": "symbol not found"})
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Latest(context.Background(), "XXX/YYY", market.M5)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Permanent() {
		t.Fatalf("expected permanent api error, got %v", err)
	}
}

func TestTwelveDataHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Window(context.Background(), "EUR/USD", market.M5, 10)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("HTTP 503 应返回 ErrUnavailable, got %v", err)
	}
	if !retryable(err) {
		t.Fatal("5xx should be retryable")
	}
}

func TestCheckFresh(t *testing.T) {
	c := market.Candle{Time: now.Add(-20 * time.Minute)}
	if err := CheckFresh(c, market.M5, 3, now); err != nil {
		t.Fatalf("bar closed 15m ago should be fresh: %v", err)
	}
	c.Time = now.Add(-21 * time.Minute)
	if err := CheckFresh(c, market.M5, 3, now); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if err := CheckFresh(c, market.M5, 0, now); err != nil {
		t.Fatalf("disabled check returned %v", err)
	}
}

type flakyFeed struct {
	mu    sync.Mutex
	calls int
	fails int
	err   error
}

func (f *flakyFeed) Latest(context.Context, string, market.Timeframe) (market.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return market.Candle{}, f.err
	}
	return market.Candle{Time: now, Open: 1, High: 1, Low: 1, Close: 1}, nil
}

func (f *flakyFeed) Window(ctx context.Context, instrument string, tf market.Timeframe, n int) (market.Window, error) {
	c, err := f.Latest(ctx, instrument, tf)
	if err != nil {
		return market.Window{}, err
	}
	return market.NewWindow(instrument, tf, []market.Candle{c}), nil
}

func TestRetryingRecoversTransientFailures(t *testing.T) {
	inner := &flakyFeed{fails: 2, err: ErrUnavailable}
	r := NewRetrying(inner, RetryOptions{MaxRetries: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}, zerolog.Nop())

	if _, err := r.Latest(context.Background(), "EUR/USD", market.M5); err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryingGivesUp(t *testing.T) {
	inner := &flakyFeed{fails: 10, err: ErrUnavailable}
	r := NewRetrying(inner, RetryOptions{MaxRetries: 2, Initial: time.Millisecond, Max: time.Millisecond}, zerolog.Nop())

	if _, err := r.Window(context.Background(), "EUR/USD", market.M5, 5); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d", inner.calls)
	}
}

func TestRetryingStopsOnStale(t *testing.T) {
	inner := &flakyFeed{fails: 10, err: ErrStale}
	r := NewRetrying(inner, RetryOptions{MaxRetries: 5, Initial: time.Millisecond}, zerolog.Nop())

	if _, err := r.Latest(context.Background(), "EUR/USD", market.M5); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("stale data must not be retried, got %d calls", inner.calls)
	}
}

type memoryRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttl  time.Duration
}

func (m *memoryRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestCachedServesRepeatedReads(t *testing.T) {
	inner := &flakyFeed{}
	cache := &memoryRedis{data: map[string]string{}}
	c := NewCached(inner, cache, 15*time.Second, zerolog.Nop())

	for i := 0; i < 3; i++ {
		got, err := c.Latest(context.Background(), "EUR/USD", market.M5)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if !got.Time.Equal(now) {
			t.Fatalf("unexpected candle %+v", got)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", inner.calls)
	}
	if cache.ttl != 15*time.Second {
		t.Fatalf("ttl = %v", cache.ttl)
	}

	w, err := c.Window(context.Background(), "EUR/USD", market.M5, 1)
	if err != nil || w.Len() != 1 {
		t.Fatalf("Window: %v len=%d", err, w.Len())
	}
	if _, err := c.Window(context.Background(), "EUR/USD", market.M5, 1); err != nil {
		t.Fatalf("cached Window: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected window to be fetched once, got %d calls", inner.calls)
	}
}

func TestCachedDoesNotStoreErrors(t *testing.T) {
	inner := &flakyFeed{fails: 1, err: ErrUnavailable}
	cache := &memoryRedis{data: map[string]string{}}
	c := NewCached(inner, cache, time.Second, zerolog.Nop())

	if _, err := c.Latest(context.Background(), "EUR/USD", market.M5); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(cache.data) != 0 {
		t.Fatalf("error cached: %v", cache.data)
	}
}
