package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"setup-maturity/internal/market"
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func TestReadCSV(t *testing.T) {
	data := "time,open,high,low,close,volume,spread\n" +
		"2024-05-06T08:00:00Z,1.1,1.2,1.0,1.15,100,0.0001\n" +
		"1714982460,1.15,1.16,1.14,1.15\n" +
		"1714982520000,1.15,1.17,1.15,1.16,50,\n"
	bars, err := ReadCSV(strings.NewReader(data), market.M1)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("期望 3 根 K 线, 实际 %d", len(bars))
	}
	if !bars[0].Time.Equal(t0) || bars[0].Spread != 0.0001 || bars[0].Timeframe != market.M1 {
		t.Fatalf("unexpected first bar %+v", bars[0])
	}
	if !bars[1].Time.Equal(t0.Add(time.Minute)) || bars[1].Volume != 0 {
		t.Fatalf("unix seconds should parse, got %+v", bars[1])
	}
	if !bars[2].Time.Equal(t0.Add(2*time.Minute)) || bars[2].Volume != 50 {
		t.Fatalf("unix millis should parse, got %+v", bars[2])
	}
}

func TestReadCSVRejectsGarbage(t *testing.T) {
	for _, data := range []string{
		"2024-05-06T08:00:00Z,1,2,0\n",
		"yesterday,1,2,0,1\n",
		"2024-05-06T08:00:00Z,1,two,0,1\n",
	} {
		if _, err := ReadCSV(strings.NewReader(data), market.M1); !errors.Is(err, market.ErrMalformedSeries) {
			t.Fatalf("%q should be malformed, got %v", data, err)
		}
	}
}

func TestCSVSourceCursor(t *testing.T) {
	dir := t.TempDir()
	data := "ts,open,high,low,close\n" +
		"2024-05-06T08:00:00Z,1,2,0.5,1.5\n" +
		"2024-05-06T08:01:00Z,1.5,2,1,1.8\n" +
		"2024-05-06T08:02:00Z,1.8,2,1.7,1.9\n"
	if err := os.WriteFile(filepath.Join(dir, "EURUSD.csv"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	src := NewCSVSource(dir)
	got, err := src.Fetch(context.Background(), "eurusd", market.M1, t0, 1)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 1 || !got[0].Time.Equal(t0.Add(time.Minute)) {
		t.Fatalf("cursor should be exclusive, got %+v", got)
	}
	if _, err := src.Fetch(context.Background(), "GBPUSD", market.M1, time.Time{}, 0); err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestHTTPSourceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != klinesPath {
			t.Fatalf("路径应为 %s, 实际 %s", klinesPath, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "1m" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("startTime") != "1714982400001" {
			t.Fatalf("startTime should follow the cursor, got %s", q.Get("startTime"))
		}
		_ = json.NewEncoder(w).Encode([][]any{
			{t0.Add(time.Minute).UnixMilli(), "100.5", "101", "100", "100.8", "12.5", t0.Add(2*time.Minute).UnixMilli() - 1},
			{t0.Add(2 * time.Minute).UnixMilli(), "100.8", "101.2", "100.1", "101", "3", t0.Add(3*time.Minute).UnixMilli() - 1},
		})
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second, SymbolMap: map[string]string{"BTC": "BTCUSDT"}}, zerolog.Nop())
	src.now = func() time.Time { return t0.Add(150 * time.Second) }

	bars, err := src.Fetch(context.Background(), "btc", market.M1, t0, 10)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("the still-open candle must be dropped, got %d bars", len(bars))
	}
	if bars[0].Close != 100.8 || bars[0].Volume != 12.5 || !bars[0].Time.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected bar %+v", bars[0])
	}
}

func TestHTTPSourceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": -1121, "msg": "Invalid symbol."})
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	_, err := src.Fetch(context.Background(), "NOPE", market.M1, time.Time{}, 10)
	if err == nil || !strings.Contains(err.Error(), "Invalid symbol") {
		t.Fatalf("HTTP 400 应返回错误, got %v", err)
	}
}
