package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"mint-trader/internal/config"
)

func zapNop() *zap.Logger { return zap.NewNop() }

type mockMarkets struct {
	mu          sync.Mutex
	markets     map[string]ccxt.MarketInterface
	tickers     map[string]ccxt.Ticker
	loadCalls   int
	tickerCalls int
}

func (m *mockMarkets) LoadMarkets(params ...interface{}) (map[string]ccxt.MarketInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCalls++
	return m.markets, nil
}

func (m *mockMarkets) FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickerCalls++
	ticker, ok := m.tickers[symbol]
	if !ok {
		return ccxt.Ticker{}, errors.New("symbol not found")
	}
	return ticker, nil
}

func newTestMarketService(client marketClient) *MarketService {
	s := newMarketService(config.ExchangeConfig{Retry: config.RetryConfig{MaxAttempts: 1}}, client, nil)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestPrecisionTable(t *testing.T) {
	client := &mockMarkets{markets: map[string]ccxt.MarketInterface{
		"ABC/BTC": {Precision: ccxt.Precision{Price: ptr(0.0001), Amount: ptr(0.01)}},
		"XYZ/BTC": {Precision: ccxt.Precision{Price: ptr(1e-8), Amount: ptr(1.0)}},
	}}
	s := newTestMarketService(client)

	table, err := s.PrecisionTable(context.Background())
	if err != nil {
		t.Fatalf("PrecisionTable returned error: %v", err)
	}
	if got := table["ABC/BTC"]; got.Price != 4 || got.Quantity != 2 {
		t.Errorf("unexpected ABC precision: %+v", got)
	}
	if got := table["XYZ/BTC"]; got.Price != 8 || got.Quantity != 0 {
		t.Errorf("unexpected XYZ precision: %+v", got)
	}

	if _, err := s.Precision(context.Background(), "ABC/BTC"); err != nil {
		t.Errorf("Precision returned error: %v", err)
	}
	if _, err := s.Precision(context.Background(), "NOPE/BTC"); !errors.Is(err, ErrQuery) {
		t.Errorf("expected ErrQuery for unknown pair, got %v", err)
	}
	if client.loadCalls != 1 {
		t.Errorf("expected cached table to be reused, got %d loads", client.loadCalls)
	}
}

func TestPrecisionTable_EmptyIsError(t *testing.T) {
	s := newTestMarketService(&mockMarkets{})
	if _, err := s.PrecisionTable(context.Background()); !errors.Is(err, ErrQuery) {
		t.Fatalf("expected ErrQuery, got %v", err)
	}
}

func TestReferencePrice(t *testing.T) {
	client := &mockMarkets{tickers: map[string]ccxt.Ticker{
		"ABC/BTC": {Last: ptr(10.0)},
		"XYZ/BTC": {Close: ptr(2.0)},
		"NIL/BTC": {},
	}}
	s := newTestMarketService(client)

	if p, err := s.ReferencePrice(context.Background(), "ABC/BTC"); err != nil || p != 10 {
		t.Errorf("ReferencePrice(ABC) = %v, %v", p, err)
	}
	if p, err := s.ReferencePrice(context.Background(), "XYZ/BTC"); err != nil || p != 2 {
		t.Errorf("ReferencePrice(XYZ) = %v, %v", p, err)
	}
	if _, err := s.ReferencePrice(context.Background(), "NIL/BTC"); !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse for empty ticker, got %v", err)
	}
	if _, err := s.ReferencePrice(context.Background(), "NOPE/BTC"); !errors.Is(err, ErrQuery) {
		t.Errorf("expected ErrQuery for unknown pair, got %v", err)
	}
}

// B 无行情、E 无精度，两者都被剔除。
func TestResolvePrices_DropsFailuresAndKeepsOrder(t *testing.T) {
	listed := ccxt.MarketInterface{Precision: ccxt.Precision{Price: ptr(1e-8), Amount: ptr(0.01)}}
	client := &mockMarkets{
		markets: map[string]ccxt.MarketInterface{
			"A/BTC": listed,
			"B/BTC": listed,
			"C/BTC": listed,
			"D/BTC": listed,
		},
		tickers: map[string]ccxt.Ticker{
			"A/BTC": {Last: ptr(1.0)},
			"C/BTC": {Last: ptr(3.0)},
			"D/BTC": {Last: ptr(4.0)},
			"E/BTC": {Last: ptr(5.0)},
		},
	}
	s := newTestMarketService(client)

	got := ResolvePrices(context.Background(), s, NormalizeSymbols([]string{"a", "b", "c", "d", "e"}, "BTC"), nil)
	if len(got) != 3 {
		t.Fatalf("expected 3 resolved symbols, got %d", len(got))
	}
	want := []struct {
		pair  string
		price float64
	}{{"A/BTC", 1}, {"C/BTC", 3}, {"D/BTC", 4}}
	for i, w := range want {
		p, ok := got[i].ReferencePrice()
		if got[i].Pair != w.pair || !ok || p != w.price {
			t.Errorf("resolved[%d] = %+v (price %v), want %s@%v", i, got[i], p, w.pair, w.price)
		}
	}
}
