package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"mint-trader/internal/config"
)

type mockVenue struct {
	balances ccxt.Balances
	order    ccxt.Order
	err      error
	failures int

	calls   []string
	amounts []float64
	prices  []float64
}

func (m *mockVenue) fail() error {
	if m.failures > 0 {
		m.failures--
		return m.err
	}
	if m.failures < 0 {
		return m.err
	}
	return nil
}

func (m *mockVenue) FetchBalance(params ...interface{}) (ccxt.Balances, error) {
	m.calls = append(m.calls, "FetchBalance")
	if err := m.fail(); err != nil {
		return ccxt.Balances{}, err
	}
	return m.balances, nil
}

func (m *mockVenue) CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error) {
	m.calls = append(m.calls, "CreateMarketOrder:"+symbol+":"+side)
	m.amounts = append(m.amounts, amount)
	if err := m.fail(); err != nil {
		return ccxt.Order{}, err
	}
	return m.order, nil
}

func (m *mockVenue) CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error) {
	m.calls = append(m.calls, "CreateLimitOrder:"+symbol+":"+side)
	m.amounts = append(m.amounts, amount)
	m.prices = append(m.prices, price)
	if err := m.fail(); err != nil {
		return ccxt.Order{}, err
	}
	return m.order, nil
}

func (m *mockVenue) FetchOrder(id string, options ...ccxt.FetchOrderOptions) (ccxt.Order, error) {
	m.calls = append(m.calls, "FetchOrder:"+id)
	if err := m.fail(); err != nil {
		return ccxt.Order{}, err
	}
	return m.order, nil
}

func (m *mockVenue) CancelAllOrders(options ...ccxt.CancelAllOrdersOptions) ([]ccxt.Order, error) {
	m.calls = append(m.calls, "CancelAllOrders")
	if err := m.fail(); err != nil {
		return nil, err
	}
	return nil, nil
}

func ptr[T any](v T) *T { return &v }

func newTestClient(venue *mockVenue) *Client {
	cfg := config.ExchangeConfig{
		Retry: config.RetryConfig{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
	c := newClient(cfg, venue, map[string]Precision{"ABC/BTC": {Price: 4, Quantity: 2}}, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func networkError() error {
	return &ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "connection reset"}
}

func TestClientBalance(t *testing.T) {
	venue := &mockVenue{balances: ccxt.Balances{
		Free:  map[string]*float64{"USDT": ptr(12.5)},
		Total: map[string]*float64{"USDT": ptr(20.0), "ABC": ptr(3.0)},
	}}
	c := newTestClient(venue)

	got, err := c.Balance(context.Background(), "usdt")
	if err != nil || got != 12.5 {
		t.Fatalf("Balance(usdt) = %v, %v; want 12.5", got, err)
	}
	if got, _ := c.Balance(context.Background(), "ABC"); got != 3 {
		t.Errorf("expected total fallback 3, got %v", got)
	}
	if got, _ := c.Balance(context.Background(), "XYZ"); got != 0 {
		t.Errorf("expected zero for absent currency, got %v", got)
	}
}

func TestClientBalance_RetriesTransientErrors(t *testing.T) {
	venue := &mockVenue{
		balances: ccxt.Balances{Free: map[string]*float64{"USDT": ptr(1.0)}},
		err:      networkError(),
		failures: 2,
	}
	c := newTestClient(venue)

	if _, err := c.Balance(context.Background(), "USDT"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(venue.calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(venue.calls))
	}
}

func TestClientBalance_GivesUpAfterMaxAttempts(t *testing.T) {
	venue := &mockVenue{err: networkError(), failures: -1}
	c := newTestClient(venue)

	_, err := c.Balance(context.Background(), "USDT")
	if !errors.Is(err, ErrQuery) {
		t.Fatalf("expected ErrQuery, got %v", err)
	}
	if len(venue.calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(venue.calls))
	}
}

func TestClientMarketOrder(t *testing.T) {
	venue := &mockVenue{order: ccxt.Order{Id: ptr("ord-1")}}
	c := newTestClient(venue)

	handle, err := c.MarketOrder(context.Background(), "ABC/BTC", "5.5", SideBuy)
	if err != nil {
		t.Fatalf("MarketOrder returned error: %v", err)
	}
	if handle.ID != "ord-1" || handle.Kind != KindMarket || handle.Side != SideBuy || handle.Symbol != "ABC/BTC" {
		t.Errorf("unexpected handle: %+v", handle)
	}
	if handle.ClientOrderID == "" {
		t.Errorf("expected client order id to be generated")
	}
	if venue.calls[0] != "CreateMarketOrder:ABC/BTC:buy" {
		t.Errorf("unexpected call: %s", venue.calls[0])
	}
	if venue.amounts[0] != 0 {
		t.Errorf("buy orders are sized by cost, expected amount 0 got %v", venue.amounts[0])
	}
}

func TestClientMarketOrder_Errors(t *testing.T) {
	c := newTestClient(&mockVenue{order: ccxt.Order{Id: ptr("ord-1")}})
	if _, err := c.MarketOrder(context.Background(), "ABC/BTC", "abc", SideBuy); !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse for non-numeric funds, got %v", err)
	}
	if _, err := c.MarketOrder(context.Background(), "ABC/BTC", "0", SideBuy); !errors.Is(err, ErrOrder) {
		t.Errorf("expected ErrOrder for zero funds, got %v", err)
	}

	c = newTestClient(&mockVenue{})
	if _, err := c.MarketOrder(context.Background(), "ABC/BTC", "1", SideBuy); !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse for missing order id, got %v", err)
	}

	venue := &mockVenue{err: errors.New("insufficient funds"), failures: -1}
	c = newTestClient(venue)
	if _, err := c.MarketOrder(context.Background(), "ABC/BTC", "1", SideBuy); !errors.Is(err, ErrOrder) {
		t.Errorf("expected ErrOrder, got %v", err)
	}
	if len(venue.calls) != 1 {
		t.Errorf("non-retryable errors must not be retried, got %d calls", len(venue.calls))
	}
}

func TestClientLimitOrder(t *testing.T) {
	venue := &mockVenue{order: ccxt.Order{Id: ptr("ord-2")}}
	c := newTestClient(venue)

	handle, err := c.LimitOrder(context.Background(), "ABC/BTC", "1.23", "2.2", SideSell)
	if err != nil {
		t.Fatalf("LimitOrder returned error: %v", err)
	}
	if handle.ID != "ord-2" || handle.Kind != KindLimit {
		t.Errorf("unexpected handle: %+v", handle)
	}
	if venue.amounts[0] != 1.23 || venue.prices[0] != 2.2 {
		t.Errorf("unexpected amount/price: %v %v", venue.amounts, venue.prices)
	}
}

func TestClientOrderState(t *testing.T) {
	venue := &mockVenue{order: ccxt.Order{
		Id:      ptr("ord-3"),
		Price:   ptr(0.0),
		Average: ptr(2.5),
		Amount:  ptr(4.0),
		Filled:  ptr(3.9),
	}}
	c := newTestClient(venue)

	state, err := c.OrderState(context.Background(), "ord-3")
	if err != nil {
		t.Fatalf("OrderState returned error: %v", err)
	}
	if state.Price != 2.5 || state.Quantity != 3.9 {
		t.Errorf("unexpected state: %+v", state)
	}

	venue.order = ccxt.Order{Id: ptr("ord-4")}
	if _, err := c.OrderState(context.Background(), "ord-4"); !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse for empty order, got %v", err)
	}
}

func TestClientRoundToPrecision(t *testing.T) {
	c := newTestClient(&mockVenue{})

	got, err := c.RoundToPrecision("ABC/BTC", 1.23456, FieldPrice)
	if err != nil || got != "1.2345" {
		t.Errorf("price rounding = %q, %v; want 1.2345", got, err)
	}
	got, err = c.RoundToPrecision("ABC/BTC", 1.23456, FieldQuantity)
	if err != nil || got != "1.23" {
		t.Errorf("quantity rounding = %q, %v; want 1.23", got, err)
	}
	if _, err := c.RoundToPrecision("XYZ/BTC", 1, FieldPrice); !errors.Is(err, ErrQuery) {
		t.Errorf("expected ErrQuery for unknown symbol, got %v", err)
	}
}

func TestClientCancelOpenOrders(t *testing.T) {
	venue := &mockVenue{}
	c := newTestClient(venue)
	if err := c.CancelOpenOrders(context.Background(), "ABC/BTC"); err != nil {
		t.Fatalf("CancelOpenOrders returned error: %v", err)
	}
	if len(venue.calls) != 1 || venue.calls[0] != "CancelAllOrders" {
		t.Errorf("unexpected calls: %v", venue.calls)
	}
}

func TestCallWithRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := callWithRetry(ctx, config.RetryConfig{MaxAttempts: 5}, zapNop(), sleepContext, "op", func() error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no calls, got %d", calls)
	}
}

func TestCallWithRetry_MaintenanceIsNotRetried(t *testing.T) {
	calls := 0
	err := callWithRetry(context.Background(), config.RetryConfig{MaxAttempts: 5}, zapNop(), sleepContext, "op", func() error {
		calls++
		return &ccxt.Error{Type: ccxt.OnMaintenanceErrType, Message: "upgrading"}
	})
	if !errors.Is(err, ErrMaintenance) {
		t.Fatalf("expected ErrMaintenance, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected single attempt, got %d", calls)
	}
}
